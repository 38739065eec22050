package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ramiqadoumi/go-task-kernel/internal/domain"
	"github.com/ramiqadoumi/go-task-kernel/internal/postgres/migrations"
)

// ExitNotFoundError is returned when no exit row matches the id.
type ExitNotFoundError struct {
	ID string
}

func (e *ExitNotFoundError) Error() string {
	return fmt.Sprintf("exit record %q not found", e.ID)
}

// ExitRepository stores the final accounting of exited tasks.
type ExitRepository interface {
	// RecordExit inserts rec. It reports false when a row with the same id
	// already exists, so redelivered events are harmless.
	RecordExit(ctx context.Context, rec *domain.ExitRecord) (bool, error)
	GetExit(ctx context.Context, id string) (*domain.ExitRecord, error)
	ListExits(ctx context.Context, kernelID string, limit int) ([]*domain.ExitRecord, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewExitRepository wraps a pgxpool with the ExitRepository interface.
func NewExitRepository(pool *pgxpool.Pool) ExitRepository {
	return &repository{pool: pool}
}

// NewPool creates a pgxpool and verifies connectivity.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return pool, nil
}

// Migrate applies every embedded migration in order and returns the names applied.
// The statements are idempotent, so running it twice is safe.
func Migrate(ctx context.Context, pool *pgxpool.Pool) ([]string, error) {
	names, err := fs.Glob(migrations.FS, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(names)
	for _, name := range names {
		sql, err := migrations.FS.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := pool.Exec(ctx, string(sql)); err != nil {
			return nil, fmt.Errorf("execute migration %s: %w", name, err)
		}
	}
	return names, nil
}

func (r *repository) RecordExit(ctx context.Context, rec *domain.ExitRecord) (bool, error) {
	snap, err := json.Marshal(rec.Snapshot)
	if err != nil {
		return false, fmt.Errorf("marshal snapshot: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO task_exits
			(id, kernel_id, task_id, name, exit_code, elapsed_ms, started, total_syscalls, snapshot, exited_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`,
		rec.ID, rec.KernelID, rec.TaskID, rec.Name, rec.ExitCode,
		int64(rec.Snapshot.ElapsedMillis()), rec.Snapshot.Started(),
		int64(rec.Snapshot.TotalSyscalls()), snap, rec.ExitedAt,
	)
	if err != nil {
		return false, fmt.Errorf("record exit %s: %w", rec.ID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repository) GetExit(ctx context.Context, id string) (*domain.ExitRecord, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, kernel_id, task_id, name, exit_code, snapshot, exited_at
		FROM task_exits
		WHERE id = $1
	`, id)

	rec, err := scanExit(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ExitNotFoundError{ID: id}
	}
	return rec, err
}

func (r *repository) ListExits(ctx context.Context, kernelID string, limit int) ([]*domain.ExitRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, kernel_id, task_id, name, exit_code, snapshot, exited_at
		FROM task_exits
		WHERE kernel_id = $1
		ORDER BY exited_at DESC
		LIMIT $2
	`, kernelID, limit)
	if err != nil {
		return nil, fmt.Errorf("list exits for kernel %s: %w", kernelID, err)
	}
	defer rows.Close()

	var out []*domain.ExitRecord
	for rows.Next() {
		rec, err := scanExit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// scanExit reads an exit row from any pgx row type.
func scanExit(row interface {
	Scan(...any) error
}) (*domain.ExitRecord, error) {
	var rec domain.ExitRecord
	var snap []byte
	err := row.Scan(&rec.ID, &rec.KernelID, &rec.TaskID, &rec.Name, &rec.ExitCode, &snap, &rec.ExitedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan exit: %w", err)
	}
	if err := json.Unmarshal(snap, &rec.Snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot for %s: %w", rec.ID, err)
	}
	return &rec, nil
}
