package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ramiqadoumi/go-task-kernel/internal/domain"
	"github.com/ramiqadoumi/go-task-kernel/internal/kernel"
)

const defaultSnapshotTTL = time.Minute

func snapshotKey(kernelID string, taskID int) string {
	return "tcb:" + kernelID + ":" + strconv.Itoa(taskID)
}

// CachedTask is a task view as last exported by a kernel.
type CachedTask struct {
	kernel.TaskView
	KernelID   string    `json:"kernel_id"`
	ExportedAt time.Time `json:"exported_at"`
}

// SnapshotStore caches the latest view of every live task so it can still be
// inspected after the task has been reaped or the kernel is unreachable.
type SnapshotStore interface {
	SetSnapshot(ctx context.Context, kernelID string, view kernel.TaskView) error
	GetSnapshot(ctx context.Context, kernelID string, taskID int) (*CachedTask, error)
	Delete(ctx context.Context, kernelID string, taskID int) error
}

type snapshotStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSnapshotStore creates a Redis-backed SnapshotStore. Entries expire after
// ttl; zero uses one minute.
func NewSnapshotStore(client *redis.Client, ttl time.Duration) SnapshotStore {
	if ttl <= 0 {
		ttl = defaultSnapshotTTL
	}
	return &snapshotStore{client: client, ttl: ttl}
}

// NewClient creates and returns a new Redis client.
func NewClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
		PoolSize:     10,
	})
}

func (s *snapshotStore) SetSnapshot(ctx context.Context, kernelID string, view kernel.TaskView) error {
	data, err := json.Marshal(CachedTask{TaskView: view, KernelID: kernelID, ExportedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := s.client.Set(ctx, snapshotKey(kernelID, view.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set snapshot for task %d: %w", view.ID, err)
	}
	return nil
}

func (s *snapshotStore) GetSnapshot(ctx context.Context, kernelID string, taskID int) (*CachedTask, error) {
	data, err := s.client.Get(ctx, snapshotKey(kernelID, taskID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, &domain.TaskNotFoundError{TaskID: taskID}
		}
		return nil, fmt.Errorf("redis get snapshot for task %d: %w", taskID, err)
	}
	var cached CachedTask
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &cached, nil
}

func (s *snapshotStore) Delete(ctx context.Context, kernelID string, taskID int) error {
	if err := s.client.Del(ctx, snapshotKey(kernelID, taskID)).Err(); err != nil {
		return fmt.Errorf("redis delete snapshot for task %d: %w", taskID, err)
	}
	return nil
}
