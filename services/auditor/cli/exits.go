package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ramiqadoumi/go-task-kernel/internal/postgres"
)

var exitsCmd = &cobra.Command{
	Use:   "exits [event-id]",
	Short: "Show recorded task exits",
	Long: `Print recorded exits as JSON.

With an event id, print that single record. Otherwise list the most recent
exits of the kernel named by --kernel-id.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runExits,
}

func init() {
	exitsCmd.Flags().String("kernel-id", "", "kernel whose exits to list")
	exitsCmd.Flags().Int("limit", 20, "maximum rows to list")
}

func runExits(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := postgres.NewPool(ctx, viper.GetString("postgres_dsn"))
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	repo := postgres.NewExitRepository(pool)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")

	if len(args) == 1 {
		rec, err := repo.GetExit(ctx, args[0])
		if err != nil {
			return err
		}
		return enc.Encode(rec)
	}

	kernelID, _ := cmd.Flags().GetString("kernel-id")
	if kernelID == "" {
		return fmt.Errorf("--kernel-id is required when no event id is given")
	}
	limit, _ := cmd.Flags().GetInt("limit")
	recs, err := repo.ListExits(ctx, kernelID, limit)
	if err != nil {
		return err
	}
	return enc.Encode(recs)
}
