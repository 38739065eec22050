package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ramiqadoumi/go-task-kernel/internal/clock"
	"github.com/ramiqadoumi/go-task-kernel/internal/kernel"
	"github.com/ramiqadoumi/go-task-kernel/internal/syscalls"
	"github.com/ramiqadoumi/go-task-kernel/internal/workload"
	"github.com/ramiqadoumi/go-task-kernel/services/kernel/config"
)

var runCmd = &cobra.Command{
	Use:   "run <manifest.yaml>",
	Short: "Run a workload manifest to completion and print every task's snapshot",
	Long: `Load the tasks of a workload manifest, schedule them round robin until none
is Ready, then print one JSON document with the final view of each task.

Output written by tasks through the write syscall goes to stderr.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().Bool("discard-output", false, "drop bytes tasks write instead of copying them to stderr")
}

// RunReport is the document printed by `kernel run`.
type RunReport struct {
	KernelID string            `json:"kernel_id"`
	Tasks    []kernel.TaskView `json:"tasks"`
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg := config.Load(viper.GetViper())
	logger := buildLogger(cfg.LogLevel, "kernel").With("mode", "run")

	m, err := workload.Load(args[0])
	if err != nil {
		return err
	}

	var out io.Writer = os.Stderr
	if discard, _ := cmd.Flags().GetBool("discard-output"); discard {
		out = io.Discard
	}

	clk := clock.NewBoot()
	table := kernel.NewTable(cfg.Capacity, clk)
	if _, err := m.SpawnAll(table); err != nil {
		return err
	}

	dispatcher := syscalls.NewDispatcher(syscalls.NewDefaultRegistry(out, clk), logger)
	opts := []kernel.Option{
		kernel.WithLogger(logger),
		kernel.WithStrictTransitions(cfg.StrictTransitions),
		kernel.WithObserver(kernel.LogObserver{Logger: logger}),
	}
	if cfg.KernelID != "" {
		opts = append(opts, kernel.WithKernelID(cfg.KernelID))
	}
	sched := kernel.NewScheduler(table, dispatcher, opts...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := sched.RunUntilIdle(ctx); err != nil {
		return fmt.Errorf("run workload: %w", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(RunReport{KernelID: sched.KernelID(), Tasks: table.List()})
}
