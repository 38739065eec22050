package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

const defaultKernelYAML = `# go-task-kernel: kernel config
# Priority: CLI flag > env (TASKKERNEL_*) > this file > default.

log_level: "info"          # debug | info | warn | error
# kernel_id: "kernel-a"    # default: random "kernel-xxxxxxxx"

capacity:           64
strict_transitions: false
auto_reap:          false
idle_interval:      "50ms"
# manifest: "workload.yaml" # tasks spawned at startup

http_addr:    ":8080"
grpc_addr:    ":9090"  # gRPC health + reflection; empty disables
metrics_addr: ":9096"

# Lifecycle events. Leave kafka_brokers empty to disable publishing.
kafka_brokers:   "localhost:9092"
lifecycle_topic: "tasks.lifecycle"

# Snapshot cache and API rate limiting. Leave redis_addr empty to disable.
redis_addr:      "localhost:6379"
snapshot_ttl:    "10m"
export_schedule: "@every 5s"
rate_limit:      100
rate_window:     "1s"

# otel_endpoint: "localhost:4318"  # uncomment to enable OpenTelemetry tracing
# trace_sample_ratio: 0.1
`

func newInitCmd(serviceName, defaultYAML string) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Long: fmt.Sprintf(`Write default configuration for %s.

If --config is given the file is written to that path.
Otherwise it is written to ~/.go-task-kernel/%s.yaml.
Fails if the file already exists unless --force is passed.`, serviceName, serviceName),
		RunE: func(cmd *cobra.Command, _ []string) error {
			dest := cfgFile
			if dest == "" {
				home, err := os.UserHomeDir()
				if err != nil {
					return fmt.Errorf("home dir: %w", err)
				}
				dest = filepath.Join(home, ".go-task-kernel", serviceName+".yaml")
			}
			return writeDefaultConfig(cmd, dest, defaultYAML, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing config file")
	return cmd
}

func writeDefaultConfig(cmd *cobra.Command, dest, content string, force bool) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	if !force {
		if _, err := os.Stat(dest); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", dest)
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("stat %s: %w", dest, err)
		}
	}
	if err := os.WriteFile(dest, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "config written to %s\n", dest)
	return nil
}
