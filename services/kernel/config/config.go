package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds typed configuration for the kernel service.
type Config struct {
	LogLevel          string
	KernelID          string
	Capacity          int
	StrictTransitions bool
	AutoReap          bool
	IdleInterval      time.Duration
	Manifest          string
	HTTPAddr          string
	GRPCAddr          string
	MetricsAddr       string
	KafkaBrokers      string
	LifecycleTopic    string
	RedisAddr         string
	SnapshotTTL       time.Duration
	ExportSchedule    string
	RateLimit         int
	RateWindow        time.Duration
	OTelEndpoint      string
	TraceSampleRatio  float64
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) Config {
	return Config{
		LogLevel:          v.GetString("log_level"),
		KernelID:          v.GetString("kernel_id"),
		Capacity:          v.GetInt("capacity"),
		StrictTransitions: v.GetBool("strict_transitions"),
		AutoReap:          v.GetBool("auto_reap"),
		IdleInterval:      v.GetDuration("idle_interval"),
		Manifest:          v.GetString("manifest"),
		HTTPAddr:          v.GetString("http_addr"),
		GRPCAddr:          v.GetString("grpc_addr"),
		MetricsAddr:       v.GetString("metrics_addr"),
		KafkaBrokers:      v.GetString("kafka_brokers"),
		LifecycleTopic:    v.GetString("lifecycle_topic"),
		RedisAddr:         v.GetString("redis_addr"),
		SnapshotTTL:       v.GetDuration("snapshot_ttl"),
		ExportSchedule:    v.GetString("export_schedule"),
		RateLimit:         v.GetInt("rate_limit"),
		RateWindow:        v.GetDuration("rate_window"),
		OTelEndpoint:      v.GetString("otel_endpoint"),
		TraceSampleRatio:  v.GetFloat64("trace_sample_ratio"),
	}
}

// Brokers splits KafkaBrokers; nil means event publishing is off.
func (c Config) Brokers() []string {
	var out []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
