package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config holds typed configuration for the auditor service.
type Config struct {
	LogLevel       string
	AuditorID      string
	KafkaBrokers   string
	LifecycleTopic string
	GroupID        string
	PostgresDSN    string
	MaxRetries     int
	MigrateOnStart bool
	MetricsAddr    string
	OTelEndpoint   string
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) Config {
	return Config{
		LogLevel:       v.GetString("log_level"),
		AuditorID:      v.GetString("auditor_id"),
		KafkaBrokers:   v.GetString("kafka_brokers"),
		LifecycleTopic: v.GetString("lifecycle_topic"),
		GroupID:        v.GetString("group_id"),
		PostgresDSN:    v.GetString("postgres_dsn"),
		MaxRetries:     v.GetInt("max_retries"),
		MigrateOnStart: v.GetBool("migrate_on_start"),
		MetricsAddr:    v.GetString("metrics_addr"),
		OTelEndpoint:   v.GetString("otel_endpoint"),
	}
}

// Brokers splits KafkaBrokers.
func (c Config) Brokers() []string {
	var out []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
