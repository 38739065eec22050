package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestLoad(t *testing.T) {
	v := viper.New()
	v.Set("group_id", "audit")
	v.Set("max_retries", 5)
	v.Set("migrate_on_start", true)
	v.Set("kafka_brokers", " k1:9092 ,,k2:9092")

	cfg := Load(v)
	assert.Equal(t, "audit", cfg.GroupID)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.True(t, cfg.MigrateOnStart)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Brokers())
}

func TestBrokers_Empty(t *testing.T) {
	assert.Nil(t, Config{}.Brokers())
}
