package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	cfg := Load()

	assert.Equal(t, "3000", cfg.AppPort)
	assert.False(t, cfg.Queue.Disabled)
	assert.Equal(t, 3, cfg.Queue.MaxAttempts)
	assert.Equal(t, 60*time.Second, cfg.Queue.BackoffDelay)
	assert.Equal(t, 5, cfg.Worker.Concurrency)
	assert.Equal(t, 30*time.Second, cfg.Worker.StalledInterval)
	assert.Equal(t, "reminders", cfg.DynamoTables.Reminders)
}

func TestLoad_TestEnvDisablesQueue(t *testing.T) {
	t.Setenv("APP_ENV", "test")
	assert.True(t, Load().Queue.Disabled)
}

func TestLoad_QueueDisabledFlag(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("QUEUE_DISABLED", "true")
	assert.True(t, Load().Queue.Disabled)
}

func TestGetEnvDuration_AcceptsSecondsAndDurations(t *testing.T) {
	t.Setenv("X_DUR_A", "90")
	t.Setenv("X_DUR_B", "1m30s")
	t.Setenv("X_DUR_C", "nonsense")

	assert.Equal(t, 90*time.Second, getEnvDuration("X_DUR_A", time.Second))
	assert.Equal(t, 90*time.Second, getEnvDuration("X_DUR_B", time.Second))
	assert.Equal(t, time.Second, getEnvDuration("X_DUR_C", time.Second))
}
