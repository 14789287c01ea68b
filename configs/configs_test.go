package configs

import (
	"testing"
	"time"
)

func TestAppLoadDefaults(t *testing.T) {
	cfg := AppLoad()

	if cfg.CBOE.Timeout != 30*time.Second {
		t.Errorf("Expected CBOE timeout 30s, got %v", cfg.CBOE.Timeout)
	}
	if cfg.Scheduler.BatchSize != 5 {
		t.Errorf("Expected default batch size 5, got %d", cfg.Scheduler.BatchSize)
	}
	if cfg.Scheduler.RefillSchedule != "never" {
		t.Errorf("Expected default schedule 'never', got '%s'", cfg.Scheduler.RefillSchedule)
	}
	if cfg.Cleaner.FreshnessWindow != 24*time.Hour {
		t.Errorf("Expected freshness window 24h, got %v", cfg.Cleaner.FreshnessWindow)
	}
}

func TestAppLoadOverrides(t *testing.T) {
	t.Setenv("BUFFER_BATCH_SIZE", "12")
	t.Setenv("DRAIN_DELAY", "90s")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("POSTGRES_DSN", "postgres://u:p@db:5432/x")

	cfg := AppLoad()

	if cfg.Scheduler.BatchSize != 12 {
		t.Errorf("Expected batch size 12, got %d", cfg.Scheduler.BatchSize)
	}
	if cfg.Scheduler.DrainDelay != 90*time.Second {
		t.Errorf("Expected drain delay 90s, got %v", cfg.Scheduler.DrainDelay)
	}
	if !cfg.Kafka.Enabled {
		t.Error("Expected Kafka to be enabled")
	}
	if cfg.Storage.PostgresDSN != "postgres://u:p@db:5432/x" {
		t.Errorf("Expected explicit DSN, got '%s'", cfg.Storage.PostgresDSN)
	}
}

func TestAppLoadRejectsOutOfRangeBatchSize(t *testing.T) {
	for _, v := range []string{"0", "51", "abc"} {
		t.Run(v, func(t *testing.T) {
			t.Setenv("BUFFER_BATCH_SIZE", v)
			if got := AppLoad().Scheduler.BatchSize; got != 5 {
				t.Errorf("Expected fallback batch size 5, got %d", got)
			}
		})
	}
}
