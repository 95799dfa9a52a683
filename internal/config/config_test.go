package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"APP_ENV", "PORT", "RUN_LOCAL", "STORE_BACKEND", "CARTS_TABLE", "NOTIFY_RETRY_MINUTES", "WEBHOOK_QUEUE_URL"} {
		t.Setenv(k, "")
	}

	cfg := Load()

	assert.Equal(t, "dev", cfg.AppEnv)
	assert.Equal(t, "8080", cfg.Port)
	assert.False(t, cfg.RunLocal)
	assert.Equal(t, BackendDynamoDB, cfg.StoreBackend)
	assert.Equal(t, "carts", cfg.CartsTable)
	assert.Equal(t, 30*time.Minute, cfg.NotifyRetryInterval)
	assert.Empty(t, cfg.WebhookQueueURL)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("RUN_LOCAL", "true")
	t.Setenv("STORE_BACKEND", "MEMORY")
	t.Setenv("NOTIFY_RETRY_MINUTES", "5")
	t.Setenv("IDEMPOTENCY_TTL_HOURS", "not-a-number")

	cfg := Load()

	assert.True(t, cfg.RunLocal)
	assert.Equal(t, BackendMemory, cfg.StoreBackend)
	assert.Equal(t, 5*time.Minute, cfg.NotifyRetryInterval)
	assert.Equal(t, 48*time.Hour, cfg.IdempotencyTTL)
}
