package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("EDU_CTI_DATA_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "eduthreat.db", cfg.Data.StoreFile)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, 30*time.Second, cfg.Fetch.Timeout)
	assert.Equal(t, 4, cfg.Fetch.MaxRetries)
	assert.Equal(t, 10, cfg.Enrichment.BatchSize)
	assert.Equal(t, 2, cfg.Scheduler.RSSIntervalHours)
	assert.Equal(t, "sunday", cfg.Scheduler.WeeklyDay)
	assert.Equal(t, "02:00", cfg.Scheduler.WeeklyTime)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("EDU_CTI_DATA_DIR", t.TempDir())
	t.Setenv("EDU_CTI_STORE_FILE", "test.db")
	t.Setenv("EDU_CTI_LOG_LEVEL", "debug")
	t.Setenv("ENRICHMENT_BATCH_SIZE", "25")
	t.Setenv("ENRICHMENT_RATE_LIMIT_DELAY", "1.5")
	t.Setenv("EDU_CTI_RSS_INTERVAL_HOURS", "6")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "test.db", cfg.Data.StoreFile)
	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, 25, cfg.Enrichment.BatchSize)
	assert.Equal(t, 1500*time.Millisecond, cfg.Enrichment.RateLimitDelay)
	assert.Equal(t, 6, cfg.Scheduler.RSSIntervalHours)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("EDU_CTI_DATA_DIR", t.TempDir())
	t.Setenv("EDU_CTI_LOG_LEVEL", "verbose")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsBadWeeklyTime(t *testing.T) {
	t.Setenv("EDU_CTI_DATA_DIR", t.TempDir())
	t.Setenv("EDU_CTI_WEEKLY_TIME", "2am")

	_, err := Load()
	assert.Error(t, err)
}

func TestRequireLLM(t *testing.T) {
	t.Setenv("EDU_CTI_DATA_DIR", t.TempDir())
	t.Setenv("ANTHROPIC_API_KEY", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Error(t, cfg.RequireLLM())

	cfg.LLM.APIKey = "sk-ant-test"
	assert.NoError(t, cfg.RequireLLM())
}

func TestStorePath(t *testing.T) {
	d := DataConfig{Dir: "/var/data", StoreFile: "x.db"}
	assert.Equal(t, "/var/data/x.db", d.StorePath())
}
