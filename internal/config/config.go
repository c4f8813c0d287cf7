package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Data       DataConfig
	Logger     LoggerConfig
	Fetch      FetchConfig
	LLM        LLMConfig
	Enrichment EnrichmentConfig
	Scheduler  SchedulerConfig
	Admin      AdminConfig
}

type DataConfig struct {
	Dir       string `validate:"required"`
	StoreFile string `validate:"required"`
}

// StorePath returns the full path of the embedded store file.
func (d DataConfig) StorePath() string {
	return filepath.Join(d.Dir, d.StoreFile)
}

type LoggerConfig struct {
	Level string `validate:"oneof=trace debug info warn error"`
	File  string
}

type FetchConfig struct {
	Timeout     time.Duration `validate:"gt=0"`
	MaxRetries  int           `validate:"gte=0"`
	BackoffBase time.Duration `validate:"gt=0"`
	MinDelay    time.Duration `validate:"gte=0"`
	MaxDelay    time.Duration `validate:"gtefield=MinDelay"`
	BrowserWait time.Duration `validate:"gt=0"`
}

type LLMConfig struct {
	APIKey string
	Host   string
	Model  string `validate:"required"`
}

type EnrichmentConfig struct {
	BatchSize      int           `validate:"gt=0"`
	MaxRetries     int           `validate:"gte=0"`
	RateLimitDelay time.Duration `validate:"gte=0"`
}

type SchedulerConfig struct {
	RSSIntervalHours int    `validate:"gt=0"`
	WeeklyDay        string `validate:"oneof=monday tuesday wednesday thursday friday saturday sunday"`
	WeeklyTime       string `validate:"required"`
}

type AdminConfig struct {
	Port         int `validate:"gt=0"`
	Username     string
	PasswordHash string
	JWTSecret    string
}

// Load loads configuration from environment variables. A .env file in the
// working directory is honored when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Data: DataConfig{
			Dir:       detectDataDir(),
			StoreFile: getEnvString("EDU_CTI_STORE_FILE", "eduthreat.db"),
		},
		Logger: LoggerConfig{
			Level: getEnvString("EDU_CTI_LOG_LEVEL", "info"),
			File:  os.Getenv("EDU_CTI_LOG_FILE"),
		},
		Fetch: FetchConfig{
			Timeout:     getEnvDuration("EDU_CTI_HTTP_TIMEOUT", 30*time.Second),
			MaxRetries:  getEnvInt("EDU_CTI_HTTP_MAX_RETRIES", 4),
			BackoffBase: getEnvDuration("EDU_CTI_HTTP_BACKOFF_BASE", 1500*time.Millisecond),
			MinDelay:    getEnvDuration("EDU_CTI_HTTP_MIN_DELAY", 500*time.Millisecond),
			MaxDelay:    getEnvDuration("EDU_CTI_HTTP_MAX_DELAY", 2500*time.Millisecond),
			BrowserWait: getEnvDuration("EDU_CTI_BROWSER_WAIT", 15*time.Second),
		},
		LLM: LLMConfig{
			APIKey: os.Getenv("ANTHROPIC_API_KEY"),
			Host:   os.Getenv("EDU_CTI_LLM_HOST"),
			Model:  getEnvString("EDU_CTI_LLM_MODEL", "claude-3-5-haiku-latest"),
		},
		Enrichment: EnrichmentConfig{
			BatchSize:      getEnvInt("ENRICHMENT_BATCH_SIZE", 10),
			MaxRetries:     getEnvInt("ENRICHMENT_MAX_RETRIES", 2),
			RateLimitDelay: getEnvDuration("ENRICHMENT_RATE_LIMIT_DELAY", 2*time.Second),
		},
		Scheduler: SchedulerConfig{
			RSSIntervalHours: getEnvInt("EDU_CTI_RSS_INTERVAL_HOURS", 2),
			WeeklyDay:        getEnvString("EDU_CTI_WEEKLY_DAY", "sunday"),
			WeeklyTime:       getEnvString("EDU_CTI_WEEKLY_TIME", "02:00"),
		},
		Admin: AdminConfig{
			Port:         getEnvInt("EDU_CTI_ADMIN_PORT", 8080),
			Username:     getEnvString("EDU_CTI_ADMIN_USER", "admin"),
			PasswordHash: os.Getenv("EDU_CTI_ADMIN_PASSWORD_HASH"),
			JWTSecret:    os.Getenv("EDU_CTI_JWT_SECRET"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	if _, err := parseClockTime(c.Scheduler.WeeklyTime); err != nil {
		return fmt.Errorf("EDU_CTI_WEEKLY_TIME: %w", err)
	}

	return nil
}

// RequireLLM verifies the Phase 2 credentials are present.
func (c *Config) RequireLLM() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required for enrichment")
	}
	return nil
}

// detectDataDir picks the data directory: explicit override first, then the
// container volume mount when present and writable, then ./data.
func detectDataDir() string {
	if dir := os.Getenv("EDU_CTI_DATA_DIR"); dir != "" {
		_ = os.MkdirAll(dir, 0o755)
		return dir
	}

	containerData := "/app/data"
	if info, err := os.Stat(containerData); err == nil && info.IsDir() {
		if f, err := os.CreateTemp(containerData, ".probe-*"); err == nil {
			f.Close()
			os.Remove(f.Name())
			return containerData
		}
	}

	local := "data"
	_ = os.MkdirAll(local, 0o755)
	return local
}

func parseClockTime(s string) (time.Time, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected HH:MM, got %q", s)
	}
	return t, nil
}

func getEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		// Plain numbers are read as seconds for operator convenience.
		if secs, err := strconv.ParseFloat(val, 64); err == nil {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return defaultVal
}
