// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/aristath/gapfill/internal/utils"
	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"github.com/robfig/cron/v3"
)

// Config holds application configuration
type Config struct {
	DataDir    string // Base directory for the database and state files (always absolute)
	LogLevel   string
	LogPretty  bool // Console output; defaults to on only when stdout is a terminal
	StatusPort int // Inspection HTTP port, 0 disables the server

	FMPAPIKey      string
	FMPBaseURL     string
	FMPDailyLimit  int
	YahooBaseURL   string
	YahooCookieURL string
	Symbols        []string

	DailyRefreshSchedule string
	HealthCheckSchedule  string
	CatchUpSchedule      string
	CatchUpItemDelay     time.Duration
	CatchUpRetryLimit    int
	PollInterval         time.Duration
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("GAPFILL_DATA_DIR", "data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:    absDataDir,
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		LogPretty:  getEnvAsBool("LOG_PRETTY", isatty.IsTerminal(os.Stdout.Fd())),
		StatusPort: getEnvAsInt("STATUS_PORT", 0),

		FMPAPIKey:      getEnv("FMP_API_KEY", ""),
		FMPBaseURL:     getEnv("FMP_BASE_URL", "https://financialmodelingprep.com/api/v3"),
		FMPDailyLimit:  getEnvAsInt("FMP_DAILY_LIMIT", 250),
		YahooBaseURL:   getEnv("YAHOO_BASE_URL", "https://query2.finance.yahoo.com"),
		YahooCookieURL: getEnv("YAHOO_COOKIE_URL", "https://fc.yahoo.com"),
		Symbols:        utils.ParseSymbols(getEnv("SYMBOLS", "")),

		DailyRefreshSchedule: getEnv("DAILY_REFRESH_SCHEDULE", "0 18 * * *"),
		HealthCheckSchedule:  getEnv("HEALTH_CHECK_SCHEDULE", "0 */4 * * *"),
		CatchUpSchedule:      getEnv("CATCHUP_SCHEDULE", "0 * * * *"),
		CatchUpItemDelay:     getEnvAsDuration("CATCHUP_ITEM_DELAY", 2*time.Second),
		CatchUpRetryLimit:    getEnvAsInt("CATCHUP_RETRY_LIMIT", 50),
		PollInterval:         getEnvAsDuration("SCHEDULER_POLL_INTERVAL", 30*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.FMPDailyLimit <= 0 {
		return fmt.Errorf("FMP_DAILY_LIMIT must be positive, got %d", c.FMPDailyLimit)
	}
	if c.CatchUpRetryLimit <= 0 {
		return fmt.Errorf("CATCHUP_RETRY_LIMIT must be positive, got %d", c.CatchUpRetryLimit)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("SCHEDULER_POLL_INTERVAL must be positive, got %s", c.PollInterval)
	}
	if c.CatchUpItemDelay < 0 {
		return fmt.Errorf("CATCHUP_ITEM_DELAY cannot be negative, got %s", c.CatchUpItemDelay)
	}

	// Note: FMP_API_KEY is optional, without it every request goes to the fallback provider
	schedules := map[string]string{
		"DAILY_REFRESH_SCHEDULE": c.DailyRefreshSchedule,
		"HEALTH_CHECK_SCHEDULE":  c.HealthCheckSchedule,
		"CATCHUP_SCHEDULE":       c.CatchUpSchedule,
	}
	for key, spec := range schedules {
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, spec, err)
		}
	}

	return nil
}

// DatabasePath is the SQLite file holding the gap ledger and market data.
func (c *Config) DatabasePath() string { return filepath.Join(c.DataDir, "market.db") }

// UsagePath is the JSON file holding per-day primary provider usage.
func (c *Config) UsagePath() string { return filepath.Join(c.DataDir, "api_usage.json") }

// RateLimitPath is the JSON file holding rate-limit cooldown entries.
func (c *Config) RateLimitPath() string { return filepath.Join(c.DataDir, "rate_limits.json") }

// RequestLogPath is the rolling JSON audit log of primary provider requests.
func (c *Config) RequestLogPath() string { return filepath.Join(c.DataDir, "request_log.json") }

// StatusPath is the JSON status file read by inspection tooling.
func (c *Config) StatusPath() string { return filepath.Join(c.DataDir, "scheduler_status.json") }

// PIDPath is the liveness file written by the running scheduler.
func (c *Config) PIDPath() string { return filepath.Join(c.DataDir, "gapfill.pid") }

// LogPath is where a daemonized scheduler writes its output.
func (c *Config) LogPath() string { return filepath.Join(c.DataDir, "gapfill.log") }

// HasPrimaryCredential reports whether the metered provider can be used at all.
func (c *Config) HasPrimaryCredential() bool { return c.FMPAPIKey != "" }

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
