package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Logging     LoggingConfig   `toml:"logging"`
	Fetcher     FetcherConfig   `toml:"fetcher"`
	Browser     BrowserConfig   `toml:"browser"`
	Jobs        JobsConfig      `toml:"jobs"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
	Target      TargetConfig    `toml:"target"`
	Secrets     SecretsConfig   `toml:"secrets"`
	LLM         LLMConfig       `toml:"llm"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger  BadgerConfig  `toml:"badger"`
	Staging StagingConfig `toml:"staging"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// StagingConfig controls where staged rows are held between run and commit
type StagingConfig struct {
	Dir         string `toml:"dir"`          // Directory for file-backed payloads
	InlineLimit int    `toml:"inline_limit"` // Payloads up to this many bytes stay in the database
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05")
	FileName   string   `toml:"file_name"`   // Log file name under ./logs
}

// FetcherConfig holds defaults for page fetching. Web sources override per source.
type FetcherConfig struct {
	UserAgent      string      `toml:"user_agent"`
	RequestTimeout string      `toml:"request_timeout"` // e.g. "30s"
	RequestDelay   string      `toml:"request_delay"`   // Default delay between requests to one source
	MaxConcurrent  int         `toml:"max_concurrent"`  // Default in-flight cap per source
	MaxBodySize    int64       `toml:"max_body_size"`   // Bytes
	Retry          RetryConfig `toml:"retry"`
}

// RetryConfig controls bounded retries of retryable fetch failures
type RetryConfig struct {
	MaxAttempts       int     `toml:"max_attempts"`
	InitialBackoff    string  `toml:"initial_backoff"`
	MaxBackoff        string  `toml:"max_backoff"`
	BackoffMultiplier float64 `toml:"backoff_multiplier"`
}

// BrowserConfig controls headless rendering for the browser strategy
type BrowserConfig struct {
	Enabled            bool   `toml:"enabled"`
	Engine             string `toml:"engine"` // "chromedp" or "rod"
	PoolSize           int    `toml:"pool_size"`
	Headless           bool   `toml:"headless"`
	NoSandbox          bool   `toml:"no_sandbox"`
	JavaScriptWaitTime string `toml:"javascript_wait_time"`
	RemoteURL          string `toml:"remote_url"` // rod: connect to an existing Chrome instead of launching
	Stealth            bool   `toml:"stealth"`    // rod: apply go-rod/stealth to new pages
}

// JobsConfig controls job execution
type JobsConfig struct {
	MaxConcurrentJobs int `toml:"max_concurrent_jobs"`
	SampleMaxRows     int `toml:"sample_max_rows"`   // Default row cap for sample runs
	MaxPagesCeiling   int `toml:"max_pages_ceiling"` // Upper bound on pages per run, also used when an assignment sets no maxPages
	CommitBatchSize   int `toml:"commit_batch_size"` // Rows per InsertRows call
}

type SchedulerConfig struct {
	Enabled  bool   `toml:"enabled"`
	Timezone string `toml:"timezone"` // Reference timezone for cron expressions
}

// TargetConfig is the connection to the target relational database
type TargetConfig struct {
	Driver          string `toml:"driver"` // "postgres" or "sqlite"
	DSN             string `toml:"dsn"`
	Schema          string `toml:"schema"` // Default schema for discovery
	MaxOpenConns    int    `toml:"max_open_conns"`
	MaxIdleConns    int    `toml:"max_idle_conns"`
	ConnMaxLifetime string `toml:"conn_max_lifetime"`
}

// SecretsConfig points at the operator-managed credentials file
type SecretsConfig struct {
	File string `toml:"file"` // TOML file of [auth.<ref>] tables
}

type LLMConfig struct {
	Provider string       `toml:"provider"` // "claude", "gemini" or "" to disable
	Claude   ClaudeConfig `toml:"claude"`
	Gemini   GeminiConfig `toml:"gemini"`
}

type ClaudeConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	MaxTokens   int     `toml:"max_tokens"`
	Temperature float32 `toml:"temperature"`
	Timeout     string  `toml:"timeout"`
}

type GeminiConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	Temperature float32 `toml:"temperature"`
	Timeout     string  `toml:"timeout"`
}

// NewDefaultConfig returns the configuration used before any file is applied
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8085,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data/quarry",
			},
			Staging: StagingConfig{
				Dir:         "./data/staging",
				InlineLimit: 256 * 1024,
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05",
			FileName:   "quarry.log",
		},
		Fetcher: FetcherConfig{
			UserAgent:      "Quarry/1.0 (+https://github.com/ternarybob/quarry)",
			RequestTimeout: "30s",
			RequestDelay:   "1s",
			MaxConcurrent:  2,
			MaxBodySize:    10 * 1024 * 1024,
			Retry: RetryConfig{
				MaxAttempts:       3,
				InitialBackoff:    "1s",
				MaxBackoff:        "30s",
				BackoffMultiplier: 2.0,
			},
		},
		Browser: BrowserConfig{
			Enabled:            true,
			Engine:             "chromedp",
			PoolSize:           2,
			Headless:           true,
			NoSandbox:          true,
			JavaScriptWaitTime: "2s",
			Stealth:            true,
		},
		Jobs: JobsConfig{
			MaxConcurrentJobs: 4,
			SampleMaxRows:     5,
			MaxPagesCeiling:   100,
			CommitBatchSize:   500,
		},
		Scheduler: SchedulerConfig{
			Enabled:  true,
			Timezone: "UTC",
		},
		Target: TargetConfig{
			Driver:          "postgres",
			Schema:          "public",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: "30m",
		},
		Secrets: SecretsConfig{
			File: "./secrets.toml",
		},
		LLM: LLMConfig{
			Claude: ClaudeConfig{
				Model:       "claude-sonnet-4-5",
				MaxTokens:   8192,
				Temperature: 0.0,
				Timeout:     "2m",
			},
			Gemini: GeminiConfig{
				Model:       "gemini-2.5-flash",
				Temperature: 0.0,
				Timeout:     "2m",
			},
		},
	}
}

// LoadFromFiles loads configuration with priority: defaults -> file1 -> file2 -> ... -> env
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		// Later files override earlier ones
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// applyEnvOverrides applies QUARRY_* environment variables over file configuration
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("QUARRY_ENV"); env != "" {
		config.Environment = env
	}

	// Server
	if port := os.Getenv("QUARRY_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("QUARRY_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Storage
	if badgerPath := os.Getenv("QUARRY_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}
	if stagingDir := os.Getenv("QUARRY_STAGING_DIR"); stagingDir != "" {
		config.Storage.Staging.Dir = stagingDir
	}

	// Logging
	if level := os.Getenv("QUARRY_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("QUARRY_LOG_OUTPUT"); output != "" {
		config.Logging.Output = splitString(output, ",")
	}

	// Fetcher
	if userAgent := os.Getenv("QUARRY_FETCHER_USER_AGENT"); userAgent != "" {
		config.Fetcher.UserAgent = userAgent
	}
	if timeout := os.Getenv("QUARRY_FETCHER_REQUEST_TIMEOUT"); timeout != "" {
		config.Fetcher.RequestTimeout = timeout
	}
	if delay := os.Getenv("QUARRY_FETCHER_REQUEST_DELAY"); delay != "" {
		config.Fetcher.RequestDelay = delay
	}
	if maxConcurrent := os.Getenv("QUARRY_FETCHER_MAX_CONCURRENT"); maxConcurrent != "" {
		if n, err := strconv.Atoi(maxConcurrent); err == nil {
			config.Fetcher.MaxConcurrent = n
		}
	}

	// Browser
	if enabled := os.Getenv("QUARRY_BROWSER_ENABLED"); enabled != "" {
		if b, err := strconv.ParseBool(enabled); err == nil {
			config.Browser.Enabled = b
		}
	}
	if engine := os.Getenv("QUARRY_BROWSER_ENGINE"); engine != "" {
		config.Browser.Engine = engine
	}
	if remoteURL := os.Getenv("QUARRY_BROWSER_REMOTE_URL"); remoteURL != "" {
		config.Browser.RemoteURL = remoteURL
	}

	// Jobs
	if maxJobs := os.Getenv("QUARRY_JOBS_MAX_CONCURRENT"); maxJobs != "" {
		if n, err := strconv.Atoi(maxJobs); err == nil {
			config.Jobs.MaxConcurrentJobs = n
		}
	}

	// Scheduler
	if enabled := os.Getenv("QUARRY_SCHEDULER_ENABLED"); enabled != "" {
		if b, err := strconv.ParseBool(enabled); err == nil {
			config.Scheduler.Enabled = b
		}
	}
	if tz := os.Getenv("QUARRY_SCHEDULER_TIMEZONE"); tz != "" {
		config.Scheduler.Timezone = tz
	}

	// Target database
	if driver := os.Getenv("QUARRY_TARGET_DRIVER"); driver != "" {
		config.Target.Driver = driver
	}
	if dsn := os.Getenv("QUARRY_TARGET_DSN"); dsn != "" {
		config.Target.DSN = dsn
	} else if dsn := os.Getenv("DATABASE_URL"); dsn != "" && config.Target.DSN == "" {
		config.Target.DSN = dsn
	}
	if schema := os.Getenv("QUARRY_TARGET_SCHEMA"); schema != "" {
		config.Target.Schema = schema
	}

	// Secrets
	if secretsFile := os.Getenv("QUARRY_SECRETS_FILE"); secretsFile != "" {
		config.Secrets.File = secretsFile
	}

	// LLM
	if provider := os.Getenv("QUARRY_LLM_PROVIDER"); provider != "" {
		config.LLM.Provider = provider
	}
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		config.LLM.Claude.APIKey = apiKey
	}
	if apiKey := os.Getenv("QUARRY_CLAUDE_API_KEY"); apiKey != "" {
		config.LLM.Claude.APIKey = apiKey
	}
	if model := os.Getenv("QUARRY_CLAUDE_MODEL"); model != "" {
		config.LLM.Claude.Model = model
	}
	if apiKey := os.Getenv("GOOGLE_API_KEY"); apiKey != "" {
		config.LLM.Gemini.APIKey = apiKey
	}
	if apiKey := os.Getenv("QUARRY_GEMINI_API_KEY"); apiKey != "" {
		config.LLM.Gemini.APIKey = apiKey
	}
	if model := os.Getenv("QUARRY_GEMINI_MODEL"); model != "" {
		config.LLM.Gemini.Model = model
	}
}

// ApplyFlagOverrides applies command-line flags, which have highest priority
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks values that would otherwise fail later at runtime
func (c *Config) Validate() error {
	for name, value := range map[string]string{
		"fetcher.request_timeout":       c.Fetcher.RequestTimeout,
		"fetcher.request_delay":         c.Fetcher.RequestDelay,
		"fetcher.retry.initial_backoff": c.Fetcher.Retry.InitialBackoff,
		"fetcher.retry.max_backoff":     c.Fetcher.Retry.MaxBackoff,
		"browser.javascript_wait_time":  c.Browser.JavaScriptWaitTime,
		"target.conn_max_lifetime":      c.Target.ConnMaxLifetime,
		"llm.claude.timeout":            c.LLM.Claude.Timeout,
		"llm.gemini.timeout":            c.LLM.Gemini.Timeout,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", name, err)
		}
	}

	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("invalid scheduler.timezone %q: %w", c.Scheduler.Timezone, err)
	}

	switch c.Browser.Engine {
	case "chromedp", "rod":
	default:
		return fmt.Errorf("invalid browser.engine %q (expected chromedp or rod)", c.Browser.Engine)
	}

	switch c.Target.Driver {
	case "postgres", "sqlite", "":
	default:
		return fmt.Errorf("invalid target.driver %q (expected postgres or sqlite)", c.Target.Driver)
	}

	switch c.LLM.Provider {
	case "", "claude", "gemini":
	default:
		return fmt.Errorf("invalid llm.provider %q (expected claude or gemini)", c.LLM.Provider)
	}

	if c.Jobs.SampleMaxRows <= 0 {
		c.Jobs.SampleMaxRows = 5
	}
	if c.Jobs.MaxPagesCeiling <= 0 {
		c.Jobs.MaxPagesCeiling = 100
	}
	return nil
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	return strings.ToLower(c.Environment) == "production"
}

// ParseDuration parses a configured duration, returning fallback when empty or invalid
func ParseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// Location returns the scheduler reference timezone
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// cronParser accepts standard five-field expressions and descriptors such as @daily
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseCronExpression parses a five-field cron expression
func ParseCronExpression(expr string) (cron.Schedule, error) {
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule, nil
}

// ValidateCronExpression checks a cron expression for an assignment schedule.
// Every-minute schedules are rejected; the minimum interval is 5 minutes.
func ValidateCronExpression(expr string) error {
	if _, err := ParseCronExpression(expr); err != nil {
		return err
	}
	if strings.HasPrefix(expr, "@") {
		if strings.HasPrefix(expr, "@every ") {
			d, err := time.ParseDuration(strings.TrimPrefix(expr, "@every "))
			if err == nil && d < 5*time.Minute {
				return fmt.Errorf("schedule interval must be at least 5 minutes, got %s", d)
			}
		}
		return nil
	}

	minuteField := strings.Fields(expr)[0]
	if minuteField == "*" {
		return fmt.Errorf("schedule must have minimum 5-minute interval (every minute is not allowed)")
	}
	if strings.HasPrefix(minuteField, "*/") {
		interval, err := strconv.Atoi(strings.TrimPrefix(minuteField, "*/"))
		if err == nil && interval < 5 {
			return fmt.Errorf("schedule interval must be at least 5 minutes, got %d", interval)
		}
	}
	return nil
}

func splitString(s, sep string) []string {
	var result []string
	for _, part := range strings.Split(s, sep) {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
