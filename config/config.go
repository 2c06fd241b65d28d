package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration. Values come from defaults,
// an optional YAML file, then MODUL8R_* environment overrides, in that order.
type Config struct {
	// OpenAI
	OpenAIAPIKey  string        `yaml:"openai_api_key"`
	OpenAIBaseURL string        `yaml:"openai_base_url"`
	DefaultModel  string        `yaml:"openai_default_model"`
	MaxTokens     int           `yaml:"openai_max_tokens"`
	Temperature   float64       `yaml:"openai_temperature"`
	OpenAITimeout time.Duration `yaml:"openai_timeout"`

	// Concurrency
	MaxConcurrentRequests int           `yaml:"max_concurrent_requests"`
	JobTimeout            time.Duration `yaml:"job_timeout"`

	// Retry
	RetryMaxAttempts int           `yaml:"retry_max_attempts"`
	RetryBaseDelay   time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay    time.Duration `yaml:"retry_max_delay"`

	// PDF rasterization
	PDFDPI int `yaml:"pdf_dpi"`

	// Result assembly
	IncludeFailedPages bool `yaml:"include_failed_pages"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddr string `yaml:"server_addr"`

	// Broadcast throttling
	ThrottleBatchInterval time.Duration `yaml:"throttle_batch_interval"`
	ThrottleMaxBatchSize  int           `yaml:"throttle_max_batch_size"`
	SubscriberQueueSize   int           `yaml:"subscriber_queue_size"`

	// Circuit breaker
	BreakerThreshold    float64       `yaml:"breaker_threshold"` // events/sec
	BreakerWindow       time.Duration `yaml:"breaker_window"`
	BreakerRecoveryTime time.Duration `yaml:"breaker_recovery_time"`

	// Event buffer
	BufferMaxEntries      int           `yaml:"buffer_max_entries"`
	BufferMaxAge          time.Duration `yaml:"buffer_max_age"`
	BufferCleanupInterval time.Duration `yaml:"buffer_cleanup_interval"`
	DedupWindow           time.Duration `yaml:"dedup_window"`

	// Scheduler lag monitor
	MonitorMaxLag              time.Duration `yaml:"monitor_max_lag"`
	MonitorCheckInterval       time.Duration `yaml:"monitor_check_interval"`
	MonitorSevereLagMultiplier float64       `yaml:"monitor_severe_lag_multiplier"`
	MonitorMaxSevereLagCount   int           `yaml:"monitor_max_severe_lag_count"`
	MonitorCleanProbeTarget    int           `yaml:"monitor_clean_probe_target"`

	// Model cache
	ModelCacheTTL time.Duration `yaml:"model_cache_ttl"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		OpenAIBaseURL: "https://api.openai.com/v1",
		DefaultModel:  "gpt-4.1-nano",
		MaxTokens:     4096,
		Temperature:   0.1,
		OpenAITimeout: 60 * time.Second,

		MaxConcurrentRequests: 3,
		JobTimeout:            300 * time.Second,

		RetryMaxAttempts: 1,
		RetryBaseDelay:   1 * time.Second,
		RetryMaxDelay:    60 * time.Second,

		PDFDPI: 300,

		IncludeFailedPages: true,

		LogLevel:  "info",
		LogFormat: "json",

		ServerAddr: "127.0.0.1:8000",

		ThrottleBatchInterval: 500 * time.Millisecond,
		ThrottleMaxBatchSize:  100,
		SubscriberQueueSize:   256,

		BreakerThreshold:    50.0,
		BreakerWindow:       10 * time.Second,
		BreakerRecoveryTime: 30 * time.Second,

		BufferMaxEntries:      1000,
		BufferMaxAge:          time.Hour,
		BufferCleanupInterval: 5 * time.Minute,
		DedupWindow:           2 * time.Second,

		MonitorMaxLag:              40 * time.Millisecond,
		MonitorCheckInterval:       time.Second,
		MonitorSevereLagMultiplier: 3.0,
		MonitorMaxSevereLagCount:   5,
		MonitorCleanProbeTarget:    3,

		ModelCacheTTL: 4 * time.Hour,
	}
}

// Load builds the configuration from defaults, the YAML file at path (if it
// exists) and environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.OpenAIAPIKey = v
	}
	setString(&c.OpenAIAPIKey, "MODUL8R_OPENAI_API_KEY")
	setString(&c.OpenAIBaseURL, "MODUL8R_OPENAI_BASE_URL")
	setString(&c.DefaultModel, "MODUL8R_OPENAI_DEFAULT_MODEL")
	setInt(&c.MaxTokens, "MODUL8R_OPENAI_MAX_TOKENS")
	setFloat(&c.Temperature, "MODUL8R_OPENAI_TEMPERATURE")
	setDuration(&c.OpenAITimeout, "MODUL8R_OPENAI_TIMEOUT")
	setInt(&c.MaxConcurrentRequests, "MODUL8R_MAX_CONCURRENT_REQUESTS")
	setDuration(&c.JobTimeout, "MODUL8R_JOB_TIMEOUT")
	setInt(&c.RetryMaxAttempts, "MODUL8R_RETRY_MAX_ATTEMPTS")
	setDuration(&c.RetryBaseDelay, "MODUL8R_RETRY_BASE_DELAY")
	setDuration(&c.RetryMaxDelay, "MODUL8R_RETRY_MAX_DELAY")
	setInt(&c.PDFDPI, "MODUL8R_PDF_DPI")
	setBool(&c.IncludeFailedPages, "MODUL8R_INCLUDE_FAILED_PAGES")
	setString(&c.LogLevel, "MODUL8R_LOG_LEVEL")
	setString(&c.LogFormat, "MODUL8R_LOG_FORMAT")
	setString(&c.ServerAddr, "MODUL8R_SERVER_ADDR")
	setDuration(&c.ThrottleBatchInterval, "MODUL8R_THROTTLE_BATCH_INTERVAL")
	setInt(&c.ThrottleMaxBatchSize, "MODUL8R_THROTTLE_MAX_BATCH_SIZE")
	setInt(&c.SubscriberQueueSize, "MODUL8R_SUBSCRIBER_QUEUE_SIZE")
	setFloat(&c.BreakerThreshold, "MODUL8R_BREAKER_THRESHOLD")
	setDuration(&c.BreakerWindow, "MODUL8R_BREAKER_WINDOW")
	setDuration(&c.BreakerRecoveryTime, "MODUL8R_BREAKER_RECOVERY_TIME")
	setInt(&c.BufferMaxEntries, "MODUL8R_BUFFER_MAX_ENTRIES")
	setDuration(&c.BufferMaxAge, "MODUL8R_BUFFER_MAX_AGE")
	setDuration(&c.BufferCleanupInterval, "MODUL8R_BUFFER_CLEANUP_INTERVAL")
	setDuration(&c.DedupWindow, "MODUL8R_DEDUP_WINDOW")
	setDuration(&c.MonitorMaxLag, "MODUL8R_MONITOR_MAX_LAG")
	setDuration(&c.MonitorCheckInterval, "MODUL8R_MONITOR_CHECK_INTERVAL")
	setDuration(&c.ModelCacheTTL, "MODUL8R_MODEL_CACHE_TTL")
}

// Validate rejects configurations outside the supported bounds.
func (c *Config) Validate() error {
	if c.MaxConcurrentRequests < 1 || c.MaxConcurrentRequests > 100 {
		return fmt.Errorf("max_concurrent_requests must be in 1..100, got %d", c.MaxConcurrentRequests)
	}
	if c.PDFDPI < 150 || c.PDFDPI > 600 {
		return fmt.Errorf("pdf_dpi must be in 150..600, got %d", c.PDFDPI)
	}
	if c.RetryMaxAttempts < 0 {
		return fmt.Errorf("retry_max_attempts must not be negative, got %d", c.RetryMaxAttempts)
	}
	if c.ThrottleMaxBatchSize < 1 {
		return fmt.Errorf("throttle_max_batch_size must be positive, got %d", c.ThrottleMaxBatchSize)
	}
	if c.BreakerThreshold <= 0 {
		return fmt.Errorf("breaker_threshold must be positive, got %v", c.BreakerThreshold)
	}
	if c.BufferMaxEntries < 1 {
		return fmt.Errorf("buffer_max_entries must be positive, got %d", c.BufferMaxEntries)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
