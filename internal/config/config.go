package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config application configuration
type Config struct {
	// Telegram
	TelegramToken string `env:"TELEGRAM_BOT_TOKEN,required"`

	// Database
	DatabasePath string `env:"DATABASE_PATH" envDefault:"./data/repa.db"`

	// Language model (OpenAI compatible chat completions API)
	LLMBaseURL           string        `env:"LLM_BASE_URL" envDefault:"https://api.openai.com/v1"`
	LLMAPIKey            string        `env:"LLM_API_KEY,required"`
	LLMModel             string        `env:"LLM_MODEL" envDefault:"gpt-4o-mini"`
	LLMVisionModel       string        `env:"LLM_VISION_MODEL" envDefault:"gpt-4o-mini"`
	LLMTimeout           time.Duration `env:"LLM_TIMEOUT" envDefault:"60s"`
	LLMRequestsPerSecond float64       `env:"LLM_REQUESTS_PER_SECOND" envDefault:"2"`

	// Scraper (Firecrawl compatible)
	ScraperURL               string        `env:"SCRAPER_URL" envDefault:"https://api.firecrawl.dev"`
	ScraperAPIKey            string        `env:"SCRAPER_API_KEY,required"`
	ScraperTimeout           time.Duration `env:"SCRAPER_TIMEOUT" envDefault:"30s"`
	ScraperRequestsPerSecond float64       `env:"SCRAPER_REQUESTS_PER_SECOND" envDefault:"1"`

	// Listing fetch
	ListingDomains      []string      `env:"LISTING_DOMAINS" envSeparator:"," envDefault:"homegate.ch,immoscout24.ch,flatfox.ch"`
	ListingMaxImages    int           `env:"LISTING_MAX_IMAGES" envDefault:"3"`
	ListingMaxBodyBytes int           `env:"LISTING_MAX_BODY_BYTES" envDefault:"65536"`
	FetchRetryMax       int           `env:"FETCH_RETRY_MAX" envDefault:"2"`
	FetchBackoffInitial time.Duration `env:"FETCH_BACKOFF_INITIAL" envDefault:"1s"`
	FetchBackoffMax     time.Duration `env:"FETCH_BACKOFF_MAX" envDefault:"10s"`
	ImageConcurrency    int           `env:"IMAGE_CONCURRENCY" envDefault:"3"`

	// Pipeline stage timeouts
	ExtractTimeout time.Duration `env:"EXTRACT_TIMEOUT" envDefault:"45s"`
	FetchTimeout   time.Duration `env:"FETCH_TIMEOUT" envDefault:"60s"`
	ImagesTimeout  time.Duration `env:"IMAGES_TIMEOUT" envDefault:"60s"`
	ReportTimeout  time.Duration `env:"REPORT_TIMEOUT" envDefault:"60s"`

	// Email monitoring
	IMAPDialTimeout        time.Duration `env:"IMAP_DIAL_TIMEOUT" envDefault:"30s"`
	EmailPollInterval      time.Duration `env:"EMAIL_POLL_INTERVAL" envDefault:"5m"`
	MonitorTickTimeout     time.Duration `env:"MONITOR_TICK_TIMEOUT" envDefault:"4m"`
	MonitorUserConcurrency int           `env:"MONITOR_USER_CONCURRENCY" envDefault:"4"`
	MonitorURLConcurrency  int           `env:"MONITOR_URL_CONCURRENCY" envDefault:"3"`
	MonitorRunConcurrency  int           `env:"MONITOR_RUN_CONCURRENCY" envDefault:"4"`
	DefaultSenderFilter    string        `env:"DEFAULT_SENDER_FILTER"` // empty means no sender filter
	DefaultSubjectKeywords string        `env:"DEFAULT_SUBJECT_KEYWORDS" envDefault:"match"`

	// Security
	EncryptionKey string `env:"ENCRYPTION_KEY,required"`

	// Metrics
	MetricsAddr string `env:"METRICS_ADDR"` // e.g., :9090, disabled if empty

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"` // "json" or "text"
}

// MetricsEnabled returns true if the metrics listener is configured
func (c *Config) MetricsEnabled() bool {
	return c.MetricsAddr != ""
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks values that env tags cannot express
func (c *Config) Validate() error {
	// 32 bytes for AES-256
	if len(c.EncryptionKey) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes, got %d", len(c.EncryptionKey))
	}

	if c.EmailPollInterval <= 0 {
		return fmt.Errorf("EMAIL_POLL_INTERVAL must be positive")
	}
	if c.MonitorTickTimeout <= 0 || c.MonitorTickTimeout > c.EmailPollInterval {
		return fmt.Errorf("MONITOR_TICK_TIMEOUT must be positive and not exceed EMAIL_POLL_INTERVAL")
	}
	// A monitor run must fit in one tick
	if run := c.IMAPDialTimeout + c.FetchTimeout + c.ImagesTimeout + c.ReportTimeout; run > c.MonitorTickTimeout {
		return fmt.Errorf("MONITOR_TICK_TIMEOUT (%s) must cover IMAP_DIAL_TIMEOUT + FETCH_TIMEOUT + IMAGES_TIMEOUT + REPORT_TIMEOUT (%s)",
			c.MonitorTickTimeout, run)
	}
	if c.ListingMaxImages < 0 || c.ListingMaxBodyBytes <= 0 {
		return fmt.Errorf("LISTING_MAX_IMAGES must be >= 0 and LISTING_MAX_BODY_BYTES > 0")
	}
	if c.FetchRetryMax < 0 {
		return fmt.Errorf("FETCH_RETRY_MAX must be >= 0")
	}
	if c.MonitorUserConcurrency < 1 || c.MonitorURLConcurrency < 1 || c.MonitorRunConcurrency < 1 || c.ImageConcurrency < 1 {
		return fmt.Errorf("concurrency limits must be at least 1")
	}
	if len(c.ListingDomains) == 0 {
		return fmt.Errorf("LISTING_DOMAINS must not be empty")
	}

	return nil
}
