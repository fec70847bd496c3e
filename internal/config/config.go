package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Listing   ListingConfig   `mapstructure:"listing"`
	Authority AuthorityConfig `mapstructure:"authority"`
	Expiry    ExpiryConfig    `mapstructure:"expiry"`
	Fallback  FallbackConfig  `mapstructure:"fallback"`
	AI        AIConfig        `mapstructure:"ai"`
	Scan      ScanConfig      `mapstructure:"scan"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Export    ExportConfig    `mapstructure:"export"`
}

// ListingConfig holds the scraped listing source configuration
type ListingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	URL         string        `mapstructure:"url"`
	Cookie      string        `mapstructure:"cookie"`
	UserAgent   string        `mapstructure:"user_agent"`
	ProxyURL    string        `mapstructure:"proxy_url"`
	Pages       int           `mapstructure:"pages"`
	PageSize    int           `mapstructure:"page_size"`
	Workers     int           `mapstructure:"workers"`
	PageDelay   time.Duration `mapstructure:"page_delay"`
	MaxRetries  int           `mapstructure:"max_retries"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
	Timeout     time.Duration `mapstructure:"timeout"`
	RowSelector string        `mapstructure:"row_selector"`
	Columns     ColumnsConfig `mapstructure:"columns"`
}

// ColumnsConfig maps table column indexes to candidate fields. -1 disables a field.
type ColumnsConfig struct {
	MinColumns        int    `mapstructure:"min_columns"`
	Domain            int    `mapstructure:"domain"`
	Backlinks         int    `mapstructure:"backlinks"`
	ReferringDomains  int    `mapstructure:"referring_domains"`
	BirthYear         int    `mapstructure:"birth_year"`
	EncyclopediaLinks int    `mapstructure:"encyclopedia_links"`
	AuctionPrice      int    `mapstructure:"auction_price"`
	BidCount          int    `mapstructure:"bid_count"`
	SpamScore         int    `mapstructure:"spam_score"`
	DropDate          int    `mapstructure:"drop_date"`
	DropDateLayout    string `mapstructure:"drop_date_layout"`
}

// AuthorityConfig holds the page-authority API configuration
type AuthorityConfig struct {
	APIURL     string        `mapstructure:"api_url"`
	APIKey     string        `mapstructure:"api_key"`
	BatchSize  int           `mapstructure:"batch_size"`
	BatchDelay time.Duration `mapstructure:"batch_delay"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// ExpiryConfig holds registry (WHOIS) verification configuration
type ExpiryConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	GracePeriod time.Duration `mapstructure:"grace_period"`
	Delay       time.Duration `mapstructure:"delay"`
	Timeout     time.Duration `mapstructure:"timeout"`
	VerifyLimit int           `mapstructure:"verify_limit"`
}

// FallbackConfig holds combinatorial generator configuration
type FallbackConfig struct {
	Enabled  bool        `mapstructure:"enabled"`
	Count    int         `mapstructure:"count"`
	Keywords []string    `mapstructure:"keywords"`
	TLDs     []string    `mapstructure:"tlds"`
	Ranges   RangeConfig `mapstructure:"ranges"`
}

// RangeConfig bounds the synthetic metrics assigned to generated candidates
type RangeConfig struct {
	DAMin               int `mapstructure:"da_min"`
	DAMax               int `mapstructure:"da_max"`
	BacklinksMin        int `mapstructure:"backlinks_min"`
	BacklinksMax        int `mapstructure:"backlinks_max"`
	ReferringDomainsMin int `mapstructure:"referring_domains_min"`
	ReferringDomainsMax int `mapstructure:"referring_domains_max"`
	SpamMin             int `mapstructure:"spam_min"`
	SpamMax             int `mapstructure:"spam_max"`
	AgeMin              int `mapstructure:"age_min"`
	AgeMax              int `mapstructure:"age_max"`
}

// AIConfig holds the optional generative backend configuration
type AIConfig struct {
	Provider        string        `mapstructure:"provider"` // anthropic or gemini
	AnthropicAPIKey string        `mapstructure:"anthropic_api_key"`
	AnthropicModel  string        `mapstructure:"anthropic_model"`
	AnthropicURL    string        `mapstructure:"anthropic_url"`
	GeminiAPIKey    string        `mapstructure:"gemini_api_key"`
	GeminiModel     string        `mapstructure:"gemini_model"`
	GeminiURL       string        `mapstructure:"gemini_url"`
	Topic           string        `mapstructure:"topic"`
	Count           int           `mapstructure:"count"`
	MaxLength       int           `mapstructure:"max_length"`
	TLDs            []string      `mapstructure:"tlds"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// ScanConfig holds orchestrator behaviour configuration
type ScanConfig struct {
	MinCandidates int           `mapstructure:"min_candidates"`
	TopN          int           `mapstructure:"top_n"`
	PersistScope  string        `mapstructure:"persist_scope"` // top or all
	Interval      time.Duration `mapstructure:"interval"`      // 0 = run once
	Timeout       time.Duration `mapstructure:"timeout"`
}

// NotifyConfig holds alerting configuration
type NotifyConfig struct {
	MinDA            int            `mapstructure:"min_da"`
	MaxSpam          int            `mapstructure:"max_spam"`
	MaxPerScan       int            `mapstructure:"max_per_scan"`
	IncludeSynthetic bool           `mapstructure:"include_synthetic"`
	LinkTemplate     string         `mapstructure:"link_template"`
	Telegram         TelegramConfig `mapstructure:"telegram"`
	Bark             BarkConfig     `mapstructure:"bark"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// BarkConfig holds Bark push configuration
type BarkConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Key     string        `mapstructure:"key"`
	BaseURL string        `mapstructure:"base_url"`
	Sound   string        `mapstructure:"sound"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// StorageConfig holds persistence configuration
type StorageConfig struct {
	Driver string `mapstructure:"driver"` // sqlite, mysql or postgres
	DBPath string `mapstructure:"db_path"`
	DSN    string `mapstructure:"dsn"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig holds Prometheus exposition configuration
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
	Namespace  string `mapstructure:"namespace"`
}

// ExportConfig holds shortlist export configuration
type ExportConfig struct {
	CSVPath string `mapstructure:"csv_path"`
}

// Load reads configuration from an optional .env file, the config file and
// DROPRADAR_* environment variables, in increasing precedence.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	v.SetEnvPrefix("DROPRADAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Listing defaults (expireddomains.net deleted .com list, 25 rows per page)
	v.SetDefault("listing.enabled", true)
	v.SetDefault("listing.url", "https://member.expireddomains.net/domains/expiredcom/")
	v.SetDefault("listing.cookie", "")
	v.SetDefault("listing.user_agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/110.0.0.0 Safari/537.36")
	v.SetDefault("listing.proxy_url", "")
	v.SetDefault("listing.pages", 4)
	v.SetDefault("listing.page_size", 25)
	v.SetDefault("listing.workers", 2)
	v.SetDefault("listing.page_delay", "2s")
	v.SetDefault("listing.max_retries", 3)
	v.SetDefault("listing.retry_delay", "2s")
	v.SetDefault("listing.timeout", "30s")
	v.SetDefault("listing.row_selector", "table.base1 tbody tr")
	// Column order: Domain, LE, BL, DP, ABY, ACR, WPL, ... Dropped
	v.SetDefault("listing.columns.min_columns", 2)
	v.SetDefault("listing.columns.domain", 0)
	v.SetDefault("listing.columns.backlinks", 2)
	v.SetDefault("listing.columns.referring_domains", 3)
	v.SetDefault("listing.columns.birth_year", 4)
	v.SetDefault("listing.columns.encyclopedia_links", 6)
	v.SetDefault("listing.columns.auction_price", -1)
	v.SetDefault("listing.columns.bid_count", -1)
	v.SetDefault("listing.columns.spam_score", -1)
	v.SetDefault("listing.columns.drop_date", 14)
	v.SetDefault("listing.columns.drop_date_layout", "2006-01-02")

	// Authority defaults (OpenPageRank)
	v.SetDefault("authority.api_url", "https://openpagerank.com/api/v1.0/getPageRank")
	v.SetDefault("authority.api_key", "")
	v.SetDefault("authority.batch_size", 100)
	v.SetDefault("authority.batch_delay", "1s")
	v.SetDefault("authority.timeout", "15s")

	// Expiry defaults
	v.SetDefault("expiry.enabled", true)
	v.SetDefault("expiry.grace_period", "720h")
	v.SetDefault("expiry.delay", "1s")
	v.SetDefault("expiry.timeout", "10s")
	v.SetDefault("expiry.verify_limit", 25)

	// Fallback defaults
	v.SetDefault("fallback.enabled", true)
	v.SetDefault("fallback.count", 8)
	v.SetDefault("fallback.keywords", []string{
		"cloud", "ai", "meta", "cyber", "tech", "data", "smart", "net", "web", "sys",
		"hub", "lab", "box", "base", "now", "ify", "ly", "dev", "app", "flow",
	})
	v.SetDefault("fallback.tlds", []string{"com", "io", "ai", "net", "org"})
	v.SetDefault("fallback.ranges.da_min", 15)
	v.SetDefault("fallback.ranges.da_max", 45)
	v.SetDefault("fallback.ranges.backlinks_min", 100)
	v.SetDefault("fallback.ranges.backlinks_max", 5000)
	v.SetDefault("fallback.ranges.referring_domains_min", 5)
	v.SetDefault("fallback.ranges.referring_domains_max", 200)
	v.SetDefault("fallback.ranges.spam_min", 0)
	v.SetDefault("fallback.ranges.spam_max", 15)
	v.SetDefault("fallback.ranges.age_min", 1)
	v.SetDefault("fallback.ranges.age_max", 12)

	// AI defaults (tier is skipped when the selected provider has no key)
	v.SetDefault("ai.provider", "anthropic")
	v.SetDefault("ai.anthropic_model", "claude-3-5-sonnet-20241022")
	v.SetDefault("ai.anthropic_url", "https://api.anthropic.com/")
	v.SetDefault("ai.anthropic_api_key", "")
	v.SetDefault("ai.gemini_api_key", "")
	v.SetDefault("ai.gemini_model", "gemini-2.0-flash-exp")
	v.SetDefault("ai.gemini_url", "https://generativelanguage.googleapis.com/")
	v.SetDefault("ai.topic", "SaaS and AI")
	v.SetDefault("ai.count", 3)
	v.SetDefault("ai.max_length", 12)
	v.SetDefault("ai.tlds", []string{"com", "io", "ai"})
	v.SetDefault("ai.timeout", "30s")

	// Scan defaults
	v.SetDefault("scan.min_candidates", 5)
	v.SetDefault("scan.top_n", 5)
	v.SetDefault("scan.persist_scope", "top")
	v.SetDefault("scan.interval", "0s")
	v.SetDefault("scan.timeout", "10m")

	// Notify defaults
	v.SetDefault("notify.min_da", 40)
	v.SetDefault("notify.max_spam", 10)
	v.SetDefault("notify.max_per_scan", 3)
	v.SetDefault("notify.include_synthetic", false)
	v.SetDefault("notify.link_template", "https://www.namecheap.com/domains/registration/results/?domain=%s")
	v.SetDefault("notify.telegram.enabled", false)
	v.SetDefault("notify.telegram.bot_token", "")
	v.SetDefault("notify.telegram.chat_id", "")
	v.SetDefault("notify.telegram.max_retries", 3)
	v.SetDefault("notify.telegram.retry_delay_base", "1s")
	v.SetDefault("notify.bark.enabled", false)
	v.SetDefault("notify.bark.key", "")
	v.SetDefault("notify.bark.base_url", "https://api.day.app")
	v.SetDefault("notify.bark.sound", "alarm")
	v.SetDefault("notify.bark.timeout", "5s")

	// Storage defaults
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.db_path", "./data/dropradar.db")
	v.SetDefault("storage.dsn", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	// Metrics and export defaults
	v.SetDefault("metrics.listen_addr", "")
	v.SetDefault("metrics.namespace", "dropradar")
	v.SetDefault("export.csv_path", "")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Listing config
	if c.Listing.Enabled {
		if c.Listing.URL == "" {
			return fmt.Errorf("listing.url is required when listing is enabled")
		}
		if c.Listing.Pages < 1 || c.Listing.Pages > 50 {
			return fmt.Errorf("listing.pages must be between 1 and 50")
		}
		if c.Listing.PageSize < 1 {
			return fmt.Errorf("listing.page_size must be at least 1")
		}
		if c.Listing.Workers < 1 {
			return fmt.Errorf("listing.workers must be at least 1")
		}
		if c.Listing.MaxRetries < 1 {
			return fmt.Errorf("listing.max_retries must be at least 1")
		}
		if c.Listing.Timeout <= 0 {
			return fmt.Errorf("listing.timeout must be positive")
		}
		if c.Listing.Columns.Domain < 0 {
			return fmt.Errorf("listing.columns.domain must not be negative")
		}
		if c.Listing.Columns.MinColumns <= c.Listing.Columns.Domain {
			return fmt.Errorf("listing.columns.min_columns must exceed listing.columns.domain")
		}
	}

	// Validate Authority config
	if c.Authority.BatchSize < 1 || c.Authority.BatchSize > 100 {
		return fmt.Errorf("authority.batch_size must be between 1 and 100")
	}
	if c.Authority.APIKey != "" && c.Authority.APIURL == "" {
		return fmt.Errorf("authority.api_url is required when authority.api_key is set")
	}

	// Validate Expiry config
	if c.Expiry.GracePeriod < 0 {
		return fmt.Errorf("expiry.grace_period must not be negative")
	}
	if c.Expiry.VerifyLimit < 0 {
		return fmt.Errorf("expiry.verify_limit must not be negative")
	}

	// Validate Fallback config
	if c.Fallback.Enabled {
		if c.Fallback.Count < 1 {
			return fmt.Errorf("fallback.count must be at least 1")
		}
		if len(c.Fallback.Keywords) < 3 {
			return fmt.Errorf("fallback.keywords must contain at least 3 keywords")
		}
		if len(c.Fallback.TLDs) == 0 {
			return fmt.Errorf("fallback.tlds must contain at least one tld")
		}
		if err := c.Fallback.Ranges.validate(); err != nil {
			return err
		}
	}

	// Validate AI config
	validProviders := map[string]bool{"anthropic": true, "gemini": true}
	if !validProviders[c.AI.Provider] {
		return fmt.Errorf("ai.provider must be one of: anthropic, gemini")
	}
	if c.AI.Count < 0 {
		return fmt.Errorf("ai.count must not be negative")
	}

	// Validate Scan config
	if c.Scan.MinCandidates < 1 {
		return fmt.Errorf("scan.min_candidates must be at least 1")
	}
	if c.Scan.TopN < 1 {
		return fmt.Errorf("scan.top_n must be at least 1")
	}
	validScopes := map[string]bool{"top": true, "all": true}
	if !validScopes[c.Scan.PersistScope] {
		return fmt.Errorf("scan.persist_scope must be one of: top, all")
	}
	if c.Scan.Interval != 0 && c.Scan.Interval < time.Minute {
		return fmt.Errorf("scan.interval must be 0 or at least 1 minute")
	}

	// Validate Notify config
	if c.Notify.MinDA < 0 || c.Notify.MinDA > 100 {
		return fmt.Errorf("notify.min_da must be between 0 and 100")
	}
	if c.Notify.MaxSpam < 0 || c.Notify.MaxSpam > 100 {
		return fmt.Errorf("notify.max_spam must be between 0 and 100")
	}
	if c.Notify.MaxPerScan < 0 {
		return fmt.Errorf("notify.max_per_scan must not be negative")
	}
	if c.Notify.Telegram.Enabled {
		if c.Notify.Telegram.BotToken == "" {
			return fmt.Errorf("notify.telegram.bot_token is required when telegram is enabled")
		}
		if c.Notify.Telegram.ChatID == "" {
			return fmt.Errorf("notify.telegram.chat_id is required when telegram is enabled")
		}
	}
	if c.Notify.Bark.Enabled && c.Notify.Bark.Key == "" {
		return fmt.Errorf("notify.bark.key is required when bark is enabled")
	}

	// Validate Storage config
	switch c.Storage.Driver {
	case "sqlite":
	case "mysql", "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for driver %s", c.Storage.Driver)
		}
	default:
		return fmt.Errorf("storage.driver must be one of: sqlite, mysql, postgres")
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

func (r RangeConfig) validate() error {
	pairs := []struct {
		name     string
		min, max int
		ceiling  int
	}{
		{"da", r.DAMin, r.DAMax, 100},
		{"backlinks", r.BacklinksMin, r.BacklinksMax, 0},
		{"referring_domains", r.ReferringDomainsMin, r.ReferringDomainsMax, 0},
		{"spam", r.SpamMin, r.SpamMax, 100},
		{"age", r.AgeMin, r.AgeMax, 0},
	}
	for _, p := range pairs {
		if p.min < 0 || p.max < p.min {
			return fmt.Errorf("fallback.ranges.%s_min/%s_max must satisfy 0 <= min <= max", p.name, p.name)
		}
		if p.ceiling > 0 && p.max > p.ceiling {
			return fmt.Errorf("fallback.ranges.%s_max must not exceed %d", p.name, p.ceiling)
		}
	}
	return nil
}

// AuthorityEnabled reports whether a real authority API is configured.
func (c *Config) AuthorityEnabled() bool {
	return c.Authority.APIKey != ""
}

// AIEnabled reports whether the selected generative provider has credentials.
func (c *Config) AIEnabled() bool {
	if c.AI.Count == 0 {
		return false
	}
	switch c.AI.Provider {
	case "anthropic":
		return c.AI.AnthropicAPIKey != ""
	case "gemini":
		return c.AI.GeminiAPIKey != ""
	}
	return false
}
