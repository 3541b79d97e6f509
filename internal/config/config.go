// Package config loads and validates leadharvest configuration via Viper.
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

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Crawl     CrawlConfig     `mapstructure:"crawl"`
	Maps      MapsConfig      `mapstructure:"maps"`
	Wayback   WaybackConfig   `mapstructure:"wayback"`
	Merge     MergeConfig     `mapstructure:"merge"`
	DB        DBConfig        `mapstructure:"db"`
	Export    ExportConfig    `mapstructure:"export"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Service   ServiceConfig   `mapstructure:"service"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// OpenAIConfig configures the extraction model.
type OpenAIConfig struct {
	APIKey         string  `mapstructure:"api_key"`
	BaseURL        string  `mapstructure:"base_url"`
	Model          string  `mapstructure:"model"`
	Temperature    float32 `mapstructure:"temperature"`
	MaxTokens      int     `mapstructure:"max_tokens"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	MaxInputChars  int     `mapstructure:"max_input_chars"`
	MaxAttempts    int     `mapstructure:"max_attempts"`
}

// CrawlConfig governs page fetching and link following.
type CrawlConfig struct {
	UserAgent          string  `mapstructure:"user_agent"`
	TimeoutSeconds     int     `mapstructure:"timeout_seconds"`
	RespectRobots      bool    `mapstructure:"respect_robots"`
	MaxInternalLinks   int     `mapstructure:"max_internal_links"`
	MaxExternalLinks   int     `mapstructure:"max_external_links"`
	LinkConcurrency    int     `mapstructure:"link_concurrency"`
	LinkScoreThreshold float64 `mapstructure:"link_score_threshold"`
	UseCache           bool    `mapstructure:"use_cache"`
	CacheTTLSeconds    int     `mapstructure:"cache_ttl_seconds"`
	RateLimitRPS       float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst     int     `mapstructure:"rate_limit_burst"`
	// HeadlessFallback re-renders client-side shells through the browser.
	HeadlessFallback      bool `mapstructure:"headless_fallback"`
	HeadlessBodyThreshold int  `mapstructure:"headless_body_threshold"`
	// BlockedDomains are never followed from a homepage.
	BlockedDomains []string `mapstructure:"blocked_domains"`
}

// MapsConfig controls the headless maps search.
type MapsConfig struct {
	SearchURL          string `mapstructure:"search_url"`
	WaitSelector       string `mapstructure:"wait_selector"`
	WaitTimeoutSeconds int    `mapstructure:"wait_timeout_seconds"`
	NavTimeoutSeconds  int    `mapstructure:"nav_timeout_seconds"`
	ScrollPasses       int    `mapstructure:"scroll_passes"`
	MaxParallel        int    `mapstructure:"max_parallel"`
	FragmentLimit      int    `mapstructure:"fragment_limit"`
}

// WaybackConfig controls archived snapshot discovery.
type WaybackConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	CDXURL        string `mapstructure:"cdx_url"`
	SnapshotLimit int    `mapstructure:"snapshot_limit"`
	YearsBack     int    `mapstructure:"years_back"`
}

// MergeConfig is the normalization policy handed to the merge engine.
type MergeConfig struct {
	StableOrder         bool   `mapstructure:"stable_order"`
	PhoneCallingCode    string `mapstructure:"phone_calling_code"`
	PhoneNationalLength int    `mapstructure:"phone_national_length"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN           string `mapstructure:"dsn"`
	BusinessTable string `mapstructure:"business_table"`
	ContactTable  string `mapstructure:"contact_table"`
	MaxConns      int32  `mapstructure:"max_conns"`
}

// ExportConfig sets where JSON exports are written.
type ExportConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for harvest notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// ServiceConfig sizes the harvest queue and worker pool.
type ServiceConfig struct {
	Workers    int `mapstructure:"workers"`
	QueueDepth int `mapstructure:"queue_depth"`
}

// TelemetryConfig controls OpenTelemetry tracing.
type TelemetryConfig struct {
	TracingEnabled bool    `mapstructure:"tracing_enabled"`
	ServiceName    string  `mapstructure:"service_name"`
	GCPProjectID   string  `mapstructure:"gcp_project_id"`
	SampleRatio    float64 `mapstructure:"sample_ratio"`
}

// legacyEnv maps config keys to the unprefixed environment names that
// earlier deployments used.
var legacyEnv = map[string]string{
	"openai.api_key":           "OPENAI_API_KEY",
	"openai.model":             "OPENAI_MODEL",
	"openai.temperature":       "OPENAI_TEMPERATURE",
	"openai.max_tokens":        "OPENAI_MAX_TOKENS",
	"crawl.max_internal_links": "CRAWL_MAX_INTERNAL_LINKS",
	"crawl.max_external_links": "CRAWL_MAX_EXTERNAL_LINKS",
	"crawl.link_concurrency":   "CRAWL_LINK_CONCURRENCY",
	"crawl.use_cache":          "CRAWL_USE_CACHE",
	"wayback.snapshot_limit":   "WAYBACK_SNAPSHOT_LIMIT",
	"wayback.years_back":       "WAYBACK_YEARS_BACK",
	"db.dsn":                   "DATABASE_URL",
	"db.business_table":        "LEADS_BUSINESS_TABLE",
	"db.contact_table":         "LEADS_CONTACT_TABLE",
}

// Load builds a Config from .env, disk and environment.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("read .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("LEADS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		prefixed := "LEADS_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.temperature", 0.0)
	v.SetDefault("openai.max_tokens", 2048)
	v.SetDefault("openai.timeout_seconds", 60)
	v.SetDefault("openai.max_input_chars", 30000)
	v.SetDefault("openai.max_attempts", 3)
	v.SetDefault("crawl.user_agent", "leadharvest-bot/0.1")
	v.SetDefault("crawl.timeout_seconds", 20)
	v.SetDefault("crawl.respect_robots", true)
	v.SetDefault("crawl.max_internal_links", 5)
	v.SetDefault("crawl.max_external_links", 3)
	v.SetDefault("crawl.link_concurrency", 4)
	v.SetDefault("crawl.link_score_threshold", 1.0)
	v.SetDefault("crawl.use_cache", true)
	v.SetDefault("crawl.cache_ttl_seconds", 3600)
	v.SetDefault("crawl.rate_limit_rps", 1.0)
	v.SetDefault("crawl.rate_limit_burst", 2)
	v.SetDefault("crawl.headless_fallback", false)
	v.SetDefault("crawl.headless_body_threshold", 2048)
	v.SetDefault("crawl.blocked_domains", []string{})
	v.SetDefault("maps.search_url", "https://www.google.com/maps/search/")
	v.SetDefault("maps.wait_selector", ".Nv2PK")
	v.SetDefault("maps.wait_timeout_seconds", 10)
	v.SetDefault("maps.nav_timeout_seconds", 45)
	v.SetDefault("maps.scroll_passes", 3)
	v.SetDefault("maps.max_parallel", 1)
	v.SetDefault("maps.fragment_limit", 60000)
	v.SetDefault("wayback.enabled", true)
	v.SetDefault("wayback.cdx_url", "https://web.archive.org/cdx/search/cdx")
	v.SetDefault("wayback.snapshot_limit", 3)
	v.SetDefault("wayback.years_back", 5)
	v.SetDefault("merge.stable_order", false)
	v.SetDefault("merge.phone_national_length", 10)
	v.SetDefault("db.business_table", "businesses")
	v.SetDefault("db.contact_table", "contacts")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("export.prefix", "exports")
	v.SetDefault("server.port", 8080)
	v.SetDefault("service.workers", 2)
	v.SetDefault("service.queue_depth", 16)
	v.SetDefault("telemetry.tracing_enabled", false)
	v.SetDefault("telemetry.service_name", "leadharvest")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Crawl.LinkConcurrency <= 0 {
		return fmt.Errorf("crawl.link_concurrency must be > 0")
	}
	if c.Crawl.TimeoutSeconds <= 0 {
		return fmt.Errorf("crawl.timeout_seconds must be > 0")
	}
	if c.Crawl.MaxInternalLinks < 0 || c.Crawl.MaxExternalLinks < 0 {
		return fmt.Errorf("crawl.max_internal_links and crawl.max_external_links must be >= 0")
	}
	if c.Crawl.RateLimitRPS < 0 {
		return fmt.Errorf("crawl.rate_limit_rps must be >= 0")
	}
	if c.Maps.MaxParallel <= 0 {
		return fmt.Errorf("maps.max_parallel must be > 0")
	}
	if c.Wayback.SnapshotLimit < 0 || c.Wayback.YearsBack < 0 {
		return fmt.Errorf("wayback.snapshot_limit and wayback.years_back must be >= 0")
	}
	if c.Merge.PhoneCallingCode != "" && c.Merge.PhoneNationalLength <= 0 {
		return fmt.Errorf("merge.phone_national_length must be > 0 when a calling code is set")
	}
	if strings.Trim(c.Merge.PhoneCallingCode, "0123456789") != "" {
		return fmt.Errorf("merge.phone_calling_code must contain digits only")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be between 0 and 1")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// RequireOpenAI reports whether the LLM credentials needed by run and serve are present.
func (c Config) RequireOpenAI() error {
	if c.OpenAI.APIKey == "" {
		return fmt.Errorf("openai.api_key (or OPENAI_API_KEY) must be set")
	}
	return nil
}

// RequireDB reports whether a database DSN is configured.
func (c Config) RequireDB() error {
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn (or DATABASE_URL) must be set")
	}
	return nil
}

// CrawlTimeout converts the crawl timeout into a duration.
func (c Config) CrawlTimeout() time.Duration {
	return time.Duration(c.Crawl.TimeoutSeconds) * time.Second
}

// OpenAITimeout converts the per-request LLM timeout into a duration.
func (c Config) OpenAITimeout() time.Duration {
	return time.Duration(c.OpenAI.TimeoutSeconds) * time.Second
}
