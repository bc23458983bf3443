package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/prospector/internal/cost"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Places     PlacesConfig     `yaml:"places" mapstructure:"places"`
	Scrape     ScrapeConfig     `yaml:"scrape" mapstructure:"scrape"`
	Planner    PlannerConfig    `yaml:"planner" mapstructure:"planner"`
	Catalog    CatalogConfig    `yaml:"catalog" mapstructure:"catalog"`
	Pricing    cost.Rates       `yaml:"pricing" mapstructure:"pricing"`
	Notion     NotionConfig     `yaml:"notion" mapstructure:"notion"`
	Salesforce SalesforceConfig `yaml:"salesforce" mapstructure:"salesforce"`
	Export     ExportConfig     `yaml:"export" mapstructure:"export"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// PlacesConfig holds places-search API settings. RateLimit is requests
// per second shared across all running jobs.
type PlacesConfig struct {
	Key       string  `yaml:"key" mapstructure:"key"`
	BaseURL   string  `yaml:"base_url" mapstructure:"base_url"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// ScrapeConfig configures job execution behavior.
type ScrapeConfig struct {
	PageSize                int `yaml:"page_size" mapstructure:"page_size"`
	EarlyExitThreshold      int `yaml:"early_exit_threshold" mapstructure:"early_exit_threshold"`
	MaxConcurrentJobs       int `yaml:"max_concurrent_jobs" mapstructure:"max_concurrent_jobs"`
	RetryMaxAttempts        int `yaml:"retry_max_attempts" mapstructure:"retry_max_attempts"`
	RetryBackoffMS          int `yaml:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
	RetryMaxBackoffSecs     int `yaml:"retry_max_backoff_secs" mapstructure:"retry_max_backoff_secs"`
	BreakerFailureThreshold int `yaml:"breaker_failure_threshold" mapstructure:"breaker_failure_threshold"`
	BreakerResetSecs        int `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// PlannerConfig configures coverage planning.
type PlannerConfig struct {
	YieldPerPage int     `yaml:"yield_per_page" mapstructure:"yield_per_page"`
	SafetyFactor float64 `yaml:"safety_factor" mapstructure:"safety_factor"`
}

// CatalogConfig configures the area catalog. PolicyFile optionally
// overrides the built-in population tier policy; SourceURL is where
// `areas fetch` pulls reference data from.
type CatalogConfig struct {
	PolicyFile string `yaml:"policy_file" mapstructure:"policy_file"`
	SourceURL  string `yaml:"source_url" mapstructure:"source_url"`
}

// NotionConfig holds Notion API credentials and database IDs.
type NotionConfig struct {
	Token     string  `yaml:"token" mapstructure:"token"`
	LeadDB    string  `yaml:"lead_db" mapstructure:"lead_db"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// SalesforceConfig holds Salesforce JWT auth settings.
type SalesforceConfig struct {
	ClientID  string  `yaml:"client_id" mapstructure:"client_id"`
	Username  string  `yaml:"username" mapstructure:"username"`
	KeyPath   string  `yaml:"key_path" mapstructure:"key_path"`
	LoginURL  string  `yaml:"login_url" mapstructure:"login_url"`
	BatchSize int     `yaml:"batch_size" mapstructure:"batch_size"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// ExportConfig configures file exports.
type ExportConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from path when given, otherwise from an
// optional ./config.yaml, with PROSPECTOR_* environment overrides on
// top in either case.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("PROSPECTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "prospector.db")
	v.SetDefault("places.base_url", "https://api.placessearch.io/v2")
	v.SetDefault("places.rate_limit", 10.0)
	v.SetDefault("scrape.page_size", 20)
	v.SetDefault("scrape.early_exit_threshold", 5)
	v.SetDefault("scrape.max_concurrent_jobs", 4)
	v.SetDefault("scrape.retry_max_attempts", 3)
	v.SetDefault("scrape.retry_backoff_ms", 500)
	v.SetDefault("scrape.retry_max_backoff_secs", 30)
	v.SetDefault("scrape.breaker_failure_threshold", 5)
	v.SetDefault("scrape.breaker_reset_secs", 30)
	v.SetDefault("planner.yield_per_page", 20)
	v.SetDefault("planner.safety_factor", 1.5)
	v.SetDefault("catalog.source_url", "https://www2.census.gov/programs-surveys/popest/datasets/2020-2024/cities/totals/sub-est2024.csv")
	v.SetDefault("pricing.places.per_search", 0.032)
	v.SetDefault("pricing.places.monthly_free_calls", 0)
	v.SetDefault("pricing.export.per_record", 0.0)
	v.SetDefault("notion.rate_limit", 3.0)
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("salesforce.batch_size", 200)
	v.SetDefault("salesforce.rate_limit", 5.0)
	v.SetDefault("export.dir", "exports")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// A missing default file is fine; a missing explicit one is not.
	if err := v.ReadInConfig(); err != nil {
		if path != "" {
			return nil, eris.Wrapf(err, "config: read %s", path)
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the fields the given mode needs. Problems are
// collected so the operator sees every missing field at once.
func (c *Config) Validate(mode string) error {
	var problems []string

	need := func(value, key string) {
		if strings.TrimSpace(value) == "" {
			problems = append(problems, key+" is required")
		}
	}

	switch mode {
	case "plan", "export":
		need(c.Store.DatabaseURL, "store.database_url")
	case "scrape":
		need(c.Store.DatabaseURL, "store.database_url")
		need(c.Places.Key, "places.key")
	case "serve":
		need(c.Store.DatabaseURL, "store.database_url")
		need(c.Places.Key, "places.key")
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Store.Driver != "sqlite" && c.Store.Driver != "postgres" {
		problems = append(problems, "store.driver must be sqlite or postgres")
	}
	if c.Places.RateLimit <= 0 {
		problems = append(problems, "places.rate_limit must be > 0")
	}
	if c.Scrape.PageSize < 1 {
		problems = append(problems, "scrape.page_size must be >= 1")
	}
	if c.Scrape.MaxConcurrentJobs < 1 || c.Scrape.MaxConcurrentJobs > 64 {
		problems = append(problems, "scrape.max_concurrent_jobs must be between 1 and 64")
	}
	if c.Planner.YieldPerPage < 1 {
		problems = append(problems, "planner.yield_per_page must be >= 1")
	}
	if c.Planner.SafetyFactor < 1 {
		problems = append(problems, "planner.safety_factor must be >= 1")
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
