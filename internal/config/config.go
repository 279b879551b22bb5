package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Redis      RedisConfig      `yaml:"redis" mapstructure:"redis"`
	Session    SessionConfig    `yaml:"session" mapstructure:"session"`
	Enrichment EnrichmentConfig `yaml:"enrichment" mapstructure:"enrichment"`
	Readback   ReadbackConfig   `yaml:"readback" mapstructure:"readback"`
	Scoring    ScoringConfig    `yaml:"scoring" mapstructure:"scoring"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the job and lead database. For sqlite the
// database_url is a file path.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// RedisConfig holds the connection used by the redis session backend.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
}

// SessionConfig configures where the per-user dashboard state is kept.
type SessionConfig struct {
	Backend    string `yaml:"backend" mapstructure:"backend"`
	KeyPrefix  string `yaml:"key_prefix" mapstructure:"key_prefix"`
	TTLHours   int    `yaml:"ttl_hours" mapstructure:"ttl_hours"`
	SQLitePath string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// EnrichmentConfig holds the remote job-creation function settings. With no
// create_url, jobs are created directly in the store.
type EnrichmentConfig struct {
	CreateURL        string  `yaml:"create_url" mapstructure:"create_url"`
	APIKey           string  `yaml:"api_key" mapstructure:"api_key"`
	TimeoutSecs      int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSec       float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	CircuitFailures  int     `yaml:"circuit_failures" mapstructure:"circuit_failures"`
	CircuitResetSecs int     `yaml:"circuit_reset_secs" mapstructure:"circuit_reset_secs"`
}

// ReadbackConfig controls how long a freshly created job is polled for.
type ReadbackConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
}

// ScoringConfig sets the per-factor caps of the lead score.
type ScoringConfig struct {
	TitleCap            int `yaml:"title_cap" mapstructure:"title_cap"`
	ContactCap          int `yaml:"contact_cap" mapstructure:"contact_cap"`
	CompanySizeCap      int `yaml:"company_size_cap" mapstructure:"company_size_cap"`
	IndustryCap         int `yaml:"industry_cap" mapstructure:"industry_cap"`
	GrowthCap           int `yaml:"growth_cap" mapstructure:"growth_cap"`
	DataCompletenessCap int `yaml:"data_completeness_cap" mapstructure:"data_completeness_cap"`
}

// ServerConfig configures the dashboard HTTP server.
type ServerConfig struct {
	Port                int      `yaml:"port" mapstructure:"port"`
	CORSOrigins         []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	HookToken           string   `yaml:"hook_token" mapstructure:"hook_token"`
	ShutdownTimeoutSecs int      `yaml:"shutdown_timeout_secs" mapstructure:"shutdown_timeout_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PROSPECT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("session.backend", "memory")
	v.SetDefault("session.key_prefix", "prospect")
	v.SetDefault("session.ttl_hours", 24*7)
	v.SetDefault("session.sqlite_path", "sessions.db")
	v.SetDefault("enrichment.timeout_secs", 30)
	v.SetDefault("enrichment.rate_per_sec", 2.0)
	v.SetDefault("enrichment.circuit_failures", 5)
	v.SetDefault("enrichment.circuit_reset_secs", 30)
	v.SetDefault("readback.max_attempts", 10)
	v.SetDefault("readback.initial_backoff_ms", 200)
	v.SetDefault("readback.max_backoff_ms", 120_000)
	v.SetDefault("readback.multiplier", 2.0)
	v.SetDefault("scoring.title_cap", 25)
	v.SetDefault("scoring.contact_cap", 15)
	v.SetDefault("scoring.company_size_cap", 20)
	v.SetDefault("scoring.industry_cap", 15)
	v.SetDefault("scoring.growth_cap", 10)
	v.SetDefault("scoring.data_completeness_cap", 15)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout_secs", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
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

// Validate checks the settings a command needs. Mode is one of "serve",
// "migrate" or "score".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "serve":
		errs = append(errs, c.validateStore()...)
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Enrichment.CreateURL != "" && c.Enrichment.TimeoutSecs <= 0 {
			errs = append(errs, "enrichment.timeout_secs must be > 0")
		}
		if c.Enrichment.RatePerSec < 0 {
			errs = append(errs, "enrichment.rate_per_sec must be >= 0")
		}
		switch c.Session.Backend {
		case "memory", "sqlite":
		case "redis":
			if c.Redis.Addr == "" {
				errs = append(errs, "redis.addr is required for the redis session backend")
			}
		default:
			errs = append(errs, fmt.Sprintf("session.backend %q must be memory, redis or sqlite", c.Session.Backend))
		}
		if c.Readback.MaxAttempts < 1 {
			errs = append(errs, "readback.max_attempts must be >= 1")
		}
		if c.Readback.Multiplier < 1 {
			errs = append(errs, "readback.multiplier must be >= 1")
		}
	case "migrate":
		errs = append(errs, c.validateStore()...)
	case "score":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	s := c.Scoring
	for name, v := range map[string]int{
		"title_cap":             s.TitleCap,
		"contact_cap":           s.ContactCap,
		"company_size_cap":      s.CompanySizeCap,
		"industry_cap":          s.IndustryCap,
		"growth_cap":            s.GrowthCap,
		"data_completeness_cap": s.DataCompletenessCap,
	} {
		if v < 0 {
			errs = append(errs, "scoring."+name+" must be >= 0")
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed for %s: %s", mode, strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateStore() []string {
	var errs []string
	switch c.Store.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q must be postgres or sqlite", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}
	return errs
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
