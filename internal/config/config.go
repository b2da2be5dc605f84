package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
	Engine   EngineConfig   `yaml:"engine" mapstructure:"engine"`
	Anomaly  AnomalyConfig  `yaml:"anomaly" mapstructure:"anomaly"`
	Cluster  ClusterConfig  `yaml:"cluster" mapstructure:"cluster"`
	Forecast ForecastConfig `yaml:"forecast" mapstructure:"forecast"`
}

// StoreConfig configures the record store.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // "sqlite" or "postgres"
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	CORSOrigins    []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	RateLimitRPS   float64  `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"` // 0 disables limiting
	RateLimitBurst int      `yaml:"rate_limit_burst" mapstructure:"rate_limit_burst"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// EngineConfig configures snapshot loading and the query engine.
type EngineConfig struct {
	RefreshIntervalSecs       int    `yaml:"refresh_interval_secs" mapstructure:"refresh_interval_secs"` // 0 loads once
	AsOf                      string `yaml:"as_of" mapstructure:"as_of"`                                 // YYYY-MM-DD, empty means load time
	PopulationFile            string `yaml:"population_file" mapstructure:"population_file"`
	ComputeTimeoutSecs        int    `yaml:"compute_timeout_secs" mapstructure:"compute_timeout_secs"`
	MaxConcurrentComputations int    `yaml:"max_concurrent_computations" mapstructure:"max_concurrent_computations"`
	CacheTTLSecs              int    `yaml:"cache_ttl_secs" mapstructure:"cache_ttl_secs"`
	CacheMaxEntries           int    `yaml:"cache_max_entries" mapstructure:"cache_max_entries"`
	LoadAttempts              int    `yaml:"load_attempts" mapstructure:"load_attempts"`
	LoadBackoffMs             int    `yaml:"load_backoff_ms" mapstructure:"load_backoff_ms"`
}

// AnomalyConfig holds detector defaults. Request parameters override them.
type AnomalyConfig struct {
	ZScoreThreshold   float64 `yaml:"zscore_threshold" mapstructure:"zscore_threshold"`
	MirageRatioCutoff float64 `yaml:"mirage_ratio_cutoff" mapstructure:"mirage_ratio_cutoff"`
	MiragePercentile  float64 `yaml:"mirage_percentile" mapstructure:"mirage_percentile"`
	Contamination     float64 `yaml:"contamination" mapstructure:"contamination"`
	Seed              uint64  `yaml:"seed" mapstructure:"seed"`
	Trees             int     `yaml:"trees" mapstructure:"trees"`
	SampleSize        int     `yaml:"sample_size" mapstructure:"sample_size"`
}

// ClusterConfig holds clustering defaults.
type ClusterConfig struct {
	ColdEps        float64 `yaml:"cold_eps" mapstructure:"cold_eps"`
	ColdMinPoints  int     `yaml:"cold_min_points" mapstructure:"cold_min_points"`
	ColdLimit      int     `yaml:"cold_limit" mapstructure:"cold_limit"`
	HotK           int     `yaml:"hot_k" mapstructure:"hot_k"`
	HotLimit       int     `yaml:"hot_limit" mapstructure:"hot_limit"`
	Seed           uint64  `yaml:"seed" mapstructure:"seed"`
	KMeansRestarts int     `yaml:"kmeans_restarts" mapstructure:"kmeans_restarts"`
	LabelStorePath string  `yaml:"label_store_path" mapstructure:"label_store_path"` // empty keeps labels in memory
}

// ForecastConfig holds forecast defaults.
type ForecastConfig struct {
	Horizon   int `yaml:"horizon" mapstructure:"horizon"`
	Window    int `yaml:"window" mapstructure:"window"`
	MinPoints int `yaml:"min_points" mapstructure:"min_points"`
}

// AsOfTime parses engine.as_of. The zero time means "time of each load".
func (c *EngineConfig) AsOfTime() (time.Time, error) {
	if c.AsOf == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, c.AsOf)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "config: parse engine.as_of %q", c.AsOf)
	}
	return t, nil
}

// Validate checks the settings required by the given command mode.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be between 1 and 65535")
		}
		if c.Server.RateLimitRPS < 0 {
			errs = append(errs, "server.rate_limit_rps must not be negative")
		}
		if c.Engine.RefreshIntervalSecs < 0 {
			errs = append(errs, "engine.refresh_interval_secs must not be negative")
		}
		errs = append(errs, c.engineErrors()...)
	case "compute":
		errs = append(errs, c.engineErrors()...)
	case "import", "migrate", "status":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "", "sqlite":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for the postgres driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q must be sqlite or postgres", c.Store.Driver))
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) engineErrors() []string {
	var errs []string
	if c.Engine.MaxConcurrentComputations < 1 || c.Engine.MaxConcurrentComputations > 64 {
		errs = append(errs, "engine.max_concurrent_computations must be between 1 and 64")
	}
	if c.Engine.ComputeTimeoutSecs < 1 {
		errs = append(errs, "engine.compute_timeout_secs must be at least 1")
	}
	if _, err := c.Engine.AsOfTime(); err != nil {
		errs = append(errs, "engine.as_of must be YYYY-MM-DD")
	}
	if c.Anomaly.ZScoreThreshold <= 0 {
		errs = append(errs, "anomaly.zscore_threshold must be > 0")
	}
	if c.Anomaly.Contamination <= 0 || c.Anomaly.Contamination >= 0.5 {
		errs = append(errs, "anomaly.contamination must be in (0, 0.5)")
	}
	if c.Anomaly.MiragePercentile <= 0 || c.Anomaly.MiragePercentile > 100 {
		errs = append(errs, "anomaly.mirage_percentile must be in (0, 100]")
	}
	if c.Cluster.ColdEps <= 0 {
		errs = append(errs, "cluster.cold_eps must be > 0")
	}
	if c.Cluster.HotK < 1 {
		errs = append(errs, "cluster.hot_k must be at least 1")
	}
	if c.Forecast.Horizon < 1 {
		errs = append(errs, "forecast.horizon must be at least 1")
	}
	return errs
}

// Load reads configuration from .env, file and environment.
func Load() (*Config, error) {
	// .env is optional; real environment variables take precedence.
	_ = godotenv.Load()

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("INSIGHT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.rate_limit_rps", 0)
	v.SetDefault("server.rate_limit_burst", 20)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("engine.refresh_interval_secs", 0)
	v.SetDefault("engine.as_of", "")
	v.SetDefault("engine.population_file", "")
	v.SetDefault("engine.compute_timeout_secs", 30)
	v.SetDefault("engine.max_concurrent_computations", 4)
	v.SetDefault("engine.cache_ttl_secs", 300)
	v.SetDefault("engine.cache_max_entries", 512)
	v.SetDefault("engine.load_attempts", 3)
	v.SetDefault("engine.load_backoff_ms", 500)
	v.SetDefault("anomaly.zscore_threshold", 2.0)
	v.SetDefault("anomaly.mirage_ratio_cutoff", 0.05)
	v.SetDefault("anomaly.mirage_percentile", 90.0)
	v.SetDefault("anomaly.contamination", 0.01)
	v.SetDefault("anomaly.seed", 42)
	v.SetDefault("anomaly.trees", 100)
	v.SetDefault("anomaly.sample_size", 256)
	v.SetDefault("cluster.cold_eps", 0.5)
	v.SetDefault("cluster.cold_min_points", 3)
	v.SetDefault("cluster.cold_limit", 500)
	v.SetDefault("cluster.hot_k", 5)
	v.SetDefault("cluster.hot_limit", 300)
	v.SetDefault("cluster.seed", 42)
	v.SetDefault("cluster.kmeans_restarts", 10)
	v.SetDefault("cluster.label_store_path", "")
	v.SetDefault("forecast.horizon", 7)
	v.SetDefault("forecast.window", 0)
	v.SetDefault("forecast.min_points", 3)

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
