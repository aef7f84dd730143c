package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Data      DataConfig      `yaml:"data" mapstructure:"data"`
	Geo       GeoConfig       `yaml:"geo" mapstructure:"geo"`
	TigerWeb  TigerWebConfig  `yaml:"tigerweb" mapstructure:"tigerweb"`
	Tiger     TigerConfig     `yaml:"tiger" mapstructure:"tiger"`
	Walkscore WalkscoreConfig `yaml:"walkscore" mapstructure:"walkscore"`
	Notion    NotionConfig    `yaml:"notion" mapstructure:"notion"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the run/cache database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// DataConfig locates the tabular inputs and output directories.
type DataConfig struct {
	ZHVIDir      string `yaml:"zhvi_dir" mapstructure:"zhvi_dir"`
	ZORIDir      string `yaml:"zori_dir" mapstructure:"zori_dir"`
	SpatialDir   string `yaml:"spatial_dir" mapstructure:"spatial_dir"`
	WalkscoreCSV string `yaml:"walkscore_csv" mapstructure:"walkscore_csv"`
	CSVDir       string `yaml:"csv_dir" mapstructure:"csv_dir"`
	GeoJSONDir   string `yaml:"geojson_dir" mapstructure:"geojson_dir"`
	SourcesFile  string `yaml:"sources_file" mapstructure:"sources_file"`
}

// GeoConfig selects the geographic unit source and granularity.
type GeoConfig struct {
	Source    string `yaml:"source" mapstructure:"source"`
	Geography string `yaml:"geography" mapstructure:"geography"`
}

// TigerWebConfig configures the TIGERweb REST client.
type TigerWebConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int     `yaml:"max_retries" mapstructure:"max_retries"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// TigerConfig configures TIGER/Line shapefile downloads.
type TigerConfig struct {
	Year        int    `yaml:"year" mapstructure:"year"`
	TempDir     string `yaml:"temp_dir" mapstructure:"temp_dir"`
	Transport   string `yaml:"transport" mapstructure:"transport"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// WalkscoreConfig configures the walkability scraper.
type WalkscoreConfig struct {
	BaseURL          string  `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs      int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries       int     `yaml:"max_retries" mapstructure:"max_retries"`
	RatePerSec       float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	FailureThreshold int     `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int     `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// NotionConfig holds Notion API credentials and the target database ID.
type NotionConfig struct {
	Token          string `yaml:"token" mapstructure:"token"`
	NeighborhoodDB string `yaml:"neighborhood_db" mapstructure:"neighborhood_db"`
}

// PipelineConfig configures fusion behavior.
type PipelineConfig struct {
	Workers  int  `yaml:"workers" mapstructure:"workers"`
	UseCache bool `yaml:"use_cache" mapstructure:"use_cache"`
}

// ServerConfig configures the preview server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
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
	v.SetEnvPrefix("ATLAS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "atlas.db")
	v.SetDefault("data.zhvi_dir", "data/zhvi")
	v.SetDefault("data.zori_dir", "data/zori")
	v.SetDefault("data.spatial_dir", "data/spatial")
	v.SetDefault("data.csv_dir", "out")
	v.SetDefault("data.geojson_dir", "out")
	v.SetDefault("geo.source", "tigerweb")
	v.SetDefault("geo.geography", "tract")
	v.SetDefault("tigerweb.base_url", "https://tigerweb.geo.census.gov/arcgis/rest/services/TIGERweb/Tracts_Blocks/MapServer")
	v.SetDefault("tigerweb.timeout_secs", 60)
	v.SetDefault("tigerweb.max_retries", 4)
	v.SetDefault("tigerweb.rate_per_sec", 5)
	v.SetDefault("tiger.year", 2024)
	v.SetDefault("tiger.temp_dir", "/tmp/atlas-tiger")
	v.SetDefault("tiger.transport", "https")
	v.SetDefault("tiger.timeout_secs", 120)
	v.SetDefault("walkscore.base_url", "https://www.walkscore.com")
	v.SetDefault("walkscore.timeout_secs", 30)
	v.SetDefault("walkscore.max_retries", 3)
	v.SetDefault("walkscore.rate_per_sec", 1)
	v.SetDefault("walkscore.failure_threshold", 5)
	v.SetDefault("walkscore.reset_timeout_secs", 60)
	v.SetDefault("pipeline.workers", 8)
	v.SetDefault("pipeline.use_cache", true)
	v.SetDefault("server.port", 8080)
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

// Validate checks the configuration for the given command mode.
func (c *Config) Validate(mode string) error {
	var problems []string

	requireStore := func() {
		if c.Store.Driver != "sqlite" && c.Store.Driver != "postgres" {
			problems = append(problems, "store.driver must be sqlite or postgres")
		}
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
	}

	switch mode {
	case "fuse":
		if c.Geo.Source != "tigerweb" && c.Geo.Source != "shapefile" {
			problems = append(problems, "geo.source must be tigerweb or shapefile")
		}
		switch c.Geo.Geography {
		case "tract", "block_group", "block":
		default:
			problems = append(problems, "geo.geography must be tract, block_group, or block")
		}
		if c.Pipeline.Workers < 1 || c.Pipeline.Workers > 64 {
			problems = append(problems, "pipeline.workers must be between 1 and 64")
		}
		if c.Data.ZHVIDir == "" || c.Data.ZORIDir == "" || c.Data.SpatialDir == "" {
			problems = append(problems, "data.zhvi_dir, data.zori_dir, and data.spatial_dir are required")
		}
	case "walkscore":
		if c.Walkscore.BaseURL == "" {
			problems = append(problems, "walkscore.base_url is required")
		}
	case "boundaries", "runs":
		requireStore()
	case "publish":
		if c.Notion.Token == "" {
			problems = append(problems, "notion.token is required")
		}
		if c.Notion.NeighborhoodDB == "" {
			problems = append(problems, "notion.neighborhood_db is required")
		}
	case "serve":
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
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
