package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rpattn/formview/internal/db"
	"github.com/rpattn/formview/internal/search"
)

// EnvPrefix prefixes environment overrides, e.g. FORMVIEW_STORE_ENGINE.
const EnvPrefix = "FORMVIEW"

// Store engines.
const (
	EngineMemory   = "memory"
	EngineSQLite   = "sqlite"
	EnginePostgres = "postgres"
)

type LogConfig struct {
	Format string
	Level  string
}

type StoreConfig struct {
	Engine string
	// Path is the SQLite database file.
	Path string
	// Workbook is loaded into the memory store at startup.
	Workbook string
}

type CacheConfig struct {
	MaxElements int64
	TotalTTL    time.Duration
}

type RankConfig struct {
	BaseTTL    time.Duration
	FailureTTL time.Duration
}

type SearchConfig struct {
	CreatedByAttributes []string
}

type HTTPConfig struct {
	Addr           string
	AllowedOrigins []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

type ViewsConfig struct {
	Path string
}

// Config is the complete runtime configuration.
type Config struct {
	Log      LogConfig
	Store    StoreConfig
	Database db.Config
	Cache    CacheConfig
	Rank     RankConfig
	Search   SearchConfig
	HTTP     HTTPConfig
	Views    ViewsConfig
	// File is the config file that was read, empty when none was found.
	File string
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		Log:      LogConfig{Format: "text", Level: "info"},
		Store:    StoreConfig{Engine: EngineMemory, Path: "formview.db"},
		Database: db.DefaultConfig(),
		Cache:    CacheConfig{MaxElements: 10000, TotalTTL: 30 * time.Second},
		Rank:     RankConfig{BaseTTL: 10 * time.Second, FailureTTL: 30 * time.Second},
		Search:   SearchConfig{CreatedByAttributes: append([]string(nil), search.DefaultUserAttributes...)},
		HTTP: HTTPConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000"},
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   15 * time.Second,
		},
		Views: ViewsConfig{Path: "views.yaml"},
	}
}

// Load reads config.yaml from configPath, then applies FORMVIEW_* environment
// overrides. A missing file is not an error.
func Load(configPath string) (Config, error) {
	v := viper.New()
	return LoadWith(v, configPath)
}

// LoadWith is Load on a caller-provided viper instance, so command flags bound
// to it take precedence.
func LoadWith(v *viper.Viper, configPath string) (Config, error) {
	cfg := DefaultConfig()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		cfg.File = v.ConfigFileUsed()
	}

	cfg.Log.Format = v.GetString("log.format")
	cfg.Log.Level = v.GetString("log.level")

	cfg.Store.Engine = strings.ToLower(v.GetString("store.engine"))
	cfg.Store.Path = v.GetString("store.path")
	cfg.Store.Workbook = v.GetString("store.workbook")

	cfg.Database.Host = v.GetString("database.host")
	cfg.Database.Port = v.GetInt("database.port")
	cfg.Database.User = v.GetString("database.user")
	cfg.Database.Password = v.GetString("database.password")
	cfg.Database.DBName = v.GetString("database.dbname")
	cfg.Database.SSLMode = v.GetString("database.sslmode")
	cfg.Database.MaxConns = v.GetInt32("database.max_conns")

	cfg.Cache.MaxElements = v.GetInt64("cache.max_elements")
	cfg.Cache.TotalTTL = v.GetDuration("cache.total_ttl")

	cfg.Rank.BaseTTL = v.GetDuration("rank.base_ttl")
	cfg.Rank.FailureTTL = v.GetDuration("rank.failure_ttl")

	cfg.Search.CreatedByAttributes = v.GetStringSlice("search.created_by_attributes")

	cfg.HTTP.Addr = v.GetString("http.addr")
	cfg.HTTP.AllowedOrigins = v.GetStringSlice("http.allowed_origins")
	cfg.HTTP.ReadTimeout = v.GetDuration("http.read_timeout")
	cfg.HTTP.WriteTimeout = v.GetDuration("http.write_timeout")

	cfg.Views.Path = v.GetString("views.path")

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("store.engine", cfg.Store.Engine)
	v.SetDefault("store.path", cfg.Store.Path)
	v.SetDefault("store.workbook", cfg.Store.Workbook)
	v.SetDefault("database.host", cfg.Database.Host)
	v.SetDefault("database.port", cfg.Database.Port)
	v.SetDefault("database.user", cfg.Database.User)
	v.SetDefault("database.password", cfg.Database.Password)
	v.SetDefault("database.dbname", cfg.Database.DBName)
	v.SetDefault("database.sslmode", cfg.Database.SSLMode)
	v.SetDefault("database.max_conns", cfg.Database.MaxConns)
	v.SetDefault("cache.max_elements", cfg.Cache.MaxElements)
	v.SetDefault("cache.total_ttl", cfg.Cache.TotalTTL)
	v.SetDefault("rank.base_ttl", cfg.Rank.BaseTTL)
	v.SetDefault("rank.failure_ttl", cfg.Rank.FailureTTL)
	v.SetDefault("search.created_by_attributes", cfg.Search.CreatedByAttributes)
	v.SetDefault("http.addr", cfg.HTTP.Addr)
	v.SetDefault("http.allowed_origins", cfg.HTTP.AllowedOrigins)
	v.SetDefault("http.read_timeout", cfg.HTTP.ReadTimeout)
	v.SetDefault("http.write_timeout", cfg.HTTP.WriteTimeout)
	v.SetDefault("views.path", cfg.Views.Path)
}

// Validate rejects settings the engine cannot start with.
func (c Config) Validate() error {
	switch c.Store.Engine {
	case EngineMemory, EngineSQLite, EnginePostgres:
	default:
		return fmt.Errorf("unknown store engine %q", c.Store.Engine)
	}
	if c.Store.Engine == EngineSQLite && c.Store.Path == "" {
		return errors.New("store.path is required for the sqlite engine")
	}
	if c.Rank.FailureTTL < 0 || c.Rank.BaseTTL < 0 || c.Cache.TotalTTL < 0 {
		return errors.New("ttl values must not be negative")
	}
	return nil
}
