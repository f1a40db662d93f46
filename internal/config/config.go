// Package config loads embedsync settings from defaults, an optional config
// file, a .env file and EMBEDSYNC_* environment variables, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/MereWhiplash/embedsync/internal/chunker"
	"github.com/MereWhiplash/embedsync/internal/embedder"
	"github.com/MereWhiplash/embedsync/internal/indexer"
	"github.com/MereWhiplash/embedsync/internal/storage"
)

// EnvPrefix namespaces environment overrides, e.g. EMBEDSYNC_STORAGE_DRIVER
const EnvPrefix = "EMBEDSYNC"

// Config holds all configuration for the embedsync commands
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Embedder EmbedderConfig `mapstructure:"embedder"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Server   ServerConfig   `mapstructure:"server"`
	Redis    RedisConfig    `mapstructure:"redis"`
	NATS     NATSConfig     `mapstructure:"nats"`
}

// LogConfig controls the slog handler
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text or json
}

func (l LogConfig) Validate() error {
	if _, err := parseLevel(l.Level); err != nil {
		return err
	}
	switch l.Format {
	case "text", "json":
		return nil
	}
	return fmt.Errorf("log.format must be text or json, got %q", l.Format)
}

// StorageConfig selects the database
type StorageConfig struct {
	Driver          string `mapstructure:"driver"`
	SQLitePath      string `mapstructure:"sqlite_path"`
	PostgresDSN     string `mapstructure:"postgres_dsn"`
	MongoDBURI      string `mapstructure:"mongodb_uri"`
	MongoDBDatabase string `mapstructure:"mongodb_database"`
	Dimensions      int    `mapstructure:"dimensions"`
}

func (s StorageConfig) Validate() error {
	switch s.Driver {
	case "sqlite":
		if strings.TrimSpace(s.SQLitePath) == "" {
			return fmt.Errorf("storage.sqlite_path is required for the sqlite driver")
		}
	case "postgres":
		if strings.TrimSpace(s.PostgresDSN) == "" {
			return fmt.Errorf("storage.postgres_dsn is required for the postgres driver")
		}
	case "mongodb":
		if strings.TrimSpace(s.MongoDBURI) == "" {
			return fmt.Errorf("storage.mongodb_uri is required for the mongodb driver")
		}
	default:
		return fmt.Errorf("storage.driver must be sqlite, postgres or mongodb, got %q", s.Driver)
	}
	if s.Dimensions <= 0 {
		return fmt.Errorf("storage.dimensions must be greater than zero")
	}
	return nil
}

// ToStorage converts to the storage factory config
func (s StorageConfig) ToStorage() storage.Config {
	return storage.Config{
		Driver:          s.Driver,
		SQLitePath:      s.SQLitePath,
		PostgresDSN:     s.PostgresDSN,
		Dimensions:      s.Dimensions,
		MongoDBURI:      s.MongoDBURI,
		MongoDBDatabase: s.MongoDBDatabase,
	}
}

// EmbedderConfig selects the embedding provider
type EmbedderConfig struct {
	Provider string        `mapstructure:"provider"`
	BaseURL  string        `mapstructure:"base_url"`
	APIKey   string        `mapstructure:"api_key"`
	FolderID string        `mapstructure:"folder_id"`
	Model    string        `mapstructure:"model"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (e EmbedderConfig) Validate() error {
	switch e.Provider {
	case "yandex":
		if e.APIKey == "" || e.FolderID == "" {
			return fmt.Errorf("embedder.api_key and embedder.folder_id are required for yandex")
		}
	case "openai":
		if e.APIKey == "" {
			return fmt.Errorf("embedder.api_key is required for openai")
		}
	case "ollama":
	default:
		return fmt.Errorf("embedder.provider must be yandex, openai or ollama, got %q", e.Provider)
	}
	return nil
}

// Identity names the provider and model, e.g. "ollama/nomic-embed-text".
// It keys content hashes so rows from another model are never reused.
func (e EmbedderConfig) Identity() string {
	model := e.Model
	if model == "" {
		model = "default"
	}
	return e.Provider + "/" + model
}

// ToEmbedder converts to the embedder factory config
func (e EmbedderConfig) ToEmbedder() embedder.Config {
	return embedder.Config{
		Provider: e.Provider,
		BaseURL:  e.BaseURL,
		APIKey:   e.APIKey,
		FolderID: e.FolderID,
		Model:    e.Model,
		Timeout:  e.Timeout,
	}
}

// SyncConfig tunes the sync pipeline
type SyncConfig struct {
	ChunkSize int           `mapstructure:"chunk_size"`
	Pacing    time.Duration `mapstructure:"pacing"`
	Mode      string        `mapstructure:"mode"`
	LockTTL   time.Duration `mapstructure:"lock_ttl"`
}

func (s SyncConfig) Validate() error {
	if s.ChunkSize <= 0 {
		return fmt.Errorf("sync.chunk_size must be greater than zero")
	}
	if s.Pacing < 0 {
		return fmt.Errorf("sync.pacing must not be negative")
	}
	if s.LockTTL <= 0 {
		return fmt.Errorf("sync.lock_ttl must be greater than zero")
	}
	_, err := indexer.ParseMode(s.Mode)
	return err
}

// Options converts to indexer options. Locker, Metrics and Logger are left
// for the caller to wire.
func (s SyncConfig) Options() indexer.Options {
	mode, _ := indexer.ParseMode(s.Mode)
	return indexer.Options{
		ChunkSize: s.ChunkSize,
		Pacing:    s.Pacing,
		Mode:      mode,
		LockTTL:   s.LockTTL,
	}
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Addr           string        `mapstructure:"addr"`
	AdminToken     string        `mapstructure:"admin_token"`
	RateLimit      int           `mapstructure:"rate_limit"`
	CORSOrigins    []string      `mapstructure:"cors_origins"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	AccessLog      bool          `mapstructure:"access_log"`
	Metrics        bool          `mapstructure:"metrics"`
}

func (s ServerConfig) Validate() error {
	if strings.TrimSpace(s.Addr) == "" {
		return fmt.Errorf("server.addr is required")
	}
	if s.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit must not be negative")
	}
	if s.WriteTimeout <= 0 || s.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout and server.write_timeout must be greater than zero")
	}
	return nil
}

// RedisConfig enables the shared sync lock when Addr is set
type RedisConfig struct {
	Addr       string `mapstructure:"addr"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	LockPrefix string `mapstructure:"lock_prefix"`
}

// Enabled reports whether Redis is configured
func (r RedisConfig) Enabled() bool { return r.Addr != "" }

// NATSConfig enables message-created events when URL is set
type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
	Queue   string `mapstructure:"queue"`
}

// Enabled reports whether NATS is configured
func (n NATSConfig) Enabled() bool { return n.URL != "" }

// Validate checks the sections every command needs
func (c *Config) Validate() error {
	return errors.Join(
		c.Log.Validate(),
		c.Storage.Validate(),
		c.Embedder.Validate(),
		c.Sync.Validate(),
	)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.sqlite_path", "embedsync.db")
	v.SetDefault("storage.postgres_dsn", "")
	v.SetDefault("storage.mongodb_uri", "")
	v.SetDefault("storage.mongodb_database", "embedsync")
	v.SetDefault("storage.dimensions", storage.DefaultDimensions)

	v.SetDefault("embedder.provider", "yandex")
	v.SetDefault("embedder.base_url", "")
	v.SetDefault("embedder.api_key", "")
	v.SetDefault("embedder.folder_id", "")
	v.SetDefault("embedder.model", "")
	v.SetDefault("embedder.timeout", 30*time.Second)

	v.SetDefault("sync.chunk_size", chunker.DefaultSize)
	v.SetDefault("sync.pacing", indexer.DefaultPacing)
	v.SetDefault("sync.mode", string(indexer.ModeReplace))
	v.SetDefault("sync.lock_ttl", 10*time.Minute)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.admin_token", "")
	v.SetDefault("server.rate_limit", 100)
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Minute)
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("server.access_log", true)
	v.SetDefault("server.metrics", true)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lock_prefix", "embedsync:lock:")

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject", "embedsync.message.created")
	v.SetDefault("nats.queue", "embedsync-indexers")
}

// Load reads configuration. path may name a config file; when empty,
// embedsync.{yaml,json,toml} is looked up in . and ./config and is optional.
// A .env file in the working directory is loaded first when present.
// Load does not validate; commands validate the sections they use.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if path == "" {
		v.SetConfigName("embedsync")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return level, fmt.Errorf("log.level must be debug, info, warn or error, got %q", s)
	}
	return level, nil
}

// NewLogger builds a slog logger writing to w (stderr when nil)
func NewLogger(cfg LogConfig, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	level, err := parseLevel(cfg.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
