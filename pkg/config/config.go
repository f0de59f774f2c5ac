package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Blob      BlobConfig      `mapstructure:"blob"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Graph     GraphConfig     `mapstructure:"graph"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
	BodyLimit    int    `mapstructure:"body_limit"`
	Development  bool   `mapstructure:"development"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Host      string        `mapstructure:"host"`
	Port      int           `mapstructure:"port"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	StatusTTL time.Duration `mapstructure:"status_ttl"`
}

type BlobConfig struct {
	Backend   string `mapstructure:"backend"`
	Path      string `mapstructure:"path"`
	Endpoint  string `mapstructure:"endpoint"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

type LLMConfig struct {
	Provider    string  `mapstructure:"provider"`
	Model       string  `mapstructure:"model"`
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Temperature float32 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

type PipelineConfig struct {
	MaxRetries        int      `mapstructure:"max_retries"`
	WorkerTickMS      int      `mapstructure:"worker_tick_ms"`
	LMTimeoutMS       int      `mapstructure:"lm_timeout_ms"`
	ImportTxTimeoutMS int      `mapstructure:"import_tx_timeout_ms"`
	RetryDebounceMS   int      `mapstructure:"retry_debounce_ms"`
	MaxUploadBytes    int64    `mapstructure:"max_upload_bytes"`
	AcceptedMimeTypes []string `mapstructure:"accepted_mime_types"`
	DispatchWorkers   int      `mapstructure:"dispatch_workers"`
	DispatchQueue     int      `mapstructure:"dispatch_queue"`
	AutoImport        bool     `mapstructure:"auto_import"`
}

type GraphConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	URI      string `mapstructure:"uri"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

type RateLimitConfig struct {
	UploadsPerMinute int `mapstructure:"uploads_per_minute"`
	Burst            int `mapstructure:"burst"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

var defaultModels = map[string]string{
	"openai":    "gpt-4o-mini",
	"anthropic": "claude-3-5-haiku-latest",
	"gemini":    "gemini-2.5-flash",
}

func (p PipelineConfig) WorkerTick() time.Duration {
	return time.Duration(p.WorkerTickMS) * time.Millisecond
}

func (p PipelineConfig) LMTimeout() time.Duration {
	return time.Duration(p.LMTimeoutMS) * time.Millisecond
}

func (p PipelineConfig) ImportTxTimeout() time.Duration {
	return time.Duration(p.ImportTxTimeoutMS) * time.Millisecond
}

func (p PipelineConfig) RetryDebounce() time.Duration {
	return time.Duration(p.RetryDebounceMS) * time.Millisecond
}

// Load reads config.yaml (if any), .env (if any) and HRP_* environment
// variables on top of the defaults.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file path; an empty path searches
// the default locations.
func LoadFile(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/hr-platform")
	}

	v.SetEnvPrefix("HRP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite3", "pgx":
	default:
		return fmt.Errorf("unsupported database driver %q (sqlite3, pgx)", c.Database.Driver)
	}
	switch c.Blob.Backend {
	case "local_path", "s3_like":
	default:
		return fmt.Errorf("unsupported blob backend %q (local_path, s3_like)", c.Blob.Backend)
	}
	switch c.LLM.Provider {
	case "openai", "anthropic", "gemini":
	default:
		return fmt.Errorf("unsupported llm provider %q (openai, anthropic, gemini)", c.LLM.Provider)
	}
	if c.LLM.Model == "" {
		c.LLM.Model = defaultModels[c.LLM.Provider]
	}
	if c.Pipeline.MaxRetries < 1 {
		return fmt.Errorf("pipeline.max_retries must be at least 1, got %d", c.Pipeline.MaxRetries)
	}
	if c.Pipeline.MaxUploadBytes <= 0 {
		return fmt.Errorf("pipeline.max_upload_bytes must be positive")
	}
	if len(c.Pipeline.AcceptedMimeTypes) == 0 {
		return fmt.Errorf("pipeline.accepted_mime_types must not be empty")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)
	v.SetDefault("server.body_limit", 12*1024*1024)
	v.SetDefault("server.development", false)

	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", "./data/hrplatform.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.status_ttl", "2s")

	v.SetDefault("blob.backend", "local_path")
	v.SetDefault("blob.path", "./data/blobs")
	v.SetDefault("blob.bucket", "cv-uploads")
	v.SetDefault("blob.use_ssl", true)

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.max_tokens", 8192)

	v.SetDefault("pipeline.max_retries", 3)
	v.SetDefault("pipeline.worker_tick_ms", 30000)
	v.SetDefault("pipeline.lm_timeout_ms", 60000)
	v.SetDefault("pipeline.import_tx_timeout_ms", 30000)
	v.SetDefault("pipeline.retry_debounce_ms", 5000)
	v.SetDefault("pipeline.max_upload_bytes", 10*1024*1024)
	v.SetDefault("pipeline.accepted_mime_types", []string{
		"application/pdf",
		"application/msword",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	})
	v.SetDefault("pipeline.dispatch_workers", 4)
	v.SetDefault("pipeline.dispatch_queue", 64)
	v.SetDefault("pipeline.auto_import", true)

	v.SetDefault("graph.enabled", false)
	v.SetDefault("graph.uri", "bolt://localhost:7687")
	v.SetDefault("graph.username", "neo4j")
	v.SetDefault("graph.database", "neo4j")

	v.SetDefault("ratelimit.uploads_per_minute", 30)
	v.SetDefault("ratelimit.burst", 5)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output_path", "stdout")
}
