package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/artpar/deployseq/internal/core/domain"
	"github.com/artpar/deployseq/internal/shell/artifact"
	"github.com/artpar/deployseq/internal/shell/evm"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Log    LogConfig    `mapstructure:"log"`
	Store  StoreConfig  `mapstructure:"store"`
	Chain  ChainConfig  `mapstructure:"chain"`
	Plan   PlanConfig   `mapstructure:"plan"`
	Server ServerConfig `mapstructure:"server"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StoreConfig selects the artifact store backend.
type StoreConfig struct {
	Backend string            `mapstructure:"backend"`
	Case    string            `mapstructure:"case"`
	File    FileStoreConfig   `mapstructure:"file"`
	SQLite  SQLiteStoreConfig `mapstructure:"sqlite"`
	S3      S3StoreConfig     `mapstructure:"s3"`
	Redis   RedisStoreConfig  `mapstructure:"redis"`
}

// FileStoreConfig holds the file backend settings.
type FileStoreConfig struct {
	Dir string `mapstructure:"dir"`
}

// SQLiteStoreConfig holds the SQLite backend settings.
type SQLiteStoreConfig struct {
	DSN string `mapstructure:"dsn"`
}

// S3StoreConfig holds the S3 compatible backend settings.
type S3StoreConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// RedisStoreConfig holds the Redis backend settings.
type RedisStoreConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// ChainConfig holds the chain connection used by the deployer.
type ChainConfig struct {
	RPCURL        string        `mapstructure:"rpc_url"`
	ChainID       int64         `mapstructure:"chain_id"`
	PrivateKey    string        `mapstructure:"private_key"`
	DeployTimeout time.Duration `mapstructure:"deploy_timeout"`
	GasLimit      uint64        `mapstructure:"gas_limit"`
}

// PlanConfig locates the deployment manifest and build artifacts.
type PlanConfig struct {
	Path            string `mapstructure:"path"`
	ArtifactsDir    string `mapstructure:"artifacts_dir"`
	IncludeOptional bool   `mapstructure:"include_optional"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address returns the server address in host:port format.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ArtifactConfig converts the store section for artifact.Open.
func (c StoreConfig) ArtifactConfig() (artifact.Config, error) {
	cn, err := domain.ParseCaseNormalization(c.Case)
	if err != nil {
		return artifact.Config{}, err
	}
	return artifact.Config{
		Backend:   c.Backend,
		Case:      cn,
		Dir:       c.File.Dir,
		SQLiteDSN: c.SQLite.DSN,
		S3: artifact.S3Config{
			Endpoint:  c.S3.Endpoint,
			AccessKey: c.S3.AccessKey,
			SecretKey: c.S3.SecretKey,
			Region:    c.S3.Region,
			UseSSL:    c.S3.UseSSL,
			Bucket:    c.S3.Bucket,
			Prefix:    c.S3.Prefix,
		},
		Redis: artifact.RedisConfig{
			Addr:     c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
			Prefix:   c.Redis.Prefix,
		},
	}, nil
}

// EVMConfig converts the chain section for evm.Dial.
func (c ChainConfig) EVMConfig() evm.Config {
	return evm.Config{
		RPCURL:        c.RPCURL,
		ChainID:       c.ChainID,
		PrivateKey:    c.PrivateKey,
		DeployTimeout: c.DeployTimeout,
		GasLimit:      c.GasLimit,
	}
}

// =============================================================================
// Config Loading
// =============================================================================

// FlagBinding maps a command line flag onto a config key. A flag that was
// set on the command line wins over file and environment values.
type FlagBinding struct {
	Key  string
	Flag *pflag.Flag
}

// LoadConfig loads configuration from file, environment and flags.
func LoadConfig(configPath string, flags ...FlagBinding) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("store.backend", artifact.BackendFile)
	v.SetDefault("store.case", string(domain.DefaultCaseNormalization))
	v.SetDefault("store.file.dir", "./deployed")
	v.SetDefault("store.sqlite.dsn", "./data/artifacts.db")
	v.SetDefault("store.s3.endpoint", "")
	v.SetDefault("store.s3.access_key", "")
	v.SetDefault("store.s3.secret_key", "")
	v.SetDefault("store.s3.region", "us-east-1")
	v.SetDefault("store.s3.use_ssl", false)
	v.SetDefault("store.s3.bucket", "deployseq")
	v.SetDefault("store.s3.prefix", "")
	v.SetDefault("store.redis.addr", "localhost:6379")
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.redis.prefix", "deployseq:")
	v.SetDefault("chain.rpc_url", "http://localhost:8545")
	v.SetDefault("chain.chain_id", 0) // 0 asks the node
	v.SetDefault("chain.private_key", "")
	v.SetDefault("chain.deploy_timeout", "5m")
	v.SetDefault("chain.gas_limit", 0)
	v.SetDefault("plan.path", "./deploy.yaml")
	v.SetDefault("plan.artifacts_dir", "./build/contracts")
	v.SetDefault("plan.include_optional", false)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Load from file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// Only return error if file was explicitly specified and is invalid
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			// File not found is OK, we'll use defaults
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix("DEPLOYSEQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, b := range flags {
		if b.Flag == nil {
			continue
		}
		if err := v.BindPFlag(b.Key, b.Flag); err != nil {
			return nil, fmt.Errorf("failed to bind flag %s: %w", b.Flag.Name, err)
		}
	}

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format. Logs go
// to stderr so command output on stdout stays machine readable.
func SetupLogger(cfg *Config) *slog.Logger {
	return newLogger(cfg, os.Stderr)
}

func newLogger(cfg *Config, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}
