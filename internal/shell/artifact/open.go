package artifact

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/artpar/deployseq/internal/core/domain"
)

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendS3     = "s3"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config selects and configures a backend.
type Config struct {
	Backend string
	Case    domain.CaseNormalization

	Dir       string // file backend
	SQLiteDSN string // sqlite backend
	S3        S3Config
	Redis     RedisConfig
}

// Open creates the store selected by cfg.Backend.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "artifact_store")

	switch strings.ToLower(cfg.Backend) {
	case "", BackendFile:
		return NewFileStore(cfg.Dir, cfg.Case, logger)
	case BackendSQLite:
		return NewSQLiteStore(cfg.SQLiteDSN, cfg.Case, logger)
	case BackendS3:
		return NewObjectStore(ctx, cfg.S3, cfg.Case, logger)
	case BackendRedis:
		return NewRedisStore(ctx, cfg.Redis, cfg.Case, logger)
	case BackendMemory:
		return NewMemoryStore(cfg.Case, logger), nil
	default:
		return nil, NewStoreError("Open", "", "", fmt.Sprintf("backend %q", cfg.Backend), ErrUnknownBackend)
	}
}
