package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/artpar/deployseq/internal/core/domain"
	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// RedisStore implements Store as one hash per unit,
// <prefix>artifact:<unit>, holding both fields. A write replaces the hash in
// a single MULTI/EXEC so readers never see half a record.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	cn     domain.CaseNormalization
	logger *slog.Logger
	now    func() time.Time
}

const redisUpdatedAt = "updatedAt"

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig, cn domain.CaseNormalization, logger *slog.Logger) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, NewStoreError("NewRedisStore", "", "", "address is required", ErrInvalidData)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, NewStoreError("NewRedisStore", "", "", err.Error(), ErrConnectionFailed)
	}
	return newRedisStore(client, cfg.Prefix, cn, logger), nil
}

func newRedisStore(client redis.UniversalClient, prefix string, cn domain.CaseNormalization, logger *slog.Logger) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	if prefix == "" {
		prefix = "deployseq:"
	}
	return &RedisStore{client: client, prefix: prefix, cn: cn, logger: logger, now: time.Now}
}

func (s *RedisStore) recordKey(unit string) string {
	return s.prefix + "artifact:" + unit
}

func (s *RedisStore) indexKey() string {
	return s.prefix + "units"
}

func (s *RedisStore) Persist(ctx context.Context, unit string, iface json.RawMessage, address string) error {
	addr, err := validate("Persist", unit, iface, address, s.cn)
	if err != nil {
		return err
	}

	key := s.recordKey(unit)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			domain.FieldInterface, string(iface),
			domain.FieldAddress, addr,
			redisUpdatedAt, s.now().UTC().Format(time.RFC3339Nano),
		)
		pipe.SAdd(ctx, s.indexKey(), unit)
		return nil
	})
	if err != nil {
		return NewStoreError("Persist", unit, "", err.Error(), ErrTxFailed)
	}

	confirm(s.logger, "redis", unit, domain.FieldInterface)
	confirm(s.logger, "redis", unit, domain.FieldAddress)
	return nil
}

func (s *RedisStore) Get(ctx context.Context, unit string) (*domain.ArtifactRecord, error) {
	if err := validateUnit("Get", unit); err != nil {
		return nil, err
	}

	fields, err := s.client.HGetAll(ctx, s.recordKey(unit)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, NewStoreError("Get", unit, "", err.Error(), err)
	}
	if len(fields) == 0 {
		return nil, NewStoreError("Get", unit, "", "artifact not found", ErrNotFound)
	}

	addr, hasAddr := fields[domain.FieldAddress]
	iface, hasIface := fields[domain.FieldInterface]
	if !hasAddr || !hasIface {
		return nil, NewStoreError("Get", unit, "", "record is missing a field", ErrIncompleteRecord)
	}

	rec := &domain.ArtifactRecord{
		Unit:      unit,
		Interface: json.RawMessage(iface),
		Address:   addr,
	}
	if t, err := time.Parse(time.RFC3339Nano, fields[redisUpdatedAt]); err == nil {
		rec.UpdatedAt = t
	}
	return rec, nil
}

func (s *RedisStore) List(ctx context.Context) ([]domain.ArtifactRecord, error) {
	units, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, NewStoreError("List", "", "", err.Error(), err)
	}
	sort.Strings(units)

	records := make([]domain.ArtifactRecord, 0, len(units))
	for _, unit := range units {
		rec, err := s.Get(ctx, unit)
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrIncompleteRecord) {
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
