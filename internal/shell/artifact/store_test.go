package artifact_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/artpar/deployseq/internal/core/domain"
	"github.com/artpar/deployseq/internal/shell/artifact"
	"github.com/artpar/deployseq/internal/shell/artifact/artifacttest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Contract Runs
// =============================================================================

func TestMemoryStore_Contract(t *testing.T) {
	artifacttest.Run(t, func(t *testing.T, cn domain.CaseNormalization) artifact.Store {
		return artifact.NewMemoryStore(cn, nil)
	})
}

func TestFileStore_Contract(t *testing.T) {
	artifacttest.Run(t, func(t *testing.T, cn domain.CaseNormalization) artifact.Store {
		store, err := artifact.NewFileStore(t.TempDir(), cn, nil)
		require.NoError(t, err)
		return store
	})
}

func TestSQLiteStore_Contract(t *testing.T) {
	artifacttest.Run(t, func(t *testing.T, cn domain.CaseNormalization) artifact.Store {
		return setupSQLiteStore(t, cn)
	})
}

func TestObjectStore_Contract(t *testing.T) {
	endpoint := os.Getenv("DEPLOYSEQ_TEST_S3_ENDPOINT")
	if endpoint == "" {
		t.Skip("DEPLOYSEQ_TEST_S3_ENDPOINT not set")
	}
	artifacttest.Run(t, func(t *testing.T, cn domain.CaseNormalization) artifact.Store {
		store, err := artifact.NewObjectStore(context.Background(), artifact.S3Config{
			Endpoint:  endpoint,
			AccessKey: os.Getenv("DEPLOYSEQ_TEST_S3_ACCESS_KEY"),
			SecretKey: os.Getenv("DEPLOYSEQ_TEST_S3_SECRET_KEY"),
			Region:    "us-east-1",
			Bucket:    "deployseq-test",
			Prefix:    "test-" + uuid.NewString() + "/",
		}, cn, nil)
		require.NoError(t, err)
		return store
	})
}

func TestRedisStore_Contract(t *testing.T) {
	addr := os.Getenv("DEPLOYSEQ_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("DEPLOYSEQ_TEST_REDIS_ADDR not set")
	}
	artifacttest.Run(t, func(t *testing.T, cn domain.CaseNormalization) artifact.Store {
		store, err := artifact.NewRedisStore(context.Background(), artifact.RedisConfig{
			Addr:   addr,
			Prefix: "deployseq-test:" + uuid.NewString() + ":",
		}, cn, nil)
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
		return store
	})
}

// =============================================================================
// Test Helpers
// =============================================================================

func setupSQLiteStore(t *testing.T, cn domain.CaseNormalization) *artifact.SQLiteStore {
	t.Helper()
	store, err := artifact.NewSQLiteStore(":memory:", cn, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// =============================================================================
// FileStore Tests
// =============================================================================

func TestFileStore_Layout(t *testing.T) {
	dir := t.TempDir()
	store, err := artifact.NewFileStore(dir, domain.CaseLowercase, nil)
	require.NoError(t, err)

	abi := json.RawMessage(`[{"type":"constructor"}]`)
	require.NoError(t, store.Persist(context.Background(), "MineralNFT", abi, "0xABCDEF"))

	addr, err := os.ReadFile(filepath.Join(dir, "MineralNFT.address"))
	require.NoError(t, err)
	assert.Equal(t, "0xabcdef", string(addr))

	iface, err := os.ReadFile(filepath.Join(dir, "MineralNFT.interfaceDescriptor"))
	require.NoError(t, err)
	assert.JSONEq(t, string(abi), string(iface))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "no temp files may be left behind")
}

func TestFileStore_DescriptorWithoutAddressIsIncomplete(t *testing.T) {
	dir := t.TempDir()
	store, err := artifact.NewFileStore(dir, domain.CaseLowercase, nil)
	require.NoError(t, err)

	// Simulates a write interrupted between the two fields
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Token.interfaceDescriptor"), []byte(`[]`), 0o644))

	_, err = store.Get(context.Background(), "Token")
	assert.True(t, errors.Is(err, artifact.ErrIncompleteRecord), "got %v", err)

	records, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)

	// A later persist completes the record
	require.NoError(t, store.Persist(context.Background(), "Token", json.RawMessage(`[]`), "0xAA"))
	rec, err := store.Get(context.Background(), "Token")
	require.NoError(t, err)
	assert.Equal(t, "0xaa", rec.Address)
}

func TestFileStore_CanceledContextLeavesNoAddress(t *testing.T) {
	dir := t.TempDir()
	store, err := artifact.NewFileStore(dir, domain.CaseLowercase, nil)
	require.NoError(t, err)
	require.NoError(t, store.Persist(context.Background(), "Token", json.RawMessage(`[]`), "0xAA"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = store.Persist(ctx, "Token", json.RawMessage(`[1]`), "0xBB")
	require.Error(t, err)

	_, err = store.Get(context.Background(), "Token")
	assert.True(t, errors.Is(err, artifact.ErrIncompleteRecord), "stale address must not survive: %v", err)
}

// =============================================================================
// SQLiteStore Tests
// =============================================================================

func TestSQLiteStore_History(t *testing.T) {
	store := setupSQLiteStore(t, domain.CaseLowercase)
	ctx := context.Background()

	require.NoError(t, store.Persist(ctx, "Token", json.RawMessage(`[]`), "0xAA"))
	require.NoError(t, store.Persist(ctx, "Token", json.RawMessage(`[1]`), "0xBB"))
	require.NoError(t, store.Persist(ctx, "Market", json.RawMessage(`[]`), "0xCC"))

	history, err := store.History(ctx, "Token")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "0xaa", history[0].Address)
	assert.Equal(t, "0xbb", history[1].Address)
	assert.False(t, history[1].UpdatedAt.IsZero())

	var hs artifact.HistoryStore = store
	_, err = hs.History(ctx, "Missing")
	assert.NoError(t, err)
}

func TestSQLiteStore_FileBacked(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "artifacts.db")

	store, err := artifact.NewSQLiteStore(dsn, domain.CaseLowercase, nil)
	require.NoError(t, err)
	require.NoError(t, store.Persist(context.Background(), "Token", json.RawMessage(`[]`), "0xAA"))
	require.NoError(t, store.Close())

	// Reopening runs migrations again without error and keeps the data
	store, err = artifact.NewSQLiteStore(dsn, domain.CaseLowercase, nil)
	require.NoError(t, err)
	defer store.Close()

	rec, err := store.Get(context.Background(), "Token")
	require.NoError(t, err)
	assert.Equal(t, "0xaa", rec.Address)
}

// =============================================================================
// Open Tests
// =============================================================================

func TestOpen(t *testing.T) {
	ctx := context.Background()

	store, err := artifact.Open(ctx, artifact.Config{Backend: "file", Dir: t.TempDir()}, nil)
	require.NoError(t, err)
	assert.IsType(t, &artifact.FileStore{}, store)

	store, err = artifact.Open(ctx, artifact.Config{Backend: "sqlite", SQLiteDSN: ":memory:"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &artifact.SQLiteStore{}, store)
	store.Close()

	store, err = artifact.Open(ctx, artifact.Config{Backend: "memory"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &artifact.MemoryStore{}, store)

	_, err = artifact.Open(ctx, artifact.Config{Backend: "etcd"}, nil)
	assert.True(t, errors.Is(err, artifact.ErrUnknownBackend))

	_, err = artifact.Open(ctx, artifact.Config{Backend: "s3", S3: artifact.S3Config{Endpoint: "http://minio:9000"}}, nil)
	assert.True(t, errors.Is(err, artifact.ErrInvalidData))

	_, err = artifact.Open(ctx, artifact.Config{Backend: "redis"}, nil)
	assert.True(t, errors.Is(err, artifact.ErrInvalidData))
}

func TestS3Config_Validate(t *testing.T) {
	valid := artifact.S3Config{
		Endpoint:  "localhost:9000",
		AccessKey: "a",
		SecretKey: "b",
		Bucket:    "artifacts",
	}
	assert.NoError(t, valid.Validate())

	invalid := valid
	invalid.Endpoint = "http://localhost:9000"
	assert.Error(t, invalid.Validate())

	invalid = valid
	invalid.Bucket = ""
	assert.Error(t, invalid.Validate())
}
