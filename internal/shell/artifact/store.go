// Package artifact persists deployed units' interface descriptors and
// addresses for downstream consumers.
//
// Every backend writes the two fields of a record as one logical unit: either
// transactionally (SQLite, Redis) or by removing the address first and writing
// it last, so a record without an address reads as ErrIncompleteRecord
// (files, object storage).
package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/artpar/deployseq/internal/core/domain"
)

// =============================================================================
// Store Interface
// =============================================================================

// Store defines the persistence interface for artifact records.
type Store interface {
	// Persist writes the descriptor and address of unit, replacing any
	// previous record. The address is stored in the configured case.
	Persist(ctx context.Context, unit string, iface json.RawMessage, address string) error

	// Get returns the complete record of unit.
	Get(ctx context.Context, unit string) (*domain.ArtifactRecord, error)

	// List returns all complete records sorted by unit name.
	List(ctx context.Context) ([]domain.ArtifactRecord, error)

	// Close releases backend resources.
	Close() error
}

// HistoryStore is implemented by backends that keep every persisted version
// of a record.
type HistoryStore interface {
	History(ctx context.Context, unit string) ([]domain.ArtifactRecord, error)
}

// =============================================================================
// Shared Helpers
// =============================================================================

// validate checks a record before it is written and returns the normalized
// address.
func validate(op, unit string, iface json.RawMessage, address string, cn domain.CaseNormalization) (string, error) {
	if err := validateUnit(op, unit); err != nil {
		return "", err
	}
	if len(bytes.TrimSpace(iface)) == 0 || !json.Valid(iface) {
		return "", NewStoreError(op, unit, domain.FieldInterface, "interface descriptor is not valid JSON", ErrInvalidData)
	}
	normalized := cn.Normalize(address)
	if normalized == "" {
		return "", NewStoreError(op, unit, domain.FieldAddress, "address is required", ErrInvalidData)
	}
	return normalized, nil
}

// validateUnit rejects names that cannot be used as a storage key on every
// backend.
func validateUnit(op, unit string) error {
	switch {
	case strings.TrimSpace(unit) == "":
		return NewStoreError(op, "", "", "unit name is required", ErrInvalidData)
	case strings.ContainsAny(unit, `/\`) || strings.HasPrefix(unit, "."):
		return NewStoreError(op, unit, "", "unit name must not contain path separators or start with a dot", ErrInvalidData)
	}
	return nil
}

// confirm emits the per-field confirmation message.
func confirm(logger *slog.Logger, backend, unit, field string) {
	logger.Info("artifact field persisted",
		"backend", backend,
		"unit", unit,
		"field", field,
	)
}

func sortRecords(records []domain.ArtifactRecord) {
	sort.Slice(records, func(i, j int) bool { return records[i].Unit < records[j].Unit })
}

// =============================================================================
// MemoryStore
// =============================================================================

// MemoryStore implements Store in process memory. It backs dry runs and
// tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]domain.ArtifactRecord
	cn      domain.CaseNormalization
	logger  *slog.Logger
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(cn domain.CaseNormalization, logger *slog.Logger) *MemoryStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryStore{
		records: make(map[string]domain.ArtifactRecord),
		cn:      cn,
		logger:  logger,
		now:     time.Now,
	}
}

func (s *MemoryStore) Persist(ctx context.Context, unit string, iface json.RawMessage, address string) error {
	addr, err := validate("Persist", unit, iface, address, s.cn)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return NewStoreError("Persist", unit, "", "context done", err)
	}

	s.mu.Lock()
	s.records[unit] = domain.ArtifactRecord{
		Unit:      unit,
		Interface: append(json.RawMessage(nil), iface...),
		Address:   addr,
		UpdatedAt: s.now().UTC(),
	}
	s.mu.Unlock()

	confirm(s.logger, "memory", unit, domain.FieldInterface)
	confirm(s.logger, "memory", unit, domain.FieldAddress)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, unit string) (*domain.ArtifactRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[unit]
	if !ok {
		return nil, NewStoreError("Get", unit, "", "artifact not found", ErrNotFound)
	}
	return &rec, nil
}

func (s *MemoryStore) List(ctx context.Context) ([]domain.ArtifactRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := make([]domain.ArtifactRecord, 0, len(s.records))
	for _, rec := range s.records {
		records = append(records, rec)
	}
	sortRecords(records)
	return records, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
