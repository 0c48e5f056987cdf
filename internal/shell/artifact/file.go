package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/artpar/deployseq/internal/core/domain"
)

// =============================================================================
// FileStore
// =============================================================================

// FileStore implements Store as two files per unit in a directory:
// <unit>.interfaceDescriptor and <unit>.address.
//
// Each file is replaced atomically. The address file is removed before the
// descriptor is written and written last, so its presence marks a complete
// record.
type FileStore struct {
	dir    string
	cn     domain.CaseNormalization
	logger *slog.Logger
}

// NewFileStore creates a file store rooted at dir, creating it if needed.
func NewFileStore(dir string, cn domain.CaseNormalization, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir == "" {
		dir = "./deployed"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, NewStoreError("NewFileStore", "", "", err.Error(), ErrConnectionFailed)
	}
	return &FileStore{dir: dir, cn: cn, logger: logger}, nil
}

// Dir returns the root directory of the store.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) path(unit, field string) string {
	return filepath.Join(s.dir, domain.Key(unit, field))
}

func (s *FileStore) Persist(ctx context.Context, unit string, iface json.RawMessage, address string) error {
	addr, err := validate("Persist", unit, iface, address, s.cn)
	if err != nil {
		return err
	}

	// Mark the record incomplete before touching the descriptor
	if err := os.Remove(s.path(unit, domain.FieldAddress)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return NewStoreError("Persist", unit, domain.FieldAddress, "failed to clear previous address", err)
	}

	if err := ctx.Err(); err != nil {
		return NewStoreError("Persist", unit, "", "context done", err)
	}
	if err := writeFileAtomic(s.path(unit, domain.FieldInterface), iface); err != nil {
		return NewStoreError("Persist", unit, domain.FieldInterface, err.Error(), err)
	}
	confirm(s.logger, "file", unit, domain.FieldInterface)

	if err := ctx.Err(); err != nil {
		return NewStoreError("Persist", unit, "", "context done", err)
	}
	if err := writeFileAtomic(s.path(unit, domain.FieldAddress), []byte(addr)); err != nil {
		return NewStoreError("Persist", unit, domain.FieldAddress, err.Error(), err)
	}
	confirm(s.logger, "file", unit, domain.FieldAddress)

	return nil
}

func (s *FileStore) Get(ctx context.Context, unit string) (*domain.ArtifactRecord, error) {
	if err := validateUnit("Get", unit); err != nil {
		return nil, err
	}

	addrPath := s.path(unit, domain.FieldAddress)
	addr, err := os.ReadFile(addrPath)
	if errors.Is(err, fs.ErrNotExist) {
		if _, statErr := os.Stat(s.path(unit, domain.FieldInterface)); statErr == nil {
			return nil, NewStoreError("Get", unit, domain.FieldAddress, "descriptor present without address", ErrIncompleteRecord)
		}
		return nil, NewStoreError("Get", unit, "", "artifact not found", ErrNotFound)
	}
	if err != nil {
		return nil, NewStoreError("Get", unit, domain.FieldAddress, err.Error(), err)
	}

	iface, err := os.ReadFile(s.path(unit, domain.FieldInterface))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, NewStoreError("Get", unit, domain.FieldInterface, "address present without descriptor", ErrIncompleteRecord)
	}
	if err != nil {
		return nil, NewStoreError("Get", unit, domain.FieldInterface, err.Error(), err)
	}

	rec := &domain.ArtifactRecord{
		Unit:      unit,
		Interface: iface,
		Address:   strings.TrimSpace(string(addr)),
	}
	if info, err := os.Stat(addrPath); err == nil {
		rec.UpdatedAt = info.ModTime().UTC()
	}
	return rec, nil
}

func (s *FileStore) List(ctx context.Context) ([]domain.ArtifactRecord, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*."+domain.FieldAddress))
	if err != nil {
		return nil, NewStoreError("List", "", "", err.Error(), err)
	}

	records := make([]domain.ArtifactRecord, 0, len(matches))
	for _, m := range matches {
		unit := strings.TrimSuffix(filepath.Base(m), "."+domain.FieldAddress)
		rec, err := s.Get(ctx, unit)
		if errors.Is(err, ErrIncompleteRecord) || errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	sortRecords(records)
	return records, nil
}

func (s *FileStore) Close() error {
	return nil
}

// writeFileAtomic writes data to a temp file in the target directory, syncs
// it and renames it over path.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}

	// Persist the rename itself
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		d.Close()
	}
	return nil
}
