// Package registry maps unit names to the descriptors produced by the build
// system.
//
// A Registry is constructed explicitly and handed to plan construction, so the
// set of deployable units is visible at the call site instead of being looked
// up from ambient global state.
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/artpar/deployseq/internal/core/domain"
)

var (
	ErrDuplicateDescriptor = errors.New("descriptor already registered")
	ErrMissingInterface    = errors.New("build artifact has no interface")
)

// Registry holds unit descriptors by name.
type Registry struct {
	descriptors map[string]domain.UnitDescriptor
}

// New creates a registry holding descs.
func New(descs ...domain.UnitDescriptor) (*Registry, error) {
	r := &Registry{descriptors: make(map[string]domain.UnitDescriptor, len(descs))}
	for _, d := range descs {
		if err := r.Register(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a descriptor. Names must be unique.
func (r *Registry) Register(d domain.UnitDescriptor) error {
	if strings.TrimSpace(d.Name) == "" {
		return domain.ErrEmptyUnitName
	}
	if _, exists := r.descriptors[d.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateDescriptor, d.Name)
	}
	r.descriptors[d.Name] = d
	return nil
}

// Lookup returns the descriptor registered under name.
func (r *Registry) Lookup(name string) (domain.UnitDescriptor, bool) {
	d, ok := r.descriptors[name]
	return d, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.descriptors))
	for name := range r.descriptors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered descriptors.
func (r *Registry) Len() int {
	return len(r.descriptors)
}

// =============================================================================
// Build Artifact Loading
// =============================================================================

// buildArtifact covers the JSON layouts emitted by Truffle, Hardhat and
// Foundry. Foundry nests the bytecode under "object" and omits the name.
type buildArtifact struct {
	ContractName string          `json:"contractName"`
	ABI          json.RawMessage `json:"abi"`
	Bytecode     json.RawMessage `json:"bytecode"`
}

// ParseBuildArtifact decodes a compiler build artifact. fallbackName is used
// when the artifact does not carry its own contract name.
func ParseBuildArtifact(data []byte, fallbackName string) (domain.UnitDescriptor, error) {
	var a buildArtifact
	if err := json.Unmarshal(data, &a); err != nil {
		return domain.UnitDescriptor{}, fmt.Errorf("decode build artifact: %w", err)
	}
	if len(bytes.TrimSpace(a.ABI)) == 0 || bytes.Equal(bytes.TrimSpace(a.ABI), []byte("null")) {
		return domain.UnitDescriptor{}, ErrMissingInterface
	}

	name := a.ContractName
	if name == "" {
		name = fallbackName
	}

	bytecode, err := decodeBytecode(a.Bytecode)
	if err != nil {
		return domain.UnitDescriptor{}, err
	}

	return domain.UnitDescriptor{
		Name:      name,
		Interface: a.ABI,
		Bytecode:  bytecode,
	}, nil
}

func decodeBytecode(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("decode bytecode: %w", err)
		}
		return s, nil
	}
	var obj struct {
		Object string `json:"object"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", fmt.Errorf("decode bytecode: %w", err)
	}
	return obj.Object, nil
}

// LoadDir registers every *.json build artifact found directly under dir in
// fsys. Files without an ABI (e.g. build-info or debug files) are skipped.
func LoadDir(fsys fs.FS, dir string) (*Registry, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read artifacts dir: %w", err)
	}

	r, _ := New()
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".json" {
			continue
		}
		if strings.HasSuffix(entry.Name(), ".dbg.json") {
			continue
		}
		data, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", entry.Name(), err)
		}
		desc, err := ParseBuildArtifact(data, strings.TrimSuffix(entry.Name(), ".json"))
		if errors.Is(err, ErrMissingInterface) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", entry.Name(), err)
		}
		if err := r.Register(desc); err != nil {
			return nil, fmt.Errorf("%s: %w", entry.Name(), err)
		}
	}
	return r, nil
}
