package plan

import (
	"fmt"
	"os"
	"strings"

	"github.com/artpar/deployseq/internal/core/domain"
	"github.com/artpar/deployseq/internal/core/registry"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Manifest Types
// =============================================================================

// Ordering modes of a manifest.
const (
	OrderDeclared     = "declared"
	OrderDependencies = "dependencies"
)

// Manifest is the YAML form of a plan.
//
//	order: declared
//	units:
//	  - name: MineralNFT
//	    args: ["MineralNFT", "FSI"]
//	  - name: Mineral
//	  - name: MineralNFTMarket
//	    args:
//	      - ref: MineralNFT
//	      - ref: Mineral
//	  - name: Factory
//	    optional: true
//
// Scalars and sequences are literals, {ref: X} is the address of unit X and
// {value: v} is an explicit literal. Large integers should be quoted.
type Manifest struct {
	Order string         `yaml:"order"`
	Units []ManifestUnit `yaml:"units"`
}

// ManifestUnit is one unit of a manifest.
type ManifestUnit struct {
	Name string `yaml:"name"`

	// Descriptor names the registry entry to deploy. Defaults to Name, which
	// allows deploying one build artifact under several unit names.
	Descriptor string `yaml:"descriptor,omitempty"`

	Args     []ManifestArg `yaml:"args,omitempty"`
	Optional bool          `yaml:"optional,omitempty"`
}

// ManifestArg decodes a single argument binding.
type ManifestArg struct {
	domain.ArgumentBinding
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (a *ManifestArg) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode, yaml.SequenceNode:
		var v any
		if err := node.Decode(&v); err != nil {
			return err
		}
		a.ArgumentBinding = domain.LiteralArg(v)
		return nil

	case yaml.MappingNode:
		var fields map[string]yaml.Node
		if err := node.Decode(&fields); err != nil {
			return err
		}
		if len(fields) != 1 {
			return fmt.Errorf("line %d: argument mapping must have exactly one of ref or value", node.Line)
		}
		if ref, ok := fields["ref"]; ok {
			var name string
			if err := ref.Decode(&name); err != nil {
				return fmt.Errorf("line %d: ref must be a unit name: %w", node.Line, err)
			}
			if strings.TrimSpace(name) == "" {
				return fmt.Errorf("line %d: ref must not be empty", node.Line)
			}
			a.ArgumentBinding = domain.RefArg(name)
			return nil
		}
		if value, ok := fields["value"]; ok {
			var v any
			if err := value.Decode(&v); err != nil {
				return err
			}
			a.ArgumentBinding = domain.LiteralArg(v)
			return nil
		}
		return fmt.Errorf("line %d: argument mapping must have exactly one of ref or value", node.Line)

	default:
		return fmt.Errorf("line %d: unsupported argument", node.Line)
	}
}

// =============================================================================
// Manifest Loading
// =============================================================================

// ParseManifest decodes a YAML manifest.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, domain.NewConfigurationError(-1, "", "parse manifest: "+err.Error(), domain.ErrInvalidManifest)
	}
	return &m, nil
}

// LoadManifest reads and decodes the manifest at path.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return ParseManifest(data)
}

// BuildOptions control how a manifest becomes a plan.
type BuildOptions struct {
	// IncludeOptional keeps units marked optional.
	IncludeOptional bool
}

// Build resolves every unit against reg and returns the validated plan.
// Entry indexes in returned errors are positions in m.Units, counting units
// that were dropped as optional.
func (m *Manifest) Build(reg *registry.Registry, opts BuildOptions) (*Plan, error) {
	entries := make([]domain.PlanEntry, 0, len(m.Units))
	source := make([]int, 0, len(m.Units))
	for i, u := range m.Units {
		if u.Optional && !opts.IncludeOptional {
			continue
		}

		if strings.TrimSpace(u.Name) == "" {
			return nil, domain.NewConfigurationError(i, "", "unit name is required", domain.ErrEmptyUnitName)
		}

		descName := u.Descriptor
		if descName == "" {
			descName = u.Name
		}
		desc, ok := reg.Lookup(descName)
		if !ok {
			return nil, domain.NewConfigurationError(i, u.Name,
				fmt.Sprintf("no build artifact named %q", descName), domain.ErrUnknownDescriptor)
		}
		desc.Name = u.Name

		args := make([]domain.ArgumentBinding, len(u.Args))
		for j, a := range u.Args {
			args[j] = a.ArgumentBinding
		}
		entries = append(entries, domain.PlanEntry{Unit: desc, Args: args})
		source = append(source, i)
	}

	switch m.Order {
	case "", OrderDeclared:
	case OrderDependencies:
		sorted, err := OrderByDependencies(entries)
		if err != nil {
			return nil, err
		}
		source = reorderSource(entries, sorted, source)
		entries = sorted
	default:
		return nil, domain.NewConfigurationError(-1, "",
			fmt.Sprintf("unknown order %q: want %s or %s", m.Order, OrderDeclared, OrderDependencies),
			domain.ErrInvalidManifest)
	}

	return newPlan(entries, source)
}

// reorderSource permutes source the way OrderByDependencies permuted entries.
// Duplicate names are never reordered, so source is returned as is.
func reorderSource(entries, sorted []domain.PlanEntry, source []int) []int {
	byName := make(map[string]int, len(entries))
	for i, e := range entries {
		if _, dup := byName[e.Name()]; dup {
			return source
		}
		byName[e.Name()] = source[i]
	}
	out := make([]int, len(sorted))
	for i, e := range sorted {
		out[i] = byName[e.Name()]
	}
	return out
}
