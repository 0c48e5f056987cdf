package plan

import (
	"fmt"
	"strings"

	"github.com/artpar/deployseq/internal/core/domain"
)

// =============================================================================
// Plan
// =============================================================================

// Plan is a validated, immutable, ordered sequence of plan entries.
type Plan struct {
	entries []domain.PlanEntry
	index   map[string]int
}

// New validates entries and returns a plan that deploys them in the given
// order. Every reference must name a unit that appears strictly earlier.
// Any violation is reported as a *domain.ConfigurationError whose Index is the
// position in entries.
func New(entries ...domain.PlanEntry) (*Plan, error) {
	return newPlan(entries, nil)
}

// newPlan validates entries. source maps each entry to its position in the
// input the caller knows about, so errors point there; nil means entries
// itself.
func newPlan(entries []domain.PlanEntry, source []int) (*Plan, error) {
	at := func(i int) int {
		if source == nil {
			return i
		}
		return source[i]
	}

	if len(entries) == 0 {
		return nil, domain.NewConfigurationError(-1, "", "plan must contain at least one unit", domain.ErrEmptyPlan)
	}

	declared := make(map[string]int, len(entries))
	for i, e := range entries {
		if _, exists := declared[e.Name()]; !exists {
			declared[e.Name()] = i
		}
	}

	index := make(map[string]int, len(entries))
	for i, e := range entries {
		name := e.Name()
		if strings.TrimSpace(name) == "" {
			return nil, domain.NewConfigurationError(at(i), "", "unit name is required", domain.ErrEmptyUnitName)
		}
		if first, exists := index[name]; exists {
			return nil, domain.NewConfigurationError(at(i), name,
				fmt.Sprintf("unit already defined at entry %d", at(first)), domain.ErrDuplicateUnit)
		}

		for j, arg := range e.Args {
			if err := checkBinding(i, name, j, arg, index, declared, at); err != nil {
				return nil, err
			}
		}
		index[name] = i
	}

	return &Plan{
		entries: copyEntries(entries),
		index:   index,
	}, nil
}

func checkBinding(i int, unit string, j int, arg domain.ArgumentBinding, defined, declared map[string]int, at func(int) int) error {
	if !arg.IsRef() {
		if !arg.IsLiteral() {
			return domain.NewConfigurationError(at(i), unit,
				fmt.Sprintf("argument %d is empty", j), domain.ErrInvalidBinding)
		}
		return nil
	}

	if arg.Ref == unit {
		return domain.NewConfigurationError(at(i), unit,
			fmt.Sprintf("argument %d references the unit itself", j), domain.ErrSelfReference)
	}
	if _, ok := defined[arg.Ref]; ok {
		return nil
	}
	if later, ok := declared[arg.Ref]; ok {
		return domain.NewConfigurationError(at(i), unit,
			fmt.Sprintf("argument %d references %q which is defined later at entry %d", j, arg.Ref, at(later)),
			domain.ErrForwardReference)
	}
	return domain.NewConfigurationError(at(i), unit,
		fmt.Sprintf("argument %d references unknown unit %q", j, arg.Ref), domain.ErrUnknownReference)
}

func copyEntries(entries []domain.PlanEntry) []domain.PlanEntry {
	out := make([]domain.PlanEntry, len(entries))
	for i, e := range entries {
		out[i] = domain.PlanEntry{
			Unit: domain.UnitDescriptor{
				Name:      e.Unit.Name,
				Interface: append([]byte(nil), e.Unit.Interface...),
				Bytecode:  e.Unit.Bytecode,
			},
			Args: append([]domain.ArgumentBinding(nil), e.Args...),
		}
	}
	return out
}

// Len returns the number of entries.
func (p *Plan) Len() int {
	return len(p.entries)
}

// Entry returns the entry at index i, or false if i is out of range.
func (p *Plan) Entry(i int) (domain.PlanEntry, bool) {
	if i < 0 || i >= len(p.entries) {
		return domain.PlanEntry{}, false
	}
	return copyEntries(p.entries[i : i+1])[0], true
}

// Entries returns a copy of all entries in deployment order.
func (p *Plan) Entries() []domain.PlanEntry {
	return copyEntries(p.entries)
}

// Units returns the unit names in deployment order.
func (p *Plan) Units() []string {
	names := make([]string, len(p.entries))
	for i, e := range p.entries {
		names[i] = e.Name()
	}
	return names
}

// IndexOf returns the position of unit in the plan.
func (p *Plan) IndexOf(unit string) (int, bool) {
	i, ok := p.index[unit]
	return i, ok
}

// Dependents returns the units that depend on unit directly or transitively,
// in plan order. Redeploying unit invalidates every one of them.
func (p *Plan) Dependents(unit string) []string {
	start, ok := p.index[unit]
	if !ok {
		return nil
	}

	affected := map[string]bool{unit: true}
	var out []string
	// References only point backwards, so one forward pass is enough.
	for _, e := range p.entries[start+1:] {
		for _, ref := range e.References() {
			if affected[ref] {
				affected[e.Name()] = true
				out = append(out, e.Name())
				break
			}
		}
	}
	return out
}
