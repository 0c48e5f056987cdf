package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// =============================================================================
// Unit Descriptor
// =============================================================================

// UnitDescriptor describes a deployable unit as produced by the build system.
// Values are treated as immutable once constructed.
type UnitDescriptor struct {
	// Name identifies the unit and must be unique within a plan.
	Name string `json:"name"`

	// Interface is the unit's interface schema (an ABI for EVM contracts).
	Interface json.RawMessage `json:"interface"`

	// Bytecode is the hex-encoded creation code, owned by the build system.
	// Empty when the deployer sources code elsewhere.
	Bytecode string `json:"bytecode,omitempty"`
}

// =============================================================================
// Argument Bindings
// =============================================================================

// ArgumentBinding is a constructor argument: either a literal value or a
// reference to the address of a unit deployed earlier in the same plan.
type ArgumentBinding struct {
	Literal any    `json:"literal,omitempty"`
	Ref     string `json:"ref,omitempty"`

	isLiteral bool
}

// LiteralArg creates a binding that passes v through unchanged.
func LiteralArg(v any) ArgumentBinding {
	return ArgumentBinding{Literal: v, isLiteral: true}
}

// RefArg creates a binding that resolves to the deployed address of unit.
func RefArg(unit string) ArgumentBinding {
	return ArgumentBinding{Ref: unit}
}

// IsRef reports whether the binding references another unit's address.
func (b ArgumentBinding) IsRef() bool {
	return b.Ref != ""
}

// IsLiteral reports whether the binding carries a literal value.
func (b ArgumentBinding) IsLiteral() bool {
	return !b.IsRef() && (b.isLiteral || b.Literal != nil)
}

func (b ArgumentBinding) String() string {
	if b.IsRef() {
		return "ref(" + b.Ref + ")"
	}
	return fmt.Sprintf("%v", b.Literal)
}

// =============================================================================
// Plan Entry
// =============================================================================

// PlanEntry pairs a unit with its ordered constructor argument bindings.
type PlanEntry struct {
	Unit UnitDescriptor
	Args []ArgumentBinding
}

// Name returns the unit name of the entry.
func (e PlanEntry) Name() string {
	return e.Unit.Name
}

// References returns the unit names this entry's arguments depend on, in
// argument order. Duplicates are preserved.
func (e PlanEntry) References() []string {
	var refs []string
	for _, arg := range e.Args {
		if arg.IsRef() {
			refs = append(refs, arg.Ref)
		}
	}
	return refs
}

// =============================================================================
// Deployment Result
// =============================================================================

// DeploymentResult is what a deployer reports for one successfully deployed
// unit.
type DeploymentResult struct {
	Unit      string          `json:"unit"`
	Address   string          `json:"address"`
	Interface json.RawMessage `json:"interface"`
	TxHash    string          `json:"tx_hash,omitempty"`

	// Args are the resolved constructor arguments handed to the deployer.
	Args []any `json:"args,omitempty"`
}

// =============================================================================
// Address Table
// =============================================================================

// AddressTable maps unit names to deployed addresses for a single run.
// Entries are only ever added.
type AddressTable struct {
	addrs map[string]string
	order []string
}

// NewAddressTable creates an empty table.
func NewAddressTable() *AddressTable {
	return &AddressTable{addrs: make(map[string]string)}
}

// Add records the address of unit. A unit can be added only once.
func (t *AddressTable) Add(unit, address string) error {
	if _, exists := t.addrs[unit]; exists {
		return fmt.Errorf("address of %q already recorded", unit)
	}
	t.addrs[unit] = address
	t.order = append(t.order, unit)
	return nil
}

// Lookup returns the address recorded for unit.
func (t *AddressTable) Lookup(unit string) (string, bool) {
	addr, ok := t.addrs[unit]
	return addr, ok
}

// Len returns the number of recorded addresses.
func (t *AddressTable) Len() int {
	return len(t.addrs)
}

// Snapshot returns a copy of the table contents.
func (t *AddressTable) Snapshot() map[string]string {
	out := make(map[string]string, len(t.addrs))
	for k, v := range t.addrs {
		out[k] = v
	}
	return out
}

// =============================================================================
// Artifact Record
// =============================================================================

// Persisted field names of an artifact record.
const (
	FieldInterface = "interfaceDescriptor"
	FieldAddress   = "address"
)

// ArtifactRecord is the durable output for one deployed unit.
type ArtifactRecord struct {
	Unit      string          `json:"unit"`
	Interface json.RawMessage `json:"interfaceDescriptor"`
	Address   string          `json:"address"`
	UpdatedAt time.Time       `json:"updated_at,omitzero"`
}

// Key returns the storage key of a record field, e.g. "Token.address".
func Key(unit, field string) string {
	return unit + "." + field
}
