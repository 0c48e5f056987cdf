package domain

import (
	"errors"
	"fmt"
)

// =============================================================================
// Plan Errors
// =============================================================================

var (
	ErrEmptyPlan         = errors.New("plan has no units")
	ErrEmptyUnitName     = errors.New("unit name is required")
	ErrDuplicateUnit     = errors.New("unit name is not unique")
	ErrInvalidBinding    = errors.New("argument is neither a literal nor a reference")
	ErrSelfReference     = errors.New("unit references its own address")
	ErrForwardReference  = errors.New("unit references a unit defined later in the plan")
	ErrUnknownReference  = errors.New("unit references a unit not in the plan")
	ErrUnknownDescriptor = errors.New("no descriptor registered for unit")
	ErrDependencyCycle   = errors.New("units form a dependency cycle")
	ErrInvalidManifest   = errors.New("plan manifest is invalid")
)

// ConfigurationError reports an invalid plan. It is raised before any
// deployment starts. Index counts entries as passed to plan.New, or units as
// listed in the manifest for plan.Manifest.Build.
type ConfigurationError struct {
	Index   int    // Position of the offending entry in the caller's input, -1 if not entry specific
	Unit    string // Offending unit name if applicable
	Message string
	Err     error
}

func (e *ConfigurationError) Error() string {
	if e.Unit != "" {
		return fmt.Sprintf("invalid plan: entry %d (%s): %s", e.Index, e.Unit, e.Message)
	}
	if e.Index >= 0 {
		return fmt.Sprintf("invalid plan: entry %d: %s", e.Index, e.Message)
	}
	return fmt.Sprintf("invalid plan: %s", e.Message)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// NewConfigurationError creates a new ConfigurationError.
func NewConfigurationError(index int, unit, message string, err error) *ConfigurationError {
	return &ConfigurationError{
		Index:   index,
		Unit:    unit,
		Message: message,
		Err:     err,
	}
}

// =============================================================================
// Run Errors
// =============================================================================

// DeploymentFailedError reports that the deployer could not deploy a unit.
type DeploymentFailedError struct {
	Index int
	Unit  string
	Err   error
}

func (e *DeploymentFailedError) Error() string {
	return fmt.Sprintf("deploy %s (entry %d): %v", e.Unit, e.Index, e.Err)
}

func (e *DeploymentFailedError) Unwrap() error {
	return e.Err
}

// PersistError reports that a unit was deployed but its artifact record could
// not be written. The unit is live at Address; only persistence needs to be
// repeated.
type PersistError struct {
	Index   int
	Unit    string
	Address string
	Err     error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist %s (entry %d): unit is deployed at %s but its artifact was not recorded: %v",
		e.Unit, e.Index, e.Address, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}

// UnresolvedReferenceError reports a reference that had no address at
// execution time. Plan validation makes this unreachable; seeing it means the
// plan and the run disagree.
type UnresolvedReferenceError struct {
	Index int
	Unit  string
	Ref   string
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("resolve %s (entry %d): no address recorded for %q", e.Unit, e.Index, e.Ref)
}
