// Package orchestrator runs deployment plans: it deploys units strictly in
// plan order and records each unit's artifact before moving on.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/artpar/deployseq/internal/core/domain"
	"github.com/artpar/deployseq/internal/core/plan"
	"github.com/google/uuid"
)

// =============================================================================
// Collaborators
// =============================================================================

// Deployer performs a single deployment. Calls are not idempotent: each one
// may create a new instance at a new address, so the orchestrator never
// retries.
type Deployer interface {
	Deploy(ctx context.Context, unit domain.UnitDescriptor, args []any) (domain.DeploymentResult, error)
}

// ArtifactStore persists a deployed unit's descriptor and address. Persist
// must return only once the record is durable.
type ArtifactStore interface {
	Persist(ctx context.Context, unit string, iface json.RawMessage, address string) error
}

// DefaultPersistTimeout bounds a single artifact write.
const DefaultPersistTimeout = time.Minute

// errNoAddress is reported when a deployer claims success without an address.
var errNoAddress = errors.New("deployer returned no address")

// =============================================================================
// Report
// =============================================================================

// Status is the terminal state of a run.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusAborted   Status = "aborted"
)

// Report describes the outcome of a run. It is returned for aborted runs too.
type Report struct {
	RunID  string `json:"run_id"`
	Status Status `json:"status"`

	// Results holds every unit that was deployed and persisted, in order.
	Results []domain.DeploymentResult `json:"results"`

	// Skipped lists units whose address was supplied by the caller.
	Skipped []string `json:"skipped,omitempty"`

	// AbortedAt is the plan index of the failing entry, -1 if completed.
	AbortedAt int `json:"aborted_at"`

	// Unpersisted is the unit that was deployed but whose artifact could not
	// be written. Only set when the run aborted with a *domain.PersistError.
	Unpersisted *domain.DeploymentResult `json:"unpersisted,omitempty"`

	// Addresses holds every address known at the end of the run.
	Addresses map[string]string `json:"addresses"`

	Cause      error     `json:"-"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// =============================================================================
// Run Options
// =============================================================================

type runConfig struct {
	known map[string]string
}

// RunOption customizes a single run.
type RunOption func(*runConfig)

// WithKnownAddresses resumes a previous run. Units listed in known are not
// deployed or persisted again; their address is used to resolve later
// references.
func WithKnownAddresses(known map[string]string) RunOption {
	return func(c *runConfig) {
		for unit, addr := range known {
			c.known[unit] = addr
		}
	}
}

// =============================================================================
// Orchestrator
// =============================================================================

// Orchestrator deploys plans one entry at a time.
type Orchestrator struct {
	deployer Deployer
	store    ArtifactStore
	logger   *slog.Logger
	now      func() time.Time

	// persistTimeout bounds each Persist call. The call itself ignores
	// cancellation of the run's context once the unit is live.
	persistTimeout time.Duration
}

// New creates an orchestrator.
func New(deployer Deployer, store ArtifactStore, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		deployer: deployer,
		store:    store,
		logger:   logger,
		now:      time.Now,

		persistTimeout: DefaultPersistTimeout,
	}
}

// Run deploys every entry of p in order.
//
// For each entry the arguments are resolved against the addresses of earlier
// entries, the unit is deployed and its artifact persisted. The next entry
// starts only after both steps finished. The first failure aborts the run;
// the returned report then carries the results so far and the error is one of
// *domain.DeploymentFailedError, *domain.PersistError,
// *domain.UnresolvedReferenceError or the context's error.
//
// Cancelling ctx stops the run before the next entry. A unit whose deployment
// returned an address is still persisted, so the run never stops between a
// live deployment and its record.
func (o *Orchestrator) Run(ctx context.Context, p *plan.Plan, opts ...RunOption) (*Report, error) {
	cfg := runConfig{known: make(map[string]string)}
	for _, opt := range opts {
		opt(&cfg)
	}

	report := &Report{
		RunID:     uuid.NewString(),
		Results:   []domain.DeploymentResult{},
		AbortedAt: -1,
		StartedAt: o.now().UTC(),
	}
	logger := o.logger.With("run_id", report.RunID)
	table := domain.NewAddressTable()

	for unit := range cfg.known {
		if _, ok := p.IndexOf(unit); !ok {
			logger.Warn("ignoring known address of unit not in plan", "unit", unit)
		}
	}

	logger.Info("starting run", "units", p.Len(), "known", len(cfg.known))

	for i, entry := range p.Entries() {
		name := entry.Name()

		if err := ctx.Err(); err != nil {
			return o.abort(report, table, i, err), err
		}

		if addr, ok := cfg.known[name]; ok {
			if err := table.Add(name, addr); err != nil {
				return o.abort(report, table, i, err), err
			}
			report.Skipped = append(report.Skipped, name)
			logger.Info("skipping unit with known address", "unit", name, "index", i, "address", addr)
			continue
		}

		// 1. Resolve arguments
		args, err := plan.ResolveArgs(i, entry, table)
		if err != nil {
			return o.abort(report, table, i, err), err
		}

		// 2. Deploy
		logger.Info("deploying unit", "unit", name, "index", i, "args", len(args))
		result, err := o.deployer.Deploy(ctx, entry.Unit, args)
		if err == nil && result.Address == "" {
			err = errNoAddress
		}
		if err != nil {
			depErr := &domain.DeploymentFailedError{Index: i, Unit: name, Err: err}
			return o.abort(report, table, i, depErr), depErr
		}
		result.Unit = name
		result.Args = args
		if len(result.Interface) == 0 {
			result.Interface = entry.Unit.Interface
		}
		if err := table.Add(name, result.Address); err != nil {
			return o.abort(report, table, i, err), err
		}
		logger.Info("unit deployed", "unit", name, "address", result.Address, "tx_hash", result.TxHash)

		// 3. Persist
		if err := o.persist(ctx, name, result); err != nil {
			perErr := &domain.PersistError{Index: i, Unit: name, Address: result.Address, Err: err}
			report.Unpersisted = &result
			return o.abort(report, table, i, perErr), perErr
		}

		report.Results = append(report.Results, result)
	}

	report.Status = StatusCompleted
	report.Addresses = table.Snapshot()
	report.FinishedAt = o.now().UTC()

	logger.Info("run completed",
		"deployed", len(report.Results),
		"skipped", len(report.Skipped),
		"duration", report.FinishedAt.Sub(report.StartedAt),
	)
	return report, nil
}

// persist writes the artifact of a deployed unit. It runs detached from ctx
// cancellation and is bounded by persistTimeout instead.
func (o *Orchestrator) persist(ctx context.Context, unit string, result domain.DeploymentResult) error {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.persistTimeout)
	defer cancel()
	return o.store.Persist(pctx, unit, result.Interface, result.Address)
}

func (o *Orchestrator) abort(report *Report, table *domain.AddressTable, index int, cause error) *Report {
	report.Status = StatusAborted
	report.AbortedAt = index
	report.Cause = cause
	report.Error = cause.Error()
	report.Addresses = table.Snapshot()
	report.FinishedAt = o.now().UTC()
	return report
}
