package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/artpar/deployseq/internal/core/domain"
	"github.com/artpar/deployseq/internal/core/plan"
	"github.com/artpar/deployseq/internal/shell/artifact"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Doubles
// =============================================================================

type deployCall struct {
	Unit string
	Args []any
}

// fakeDeployer hands out addresses from a table (or a counter) and records
// every call in order.
type fakeDeployer struct {
	addresses map[string]string
	failOn    map[string]error
	onDeploy  func(unit string)
	calls     []deployCall
}

func (d *fakeDeployer) Deploy(_ context.Context, unit domain.UnitDescriptor, args []any) (domain.DeploymentResult, error) {
	d.calls = append(d.calls, deployCall{Unit: unit.Name, Args: args})
	if d.onDeploy != nil {
		d.onDeploy(unit.Name)
	}
	if err, ok := d.failOn[unit.Name]; ok {
		return domain.DeploymentResult{}, err
	}
	addr, ok := d.addresses[unit.Name]
	if !ok {
		addr = fmt.Sprintf("0x%02X", len(d.calls))
	}
	return domain.DeploymentResult{
		Address: addr,
		TxHash:  "0xtx" + unit.Name,
	}, nil
}

func (d *fakeDeployer) units() []string {
	units := make([]string, len(d.calls))
	for i, c := range d.calls {
		units[i] = c.Unit
	}
	return units
}

type persistCall struct {
	Unit    string
	Iface   string
	Address string
}

type fakeStore struct {
	failOn map[string]error
	calls  []persistCall
}

func (s *fakeStore) Persist(_ context.Context, unit string, iface json.RawMessage, address string) error {
	if err, ok := s.failOn[unit]; ok {
		return err
	}
	s.calls = append(s.calls, persistCall{Unit: unit, Iface: string(iface), Address: address})
	return nil
}

// =============================================================================
// Test Helpers
// =============================================================================

func entry(name string, args ...domain.ArgumentBinding) domain.PlanEntry {
	return domain.PlanEntry{
		Unit: domain.UnitDescriptor{Name: name, Interface: json.RawMessage(`["` + name + `"]`)},
		Args: args,
	}
}

func mustPlan(t *testing.T, entries ...domain.PlanEntry) *plan.Plan {
	t.Helper()
	p, err := plan.New(entries...)
	require.NoError(t, err)
	return p
}

// mineralPlan mirrors the marketplace migration: NFT, currency, market, factory.
func mineralPlan(t *testing.T) *plan.Plan {
	return mustPlan(t,
		entry("MineralNFT", domain.LiteralArg("MineralNFT"), domain.LiteralArg("FSI")),
		entry("Mineral"),
		entry("MineralNFTMarket", domain.RefArg("MineralNFT"), domain.RefArg("Mineral")),
		entry("Factory"),
	)
}

// =============================================================================
// Run Tests
// =============================================================================

func TestRun_DeploysInPlanOrder(t *testing.T) {
	deployer := &fakeDeployer{}
	store := &fakeStore{}

	report, err := New(deployer, store, nil).Run(context.Background(), mineralPlan(t))
	require.NoError(t, err)

	assert.Equal(t, []string{"MineralNFT", "Mineral", "MineralNFTMarket", "Factory"}, deployer.units())
	assert.Equal(t, StatusCompleted, report.Status)
	assert.Equal(t, -1, report.AbortedAt)
	assert.NotEmpty(t, report.RunID)
	require.Len(t, report.Results, 4)
	for i, unit := range []string{"MineralNFT", "Mineral", "MineralNFTMarket", "Factory"} {
		assert.Equal(t, unit, report.Results[i].Unit)
	}
	assert.False(t, report.FinishedAt.Before(report.StartedAt))
}

func TestRun_ResolvesReferencesFromEarlierResults(t *testing.T) {
	deployer := &fakeDeployer{addresses: map[string]string{
		"MineralNFT": "0xNFT",
		"Mineral":    "0xMIN",
	}}

	_, err := New(deployer, &fakeStore{}, nil).Run(context.Background(), mineralPlan(t))
	require.NoError(t, err)

	assert.Equal(t, []any{"MineralNFT", "FSI"}, deployer.calls[0].Args)
	assert.Empty(t, deployer.calls[1].Args)
	assert.Equal(t, []any{"0xNFT", "0xMIN"}, deployer.calls[2].Args)
}

func TestRun_PersistsEachUnitExactlyOnce(t *testing.T) {
	deployer := &fakeDeployer{}
	store := &fakeStore{}

	report, err := New(deployer, store, nil).Run(context.Background(), mineralPlan(t))
	require.NoError(t, err)

	require.Len(t, store.calls, 4)
	for i, call := range store.calls {
		assert.Equal(t, report.Results[i].Unit, call.Unit)
		assert.Equal(t, report.Results[i].Address, call.Address)
		assert.Equal(t, `["`+call.Unit+`"]`, call.Iface, "interface descriptor falls back to the unit's")
	}
}

func TestRun_PersistHappensBeforeNextDeploy(t *testing.T) {
	store := &fakeStore{}
	persistedBefore := map[string]int{}
	deployer := &fakeDeployer{}
	deployer.onDeploy = func(unit string) { persistedBefore[unit] = len(store.calls) }

	_, err := New(deployer, store, nil).Run(context.Background(), mineralPlan(t))
	require.NoError(t, err)

	assert.Equal(t, map[string]int{
		"MineralNFT":       0,
		"Mineral":          1,
		"MineralNFTMarket": 2,
		"Factory":          3,
	}, persistedBefore)
}

func TestRun_DeploymentFailureStopsRun(t *testing.T) {
	cause := errors.New("out of gas")
	deployer := &fakeDeployer{failOn: map[string]error{"Mineral": cause}}
	store := &fakeStore{}

	report, err := New(deployer, store, nil).Run(context.Background(), mineralPlan(t))

	var depErr *domain.DeploymentFailedError
	require.True(t, errors.As(err, &depErr), "got %T", err)
	assert.Equal(t, 1, depErr.Index)
	assert.Equal(t, "Mineral", depErr.Unit)
	assert.ErrorIs(t, err, cause)

	assert.Equal(t, []string{"MineralNFT", "Mineral"}, deployer.units(), "no entry after the failure is attempted")
	require.Len(t, store.calls, 1)
	assert.Equal(t, "MineralNFT", store.calls[0].Unit)

	assert.Equal(t, StatusAborted, report.Status)
	assert.Equal(t, 1, report.AbortedAt)
	require.Len(t, report.Results, 1)
	assert.Equal(t, "MineralNFT", report.Results[0].Unit)
	assert.Same(t, depErr, report.Cause.(*domain.DeploymentFailedError))
	assert.Contains(t, report.Error, "out of gas")
}

func TestRun_EmptyAddressIsDeploymentFailure(t *testing.T) {
	deployer := &fakeDeployer{addresses: map[string]string{"Token": ""}}

	_, err := New(deployer, &fakeStore{}, nil).Run(context.Background(), mustPlan(t, entry("Token")))

	var depErr *domain.DeploymentFailedError
	require.True(t, errors.As(err, &depErr))
	assert.ErrorIs(t, err, errNoAddress)
}

func TestRun_PersistFailureReportsDeployedAddress(t *testing.T) {
	cause := errors.New("disk full")
	deployer := &fakeDeployer{addresses: map[string]string{"Mineral": "0xMIN"}}
	store := &fakeStore{failOn: map[string]error{"Mineral": cause}}

	report, err := New(deployer, store, nil).Run(context.Background(), mineralPlan(t))

	var perErr *domain.PersistError
	require.True(t, errors.As(err, &perErr), "got %T", err)
	assert.Equal(t, 1, perErr.Index)
	assert.Equal(t, "Mineral", perErr.Unit)
	assert.Equal(t, "0xMIN", perErr.Address)
	assert.ErrorIs(t, err, cause)

	assert.Equal(t, []string{"MineralNFT", "Mineral"}, deployer.units())
	assert.Len(t, report.Results, 1)
	require.NotNil(t, report.Unpersisted)
	assert.Equal(t, "0xMIN", report.Unpersisted.Address)
	assert.Equal(t, "0xMIN", report.Addresses["Mineral"])
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	deployer := &fakeDeployer{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := New(deployer, &fakeStore{}, nil).Run(ctx, mineralPlan(t))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, deployer.calls)
	assert.Equal(t, StatusAborted, report.Status)
	assert.Equal(t, 0, report.AbortedAt)
}

func TestRun_CancelledMidRun(t *testing.T) {
	stores := map[string]func(t *testing.T) artifact.Store{
		"memory": func(t *testing.T) artifact.Store {
			return artifact.NewMemoryStore(domain.CaseLowercase, nil)
		},
		"file": func(t *testing.T) artifact.Store {
			s, err := artifact.NewFileStore(t.TempDir(), domain.CaseLowercase, nil)
			require.NoError(t, err)
			return s
		},
		"sqlite": func(t *testing.T) artifact.Store {
			s, err := artifact.NewSQLiteStore(":memory:", domain.CaseLowercase, nil)
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}

	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			deployer := &fakeDeployer{}
			deployer.onDeploy = func(unit string) {
				if unit == "Mineral" {
					cancel()
				}
			}
			store := newStore(t)

			report, err := New(deployer, store, nil).Run(ctx, mineralPlan(t))

			assert.ErrorIs(t, err, context.Canceled)
			var perErr *domain.PersistError
			assert.False(t, errors.As(err, &perErr), "cancellation must not leave a live unit unrecorded")
			assert.Equal(t, []string{"MineralNFT", "Mineral"}, deployer.units())
			assert.Equal(t, 2, report.AbortedAt)
			assert.Len(t, report.Results, 2)
			assert.Nil(t, report.Unpersisted)

			rec, err := store.Get(context.Background(), "Mineral")
			require.NoError(t, err)
			assert.Equal(t, "0x02", rec.Address)
		})
	}
}

func TestRun_KnownAddressesSkipDeployment(t *testing.T) {
	deployer := &fakeDeployer{}
	store := &fakeStore{}

	report, err := New(deployer, store, nil).Run(context.Background(), mineralPlan(t),
		WithKnownAddresses(map[string]string{
			"MineralNFT": "0xOLDNFT",
			"Mineral":    "0xOLDMIN",
			"Elsewhere":  "0xFF",
		}),
	)
	require.NoError(t, err)

	assert.Equal(t, []string{"MineralNFTMarket", "Factory"}, deployer.units())
	assert.Equal(t, []any{"0xOLDNFT", "0xOLDMIN"}, deployer.calls[0].Args)
	assert.Equal(t, []string{"MineralNFT", "Mineral"}, report.Skipped)
	assert.Len(t, store.calls, 2)
	assert.Equal(t, "0xOLDNFT", report.Addresses["MineralNFT"])
	assert.NotContains(t, report.Addresses, "Elsewhere")
}

func TestRun_InvalidPlanDeploysNothing(t *testing.T) {
	deployer := &fakeDeployer{}

	_, err := plan.New(
		entry("Market", domain.RefArg("Token")),
		entry("Token"),
	)
	require.Error(t, err)

	var cfgErr *domain.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.ErrorIs(t, err, domain.ErrForwardReference)
	assert.Empty(t, deployer.calls)
}

// =============================================================================
// End-to-End
// =============================================================================

func TestRun_TokenMarketEndToEnd(t *testing.T) {
	deployer := &fakeDeployer{addresses: map[string]string{
		"Token":  "0xAA",
		"Market": "0xBB",
	}}
	store := artifact.NewMemoryStore(domain.CaseLowercase, nil)

	p := mustPlan(t,
		entry("Token"),
		entry("Market", domain.RefArg("Token"), domain.LiteralArg(uint64(100))),
	)

	report, err := New(deployer, store, nil).Run(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, []any{"0xAA", uint64(100)}, deployer.calls[1].Args)
	assert.Equal(t, map[string]string{"Token": "0xAA", "Market": "0xBB"}, report.Addresses)

	rec, err := store.Get(context.Background(), "Token")
	require.NoError(t, err)
	assert.Equal(t, "0xaa", rec.Address)

	rec, err = store.Get(context.Background(), "Market")
	require.NoError(t, err)
	assert.Equal(t, "0xbb", rec.Address)
	assert.JSONEq(t, `["Market"]`, string(rec.Interface))
}
