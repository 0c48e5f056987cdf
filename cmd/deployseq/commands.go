package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/artpar/deployseq/internal/core/plan"
	"github.com/artpar/deployseq/internal/core/registry"
	"github.com/artpar/deployseq/internal/shell/artifact"
	"github.com/artpar/deployseq/internal/shell/evm"
	"github.com/artpar/deployseq/internal/shell/orchestrator"
	"github.com/spf13/cobra"
)

// =============================================================================
// run
// =============================================================================

func newRunCmd(g *globalFlags) *cobra.Command {
	var resume, asJSON bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Deploy every unit of the plan in order",
		Long: `Deploy every unit of the plan in order and persist each unit's artifact
before the next unit starts. The first failure stops the run.

With --resume, units that already have a complete artifact in the store are
not deployed again; their recorded address is used instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, logger, err := loadWithFlags(cmd, g, planFlags(cmd)...)
			if err != nil {
				return err
			}

			p, err := loadPlan(cfg.Plan)
			if err != nil {
				return err
			}

			store, err := openStore(ctx, cfg.Store, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			var opts []orchestrator.RunOption
			if resume {
				known, err := knownAddresses(ctx, store, p)
				if err != nil {
					return err
				}
				opts = append(opts, orchestrator.WithKnownAddresses(known))
			}

			deployer, err := evm.Dial(ctx, cfg.Chain.EVMConfig(), logger.With("component", "deployer"))
			if err != nil {
				if errors.Is(err, evm.ErrInvalidConfig) {
					return configErr("chain", err)
				}
				return &CommandError{Op: "connect", Err: err, ExitCode: ExitInternalError}
			}
			defer deployer.Close()

			orch := orchestrator.New(deployer, store, logger.With("component", "orchestrator"))
			report, runErr := orch.Run(ctx, p, opts...)

			if report != nil && report.Unpersisted != nil {
				logger.Error("unit deployed but not recorded",
					"unit", report.Unpersisted.Unit,
					"address", report.Unpersisted.Address,
					"hint", fmt.Sprintf("deployseq persist %s --address %s", report.Unpersisted.Unit, report.Unpersisted.Address),
				)
			}

			if report != nil {
				if err := printReport(cmd.OutOrStdout(), report, asJSON); err != nil {
					return err
				}
			}
			return runErr
		},
	}

	addPlanFlags(cmd)
	cmd.Flags().BoolVar(&resume, "resume", false, "Skip units already recorded in the store")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the run report as JSON")
	return cmd
}

func printReport(w io.Writer, report *orchestrator.Report, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "run %s: %s\n", report.RunID, report.Status)
	for _, unit := range report.Skipped {
		fmt.Fprintf(tw, "  %s\t%s\t(skipped)\n", unit, report.Addresses[unit])
	}
	for _, r := range report.Results {
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", r.Unit, r.Address, r.TxHash)
	}
	if report.Unpersisted != nil {
		fmt.Fprintf(tw, "  %s\t%s\t(not recorded)\n", report.Unpersisted.Unit, report.Unpersisted.Address)
	}
	return tw.Flush()
}

// knownAddresses returns the recorded addresses of plan units that have a
// complete artifact.
func knownAddresses(ctx context.Context, store artifact.Store, p *plan.Plan) (map[string]string, error) {
	records, err := store.List(ctx)
	if err != nil {
		return nil, &CommandError{Op: "resume", Err: err, ExitCode: ExitInternalError}
	}
	known := make(map[string]string)
	for _, rec := range records {
		if _, ok := p.IndexOf(rec.Unit); ok {
			known[rec.Unit] = rec.Address
		}
	}
	return known, nil
}

// =============================================================================
// persist
// =============================================================================

func newPersistCmd(g *globalFlags) *cobra.Command {
	var address, ifacePath string

	cmd := &cobra.Command{
		Use:   "persist <unit>",
		Short: "Record the artifact of an already deployed unit",
		Long: `Record the interface descriptor and address of a unit that was deployed but
could not be recorded. The descriptor is read from --interface, or from the
build artifacts directory when --interface is omitted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			unit := args[0]

			cfg, logger, err := loadWithFlags(cmd, g, FlagBinding{Key: "plan.artifacts_dir", Flag: cmd.Flags().Lookup("artifacts")})
			if err != nil {
				return err
			}
			if strings.TrimSpace(address) == "" {
				return configErr("persist", errors.New("--address is required"))
			}

			iface, err := readInterface(unit, ifacePath, cfg.Plan.ArtifactsDir)
			if err != nil {
				return configErr("persist", err)
			}

			store, err := openStore(ctx, cfg.Store, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Persist(ctx, unit, iface, address); err != nil {
				if errors.Is(err, artifact.ErrInvalidData) {
					return configErr("persist", err)
				}
				return &CommandError{Op: "persist", Err: err, ExitCode: ExitPersistFailed}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "recorded %s at %s\n", unit, address)
			return nil
		},
	}

	cmd.Flags().StringVar(&address, "address", "", "Deployed address of the unit")
	cmd.Flags().StringVar(&ifacePath, "interface", "", "Path to the interface descriptor (ABI JSON)")
	cmd.Flags().String("artifacts", "", "Build artifacts directory")
	return cmd
}

func readInterface(unit, path, artifactsDir string) (json.RawMessage, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read interface: %w", err)
		}
		// Accept a whole build artifact as well as a bare ABI.
		if desc, err := registry.ParseBuildArtifact(data, unit); err == nil {
			return desc.Interface, nil
		}
		return data, nil
	}

	reg, err := registry.LoadDir(os.DirFS(artifactsDir), ".")
	if err != nil {
		return nil, err
	}
	desc, ok := reg.Lookup(unit)
	if !ok {
		return nil, fmt.Errorf("no build artifact for %s in %s", unit, artifactsDir)
	}
	return desc.Interface, nil
}

// =============================================================================
// show
// =============================================================================

func newShowCmd(g *globalFlags) *cobra.Command {
	var history bool

	cmd := &cobra.Command{
		Use:   "show [unit]",
		Short: "Print recorded artifacts",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, logger, err := loadWithFlags(cmd, g)
			if err != nil {
				return err
			}

			store, err := openStore(ctx, cfg.Store, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")

			if len(args) == 0 {
				records, err := store.List(ctx)
				if err != nil {
					return &CommandError{Op: "show", Err: err, ExitCode: ExitInternalError}
				}
				return enc.Encode(records)
			}

			if history {
				hs, ok := store.(artifact.HistoryStore)
				if !ok {
					return configErr("show", fmt.Errorf("store backend %q keeps no history", cfg.Store.Backend))
				}
				records, err := hs.History(ctx, args[0])
				if err != nil {
					return &CommandError{Op: "show", Err: err, ExitCode: ExitInternalError}
				}
				return enc.Encode(records)
			}

			rec, err := store.Get(ctx, args[0])
			if err != nil {
				return &CommandError{Op: "show", Err: err, ExitCode: ExitInternalError}
			}
			return enc.Encode(rec)
		},
	}

	cmd.Flags().BoolVar(&history, "history", false, "Print every recorded version of the unit")
	return cmd
}

// =============================================================================
// validate
// =============================================================================

func newValidateCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the plan without deploying anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadWithFlags(cmd, g, planFlags(cmd)...)
			if err != nil {
				return err
			}

			p, err := loadPlan(cfg.Plan)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "plan is valid: %d units\n", p.Len())
			for i, e := range p.Entries() {
				refs := e.References()
				if len(refs) == 0 {
					fmt.Fprintf(out, "  %d. %s\n", i+1, e.Name())
					continue
				}
				fmt.Fprintf(out, "  %d. %s <- %s\n", i+1, e.Name(), strings.Join(refs, ", "))
			}
			return nil
		},
	}

	addPlanFlags(cmd)
	return cmd
}

// =============================================================================
// serve
// =============================================================================

func newServeCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve recorded artifacts over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, logger, err := loadWithFlags(cmd, g,
				FlagBinding{Key: "server.host", Flag: cmd.Flags().Lookup("host")},
				FlagBinding{Key: "server.port", Flag: cmd.Flags().Lookup("port")},
			)
			if err != nil {
				return err
			}

			store, err := openStore(ctx, cfg.Store, logger)
			if err != nil {
				return err
			}

			server := NewServer(cfg, store, logger)
			return server.Start(ctx)
		},
	}

	cmd.Flags().String("host", "", "Listen host")
	cmd.Flags().Int("port", 0, "Listen port")
	return cmd
}

// =============================================================================
// Shared Helpers
// =============================================================================

func addPlanFlags(cmd *cobra.Command) {
	cmd.Flags().String("plan", "", "Path to the deployment manifest")
	cmd.Flags().String("artifacts", "", "Build artifacts directory")
	cmd.Flags().Bool("include-optional", false, "Deploy units marked optional")
}

func planFlags(cmd *cobra.Command) []FlagBinding {
	return []FlagBinding{
		{Key: "plan.path", Flag: cmd.Flags().Lookup("plan")},
		{Key: "plan.artifacts_dir", Flag: cmd.Flags().Lookup("artifacts")},
		{Key: "plan.include_optional", Flag: cmd.Flags().Lookup("include-optional")},
	}
}

// loadWithFlags loads the configuration, binding only flags the user set so
// empty flag defaults never shadow file or environment values.
func loadWithFlags(cmd *cobra.Command, g *globalFlags, flags ...FlagBinding) (*Config, *slog.Logger, error) {
	var changed []FlagBinding
	for _, b := range flags {
		if b.Flag != nil && b.Flag.Changed {
			changed = append(changed, b)
		}
	}

	cfg, err := LoadConfig(g.configPath, changed...)
	if err != nil {
		return nil, nil, configErr("config", err)
	}
	logger := SetupLogger(cfg)
	logger.Debug("configuration loaded", "command", cmd.Name(), "config", g.configPath)
	return cfg, logger, nil
}

// loadPlan builds the plan from the manifest and the build artifacts.
func loadPlan(cfg PlanConfig) (*plan.Plan, error) {
	manifest, err := plan.LoadManifest(cfg.Path)
	if err != nil {
		return nil, configErr("plan", err)
	}
	reg, err := registry.LoadDir(os.DirFS(filepath.Clean(cfg.ArtifactsDir)), ".")
	if err != nil {
		return nil, configErr("artifacts", err)
	}
	p, err := manifest.Build(reg, plan.BuildOptions{IncludeOptional: cfg.IncludeOptional})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func openStore(ctx context.Context, cfg StoreConfig, logger *slog.Logger) (artifact.Store, error) {
	acfg, err := cfg.ArtifactConfig()
	if err != nil {
		return nil, configErr("store", err)
	}
	store, err := artifact.Open(ctx, acfg, logger)
	if err != nil {
		if errors.Is(err, artifact.ErrUnknownBackend) || errors.Is(err, artifact.ErrInvalidData) {
			return nil, configErr("store", err)
		}
		return nil, &CommandError{Op: "store", Err: err, ExitCode: ExitInternalError}
	}
	return store, nil
}
