package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/opsgate/internal/backend"
	"github.com/fyrsmithlabs/opsgate/internal/config"
	"github.com/fyrsmithlabs/opsgate/internal/gate"
	"github.com/fyrsmithlabs/opsgate/internal/resilience"
	"github.com/fyrsmithlabs/opsgate/internal/rotate"
	"github.com/fyrsmithlabs/opsgate/internal/telemetry"
)

// Exit codes. CI keys off these: 0 lets the pipeline continue, 1
// fails it on a blocked gate, 2 means the gate itself could not run.
const (
	exitOK          = 0
	exitBlocked     = 1
	exitConfigError = 2
)

var (
	checkConfigPath string
	checkEnv        string
	checkStrict     bool
	checkP0Only     bool
	checkSkipSlow   bool
	checkVerbose    bool
	checkJSONReport string
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run the release gate checks",
	Long: `Run all registered gate checks and print a readiness summary.

Examples:
  # Run against the configured environment
  opsgate check

  # Run against staging, P0 checks only, writing a JSON report
  opsgate check --env staging --p0-only --json-report gate.json

  # Strict mode: failed P1 checks also block
  opsgate check --strict`,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&checkConfigPath, "config", "", "Path to YAML config file (optional)")
	checkCmd.Flags().StringVar(&checkEnv, "env", "", "Environment to check (overrides OPSGATE_ENVIRONMENT)")
	checkCmd.Flags().BoolVar(&checkStrict, "strict", false, "Failed P1 checks also block the release")
	checkCmd.Flags().BoolVar(&checkP0Only, "p0-only", false, "Run only P0 checks")
	checkCmd.Flags().BoolVar(&checkSkipSlow, "skip-slow", false, "Skip long-running checks (scored neutrally)")
	checkCmd.Flags().BoolVarP(&checkVerbose, "verbose", "v", false, "Verbose diagnostics")
	checkCmd.Flags().StringVar(&checkJSONReport, "json-report", "", "Write the full summary as JSON to this path")
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(checkConfigPath)
	if err != nil {
		return err
	}
	if checkEnv != "" {
		cfg.Environment = checkEnv
		// The override lands after Load's validation, so it has to
		// pass the same whitelist the config file would.
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	cfg.Gate.Strict = cfg.Gate.Strict || checkStrict
	cfg.Gate.SkipSlow = cfg.Gate.SkipSlow || checkSkipSlow

	diag := newDiagLogger(checkVerbose)
	defer func() { _ = diag.Sync() }()

	tel, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		diag.Warn("telemetry disabled", zap.Error(err))
	} else {
		defer func() { _ = tel.Shutdown(ctx) }()
	}

	manager := resilience.NewManager(cfg.Resilience, diag)
	runner := gate.NewRunner(cfg.Gate, diag)
	registerChecks(runner, cfg, manager, diag)

	summary := runner.RunAll(ctx)
	printSummary(cmd.OutOrStdout(), cfg, summary)

	if checkJSONReport != "" {
		if err := writeReport(checkJSONReport, summary); err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
	}

	if summary.Recommendation == gate.Block {
		exitCode = exitBlocked
	}
	return nil
}

// registerChecks wires the built-in check registry. The gate run is
// read-only: it probes storage and the backend but starts no logger
// schedulers.
func registerChecks(runner *gate.Runner, cfg *config.Config, manager *resilience.Manager, diag *zap.Logger) {
	checks := []gate.Check{
		gate.NewEnvCheck(cfg),
		gate.NewStorageCheck(cfg.Rotation.Dir),
	}

	if !checkP0Only {
		var pinger gate.Pinger
		if cfg.Backend.Endpoint != "" {
			pinger = backend.NewHTTPReporter(cfg.Backend, cfg.Environment, diag)
		}
		checks = append(checks,
			gate.NewBackendCheck(pinger),
			gate.NewDegradationCheck(manager),
			// The CLI holds no live logger, so the headroom check
			// reports informationally that none is attached.
			gate.NewBufferCheck(nil, cfg.Log.BufferCapacity),
		)
		if rot, err := rotate.New(cfg.Rotation, diag.Named("rotate")); err == nil {
			checks = append(checks, gate.NewRetentionCheck(rot, cfg.Rotation.MaxSegments))
			// The rotator is only used to list segments here; close the
			// active handle once the process exits.
		} else {
			diag.Warn("rotator unavailable for retention check", zap.Error(err))
		}
	}

	runner.Register(checks...)
}

func newDiagLogger(verbose bool) *zap.Logger {
	if verbose {
		logger, err := zap.NewDevelopment()
		if err == nil {
			return logger
		}
	}
	return zap.NewNop()
}

// printSummary renders the operator-facing report: counts by status,
// then the P0/P1 issues with remediation suggestions.
func printSummary(out io.Writer, cfg *config.Config, s gate.Summary) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Release gate\t%s\n", cfg.Environment)
	fmt.Fprintf(w, "Score\t%.1f (grade %s)\n", s.OverallScore, s.Grade)
	fmt.Fprintf(w, "Checks\t%d passed, %d failed, %d skipped\n", s.Passed, s.Failed, s.Skipped)
	fmt.Fprintf(w, "Recommendation\t%s\n", s.Recommendation)
	w.Flush()

	issues := s.Issues(gate.P1)
	if len(issues) > 0 {
		fmt.Fprintln(out, "\nIssues:")
		iw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		for _, r := range issues {
			fmt.Fprintf(iw, "  %s\t%s\t%s\n", r.Priority, r.CheckID, r.Details)
			if r.Remediation != "" {
				fmt.Fprintf(iw, "  \t\tfix: %s\n", r.Remediation)
			}
		}
		iw.Flush()
	}
}

func writeReport(path string, s gate.Summary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o640)
}
