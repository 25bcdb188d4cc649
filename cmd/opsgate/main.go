// Opsgate is the release-gate CLI for the observability reliability
// core. It validates telemetry configuration and readiness and blocks
// a release pipeline deterministically when a P0 check fails.
//
// Usage:
//
//	# Run the gate against the production environment
//	OPSGATE_ENVIRONMENT=production opsgate check
//
//	# Strict mode with a machine-readable report
//	opsgate check --strict --json-report gate.json
package main

import (
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
)

// exitCode is set by subcommands before a clean return so deferred
// cleanup still runs.
var exitCode = exitOK

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitConfigError)
	}
	os.Exit(exitCode)
}

var rootCmd = &cobra.Command{
	Use:   "opsgate",
	Short: "Release gate for the observability reliability core",
	Long: `opsgate scores system readiness before a release is allowed to
proceed. It runs a registry of prioritized checks (P0 blocks
unconditionally, P1 blocks in strict mode, P2 is informational) and
exits non-zero when the gate blocks, so CI can fail the pipeline.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.SetVersionTemplate("opsgate {{.Version}} (" + gitCommit + ")\n")
	rootCmd.AddCommand(checkCmd)
}
