// Command tsaverify independently verifies RFC 3161 timestamp tokens.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/remiblancher/tsa-verifier/internal/audit"
	"github.com/remiblancher/tsa-verifier/internal/provider"
)

// Build-time variables (injected by GoReleaser)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Exit codes.
const (
	exitValid       = 0
	exitInvalid     = 1
	exitInterrupted = 130
)

// Global flags
var (
	auditLogPath  string
	providersFile string
	debug         bool
)

// exitError ends the process with a specific code. Silent errors have
// already been reported to the user.
type exitError struct {
	code   int
	err    error
	silent bool
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

// run executes the root command and maps its outcome to an exit code.
func run(ctx context.Context, args []string) int {
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(ctx)
	// PersistentPostRunE is skipped when a command fails.
	if cerr := audit.Close(); err == nil && cerr != nil {
		err = cerr
	}
	return exitCode(rootCmd, err)
}

func exitCode(cmd *cobra.Command, err error) int {
	if err == nil {
		return exitValid
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if !ee.silent {
			fmt.Fprintln(cmd.ErrOrStderr(), "Error:", ee)
		}
		return ee.code
	}
	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(cmd.ErrOrStderr(), "Verification cancelled by user.")
		return exitInterrupted
	}
	fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
	return exitInvalid
}

var rootCmd = &cobra.Command{
	Use:   "tsaverify",
	Short: "Independent RFC 3161 timestamp verifier",
	Long: `tsaverify checks RFC 3161 timestamp tokens without trusting the system
that requested them.

For every token it checks that:
  - the token's message imprint equals the document hash
  - the CMS signature over the timestamp is valid
  - the signing certificate belongs to the named TSA provider

Examples:
  # Verify a token file against a document hash
  tsaverify verify --tsr contract.tsr --hash 9f86d081... --provider digicert

  # Verify a JSON document and cross-check a previous verdict
  tsaverify verify --json record.json --compare true

  # List known providers
  tsaverify providers

  # Run the HTTP verification service
  tsaverify serve --config tsaverify.yaml`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Check for audit log path from environment if not set via flag
		if auditLogPath == "" {
			auditLogPath = os.Getenv("TSAVERIFY_AUDIT_LOG")
		}

		if auditLogPath != "" {
			if err := audit.InitFile(auditLogPath); err != nil {
				return fmt.Errorf("failed to initialize audit log: %w", err)
			}
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return audit.Close()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&auditLogPath, "audit-log", "",
		"Path to audit log file (or set TSAVERIFY_AUDIT_LOG env var)")
	rootCmd.PersistentFlags().StringVar(&providersFile, "providers-file", "",
		"YAML provider table merged over the built-in providers")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(providersCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(auditCmd)
}

// newLogger returns the CLI logger. Only warnings are shown unless --debug
// is set.
func newLogger(cmd *cobra.Command) hclog.Logger {
	level := hclog.Warn
	if debug {
		level = hclog.Debug
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:   "tsaverify",
		Level:  level,
		Output: cmd.ErrOrStderr(),
	})
}

// loadRegistry returns the built-in providers, overlaid with path when set.
func loadRegistry(path string, logger hclog.Logger) (*provider.Registry, error) {
	reg, err := provider.LoadBuiltin()
	if err != nil {
		return nil, fmt.Errorf("failed to load built-in providers: %w", err)
	}
	if path == "" {
		return reg, nil
	}

	extra, err := provider.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load providers file: %w", err)
	}
	if reg, err = reg.Overlay(extra...); err != nil {
		return nil, fmt.Errorf("failed to merge providers file: %w", err)
	}
	logger.Debug("providers loaded", "path", path, "added", len(extra), "total", reg.Len())

	if err := audit.LogProvidersLoaded(path, len(extra)); err != nil {
		return nil, fmt.Errorf("failed to write audit log: %w", err)
	}
	return reg, nil
}
