package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/remiblancher/tsa-verifier/internal/tsa"
	"github.com/remiblancher/tsa-verifier/internal/tsatest"
)

// executeCommand runs the CLI with args and returns its combined output and
// exit code.
func executeCommand(ctx context.Context, args ...string) (string, int) {
	resetFlags(rootCmd)
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	code := run(ctx, args)
	return buf.String(), code
}

// resetFlags restores every flag of cmd and its children to its default so
// that tests do not leak state into each other.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.PersistentFlags().VisitAll(reset)
	cmd.Flags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// testContext holds test resources.
type testContext struct {
	t       *testing.T
	tempDir string

	auth      *tsatest.Authority
	providers string // provider table trusting auth as "acme"
	tokenPath string
	token     []byte
	digest    string
}

// newTestContext issues a token from a fresh authority and writes the files
// the CLI needs.
func newTestContext(t *testing.T) *testContext {
	t.Helper()
	tc := &testContext{t: t, tempDir: t.TempDir()}

	tc.auth = tsatest.NewAuthority(t)
	tc.providers = tc.writeFile("providers.yaml", tc.auth.ProvidersYAML("acme"))

	token, digest := tc.auth.IssueForData(t, tsa.SHA256, []byte("contract.pdf"))
	tc.token = token
	tc.digest = hex.EncodeToString(digest)
	tc.tokenPath = tc.writeFile("contract.tsr", token)
	return tc
}

// path returns a path within the temp directory.
func (tc *testContext) path(name string) string {
	return filepath.Join(tc.tempDir, name)
}

// writeFile writes content to a file in the temp directory.
func (tc *testContext) writeFile(name string, content []byte) string {
	tc.t.Helper()
	path := tc.path(name)
	if err := os.WriteFile(path, content, 0644); err != nil {
		tc.t.Fatalf("Failed to write file %s: %v", name, err)
	}
	return path
}

func assertExitCode(t *testing.T, got, want int, output string) {
	t.Helper()
	if got != want {
		t.Fatalf("exit code = %d, want %d\noutput:\n%s", got, want, output)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(data)
}
