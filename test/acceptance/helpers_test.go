//go:build acceptance

// Package acceptance contains black-box CLI acceptance tests (TestA_*).
// Build the binary first, then run with:
//
//	go build -o bin/tsaverify ./cmd/tsaverify
//	go test -tags=acceptance ./test/acceptance/...
package acceptance

import (
	"bytes"
	"encoding/hex"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/remiblancher/tsa-verifier/internal/tsa"
	"github.com/remiblancher/tsa-verifier/internal/tsatest"
)

// tsaverifyBinary is the path to the tsaverify binary.
// Set via TSAVERIFY_BINARY env var or default to bin/tsaverify in the repo root.
var tsaverifyBinary string

func init() {
	if bin := os.Getenv("TSAVERIFY_BINARY"); bin != "" {
		tsaverifyBinary = bin
	} else {
		tsaverifyBinary = "../../bin/tsaverify"
	}
}

// run executes tsaverify and returns stdout, stderr and the exit code.
func run(t *testing.T, args ...string) (string, string, int) {
	t.Helper()
	cmd := exec.Command(tsaverifyBinary, args...)
	cmd.Env = append(os.Environ(), "TSAVERIFY_AUDIT_LOG=")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return stdout.String(), stderr.String(), 0
	case errors.As(err, &exitErr):
		return stdout.String(), stderr.String(), exitErr.ExitCode()
	default:
		t.Fatalf("tsaverify %s could not start: %v", strings.Join(args, " "), err)
		return "", "", -1
	}
}

// runTSAVerify executes tsaverify and fails the test on a non-zero exit code.
func runTSAVerify(t *testing.T, args ...string) string {
	t.Helper()
	stdout, stderr, code := run(t, args...)
	if code != 0 {
		t.Fatalf("tsaverify %s exited %d\nstderr: %s\nstdout: %s",
			strings.Join(args, " "), code, stderr, stdout)
	}
	return stdout
}

// runTSAVerifyExpectCode executes tsaverify and expects the given exit code.
// Returns the combined output (stdout + stderr).
func runTSAVerifyExpectCode(t *testing.T, want int, args ...string) string {
	t.Helper()
	stdout, stderr, code := run(t, args...)
	if code != want {
		t.Fatalf("tsaverify %s exited %d, want %d\nstderr: %s\nstdout: %s",
			strings.Join(args, " "), code, want, stderr, stdout)
	}
	return stdout + stderr
}

// fixture is a token issued by a throwaway authority together with the
// provider table that trusts it as "acme".
type fixture struct {
	dir       string
	providers string
	tokenPath string
	token     []byte
	digest    string
}

func newFixture(t *testing.T, data string) *fixture {
	t.Helper()
	auth := tsatest.NewAuthority(t)
	token, digest := auth.IssueForData(t, tsa.SHA256, []byte(data))
	dir := t.TempDir()
	return &fixture{
		dir:       dir,
		providers: writeFile(t, dir, "providers.yaml", auth.ProvidersYAML("acme")),
		tokenPath: writeFile(t, dir, "token.tsr", token),
		token:     token,
		digest:    hex.EncodeToString(digest),
	}
}

// writeFile writes content into dir and returns its path.
func writeFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}
	return path
}

// assertOutputContains fails if the output does not contain the expected substring.
func assertOutputContains(t *testing.T, output, expected string) {
	t.Helper()
	if !strings.Contains(output, expected) {
		t.Errorf("expected output to contain %q, got: %s", expected, output)
	}
}
