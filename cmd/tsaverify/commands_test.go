package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/remiblancher/tsa-verifier/internal/audit"
	"github.com/remiblancher/tsa-verifier/internal/tsatest"
)

// =============================================================================
// Providers Tests
// =============================================================================

func TestF_Providers_Table(t *testing.T) {
	out, code := executeCommand(context.Background(), "providers")

	assertExitCode(t, code, exitValid, out)
	for _, want := range []string{"NAME", "sigstore", "digicert", "provider(s)"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestF_Providers_JSONWithOverlay(t *testing.T) {
	tc := newTestContext(t)

	out, code := executeCommand(context.Background(), "providers", "--json", "--providers-file", tc.providers)

	assertExitCode(t, code, exitValid, out)
	var entries []providerEntry
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	found := false
	for _, e := range entries {
		if e.Name == "acme" {
			found = true
			if e.TrustMode != "anchors" || len(e.HashAlgorithms) != 3 {
				t.Errorf("acme = %+v", e)
			}
		}
	}
	if !found {
		t.Error("overlay provider acme not listed")
	}
}

func TestF_Providers_BadFile(t *testing.T) {
	tc := newTestContext(t)
	path := tc.writeFile("bad.yaml", []byte("providers: [{name: x, trust: {mode: telepathy}}]"))

	out, code := executeCommand(context.Background(), "providers", "--providers-file", path)
	assertExitCode(t, code, exitInvalid, out)
	if !strings.Contains(out, "failed to load providers file") {
		t.Errorf("output = %q", out)
	}
}

// =============================================================================
// Info Tests
// =============================================================================

func TestF_Info_Token(t *testing.T) {
	tc := newTestContext(t)

	out, code := executeCommand(context.Background(), "info", tc.tokenPath)

	assertExitCode(t, code, exitValid, out)
	for _, want := range []string{"Timestamp Token:", "Serial:", "Hash Alg:     sha256", "Imprint:      " + tc.digest, "Certificates (1):"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestF_Info_Base64Response(t *testing.T) {
	tc := newTestContext(t)
	resp := tsatest.Response(t, tc.token)
	path := tc.writeFile("response.b64", []byte(base64.StdEncoding.EncodeToString(resp)+"\n"))

	out, code := executeCommand(context.Background(), "info", path)

	assertExitCode(t, code, exitValid, out)
	if !strings.Contains(out, "Timestamp Response:") || !strings.Contains(out, "Timestamp Token:") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestF_Info_Rejected(t *testing.T) {
	tc := newTestContext(t)
	path := tc.writeFile("rejected.tsr", tsatest.RejectionResponse(t, 2, "bad request"))

	out, code := executeCommand(context.Background(), "info", path)

	assertExitCode(t, code, exitInvalid, out)
	if !strings.Contains(out, "Failure:") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestF_Info_Errors(t *testing.T) {
	tc := newTestContext(t)

	tests := []struct {
		name string
		args []string
	}{
		{"[F] no argument", []string{"info"}},
		{"[F] missing file", []string{"info", tc.path("missing.tsr")}},
		{"[F] garbage", []string{"info", tc.writeFile("garbage.tsr", []byte("not a token"))}},
		{"[F] truncated DER", []string{"info", tc.writeFile("short.tsr", []byte{0x30, 0x82, 0x01})}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, code := executeCommand(context.Background(), tt.args...)
			assertExitCode(t, code, exitInvalid, out)
		})
	}
}

// =============================================================================
// Audit Tests
// =============================================================================

func TestF_Audit_VerifyAndTail(t *testing.T) {
	tc := newTestContext(t)
	logPath := tc.path("audit.jsonl")

	_, code := executeCommand(context.Background(), "verify",
		"--audit-log", logPath,
		"--providers-file", tc.providers,
		"--tsr", tc.tokenPath,
		"--hash", tc.digest,
		"--provider", "acme")
	if code != exitValid {
		t.Fatalf("verify exit code = %d", code)
	}

	out, code := executeCommand(context.Background(), "audit", "verify", "--log", logPath)
	assertExitCode(t, code, exitValid, out)
	if !strings.Contains(out, "VERIFICATION PASSED") || !strings.Contains(out, "Total events: 2") {
		t.Errorf("unexpected output:\n%s", out)
	}

	out, code = executeCommand(context.Background(), "audit", "tail", "--log", logPath, "-n", "1")
	assertExitCode(t, code, exitValid, out)
	if !strings.Contains(out, string(audit.EventTSAVerify)) || !strings.Contains(out, "provider=acme") {
		t.Errorf("unexpected output:\n%s", out)
	}
	if strings.Contains(out, string(audit.EventProvidersLoaded)) {
		t.Error("tail -n 1 should show only the last event")
	}

	out, code = executeCommand(context.Background(), "audit", "tail", "--log", logPath, "--json")
	assertExitCode(t, code, exitValid, out)
	var events []audit.Event
	if err := json.Unmarshal([]byte(out), &events); err != nil || len(events) != 2 {
		t.Errorf("tail --json = %d events, err %v", len(events), err)
	}
}

func TestF_Audit_Verify_Tampered(t *testing.T) {
	tc := newTestContext(t)
	logPath := tc.path("audit.jsonl")
	if err := audit.InitFile(logPath); err != nil {
		t.Fatalf("InitFile() error = %v", err)
	}
	_ = audit.LogProvidersLoaded("a.yaml", 1)
	_ = audit.LogProvidersLoaded("b.yaml", 2)
	_ = audit.Close()

	data := readFile(t, logPath)
	tc.writeFile("audit.jsonl", []byte(strings.Replace(data, "b.yaml", "c.yaml", 1)))

	out, code := executeCommand(context.Background(), "audit", "verify", "--log", logPath)
	assertExitCode(t, code, exitInvalid, out)
	if !strings.Contains(out, "VERIFICATION FAILED") || !strings.Contains(out, "Valid events: 1") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestF_Audit_Tail_Empty(t *testing.T) {
	tc := newTestContext(t)
	path := tc.writeFile("empty.jsonl", nil)

	out, code := executeCommand(context.Background(), "audit", "tail", "--log", path)
	assertExitCode(t, code, exitValid, out)
	if !strings.Contains(out, "Audit log is empty") {
		t.Errorf("output = %q", out)
	}
}

func TestF_Audit_RequiresLog(t *testing.T) {
	out, code := executeCommand(context.Background(), "audit", "verify")
	assertExitCode(t, code, exitInvalid, out)
}

// =============================================================================
// Serve Tests
// =============================================================================

func TestF_Serve_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, code := executeCommand(ctx, "serve", "--address", "127.0.0.1:0")
	assertExitCode(t, code, exitValid, out)
	if !strings.Contains(out, "starting verification service") {
		t.Errorf("output missing startup line:\n%s", out)
	}
}

func TestF_Serve_BadConfig(t *testing.T) {
	tc := newTestContext(t)
	path := tc.writeFile("config.yaml", []byte("cache:\n  backend: memcached\n"))

	out, code := executeCommand(context.Background(), "serve", "--config", path)
	assertExitCode(t, code, exitInvalid, out)
}

// =============================================================================
// Exit Code Tests
// =============================================================================

func TestU_ExitCode(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.SetErr(new(strings.Builder))

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"[U] nil", nil, exitValid},
		{"[U] plain error", errors.New("boom"), exitInvalid},
		{"[U] canceled", context.Canceled, exitInterrupted},
		{"[U] exit error", &exitError{code: 42}, 42},
		{"[U] wrapped exit error", errors.Join(errors.New("x"), &exitError{code: exitInterrupted}), exitInterrupted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(cmd, tt.err); got != tt.want {
				t.Errorf("exitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestF_Version(t *testing.T) {
	out, code := executeCommand(context.Background(), "--version")
	assertExitCode(t, code, exitValid, out)
	if !strings.Contains(out, version) {
		t.Errorf("output = %q", out)
	}
}
