package provider_test

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/remiblancher/tsa-verifier/internal/provider"
	"github.com/remiblancher/tsa-verifier/internal/tsa"
	"github.com/remiblancher/tsa-verifier/internal/tsatest"
)

// =============================================================================
// Provider Registry Tests
// =============================================================================

func TestU_LoadBuiltin(t *testing.T) {
	reg, err := provider.LoadBuiltin()
	if err != nil {
		t.Fatalf("LoadBuiltin() error = %v", err)
	}

	names := reg.Names()
	if !slices.IsSorted(names) {
		t.Errorf("Names() = %v, want sorted", names)
	}
	for _, want := range []string{"sigstore", "digicert", "sectigo", "globalsign", "ssl", "freetsa"} {
		if !slices.Contains(names, want) {
			t.Errorf("Names() = %v, missing %s", names, want)
		}
	}

	p, err := reg.Resolve("sigstore")
	if err != nil {
		t.Fatalf("Resolve(sigstore) error = %v", err)
	}
	if p.Mode != tsa.TrustAnchors || len(p.Anchors) != 1 {
		t.Errorf("sigstore: Mode = %s, anchors = %d", p.Mode, len(p.Anchors))
	}
	if p.Anchors[0].Subject.CommonName != "sigstore-tsa-selfsigned" {
		t.Errorf("sigstore anchor CN = %q", p.Anchors[0].Subject.CommonName)
	}

	d, err := reg.Resolve("digicert")
	if err != nil {
		t.Fatalf("Resolve(digicert) error = %v", err)
	}
	if d.Mode != tsa.TrustSystem || !slices.Contains(d.Organizations, "DigiCert, Inc.") {
		t.Errorf("digicert: Mode = %s, organizations = %v", d.Mode, d.Organizations)
	}
}

func TestU_Resolve(t *testing.T) {
	reg, err := provider.LoadBuiltin()
	if err != nil {
		t.Fatalf("LoadBuiltin() error = %v", err)
	}

	tests := []struct {
		name string
		want string
	}{
		{"digicert", "digicert"},
		{"DigiCert", "digicert"},
		{"  SIGSTORE ", "sigstore"},
		{"comodo", "sectigo"},
		{"DIGICERT-TSA", "digicert"},
		{"FreeTSA", "freetsa"},
		{"FREE-TSA", "freetsa"},
		{"SSL", "ssl"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := reg.Resolve(tt.name)
			if err != nil {
				t.Fatalf("Resolve(%q) error = %v", tt.name, err)
			}
			if p.Name != tt.want {
				t.Errorf("Resolve(%q) = %s, want %s", tt.name, p.Name, tt.want)
			}
		})
	}
}

func TestU_Resolve_Unknown(t *testing.T) {
	reg, err := provider.LoadBuiltin()
	if err != nil {
		t.Fatalf("LoadBuiltin() error = %v", err)
	}

	for _, name := range []string{"unknown-tsa", "", "digi"} {
		p, err := reg.Resolve(name)
		if p != nil {
			t.Errorf("Resolve(%q) returned a profile", name)
		}
		if !errors.Is(err, provider.ErrUnknownProvider) {
			t.Errorf("Resolve(%q) error = %v, want ErrUnknownProvider", name, err)
		}
		var upe *provider.UnknownProviderError
		if !errors.As(err, &upe) || upe.Name != name {
			t.Errorf("Resolve(%q) error = %v, want *UnknownProviderError", name, err)
		}
	}
}

func TestU_NewRegistry_Duplicates(t *testing.T) {
	a := &provider.Profile{Name: "one", Aliases: []string{"uno"}}
	b := &provider.Profile{Name: "ONE"}
	if _, err := provider.NewRegistry(a, b); err == nil {
		t.Error("NewRegistry() should reject duplicate names")
	}

	c := &provider.Profile{Name: "two", Aliases: []string{"uno"}}
	if _, err := provider.NewRegistry(a, c); err == nil {
		t.Error("NewRegistry() should reject duplicate aliases")
	}

	d := &provider.Profile{Name: "three", Aliases: []string{"one"}}
	if _, err := provider.NewRegistry(a, d); err == nil {
		t.Error("NewRegistry() should reject an alias that is a provider name")
	}
}

func TestU_Overlay(t *testing.T) {
	reg, err := provider.LoadBuiltin()
	if err != nil {
		t.Fatalf("LoadBuiltin() error = %v", err)
	}
	auth := tsatest.NewAuthority(t)

	extra, err := provider.Load(auth.ProvidersYAML("internal"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	replacement, err := provider.Load(auth.ProvidersYAML("sigstore"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	merged, err := reg.Overlay(append(extra, replacement...)...)
	if err != nil {
		t.Fatalf("Overlay() error = %v", err)
	}
	if merged.Len() != reg.Len()+1 {
		t.Errorf("Len() = %d, want %d", merged.Len(), reg.Len()+1)
	}
	p, err := merged.Resolve("sigstore")
	if err != nil {
		t.Fatalf("Resolve(sigstore) error = %v", err)
	}
	if !p.Anchors[0].Equal(auth.Root) {
		t.Error("overlay should replace the built-in sigstore profile")
	}
	if _, err := merged.Resolve("sigstore-tsa"); err == nil {
		t.Error("aliases of a replaced profile should be dropped")
	}
	if _, err := reg.Resolve("internal"); err == nil {
		t.Error("Overlay() must not modify the original registry")
	}
}

func TestU_Overlay_FreeTSAAnchors(t *testing.T) {
	reg, err := provider.LoadBuiltin()
	if err != nil {
		t.Fatalf("LoadBuiltin() error = %v", err)
	}
	builtin, err := reg.Resolve("FreeTSA")
	if err != nil {
		t.Fatalf("Resolve(FreeTSA) error = %v", err)
	}
	if builtin.Mode != tsa.TrustSystem || !slices.Contains(builtin.Organizations, "Free TSA") {
		t.Errorf("freetsa: Mode = %s, organizations = %v", builtin.Mode, builtin.Organizations)
	}

	auth := tsatest.NewAuthority(t, tsatest.WithOrganization("Free TSA"))
	pinned, err := provider.Load(auth.ProvidersYAML("freetsa"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	merged, err := reg.Overlay(pinned...)
	if err != nil {
		t.Fatalf("Overlay() error = %v", err)
	}
	p, err := merged.Resolve("FreeTSA")
	if err != nil {
		t.Fatalf("Resolve(FreeTSA) error = %v", err)
	}
	if p.Mode != tsa.TrustAnchors || !p.Anchors[0].Equal(auth.Root) {
		t.Errorf("overlaid freetsa: Mode = %s, anchors = %d", p.Mode, len(p.Anchors))
	}
}

func TestU_Profile_TrustPolicy(t *testing.T) {
	auth := tsatest.NewAuthority(t)
	profiles, err := provider.Load(auth.ProvidersYAML("acme"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	reg, err := provider.NewRegistry(profiles...)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	p, err := reg.Resolve("ACME")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if p.Title() != "acme Test TSA" {
		t.Errorf("Title() = %q", p.Title())
	}

	digest := sha256.Sum256([]byte("document"))
	tok, err := tsa.ParseToken(auth.Issue(t, tsa.SHA256, digest[:]))
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}

	out := tsa.ValidateSignature(tok, p.TrustPolicy(nil))
	if !out.SignatureValid || !out.ProviderMatched {
		t.Errorf("SignatureValid = %v, ProviderMatched = %v, Err = %v", out.SignatureValid, out.ProviderMatched, out.Err)
	}

	res, err := tsa.CompareImprint(tok, tsa.DocumentHash{Digest: digest[:]}, p.Permitted())
	if err != nil || !res.Match {
		t.Errorf("CompareImprint() = %+v, %v", res, err)
	}
}

func TestConcurrency_Registry_Resolve(t *testing.T) {
	reg, err := provider.LoadBuiltin()
	if err != nil {
		t.Fatalf("LoadBuiltin() error = %v", err)
	}
	names := reg.Names()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			name := names[id%len(names)]
			p, err := reg.Resolve(strings.ToUpper(name))
			if err != nil || p.Name != name {
				t.Errorf("Resolve(%s) = %v, %v", name, p, err)
			}
		}(i)
	}
	wg.Wait()
}

// =============================================================================
// Loader Tests
// =============================================================================

func TestU_Load_TrustModes(t *testing.T) {
	auth := tsatest.NewAuthority(t)
	fp := sha256.Sum256(auth.Cert.Raw)

	yaml := `
providers:
  - name: pinned
    trust:
      mode: fingerprint
      fingerprints: ["` + strings.ToUpper(hex.EncodeToString(fp[:])) + `"]
  - name: keyed
    hash_algorithms: [SHA-256, sha3-256]
    trust:
      mode: public_key
      public_key: |
` + indent(auth.PublicKeyPEM(t), "        ") + `
  - name: windowed
    trust:
      mode: system
      organizations: ["Example Ltd"]
      not_before: 2020-01-01
      not_after: 2030-06-30T12:00:00Z
      revoked_serials: ["0a:1b", "FF"]
`
	profiles, err := provider.Load([]byte(yaml))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(profiles) != 3 {
		t.Fatalf("Load() returned %d profiles, want 3", len(profiles))
	}

	if got := profiles[0].Fingerprints[0]; hex.EncodeToString(got) != hex.EncodeToString(fp[:]) {
		t.Errorf("fingerprint = %x", got)
	}
	if profiles[1].PublicKey == nil {
		t.Error("public key not parsed")
	}
	if !slices.Equal(profiles[1].Permitted(), []tsa.HashAlgorithm{tsa.SHA256, tsa.SHA3_256}) {
		t.Errorf("Permitted() = %v", profiles[1].Permitted())
	}

	w := profiles[2]
	if !w.NotBefore.Equal(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("NotBefore = %v", w.NotBefore)
	}
	if !w.NotAfter.Equal(time.Date(2030, 6, 30, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("NotAfter = %v", w.NotAfter)
	}
	if len(w.RevokedSerials) != 2 || w.RevokedSerials[0].Int64() != 0x0a1b || w.RevokedSerials[1].Int64() != 0xff {
		t.Errorf("RevokedSerials = %v", w.RevokedSerials)
	}
}

func TestU_Load_Errors(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{"[U] missing name", "providers:\n  - trust: {mode: system, organizations: [x]}\n", "name"},
		{"[U] missing mode", "providers:\n  - name: a\n    trust: {}\n", "trust.mode"},
		{"[U] unknown mode", "providers:\n  - name: a\n    trust: {mode: magic}\n", "trust.mode"},
		{"[U] anchors without certs", "providers:\n  - name: a\n    trust: {mode: anchors}\n", "trust.mode"},
		{"[U] system without organization", "providers:\n  - name: a\n    trust: {mode: system}\n", "trust.mode"},
		{"[U] public_key without key", "providers:\n  - name: a\n    trust: {mode: public_key}\n", "trust.mode"},
		{"[U] bad anchor PEM", "providers:\n  - name: a\n    trust: {mode: anchors, anchors: nope}\n", "trust.anchors"},
		{"[U] short fingerprint", "providers:\n  - name: a\n    trust: {mode: fingerprint, fingerprints: [abcd]}\n", "trust.fingerprints"},
		{"[U] bad hash algorithm", "providers:\n  - name: a\n    hash_algorithms: [md5]\n    trust: {mode: system, organizations: [x]}\n", "hash_algorithms"},
		{"[U] bad time", "providers:\n  - name: a\n    trust: {mode: system, organizations: [x], not_before: yesterday}\n", "trust.not_before"},
		{"[U] inverted window", "providers:\n  - name: a\n    trust: {mode: system, organizations: [x], not_before: 2030-01-01, not_after: 2020-01-01}\n", "trust.not_after"},
		{"[U] bad serial", "providers:\n  - name: a\n    trust: {mode: system, organizations: [x], revoked_serials: [zz]}\n", "trust.revoked_serials"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := provider.Load([]byte(tt.yaml))
			var pe *provider.ProfileError
			if !errors.As(err, &pe) {
				t.Fatalf("Load() error = %v, want *ProfileError", err)
			}
			if pe.Field != tt.field {
				t.Errorf("Field = %q, want %q (%v)", pe.Field, tt.field, err)
			}
		})
	}
}

func TestU_Load_NotYAML(t *testing.T) {
	if _, err := provider.Load([]byte("providers: [")); err == nil {
		t.Error("Load() should fail on invalid YAML")
	}
	if _, err := provider.Load([]byte("providers: []")); err == nil {
		t.Error("Load() should fail on an empty table")
	}
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i := range lines {
		lines[i] = prefix + lines[i]
	}
	return strings.Join(lines, "\n")
}
