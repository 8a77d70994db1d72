package verifier_test

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"testing"

	"github.com/remiblancher/tsa-verifier/internal/tsa"
	"github.com/remiblancher/tsa-verifier/internal/verifier"
)

// =============================================================================
// JSON Document Tests
// =============================================================================

func TestU_ParseDocument(t *testing.T) {
	tests := []struct {
		name     string
		json     string
		hash     string
		provider string
		encoding tsa.Encoding
		original *bool
	}{
		{
			name:     "[U] canonical keys",
			json:     `{"hash": "abcd", "timestamp_token": "MAA=", "provider": "acme"}`,
			hash:     "abcd",
			provider: "acme",
			encoding: tsa.EncodingBase64,
		},
		{
			name:     "[U] aliases",
			json:     `{"document_hash": "abcd", "token": "MAA=", "tsa_provider": "acme", "original_verified": true}`,
			hash:     "abcd",
			provider: "acme",
			encoding: tsa.EncodingBase64,
			original: boolPtr(true),
		},
		{
			name:     "[U] original_hash and wrapped token",
			json:     `{"original_hash": "abcd", "timestamp_token": {"$binary": {"base64": "MAA=", "subType": "00"}}, "provider": "acme", "original_verified": false}`,
			hash:     "abcd",
			provider: "acme",
			encoding: tsa.EncodingWrapped,
			original: boolPtr(false),
		},
		{
			name: "[U] empty document",
			json: `{}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := verifier.ParseDocument([]byte(tt.json))
			if err != nil {
				t.Fatalf("ParseDocument() error = %v", err)
			}
			if doc.Request.Hash != tt.hash || doc.Request.Provider != tt.provider {
				t.Errorf("Request = %+v", doc.Request)
			}
			if doc.Request.Token.Encoding() != tt.encoding {
				t.Errorf("Encoding() = %v, want %v", doc.Request.Token.Encoding(), tt.encoding)
			}
			switch {
			case tt.original == nil && doc.OriginalVerified != nil:
				t.Errorf("OriginalVerified = %v, want nil", *doc.OriginalVerified)
			case tt.original != nil && (doc.OriginalVerified == nil || *doc.OriginalVerified != *tt.original):
				t.Errorf("OriginalVerified = %v, want %v", doc.OriginalVerified, *tt.original)
			}
		})
	}
}

func TestU_ParseDocument_Errors(t *testing.T) {
	inputs := []string{
		`not json`,
		`[1, 2]`,
		`null`,
		`{"hash": 42}`,
		`{"timestamp_token": 42}`,
		`{"timestamp_token": {"other": {}}}`,
		`{"original_verified": "yes"}`,
		`{"hash_algorithm": "md5"}`,
	}
	for _, in := range inputs {
		if _, err := verifier.ParseDocument([]byte(in)); err == nil {
			t.Errorf("ParseDocument(%s) should fail", in)
		}
	}
}

func TestU_VerifyDocument(t *testing.T) {
	f := newFixture(t)
	b64 := base64.StdEncoding.EncodeToString(f.token)

	data := fmt.Sprintf(`{"hash": %q, "timestamp_token": %q, "provider": "ACME", "original_verified": true}`,
		hex.EncodeToString(f.digest), b64)
	res, tc := f.v.VerifyDocument(context.Background(), []byte(data))
	if !res.Valid {
		t.Fatalf("Valid = false, Error = %s", res.Error)
	}
	if tc == nil || tc.TrustLevel != verifier.TrustHigh {
		t.Errorf("comparison = %+v, want high", tc)
	}

	data = fmt.Sprintf(`{"timestamp_token": %q, "provider": "acme"}`, b64)
	res, tc = f.v.VerifyDocument(context.Background(), []byte(data))
	if res.Valid || !strings.Contains(res.Error, "hash") {
		t.Errorf("missing hash: Valid = %v, Error = %q", res.Valid, res.Error)
	}
	if tc != nil {
		t.Error("no comparison without original_verified")
	}

	data = fmt.Sprintf(`{"hash": %q, "provider": "acme"}`, hex.EncodeToString(f.digest))
	res, _ = f.v.VerifyDocument(context.Background(), []byte(data))
	if res.Valid || !strings.Contains(res.Error, "token") {
		t.Errorf("missing token: Valid = %v, Error = %q", res.Valid, res.Error)
	}

	res, _ = f.v.VerifyDocument(context.Background(), []byte(`{`))
	if res.Valid || res.Error == "" {
		t.Errorf("invalid JSON: Valid = %v, Error = %q", res.Valid, res.Error)
	}
}

func boolPtr(b bool) *bool { return &b }
