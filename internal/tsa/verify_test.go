package tsa_test

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/remiblancher/tsa-verifier/internal/tsa"
	"github.com/remiblancher/tsa-verifier/internal/tsatest"
)

// =============================================================================
// Signature Validator Tests
// =============================================================================

func anchorsPolicy(auth *tsatest.Authority) *tsa.TrustPolicy {
	return &tsa.TrustPolicy{
		Provider:               "test",
		Mode:                   tsa.TrustAnchors,
		Anchors:                []*x509.Certificate{auth.Root},
		RequireTimestampingEKU: true,
	}
}

func issueAndParse(t *testing.T, auth *tsatest.Authority, opts ...tsatest.TokenOption) *tsa.Token {
	t.Helper()
	digest := sha256.Sum256([]byte("document"))
	tok, err := tsa.ParseToken(auth.Issue(t, tsa.SHA256, digest[:], opts...))
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	return tok
}

func TestU_ValidateSignature_Valid(t *testing.T) {
	auth := tsatest.NewAuthority(t)
	tok := issueAndParse(t, auth)

	out := tsa.ValidateSignature(tok, anchorsPolicy(auth))
	if out.Err != nil {
		t.Fatalf("ValidateSignature() Err = %v", out.Err)
	}
	if !out.SignatureValid || !out.ProviderMatched {
		t.Errorf("SignatureValid = %v, ProviderMatched = %v, want both true", out.SignatureValid, out.ProviderMatched)
	}
	if out.SignerCert == nil || !out.SignerCert.Equal(auth.Cert) {
		t.Error("SignerCert should be the TSA certificate")
	}
	if len(out.Chain) != 2 {
		t.Errorf("Chain length = %d, want 2", len(out.Chain))
	}
}

func TestU_ValidateSignature_KeyTypes(t *testing.T) {
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate RSA key: %v", err)
	}
	_, edKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate Ed25519 key: %v", err)
	}
	p384, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate P-384 key: %v", err)
	}

	tests := []struct {
		name string
		key  crypto.Signer
		opts []tsatest.TokenOption
	}{
		{"[U] RSA PKCS#1 v1.5", rsaKey, nil},
		{"[U] Ed25519", edKey, nil},
		{"[U] ECDSA P-384 SHA-384", p384, []tsatest.TokenOption{tsatest.WithDigestAlgorithm(crypto.SHA384)}},
		{"[U] ECDSA SHA-512 digest", nil, []tsatest.TokenOption{tsatest.WithDigestAlgorithm(crypto.SHA512)}},
		{"[U] SHA3-256 digest", nil, []tsatest.TokenOption{tsatest.WithDigestAlgorithm(crypto.SHA3_256)}},
		{"[U] no signed attributes", nil, []tsatest.TokenOption{tsatest.WithoutSignedAttributes()}},
		{"[U] subject key identifier", nil, []tsatest.TokenOption{tsatest.WithSubjectKeyID()}},
		{"[U] embedded chain", nil, []tsatest.TokenOption{tsatest.WithChain()}},
		{"[U] no ESS attribute", nil, []tsatest.TokenOption{tsatest.WithoutSigningCertificate()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var authOpts []tsatest.AuthorityOption
			if tt.key != nil {
				authOpts = append(authOpts, tsatest.WithKey(tt.key))
			}
			auth := tsatest.NewAuthority(t, authOpts...)
			tok := issueAndParse(t, auth, tt.opts...)

			out := tsa.ValidateSignature(tok, anchorsPolicy(auth))
			if !out.SignatureValid || !out.ProviderMatched {
				t.Errorf("SignatureValid = %v, ProviderMatched = %v, Err = %v", out.SignatureValid, out.ProviderMatched, out.Err)
			}
		})
	}
}

func TestU_ValidateSignature_WrongKey(t *testing.T) {
	auth := tsatest.NewAuthority(t)
	impostor, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	tok := issueAndParse(t, auth, tsatest.WithSigner(impostor))

	out := tsa.ValidateSignature(tok, anchorsPolicy(auth))
	if out.SignatureValid {
		t.Error("SignatureValid should be false")
	}
	if !errors.Is(out.Err, tsa.ErrSignatureInvalid) {
		t.Errorf("Err = %v, want ErrSignatureInvalid", out.Err)
	}
	if !out.ProviderMatched {
		t.Error("ProviderMatched should still be evaluated independently")
	}
}

func TestU_ValidateSignature_TamperedImprint(t *testing.T) {
	auth := tsatest.NewAuthority(t)
	digest := sha256.Sum256([]byte("document"))
	der := auth.Issue(t, tsa.SHA256, digest[:])

	idx := bytes.Index(der, digest[:])
	if idx < 0 {
		t.Fatal("digest not found in token")
	}
	der[idx] ^= 0x01

	tok, err := tsa.ParseToken(der)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}

	res, err := tsa.CompareImprint(tok, tsa.DocumentHash{Digest: digest[:]}, nil)
	if err != nil {
		t.Fatalf("CompareImprint() error = %v", err)
	}
	if res.Match {
		t.Error("imprint should no longer match")
	}

	out := tsa.ValidateSignature(tok, anchorsPolicy(auth))
	if out.SignatureValid {
		t.Error("message-digest attribute should no longer match the content")
	}
	if !errors.Is(out.Err, tsa.ErrSignatureInvalid) {
		t.Errorf("Err = %v, want ErrSignatureInvalid", out.Err)
	}
}

func TestU_ValidateSignature_AnchorMismatch(t *testing.T) {
	auth := tsatest.NewAuthority(t)
	other := tsatest.NewAuthority(t)
	tok := issueAndParse(t, auth)

	out := tsa.ValidateSignature(tok, anchorsPolicy(other))
	if !out.SignatureValid {
		t.Errorf("SignatureValid should be true, Err = %v", out.Err)
	}
	if out.ProviderMatched {
		t.Error("ProviderMatched should be false")
	}
	if !errors.Is(out.Err, tsa.ErrTrustAnchorMismatch) {
		t.Errorf("Err = %v, want ErrTrustAnchorMismatch", out.Err)
	}
}

func TestU_ValidateSignature_NoCertificate(t *testing.T) {
	auth := tsatest.NewAuthority(t)
	tok := issueAndParse(t, auth, tsatest.WithoutCertificates())

	out := tsa.ValidateSignature(tok, anchorsPolicy(auth))
	if out.SignatureValid || out.ProviderMatched {
		t.Errorf("SignatureValid = %v, ProviderMatched = %v, want both false", out.SignatureValid, out.ProviderMatched)
	}
	if !errors.Is(out.Err, tsa.ErrSignatureInvalid) {
		t.Errorf("Err = %v, want ErrSignatureInvalid", out.Err)
	}
}

func TestU_ValidateSignature_Expired(t *testing.T) {
	now := time.Now()
	auth := tsatest.NewAuthority(t, tsatest.WithValidity(now.Add(-time.Hour), now.Add(time.Hour)))

	tests := []struct {
		name    string
		genTime time.Time
	}{
		{"[U] before not-before", now.Add(-3 * time.Hour)},
		{"[U] after not-after", now.Add(3 * time.Hour)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok := issueAndParse(t, auth, tsatest.WithGenTime(tt.genTime))
			out := tsa.ValidateSignature(tok, anchorsPolicy(auth))
			if out.SignatureValid {
				t.Error("SignatureValid should be false")
			}
			if !errors.Is(out.Err, tsa.ErrCertificateExpired) {
				t.Errorf("Err = %v, want ErrCertificateExpired", out.Err)
			}
		})
	}
}

func TestU_ValidateSignature_ProfileWindow(t *testing.T) {
	auth := tsatest.NewAuthority(t)
	tok := issueAndParse(t, auth)

	policy := anchorsPolicy(auth)
	policy.NotAfter = time.Now().Add(-2 * time.Hour)

	out := tsa.ValidateSignature(tok, policy)
	if out.SignatureValid {
		t.Error("SignatureValid should be false outside the provider window")
	}
	if !errors.Is(out.Err, tsa.ErrCertificateExpired) {
		t.Errorf("Err = %v, want ErrCertificateExpired", out.Err)
	}
}

func TestU_ValidateSignature_Usage(t *testing.T) {
	tests := []struct {
		name string
		opts []tsatest.AuthorityOption
	}{
		{"[U] missing timeStamping EKU", []tsatest.AuthorityOption{tsatest.WithoutTimestampingEKU()}},
		{"[U] key usage without signing", []tsatest.AuthorityOption{tsatest.WithKeyUsage(x509.KeyUsageKeyEncipherment)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auth := tsatest.NewAuthority(t, tt.opts...)
			tok := issueAndParse(t, auth)
			out := tsa.ValidateSignature(tok, anchorsPolicy(auth))
			if out.SignatureValid {
				t.Error("SignatureValid should be false")
			}
			if !errors.Is(out.Err, tsa.ErrSignatureInvalid) {
				t.Errorf("Err = %v, want ErrSignatureInvalid", out.Err)
			}
		})
	}
}

func TestU_ValidateSignature_Revoked(t *testing.T) {
	auth := tsatest.NewAuthority(t)
	tok := issueAndParse(t, auth)

	policy := anchorsPolicy(auth)
	policy.RevokedSerials = []*big.Int{big.NewInt(7), auth.Cert.SerialNumber}

	out := tsa.ValidateSignature(tok, policy)
	if out.SignatureValid {
		t.Error("SignatureValid should be false for a revoked signer")
	}
	if !errors.Is(out.Err, tsa.ErrCertificateRevoked) {
		t.Errorf("Err = %v, want ErrCertificateRevoked", out.Err)
	}
}

func TestU_ValidateSignature_Fingerprint(t *testing.T) {
	auth := tsatest.NewAuthority(t)

	t.Run("[U] pinned signer", func(t *testing.T) {
		tok := issueAndParse(t, auth)
		out := tsa.ValidateSignature(tok, &tsa.TrustPolicy{
			Provider:     "test",
			Mode:         tsa.TrustFingerprint,
			Fingerprints: [][]byte{tsa.Fingerprint(auth.Cert)},
		})
		if !out.SignatureValid || !out.ProviderMatched {
			t.Errorf("SignatureValid = %v, ProviderMatched = %v, Err = %v", out.SignatureValid, out.ProviderMatched, out.Err)
		}
	})

	t.Run("[U] pinned embedded root", func(t *testing.T) {
		tok := issueAndParse(t, auth, tsatest.WithChain())
		out := tsa.ValidateSignature(tok, &tsa.TrustPolicy{
			Provider:     "test",
			Mode:         tsa.TrustFingerprint,
			Fingerprints: [][]byte{tsa.Fingerprint(auth.Root)},
		})
		if !out.ProviderMatched {
			t.Errorf("ProviderMatched = false, Err = %v", out.Err)
		}
	})

	t.Run("[U] nothing pinned", func(t *testing.T) {
		tok := issueAndParse(t, auth, tsatest.WithChain())
		other := sha256.Sum256([]byte("other"))
		out := tsa.ValidateSignature(tok, &tsa.TrustPolicy{
			Provider:     "test",
			Mode:         tsa.TrustFingerprint,
			Fingerprints: [][]byte{other[:]},
		})
		if out.ProviderMatched || !errors.Is(out.Err, tsa.ErrTrustAnchorMismatch) {
			t.Errorf("ProviderMatched = %v, Err = %v", out.ProviderMatched, out.Err)
		}
	})
}

func TestU_ValidateSignature_System(t *testing.T) {
	auth := tsatest.NewAuthority(t, tsatest.WithOrganization("Example Timestamping Ltd"))
	tok := issueAndParse(t, auth)
	roots := x509.NewCertPool()
	roots.AddCert(auth.Root)

	out := tsa.ValidateSignature(tok, &tsa.TrustPolicy{
		Provider:      "example",
		Mode:          tsa.TrustSystem,
		Roots:         roots,
		Organizations: []string{"example timestamping ltd"},
	})
	if !out.SignatureValid || !out.ProviderMatched {
		t.Errorf("SignatureValid = %v, ProviderMatched = %v, Err = %v", out.SignatureValid, out.ProviderMatched, out.Err)
	}

	out = tsa.ValidateSignature(tok, &tsa.TrustPolicy{
		Provider:      "digicert",
		Mode:          tsa.TrustSystem,
		Roots:         roots,
		Organizations: []string{"DigiCert, Inc."},
	})
	if out.ProviderMatched {
		t.Error("ProviderMatched should be false for another organization")
	}
	if !errors.Is(out.Err, tsa.ErrTrustAnchorMismatch) {
		t.Errorf("Err = %v, want ErrTrustAnchorMismatch", out.Err)
	}
}

func TestU_ValidateSignature_SystemIgnoresRootOrganization(t *testing.T) {
	auth := tsatest.NewAuthority(t,
		tsatest.WithOrganization("Reseller Timestamps"),
		tsatest.WithRootOrganization("Example Timestamping Ltd"))
	tok := issueAndParse(t, auth)
	roots := x509.NewCertPool()
	roots.AddCert(auth.Root)

	out := tsa.ValidateSignature(tok, &tsa.TrustPolicy{
		Provider:      "example",
		Mode:          tsa.TrustSystem,
		Roots:         roots,
		Organizations: []string{"Example Timestamping Ltd"},
	})
	if !out.SignatureValid {
		t.Fatalf("SignatureValid = false, Err = %v", out.Err)
	}
	if out.ProviderMatched {
		t.Error("a root organization alone should not match the provider")
	}
	if !errors.Is(out.Err, tsa.ErrTrustAnchorMismatch) {
		t.Errorf("Err = %v, want ErrTrustAnchorMismatch", out.Err)
	}

	out = tsa.ValidateSignature(tok, &tsa.TrustPolicy{
		Provider:      "reseller",
		Mode:          tsa.TrustSystem,
		Roots:         roots,
		Organizations: []string{"Reseller Timestamps"},
	})
	if !out.ProviderMatched {
		t.Errorf("ProviderMatched = false, Err = %v", out.Err)
	}
}

func TestU_ValidateSignature_PublicKeyMLDSA(t *testing.T) {
	auth := tsatest.NewMLDSAAuthority(t)
	tok := issueAndParse(t, auth)

	if tok.SignatureAlgorithm() != "ML-DSA-65" {
		t.Errorf("SignatureAlgorithm() = %q, want ML-DSA-65", tok.SignatureAlgorithm())
	}

	out := tsa.ValidateSignature(tok, &tsa.TrustPolicy{
		Provider:  "pq",
		Mode:      tsa.TrustPublicKey,
		PublicKey: auth.Key.Public(),
	})
	if !out.SignatureValid || !out.ProviderMatched {
		t.Errorf("SignatureValid = %v, ProviderMatched = %v, Err = %v", out.SignatureValid, out.ProviderMatched, out.Err)
	}

	other := tsatest.NewMLDSAAuthority(t)
	out = tsa.ValidateSignature(tok, &tsa.TrustPolicy{
		Provider:  "pq",
		Mode:      tsa.TrustPublicKey,
		PublicKey: other.Key.Public(),
	})
	if out.SignatureValid || out.ProviderMatched {
		t.Errorf("SignatureValid = %v, ProviderMatched = %v, want both false", out.SignatureValid, out.ProviderMatched)
	}
	if !errors.Is(out.Err, tsa.ErrSignatureInvalid) {
		t.Errorf("Err = %v, want ErrSignatureInvalid", out.Err)
	}
}

func TestU_ValidateSignature_PublicKeyWithCertificate(t *testing.T) {
	auth := tsatest.NewAuthority(t)
	tok := issueAndParse(t, auth)

	out := tsa.ValidateSignature(tok, &tsa.TrustPolicy{
		Provider:  "test",
		Mode:      tsa.TrustPublicKey,
		PublicKey: auth.Key.Public(),
	})
	if !out.SignatureValid || !out.ProviderMatched {
		t.Errorf("SignatureValid = %v, ProviderMatched = %v, Err = %v", out.SignatureValid, out.ProviderMatched, out.Err)
	}
}

func TestU_ValidateSignature_Unsupported(t *testing.T) {
	auth := tsatest.NewAuthority(t)
	tok := issueAndParse(t, auth)

	out := tsa.ValidateSignature(tok, &tsa.TrustPolicy{Provider: "test", Mode: "bogus"})
	if out.ProviderMatched {
		t.Error("unknown trust mode should never match")
	}
	if !errors.Is(out.Err, tsa.ErrTrustAnchorMismatch) {
		t.Errorf("Err = %v, want ErrTrustAnchorMismatch", out.Err)
	}
}
