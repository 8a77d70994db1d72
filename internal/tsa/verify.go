package tsa

import (
	"bytes"
	"crypto"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"strings"
	"time"

	"github.com/remiblancher/tsa-verifier/internal/cms"
)

// TrustMode selects how a provider's trust anchor is established.
type TrustMode string

// Trust modes.
const (
	// TrustAnchors requires the chain to terminate at one of the anchors.
	TrustAnchors TrustMode = "anchors"
	// TrustFingerprint requires a chain certificate with a pinned SHA-256 fingerprint.
	TrustFingerprint TrustMode = "fingerprint"
	// TrustPublicKey verifies the signature with a pinned public key.
	TrustPublicKey TrustMode = "public_key"
	// TrustSystem chains to the system roots and constrains the organization.
	TrustSystem TrustMode = "system"
)

// TrustPolicy is what the signature validator needs to know about the
// claimed provider.
type TrustPolicy struct {
	Provider      string
	Mode          TrustMode
	Anchors       []*x509.Certificate
	Fingerprints  [][]byte // SHA-256 of DER certificates
	PublicKey     crypto.PublicKey
	Organizations []string

	// Roots overrides the system pool in TrustSystem mode. Nil means the
	// platform roots.
	Roots *x509.CertPool

	// NotBefore and NotAfter narrow the accepted generation times.
	NotBefore time.Time
	NotAfter  time.Time

	RequireTimestampingEKU bool
	RevokedSerials         []*big.Int
}

// SignatureOutcome is the result of ValidateSignature. Err holds the first
// failure and Errors all of them.
type SignatureOutcome struct {
	SignatureValid  bool
	ProviderMatched bool
	Err             error
	Errors          []error
	SignerCert      *x509.Certificate
	Chain           []*x509.Certificate
}

func (o *SignatureOutcome) fail(err error) {
	if o.Err == nil {
		o.Err = err
	}
	o.Errors = append(o.Errors, err)
}

// ValidateSignature checks the token's CMS signature, the signer
// certificate and its binding to the claimed provider. Failures are
// reported in the outcome, never returned or panicked.
func ValidateSignature(tok *Token, policy *TrustPolicy) SignatureOutcome {
	var out SignatureOutcome
	if policy == nil {
		policy = &TrustPolicy{}
	}
	genTime := tok.GenTime()
	si := &tok.SignerInfo

	id, err := si.Identifier()
	if err == nil {
		out.SignerCert, _ = cms.FindSigner(tok.Certificates, id)
	}
	cert := out.SignerCert

	sigOK := true
	if err := si.VerifyAttributes(cms.OIDTSTInfo, tok.Content); err != nil {
		out.fail(signatureError(err))
		sigOK = false
	}

	// The key is taken from the pinned profile key in public_key mode and
	// from the signer certificate otherwise.
	var pub crypto.PublicKey
	switch {
	case policy.Mode == TrustPublicKey && policy.PublicKey != nil:
		pub = policy.PublicKey
	case cert != nil:
		if pub, err = cms.CertificatePublicKey(cert); err != nil {
			out.fail(fmt.Errorf("%w: signer key: %v", ErrUnsupportedAlgorithm, err))
			sigOK = false
		}
	default:
		out.fail(fmt.Errorf("%w: no embedded certificate matches the signer identifier", ErrSignatureInvalid))
		sigOK = false
	}

	keyVerified := false
	if pub != nil {
		if err := si.Verify(pub, tok.Content); err != nil {
			out.fail(signatureError(err))
			sigOK = false
		} else {
			keyVerified = true
		}
	}

	if cert != nil {
		if err := checkSigningCertificate(si, cert); err != nil {
			out.fail(err)
			sigOK = false
		}
		if err := checkValidity(cert, policy, genTime); err != nil {
			out.fail(err)
			sigOK = false
		}
		if err := checkUsage(cert, policy.RequireTimestampingEKU); err != nil {
			out.fail(err)
			sigOK = false
		}
		if isRevoked(cert, policy.RevokedSerials) {
			out.fail(fmt.Errorf("%w: serial %s", ErrCertificateRevoked, cert.SerialNumber.Text(16)))
			sigOK = false
		}
	} else if err := checkWindow(policy, genTime); err != nil {
		out.fail(err)
		sigOK = false
	}
	out.SignatureValid = sigOK

	chain, err := matchProvider(tok, cert, pub, keyVerified, policy)
	if err != nil {
		out.fail(err)
	} else {
		out.ProviderMatched = true
		out.Chain = chain
	}
	return out
}

func signatureError(err error) error {
	if errors.Is(err, cms.ErrUnsupportedAlgorithm) {
		return fmt.Errorf("%w: %v", ErrUnsupportedAlgorithm, err)
	}
	return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
}

func checkValidity(cert *x509.Certificate, policy *TrustPolicy, genTime time.Time) error {
	if genTime.Before(cert.NotBefore) || genTime.After(cert.NotAfter) {
		return fmt.Errorf("%w: %s outside %s..%s", ErrCertificateExpired,
			genTime.Format(time.RFC3339), cert.NotBefore.Format(time.RFC3339), cert.NotAfter.Format(time.RFC3339))
	}
	return checkWindow(policy, genTime)
}

func checkWindow(policy *TrustPolicy, genTime time.Time) error {
	if !policy.NotBefore.IsZero() && genTime.Before(policy.NotBefore) {
		return fmt.Errorf("%w: %s before provider validity start %s", ErrCertificateExpired,
			genTime.Format(time.RFC3339), policy.NotBefore.Format(time.RFC3339))
	}
	if !policy.NotAfter.IsZero() && genTime.After(policy.NotAfter) {
		return fmt.Errorf("%w: %s after provider validity end %s", ErrCertificateExpired,
			genTime.Format(time.RFC3339), policy.NotAfter.Format(time.RFC3339))
	}
	return nil
}

// checkUsage enforces the timeStamping EKU when the certificate declares
// extended key usages (or the profile requires one), and a signing key usage
// when the certificate declares key usages.
func checkUsage(cert *x509.Certificate, requireEKU bool) error {
	hasEKU := len(cert.ExtKeyUsage) > 0 || len(cert.UnknownExtKeyUsage) > 0
	if hasEKU || requireEKU {
		if !slices.Contains(cert.ExtKeyUsage, x509.ExtKeyUsageTimeStamping) {
			return fmt.Errorf("%w: signer certificate lacks the timeStamping extended key usage", ErrSignatureInvalid)
		}
	}
	if cert.KeyUsage != 0 && cert.KeyUsage&(x509.KeyUsageDigitalSignature|x509.KeyUsageContentCommitment) == 0 {
		return fmt.Errorf("%w: signer certificate key usage does not permit signing", ErrSignatureInvalid)
	}
	return nil
}

func isRevoked(cert *x509.Certificate, revoked []*big.Int) bool {
	for _, s := range revoked {
		if s != nil && s.Cmp(cert.SerialNumber) == 0 {
			return true
		}
	}
	return false
}

// ESS signing certificate attributes (RFC 2634 Section 5.4, RFC 5035).
type essCertID struct {
	CertHash     []byte
	IssuerSerial asn1.RawValue `asn1:"optional"`
}

type signingCertificate struct {
	Certs    []essCertID
	Policies asn1.RawValue `asn1:"optional"`
}

type essCertIDv2 struct {
	HashAlgorithm pkix.AlgorithmIdentifier `asn1:"optional"`
	CertHash      []byte
	IssuerSerial  asn1.RawValue `asn1:"optional"`
}

type signingCertificateV2 struct {
	Certs    []essCertIDv2
	Policies asn1.RawValue `asn1:"optional"`
}

// checkSigningCertificate verifies that an ESS signing-certificate
// attribute, when present, names the signer certificate.
func checkSigningCertificate(si *cms.SignerInfo, cert *x509.Certificate) error {
	if !si.HasSignedAttrs() {
		return nil
	}
	attrs, err := si.Attributes()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}

	if v, ok := cms.FindAttribute(attrs, cms.OIDSigningCertificateV2); ok {
		var sc signingCertificateV2
		if _, err := asn1.Unmarshal(v.FullBytes, &sc); err != nil || len(sc.Certs) == 0 {
			return fmt.Errorf("%w: malformed signingCertificateV2 attribute", ErrSignatureInvalid)
		}
		h := crypto.SHA256
		if len(sc.Certs[0].HashAlgorithm.Algorithm) > 0 {
			h = cms.HashFromOID(sc.Certs[0].HashAlgorithm.Algorithm)
		}
		digest, err := cms.Digest(h, cert.Raw)
		if err != nil {
			return fmt.Errorf("%w: signingCertificateV2: %v", ErrUnsupportedAlgorithm, err)
		}
		if !bytes.Equal(digest, sc.Certs[0].CertHash) {
			return fmt.Errorf("%w: signingCertificateV2 does not match signer certificate", ErrSignatureInvalid)
		}
		return nil
	}

	if v, ok := cms.FindAttribute(attrs, cms.OIDSigningCertificate); ok {
		var sc signingCertificate
		if _, err := asn1.Unmarshal(v.FullBytes, &sc); err != nil || len(sc.Certs) == 0 {
			return fmt.Errorf("%w: malformed signingCertificate attribute", ErrSignatureInvalid)
		}
		digest, _ := cms.Digest(crypto.SHA1, cert.Raw)
		if !bytes.Equal(digest, sc.Certs[0].CertHash) {
			return fmt.Errorf("%w: signingCertificate does not match signer certificate", ErrSignatureInvalid)
		}
	}
	return nil
}

// matchProvider establishes that the signer belongs to the claimed
// provider and returns the chain it was established with.
func matchProvider(tok *Token, cert *x509.Certificate, pub crypto.PublicKey, keyVerified bool, policy *TrustPolicy) ([]*x509.Certificate, error) {
	switch policy.Mode {
	case TrustPublicKey:
		if policy.PublicKey == nil {
			return nil, fmt.Errorf("%w: provider %s has no pinned public key", ErrTrustAnchorMismatch, policy.Provider)
		}
		if !keyVerified {
			return nil, fmt.Errorf("%w: signature does not verify with the %s public key", ErrTrustAnchorMismatch, policy.Provider)
		}
		if cert != nil {
			certKey, err := cms.CertificatePublicKey(cert)
			if err != nil || !publicKeysEqual(certKey, policy.PublicKey) {
				return nil, fmt.Errorf("%w: signer certificate key is not the %s public key", ErrTrustAnchorMismatch, policy.Provider)
			}
			return []*x509.Certificate{cert}, nil
		}
		return nil, nil

	case TrustAnchors:
		if cert == nil {
			return nil, fmt.Errorf("%w: no signer certificate to chain", ErrTrustAnchorMismatch)
		}
		if len(policy.Anchors) == 0 {
			return nil, fmt.Errorf("%w: provider %s has no trust anchors", ErrTrustAnchorMismatch, policy.Provider)
		}
		return verifyChain(tok, cert, certPool(policy.Anchors), policy)

	case TrustFingerprint:
		if cert == nil {
			return nil, fmt.Errorf("%w: no signer certificate to chain", ErrTrustAnchorMismatch)
		}
		if isPinned(cert, policy.Fingerprints) {
			return []*x509.Certificate{cert}, nil
		}
		var pinned []*x509.Certificate
		for _, c := range tok.Certificates {
			if isPinned(c, policy.Fingerprints) {
				pinned = append(pinned, c)
			}
		}
		if len(pinned) == 0 {
			return nil, fmt.Errorf("%w: no embedded certificate matches a %s fingerprint", ErrTrustAnchorMismatch, policy.Provider)
		}
		return verifyChain(tok, cert, certPool(pinned), policy)

	case TrustSystem:
		if cert == nil {
			return nil, fmt.Errorf("%w: no signer certificate to chain", ErrTrustAnchorMismatch)
		}
		chain, err := verifyChain(tok, cert, policy.Roots, policy)
		if err != nil {
			return nil, err
		}
		if len(policy.Organizations) == 0 {
			return chain, nil
		}
		for _, c := range organizationSubjects(chain) {
			for _, org := range c.Subject.Organization {
				for _, want := range policy.Organizations {
					if strings.EqualFold(strings.TrimSpace(org), strings.TrimSpace(want)) {
						return chain, nil
					}
				}
			}
		}
		return nil, fmt.Errorf("%w: chain is not issued to %s", ErrTrustAnchorMismatch, strings.Join(policy.Organizations, ", "))
	}
	return nil, fmt.Errorf("%w: unknown trust mode %q", ErrTrustAnchorMismatch, policy.Mode)
}

// verifyChain builds a chain from cert to roots through the embedded
// certificates, evaluated at the token's generation time. Extended key
// usage is enforced on the signer separately by checkUsage.
func verifyChain(tok *Token, cert *x509.Certificate, roots *x509.CertPool, policy *TrustPolicy) ([]*x509.Certificate, error) {
	intermediates := x509.NewCertPool()
	for _, c := range tok.Certificates {
		if c != cert {
			intermediates.AddCert(c)
		}
	}
	chains, err := cert.Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
		CurrentTime:   tok.GenTime(),
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		var invalid x509.CertificateInvalidError
		if errors.As(err, &invalid) && invalid.Reason == x509.Expired {
			return nil, fmt.Errorf("%w: chain: %v", ErrCertificateExpired, err)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrTrustAnchorMismatch, policy.Provider, err)
	}
	return chains[0], nil
}

// organizationSubjects returns the certificates an organization constraint
// is checked against: the signer and its issuer, unless that issuer is the
// trust anchor terminating the chain.
func organizationSubjects(chain []*x509.Certificate) []*x509.Certificate {
	if len(chain) > 2 {
		return chain[:2]
	}
	return chain[:1]
}

func certPool(certs []*x509.Certificate) *x509.CertPool {
	pool := x509.NewCertPool()
	for _, c := range certs {
		pool.AddCert(c)
	}
	return pool
}

func isPinned(cert *x509.Certificate, fingerprints [][]byte) bool {
	fp := sha256.Sum256(cert.Raw)
	for _, want := range fingerprints {
		if bytes.Equal(fp[:], want) {
			return true
		}
	}
	return false
}

func publicKeysEqual(a, b crypto.PublicKey) bool {
	eq, ok := a.(interface{ Equal(crypto.PublicKey) bool })
	return ok && eq.Equal(b)
}

// Fingerprint returns the SHA-256 fingerprint of a certificate.
func Fingerprint(cert *x509.Certificate) []byte {
	fp := sha256.Sum256(cert.Raw)
	return fp[:]
}
