// Package tsatest issues RFC 3161 timestamp tokens from throwaway
// authorities so verification code can be tested against real CMS
// structures.
package tsatest

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/pem"
	"fmt"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/cloudflare/circl/sign/mldsa/mldsa44"
	"github.com/cloudflare/circl/sign/mldsa/mldsa65"
	"github.com/cloudflare/circl/sign/mldsa/mldsa87"

	"github.com/remiblancher/tsa-verifier/internal/cms"
	"github.com/remiblancher/tsa-verifier/internal/tsa"
)

// DefaultPolicy is the TSA policy OID stamped into issued tokens.
var DefaultPolicy = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 55555, 1, 1}

// Authority is a test TSA: a root CA and a timestamping certificate
// issued by it. Cert is nil for key-only authorities.
type Authority struct {
	Root    *x509.Certificate
	RootKey crypto.Signer
	Cert    *x509.Certificate
	Key     crypto.Signer
}

type authorityConfig struct {
	key          crypto.Signer
	organization string
	rootOrg      string
	notBefore    time.Time
	notAfter     time.Time
	noEKU        bool
	keyUsage     x509.KeyUsage
}

// AuthorityOption customizes NewAuthority.
type AuthorityOption func(*authorityConfig)

// WithKey sets the timestamping key (ECDSA P-256 by default).
func WithKey(key crypto.Signer) AuthorityOption {
	return func(c *authorityConfig) { c.key = key }
}

// WithOrganization sets the organization of both certificates.
func WithOrganization(org string) AuthorityOption {
	return func(c *authorityConfig) { c.organization = org }
}

// WithRootOrganization sets the organization of the root only.
func WithRootOrganization(org string) AuthorityOption {
	return func(c *authorityConfig) { c.rootOrg = org }
}

// WithValidity sets the timestamping certificate validity window.
func WithValidity(notBefore, notAfter time.Time) AuthorityOption {
	return func(c *authorityConfig) {
		c.notBefore = notBefore
		c.notAfter = notAfter
	}
}

// WithoutTimestampingEKU issues a certificate with a non-timestamping EKU.
func WithoutTimestampingEKU() AuthorityOption {
	return func(c *authorityConfig) { c.noEKU = true }
}

// WithKeyUsage sets the timestamping certificate key usage.
func WithKeyUsage(ku x509.KeyUsage) AuthorityOption {
	return func(c *authorityConfig) { c.keyUsage = ku }
}

// NewAuthority creates a root CA and a timestamping certificate.
func NewAuthority(tb testing.TB, opts ...AuthorityOption) *Authority {
	tb.Helper()

	now := time.Now()
	cfg := authorityConfig{
		organization: "Test TSA Org",
		notBefore:    now.Add(-24 * time.Hour),
		notAfter:     now.Add(365 * 24 * time.Hour),
		keyUsage:     x509.KeyUsageDigitalSignature,
	}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.key == nil {
		cfg.key = mustECDSA(tb)
	}
	if cfg.rootOrg == "" {
		cfg.rootOrg = cfg.organization
	}

	rootKey := mustECDSA(tb)
	rootTmpl := &x509.Certificate{
		SerialNumber: randomSerial(tb),
		Subject: pkix.Name{
			CommonName:   "Test TSA Root",
			Organization: []string{cfg.rootOrg},
		},
		NotBefore:             now.Add(-10 * 365 * 24 * time.Hour),
		NotAfter:              now.Add(10 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	rootDER, err := x509.CreateCertificate(rand.Reader, rootTmpl, rootTmpl, rootKey.Public(), rootKey)
	if err != nil {
		tb.Fatalf("Failed to create root certificate: %v", err)
	}
	root, err := x509.ParseCertificate(rootDER)
	if err != nil {
		tb.Fatalf("Failed to parse root certificate: %v", err)
	}

	eku := []x509.ExtKeyUsage{x509.ExtKeyUsageTimeStamping}
	if cfg.noEKU {
		eku = []x509.ExtKeyUsage{x509.ExtKeyUsageCodeSigning}
	}
	leafTmpl := &x509.Certificate{
		SerialNumber: randomSerial(tb),
		Subject: pkix.Name{
			CommonName:   "Test TSA",
			Organization: []string{cfg.organization},
		},
		SubjectKeyId:          keyID(tb, cfg.key.Public()),
		NotBefore:             cfg.notBefore,
		NotAfter:              cfg.notAfter,
		KeyUsage:              cfg.keyUsage,
		ExtKeyUsage:           eku,
		BasicConstraintsValid: true,
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTmpl, root, cfg.key.Public(), rootKey)
	if err != nil {
		tb.Fatalf("Failed to create TSA certificate: %v", err)
	}
	leaf, err := x509.ParseCertificate(leafDER)
	if err != nil {
		tb.Fatalf("Failed to parse TSA certificate: %v", err)
	}

	return &Authority{Root: root, RootKey: rootKey, Cert: leaf, Key: cfg.key}
}

// NewKeyAuthority creates an authority without certificates. Its tokens
// identify the signer by subject key identifier and carry no certificates,
// so they can only be verified against a pinned public key.
func NewKeyAuthority(key crypto.Signer) *Authority {
	return &Authority{Key: key}
}

// NewMLDSAAuthority creates a key-only authority with an ML-DSA-65 key.
func NewMLDSAAuthority(tb testing.TB) *Authority {
	tb.Helper()
	_, priv, err := mldsa65.GenerateKey(rand.Reader)
	if err != nil {
		tb.Fatalf("Failed to generate ML-DSA key: %v", err)
	}
	return NewKeyAuthority(priv)
}

// RootPEM returns the root certificate in PEM form.
func (a *Authority) RootPEM() string {
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: a.Root.Raw}))
}

// PublicKeyPEM returns the timestamping public key as a PEM SubjectPublicKeyInfo.
func (a *Authority) PublicKeyPEM(tb testing.TB) string {
	tb.Helper()
	der, err := cms.MarshalPublicKey(a.Key.Public())
	if err != nil {
		tb.Fatalf("Failed to marshal public key: %v", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

// ProvidersYAML returns a provider table with a single anchors-mode
// provider trusting this authority's root.
func (a *Authority) ProvidersYAML(name string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "providers:\n")
	fmt.Fprintf(&b, "  - name: %s\n", name)
	fmt.Fprintf(&b, "    display_name: %s Test TSA\n", name)
	fmt.Fprintf(&b, "    hash_algorithms: [sha256, sha384, sha512]\n")
	fmt.Fprintf(&b, "    trust:\n")
	fmt.Fprintf(&b, "      mode: anchors\n")
	fmt.Fprintf(&b, "      require_timestamping_eku: true\n")
	fmt.Fprintf(&b, "      anchors: |\n")
	for _, line := range strings.Split(strings.TrimSpace(a.RootPEM()), "\n") {
		fmt.Fprintf(&b, "        %s\n", line)
	}
	return []byte(b.String())
}

type tokenConfig struct {
	digestAlg    crypto.Hash
	genTime      time.Time
	policy       asn1.ObjectIdentifier
	serial       *big.Int
	nonce        *big.Int
	accuracy     tsa.Accuracy
	ordering     bool
	tsaName      bool
	certs        int // 0 none, 1 leaf, 2 leaf and root
	signedAttrs  bool
	essCert      bool
	subjectKeyID bool
	signer       crypto.Signer
}

// TokenOption customizes Issue.
type TokenOption func(*tokenConfig)

// WithDigestAlgorithm sets the CMS digest algorithm (SHA-256 by default).
func WithDigestAlgorithm(h crypto.Hash) TokenOption {
	return func(c *tokenConfig) { c.digestAlg = h }
}

// WithGenTime sets the generation time; it is truncated to seconds.
func WithGenTime(t time.Time) TokenOption {
	return func(c *tokenConfig) { c.genTime = t }
}

// WithPolicy sets the TSA policy OID.
func WithPolicy(oid asn1.ObjectIdentifier) TokenOption {
	return func(c *tokenConfig) { c.policy = oid }
}

// WithSerial sets the token serial number.
func WithSerial(n *big.Int) TokenOption {
	return func(c *tokenConfig) { c.serial = n }
}

// WithNonce sets the nonce.
func WithNonce(n *big.Int) TokenOption {
	return func(c *tokenConfig) { c.nonce = n }
}

// WithAccuracy sets the accuracy.
func WithAccuracy(a tsa.Accuracy) TokenOption {
	return func(c *tokenConfig) { c.accuracy = a }
}

// WithOrdering sets the ordering flag.
func WithOrdering() TokenOption {
	return func(c *tokenConfig) { c.ordering = true }
}

// WithTSAName includes the TSA directory name.
func WithTSAName() TokenOption {
	return func(c *tokenConfig) { c.tsaName = true }
}

// WithoutCertificates omits all certificates from the token.
func WithoutCertificates() TokenOption {
	return func(c *tokenConfig) { c.certs = 0 }
}

// WithChain embeds the root next to the timestamping certificate.
func WithChain() TokenOption {
	return func(c *tokenConfig) { c.certs = 2 }
}

// WithoutSignedAttributes signs the TSTInfo directly.
func WithoutSignedAttributes() TokenOption {
	return func(c *tokenConfig) { c.signedAttrs = false }
}

// WithoutSigningCertificate omits the ESS signingCertificateV2 attribute.
func WithoutSigningCertificate() TokenOption {
	return func(c *tokenConfig) { c.essCert = false }
}

// WithSubjectKeyID identifies the signer by subject key identifier.
func WithSubjectKeyID() TokenOption {
	return func(c *tokenConfig) { c.subjectKeyID = true }
}

// WithSigner signs with key instead of the authority key, keeping the
// authority's signer identifier and certificates.
func WithSigner(key crypto.Signer) TokenOption {
	return func(c *tokenConfig) { c.signer = key }
}

// Issue returns a DER-encoded timestamp token (ContentInfo) over digest,
// declared with the imprint algorithm h.
func (a *Authority) Issue(tb testing.TB, h tsa.HashAlgorithm, digest []byte, opts ...TokenOption) []byte {
	tb.Helper()

	cfg := tokenConfig{
		digestAlg:   crypto.SHA256,
		genTime:     time.Now(),
		policy:      DefaultPolicy,
		certs:       1,
		signedAttrs: true,
		essCert:     true,
		signer:      a.Key,
	}
	if a.Cert == nil {
		cfg.certs = 0
		cfg.subjectKeyID = true
	}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.serial == nil {
		cfg.serial = randomSerial(tb)
	}

	info := tsa.TSTInfo{
		Version: 1,
		Policy:  cfg.policy,
		MessageImprint: tsa.MessageImprint{
			HashAlgorithm: pkix.AlgorithmIdentifier{Algorithm: h.OID()},
			HashedMessage: digest,
		},
		SerialNumber: cfg.serial,
		GenTime:      cfg.genTime.UTC().Truncate(time.Second),
		Accuracy:     cfg.accuracy,
		Ordering:     cfg.ordering,
		Nonce:        cfg.nonce,
	}
	if cfg.tsaName && a.Cert != nil {
		gn, err := asn1.Marshal(asn1.RawValue{
			Class:      asn1.ClassContextSpecific,
			Tag:        4,
			IsCompound: true,
			Bytes:      a.Cert.RawSubject,
		})
		if err != nil {
			tb.Fatalf("Failed to marshal TSA name: %v", err)
		}
		info.TSA = asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true, Bytes: gn}
	}
	content, err := asn1.Marshal(info)
	if err != nil {
		tb.Fatalf("Failed to marshal TSTInfo: %v", err)
	}

	si := cms.SignerInfo{
		Version:         1,
		DigestAlgorithm: pkix.AlgorithmIdentifier{Algorithm: cms.OIDFromHash(cfg.digestAlg)},
	}
	if cfg.subjectKeyID {
		si.Version = 3
		si.SID = asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, Bytes: a.subjectKeyID(tb)}
	} else {
		sid, err := asn1.Marshal(cms.IssuerAndSerialNumber{
			Issuer:       asn1.RawValue{FullBytes: a.Cert.RawIssuer},
			SerialNumber: a.Cert.SerialNumber,
		})
		if err != nil {
			tb.Fatalf("Failed to marshal signer identifier: %v", err)
		}
		si.SID = asn1.RawValue{FullBytes: sid}
	}

	toSign := content
	if cfg.signedAttrs {
		setDER := a.signedAttributes(tb, &cfg, content, info.GenTime)
		si.SignedAttrs = cms.ImplicitSignedAttrs(setDER)
		toSign = setDER
	}
	si.SignatureAlgorithm = signatureAlgorithm(tb, cfg.signer, cfg.digestAlg)
	si.Signature = sign(tb, cfg.signer, cfg.digestAlg, toSign)

	eContent, err := cms.NewEContent(content)
	if err != nil {
		tb.Fatalf("Failed to wrap TSTInfo: %v", err)
	}
	var embedded []*x509.Certificate
	switch cfg.certs {
	case 1:
		embedded = []*x509.Certificate{a.Cert}
	case 2:
		embedded = []*x509.Certificate{a.Cert, a.Root}
	}
	rawCerts, err := cms.NewRawCertificates(embedded)
	if err != nil {
		tb.Fatalf("Failed to encode certificates: %v", err)
	}

	sd := cms.SignedData{
		Version:          3,
		DigestAlgorithms: []pkix.AlgorithmIdentifier{si.DigestAlgorithm},
		EncapContentInfo: cms.EncapsulatedContentInfo{
			EContentType: cms.OIDTSTInfo,
			EContent:     eContent,
		},
		Certificates: rawCerts,
		SignerInfos:  []cms.SignerInfo{si},
	}
	sdDER, err := asn1.Marshal(sd)
	if err != nil {
		tb.Fatalf("Failed to marshal SignedData: %v", err)
	}
	token, err := asn1.Marshal(cms.ContentInfo{
		ContentType: cms.OIDSignedData,
		Content: asn1.RawValue{
			Class:      asn1.ClassContextSpecific,
			Tag:        0,
			IsCompound: true,
			Bytes:      sdDER,
		},
	})
	if err != nil {
		tb.Fatalf("Failed to marshal ContentInfo: %v", err)
	}
	return token
}

// IssueForData hashes data with h and issues a token over the digest.
// It returns the token and the digest.
func (a *Authority) IssueForData(tb testing.TB, h tsa.HashAlgorithm, data []byte, opts ...TokenOption) ([]byte, []byte) {
	tb.Helper()
	digest, err := h.Sum(data)
	if err != nil {
		tb.Fatalf("Failed to hash data: %v", err)
	}
	return a.Issue(tb, h, digest, opts...), digest
}

// Response wraps a token in a granted TimeStampResp.
func Response(tb testing.TB, token []byte) []byte {
	tb.Helper()
	der, err := asn1.Marshal(tsa.TimeStampResp{
		Status:         tsa.PKIStatusInfo{Status: tsa.StatusGranted},
		TimeStampToken: asn1.RawValue{FullBytes: token},
	})
	if err != nil {
		tb.Fatalf("Failed to marshal TimeStampResp: %v", err)
	}
	return der
}

// RejectionResponse returns a rejected TimeStampResp with one failure bit set.
func RejectionResponse(tb testing.TB, failBit int, message string) []byte {
	tb.Helper()
	status := tsa.PKIStatusInfo{Status: tsa.StatusRejection, FailInfo: failInfoBitString(failBit)}
	if message != "" {
		status.StatusString = []string{message}
	}
	der, err := asn1.Marshal(tsa.TimeStampResp{Status: status})
	if err != nil {
		tb.Fatalf("Failed to marshal TimeStampResp: %v", err)
	}
	return der
}

// failInfoBitString creates a BitString with the specified failure bit set.
func failInfoBitString(bit int) asn1.BitString {
	length := bit/8 + 1
	b := make([]byte, length)
	b[bit/8] = 1 << uint(7-bit%8)
	return asn1.BitString{Bytes: b, BitLength: bit + 1}
}

func (a *Authority) signedAttributes(tb testing.TB, cfg *tokenConfig, content []byte, genTime time.Time) []byte {
	tb.Helper()

	md, err := cms.Digest(cfg.digestAlg, content)
	if err != nil {
		tb.Fatalf("Failed to digest TSTInfo: %v", err)
	}
	ct, err := cms.NewAttribute(cms.OIDContentType, cms.OIDTSTInfo)
	if err != nil {
		tb.Fatalf("Failed to build content-type attribute: %v", err)
	}
	st, err := cms.NewAttribute(cms.OIDSigningTime, genTime)
	if err != nil {
		tb.Fatalf("Failed to build signing-time attribute: %v", err)
	}
	mda, err := cms.NewAttribute(cms.OIDMessageDigest, md)
	if err != nil {
		tb.Fatalf("Failed to build message-digest attribute: %v", err)
	}
	attrs := []cms.Attribute{ct, st, mda}

	if cfg.essCert && a.Cert != nil {
		certHash, err := cms.Digest(crypto.SHA256, a.Cert.Raw)
		if err != nil {
			tb.Fatalf("Failed to hash certificate: %v", err)
		}
		ess, err := cms.NewAttribute(cms.OIDSigningCertificateV2, signingCertificateV2{
			Certs: []essCertIDv2{{CertHash: certHash}},
		})
		if err != nil {
			tb.Fatalf("Failed to build signingCertificateV2 attribute: %v", err)
		}
		attrs = append(attrs, ess)
	}

	setDER, err := cms.MarshalSignedAttrs(attrs)
	if err != nil {
		tb.Fatalf("Failed to marshal signed attributes: %v", err)
	}
	return setDER
}

type essCertIDv2 struct {
	HashAlgorithm pkix.AlgorithmIdentifier `asn1:"optional"`
	CertHash      []byte
}

type signingCertificateV2 struct {
	Certs []essCertIDv2
}

func (a *Authority) subjectKeyID(tb testing.TB) []byte {
	tb.Helper()
	if a.Cert != nil && len(a.Cert.SubjectKeyId) > 0 {
		return a.Cert.SubjectKeyId
	}
	return keyID(tb, a.Key.Public())
}

// keyID derives a subject key identifier from the SHA-1 of the encoded key.
func keyID(tb testing.TB, pub crypto.PublicKey) []byte {
	tb.Helper()
	der, err := cms.MarshalPublicKey(pub)
	if err != nil {
		tb.Fatalf("Failed to marshal public key: %v", err)
	}
	sum := sha1.Sum(der)
	return sum[:]
}

func signatureAlgorithm(tb testing.TB, signer crypto.Signer, h crypto.Hash) pkix.AlgorithmIdentifier {
	tb.Helper()
	var oid asn1.ObjectIdentifier
	switch signer.Public().(type) {
	case *ecdsa.PublicKey:
		switch h {
		case crypto.SHA384:
			oid = cms.OIDECDSAWithSHA384
		case crypto.SHA512:
			oid = cms.OIDECDSAWithSHA512
		default:
			oid = cms.OIDECDSAWithSHA256
		}
	case *rsa.PublicKey:
		switch h {
		case crypto.SHA384:
			oid = cms.OIDSHA384WithRSA
		case crypto.SHA512:
			oid = cms.OIDSHA512WithRSA
		default:
			oid = cms.OIDSHA256WithRSA
		}
	case ed25519.PublicKey:
		oid = cms.OIDEd25519
	case *mldsa44.PublicKey:
		oid = cms.OIDMLDSA44
	case *mldsa65.PublicKey:
		oid = cms.OIDMLDSA65
	case *mldsa87.PublicKey:
		oid = cms.OIDMLDSA87
	default:
		tb.Fatalf("Unsupported signer type %T", signer.Public())
	}
	return pkix.AlgorithmIdentifier{Algorithm: oid}
}

func sign(tb testing.TB, signer crypto.Signer, h crypto.Hash, data []byte) []byte {
	tb.Helper()
	var sig []byte
	var err error
	switch signer.Public().(type) {
	case ed25519.PublicKey, *mldsa44.PublicKey, *mldsa65.PublicKey, *mldsa87.PublicKey:
		sig, err = signer.Sign(rand.Reader, data, crypto.Hash(0))
	default:
		var digest []byte
		digest, err = cms.Digest(h, data)
		if err == nil {
			sig, err = signer.Sign(rand.Reader, digest, h)
		}
	}
	if err != nil {
		tb.Fatalf("Failed to sign: %v", err)
	}
	return sig
}

func mustECDSA(tb testing.TB) *ecdsa.PrivateKey {
	tb.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		tb.Fatalf("Failed to generate key: %v", err)
	}
	return key
}

func randomSerial(tb testing.TB) *big.Int {
	tb.Helper()
	n, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		tb.Fatalf("Failed to generate serial number: %v", err)
	}
	return n
}
