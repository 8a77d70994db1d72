package cms

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
	"testing"
	"time"
)

// generateTestCertificate creates a self-signed certificate for key.
func generateTestCertificate(t *testing.T, key crypto.Signer) *x509.Certificate {
	t.Helper()
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(4242),
		Subject:      pkix.Name{CommonName: "CMS Test Signer"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		SubjectKeyId: []byte{1, 2, 3, 4, 5},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, key.Public(), key)
	if err != nil {
		t.Fatalf("Failed to create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("Failed to parse certificate: %v", err)
	}
	return cert
}

func generateECDSAKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate ECDSA key: %v", err)
	}
	return key
}

// signedAttrsFor builds content-type and message-digest attributes for
// content and returns their DER SET encoding.
func signedAttrsFor(t *testing.T, contentType asn1.ObjectIdentifier, digest []byte) []byte {
	t.Helper()
	ct, err := NewAttribute(OIDContentType, contentType)
	if err != nil {
		t.Fatalf("NewAttribute(contentType) error = %v", err)
	}
	md, err := NewAttribute(OIDMessageDigest, digest)
	if err != nil {
		t.Fatalf("NewAttribute(messageDigest) error = %v", err)
	}
	set, err := MarshalSignedAttrs([]Attribute{md, ct})
	if err != nil {
		t.Fatalf("MarshalSignedAttrs() error = %v", err)
	}
	return set
}

// signerInfoFor returns a SignerInfo over content signed by key with
// SHA-256 and signed attributes, decoded from its DER encoding.
func signerInfoFor(t *testing.T, key *ecdsa.PrivateKey, cert *x509.Certificate, content []byte) *SignerInfo {
	t.Helper()
	digest, err := Digest(crypto.SHA256, content)
	if err != nil {
		t.Fatalf("Digest() error = %v", err)
	}
	set := signedAttrsFor(t, OIDData, digest)
	setDigest, err := Digest(crypto.SHA256, set)
	if err != nil {
		t.Fatalf("Digest() error = %v", err)
	}
	sig, err := ecdsa.SignASN1(rand.Reader, key, setDigest)
	if err != nil {
		t.Fatalf("SignASN1() error = %v", err)
	}
	sid, err := asn1.Marshal(IssuerAndSerialNumber{
		Issuer:       asn1.RawValue{FullBytes: cert.RawIssuer},
		SerialNumber: cert.SerialNumber,
	})
	if err != nil {
		t.Fatalf("Failed to marshal signer identifier: %v", err)
	}
	return roundTrip(t, SignerInfo{
		Version:            1,
		SID:                asn1.RawValue{FullBytes: sid},
		DigestAlgorithm:    pkix.AlgorithmIdentifier{Algorithm: OIDSHA256},
		SignedAttrs:        ImplicitSignedAttrs(set),
		SignatureAlgorithm: pkix.AlgorithmIdentifier{Algorithm: OIDECDSAWithSHA256},
		Signature:          sig,
	})
}

// roundTrip encodes and decodes si so raw fields are populated as they
// are for parsed tokens.
func roundTrip(t *testing.T, si SignerInfo) *SignerInfo {
	t.Helper()
	der, err := asn1.Marshal(si)
	if err != nil {
		t.Fatalf("Failed to marshal SignerInfo: %v", err)
	}
	var out SignerInfo
	if _, err := asn1.Unmarshal(der, &out); err != nil {
		t.Fatalf("Failed to unmarshal SignerInfo: %v", err)
	}
	return &out
}
