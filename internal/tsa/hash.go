package tsa

import (
	"crypto"
	"encoding/asn1"
	"fmt"
	"strings"

	"github.com/remiblancher/tsa-verifier/internal/cms"
)

// HashAlgorithm names a message-imprint digest algorithm.
type HashAlgorithm string

// Supported message-imprint algorithms.
const (
	SHA1     HashAlgorithm = "sha1"
	SHA224   HashAlgorithm = "sha224"
	SHA256   HashAlgorithm = "sha256"
	SHA384   HashAlgorithm = "sha384"
	SHA512   HashAlgorithm = "sha512"
	SHA3_256 HashAlgorithm = "sha3-256"
	SHA3_384 HashAlgorithm = "sha3-384"
	SHA3_512 HashAlgorithm = "sha3-512"
)

var hashAlgorithms = []struct {
	alg  HashAlgorithm
	hash crypto.Hash
	oid  asn1.ObjectIdentifier
}{
	{SHA1, crypto.SHA1, cms.OIDSHA1},
	{SHA224, crypto.SHA224, cms.OIDSHA224},
	{SHA256, crypto.SHA256, cms.OIDSHA256},
	{SHA384, crypto.SHA384, cms.OIDSHA384},
	{SHA512, crypto.SHA512, cms.OIDSHA512},
	{SHA3_256, crypto.SHA3_256, cms.OIDSHA3_256},
	{SHA3_384, crypto.SHA3_384, cms.OIDSHA3_384},
	{SHA3_512, crypto.SHA3_512, cms.OIDSHA3_512},
}

// ParseHashAlgorithm parses a hash algorithm name. Dashes and case are
// ignored for the SHA-2 family ("SHA-256" and "sha256" are equivalent).
func ParseHashAlgorithm(name string) (HashAlgorithm, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if !strings.HasPrefix(n, "sha3") {
		n = strings.ReplaceAll(n, "-", "")
	} else if !strings.HasPrefix(n, "sha3-") {
		n = "sha3-" + strings.TrimPrefix(n, "sha3")
	}
	for _, h := range hashAlgorithms {
		if h.alg == HashAlgorithm(n) {
			return h.alg, nil
		}
	}
	return "", fmt.Errorf("%w: hash %q", ErrUnsupportedAlgorithm, name)
}

// HashAlgorithmFromOID maps a digest OID to its algorithm.
func HashAlgorithmFromOID(oid asn1.ObjectIdentifier) (HashAlgorithm, bool) {
	for _, h := range hashAlgorithms {
		if h.oid.Equal(oid) {
			return h.alg, true
		}
	}
	return "", false
}

// OID returns the algorithm identifier OID.
func (h HashAlgorithm) OID() asn1.ObjectIdentifier {
	for _, e := range hashAlgorithms {
		if e.alg == h {
			return e.oid
		}
	}
	return nil
}

// CryptoHash returns the crypto.Hash for h, or 0 if unknown.
func (h HashAlgorithm) CryptoHash() crypto.Hash {
	for _, e := range hashAlgorithms {
		if e.alg == h {
			return e.hash
		}
	}
	return 0
}

// Size returns the digest length in bytes, or 0 if unknown.
func (h HashAlgorithm) Size() int {
	if c := h.CryptoHash(); c != 0 {
		return c.Size()
	}
	return 0
}

// Sum computes the digest of data.
func (h HashAlgorithm) Sum(data []byte) ([]byte, error) {
	return cms.Digest(h.CryptoHash(), data)
}

// String returns the algorithm name.
func (h HashAlgorithm) String() string { return string(h) }
