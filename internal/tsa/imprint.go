package tsa

import (
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
	"unicode"
)

// DocumentHash is the caller-supplied digest of the document. Algorithm is
// empty unless the caller declared one.
type DocumentHash struct {
	Algorithm HashAlgorithm
	Digest    []byte
}

// ParseDocumentHash parses a hex digest with an optional "algorithm:" prefix,
// e.g. "sha256:9f86d0...". Case and whitespace are ignored.
func ParseDocumentHash(s string) (DocumentHash, error) {
	var dh DocumentHash
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, ':'); i >= 0 {
		alg, err := ParseHashAlgorithm(s[:i])
		if err != nil {
			return DocumentHash{}, err
		}
		dh.Algorithm = alg
		s = s[i+1:]
	}
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	if s == "" {
		return DocumentHash{}, fmt.Errorf("empty document hash")
	}
	digest, err := hex.DecodeString(s)
	if err != nil {
		return DocumentHash{}, fmt.Errorf("document hash is not valid hex: %w", err)
	}
	dh.Digest = digest
	return dh, nil
}

// String renders the hash as lowercase hex, prefixed with the declared
// algorithm if any.
func (d DocumentHash) String() string {
	if d.Algorithm != "" {
		return string(d.Algorithm) + ":" + hex.EncodeToString(d.Digest)
	}
	return hex.EncodeToString(d.Digest)
}

// ImprintResult is the outcome of comparing a token's message imprint with
// a document hash.
type ImprintResult struct {
	Match          bool
	Algorithm      HashAlgorithm
	TokenDigest    []byte
	ProvidedDigest []byte
	Reason         string // set when Match is false
}

// CompareImprint checks the token's message imprint against doc. permitted
// restricts the accepted algorithms; an empty list accepts all. A token
// algorithm outside permitted yields ErrUnsupportedAlgorithm. A declared
// algorithm that differs from the token's, or a digest length mismatch, is
// reported as a mismatch rather than an error.
func CompareImprint(tok *Token, doc DocumentHash, permitted []HashAlgorithm) (ImprintResult, error) {
	alg := tok.HashAlgorithm()
	res := ImprintResult{
		Algorithm:      alg,
		TokenDigest:    tok.HashedMessage(),
		ProvidedDigest: doc.Digest,
	}

	if len(permitted) > 0 && !slices.Contains(permitted, alg) {
		res.Reason = fmt.Sprintf("hash algorithm %s not permitted for this provider", alg)
		return res, NewTSAError("compare", fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, alg))
	}

	switch {
	case doc.Algorithm != "" && doc.Algorithm != alg:
		res.Reason = fmt.Sprintf("declared algorithm %s does not match token algorithm %s", doc.Algorithm, alg)
	case len(doc.Digest) != len(res.TokenDigest):
		res.Reason = fmt.Sprintf("hash length %d does not match %s length %d", len(doc.Digest), alg, len(res.TokenDigest))
	case subtle.ConstantTimeCompare(doc.Digest, res.TokenDigest) != 1:
		res.Reason = "hash mismatch"
	default:
		res.Match = true
	}
	return res, nil
}
