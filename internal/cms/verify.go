package cms

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"hash"

	"github.com/cloudflare/circl/sign/mldsa/mldsa44"
	"github.com/cloudflare/circl/sign/mldsa/mldsa65"
	"github.com/cloudflare/circl/sign/mldsa/mldsa87"
	"golang.org/x/crypto/sha3"
)

// NewHash returns a fresh hash.Hash for h.
func NewHash(h crypto.Hash) (hash.Hash, error) {
	switch h {
	case crypto.SHA1:
		return sha1.New(), nil
	case crypto.SHA224:
		return sha256.New224(), nil
	case crypto.SHA256:
		return sha256.New(), nil
	case crypto.SHA384:
		return sha512.New384(), nil
	case crypto.SHA512:
		return sha512.New(), nil
	case crypto.SHA3_256:
		return sha3.New256(), nil
	case crypto.SHA3_384:
		return sha3.New384(), nil
	case crypto.SHA3_512:
		return sha3.New512(), nil
	default:
		return nil, fmt.Errorf("%w: hash %v", ErrUnsupportedAlgorithm, h)
	}
}

// Digest computes the digest of data with h.
func Digest(h crypto.Hash, data []byte) ([]byte, error) {
	hh, err := NewHash(h)
	if err != nil {
		return nil, err
	}
	hh.Write(data)
	return hh.Sum(nil), nil
}

// VerifyAttributes checks the content-type and message-digest signed
// attributes against the encapsulated content. It is a no-op when the
// SignerInfo carries no signed attributes.
func (si *SignerInfo) VerifyAttributes(contentType asn1.ObjectIdentifier, content []byte) error {
	if !si.HasSignedAttrs() {
		return nil
	}
	attrs, err := si.Attributes()
	if err != nil {
		return err
	}

	ctVal, ok := FindAttribute(attrs, OIDContentType)
	if !ok {
		return NewCMSError("verify", fmt.Errorf("%w: content-type", ErrMissingAttribute))
	}
	var ct asn1.ObjectIdentifier
	if _, err := asn1.Unmarshal(ctVal.FullBytes, &ct); err != nil {
		return NewCMSError("verify", fmt.Errorf("invalid content-type attribute: %w", err))
	}
	if !ct.Equal(contentType) {
		return NewCMSError("verify", fmt.Errorf("%w: content-type %v, expected %v", ErrAttributeMismatch, ct, contentType))
	}

	mdVal, ok := FindAttribute(attrs, OIDMessageDigest)
	if !ok {
		return NewCMSError("verify", fmt.Errorf("%w: message-digest", ErrMissingAttribute))
	}
	var md []byte
	if _, err := asn1.Unmarshal(mdVal.FullBytes, &md); err != nil {
		return NewCMSError("verify", fmt.Errorf("invalid message-digest attribute: %w", err))
	}
	h := HashFromOID(si.DigestAlgorithm.Algorithm)
	digest, err := Digest(h, content)
	if err != nil {
		return NewCMSError("verify", err)
	}
	if !bytes.Equal(md, digest) {
		return NewCMSError("verify", fmt.Errorf("%w: message-digest", ErrAttributeMismatch))
	}
	return nil
}

// SignedBytes returns the octets covered by the signature: the DER SET of
// signed attributes when present, the content otherwise.
func (si *SignerInfo) SignedBytes(content []byte) []byte {
	if si.HasSignedAttrs() {
		return si.SignedAttrsDER()
	}
	return content
}

// Verify checks the SignerInfo signature over content with pub.
func (si *SignerInfo) Verify(pub crypto.PublicKey, content []byte) error {
	h := HashFromOID(si.DigestAlgorithm.Algorithm)
	return VerifySignature(pub, si.SignatureAlgorithm, h, si.SignedBytes(content), si.Signature)
}

// pssParameters is RSASSA-PSS-params (RFC 4055).
type pssParameters struct {
	Hash         pkix.AlgorithmIdentifier `asn1:"optional,explicit,tag:0"`
	MGF          pkix.AlgorithmIdentifier `asn1:"optional,explicit,tag:1"`
	SaltLength   int                      `asn1:"optional,explicit,tag:2,default:20"`
	TrailerField int                      `asn1:"optional,explicit,tag:3,default:1"`
}

// VerifySignature verifies signature over data.
// digestAlg is the SignerInfo digest algorithm; it is ignored for
// algorithms that sign the message directly (Ed25519, ML-DSA).
func VerifySignature(pub crypto.PublicKey, sigAlg pkix.AlgorithmIdentifier, digestAlg crypto.Hash, data, signature []byte) error {
	switch key := pub.(type) {
	case *ecdsa.PublicKey:
		digest, err := Digest(digestAlg, data)
		if err != nil {
			return err
		}
		if !ecdsa.VerifyASN1(key, digest, signature) {
			return fmt.Errorf("%w: ECDSA", ErrInvalidSignature)
		}
		return nil

	case ed25519.PublicKey:
		if !ed25519.Verify(key, data, signature) {
			return fmt.Errorf("%w: Ed25519", ErrInvalidSignature)
		}
		return nil

	case *rsa.PublicKey:
		if sigAlg.Algorithm.Equal(OIDRSAPSS) {
			return verifyPSS(key, sigAlg, data, signature)
		}
		digest, err := Digest(digestAlg, data)
		if err != nil {
			return err
		}
		if err := rsa.VerifyPKCS1v15(key, digestAlg, digest, signature); err != nil {
			return fmt.Errorf("%w: RSA: %v", ErrInvalidSignature, err)
		}
		return nil

	case *mldsa44.PublicKey:
		if !mldsa44.Verify(key, data, nil, signature) {
			return fmt.Errorf("%w: ML-DSA-44", ErrInvalidSignature)
		}
		return nil

	case *mldsa65.PublicKey:
		if !mldsa65.Verify(key, data, nil, signature) {
			return fmt.Errorf("%w: ML-DSA-65", ErrInvalidSignature)
		}
		return nil

	case *mldsa87.PublicKey:
		if !mldsa87.Verify(key, data, nil, signature) {
			return fmt.Errorf("%w: ML-DSA-87", ErrInvalidSignature)
		}
		return nil

	default:
		return fmt.Errorf("%w: public key type %T", ErrUnsupportedAlgorithm, pub)
	}
}

func verifyPSS(key *rsa.PublicKey, sigAlg pkix.AlgorithmIdentifier, data, signature []byte) error {
	h := crypto.SHA1
	if len(sigAlg.Parameters.FullBytes) > 0 {
		var params pssParameters
		if _, err := asn1.Unmarshal(sigAlg.Parameters.FullBytes, &params); err != nil {
			return fmt.Errorf("%w: invalid RSASSA-PSS parameters: %v", ErrUnsupportedAlgorithm, err)
		}
		if len(params.Hash.Algorithm) > 0 {
			h = HashFromOID(params.Hash.Algorithm)
		}
	}
	digest, err := Digest(h, data)
	if err != nil {
		return err
	}
	opts := &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthAuto, Hash: h}
	if err := rsa.VerifyPSS(key, h, digest, signature, opts); err != nil {
		return fmt.Errorf("%w: RSA-PSS: %v", ErrInvalidSignature, err)
	}
	return nil
}

// subjectPublicKeyInfo mirrors the X.509 SPKI structure.
type subjectPublicKeyInfo struct {
	Algorithm pkix.AlgorithmIdentifier
	PublicKey asn1.BitString
}

// ParsePublicKey parses a DER SubjectPublicKeyInfo. It extends
// x509.ParsePKIXPublicKey with ML-DSA keys.
func ParsePublicKey(der []byte) (crypto.PublicKey, error) {
	var spki subjectPublicKeyInfo
	if rest, err := asn1.Unmarshal(der, &spki); err != nil {
		return nil, fmt.Errorf("invalid SubjectPublicKeyInfo: %w", err)
	} else if len(rest) > 0 {
		return nil, fmt.Errorf("invalid SubjectPublicKeyInfo: trailing data")
	}
	if isMLDSA(spki.Algorithm.Algorithm) {
		return parseMLDSAPublicKey(spki.Algorithm.Algorithm, spki.PublicKey.RightAlign())
	}
	return x509.ParsePKIXPublicKey(der)
}

func parseMLDSAPublicKey(oid asn1.ObjectIdentifier, data []byte) (crypto.PublicKey, error) {
	switch {
	case oid.Equal(OIDMLDSA44):
		pub := new(mldsa44.PublicKey)
		if err := pub.UnmarshalBinary(data); err != nil {
			return nil, err
		}
		return pub, nil
	case oid.Equal(OIDMLDSA65):
		pub := new(mldsa65.PublicKey)
		if err := pub.UnmarshalBinary(data); err != nil {
			return nil, err
		}
		return pub, nil
	case oid.Equal(OIDMLDSA87):
		pub := new(mldsa87.PublicKey)
		if err := pub.UnmarshalBinary(data); err != nil {
			return nil, err
		}
		return pub, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrUnsupportedAlgorithm, oid)
}

// MarshalPublicKey encodes pub as a DER SubjectPublicKeyInfo, including
// ML-DSA keys.
func MarshalPublicKey(pub crypto.PublicKey) ([]byte, error) {
	var oid asn1.ObjectIdentifier
	var raw []byte
	var err error
	switch key := pub.(type) {
	case *mldsa44.PublicKey:
		oid = OIDMLDSA44
		raw, err = key.MarshalBinary()
	case *mldsa65.PublicKey:
		oid = OIDMLDSA65
		raw, err = key.MarshalBinary()
	case *mldsa87.PublicKey:
		oid = OIDMLDSA87
		raw, err = key.MarshalBinary()
	default:
		return x509.MarshalPKIXPublicKey(pub)
	}
	if err != nil {
		return nil, err
	}
	return asn1.Marshal(subjectPublicKeyInfo{
		Algorithm: pkix.AlgorithmIdentifier{Algorithm: oid},
		PublicKey: asn1.BitString{Bytes: raw, BitLength: 8 * len(raw)},
	})
}

// CertificatePublicKey returns the certificate's public key. crypto/x509
// leaves ML-DSA keys unparsed; those are decoded from the raw SPKI.
func CertificatePublicKey(cert *x509.Certificate) (crypto.PublicKey, error) {
	if cert.PublicKey != nil && cert.PublicKeyAlgorithm != x509.UnknownPublicKeyAlgorithm {
		return cert.PublicKey, nil
	}
	return ParsePublicKey(cert.RawSubjectPublicKeyInfo)
}

// FindSigner returns the certificate named by id.
func FindSigner(certs []*x509.Certificate, id SignerIdentifier) (*x509.Certificate, error) {
	for _, c := range certs {
		if id.Matches(c) {
			return c, nil
		}
	}
	return nil, ErrNoCertificate
}

// SignatureAlgorithmName returns a readable name for a SignerInfo
// signature algorithm, falling back to the dotted OID.
func SignatureAlgorithmName(sigAlg, digestAlg asn1.ObjectIdentifier) string {
	digest := hashName(HashFromOID(digestAlg))
	switch {
	case sigAlg.Equal(OIDECDSAWithSHA1):
		return "ECDSA-SHA1"
	case sigAlg.Equal(OIDECDSAWithSHA256):
		return "ECDSA-SHA256"
	case sigAlg.Equal(OIDECDSAWithSHA384):
		return "ECDSA-SHA384"
	case sigAlg.Equal(OIDECDSAWithSHA512):
		return "ECDSA-SHA512"
	case sigAlg.Equal(OIDECPublicKey):
		return "ECDSA-" + digest
	case sigAlg.Equal(OIDEd25519):
		return "Ed25519"
	case sigAlg.Equal(OIDSHA1WithRSA):
		return "RSA-SHA1"
	case sigAlg.Equal(OIDSHA256WithRSA):
		return "RSA-SHA256"
	case sigAlg.Equal(OIDSHA384WithRSA):
		return "RSA-SHA384"
	case sigAlg.Equal(OIDSHA512WithRSA):
		return "RSA-SHA512"
	case sigAlg.Equal(OIDRSAEncryption):
		return "RSA-" + digest
	case sigAlg.Equal(OIDRSAPSS):
		return "RSA-PSS"
	case sigAlg.Equal(OIDMLDSA44):
		return "ML-DSA-44"
	case sigAlg.Equal(OIDMLDSA65):
		return "ML-DSA-65"
	case sigAlg.Equal(OIDMLDSA87):
		return "ML-DSA-87"
	}
	return sigAlg.String()
}

func hashName(h crypto.Hash) string {
	switch h {
	case crypto.SHA1:
		return "SHA1"
	case crypto.SHA224:
		return "SHA224"
	case crypto.SHA256:
		return "SHA256"
	case crypto.SHA384:
		return "SHA384"
	case crypto.SHA512:
		return "SHA512"
	case crypto.SHA3_256:
		return "SHA3-256"
	case crypto.SHA3_384:
		return "SHA3-384"
	case crypto.SHA3_512:
		return "SHA3-512"
	}
	return "UNKNOWN"
}
