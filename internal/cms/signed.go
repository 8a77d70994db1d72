package cms

import (
	"bytes"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"
	"sort"
)

// ContentInfo represents the top-level CMS structure (RFC 5652 Section 3).
type ContentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"explicit,tag:0"`
}

// SignedData represents CMS SignedData (RFC 5652 Section 5).
type SignedData struct {
	Version          int
	DigestAlgorithms []pkix.AlgorithmIdentifier `asn1:"set"`
	EncapContentInfo EncapsulatedContentInfo
	Certificates     RawCertificates `asn1:"optional,tag:0"`
	CRLs             asn1.RawValue   `asn1:"optional,tag:1"`
	SignerInfos      []SignerInfo    `asn1:"set"`
}

// RawCertificates holds the IMPLICIT [0] CertificateSet verbatim.
type RawCertificates struct {
	Raw asn1.RawContent
}

// NewRawCertificates encodes certs as an IMPLICIT [0] CertificateSet.
func NewRawCertificates(certs []*x509.Certificate) (RawCertificates, error) {
	if len(certs) == 0 {
		return RawCertificates{}, nil
	}
	var buf bytes.Buffer
	for _, c := range certs {
		buf.Write(c.Raw)
	}
	raw, err := asn1.Marshal(asn1.RawValue{
		Class:      asn1.ClassContextSpecific,
		Tag:        0,
		IsCompound: true,
		Bytes:      buf.Bytes(),
	})
	if err != nil {
		return RawCertificates{}, err
	}
	return RawCertificates{Raw: raw}, nil
}

// Parse decodes the embedded certificates. An absent set yields nil.
func (rc RawCertificates) Parse() ([]*x509.Certificate, error) {
	if len(rc.Raw) == 0 {
		return nil, nil
	}
	var val asn1.RawValue
	if _, err := asn1.Unmarshal(rc.Raw, &val); err != nil {
		return nil, err
	}
	return x509.ParseCertificates(val.Bytes)
}

// EncapsulatedContentInfo represents the content being signed (RFC 5652 Section 5.2).
type EncapsulatedContentInfo struct {
	EContentType asn1.ObjectIdentifier
	EContent     asn1.RawValue `asn1:"optional,explicit,tag:0"`
}

// Content returns the octets of the encapsulated content.
func (e EncapsulatedContentInfo) Content() ([]byte, error) {
	if len(e.EContent.Bytes) == 0 {
		return nil, ErrInvalidContent
	}
	var octets []byte
	rest, err := asn1.Unmarshal(e.EContent.Bytes, &octets)
	if err != nil {
		return nil, err
	}
	if len(rest) > 0 {
		return nil, fmt.Errorf("%w: trailing data after eContent", ErrInvalidContent)
	}
	return octets, nil
}

// NewEContent wraps content as an explicit [0] OCTET STRING.
func NewEContent(content []byte) (asn1.RawValue, error) {
	octets, err := asn1.Marshal(content)
	if err != nil {
		return asn1.RawValue{}, err
	}
	return asn1.RawValue{
		Class:      asn1.ClassContextSpecific,
		Tag:        0,
		IsCompound: true,
		Bytes:      octets,
	}, nil
}

// SignerInfo contains the signature and related info (RFC 5652 Section 5.3).
// SignedAttrs is kept raw so the exact signed encoding survives parsing.
type SignerInfo struct {
	Version            int
	SID                asn1.RawValue
	DigestAlgorithm    pkix.AlgorithmIdentifier
	SignedAttrs        asn1.RawValue `asn1:"optional,tag:0"`
	SignatureAlgorithm pkix.AlgorithmIdentifier
	Signature          []byte
	UnsignedAttrs      asn1.RawValue `asn1:"optional,tag:1"`
}

// SignerIdentifier is the decoded SignerInfo sid CHOICE.
// Exactly one of IssuerAndSerial or SubjectKeyID is set.
type SignerIdentifier struct {
	IssuerAndSerial *IssuerAndSerialNumber
	SubjectKeyID    []byte
}

// IssuerAndSerialNumber identifies a certificate by issuer and serial.
type IssuerAndSerialNumber struct {
	Issuer       asn1.RawValue
	SerialNumber *big.Int
}

// Matches reports whether cert is the one the identifier names.
func (id SignerIdentifier) Matches(cert *x509.Certificate) bool {
	switch {
	case id.IssuerAndSerial != nil:
		return bytes.Equal(id.IssuerAndSerial.Issuer.FullBytes, cert.RawIssuer) &&
			id.IssuerAndSerial.SerialNumber != nil &&
			id.IssuerAndSerial.SerialNumber.Cmp(cert.SerialNumber) == 0
	case len(id.SubjectKeyID) > 0:
		return bytes.Equal(id.SubjectKeyID, cert.SubjectKeyId)
	}
	return false
}

// Identifier decodes the sid field.
func (si *SignerInfo) Identifier() (SignerIdentifier, error) {
	switch {
	case si.SID.Class == asn1.ClassUniversal && si.SID.Tag == asn1.TagSequence:
		var ias IssuerAndSerialNumber
		if _, err := asn1.Unmarshal(si.SID.FullBytes, &ias); err != nil {
			return SignerIdentifier{}, fmt.Errorf("invalid issuerAndSerialNumber: %w", err)
		}
		return SignerIdentifier{IssuerAndSerial: &ias}, nil
	case si.SID.Class == asn1.ClassContextSpecific && si.SID.Tag == 0:
		return SignerIdentifier{SubjectKeyID: si.SID.Bytes}, nil
	}
	return SignerIdentifier{}, fmt.Errorf("unsupported signer identifier (class %d, tag %d)", si.SID.Class, si.SID.Tag)
}

// HasSignedAttrs reports whether signed attributes are present.
func (si *SignerInfo) HasSignedAttrs() bool {
	return len(si.SignedAttrs.FullBytes) > 0
}

// SignedAttrsDER returns the signed attributes re-tagged as a DER SET OF,
// which is the input to the signature (RFC 5652 Section 5.4).
func (si *SignerInfo) SignedAttrsDER() []byte {
	if !si.HasSignedAttrs() {
		return nil
	}
	der := make([]byte, len(si.SignedAttrs.FullBytes))
	copy(der, si.SignedAttrs.FullBytes)
	der[0] = 0x31
	return der
}

// Attributes decodes the signed attributes.
func (si *SignerInfo) Attributes() ([]Attribute, error) {
	var attrs []Attribute
	rest := si.SignedAttrs.Bytes
	for len(rest) > 0 {
		var attr Attribute
		var err error
		rest, err = asn1.Unmarshal(rest, &attr)
		if err != nil {
			return nil, NewCMSError("attributes", err)
		}
		attrs = append(attrs, attr)
	}
	return attrs, nil
}

// Attribute represents a CMS attribute (RFC 5652 Section 5.3).
type Attribute struct {
	Type   asn1.ObjectIdentifier
	Values []asn1.RawValue `asn1:"set"`
}

// FindAttribute returns the first value of the attribute with the given type.
func FindAttribute(attrs []Attribute, oid asn1.ObjectIdentifier) (asn1.RawValue, bool) {
	for _, a := range attrs {
		if a.Type.Equal(oid) && len(a.Values) > 0 {
			return a.Values[0], true
		}
	}
	return asn1.RawValue{}, false
}

// NewAttribute creates a new attribute with a single value.
func NewAttribute(oid asn1.ObjectIdentifier, value interface{}) (Attribute, error) {
	encoded, err := asn1.Marshal(value)
	if err != nil {
		return Attribute{}, err
	}
	return Attribute{
		Type:   oid,
		Values: []asn1.RawValue{{FullBytes: encoded}},
	}, nil
}

// MarshalSignedAttrs encodes attrs as a DER SET OF, sorted by encoding.
func MarshalSignedAttrs(attrs []Attribute) ([]byte, error) {
	encoded := make([][]byte, 0, len(attrs))
	for _, a := range attrs {
		der, err := asn1.Marshal(a)
		if err != nil {
			return nil, err
		}
		encoded = append(encoded, der)
	}
	sort.Slice(encoded, func(i, j int) bool {
		return bytes.Compare(encoded[i], encoded[j]) < 0
	})
	return asn1.Marshal(asn1.RawValue{
		Class:      asn1.ClassUniversal,
		Tag:        asn1.TagSet,
		IsCompound: true,
		Bytes:      bytes.Join(encoded, nil),
	})
}

// ImplicitSignedAttrs re-tags a DER SET OF produced by MarshalSignedAttrs as
// the IMPLICIT [0] field stored in SignerInfo.
func ImplicitSignedAttrs(setDER []byte) asn1.RawValue {
	full := make([]byte, len(setDER))
	copy(full, setDER)
	full[0] = 0xA0
	return asn1.RawValue{FullBytes: full}
}
