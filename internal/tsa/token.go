// Package tsa decodes, parses and checks RFC 3161 timestamp tokens.
package tsa

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/remiblancher/tsa-verifier/internal/cms"
)

// TSTInfo represents the timestamp token info (RFC 3161 Section 2.4.2).
type TSTInfo struct {
	Version        int
	Policy         asn1.ObjectIdentifier
	MessageImprint MessageImprint
	SerialNumber   *big.Int
	GenTime        time.Time        `asn1:"generalized"`
	Accuracy       Accuracy         `asn1:"optional"`
	Ordering       bool             `asn1:"optional,default:false"`
	Nonce          *big.Int         `asn1:"optional"`
	TSA            asn1.RawValue    `asn1:"optional,tag:0"`
	Extensions     []pkix.Extension `asn1:"optional,tag:1"`
}

// MessageImprint binds the token to the hashed document (RFC 3161 Section 2.4.1).
type MessageImprint struct {
	HashAlgorithm pkix.AlgorithmIdentifier
	HashedMessage []byte
}

// Accuracy represents the accuracy of the timestamp (RFC 3161 Section 2.4.2).
type Accuracy struct {
	Seconds int `asn1:"optional"`
	Millis  int `asn1:"optional,tag:0"`
	Micros  int `asn1:"optional,tag:1"`
}

// IsZero returns true if the accuracy is zero.
func (a Accuracy) IsZero() bool {
	return a.Seconds == 0 && a.Millis == 0 && a.Micros == 0
}

// Duration returns the accuracy as a time.Duration.
func (a Accuracy) Duration() time.Duration {
	return time.Duration(a.Seconds)*time.Second +
		time.Duration(a.Millis)*time.Millisecond +
		time.Duration(a.Micros)*time.Microsecond
}

// Token is a parsed timestamp token. It is only ever returned fully
// populated.
type Token struct {
	Info         TSTInfo
	Content      []byte // DER-encoded TSTInfo, as signed
	SignedData   cms.SignedData
	SignerInfo   cms.SignerInfo
	Certificates []*x509.Certificate
	Raw          []byte // DER-encoded ContentInfo

	// Status is set when the token was extracted from a TimeStampResp.
	Status *PKIStatusInfo

	hashAlg HashAlgorithm
}

// ParseToken parses a DER-encoded timestamp token. Both a bare token
// (ContentInfo wrapping SignedData) and a full TimeStampResp are accepted.
func ParseToken(data []byte) (*Token, error) {
	var outer asn1.RawValue
	if _, err := asn1.Unmarshal(data, &outer); err != nil {
		return nil, malformed("content_info", err)
	}
	var first asn1.RawValue
	if _, err := asn1.Unmarshal(outer.Bytes, &first); err != nil {
		return nil, malformed("content_info", err)
	}
	if first.Class == asn1.ClassUniversal && first.Tag == asn1.TagSequence {
		return parseResponseToken(data)
	}
	return parseContentInfo(data)
}

func parseResponseToken(data []byte) (*Token, error) {
	resp, err := ParseResponse(data)
	if err != nil {
		return nil, malformed("status", err)
	}
	if !resp.IsGranted() {
		return nil, malformed("status", fmt.Errorf("response not granted: %s", resp.StatusString()))
	}
	if len(resp.TimeStampToken.FullBytes) == 0 {
		return nil, malformed("content_info", errors.New("granted response carries no token"))
	}
	tok, err := parseContentInfo(resp.TimeStampToken.FullBytes)
	if err != nil {
		return nil, err
	}
	status := resp.Status
	tok.Status = &status
	return tok, nil
}

func parseContentInfo(data []byte) (*Token, error) {
	var contentInfo cms.ContentInfo
	rest, err := asn1.Unmarshal(data, &contentInfo)
	if err != nil {
		return nil, malformed("content_info", err)
	}
	if len(rest) > 0 {
		return nil, malformed("content_info", errors.New("trailing data"))
	}
	if !contentInfo.ContentType.Equal(cms.OIDSignedData) {
		return nil, malformed("content_type", fmt.Errorf("got %v, expected SignedData", contentInfo.ContentType))
	}

	var signedData cms.SignedData
	if _, err := asn1.Unmarshal(contentInfo.Content.Bytes, &signedData); err != nil {
		return nil, malformed("signed_data", err)
	}
	if !signedData.EncapContentInfo.EContentType.Equal(cms.OIDTSTInfo) {
		return nil, malformed("econtent_type", fmt.Errorf("got %v, expected id-ct-TSTInfo", signedData.EncapContentInfo.EContentType))
	}

	content, err := signedData.EncapContentInfo.Content()
	if err != nil {
		return nil, malformed("tst_info", err)
	}

	var info TSTInfo
	rest, err = asn1.Unmarshal(content, &info)
	if err != nil {
		return nil, malformed("tst_info", err)
	}
	if len(rest) > 0 {
		return nil, malformed("tst_info", errors.New("trailing data"))
	}
	if info.Version != 1 {
		return nil, malformed("version", fmt.Errorf("unsupported version %d", info.Version))
	}
	if len(info.MessageImprint.HashAlgorithm.Algorithm) == 0 || len(info.MessageImprint.HashedMessage) == 0 {
		return nil, malformed("message_imprint", errors.New("missing hash algorithm or digest"))
	}
	alg, ok := HashAlgorithmFromOID(info.MessageImprint.HashAlgorithm.Algorithm)
	if !ok {
		return nil, malformed("hash_algorithm", fmt.Errorf("unrecognized OID %v", info.MessageImprint.HashAlgorithm.Algorithm))
	}
	if got, want := len(info.MessageImprint.HashedMessage), alg.Size(); got != want {
		return nil, malformed("hashed_message", fmt.Errorf("%d bytes, %s requires %d", got, alg, want))
	}
	if info.GenTime.IsZero() {
		return nil, malformed("gen_time", errors.New("missing generation time"))
	}
	if info.SerialNumber == nil {
		return nil, malformed("serial_number", errors.New("missing serial number"))
	}

	switch len(signedData.SignerInfos) {
	case 0:
		return nil, malformed("signature", errors.New("no SignerInfo"))
	case 1:
	default:
		return nil, malformed("signer_info", fmt.Errorf("expected exactly one SignerInfo, got %d", len(signedData.SignerInfos)))
	}
	signerInfo := signedData.SignerInfos[0]
	if len(signerInfo.Signature) == 0 {
		return nil, malformed("signature", errors.New("empty signature"))
	}
	if _, err := signerInfo.Identifier(); err != nil {
		return nil, malformed("signer_info", err)
	}

	certs, err := signedData.Certificates.Parse()
	if err != nil {
		return nil, malformed("certificates", err)
	}

	info.GenTime = info.GenTime.UTC()
	return &Token{
		Info:         info,
		Content:      content,
		SignedData:   signedData,
		SignerInfo:   signerInfo,
		Certificates: certs,
		Raw:          append([]byte(nil), data...),
		hashAlg:      alg,
	}, nil
}

// GenTime returns the generation time of the token.
func (t *Token) GenTime() time.Time {
	return t.Info.GenTime
}

// SerialNumber returns the serial number of the token.
func (t *Token) SerialNumber() *big.Int {
	return t.Info.SerialNumber
}

// Policy returns the policy OID of the token.
func (t *Token) Policy() asn1.ObjectIdentifier {
	return t.Info.Policy
}

// HashAlgorithm returns the hash algorithm used in the message imprint.
func (t *Token) HashAlgorithm() HashAlgorithm {
	return t.hashAlg
}

// HashedMessage returns the hashed message from the message imprint.
func (t *Token) HashedMessage() []byte {
	return t.Info.MessageImprint.HashedMessage
}

// Nonce returns the nonce, or nil when absent.
func (t *Token) Nonce() *big.Int {
	return t.Info.Nonce
}

// SignatureAlgorithm returns a readable name of the signer's algorithm.
func (t *Token) SignatureAlgorithm() string {
	return cms.SignatureAlgorithmName(t.SignerInfo.SignatureAlgorithm.Algorithm, t.SignerInfo.DigestAlgorithm.Algorithm)
}

// TSAName renders the optional tsa GeneralName. Directory names are
// rendered in RFC 2253 form; other name forms as their string value.
func (t *Token) TSAName() string {
	if len(t.Info.TSA.Bytes) == 0 {
		return ""
	}
	var gn asn1.RawValue
	if _, err := asn1.Unmarshal(t.Info.TSA.Bytes, &gn); err != nil {
		return ""
	}
	if gn.Class != asn1.ClassContextSpecific {
		return ""
	}
	switch gn.Tag {
	case 1, 2, 6: // rfc822Name, dNSName, uniformResourceIdentifier
		return string(gn.Bytes)
	case 4: // directoryName
		var rdn pkix.RDNSequence
		if _, err := asn1.Unmarshal(gn.Bytes, &rdn); err != nil {
			return ""
		}
		var name pkix.Name
		name.FillFromRDNSequence(&rdn)
		return name.String()
	}
	return ""
}
