package tsa

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
)

// Encoding records the form a token arrived in.
type Encoding int

// Token encodings.
const (
	EncodingBinary Encoding = iota + 1
	EncodingBase64
	EncodingWrapped
)

// String returns the encoding name used in result details.
func (e Encoding) String() string {
	switch e {
	case EncodingBinary:
		return "binary"
	case EncodingBase64:
		return "base64"
	case EncodingWrapped:
		return "wrapped"
	default:
		return fmt.Sprintf("encoding(%d)", int(e))
	}
}

// RawToken is a timestamp token as supplied by the caller, tagged with its
// encoding. The zero value is an absent token.
type RawToken struct {
	encoding Encoding
	data     []byte // binary payload
	text     string // base64 payload (base64 and wrapped encodings)
	subtype  string // wrapped only, informational
}

// BinaryToken wraps raw DER bytes. The input is copied.
func BinaryToken(b []byte) RawToken {
	return RawToken{encoding: EncodingBinary, data: bytes.Clone(b)}
}

// Base64Token wraps base64 text.
func Base64Token(s string) RawToken {
	return RawToken{encoding: EncodingBase64, text: s}
}

// WrappedToken wraps the payload of a tagged binary object.
func WrappedToken(payload, subtype string) RawToken {
	return RawToken{encoding: EncodingWrapped, text: payload, subtype: subtype}
}

// Encoding returns the token's encoding tag.
func (t RawToken) Encoding() Encoding { return t.encoding }

// Subtype returns the wrapper sub-type marker, empty for other encodings.
func (t RawToken) Subtype() string { return t.subtype }

// IsZero reports whether the token is absent or carries an empty payload.
func (t RawToken) IsZero() bool {
	switch t.encoding {
	case EncodingBinary:
		return len(t.data) == 0
	case EncodingBase64, EncodingWrapped:
		return strings.TrimSpace(t.text) == ""
	}
	return true
}

// Decode normalizes a RawToken to its canonical bytes.
func Decode(t RawToken) ([]byte, error) {
	switch t.encoding {
	case EncodingBinary:
		if len(t.data) == 0 {
			return nil, &DecodeError{Encoding: t.encoding, Reason: "empty payload"}
		}
		return bytes.Clone(t.data), nil
	case EncodingBase64, EncodingWrapped:
		b, err := decodeBase64(t.text)
		if err != nil {
			return nil, &DecodeError{Encoding: t.encoding, Reason: "bad base64", Err: err}
		}
		if len(b) == 0 {
			return nil, &DecodeError{Encoding: t.encoding, Reason: "empty payload"}
		}
		return b, nil
	default:
		return nil, &DecodeError{Encoding: t.encoding, Reason: "no token supplied"}
	}
}

// EncodeBase64 renders canonical token bytes as standard padded base64.
func EncodeBase64(canonical []byte) string {
	return base64.StdEncoding.EncodeToString(canonical)
}

// decodeBase64 accepts canonical padded standard base64. Whitespace is
// stripped first; the URL-safe alphabet, missing padding and non-zero
// padding bits are rejected.
func decodeBase64(s string) ([]byte, error) {
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	return base64.StdEncoding.Strict().DecodeString(s)
}

type wrappedPayload struct {
	Base64      *string `json:"base64"`
	Subtype     string  `json:"subtype"`
	SubtypeBSON string  `json:"subType"`
}

// ParseWrapped decodes a tagged binary object into a RawToken. Both
// {"binary-payload": {"base64": ..., "subtype": ...}} and the extended-JSON
// form {"$binary": {"base64": ..., "subType": ...}} are accepted.
func ParseWrapped(data []byte) (RawToken, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return RawToken{}, &DecodeError{Encoding: EncodingWrapped, Reason: "not a JSON object", Err: err}
	}

	inner, ok := obj["binary-payload"]
	if !ok {
		inner, ok = obj["$binary"]
	}
	if !ok {
		return RawToken{}, &DecodeError{Encoding: EncodingWrapped, Reason: "missing binary-payload field"}
	}

	var p wrappedPayload
	if err := json.Unmarshal(inner, &p); err != nil {
		return RawToken{}, &DecodeError{Encoding: EncodingWrapped, Reason: "invalid binary-payload object", Err: err}
	}
	if p.Base64 == nil {
		return RawToken{}, &DecodeError{Encoding: EncodingWrapped, Reason: "missing base64 field"}
	}

	subtype := p.Subtype
	if subtype == "" {
		subtype = p.SubtypeBSON
	}
	return WrappedToken(*p.Base64, subtype), nil
}
