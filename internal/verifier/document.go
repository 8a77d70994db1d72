package verifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/remiblancher/tsa-verifier/internal/tsa"
)

// Document is a verification request read from a JSON document.
type Document struct {
	Request Request

	// OriginalVerified is the verdict a previous system reached, if the
	// document records one.
	OriginalVerified *bool
}

// Accepted keys, in order of preference.
var (
	hashKeys     = []string{"hash", "document_hash", "original_hash"}
	tokenKeys    = []string{"timestamp_token", "token"}
	providerKeys = []string{"provider", "tsa_provider"}
)

// ParseDocument reads a JSON verification document. The token may be a
// base64 string or a binary wrapper object. Missing fields are not errors
// here; Verify reports them.
func ParseDocument(data []byte) (Document, error) {
	var doc Document
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return doc, fmt.Errorf("invalid verification document: %w", err)
	}
	if fields == nil {
		return doc, fmt.Errorf("invalid verification document: not a JSON object")
	}

	var err error
	if doc.Request.Hash, err = stringField(fields, hashKeys); err != nil {
		return doc, err
	}
	if doc.Request.Provider, err = stringField(fields, providerKeys); err != nil {
		return doc, err
	}
	if alg, err := stringField(fields, []string{"hash_algorithm"}); err != nil {
		return doc, err
	} else if alg != "" {
		if doc.Request.HashAlgorithm, err = tsa.ParseHashAlgorithm(alg); err != nil {
			return doc, fmt.Errorf("invalid verification document: hash_algorithm: %w", err)
		}
	}

	if raw, key := lookup(fields, tokenKeys); raw != nil {
		raw = bytes.TrimSpace(raw)
		switch {
		case len(raw) > 0 && raw[0] == '{':
			if doc.Request.Token, err = tsa.ParseWrapped(raw); err != nil {
				return doc, err
			}
		case len(raw) > 0 && raw[0] == '"':
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return doc, fmt.Errorf("invalid verification document: %s: %w", key, err)
			}
			doc.Request.Token = tsa.Base64Token(s)
		case string(raw) == "null":
		default:
			return doc, fmt.Errorf("invalid verification document: %s must be a string or an object", key)
		}
	}

	if raw, _ := lookup(fields, []string{"original_verified"}); raw != nil && string(raw) != "null" {
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return doc, fmt.Errorf("invalid verification document: original_verified must be a boolean")
		}
		doc.OriginalVerified = &b
	}
	return doc, nil
}

func lookup(fields map[string]json.RawMessage, keys []string) (json.RawMessage, string) {
	for _, k := range keys {
		if v, ok := fields[k]; ok {
			return v, k
		}
	}
	return nil, ""
}

func stringField(fields map[string]json.RawMessage, keys []string) (string, error) {
	raw, key := lookup(fields, keys)
	if raw == nil || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("invalid verification document: %s must be a string", key)
	}
	return s, nil
}

// VerifyDocument parses and verifies a JSON document. The comparison is
// set when the document records an original verdict.
func (v *Verifier) VerifyDocument(ctx context.Context, data []byte) (*Result, *TrustComparison) {
	doc, err := ParseDocument(data)
	if err != nil {
		return Rejected(err), nil
	}
	res := v.Verify(ctx, doc.Request)
	if doc.OriginalVerified == nil {
		return res, nil
	}
	tc := Compare(res, *doc.OriginalVerified)
	return res, &tc
}
