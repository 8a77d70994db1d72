package dto

import (
	"encoding/json"

	"github.com/remiblancher/tsa-verifier/internal/verifier"
)

// VerifyCBORRequest is the body of a verification request sent as
// application/cbor. The token travels as a byte string.
type VerifyCBORRequest struct {
	Hash             string `cbor:"hash"`
	HashAlgorithm    string `cbor:"hash_algorithm,omitempty"`
	Token            []byte `cbor:"timestamp_token"`
	Provider         string `cbor:"provider"`
	OriginalVerified *bool  `cbor:"original_verified,omitempty"`
}

// VerifyResponse is the verdict for one token. The result fields are
// inlined at the top level.
type VerifyResponse struct {
	*verifier.Result

	// ErrorCode classifies Error for programmatic use.
	ErrorCode string `json:"error_code,omitempty"`

	// Comparison is set when the request carried original_verified.
	Comparison *verifier.TrustComparison `json:"comparison,omitempty"`

	// Cached reports that the verdict was served from the cache.
	Cached bool `json:"cached,omitempty"`
}

// BatchRequest carries verification documents in the JSON document format.
type BatchRequest struct {
	Items []json.RawMessage `json:"items"`
}

// BatchResponse lists verdicts in request order.
type BatchResponse struct {
	Results []*VerifyResponse `json:"results"`
	Total   int               `json:"total"`
	Valid   int               `json:"valid"`
}

// ProviderInfo describes one registry entry.
type ProviderInfo struct {
	Name           string   `json:"name"`
	DisplayName    string   `json:"display_name"`
	URL            string   `json:"url,omitempty"`
	Aliases        []string `json:"aliases,omitempty"`
	TrustMode      string   `json:"trust_mode"`
	HashAlgorithms []string `json:"hash_algorithms,omitempty"`
	Organizations  []string `json:"organizations,omitempty"`
	Anchors        []string `json:"anchor_fingerprints,omitempty"` // hex SHA-256
	NotBefore      string   `json:"not_before,omitempty"`         // RFC3339
	NotAfter       string   `json:"not_after,omitempty"`          // RFC3339
}

// ProvidersResponse lists the registry.
type ProvidersResponse struct {
	Providers []ProviderInfo `json:"providers"`
	Total     int            `json:"total"`
}
