// Package verifier assembles independent verification verdicts for RFC 3161
// timestamp tokens.
package verifier

import (
	"errors"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Details is the ordered diagnostic map attached to a Result.
type Details = orderedmap.OrderedMap[string, any]

// Result is the verdict of one verification call. It is not modified after
// Verify returns.
type Result struct {
	Valid           bool       `json:"valid"`
	Error           string     `json:"error,omitempty"`
	HashMatch       Check      `json:"hash_match"`
	SignatureValid  Check      `json:"signature_valid"`
	ProviderMatched Check      `json:"provider_matched"`
	Timestamp       *time.Time `json:"timestamp,omitempty"`
	Details         *Details   `json:"details"`

	// Err is the error behind Error, for errors.Is and errors.As. It is not
	// serialized.
	Err error `json:"-"`
}

func newResult() *Result {
	return &Result{Details: orderedmap.New[string, any]()}
}

// Completed reports whether every check ran. A result that is not
// completed failed structurally before a verdict could be reached.
func (r *Result) Completed() bool {
	return r.HashMatch.Evaluated() && r.SignatureValid.Evaluated() && r.ProviderMatched.Evaluated()
}

// Detail returns a diagnostic field.
func (r *Result) Detail(key string) (any, bool) {
	if r.Details == nil {
		return nil, false
	}
	return r.Details.Get(key)
}

// Rejected returns the result for a request that could not be built, such
// as a malformed verification document.
func Rejected(err error) *Result {
	return newResult().fail("request", err)
}

// fail records a structural failure. The checks stay NotEvaluated.
func (r *Result) fail(stage string, err error) *Result {
	r.Valid = false
	r.Err = err
	r.Error = err.Error()
	r.Details.Set("error_stage", stage)
	return r
}

// Errors raised by request validation.
var (
	ErrMissingHash     = errors.New("document hash is required")
	ErrMissingToken    = errors.New("timestamp token is required")
	ErrMissingProvider = errors.New("provider name is required")

	// ErrHashMismatch is the reason reported when the document hash does not
	// equal the token's message imprint.
	ErrHashMismatch = errors.New("document hash does not match the token message imprint")
)
