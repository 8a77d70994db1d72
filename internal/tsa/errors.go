package tsa

import (
	"errors"
	"fmt"
)

// TSAError represents a TSA operation error with structured context.
// It supports errors.Is() and errors.As() for improved error handling.
type TSAError struct {
	Op  string // Operation: "decode", "parse", "compare", "validate"
	Err error  // Underlying error
}

// Error implements the error interface.
func (e *TSAError) Error() string {
	return fmt.Sprintf("tsa %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *TSAError) Unwrap() error { return e.Err }

// NewTSAError creates a new TSAError with the given operation and error.
func NewTSAError(op string, err error) *TSAError {
	return &TSAError{Op: op, Err: err}
}

// DecodeError reports a token that could not be turned into bytes.
type DecodeError struct {
	Encoding Encoding
	Reason   string
	Err      error
}

func (e *DecodeError) Error() string {
	msg := fmt.Sprintf("invalid %s token: %s", e.Encoding, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() error { return e.Err }

// MalformedTokenError reports a token whose bytes are not a well-formed
// RFC 3161 token. Field names the structure that failed.
type MalformedTokenError struct {
	Field string
	Err   error
}

func (e *MalformedTokenError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("malformed timestamp token: %s", e.Field)
	}
	return fmt.Sprintf("malformed timestamp token: %s: %v", e.Field, e.Err)
}

func (e *MalformedTokenError) Unwrap() error { return e.Err }

func malformed(field string, err error) *MalformedTokenError {
	return &MalformedTokenError{Field: field, Err: err}
}

// Sentinel errors for non-fatal verification outcomes.
// Use errors.Is() to check for these errors through the error chain.
var (
	// ErrUnsupportedAlgorithm indicates a hash or signature algorithm the
	// verifier or the provider profile does not accept.
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")

	// ErrSignatureInvalid indicates the token signature does not verify.
	ErrSignatureInvalid = errors.New("signature invalid")

	// ErrCertificateExpired indicates the generation time falls outside the
	// signer certificate validity window.
	ErrCertificateExpired = errors.New("certificate not valid at generation time")

	// ErrTrustAnchorMismatch indicates the chain does not end at an anchor
	// belonging to the claimed provider.
	ErrTrustAnchorMismatch = errors.New("trust anchor mismatch")

	// ErrCertificateRevoked indicates the signer certificate serial is listed
	// as revoked by the provider profile.
	ErrCertificateRevoked = errors.New("certificate revoked")
)
