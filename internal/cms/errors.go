package cms

import (
	"errors"
	"fmt"
)

// CMSError represents a CMS operation error with structured context.
// It supports errors.Is() and errors.As().
type CMSError struct {
	Op  string // Operation: "parse", "verify", "attributes"
	Err error  // Underlying error
}

// Error implements the error interface.
func (e *CMSError) Error() string {
	return fmt.Sprintf("cms %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *CMSError) Unwrap() error { return e.Err }

// NewCMSError creates a new CMSError with the given operation and error.
func NewCMSError(op string, err error) *CMSError {
	return &CMSError{Op: op, Err: err}
}

// Sentinel errors for CMS operations.
var (
	// ErrInvalidSignature indicates signature verification failed.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrNoCertificate indicates no certificate matched the signer identifier.
	ErrNoCertificate = errors.New("no certificate found")

	// ErrInvalidContent indicates the CMS content is malformed.
	ErrInvalidContent = errors.New("invalid CMS content")

	// ErrNoSigner indicates no signer information was found.
	ErrNoSigner = errors.New("no signer information")

	// ErrUnsupportedAlgorithm indicates an unsupported cryptographic algorithm.
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")

	// ErrMissingAttribute indicates a required signed attribute is missing.
	ErrMissingAttribute = errors.New("missing signed attribute")

	// ErrAttributeMismatch indicates a signed attribute does not match the content.
	ErrAttributeMismatch = errors.New("signed attribute mismatch")
)
