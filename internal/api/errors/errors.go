// Package errors provides error handling and HTTP status code mapping.
package errors

import (
	"context"
	"errors"
	"net/http"

	"github.com/remiblancher/tsa-verifier/internal/api/dto"
	"github.com/remiblancher/tsa-verifier/internal/provider"
	"github.com/remiblancher/tsa-verifier/internal/tsa"
	"github.com/remiblancher/tsa-verifier/internal/verifier"
)

// Error codes for API responses.
const (
	CodeInvalidRequest       = "INVALID_REQUEST"
	CodeUnsupportedMedia     = "UNSUPPORTED_MEDIA_TYPE"
	CodeBodyTooLarge         = "BODY_TOO_LARGE"
	CodeBatchTooLarge        = "BATCH_TOO_LARGE"
	CodeRateLimited          = "RATE_LIMITED"
	CodeNotFound             = "NOT_FOUND"
	CodeInternal             = "INTERNAL_ERROR"
	CodeAuditFailure         = "AUDIT_FAILURE"
	CodeCanceled             = "CANCELED"
	CodeDecodeError          = "DECODE_ERROR"
	CodeMalformedToken       = "MALFORMED_TOKEN"
	CodeUnknownProvider      = "UNKNOWN_PROVIDER"
	CodeUnsupportedAlgorithm = "UNSUPPORTED_ALGORITHM"
	CodeHashMismatch         = "HASH_MISMATCH"
	CodeSignatureInvalid     = "SIGNATURE_INVALID"
	CodeCertExpired          = "CERT_EXPIRED"
	CodeCertRevoked          = "CERT_REVOKED"
	CodeProviderMismatch     = "PROVIDER_MISMATCH"
)

// Errors raised by the HTTP layer itself.
var (
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrBodyTooLarge         = errors.New("request body too large")
	ErrBatchTooLarge        = errors.New("too many items in batch")
	ErrAudit                = errors.New("audit log failed")
)

// Code classifies a verification error. It returns "" for nil.
func Code(err error) string {
	var (
		decodeErr    *tsa.DecodeError
		malformedErr *tsa.MalformedTokenError
		unknownErr   *provider.UnknownProviderError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CodeCanceled
	case errors.Is(err, verifier.ErrMissingHash),
		errors.Is(err, verifier.ErrMissingToken),
		errors.Is(err, verifier.ErrMissingProvider):
		return CodeInvalidRequest
	case errors.As(err, &decodeErr):
		return CodeDecodeError
	case errors.As(err, &malformedErr):
		return CodeMalformedToken
	case errors.As(err, &unknownErr):
		return CodeUnknownProvider
	case errors.Is(err, tsa.ErrUnsupportedAlgorithm):
		return CodeUnsupportedAlgorithm
	case errors.Is(err, verifier.ErrHashMismatch):
		return CodeHashMismatch
	case errors.Is(err, tsa.ErrCertificateExpired):
		return CodeCertExpired
	case errors.Is(err, tsa.ErrCertificateRevoked):
		return CodeCertRevoked
	case errors.Is(err, tsa.ErrTrustAnchorMismatch):
		return CodeProviderMismatch
	case errors.Is(err, tsa.ErrSignatureInvalid):
		return CodeSignatureInvalid
	default:
		return CodeInvalidRequest
	}
}

// MapError maps a request-level error to an HTTP status code and APIError.
// Verification verdicts are not errors and never pass through here.
func MapError(err error) (int, *dto.APIError) {
	if err == nil {
		return http.StatusOK, nil
	}

	switch {
	case errors.Is(err, ErrUnsupportedMediaType):
		return http.StatusUnsupportedMediaType, &dto.APIError{
			Code:    CodeUnsupportedMedia,
			Message: err.Error(),
		}
	case errors.Is(err, ErrBodyTooLarge):
		return http.StatusRequestEntityTooLarge, &dto.APIError{
			Code:    CodeBodyTooLarge,
			Message: err.Error(),
		}
	case errors.Is(err, ErrBatchTooLarge):
		return http.StatusRequestEntityTooLarge, &dto.APIError{
			Code:    CodeBatchTooLarge,
			Message: err.Error(),
		}
	case errors.Is(err, ErrAudit):
		return http.StatusInternalServerError, &dto.APIError{
			Code:    CodeAuditFailure,
			Message: "the verification could not be recorded",
		}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, &dto.APIError{
			Code:    CodeCanceled,
			Message: err.Error(),
		}
	}

	var unknownErr *provider.UnknownProviderError
	if errors.As(err, &unknownErr) {
		return http.StatusNotFound, &dto.APIError{
			Code:    CodeUnknownProvider,
			Message: err.Error(),
			Details: map[string]string{"provider": unknownErr.Name},
		}
	}

	return http.StatusBadRequest, NewBadRequest(err.Error())
}

// NewBadRequest creates a bad request error.
func NewBadRequest(message string) *dto.APIError {
	return &dto.APIError{
		Code:    CodeInvalidRequest,
		Message: message,
	}
}

// NewNotFound creates a not found error.
func NewNotFound(resource, id string) *dto.APIError {
	return &dto.APIError{
		Code:    CodeNotFound,
		Message: resource + " not found",
		Details: map[string]string{"id": id},
	}
}

// NewRateLimited creates a rate limit error.
func NewRateLimited() *dto.APIError {
	return &dto.APIError{
		Code:    CodeRateLimited,
		Message: "rate limit exceeded",
	}
}
