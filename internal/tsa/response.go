package tsa

import (
	"encoding/asn1"
	"errors"
	"fmt"
	"strings"
)

// PKIStatus values (RFC 3161 Section 2.4.2).
const (
	StatusGranted                = 0
	StatusGrantedWithMods        = 1
	StatusRejection              = 2
	StatusWaiting                = 3
	StatusRevocationWarning      = 4
	StatusRevocationNotification = 5
)

// PKIFailureInfo values (RFC 3161 Section 2.4.2).
const (
	FailBadAlg              = 0  // Unrecognized or unsupported algorithm
	FailBadRequest          = 2  // Transaction not permitted or supported
	FailBadDataFormat       = 5  // The data submitted has the wrong format
	FailTimeNotAvailable    = 14 // TSA's time source is not available
	FailUnacceptedPolicy    = 15 // The requested policy is not supported
	FailUnacceptedExtension = 16 // The requested extension is not supported
	FailAddInfoNotAvailable = 17 // The additional information requested could not be understood
	FailSystemFailure       = 25 // System failure
)

// TimeStampResp represents the timestamp response (RFC 3161 Section 2.4.2).
type TimeStampResp struct {
	Status         PKIStatusInfo
	TimeStampToken asn1.RawValue `asn1:"optional"`
}

// PKIStatusInfo contains the status of the request (RFC 3161 Section 2.4.2).
type PKIStatusInfo struct {
	Status       int
	StatusString []string       `asn1:"optional"`
	FailInfo     asn1.BitString `asn1:"optional"`
}

// ParseResponse parses a DER-encoded TimeStampResp.
func ParseResponse(data []byte) (*TimeStampResp, error) {
	var resp TimeStampResp
	rest, err := asn1.Unmarshal(data, &resp)
	if err != nil {
		return nil, fmt.Errorf("failed to parse TimeStampResp: %w", err)
	}
	if len(rest) > 0 {
		return nil, errors.New("trailing data after TimeStampResp")
	}
	return &resp, nil
}

// IsGranted returns true if the response indicates success.
func (r *TimeStampResp) IsGranted() bool {
	return r.Status.Status == StatusGranted || r.Status.Status == StatusGrantedWithMods
}

// StatusString returns a human-readable status string.
func (r *TimeStampResp) StatusString() string {
	return r.Status.String()
}

// String returns a human-readable status, including free text and
// failure information when present.
func (s PKIStatusInfo) String() string {
	var b strings.Builder
	switch s.Status {
	case StatusGranted:
		b.WriteString("granted")
	case StatusGrantedWithMods:
		b.WriteString("granted with modifications")
	case StatusRejection:
		b.WriteString("rejection")
	case StatusWaiting:
		b.WriteString("waiting")
	case StatusRevocationWarning:
		b.WriteString("revocation warning")
	case StatusRevocationNotification:
		b.WriteString("revocation notification")
	default:
		fmt.Fprintf(&b, "unknown status %d", s.Status)
	}
	if f := s.FailureString(); f != "" {
		b.WriteString(" (" + f + ")")
	}
	if len(s.StatusString) > 0 {
		b.WriteString(": " + strings.Join(s.StatusString, "; "))
	}
	return b.String()
}

// FailureString returns the names of the failure bits that are set.
func (s PKIStatusInfo) FailureString() string {
	names := []struct {
		bit  int
		name string
	}{
		{FailBadAlg, "bad algorithm"},
		{FailBadRequest, "bad request"},
		{FailBadDataFormat, "bad data format"},
		{FailTimeNotAvailable, "time not available"},
		{FailUnacceptedPolicy, "unaccepted policy"},
		{FailUnacceptedExtension, "unaccepted extension"},
		{FailAddInfoNotAvailable, "additional info not available"},
		{FailSystemFailure, "system failure"},
	}
	var set []string
	for _, n := range names {
		if n.bit < s.FailInfo.BitLength && s.FailInfo.At(n.bit) == 1 {
			set = append(set, n.name)
		}
	}
	return strings.Join(set, ", ")
}
