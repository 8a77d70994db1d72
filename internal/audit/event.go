// Package audit provides tamper-evident audit logging of verification
// verdicts.
//
// Audit logs are separate from technical logs and designed for:
//   - Evidence that a token was checked, with what outcome
//   - SIEM integration
//   - Tamper evidence via cryptographic hash chaining
//
// Key principles:
//   - Audit failure = Operation failure
//   - Only digests and identifiers are logged, never document content
//   - All timestamps in UTC
//   - Hash chain for integrity verification
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// EventType represents the category of audit event.
type EventType string

const (
	// Verification events
	EventTSAVerify  EventType = "TSA_VERIFY"
	EventTSACompare EventType = "TSA_COMPARE"
	EventTSABatch   EventType = "TSA_BATCH"

	// Configuration events
	EventProvidersLoaded EventType = "PROVIDERS_LOADED"
)

// Result represents the outcome of an audited operation.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
)

// Actor represents who requested the verification.
type Actor struct {
	Type string `json:"type"`           // "user", "service"
	ID   string `json:"id"`             // username, or remote address for the API
	Host string `json:"host,omitempty"` // hostname where the action occurred
}

// Object represents what was verified.
type Object struct {
	Type    string `json:"type"`              // "timestamp_token", "provider_table", "batch"
	Serial  string `json:"serial,omitempty"`  // token serial number
	Subject string `json:"subject,omitempty"` // signer certificate subject
	Digest  string `json:"digest,omitempty"`  // SHA-256 of the canonical token bytes
	Path    string `json:"path,omitempty"`    // token or provider file
}

// Context provides the verdict details.
type Context struct {
	Provider        string `json:"provider,omitempty"`
	Algorithm       string `json:"algorithm,omitempty"` // imprint hash algorithm
	Policy          string `json:"policy,omitempty"`    // TSA policy OID
	GenTime         string `json:"gen_time,omitempty"`  // token generation time
	Reason          string `json:"reason,omitempty"`    // failure reason
	HashMatch       *bool  `json:"hash_match,omitempty"`
	SignatureValid  *bool  `json:"signature_valid,omitempty"`
	ProviderMatched *bool  `json:"provider_matched,omitempty"`
	Original        *bool  `json:"original_verified,omitempty"`
	TrustLevel      string `json:"trust_level,omitempty"`
	Count           int    `json:"count,omitempty"`
}

// Event represents a single audit log entry.
type Event struct {
	EventType EventType `json:"event_type"`
	Timestamp string    `json:"timestamp"` // RFC3339 UTC
	Actor     Actor     `json:"actor"`
	Object    Object    `json:"object"`
	Context   Context   `json:"context,omitempty"`
	Result    Result    `json:"result"`
	HashPrev  string    `json:"hash_prev"` // SHA-256 hash of previous event
	Hash      string    `json:"hash"`      // SHA-256 hash of this event
}

// NewEvent creates a new audit event with current timestamp and actor info.
func NewEvent(eventType EventType, result Result) *Event {
	hostname, _ := os.Hostname()
	username := os.Getenv("USER")
	if username == "" {
		username = os.Getenv("USERNAME") // Windows
	}
	if username == "" {
		username = "unknown"
	}

	return &Event{
		EventType: eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Actor: Actor{
			Type: "user",
			ID:   username,
			Host: hostname,
		},
		Result: result,
	}
}

// WithObject sets the object field.
func (e *Event) WithObject(obj Object) *Event {
	e.Object = obj
	return e
}

// WithContext sets the context field.
func (e *Event) WithContext(ctx Context) *Event {
	e.Context = ctx
	return e
}

// WithActor overrides the default actor.
func (e *Event) WithActor(actor Actor) *Event {
	e.Actor = actor
	return e
}

// Validate checks that required fields are present.
func (e *Event) Validate() error {
	if e.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	if e.Timestamp == "" {
		return fmt.Errorf("timestamp is required")
	}
	if e.Actor.Type == "" || e.Actor.ID == "" {
		return fmt.Errorf("actor type and id are required")
	}
	if e.Result == "" {
		return fmt.Errorf("result is required")
	}
	return nil
}

// CanonicalJSON returns the event as canonical JSON for hashing.
// Excludes the Hash field to allow hash calculation.
func (e *Event) CanonicalJSON() ([]byte, error) {
	type eventForHash struct {
		EventType EventType `json:"event_type"`
		Timestamp string    `json:"timestamp"`
		Actor     Actor     `json:"actor"`
		Object    Object    `json:"object"`
		Context   Context   `json:"context,omitempty"`
		Result    Result    `json:"result"`
		HashPrev  string    `json:"hash_prev"`
	}

	return json.Marshal(eventForHash{
		EventType: e.EventType,
		Timestamp: e.Timestamp,
		Actor:     e.Actor,
		Object:    e.Object,
		Context:   e.Context,
		Result:    e.Result,
		HashPrev:  e.HashPrev,
	})
}

// JSON returns the full event as JSON.
func (e *Event) JSON() ([]byte, error) {
	return json.Marshal(e)
}
