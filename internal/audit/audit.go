package audit

import (
	"fmt"
	"sync"
)

var (
	globalWriter Writer = NopWriter{}
	globalMu     sync.RWMutex
	enabled      bool
)

// Init installs w as the global audit writer. A nil writer disables audit
// logging.
func Init(w Writer) error {
	globalMu.Lock()
	defer globalMu.Unlock()

	if w == nil {
		globalWriter = NopWriter{}
		enabled = false
		return nil
	}
	globalWriter = w
	enabled = true
	return nil
}

// InitFile initializes the global audit logger with a file writer. An
// empty path disables audit logging.
func InitFile(path string) error {
	if path == "" {
		return Init(nil)
	}
	w, err := NewFileWriter(path)
	if err != nil {
		return err
	}
	return Init(w)
}

// Close closes the global audit writer and disables audit logging.
func Close() error {
	globalMu.Lock()
	defer globalMu.Unlock()

	err := globalWriter.Close()
	globalWriter = NopWriter{}
	enabled = false
	return err
}

// Enabled returns whether audit logging is active.
func Enabled() bool {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return enabled
}

// Log writes an audit event to the global writer. If audit logging is
// enabled and this fails, the calling operation should fail too.
func Log(event *Event) error {
	globalMu.RLock()
	w := globalWriter
	globalMu.RUnlock()

	if err := w.Write(event); err != nil {
		return fmt.Errorf("audit log failed: %w", err)
	}
	return nil
}

func result(ok bool) Result {
	if ok {
		return ResultSuccess
	}
	return ResultFailure
}

// Verification describes one verdict for LogTSAVerify.
type Verification struct {
	Actor           *Actor // nil keeps the local user
	Provider        string
	Serial          string
	Subject         string
	TokenDigest     string
	Algorithm       string
	Policy          string
	GenTime         string
	Valid           bool
	HashMatch       *bool
	SignatureValid  *bool
	ProviderMatched *bool
	Reason          string
}

// LogTSAVerify logs a verification verdict.
func LogTSAVerify(v Verification) error {
	event := NewEvent(EventTSAVerify, result(v.Valid)).
		WithObject(Object{
			Type:    "timestamp_token",
			Serial:  v.Serial,
			Subject: v.Subject,
			Digest:  v.TokenDigest,
		}).
		WithContext(Context{
			Provider:        v.Provider,
			Algorithm:       v.Algorithm,
			Policy:          v.Policy,
			GenTime:         v.GenTime,
			Reason:          v.Reason,
			HashMatch:       v.HashMatch,
			SignatureValid:  v.SignatureValid,
			ProviderMatched: v.ProviderMatched,
		})
	if v.Actor != nil {
		event.WithActor(*v.Actor)
	}
	return Log(event)
}

// LogTSACompare logs a comparison against a previously asserted verdict.
// The event succeeds when both verdicts agree.
func LogTSACompare(provider, serial string, independent, original bool, trustLevel, note string) error {
	event := NewEvent(EventTSACompare, result(independent == original)).
		WithObject(Object{
			Type:   "timestamp_token",
			Serial: serial,
		}).
		WithContext(Context{
			Provider:   provider,
			Original:   &original,
			TrustLevel: trustLevel,
			Reason:     note,
		})
	return Log(event)
}

// LogTSABatch logs a batch verification summary.
func LogTSABatch(total, valid int) error {
	event := NewEvent(EventTSABatch, result(total == valid)).
		WithObject(Object{Type: "batch"}).
		WithContext(Context{
			Count:  total,
			Reason: fmt.Sprintf("%d of %d tokens valid", valid, total),
		})
	return Log(event)
}

// LogProvidersLoaded logs the provider table in use.
func LogProvidersLoaded(path string, count int) error {
	event := NewEvent(EventProvidersLoaded, ResultSuccess).
		WithObject(Object{Type: "provider_table", Path: path}).
		WithContext(Context{Count: count})
	return Log(event)
}
