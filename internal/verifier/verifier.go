package verifier

import (
	"context"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/remiblancher/tsa-verifier/internal/provider"
	"github.com/remiblancher/tsa-verifier/internal/tsa"
)

// Request is one verification call. The document hash is given either as
// text (Hash) or as raw bytes (HashBytes).
type Request struct {
	Token         tsa.RawToken
	Hash          string
	HashBytes     []byte
	HashAlgorithm tsa.HashAlgorithm // declared by the caller, optional
	Provider      string
}

// Verifier runs the verification pipeline against a provider registry.
// It holds no per-call state and is safe for concurrent use.
type Verifier struct {
	registry *provider.Registry
	logger   hclog.Logger
	roots    *x509.CertPool
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithLogger sets the logger. The default discards output.
func WithLogger(l hclog.Logger) Option {
	return func(v *Verifier) { v.logger = l }
}

// WithRoots replaces the platform roots used by system-mode providers.
func WithRoots(pool *x509.CertPool) Option {
	return func(v *Verifier) { v.roots = pool }
}

// New creates a Verifier.
func New(registry *provider.Registry, opts ...Option) *Verifier {
	v := &Verifier{
		registry: registry,
		logger:   hclog.NewNullLogger(),
	}
	for _, o := range opts {
		o(v)
	}
	v.logger = v.logger.Named("verifier")
	return v
}

// Registry returns the provider registry.
func (v *Verifier) Registry() *provider.Registry { return v.registry }

// Verify runs decode, parse, provider resolution, imprint comparison and
// signature validation, and assembles the verdict. It never panics and
// always returns a result.
func (v *Verifier) Verify(ctx context.Context, req Request) *Result {
	res := newResult()
	if err := ctx.Err(); err != nil {
		return res.fail("request", err)
	}

	doc, err := documentHash(req)
	if err != nil {
		return res.fail("request", err)
	}
	if req.Token.IsZero() {
		return res.fail("request", ErrMissingToken)
	}
	if strings.TrimSpace(req.Provider) == "" {
		return res.fail("request", ErrMissingProvider)
	}

	raw, err := tsa.Decode(req.Token)
	if err != nil {
		v.logger.Debug("token decode failed", "encoding", req.Token.Encoding(), "error", err)
		res.Details.Set("input_encoding", req.Token.Encoding().String())
		return res.fail("decode", err)
	}

	tok, err := tsa.ParseToken(raw)
	if err != nil {
		v.logger.Debug("token parse failed", "error", err)
		res.Details.Set("input_encoding", req.Token.Encoding().String())
		return res.fail("parse", err)
	}

	profile, err := v.registry.Resolve(req.Provider)
	if err != nil {
		v.logger.Debug("provider resolution failed", "provider", req.Provider)
		res.Details.Set("input_encoding", req.Token.Encoding().String())
		return res.fail("provider", err)
	}

	imprint, imprintErr := tsa.CompareImprint(tok, doc, profile.Permitted())
	outcome := tsa.ValidateSignature(tok, profile.TrustPolicy(v.roots))

	assemble(res, tok, profile, doc, imprint, imprintErr, outcome, req.Token.Encoding())

	v.logger.Debug("token verified",
		"provider", profile.Name,
		"serial", tok.SerialNumber().Text(16),
		"valid", res.Valid,
		"hash_match", res.HashMatch,
		"signature_valid", res.SignatureValid,
		"provider_matched", res.ProviderMatched)
	return res
}

// documentHash validates and normalizes the caller's hash.
func documentHash(req Request) (tsa.DocumentHash, error) {
	if len(req.HashBytes) > 0 {
		return tsa.DocumentHash{
			Algorithm: req.HashAlgorithm,
			Digest:    append([]byte(nil), req.HashBytes...),
		}, nil
	}
	if strings.TrimSpace(req.Hash) == "" {
		return tsa.DocumentHash{}, ErrMissingHash
	}
	doc, err := tsa.ParseDocumentHash(req.Hash)
	if err != nil {
		return tsa.DocumentHash{}, fmt.Errorf("invalid document hash: %w", err)
	}
	if req.HashAlgorithm != "" {
		if doc.Algorithm != "" && doc.Algorithm != req.HashAlgorithm {
			return tsa.DocumentHash{}, fmt.Errorf("invalid document hash: prefix %s conflicts with declared algorithm %s",
				doc.Algorithm, req.HashAlgorithm)
		}
		doc.Algorithm = req.HashAlgorithm
	}
	return doc, nil
}

func assemble(res *Result, tok *tsa.Token, profile *provider.Profile, doc tsa.DocumentHash,
	imprint tsa.ImprintResult, imprintErr error, outcome tsa.SignatureOutcome, enc tsa.Encoding) {

	genTime := tok.GenTime()
	res.Timestamp = &genTime

	if imprintErr != nil {
		res.HashMatch = Failed
	} else {
		res.HashMatch = CheckOf(imprint.Match)
	}
	res.SignatureValid = CheckOf(outcome.SignatureValid)
	res.ProviderMatched = CheckOf(outcome.ProviderMatched)
	res.Valid = res.HashMatch.OK() && res.SignatureValid.OK() && res.ProviderMatched.OK()

	d := res.Details
	d.Set("provider", profile.Name)
	d.Set("provider_display_name", profile.Title())
	if name := tok.TSAName(); name != "" {
		d.Set("tsa_name", name)
	}
	d.Set("policy", tok.Policy().String())
	d.Set("serial_number", tok.SerialNumber().Text(16))
	d.Set("hash_algorithm", string(tok.HashAlgorithm()))
	d.Set("token_hash", hex.EncodeToString(tok.HashedMessage()))
	d.Set("provided_hash", hex.EncodeToString(doc.Digest))
	d.Set("gen_time", genTime.Format(time.RFC3339Nano))
	if !tok.Info.Accuracy.IsZero() {
		d.Set("accuracy", tok.Info.Accuracy.Duration().String())
	}
	d.Set("ordering", tok.Info.Ordering)
	if n := tok.Nonce(); n != nil {
		d.Set("nonce", n.String())
	}
	if c := outcome.SignerCert; c != nil {
		d.Set("signer_subject", c.Subject.String())
		d.Set("signer_issuer", c.Issuer.String())
		d.Set("signer_not_before", c.NotBefore.UTC().Format(time.RFC3339))
		d.Set("signer_not_after", c.NotAfter.UTC().Format(time.RFC3339))
	}
	d.Set("chain_length", len(outcome.Chain))
	d.Set("signature_algorithm", tok.SignatureAlgorithm())
	d.Set("input_encoding", enc.String())

	var first error
	switch {
	case imprintErr != nil:
		d.Set("hash_error", imprintErr.Error())
		first = imprintErr
	case !imprint.Match:
		d.Set("hash_error", imprint.Reason)
		first = fmt.Errorf("%w: %s", ErrHashMismatch, imprint.Reason)
	}

	var sigErrs, providerErrs []error
	for _, err := range outcome.Errors {
		if errors.Is(err, tsa.ErrTrustAnchorMismatch) {
			providerErrs = append(providerErrs, err)
		} else {
			sigErrs = append(sigErrs, err)
		}
	}
	if len(sigErrs) > 0 {
		d.Set("signature_error", joinErrors(sigErrs))
		if first == nil {
			first = sigErrs[0]
		}
	}
	if len(providerErrs) > 0 {
		d.Set("provider_error", joinErrors(providerErrs))
		if first == nil {
			first = providerErrs[0]
		}
	}

	if !res.Valid && first != nil {
		res.Err = first
		res.Error = first.Error()
	}
}

func joinErrors(errs []error) string {
	msgs := make([]string, len(errs))
	for i, err := range errs {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}
