// Package service provides business logic for the REST API.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"

	apierrors "github.com/remiblancher/tsa-verifier/internal/api/errors"
	"github.com/remiblancher/tsa-verifier/internal/api/dto"
	"github.com/remiblancher/tsa-verifier/internal/audit"
	"github.com/remiblancher/tsa-verifier/internal/cache"
	"github.com/remiblancher/tsa-verifier/internal/metrics"
	"github.com/remiblancher/tsa-verifier/internal/verifier"
)

// VerifyService runs verifications for the REST API, consulting the
// verdict cache and recording metrics and audit events.
type VerifyService struct {
	verifier *verifier.Verifier
	cache    cache.Cache
	metrics  *metrics.Metrics
	logger   hclog.Logger
	workers  int
	maxBatch int
}

// Options configures a VerifyService. Zero values disable the matching
// feature.
type Options struct {
	Cache    cache.Cache
	Metrics  *metrics.Metrics
	Logger   hclog.Logger
	Workers  int
	MaxBatch int
}

// NewVerifyService creates a new VerifyService.
func NewVerifyService(v *verifier.Verifier, opts Options) *VerifyService {
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &VerifyService{
		verifier: v,
		cache:    opts.Cache,
		metrics:  opts.Metrics,
		logger:   logger,
		workers:  opts.Workers,
		maxBatch: opts.MaxBatch,
	}
}

// Verify verifies one request. original, when set, adds a comparison.
// An error is returned only when the verdict could not be recorded.
func (s *VerifyService) Verify(ctx context.Context, req verifier.Request, original *bool, actor audit.Actor) (*dto.VerifyResponse, error) {
	start := time.Now()
	res, cached := s.verify(ctx, req)
	s.metrics.ObserveResult(providerLabel(res), res, time.Since(start))

	resp := respond(res, original)
	resp.Cached = cached

	if err := s.audit(req, resp, actor); err != nil {
		return nil, err
	}
	return resp, nil
}

// VerifyDocuments verifies JSON documents concurrently and returns the
// verdicts in input order. Malformed items get a rejected verdict.
func (s *VerifyService) VerifyDocuments(ctx context.Context, items []json.RawMessage, actor audit.Actor) (*dto.BatchResponse, error) {
	if s.maxBatch > 0 && len(items) > s.maxBatch {
		return nil, fmt.Errorf("%w: %d > %d", apierrors.ErrBatchTooLarge, len(items), s.maxBatch)
	}

	docs := make([]verifier.Document, len(items))
	results := make([]*verifier.Result, len(items))
	var (
		pending []verifier.Request
		index   []int
	)
	for i, item := range items {
		doc, err := verifier.ParseDocument(item)
		if err != nil {
			results[i] = verifier.Rejected(err)
			continue
		}
		docs[i] = doc
		if key, ok := cache.Key(doc.Request); ok {
			if res, hit := s.lookup(ctx, key); hit {
				results[i] = res
				continue
			}
		}
		pending = append(pending, doc.Request)
		index = append(index, i)
	}

	start := time.Now()
	for j, res := range s.verifier.VerifyBatch(ctx, pending, s.workers) {
		i := index[j]
		results[i] = res
		s.store(ctx, pending[j], res)
	}
	elapsed := time.Since(start)

	out := &dto.BatchResponse{Results: make([]*dto.VerifyResponse, len(items)), Total: len(items)}
	for i, res := range results {
		s.metrics.ObserveResult(providerLabel(res), res, elapsed/time.Duration(max(len(pending), 1)))
		out.Results[i] = respond(res, docs[i].OriginalVerified)
		if res.Valid {
			out.Valid++
		}
		if err := s.audit(docs[i].Request, out.Results[i], actor); err != nil {
			return nil, err
		}
	}
	if audit.Enabled() {
		if err := audit.LogTSABatch(out.Total, out.Valid); err != nil {
			return nil, fmt.Errorf("%w: %v", apierrors.ErrAudit, err)
		}
	}

	s.logger.Debug("batch verified", "total", out.Total, "valid", out.Valid, "verified", len(pending))
	return out, nil
}

// Ping checks the cache backend.
func (s *VerifyService) Ping(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Ping(ctx)
}

func (s *VerifyService) verify(ctx context.Context, req verifier.Request) (*verifier.Result, bool) {
	key, cacheable := cache.Key(req)
	if cacheable {
		if res, hit := s.lookup(ctx, key); hit {
			res.Details.Set("input_encoding", req.Token.Encoding().String())
			return res, true
		}
	}
	res := s.verifier.Verify(ctx, req)
	if cacheable {
		s.store(ctx, req, res)
	}
	return res, false
}

func (s *VerifyService) lookup(ctx context.Context, key string) (*verifier.Result, bool) {
	if s.cache == nil {
		return nil, false
	}
	res, ok, err := s.cache.Get(ctx, key)
	switch {
	case err != nil:
		s.metrics.CacheError()
		s.logger.Warn("cache lookup failed", "error", err)
		return nil, false
	case !ok:
		s.metrics.CacheMiss()
		return nil, false
	}
	s.metrics.CacheHit()
	return res, true
}

func (s *VerifyService) store(ctx context.Context, req verifier.Request, res *verifier.Result) {
	if s.cache == nil || !cache.Cacheable(res) {
		return
	}
	key, ok := cache.Key(req)
	if !ok {
		return
	}
	if err := s.cache.Set(ctx, key, res); err != nil {
		s.metrics.CacheError()
		s.logger.Warn("cache store failed", "error", err)
	}
}

func (s *VerifyService) audit(req verifier.Request, resp *dto.VerifyResponse, actor audit.Actor) error {
	if err := audit.RecordVerification(&actor, req, resp.Result, resp.Comparison); err != nil {
		return fmt.Errorf("%w: %v", apierrors.ErrAudit, err)
	}
	return nil
}

func respond(res *verifier.Result, original *bool) *dto.VerifyResponse {
	resp := &dto.VerifyResponse{Result: res}
	if !res.Valid {
		resp.ErrorCode = apierrors.Code(res.Err)
		if resp.ErrorCode == "" && res.Error != "" {
			resp.ErrorCode = apierrors.CodeInvalidRequest
		}
	}
	if original != nil {
		tc := verifier.Compare(res, *original)
		resp.Comparison = &tc
	}
	return resp
}

func providerLabel(res *verifier.Result) string {
	return detailString(res, "provider")
}

func detailString(res *verifier.Result, key string) string {
	v, ok := res.Detail(key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
