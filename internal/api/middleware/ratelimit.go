package middleware

import (
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/time/rate"

	apierrors "github.com/remiblancher/tsa-verifier/internal/api/errors"
	"github.com/remiblancher/tsa-verifier/internal/metrics"
)

// limiterIdle is how long an idle client keeps its bucket.
const limiterIdle = 10 * time.Minute

// RateLimiter keeps one token bucket per client address. Buckets of idle
// clients expire.
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	buckets *ttlcache.Cache[string, *rate.Limiter]
	metrics *metrics.Metrics
}

// NewRateLimiter allows rps requests per second per client with the given
// burst. m may be nil.
func NewRateLimiter(rps float64, burst int, m *metrics.Metrics) *RateLimiter {
	buckets := ttlcache.New[string, *rate.Limiter](
		ttlcache.WithTTL[string, *rate.Limiter](limiterIdle),
	)
	go buckets.Start()
	return &RateLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		buckets: buckets,
		metrics: m,
	}
}

// Allow consumes one token from key's bucket.
func (l *RateLimiter) Allow(key string) bool {
	item, _ := l.buckets.GetOrSet(key, rate.NewLimiter(l.limit, l.burst))
	return item.Value().Allow()
}

// Stop ends bucket expiry.
func (l *RateLimiter) Stop() { l.buckets.Stop() }

// Handler rejects requests over the limit with 429.
func (l *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.Allow(clientKey(r)) {
			next.ServeHTTP(w, r)
			return
		}
		l.metrics.RateLimited()

		retry := 1
		if l.limit > 0 {
			retry = int(math.Ceil(1 / float64(l.limit)))
		}
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		apiErr := apierrors.NewRateLimited()
		apiErr.RequestID = GetRequestID(r.Context())
		_ = json.NewEncoder(w).Encode(apiErr)
	})
}

// clientKey identifies the caller by remote IP.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
