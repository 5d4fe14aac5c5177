package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prefixd/internal/ratelimit/models"
	"prefixd/internal/ratelimit/store/bucket"
	id "prefixd/pkg/domain"
	"prefixd/pkg/platform/circuit"
	"prefixd/pkg/requestcontext"
	"prefixd/pkg/testutil"
)

type brokenStore struct{ calls int }

func (b *brokenStore) Allow(context.Context, string, models.Limit) (*models.RateLimitResult, error) {
	b.calls++
	return nil, errors.New("redis: connection refused")
}

type recorder struct {
	rejections map[string]int
	degraded   bool
}

func (r *recorder) IncrementRejection(class string) { r.rejections[class]++ }
func (r *recorder) SetDegraded(d bool)              { r.degraded = d }

var ok = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestRateLimitByIP(t *testing.T) {
	rec := &recorder{rejections: map[string]int{}}
	limits := map[models.EndpointClass]models.Limit{models.ClassRead: {Requests: 2, Window: time.Minute}}
	h := New(bucket.NewInMemoryBucketStore(), limits, discard(), WithRecorder(rec)).RateLimit(models.ClassRead)(ok)

	send := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/v1/prefixes", nil)
		req.RemoteAddr = ip + ":4000"
		return testutil.DoRequest(h, req)
	}

	assert.Equal(t, http.StatusNoContent, send("10.0.0.1").Code)
	rr := send("10.0.0.1")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "0", rr.Header().Get("X-RateLimit-Remaining"))

	rr = send("10.0.0.1")
	testutil.AssertStatusAndError(t, rr, http.StatusTooManyRequests, "rate_limit_exceeded")
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))
	assert.Equal(t, 1, rec.rejections["read"])

	assert.Equal(t, http.StatusNoContent, send("10.0.0.2").Code, "other clients keep their own budget")
}

func TestRateLimitSignerKeysByPrincipal(t *testing.T) {
	limits := map[models.EndpointClass]models.Limit{models.ClassWrite: {Requests: 1, Window: time.Minute}}
	h := New(bucket.NewInMemoryBucketStore(), limits, discard()).RateLimitSigner(models.ClassWrite)(ok)

	send := func(p id.Principal) int {
		req := httptest.NewRequest(http.MethodPost, "/v1/prefixes", nil)
		req = req.WithContext(requestcontext.WithPrincipal(req.Context(), p))
		return testutil.DoRequest(h, req).Code
	}

	assert.Equal(t, http.StatusNoContent, send(id.Principal{1}))
	assert.Equal(t, http.StatusTooManyRequests, send(id.Principal{1}))
	assert.Equal(t, http.StatusNoContent, send(id.Principal{2}), "same IP, different signer")
}

func TestRateLimitFallsBackWhenStoreFails(t *testing.T) {
	primary := &brokenStore{}
	rec := &recorder{rejections: map[string]int{}}
	breaker := circuit.New("ratelimit", circuit.WithFailureThreshold(2), circuit.WithCooldown(time.Hour))
	limits := map[models.EndpointClass]models.Limit{models.ClassRead: {Requests: 3, Window: time.Minute}}
	h := New(primary, limits, discard(),
		WithFallback(bucket.NewInMemoryBucketStore(), breaker),
		WithRecorder(rec),
	).RateLimit(models.ClassRead)(ok)

	codes := make([]int, 0, 4)
	for range 4 {
		codes = append(codes, testutil.DoRequest(h, httptest.NewRequest(http.MethodGet, "/", nil)).Code)
	}
	require.Equal(t, []int{204, 204, 204, 429}, codes)
	assert.Equal(t, 2, primary.calls, "open breaker stops calling the primary")
	assert.True(t, rec.degraded)
}

func TestDisabledPassesThrough(t *testing.T) {
	limits := map[models.EndpointClass]models.Limit{models.ClassRead: {Requests: 0, Window: time.Minute}}
	h := New(&brokenStore{}, limits, discard(), WithDisabled(true)).RateLimit(models.ClassRead)(ok)
	assert.Equal(t, http.StatusNoContent, testutil.DoRequest(h, httptest.NewRequest(http.MethodGet, "/", nil)).Code)
}
