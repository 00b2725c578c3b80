package middleware

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type countingLimiter struct {
	counts map[string]int64
	err    error
}

func (c *countingLimiter) FixedWindowAllow(_ context.Context, scope string, limit int64, _ time.Duration) (bool, int64, error) {
	if c.err != nil {
		return false, 0, c.err
	}
	if c.counts == nil {
		c.counts = map[string]int64{}
	}
	c.counts[scope]++
	return c.counts[scope] <= limit, c.counts[scope], nil
}

func sweepRequest(body string) *http.Request {
	return httptest.NewRequest(http.MethodPost, "/internal/v1/auto-recharge/sweep", strings.NewReader(body))
}

func TestSweepRateLimitIsPerTenant(t *testing.T) {
	limiter := &countingLimiter{}
	handler := SweepRateLimit(SweepRateLimitPolicy{Limit: 1, Window: time.Minute}, limiter, nil)(okHandler())

	codes := []int{}
	for _, body := range []string{
		`{"tenant_id":"A3C6F7B2-0000-0000-0000-000000000001"}`,
		`{"tenant_id":"a3c6f7b2-0000-0000-0000-000000000001"}`,
		`{"tenant_id":"a3c6f7b2-0000-0000-0000-000000000002"}`,
		``,
		`{}`,
	} {
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, sweepRequest(body))
		codes = append(codes, resp.Code)
	}
	want := []int{http.StatusOK, http.StatusTooManyRequests, http.StatusOK, http.StatusOK, http.StatusTooManyRequests}
	for i := range want {
		if codes[i] != want[i] {
			t.Fatalf("request %d: expected %d got %d (all: %v)", i, want[i], codes[i], codes)
		}
	}
	if limiter.counts["sweep:all"] != 2 {
		t.Fatalf("expected all-tenant scope to be counted twice, got %d", limiter.counts["sweep:all"])
	}
}

func TestSweepRateLimitFailsOpen(t *testing.T) {
	limiter := &countingLimiter{err: errors.New("redis down")}
	handler := SweepRateLimit(SweepRateLimitPolicy{Limit: 1, Window: time.Minute}, limiter, nil)(okHandler())
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, sweepRequest(`{}`))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected limiter failure to pass through, got %d", resp.Code)
	}
}

func TestSweepRateLimitKeepsBodyForHandler(t *testing.T) {
	var seen string
	handler := SweepRateLimit(SweepRateLimitPolicy{Limit: 5, Window: time.Minute}, &countingLimiter{}, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := new(strings.Builder)
		_, _ = io.Copy(buf, r.Body)
		seen = buf.String()
	}))
	handler.ServeHTTP(httptest.NewRecorder(), sweepRequest(`{"tenant_id":"x"}`))
	if seen != `{"tenant_id":"x"}` {
		t.Fatalf("body not restored: %q", seen)
	}
}
