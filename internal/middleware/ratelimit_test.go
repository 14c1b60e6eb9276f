package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// fakeLimiterStore counts in memory and can fail either command.
type fakeLimiterStore struct {
	counts    map[string]int64
	incrErr   error
	expireErr error
	expired   []string
	deleted   []string
}

func newFakeLimiterStore() *fakeLimiterStore {
	return &fakeLimiterStore{counts: make(map[string]int64)}
}

func (f *fakeLimiterStore) Incr(ctx context.Context, key string) *redis.IntCmd {
	if f.incrErr != nil {
		return redis.NewIntResult(0, f.incrErr)
	}
	f.counts[key]++
	return redis.NewIntResult(f.counts[key], nil)
}

func (f *fakeLimiterStore) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	if f.expireErr != nil {
		return redis.NewBoolResult(false, f.expireErr)
	}
	f.expired = append(f.expired, key)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeLimiterStore) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.deleted = append(f.deleted, keys...)
	for _, key := range keys {
		delete(f.counts, key)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

func limitedRequest(t *testing.T, rl *RateLimiter) *httptest.ResponseRecorder {
	t.Helper()

	called := false
	handler := Session(rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})))

	req := httptest.NewRequest(http.MethodPost, "/api/chat/message", nil)
	req.Header.Set("X-Session-Id", "session-rl")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code == http.StatusOK && !called {
		t.Error("Expected the next handler to run on an allowed request")
	}
	return rr
}

func TestRateLimiter_OverLimit(t *testing.T) {
	store := newFakeLimiterStore()
	rl := NewRateLimiter(store, 2, time.Minute)

	for i := 0; i < 2; i++ {
		if rr := limitedRequest(t, rl); rr.Code != http.StatusOK {
			t.Fatalf("Request %d: expected status 200, got %d", i+1, rr.Code)
		}
	}

	rr := limitedRequest(t, rl)
	if rr.Code != http.StatusTooManyRequests {
		t.Errorf("Expected status 429 over the limit, got %d", rr.Code)
	}

	if len(store.expired) != 1 {
		t.Errorf("Expected the window to be set once, got %v", store.expired)
	}
}

func TestRateLimiter_IncrErrorFailsOpen(t *testing.T) {
	store := newFakeLimiterStore()
	store.incrErr = errors.New("connection refused")
	rl := NewRateLimiter(store, 1, time.Minute)

	if rr := limitedRequest(t, rl); rr.Code != http.StatusOK {
		t.Errorf("Expected a Redis outage to fail open, got %d", rr.Code)
	}
}

func TestRateLimiter_ExpireErrorFailsOpen(t *testing.T) {
	store := newFakeLimiterStore()
	store.expireErr = errors.New("connection reset")
	rl := NewRateLimiter(store, 1, time.Minute)

	rr := limitedRequest(t, rl)
	if rr.Code != http.StatusOK {
		t.Errorf("Expected an EXPIRE failure to fail open, got %d", rr.Code)
	}

	// The counter has no TTL; it must not survive to throttle the session
	// forever.
	if len(store.deleted) != 1 {
		t.Errorf("Expected the unexpirable counter to be discarded, got %v", store.deleted)
	}
	if _, ok := store.counts["ratelimit:chat:session-rl"]; ok {
		t.Error("Expected the counter key to be gone")
	}
}
