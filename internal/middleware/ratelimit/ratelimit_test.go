package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestLimiter(t *testing.T, rpm int) (*Limiter, *time.Time) {
	t.Helper()
	rl := NewLimiter(Config{RequestsPerMinute: rpm, CleanupInterval: time.Hour, StaleAfter: 10 * time.Minute})
	t.Cleanup(rl.Stop)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	return rl, &now
}

func TestLimiterAllow(t *testing.T) {
	rl, now := newTestLimiter(t, 3)

	for i := 0; i < 3; i++ {
		if !rl.Allow("1.2.3.4") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if rl.Allow("1.2.3.4") {
		t.Fatal("fourth request in the window should be rejected")
	}
	if !rl.Allow("5.6.7.8") {
		t.Fatal("other clients have their own budget")
	}

	*now = now.Add(time.Minute)
	if !rl.Allow("1.2.3.4") {
		t.Fatal("a new window should reset the budget")
	}

	m := rl.GetMetrics()
	if m.TotalHits != 1 || m.ClientCount != 2 {
		t.Fatalf("unexpected metrics %+v", m)
	}
}

func TestLimiterRejectedRequestsDoNotExtendWindow(t *testing.T) {
	rl, now := newTestLimiter(t, 1)
	rl.Allow("a")
	for i := 0; i < 5; i++ {
		*now = now.Add(10 * time.Second)
		rl.Allow("a")
	}
	*now = now.Add(10 * time.Second)
	if !rl.Allow("a") {
		t.Fatal("window started a minute ago and should have reset")
	}
}

func TestLimiterCleanup(t *testing.T) {
	rl, now := newTestLimiter(t, 10)
	rl.Allow("old")
	*now = now.Add(11 * time.Minute)
	rl.Allow("fresh")

	if n := rl.cleanupStaleEntries(); n != 1 {
		t.Fatalf("cleanupStaleEntries() = %d, want 1", n)
	}
	if rl.ActiveClients() != 1 {
		t.Fatalf("ActiveClients() = %d, want 1", rl.ActiveClients())
	}
	rl.Stop()
	rl.Stop()
}

func TestMiddleware(t *testing.T) {
	rl, _ := newTestLimiter(t, 1)
	var limited int
	h := rl.Middleware(
		func(r *http.Request) string { return "client" },
		func(w http.ResponseWriter, r *http.Request) {
			limited++
			w.WriteHeader(http.StatusTooManyRequests)
		},
	)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	codes := make([]int, 2)
	for i := range codes {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/predict", nil))
		codes[i] = rec.Code
		if i == 1 && rec.Header().Get("Retry-After") != "60" {
			t.Errorf("missing Retry-After header")
		}
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests || limited != 1 {
		t.Fatalf("codes=%v limited=%d", codes, limited)
	}
}
