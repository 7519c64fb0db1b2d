package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func doRequest(t *testing.T, h http.Handler, remoteAddr string) int {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, "/api/insights", nil)
	r.RemoteAddr = remoteAddr
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w.Code
}

func TestRateLimiterAllowsWithinBurst(t *testing.T) {
	rl := NewRateLimiter(0.001, 3)
	defer rl.Stop()
	h := rl.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		if code := doRequest(t, h, "10.0.0.1:5000"); code != http.StatusOK {
			t.Fatalf("request %d: status %d, want 200", i, code)
		}
	}
	if code := doRequest(t, h, "10.0.0.1:5000"); code != http.StatusTooManyRequests {
		t.Errorf("over-burst request: status %d, want 429", code)
	}
}

func TestRateLimiterIsolatesClients(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	defer rl.Stop()
	h := rl.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	if code := doRequest(t, h, "10.0.0.1:5000"); code != http.StatusOK {
		t.Fatalf("first client: status %d", code)
	}
	if code := doRequest(t, h, "10.0.0.1:6000"); code != http.StatusTooManyRequests {
		t.Errorf("same ip, new port: status %d, want 429 (shared bucket)", code)
	}
	if code := doRequest(t, h, "10.0.0.2:5000"); code != http.StatusOK {
		t.Errorf("second client: status %d, want 200", code)
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(0, 1)
	defer rl.Stop()
	h := rl.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 50; i++ {
		if code := doRequest(t, h, "10.0.0.1:5000"); code != http.StatusOK {
			t.Fatalf("request %d limited with limiting disabled", i)
		}
	}
}
