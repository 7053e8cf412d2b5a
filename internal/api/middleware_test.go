package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/taxpilot/taxpilot/internal/testutil"
)

func TestRecoveryMiddleware(t *testing.T) {
	handler := recoveryMiddleware(testutil.DiscardLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status after panic = %d, want 500", rec.Code)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := requestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestIDFromContext(r.Context())
	}))

	t.Run("generates an id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		if seen == "" {
			t.Fatal("no request id in context")
		}
		if rec.Header().Get("X-Request-ID") != seen {
			t.Errorf("response header %q != context id %q", rec.Header().Get("X-Request-ID"), seen)
		}
	})

	t.Run("reuses the caller's id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-ID", "caller-id-1")
		handler.ServeHTTP(httptest.NewRecorder(), req)

		if seen != "caller-id-1" {
			t.Errorf("request id = %q, want caller-id-1", seen)
		}
	})
}

func TestCORSMiddleware(t *testing.T) {
	handler := corsMiddleware([]string{"http://localhost:3000"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
			t.Errorf("Allow-Origin = %q", got)
		}
	})

	t.Run("unknown origin gets no header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "http://evil.example")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("Allow-Origin = %q, want empty", got)
		}
	})

	t.Run("preflight short-circuits", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusNoContent {
			t.Errorf("preflight status = %d, want 204", rec.Code)
		}
	})
}

func TestRateLimiterAllow(t *testing.T) {
	rl := newRateLimiter(0.001, 3)

	for i := range 3 {
		if !rl.allow("10.0.0.1") {
			t.Fatalf("request %d denied within burst", i+1)
		}
	}
	if rl.allow("10.0.0.1") {
		t.Error("request allowed after burst exhausted")
	}
	if !rl.allow("10.0.0.2") {
		t.Error("separate IP shares the exhausted bucket")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := newRateLimiter(0.001, 1)
	handler := rateLimitMiddleware(rl, false, testutil.DiscardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5000"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("second request = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "1" {
		t.Errorf("Retry-After = %q, want 1", rec.Header().Get("Retry-After"))
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		realIP     string
		forwarded  string
		trustProxy bool
		want       string
	}{
		{"remote addr only", "192.0.2.1:1234", "", "", false, "192.0.2.1"},
		{"headers ignored without trust", "192.0.2.1:1234", "203.0.113.5", "", false, "192.0.2.1"},
		{"x-real-ip trusted", "192.0.2.1:1234", "203.0.113.5", "", true, "203.0.113.5"},
		{"x-forwarded-for first hop", "192.0.2.1:1234", "", "203.0.113.7, 10.0.0.1", true, "203.0.113.7"},
		{"real-ip wins over forwarded", "192.0.2.1:1234", "203.0.113.5", "203.0.113.7", true, "203.0.113.5"},
		{"invalid header falls back", "192.0.2.1:1234", "not-an-ip", "", true, "192.0.2.1"},
		{"ipv6 remote", "[2001:db8::1]:443", "", "", false, "2001:db8::1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}

			if got := clientIP(req, tt.trustProxy); got != tt.want {
				t.Errorf("clientIP = %q, want %q", got, tt.want)
			}
		})
	}
}
