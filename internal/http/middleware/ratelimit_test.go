package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/plazadir/gatekeeper/internal/inmem"
	"github.com/plazadir/gatekeeper/pkg/auth"
	"github.com/plazadir/gatekeeper/pkg/domain"
)

func TestKeyByIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		want       string
	}{
		{name: "host and port", remoteAddr: "203.0.113.9:54321", want: "203.0.113.9"},
		{name: "bare host", remoteAddr: "203.0.113.9", want: "203.0.113.9"},
		{name: "ipv6 with port", remoteAddr: "[2001:db8::1]:54321", want: "2001:db8::1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if got := KeyByIP(r); got != tt.want {
				t.Errorf("KeyByIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRateLimit_RejectsOverLimit(t *testing.T) {
	limiter := auth.NewRateLimiter(inmem.NewRateLimitStore(), nil)
	cfg := domain.RateLimitConfig{Window: time.Minute, MaxRequests: 2}
	handler := RateLimit(limiter, "contact", cfg, nil, nil)(okHandler())

	do := func() *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, "/v1/contact", nil)
		r.RemoteAddr = "203.0.113.9:54321"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		return w
	}

	for i := 1; i <= 2; i++ {
		if w := do(); w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want %d", i, w.Code, http.StatusOK)
		}
	}

	w := do()
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("request 3: status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}

	var body struct {
		Error   string `json:"error"`
		ResetAt string `json:"reset_at"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode rejection body: %v", err)
	}
	if body.ResetAt == "" {
		t.Error("rejection body missing reset_at")
	}
	if _, err := time.Parse(time.RFC3339, body.ResetAt); err != nil {
		t.Errorf("reset_at %q not RFC3339: %v", body.ResetAt, err)
	}
}

func TestRateLimit_KeysCallersSeparately(t *testing.T) {
	limiter := auth.NewRateLimiter(inmem.NewRateLimitStore(), nil)
	cfg := domain.RateLimitConfig{Window: time.Minute, MaxRequests: 1}
	handler := RateLimit(limiter, "contact", cfg, nil, nil)(okHandler())

	do := func(addr string) int {
		r := httptest.NewRequest(http.MethodPost, "/v1/contact", nil)
		r.RemoteAddr = addr
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		return w.Code
	}

	if code := do("203.0.113.9:1"); code != http.StatusOK {
		t.Fatalf("first caller: status = %d", code)
	}
	if code := do("203.0.113.9:2"); code != http.StatusTooManyRequests {
		t.Errorf("same IP second request: status = %d, want 429", code)
	}
	if code := do("198.51.100.7:1"); code != http.StatusOK {
		t.Errorf("different IP: status = %d, want 200", code)
	}
}

func TestRateLimit_BlockedCallerMessage(t *testing.T) {
	store := inmem.NewRateLimitStore()
	limiter := auth.NewRateLimiter(store, nil)
	cfg := domain.RateLimitConfig{Window: time.Minute, MaxRequests: 100, MaxFailures: 1, BlockFor: time.Hour}

	if err := limiter.RecordFailure(context.Background(), auth.Key("exchange", "203.0.113.9"), cfg); err != nil {
		t.Fatalf("RecordFailure() error = %v", err)
	}

	handler := RateLimit(limiter, "exchange", cfg, nil, nil)(okHandler())
	r := httptest.NewRequest(http.MethodPost, "/v1/session/exchange", nil)
	r.RemoteAddr = "203.0.113.9:54321"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode rejection body: %v", err)
	}
	if body.Error != "temporarily blocked after repeated failures" {
		t.Errorf("error = %q, want block message", body.Error)
	}
}

func TestNoRateLimit(t *testing.T) {
	handler := NoRateLimit()(okHandler())
	for i := 0; i < 20; i++ {
		r := httptest.NewRequest(http.MethodPost, "/v1/contact", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, w.Code)
		}
	}
}
