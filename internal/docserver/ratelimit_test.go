package docserver

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiterAllowDeny(t *testing.T) {
	rl := NewRateLimiter()

	for i := 0; i < 5; i++ {
		if !rl.Allow("k1", 5) {
			t.Fatalf("expected allow on request %d", i+1)
		}
	}
	if rl.Allow("k1", 5) {
		t.Fatal("expected deny after limit reached")
	}
	if !rl.Allow("k2", 5) {
		t.Fatal("keys must be limited independently")
	}
}

func TestRateLimiterWindowResetAndCleanup(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rl := NewRateLimiter()
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		rl.Allow("k1", 3)
	}
	if rl.Allow("k1", 3) {
		t.Fatal("expected deny after limit")
	}

	now = now.Add(time.Minute)
	if !rl.Allow("k1", 3) {
		t.Fatal("expected allow after window reset")
	}

	now = now.Add(5 * time.Minute)
	if n := rl.Cleanup(); n != 1 {
		t.Errorf("Cleanup removed %d buckets, want 1", n)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		xff, remote, want string
	}{
		{"", "10.0.0.1:1234", "10.0.0.1"},
		{"203.0.113.7", "10.0.0.1:1234", "203.0.113.7"},
		{"203.0.113.7, 10.0.0.2", "10.0.0.1:1234", "203.0.113.7"},
		{"", "pipe", "pipe"},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = tt.remote
		if tt.xff != "" {
			r.Header.Set("X-Forwarded-For", tt.xff)
		}
		if got := clientIP(r); got != tt.want {
			t.Errorf("clientIP(xff=%q, remote=%q) = %q, want %q", tt.xff, tt.remote, got, tt.want)
		}
	}
}
