package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiterWindow(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	defer rl.Stop()

	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		if ok, _ := rl.Allow("1.2.3.4"); !ok {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	ok, retry := rl.Allow("1.2.3.4")
	if ok {
		t.Fatal("third request should be limited")
	}
	if retry != time.Minute {
		t.Fatalf("expected retry of 1m, got %v", retry)
	}

	if ok, _ := rl.Allow("5.6.7.8"); !ok {
		t.Fatal("other keys have their own window")
	}

	now = now.Add(time.Minute + time.Second)
	if ok, _ := rl.Allow("1.2.3.4"); !ok {
		t.Fatal("request after the window should be allowed")
	}
}

func TestRateLimiterMiddleware(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	defer rl.Stop()

	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/assistant", nil)
	req.RemoteAddr = "10.0.0.1:5555"

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}

	// Same host, different port.
	req.RemoteAddr = "10.0.0.1:6666"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
}

func TestSafeNext(t *testing.T) {
	cases := map[string]string{
		"":                         "/",
		"/my-cards?page=2":         "/my-cards?page=2",
		"//evil.example.com":       "/",
		"https://evil.example.com": "/",
		`/\evil.example.com`:       "/",
		"my-cards":                 "/",
	}
	for in, want := range cases {
		if got := safeNext(in); got != want {
			t.Errorf("safeNext(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLoginURL(t *testing.T) {
	if got := loginURL("/"); got != "/login" {
		t.Errorf("loginURL(/) = %q", got)
	}
	if got := loginURL("/bidding/3?x=1"); got != "/login?next=%2Fbidding%2F3%3Fx%3D1" {
		t.Errorf("loginURL = %q", got)
	}
}
