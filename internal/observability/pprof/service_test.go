package pprof

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"wheeld/pkg/logx"
)

func TestHandlerAuthHealthAndJSON(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Token: "secret"}, logx.Nop())
	healthy := true
	s.SetHealth(func() error {
		if healthy {
			return nil
		}
		return errors.New("wheel stopped")
	})
	s.Handle("/debug/timers", func(*http.Request) (any, error) {
		return map[string]int{"pending": 3}, nil
	})
	h := s.Handler()

	cases := []struct {
		name   string
		target string
		auth   string
		code   int
		body   string
	}{
		{"no token", "/healthz", "", http.StatusUnauthorized, "unauthorized"},
		{"query token", "/healthz?token=secret", "", http.StatusOK, "ok"},
		{"bearer", "/debug/timers", "Bearer secret", http.StatusOK, `"pending": 3`},
		{"wrong bearer", "/debug/timers", "Bearer nope", http.StatusUnauthorized, "unauthorized"},
		{"pprof index", "/debug/pprof/", "Bearer secret", http.StatusOK, "goroutine"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, tc.target, nil)
		if tc.auth != "" {
			req.Header.Set("Authorization", tc.auth)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tc.code || !strings.Contains(rec.Body.String(), tc.body) {
			t.Fatalf("%s: code=%d body=%q", tc.name, rec.Code, rec.Body.String())
		}
	}

	healthy = false
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz?token=secret", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("unhealthy code=%d", rec.Code)
	}
}

func TestServeOnLoopback(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	var addr string
	for i := 0; i < 200 && addr == ""; i++ {
		addr = s.Addr()
		time.Sleep(5 * time.Millisecond)
	}
	if addr == "" {
		t.Fatalf("server never bound")
	}
	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(b) != "ok" {
		t.Fatalf("code=%d body=%q", resp.StatusCode, b)
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	cases := map[string]bool{
		"127.0.0.1:6060": true,
		"localhost:6060": true,
		"[::1]:6060":     true,
		":6060":          false,
		"0.0.0.0:6060":   false,
		"10.0.0.5:6060":  false,
		"garbage":        false,
	}
	for addr, want := range cases {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("%s: got %v want %v", addr, got, want)
		}
	}
}
