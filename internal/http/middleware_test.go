package http

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
)

func TestRequestLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))

	var scoped *slog.Logger
	handler := RequestLogger(base)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scoped = LoggerFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/session", nil))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/session", nil))

	if scoped == nil {
		t.Fatalf("expected request logger in context")
	}
	out := buf.String()
	for _, want := range []string{"request_id=1", "request_id=2", "path=/session", "request completed"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in log output %q", want, out)
		}
	}
}

func TestRateLimit(t *testing.T) {
	t.Parallel()

	newHandler := func(perMinute int, trusted ...netip.Prefix) http.Handler {
		return RateLimit(perMinute, quietLogger(), trusted...)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
	}
	request := func(remote, forwarded string) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/login", nil)
		req.RemoteAddr = remote
		if forwarded != "" {
			req.Header.Set("X-Forwarded-For", forwarded)
		}
		return req
	}

	t.Run("rejects bursts beyond the allowance", func(t *testing.T) {
		t.Parallel()
		handler := newHandler(2)

		for i := 0; i < 2; i++ {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, request("10.0.0.1:1234", ""))
			if rec.Code != http.StatusOK {
				t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
			}
		}

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, request("10.0.0.1:5678", ""))
		if rec.Code != http.StatusTooManyRequests {
			t.Fatalf("expected 429, got %d", rec.Code)
		}
		if rec.Header().Get("Retry-After") == "" || !strings.Contains(rec.Body.String(), "RATE_LIMITED") {
			t.Fatalf("expected retry hint and error code, got %q", rec.Body.String())
		}
	})

	t.Run("tracks clients separately", func(t *testing.T) {
		t.Parallel()
		handler := newHandler(1)

		first := httptest.NewRecorder()
		handler.ServeHTTP(first, request("10.0.0.1:1", ""))
		second := httptest.NewRecorder()
		handler.ServeHTTP(second, request("10.0.0.2:1", ""))

		if first.Code != http.StatusOK || second.Code != http.StatusOK {
			t.Fatalf("expected independent buckets, got %d %d", first.Code, second.Code)
		}
	})

	t.Run("forwarded header from an untrusted peer is ignored", func(t *testing.T) {
		t.Parallel()
		handler := newHandler(2)

		for i, forwarded := range []string{"198.51.100.1", "198.51.100.2", "198.51.100.3"} {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, request("203.0.113.9:4000", forwarded))
			want := http.StatusOK
			if i == 2 {
				want = http.StatusTooManyRequests
			}
			if rec.Code != want {
				t.Fatalf("request %d with X-Forwarded-For %s: expected %d, got %d", i, forwarded, want, rec.Code)
			}
		}
	})

	t.Run("trusted proxy is keyed on the nearest untrusted hop", func(t *testing.T) {
		t.Parallel()
		handler := newHandler(1, netip.MustParsePrefix("10.0.0.0/8"))

		first := httptest.NewRecorder()
		handler.ServeHTTP(first, request("10.0.0.1:1", "203.0.113.5, 192.0.2.7, 10.0.0.2"))
		spoofed := httptest.NewRecorder()
		handler.ServeHTTP(spoofed, request("10.0.0.3:1", "203.0.113.6, 192.0.2.7"))
		other := httptest.NewRecorder()
		handler.ServeHTTP(other, request("10.0.0.1:1", "192.0.2.8"))

		if first.Code != http.StatusOK {
			t.Fatalf("expected first client to pass, got %d", first.Code)
		}
		if spoofed.Code != http.StatusTooManyRequests {
			t.Fatalf("expected rotated leftmost entry to share a bucket, got %d", spoofed.Code)
		}
		if other.Code != http.StatusOK {
			t.Fatalf("expected a different client behind the proxy to pass, got %d", other.Code)
		}
	})

	t.Run("non-positive rate disables limiting", func(t *testing.T) {
		t.Parallel()
		handler := newHandler(0)
		for i := 0; i < 5; i++ {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, request("10.0.0.1:1", ""))
			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rec.Code)
			}
		}
	})
}

func TestPendingNavigation(t *testing.T) {
	t.Parallel()

	pending := NewPendingNavigation()
	if pending.Take() != "" {
		t.Fatalf("expected empty slot")
	}
	pending.Navigate(context.Background(), "/login")
	pending.Navigate(context.Background(), "/maintenance")
	if got := pending.Take(); got != "/maintenance" {
		t.Fatalf("expected latest target, got %q", got)
	}
	if pending.Take() != "" {
		t.Fatalf("expected slot to be cleared")
	}
}

func TestClientIP(t *testing.T) {
	t.Parallel()

	trusted := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}
	cases := map[string]struct {
		remote    string
		forwarded string
		trusted   []netip.Prefix
		want      string
	}{
		"socket peer without proxies":         {remote: "192.0.2.1:80", forwarded: "198.51.100.1", want: "192.0.2.1"},
		"trusted peer without header":         {remote: "10.1.1.1:80", trusted: trusted, want: "10.1.1.1"},
		"all hops trusted falls back to left": {remote: "10.1.1.1:80", forwarded: "10.2.2.2, 10.3.3.3", trusted: trusted, want: "10.2.2.2"},
		"malformed hop stops the walk":        {remote: "10.1.1.1:80", forwarded: "192.0.2.9, bogus, 10.3.3.3", trusted: trusted, want: "10.3.3.3"},
		"ipv6 peer":                           {remote: "[2001:db8::1]:443", want: "2001:db8::1"},
		"unparseable remote address":          {remote: "pipe", want: "pipe"},
	}
	for name, tc := range cases {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remote
			if tc.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tc.forwarded)
			}
			if got := clientIP(req, tc.trusted); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}
