package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/example/hr-portal/internal/obs"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, handler http.Handler, opts ...Option) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	opts = append([]Option{WithLogger(quietLogger()), WithMetrics(obs.NewMetrics(prometheus.NewRegistry()))}, opts...)
	client, err := New(server.URL+"/api/", opts...)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return client
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func TestNewValidatesBaseURL(t *testing.T) {
	for _, raw := range []string{"", "ftp://example.com", "::bad"} {
		if _, err := New(raw); err == nil {
			t.Fatalf("expected error for base URL %q", raw)
		}
	}
}

func TestClient_AttachesCredentials(t *testing.T) {
	t.Run("ambient token and request id are sent", func(t *testing.T) {
		var gotAuth, gotRequestID, gotPath string
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			gotRequestID = r.Header.Get("X-Request-ID")
			gotPath = r.URL.Path
			writeJSON(w, http.StatusOK, Profile{ID: "u-1", Role: "rh"})
		}),
			WithTokenSource(TokenSourceFunc(func() string { return "ambient" })),
			WithRequestIDGenerator(func() string { return "req-1" }),
		)

		profile, err := client.Me(context.Background())
		if err != nil {
			t.Fatalf("Me returned error: %v", err)
		}
		if profile.Role != "rh" {
			t.Fatalf("unexpected profile: %+v", profile)
		}
		if gotAuth != "Bearer ambient" {
			t.Fatalf("expected ambient bearer, got %q", gotAuth)
		}
		if gotRequestID != "req-1" {
			t.Fatalf("expected request id, got %q", gotRequestID)
		}
		if gotPath != "/api/auth/me" {
			t.Fatalf("expected base path to be kept, got %q", gotPath)
		}
	})

	t.Run("explicit token overrides the source", func(t *testing.T) {
		var gotAuth string
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			writeJSON(w, http.StatusOK, Profile{ID: "u-1"})
		}), WithTokenSource(TokenSourceFunc(func() string { return "ambient" })))

		if _, err := client.Me(WithAccessToken(context.Background(), "explicit")); err != nil {
			t.Fatalf("Me returned error: %v", err)
		}
		if gotAuth != "Bearer explicit" {
			t.Fatalf("expected explicit bearer, got %q", gotAuth)
		}
	})

	t.Run("no header without a token", func(t *testing.T) {
		var present bool
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, present = r.Header["Authorization"]
			writeJSON(w, http.StatusOK, PlatformConfig{})
		}), WithTokenSource(TokenSourceFunc(func() string { return "" })))

		if _, err := client.PlatformConfig(context.Background()); err != nil {
			t.Fatalf("PlatformConfig returned error: %v", err)
		}
		if present {
			t.Fatalf("expected no Authorization header")
		}
	})
}

func TestClient_Unauthenticated(t *testing.T) {
	unauthorized := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "token expired"})
	})

	t.Run("ambient token rejection signals the handler", func(t *testing.T) {
		var signals atomic.Int32
		client := newTestClient(t, unauthorized,
			WithTokenSource(TokenSourceFunc(func() string { return "stale" })),
			WithUnauthenticatedHandler(func(context.Context) { signals.Add(1) }),
		)

		_, err := client.Me(context.Background())
		if !errors.Is(err, ErrUnauthenticated) {
			t.Fatalf("expected ErrUnauthenticated, got %v", err)
		}
		apiErr, ok := AsAPIError(err)
		if !ok || apiErr.Message != "token expired" {
			t.Fatalf("expected server message, got %+v", apiErr)
		}
		if signals.Load() != 1 {
			t.Fatalf("expected one signal, got %d", signals.Load())
		}
	})

	t.Run("explicit token rejection does not signal", func(t *testing.T) {
		var signals atomic.Int32
		client := newTestClient(t, unauthorized,
			WithTokenSource(TokenSourceFunc(func() string { return "stale" })),
			WithUnauthenticatedHandler(func(context.Context) { signals.Add(1) }),
		)

		_, err := client.Me(WithAccessToken(context.Background(), "candidate"))
		if !errors.Is(err, ErrUnauthenticated) {
			t.Fatalf("expected ErrUnauthenticated, got %v", err)
		}
		if signals.Load() != 0 {
			t.Fatalf("expected no signal, got %d", signals.Load())
		}
	})

	t.Run("login rejection carries reason and never signals", func(t *testing.T) {
		var signals atomic.Int32
		var authHeader string
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader = r.Header.Get("Authorization")
			var body loginRequest
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body.Email != "a@b.com" || body.Password != "wrong" {
				t.Errorf("unexpected login body: %+v", body)
			}
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Identifiants invalides"})
		}),
			WithTokenSource(TokenSourceFunc(func() string { return "leftover" })),
			WithUnauthenticatedHandler(func(context.Context) { signals.Add(1) }),
		)

		_, err := client.Login(context.Background(), "a@b.com", "wrong")
		apiErr, ok := AsAPIError(err)
		if !ok || apiErr.Status != http.StatusUnauthorized || apiErr.Message != "Identifiants invalides" {
			t.Fatalf("unexpected error: %v", err)
		}
		if authHeader != "" {
			t.Fatalf("expected no bearer on credential exchange, got %q", authHeader)
		}
		if signals.Load() != 0 {
			t.Fatalf("expected no signal for credential exchange")
		}
	})
}

func TestClient_OtherFailures(t *testing.T) {
	t.Run("server error keeps status and message", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"message": "backend down", "code": "UNAVAILABLE"})
		}))

		_, err := client.PlatformConfig(context.Background())
		apiErr, ok := AsAPIError(err)
		if !ok {
			t.Fatalf("expected APIError, got %v", err)
		}
		if apiErr.Status != http.StatusServiceUnavailable || apiErr.Message != "backend down" || apiErr.Code != "UNAVAILABLE" {
			t.Fatalf("unexpected APIError: %+v", apiErr)
		}
		if errors.Is(err, ErrUnauthenticated) {
			t.Fatalf("503 must not match ErrUnauthenticated")
		}
	})

	t.Run("status text is used without a body", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		_, err := client.Me(context.Background())
		apiErr, ok := AsAPIError(err)
		if !ok || apiErr.Message != http.StatusText(http.StatusForbidden) {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("transport timeout is returned as is", func(t *testing.T) {
		release := make(chan struct{})
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}), WithTimeout(50*time.Millisecond))
		defer close(release)

		_, err := client.PlatformConfig(context.Background())
		if err == nil {
			t.Fatalf("expected timeout error")
		}
		if _, ok := AsAPIError(err); ok {
			t.Fatalf("transport failures must not be APIError: %v", err)
		}
	})

	t.Run("login response without tokens is rejected", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, TokenPair{AccessToken: "only-access"})
		}))
		if _, err := client.Login(context.Background(), "a@b.com", "secret"); err == nil {
			t.Fatalf("expected error for incomplete token pair")
		}
	})
}

func TestClient_RegisterCompany(t *testing.T) {
	var got RegisterCompanyRequest
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/company/register" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
	}))

	req := RegisterCompanyRequest{CompanyName: "Acme", AdminEmail: "admin@acme.fr", AdminPassword: "pw"}
	if err := client.RegisterCompany(context.Background(), req); err != nil {
		t.Fatalf("RegisterCompany returned error: %v", err)
	}
	if got != req {
		t.Fatalf("unexpected body: %+v", got)
	}
}
