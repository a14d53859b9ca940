package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/example/hr-portal/internal/application"
	"github.com/example/hr-portal/internal/config"
	"github.com/example/hr-portal/internal/gateway"
	"github.com/example/hr-portal/internal/obs"
	"github.com/example/hr-portal/internal/testfixtures"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(backend *testfixtures.FakeBackend, store string) config.Config {
	return config.Config{
		APIBaseURL:          backend.URL(),
		HTTPPort:            0,
		RequestTimeout:      5 * time.Second,
		MaintenanceInterval: time.Hour,
		TokenStore:          store,
		LogLevel:            slog.LevelDebug,
		LoginRatePerMinute:  100,
	}
}

// startApp builds and starts a portal whose background loops end with the test.
func startApp(t *testing.T, cfg config.Config) (*app, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	portal, err := newApp(ctx, cfg, quietLogger(), obs.NewMetrics(nil))
	if err != nil {
		cancel()
		t.Fatalf("newApp returned error: %v", err)
	}
	portal.start(ctx)

	stopped := false
	stop := func() {
		if stopped {
			return
		}
		stopped = true
		cancel()
		portal.wait()
		if err := portal.Close(); err != nil {
			t.Errorf("Close returned error: %v", err)
		}
	}
	t.Cleanup(stop)

	select {
	case <-portal.controller.Ready():
	case <-time.After(2 * time.Second):
		t.Fatalf("restore did not complete")
	}
	return portal, stop
}

func postLogin(t *testing.T, handler http.Handler, email, password string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPortal_SessionSurvivesRestart(t *testing.T) {
	backend := testfixtures.NewFakeBackend(t)
	backend.AddAccount(t, "a@b.com", "secret", "rh")

	cfg := testConfig(backend, config.StoreSQLite)
	cfg.SQLiteDSN = filepath.Join(t.TempDir(), "portal.db")

	first, stopFirst := startApp(t, cfg)
	rec := postLogin(t, first.handler, "a@b.com", "secret")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var payload struct {
		Location string `json:"location"`
		User     struct {
			Role string `json:"role"`
		} `json:"user"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Location != application.DashboardRoute || payload.User.Role != "rh" {
		t.Fatalf("unexpected login response %+v", payload)
	}
	stopFirst()

	second, _ := startApp(t, cfg)
	session := second.controller.Current()
	if session.Status != application.StatusAuthenticated {
		t.Fatalf("expected restored session, got %s", session.Status)
	}
	if session.User == nil || session.User.Email != "a@b.com" || session.User.Role != application.RoleRH {
		t.Fatalf("unexpected restored user %+v", session.User)
	}
	if got := backend.Calls(testfixtures.LoginPath); got != 1 {
		t.Fatalf("expected restore without a new login, got %d login calls", got)
	}
}

func TestPortal_RejectedAmbientTokenExpiresSession(t *testing.T) {
	backend := testfixtures.NewFakeBackend(t)
	backend.AddAccount(t, "a@b.com", "secret", "manager")
	backend.FailNext(testfixtures.PlatformConfigPath, testfixtures.Failure{Status: http.StatusUnauthorized, Message: "Session expirée"})

	portal, _ := startApp(t, testConfig(backend, config.StoreMemory))
	if rec := postLogin(t, portal.handler, "a@b.com", "secret"); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	waitFor(t, "session expiry", func() bool {
		return portal.controller.Current().Status == application.StatusAnonymous
	})

	req := httptest.NewRequest(http.MethodGet, "/session", nil)
	rec := httptest.NewRecorder()
	portal.handler.ServeHTTP(rec, req)
	var payload struct {
		Status     string `json:"status"`
		NavigateTo string `json:"navigate_to"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Status != string(application.StatusAnonymous) || payload.NavigateTo != application.ExpiredRoute {
		t.Fatalf("unexpected session payload %+v", payload)
	}
}

func TestAuthAPIAdapter(t *testing.T) {
	backend := testfixtures.NewFakeBackend(t)
	backend.AddAccount(t, "a@b.com", "secret", "employe")
	client, err := gateway.New(backend.URL(), gateway.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("gateway.New returned error: %v", err)
	}
	adapter := newAuthAPIAdapter(client)
	ctx := context.Background()

	t.Run("refused credentials carry the backend reason", func(t *testing.T) {
		_, err := adapter.Login(ctx, "a@b.com", "wrong")
		var rejected *application.RejectedError
		if !errors.As(err, &rejected) {
			t.Fatalf("expected RejectedError, got %v", err)
		}
		if rejected.Status != http.StatusUnauthorized || rejected.Reason != application.DefaultInvalidCredentialsMessage {
			t.Fatalf("unexpected rejection %+v", rejected)
		}
	})

	t.Run("refusal without a reason leaves it empty", func(t *testing.T) {
		backend.FailNext(testfixtures.LoginPath, testfixtures.Failure{Status: http.StatusForbidden})
		_, err := adapter.Login(ctx, "a@b.com", "secret")
		var rejected *application.RejectedError
		if !errors.As(err, &rejected) || rejected.Reason != "" {
			t.Fatalf("expected reasonless rejection, got %v", err)
		}
	})

	t.Run("server failures are not refusals", func(t *testing.T) {
		backend.FailNext(testfixtures.LoginPath, testfixtures.Failure{Status: http.StatusBadGateway, Message: "upstream"})
		_, err := adapter.Login(ctx, "a@b.com", "secret")
		var rejected *application.RejectedError
		if err == nil || errors.As(err, &rejected) {
			t.Fatalf("expected transport error, got %v", err)
		}
	})

	t.Run("profile is mapped for a valid token", func(t *testing.T) {
		pair, err := adapter.Login(ctx, "a@b.com", "secret")
		if err != nil {
			t.Fatalf("Login returned error: %v", err)
		}
		profile, err := adapter.Me(ctx, pair.AccessToken)
		if err != nil {
			t.Fatalf("Me returned error: %v", err)
		}
		if profile.Email != "a@b.com" || profile.Role != application.RoleEmploye {
			t.Fatalf("unexpected profile %+v", profile)
		}

		backend.Revoke(pair.AccessToken)
		if _, err := adapter.Me(ctx, pair.AccessToken); !errors.Is(err, application.ErrUnauthenticated) {
			t.Fatalf("expected ErrUnauthenticated, got %v", err)
		}
	})
}

func TestPlatformAdapter(t *testing.T) {
	backend := testfixtures.NewFakeBackend(t)
	backend.SetMaintenance(true, "Mise à jour", "support@example.com")
	client, err := gateway.New(backend.URL(), gateway.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("gateway.New returned error: %v", err)
	}

	flag, err := newPlatformAdapter(client).MaintenanceStatus(context.Background())
	if err != nil {
		t.Fatalf("MaintenanceStatus returned error: %v", err)
	}
	want := application.MaintenanceFlag{Active: true, Message: "Mise à jour", SupportContact: "support@example.com"}
	if flag != want {
		t.Fatalf("expected %+v, got %+v", want, flag)
	}
}

func TestOpenTokenStore(t *testing.T) {
	ctx := context.Background()
	logger := quietLogger()

	t.Run("file store is watched", func(t *testing.T) {
		cfg := config.Config{TokenStore: config.StoreFile, StateFile: filepath.Join(t.TempDir(), "session.json")}
		backend, watch, err := openTokenStore(ctx, cfg, logger)
		if err != nil {
			t.Fatalf("openTokenStore returned error: %v", err)
		}
		defer backend.Close()
		if watch == nil {
			t.Fatalf("expected a watcher for the file store")
		}
	})

	t.Run("sqlite store is migrated", func(t *testing.T) {
		cfg := config.Config{TokenStore: config.StoreSQLite, SQLiteDSN: filepath.Join(t.TempDir(), "portal.db")}
		backend, watch, err := openTokenStore(ctx, cfg, logger)
		if err != nil {
			t.Fatalf("openTokenStore returned error: %v", err)
		}
		defer backend.Close()
		if watch != nil {
			t.Fatalf("expected no watcher for sqlite")
		}
		if err := backend.Put(ctx, map[string]string{"access_token": "a"}); err != nil {
			t.Fatalf("expected migrated schema, got %v", err)
		}
	})

	t.Run("unknown store is rejected", func(t *testing.T) {
		if _, _, err := openTokenStore(ctx, config.Config{TokenStore: "etcd"}, logger); err == nil {
			t.Fatalf("expected error for unknown store")
		}
	})
}
