package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/hr-portal/internal/application"
	"github.com/example/hr-portal/internal/config"
	"github.com/example/hr-portal/internal/gateway"
	httptransport "github.com/example/hr-portal/internal/http"
	"github.com/example/hr-portal/internal/logging"
	"github.com/example/hr-portal/internal/obs"
	"github.com/example/hr-portal/internal/persistence"
	"github.com/example/hr-portal/internal/persistence/file"
	"github.com/example/hr-portal/internal/persistence/memory"
	redisstore "github.com/example/hr-portal/internal/persistence/redis"
	"github.com/example/hr-portal/internal/persistence/sqlite"
)

func main() {
	logger := logging.NewJSONLogger(os.Stdout, slog.LevelInfo)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger = logging.NewJSONLogger(os.Stdout, cfg.LogLevel)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("portal stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	portal, err := newApp(ctx, cfg, logger, obs.Default())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := portal.Close(); cerr != nil {
			logger.Error("failed to close token store", "error", cerr)
		}
	}()

	portal.start(ctx)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           portal.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to shutdown server", "error", err)
		}
	}()

	logger.Info("portal listening", "addr", server.Addr, "api_base_url", cfg.APIBaseURL, "token_store", cfg.TokenStore)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	portal.wait()
	return nil
}

type tokenBackend interface {
	persistence.KV
	Close() error
}

type watchFunc func(ctx context.Context, onChange func(context.Context)) error

// app holds the wired session core and the HTTP surface in front of it.
type app struct {
	controller *application.SessionController
	monitor    *application.MaintenanceMonitor
	handler    http.Handler
	backend    tokenBackend
	watch      watchFunc
	logger     *slog.Logger
	done       chan struct{}
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger, metrics *obs.Metrics) (*app, error) {
	backend, watch, err := openTokenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	client, err := gateway.New(cfg.APIBaseURL,
		gateway.WithTimeout(cfg.RequestTimeout),
		gateway.WithLogger(logger),
		gateway.WithMetrics(metrics),
	)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	pending := httptransport.NewPendingNavigation()
	controller := application.NewSessionController(
		newAuthAPIAdapter(client),
		newSessionStoreAdapter(persistence.NewTokenStore(backend)),
		pending,
		application.WithLogger(logger),
		application.WithTransitionRecorder(metrics),
	)
	client.SetTokenSource(gateway.TokenSourceFunc(controller.AccessToken))
	client.SetUnauthenticatedHandler(controller.Expire)

	monitor := application.NewMaintenanceMonitor(controller, newPlatformAdapter(client),
		application.WithInterval(cfg.MaintenanceInterval),
		application.WithPollRecorder(metrics),
		application.WithMonitorLogger(logger),
	)

	router := httptransport.NewRouter(httptransport.RouterConfig{
		Sessions:     httptransport.NewSessionHandler(controller, nil, pending, logger),
		Registration: httptransport.NewRegistrationHandler(client, logger),
		Metrics:      obs.Handler(),
		LoginLimiter: httptransport.RateLimit(cfg.LoginRatePerMinute, logger, cfg.TrustedProxies...),
		Middleware: []func(http.Handler) http.Handler{
			httptransport.RequestLogger(logger),
			metrics.Instrument,
		},
	})

	return &app{
		controller: controller,
		monitor:    monitor,
		handler:    router,
		backend:    backend,
		watch:      watch,
		logger:     logger,
		done:       make(chan struct{}),
	}, nil
}

// start restores the persisted session and launches the background loops.
// They stop when ctx ends.
func (a *app) start(ctx context.Context) {
	go a.controller.Restore(ctx)

	if a.watch != nil {
		go func() {
			if err := a.watch(ctx, a.controller.Reconcile); err != nil {
				a.logger.Error("token store watcher stopped", "error", err)
			}
		}()
	}

	go func() {
		defer close(a.done)
		if err := a.monitor.Run(ctx); err != nil {
			a.logger.Error("maintenance monitor stopped", "error", err)
		}
	}()
}

// wait blocks until the maintenance monitor has returned.
func (a *app) wait() {
	<-a.done
}

// Close releases the token store backend.
func (a *app) Close() error {
	return a.backend.Close()
}

func openTokenStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (tokenBackend, watchFunc, error) {
	switch cfg.TokenStore {
	case config.StoreSQLite:
		store, err := sqlite.Open(cfg.SQLiteDSN, sqlite.WithLogger(logger))
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite token store: %w", err)
		}
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, nil, fmt.Errorf("migrate sqlite token store: %w", err)
		}
		return store, nil, nil
	case config.StoreFile:
		store, err := file.New(cfg.StateFile, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("open file token store: %w", err)
		}
		return store, store.Watch, nil
	case config.StoreRedis:
		client, err := redisstore.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis token store: %w", err)
		}
		store, err := redisstore.New(redisstore.Config{Client: client, KeyPrefix: cfg.RedisKeyPrefix})
		if err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("open redis token store: %w", err)
		}
		return store, nil, nil
	case config.StoreMemory:
		return memory.New(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported token store %q", cfg.TokenStore)
	}
}
