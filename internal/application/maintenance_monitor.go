package application

import (
	"context"
	"log/slog"
	"time"
)

// DefaultMaintenanceInterval is the polling period of the maintenance monitor.
const DefaultMaintenanceInterval = 10 * time.Second

// PlatformAPI reads the platform-wide maintenance state.
type PlatformAPI interface {
	MaintenanceStatus(ctx context.Context) (MaintenanceFlag, error)
}

// SessionSource is the part of the controller the monitor depends on.
type SessionSource interface {
	Subscribe(ctx context.Context) <-chan Session
	Interrupt(ctx context.Context, flag MaintenanceFlag) bool
}

// Ticker delivers poll ticks.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory creates a ticker firing every interval.
type TickerFactory func(interval time.Duration) Ticker

// PollRecorder observes poll outcomes.
type PollRecorder interface {
	MaintenancePoll(outcome string)
}

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

// NewTimeTicker wraps time.NewTicker.
func NewTimeTicker(interval time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(interval)}
}

// MaintenanceMonitor terminates signed-in non-owner sessions once the
// platform reports maintenance. It polls only while such a session exists.
type MaintenanceMonitor struct {
	sessions  SessionSource
	platform  PlatformAPI
	interval  time.Duration
	newTicker TickerFactory
	recorder  PollRecorder
	logger    *slog.Logger
}

// MonitorOption customises a MaintenanceMonitor.
type MonitorOption func(*MaintenanceMonitor)

// WithInterval sets the polling period.
func WithInterval(interval time.Duration) MonitorOption {
	return func(m *MaintenanceMonitor) {
		if interval > 0 {
			m.interval = interval
		}
	}
}

// WithTickerFactory replaces the ticker source.
func WithTickerFactory(factory TickerFactory) MonitorOption {
	return func(m *MaintenanceMonitor) {
		if factory != nil {
			m.newTicker = factory
		}
	}
}

// WithPollRecorder reports poll outcomes.
func WithPollRecorder(recorder PollRecorder) MonitorOption {
	return func(m *MaintenanceMonitor) { m.recorder = recorder }
}

// WithMonitorLogger sets the monitor logger.
func WithMonitorLogger(logger *slog.Logger) MonitorOption {
	return func(m *MaintenanceMonitor) { m.logger = defaultLogger(logger) }
}

// NewMaintenanceMonitor builds a monitor. Call Run to start it.
func NewMaintenanceMonitor(sessions SessionSource, platform PlatformAPI, opts ...MonitorOption) *MaintenanceMonitor {
	m := &MaintenanceMonitor{
		sessions:  sessions,
		platform:  platform,
		interval:  DefaultMaintenanceInterval,
		newTicker: NewTimeTicker,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run follows session changes until ctx ends. Whenever the session becomes
// signed-in and non-owner a poll loop starts with an immediate poll; as soon
// as that stops being true the loop is cancelled and has exited before the
// next session change is examined.
func (m *MaintenanceMonitor) Run(ctx context.Context) error {
	logger := serviceLogger(ctx, m.logger, "MaintenanceMonitor", "Run")
	updates := m.sessions.Subscribe(ctx)

	var (
		cancelLoop context.CancelFunc
		loopDone   chan struct{}
		loopToken  string
	)
	stop := func() {
		if cancelLoop == nil {
			return
		}
		cancelLoop()
		<-loopDone
		cancelLoop, loopDone, loopToken = nil, nil, ""
		logger.DebugContext(ctx, "maintenance polling stopped")
	}
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case session, ok := <-updates:
			if !ok {
				return nil
			}
			eligible := session.IsAuthenticated() && session.Role() != RoleOwner
			if eligible && cancelLoop != nil && loopToken == session.AccessToken {
				continue
			}
			stop()
			if !eligible {
				continue
			}

			loopCtx, cancel := context.WithCancel(ctx)
			done := make(chan struct{})
			cancelLoop, loopDone, loopToken = cancel, done, session.AccessToken
			logger.DebugContext(ctx, "maintenance polling started", "role", session.Role(), "interval", m.interval)
			go func() {
				defer close(done)
				m.poll(loopCtx, logger)
			}()
		}
	}
}

func (m *MaintenanceMonitor) poll(ctx context.Context, logger *slog.Logger) {
	ticker := m.newTicker(m.interval)
	defer ticker.Stop()

	if m.check(ctx, logger) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			if m.check(ctx, logger) {
				return
			}
		}
	}
}

// check polls once and reports whether the session was interrupted.
func (m *MaintenanceMonitor) check(ctx context.Context, logger *slog.Logger) bool {
	flag, err := m.platform.MaintenanceStatus(ctx)
	if ctx.Err() != nil {
		return true
	}
	if err != nil {
		m.record("error")
		logger.WarnContext(ctx, "maintenance poll failed", "error", err)
		return false
	}
	if !flag.Active {
		m.record("inactive")
		return false
	}

	m.record("active")
	logger.InfoContext(ctx, "platform in maintenance", "message", flag.Message)
	// The interrupt must complete even if this loop is being cancelled.
	return m.sessions.Interrupt(context.WithoutCancel(ctx), flag)
}

func (m *MaintenanceMonitor) record(outcome string) {
	if m.recorder != nil {
		m.recorder.MaintenancePoll(outcome)
	}
}
