package application

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Navigation targets driven by the controller.
const (
	LoginRoute       = "/login"
	ExpiredRoute     = "/login?expired=1"
	MaintenanceRoute = "/maintenance"
)

// AuthAPI is the slice of the backend the controller talks to.
type AuthAPI interface {
	// Login exchanges credentials. Backend refusals are reported as *RejectedError.
	Login(ctx context.Context, email, password string) (TokenPair, error)
	// Me fetches the profile of accessToken's holder. A rejected token yields
	// an error matching ErrUnauthenticated.
	Me(ctx context.Context, accessToken string) (UserProfile, error)
}

// SessionStore is the durable token store.
type SessionStore interface {
	Save(ctx context.Context, session StoredSession) error
	Load(ctx context.Context) (StoredSession, error)
	Clear(ctx context.Context) error
}

// Navigator performs hard navigations: everything mounted is discarded and
// the target is loaded from scratch.
type Navigator interface {
	Navigate(ctx context.Context, target string)
}

// TransitionRecorder observes committed status changes.
type TransitionRecorder interface {
	SessionTransition(status, reason string)
}

// MaintenanceLocation builds the maintenance notice URL for flag.
func MaintenanceLocation(flag MaintenanceFlag) string {
	values := url.Values{}
	if flag.Message != "" {
		values.Set("message", flag.Message)
	}
	if flag.SupportContact != "" {
		values.Set("support", flag.SupportContact)
	}
	if len(values) == 0 {
		return MaintenanceRoute
	}
	return MaintenanceRoute + "?" + values.Encode()
}

// SessionController is the only writer of Session. Every mutation bumps a
// generation counter so that completions of work started under an older
// generation (slow logins, boot restore) are discarded.
type SessionController struct {
	auth      AuthAPI
	store     SessionStore
	navigator Navigator
	recorder  TransitionRecorder
	now       func() time.Time
	logger    *slog.Logger

	mu          sync.Mutex
	session     Session
	generation  uint64
	subscribers map[uint64]chan Session
	nextSubID   uint64

	readyOnce sync.Once
	ready     chan struct{}
}

// ControllerOption customises a SessionController.
type ControllerOption func(*SessionController)

// WithClock overrides the time source used for local token expiry checks.
func WithClock(now func() time.Time) ControllerOption {
	return func(c *SessionController) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the controller logger.
func WithLogger(logger *slog.Logger) ControllerOption {
	return func(c *SessionController) {
		c.logger = defaultLogger(logger)
	}
}

// WithTransitionRecorder reports committed status changes.
func WithTransitionRecorder(recorder TransitionRecorder) ControllerOption {
	return func(c *SessionController) { c.recorder = recorder }
}

// NewSessionController returns an anonymous, not yet ready controller.
func NewSessionController(auth AuthAPI, store SessionStore, navigator Navigator, opts ...ControllerOption) *SessionController {
	c := &SessionController{
		auth:        auth,
		store:       store,
		navigator:   navigator,
		now:         time.Now,
		logger:      slog.Default(),
		session:     AnonymousSession(),
		subscribers: make(map[uint64]chan Session),
		ready:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *SessionController) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, c.logger, "SessionController", operation, attrs...)
}

// Current returns a copy of the session.
func (c *SessionController) Current() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.clone()
}

// AccessToken returns the bearer token of a signed-in session, or "".
func (c *SessionController) AccessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.Status != StatusAuthenticated {
		return ""
	}
	return c.session.AccessToken
}

// IsReady reports whether boot restore has completed.
func (c *SessionController) IsReady() bool {
	select {
	case <-c.ready:
		return true
	default:
		return false
	}
}

// Ready is closed once boot restore has completed.
func (c *SessionController) Ready() <-chan struct{} {
	return c.ready
}

// Subscribe returns a channel that always holds the latest session. The
// current value is delivered immediately; intermediate values may be skipped.
// The channel is closed when ctx ends.
func (c *SessionController) Subscribe(ctx context.Context) <-chan Session {
	ch := make(chan Session, 1)

	c.mu.Lock()
	id := c.nextSubID
	c.nextSubID++
	c.subscribers[id] = ch
	ch <- c.session.clone()
	c.mu.Unlock()

	go func() {
		<-ctx.Done()
		c.mu.Lock()
		delete(c.subscribers, id)
		close(ch)
		c.mu.Unlock()
	}()
	return ch
}

// Login signs in with email and password. On success the session is
// authenticated and persisted, and the fetched profile is returned.
func (c *SessionController) Login(ctx context.Context, email, password string) (profile UserProfile, err error) {
	email = strings.ToLower(strings.TrimSpace(email))
	logger := c.loggerWith(ctx, "Login", "email", email)
	defer func() {
		if err != nil {
			logger.WarnContext(ctx, "login failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "login succeeded", "user_id", profile.ID, "role", profile.Role)
	}()

	if vErr := validateCredentials(email, password); vErr.HasErrors() {
		err = vErr
		return
	}

	c.mu.Lock()
	if c.session.Status == StatusAuthenticated {
		c.mu.Unlock()
		err = ErrAlreadyAuthenticated
		return
	}
	c.generation++
	generation := c.generation
	if c.session.Status != StatusAuthenticating {
		c.installLocked(Session{Status: StatusAuthenticating}, "login_started")
	}
	c.mu.Unlock()

	var pair TokenPair
	pair, err = c.auth.Login(ctx, email, password)
	if err == nil && (pair.AccessToken == "" || pair.RefreshToken == "") {
		err = fmt.Errorf("credential exchange returned an incomplete token pair")
	}
	if err != nil {
		err = c.abandonLogin(generation, newLoginError(err))
		return
	}

	var user UserProfile
	user, err = c.auth.Me(ctx, pair.AccessToken)
	if err == nil {
		user, err = normalizeProfile(user)
	}
	if err != nil {
		err = c.abandonLogin(generation, &LoginError{Reason: "Impossible de charger votre profil.", Err: err})
		return
	}

	c.mu.Lock()
	if generation != c.generation {
		c.mu.Unlock()
		err = ErrLoginSuperseded
		return
	}
	next := Session{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		User:         &user,
		Status:       StatusAuthenticated,
	}
	if err = c.commitLocked(next, "login"); err != nil {
		c.mu.Unlock()
		err = &LoginError{Reason: "Impossible de charger votre profil.", Err: err}
		return
	}
	c.saveLocked(ctx, logger, next)
	c.mu.Unlock()

	profile = user
	return
}

// abandonLogin resets a still-current attempt to anonymous. Stale attempts
// leave the session alone and report ErrLoginSuperseded.
func (c *SessionController) abandonLogin(generation uint64, cause error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if generation != c.generation {
		return ErrLoginSuperseded
	}
	c.installLocked(AnonymousSession(), "login_failed")
	return cause
}

// Logout purges the store, resets the session and hard-navigates to the
// login view. It never touches the network and is safe from any state.
func (c *SessionController) Logout(ctx context.Context) {
	c.terminate(ctx, "logout", LoginRoute, false)
}

// Expire reacts to the backend rejecting the session's token. It behaves
// like Logout on a signed-in session and does nothing otherwise.
func (c *SessionController) Expire(ctx context.Context) {
	c.terminate(ctx, "expired", ExpiredRoute, true)
}

// Interrupt ends a signed-in non-owner session because the platform entered
// maintenance, then shows the maintenance notice. It reports whether the
// session was terminated; owners and signed-out sessions are left alone.
func (c *SessionController) Interrupt(ctx context.Context, flag MaintenanceFlag) bool {
	logger := c.loggerWith(ctx, "Interrupt")

	c.mu.Lock()
	if status := c.session.Status; status != StatusAuthenticated || c.session.Role() == RoleOwner {
		c.mu.Unlock()
		logger.DebugContext(ctx, "maintenance interrupt ignored", "status", status)
		return false
	}
	c.generation++
	c.clearLocked(ctx, logger)
	c.installLocked(AnonymousSession(), "maintenance")
	c.mu.Unlock()

	logger.InfoContext(ctx, "session terminated for maintenance")
	c.navigate(ctx, MaintenanceLocation(flag))
	return true
}

func (c *SessionController) terminate(ctx context.Context, reason, target string, onlyAuthenticated bool) {
	logger := c.loggerWith(ctx, "Terminate", "reason", reason)

	c.mu.Lock()
	previous := c.session.Status
	if onlyAuthenticated && previous != StatusAuthenticated {
		c.mu.Unlock()
		return
	}
	c.generation++
	c.clearLocked(ctx, logger)
	c.installLocked(AnonymousSession(), reason)
	c.mu.Unlock()

	logger.InfoContext(ctx, "session reset", "previous_status", previous)
	c.navigate(ctx, target)
}

// Restore rebuilds the session from the token store at boot and marks the
// controller ready. Any failure ends anonymous with the store cleared.
func (c *SessionController) Restore(ctx context.Context) Session {
	defer c.readyOnce.Do(func() { close(c.ready) })
	logger := c.loggerWith(ctx, "Restore")

	c.mu.Lock()
	generation := c.generation
	c.mu.Unlock()

	stored, err := c.store.Load(ctx)
	if err != nil {
		logger.WarnContext(ctx, "token store unreadable, starting anonymous", "error", err)
		c.discardStored(ctx, logger, generation)
		return c.Current()
	}
	if stored.IsEmpty() {
		logger.DebugContext(ctx, "no persisted session")
		return c.Current()
	}

	c.adopt(ctx, logger, generation, stored, "restore")
	return c.Current()
}

// Reconcile brings the in-memory session in line with a token store that
// another process or tab changed. It is a no-op before boot restore completes
// and while a login is in flight.
func (c *SessionController) Reconcile(ctx context.Context) {
	if !c.IsReady() {
		return
	}
	logger := c.loggerWith(ctx, "Reconcile")

	stored, err := c.store.Load(ctx)
	if err != nil {
		logger.WarnContext(ctx, "token store unreadable, keeping session", "error", err)
		return
	}

	c.mu.Lock()
	current := c.session
	generation := c.generation
	switch {
	case current.Status == StatusAuthenticating:
		c.mu.Unlock()
		return
	case current.Status == StatusAuthenticated && !stored.HasTokens():
		c.generation++
		if !stored.IsEmpty() {
			c.clearLocked(ctx, logger)
		}
		c.installLocked(AnonymousSession(), "signed_out_elsewhere")
		c.mu.Unlock()
		logger.InfoContext(ctx, "session ended by another process")
		c.navigate(ctx, LoginRoute)
		return
	case stored.HasTokens() && (current.Status == StatusAnonymous ||
		stored.AccessToken != current.AccessToken || stored.RefreshToken != current.RefreshToken):
		c.mu.Unlock()
		logger.InfoContext(ctx, "adopting session written by another process")
		if !c.adopt(ctx, logger, generation, stored, "signed_in_elsewhere") && current.Status == StatusAuthenticated {
			c.navigate(ctx, LoginRoute)
		}
		return
	default:
		c.mu.Unlock()
	}
}

// adopt validates stored tokens against the backend and commits the result
// unless the generation moved on meanwhile. It reports whether the session
// ended authenticated.
func (c *SessionController) adopt(ctx context.Context, logger *slog.Logger, generation uint64, stored StoredSession, reason string) bool {
	if !stored.HasTokens() {
		logger.WarnContext(ctx, "persisted session incomplete, clearing")
		c.discardStored(ctx, logger, generation)
		return false
	}
	if tokenExpired(stored.AccessToken, c.now()) {
		logger.InfoContext(ctx, "persisted access token expired, clearing")
		c.discardStored(ctx, logger, generation)
		return false
	}

	user, err := c.auth.Me(ctx, stored.AccessToken)
	if err == nil {
		user, err = normalizeProfile(user)
	}
	if err != nil {
		logger.InfoContext(ctx, "persisted session rejected", "error", err, "error_kind", ErrorKind(err))
		c.discardStored(ctx, logger, generation)
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if generation != c.generation {
		logger.DebugContext(ctx, "session changed during validation, discarding result")
		return c.session.Status == StatusAuthenticated
	}
	c.generation++
	next := Session{
		AccessToken:  stored.AccessToken,
		RefreshToken: stored.RefreshToken,
		User:         &user,
		Status:       StatusAuthenticated,
	}
	if err := c.commitLocked(next, reason); err != nil {
		logger.WarnContext(ctx, "persisted session inconsistent, clearing", "error", err, "error_kind", ErrorKind(err))
		c.clearLocked(ctx, logger)
		return false
	}
	c.saveLocked(ctx, logger, next)
	logger.InfoContext(ctx, "session restored", "user_id", user.ID, "role", user.Role)
	return true
}

// discardStored clears the store and resets to anonymous when no other
// mutation happened since generation was read.
func (c *SessionController) discardStored(ctx context.Context, logger *slog.Logger, generation uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if generation != c.generation {
		return
	}
	c.generation++
	c.clearLocked(ctx, logger)
	c.installLocked(AnonymousSession(), "restore_failed")
}

// commitLocked installs next and notifies subscribers. A session that breaks
// its own invariants is refused: the controller falls back to anonymous and
// ErrInconsistentSession is returned. c.mu must be held.
func (c *SessionController) commitLocked(next Session, reason string) error {
	if err := next.Validate(); err != nil {
		c.installLocked(AnonymousSession(), "inconsistent")
		return fmt.Errorf("%w: %v", ErrInconsistentSession, err)
	}
	c.installLocked(next, reason)
	return nil
}

// installLocked is commitLocked for sessions that are valid by construction.
func (c *SessionController) installLocked(next Session, reason string) {
	previous := c.session.Status
	c.session = next
	if previous != next.Status && c.recorder != nil {
		c.recorder.SessionTransition(string(next.Status), reason)
	}
	for _, ch := range c.subscribers {
		select {
		case <-ch:
		default:
		}
		ch <- next.clone()
	}
}

// saveLocked persists an authenticated session. Failures degrade to an
// in-memory only session. c.mu must be held.
func (c *SessionController) saveLocked(ctx context.Context, logger *slog.Logger, session Session) {
	if c.store == nil {
		return
	}
	err := c.store.Save(ctx, StoredSession{
		AccessToken:     session.AccessToken,
		RefreshToken:    session.RefreshToken,
		User:            session.clone().User,
		IsAuthenticated: true,
	})
	if err != nil {
		logger.WarnContext(ctx, "failed to persist session", "error", err)
	}
}

// clearLocked purges the store, logging failures. c.mu must be held.
func (c *SessionController) clearLocked(ctx context.Context, logger *slog.Logger) {
	if c.store == nil {
		return
	}
	if err := c.store.Clear(ctx); err != nil {
		logger.WarnContext(ctx, "failed to clear token store", "error", err)
	}
}

func (c *SessionController) navigate(ctx context.Context, target string) {
	if c.navigator != nil {
		c.navigator.Navigate(ctx, target)
	}
}

func validateCredentials(email, password string) *ValidationError {
	vErr := &ValidationError{}
	if email == "" {
		vErr.add("email", "email is required")
	} else if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		vErr.add("email", "email is invalid")
	}
	if password == "" {
		vErr.add("password", "password is required")
	}
	return vErr
}

func normalizeProfile(user UserProfile) (UserProfile, error) {
	role, ok := ParseRole(string(user.Role))
	if !ok {
		return UserProfile{}, fmt.Errorf("%w: unknown role %q", ErrInvalidProfile, user.Role)
	}
	if strings.TrimSpace(user.ID) == "" {
		return UserProfile{}, fmt.Errorf("%w: missing id", ErrInvalidProfile)
	}
	user.Role = role
	return user, nil
}
