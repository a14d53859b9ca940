package application

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type authStub struct {
	mu         sync.Mutex
	loginFn    func(ctx context.Context, email, password string) (TokenPair, error)
	meFn       func(ctx context.Context, accessToken string) (UserProfile, error)
	loginCalls int
	meCalls    []string
}

func (s *authStub) Login(ctx context.Context, email, password string) (TokenPair, error) {
	s.mu.Lock()
	s.loginCalls++
	fn := s.loginFn
	s.mu.Unlock()
	if fn == nil {
		return TokenPair{}, errors.New("login not stubbed")
	}
	return fn(ctx, email, password)
}

func (s *authStub) Me(ctx context.Context, accessToken string) (UserProfile, error) {
	s.mu.Lock()
	s.meCalls = append(s.meCalls, accessToken)
	fn := s.meFn
	s.mu.Unlock()
	if fn == nil {
		return UserProfile{}, errors.New("me not stubbed")
	}
	return fn(ctx, accessToken)
}

func (s *authStub) logins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loginCalls
}

func (s *authStub) meCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.meCalls)
}

func fixedLogin(pair TokenPair) func(context.Context, string, string) (TokenPair, error) {
	return func(context.Context, string, string) (TokenPair, error) { return pair, nil }
}

func fixedMe(profile UserProfile) func(context.Context, string) (UserProfile, error) {
	return func(context.Context, string) (UserProfile, error) { return profile, nil }
}

type storeStub struct {
	mu       sync.Mutex
	stored   StoredSession
	loadErr  error
	saveErr  error
	clearErr error
	saves    int
	clears   int
}

func (s *storeStub) Save(_ context.Context, session StoredSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.saveErr != nil {
		return s.saveErr
	}
	s.stored = session
	return nil
}

func (s *storeStub) Load(context.Context) (StoredSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return StoredSession{}, s.loadErr
	}
	return s.stored, nil
}

func (s *storeStub) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clears++
	if s.clearErr != nil {
		return s.clearErr
	}
	s.stored = StoredSession{}
	return nil
}

func (s *storeStub) snapshot() StoredSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stored
}

func (s *storeStub) put(session StoredSession) {
	s.mu.Lock()
	s.stored = session
	s.mu.Unlock()
}

type navigatorStub struct {
	mu      sync.Mutex
	targets []string
}

func (n *navigatorStub) Navigate(_ context.Context, target string) {
	n.mu.Lock()
	n.targets = append(n.targets, target)
	n.mu.Unlock()
}

func (n *navigatorStub) visited() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.targets...)
}

type transition struct {
	status string
	reason string
}

type recorderStub struct {
	mu          sync.Mutex
	transitions []transition
	polls       []string
}

func (r *recorderStub) SessionTransition(status, reason string) {
	r.mu.Lock()
	r.transitions = append(r.transitions, transition{status: status, reason: reason})
	r.mu.Unlock()
}

func (r *recorderStub) MaintenancePoll(outcome string) {
	r.mu.Lock()
	r.polls = append(r.polls, outcome)
	r.mu.Unlock()
}

func (r *recorderStub) recorded() []transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]transition(nil), r.transitions...)
}

func (r *recorderStub) pollOutcomes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.polls...)
}

// signedToken builds an HS256 JWT expiring at exp.
func signedToken(t *testing.T, subject string, exp time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{Subject: subject, ExpiresAt: jwt.NewNumericDate(exp)}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

// waitFor polls cond until it holds or the deadline passes.
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
