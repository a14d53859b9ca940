package testfixtures

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/mail"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Backend routes served by FakeBackend.
const (
	LoginPath          = "/auth/login"
	MePath             = "/auth/me"
	PlatformConfigPath = "/platform/config"
	RegisterPath       = "/company/register"
)

// DefaultAccessTokenTTL is the lifetime of issued access tokens.
const DefaultAccessTokenTTL = time.Hour

// Account is a user known to the fake backend.
type Account struct {
	ID                string `json:"id"`
	Email             string `json:"email"`
	DisplayName       string `json:"displayName"`
	Role              string `json:"role"`
	CompanyID         string `json:"companyId,omitempty"`
	SubscriptionState string `json:"subscriptionState,omitempty"`

	passwordHash []byte
}

// Failure is a canned error response.
type Failure struct {
	Status  int
	Message string
}

// FakeBackend is an in-process stand-in for the HR platform API.
type FakeBackend struct {
	Server *httptest.Server

	clock     *Clock
	secret    []byte
	ttl       time.Duration
	userIDs   *Sequence
	companies *Sequence

	mu          sync.Mutex
	accounts    map[string]*Account
	revoked     map[string]struct{}
	refresh     map[string]string
	maintenance bool
	message     string
	support     string
	failures    map[string][]Failure
	calls       map[string]int
}

// BackendOption customises a FakeBackend.
type BackendOption func(*FakeBackend)

// WithBackendClock makes token issuing and validation follow clock.
func WithBackendClock(clock *Clock) BackendOption {
	return func(b *FakeBackend) { b.clock = clock }
}

// WithAccessTokenTTL overrides the access token lifetime.
func WithAccessTokenTTL(ttl time.Duration) BackendOption {
	return func(b *FakeBackend) { b.ttl = ttl }
}

// NewFakeBackend starts a backend that is closed with the test.
func NewFakeBackend(t testing.TB, opts ...BackendOption) *FakeBackend {
	t.Helper()

	b := &FakeBackend{
		clock:     NewClock(time.Now().UTC()),
		secret:    []byte("fake-backend-secret"),
		ttl:       DefaultAccessTokenTTL,
		userIDs:   NewSequence("user"),
		companies: NewSequence("company"),
		accounts:  make(map[string]*Account),
		revoked:   make(map[string]struct{}),
		refresh:   make(map[string]string),
		failures:  make(map[string][]Failure),
		calls:     make(map[string]int),
	}
	for _, opt := range opts {
		opt(b)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(LoginPath, b.handleLogin)
	mux.HandleFunc(MePath, b.handleMe)
	mux.HandleFunc(PlatformConfigPath, b.handlePlatformConfig)
	mux.HandleFunc(RegisterPath, b.handleRegister)
	b.Server = httptest.NewServer(b.countCalls(mux))
	t.Cleanup(b.Server.Close)
	return b
}

// URL is the backend base URL.
func (b *FakeBackend) URL() string {
	return b.Server.URL
}

// AddAccount registers a user and returns its public profile.
func (b *FakeBackend) AddAccount(t testing.TB, email, password, role string) Account {
	t.Helper()
	account, err := b.addAccount(email, password, role, "")
	if err != nil {
		t.Fatalf("add account %s: %v", email, err)
	}
	return account
}

func (b *FakeBackend) addAccount(email, password, role, companyID string) (Account, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return Account{}, err
	}
	email = strings.ToLower(strings.TrimSpace(email))

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.accounts[email]; exists {
		return Account{}, fmt.Errorf("account %s already exists", email)
	}
	account := &Account{
		ID:                b.userIDs.Next(),
		Email:             email,
		DisplayName:       strings.SplitN(email, "@", 2)[0],
		Role:              role,
		CompanyID:         companyID,
		SubscriptionState: "active",
		passwordHash:      hash,
	}
	b.accounts[email] = account
	return *account, nil
}

// SetMaintenance toggles the platform maintenance flag.
func (b *FakeBackend) SetMaintenance(active bool, message, support string) {
	b.mu.Lock()
	b.maintenance = active
	b.message = message
	b.support = support
	b.mu.Unlock()
}

// FailNext makes the next request to path answer with failure.
func (b *FakeBackend) FailNext(path string, failure Failure) {
	b.mu.Lock()
	b.failures[path] = append(b.failures[path], failure)
	b.mu.Unlock()
}

// Revoke invalidates an access token.
func (b *FakeBackend) Revoke(accessToken string) {
	b.mu.Lock()
	b.revoked[accessToken] = struct{}{}
	b.mu.Unlock()
}

// Calls returns how many requests reached path.
func (b *FakeBackend) Calls(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[path]
}

// IssueAccessToken signs an access token for account, expiring after ttl.
func (b *FakeBackend) IssueAccessToken(account Account, ttl time.Duration) (string, error) {
	now := b.clock.Now()
	claims := jwt.RegisteredClaims{
		Subject:   account.Email,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(b.secret)
}

func (b *FakeBackend) countCalls(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.calls[r.URL.Path]++
		var failure *Failure
		if queued := b.failures[r.URL.Path]; len(queued) > 0 {
			failure = &queued[0]
			b.failures[r.URL.Path] = queued[1:]
		}
		b.mu.Unlock()

		if failure != nil {
			writeError(w, failure.Status, failure.Message)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (b *FakeBackend) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	b.mu.Lock()
	account, ok := b.accounts[strings.ToLower(strings.TrimSpace(req.Email))]
	b.mu.Unlock()
	if !ok || bcrypt.CompareHashAndPassword(account.passwordHash, []byte(req.Password)) != nil {
		writeError(w, http.StatusUnauthorized, "Email ou mot de passe incorrect.")
		return
	}

	access, err := b.IssueAccessToken(*account, b.ttl)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	refresh := uuid.NewString()
	b.mu.Lock()
	b.refresh[refresh] = account.Email
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"accessToken": access, "refreshToken": refresh})
}

func (b *FakeBackend) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	account, err := b.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (b *FakeBackend) authenticate(r *http.Request) (Account, error) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		return Account{}, errors.New("missing bearer token")
	}

	b.mu.Lock()
	_, revoked := b.revoked[token]
	b.mu.Unlock()
	if revoked {
		return Account{}, errors.New("token revoked")
	}

	claims := jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return b.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(b.clock.Now))
	if err != nil {
		return Account{}, fmt.Errorf("invalid token: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	account, ok := b.accounts[claims.Subject]
	if !ok {
		return Account{}, errors.New("unknown subject")
	}
	return *account, nil
}

func (b *FakeBackend) handlePlatformConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	b.mu.Lock()
	payload := map[string]any{
		"maintenanceMode":    b.maintenance,
		"maintenanceMessage": b.message,
		"supportEmail":       b.support,
	}
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, payload)
}

func (b *FakeBackend) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		CompanyName   string `json:"companyName"`
		AdminEmail    string `json:"adminEmail"`
		AdminPassword string `json:"adminPassword"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if strings.TrimSpace(req.CompanyName) == "" {
		writeError(w, http.StatusUnprocessableEntity, "Le nom de l'entreprise est obligatoire.")
		return
	}
	if _, err := mail.ParseAddress(req.AdminEmail); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Adresse email invalide.")
		return
	}
	if len(req.AdminPassword) < 8 {
		writeError(w, http.StatusUnprocessableEntity, "Le mot de passe doit contenir au moins 8 caractères.")
		return
	}
	if _, err := b.addAccount(req.AdminEmail, req.AdminPassword, "admin", b.companies.Next()); err != nil {
		writeError(w, http.StatusConflict, "Un compte existe déjà pour cet email.")
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}
