package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/example/hr-portal/internal/application"
)

type sessionService interface {
	Login(ctx context.Context, email, password string) (application.UserProfile, error)
	Logout(ctx context.Context)
	Current() application.Session
	IsReady() bool
}

// SessionHandler serves the sign-in, sign-out, session and navigation endpoints.
type SessionHandler struct {
	sessions  sessionService
	gate      *application.RouteGate
	pending   *PendingNavigation
	responder responder
	logger    *slog.Logger
}

// NewSessionHandler wires the handler. A nil gate uses the default route table.
func NewSessionHandler(sessions sessionService, gate *application.RouteGate, pending *PendingNavigation, logger *slog.Logger) *SessionHandler {
	base := defaultLogger(logger)
	if gate == nil {
		gate = application.NewRouteGate(nil)
	}
	if pending == nil {
		pending = NewPendingNavigation()
	}
	return &SessionHandler{sessions: sessions, gate: gate, pending: pending, responder: newResponder(base), logger: base}
}

func (h *SessionHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "SessionHandler", operation, attrs...)
}

// Login handles POST /login.
func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.sessions == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log(r.Context(), "Login", "error_kind", "bad_request").WarnContext(r.Context(), "failed to decode login request", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	email := strings.TrimSpace(strings.ToLower(req.Email))
	logger := h.log(r.Context(), "Login", "email", email)

	profile, err := h.sessions.Login(r.Context(), email, req.Password)
	if err != nil {
		logger.WarnContext(r.Context(), "login rejected", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "user signed in", "user_id", profile.ID, "role", profile.Role)
	h.responder.writeJSON(r.Context(), w, http.StatusOK, loginResponse{
		User:     toUserDTO(&profile),
		Location: application.LandingRoute(profile.Role),
	})
}

// Logout handles POST /logout.
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.sessions == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.sessions.Logout(r.Context())
	location := h.pending.Take()
	if location == "" {
		location = application.LoginRoute
	}
	h.log(r.Context(), "Logout").InfoContext(r.Context(), "user signed out")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, logoutResponse{Location: location})
}

// Show handles GET /session.
func (h *SessionHandler) Show(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.sessions == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	session := h.sessions.Current()
	h.responder.writeJSON(r.Context(), w, http.StatusOK, sessionResponse{
		Status:     string(session.Status),
		Ready:      h.sessions.IsReady(),
		User:       toUserDTO(session.User),
		NavigateTo: h.pending.Take(),
	})
}

// Navigate handles GET /navigate?path=.
func (h *SessionHandler) Navigate(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.sessions == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	target := strings.TrimSpace(r.URL.Query().Get("path"))
	if target == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errMissingPath)
		return
	}

	decision := h.gate.Decide(target, h.sessions.Current(), h.sessions.IsReady())
	status := http.StatusOK
	if decision.Action == application.ActionLoading {
		status = http.StatusAccepted
	}
	h.log(r.Context(), "Navigate", "target", target).DebugContext(r.Context(), "route decided", "action", decision.Action, "location", decision.Location)
	h.responder.writeJSON(r.Context(), w, status, navigateResponse{
		Action:   string(decision.Action),
		Location: decision.Location,
		ReturnTo: decision.ReturnTo,
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userDTO struct {
	ID                string `json:"id"`
	Email             string `json:"email"`
	DisplayName       string `json:"display_name"`
	Role              string `json:"role"`
	CompanyID         string `json:"company_id,omitempty"`
	SubscriptionState string `json:"subscription_state,omitempty"`
}

type loginResponse struct {
	User     *userDTO `json:"user"`
	Location string   `json:"location"`
}

type logoutResponse struct {
	Location string `json:"location"`
}

type sessionResponse struct {
	Status     string   `json:"status"`
	Ready      bool     `json:"ready"`
	User       *userDTO `json:"user"`
	NavigateTo string   `json:"navigate_to,omitempty"`
}

type navigateResponse struct {
	Action   string `json:"action"`
	Location string `json:"location,omitempty"`
	ReturnTo string `json:"return_to,omitempty"`
}

func toUserDTO(user *application.UserProfile) *userDTO {
	if user == nil {
		return nil
	}
	return &userDTO{
		ID:                user.ID,
		Email:             user.Email,
		DisplayName:       user.DisplayName,
		Role:              string(user.Role),
		CompanyID:         user.CompanyID,
		SubscriptionState: user.SubscriptionState,
	}
}
