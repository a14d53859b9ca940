package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/example/hr-portal/internal/application"
)

var (
	errBadRequestBody = errors.New("Format de requête invalide.")
	errMissingPath    = errors.New("Le paramètre path est obligatoire.")
)

type responder struct {
	logger *slog.Logger
}

func newResponder(logger *slog.Logger) responder {
	if logger == nil {
		logger = slog.Default()
	}
	return responder{logger: logger}
}

func (r responder) writeJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	if w == nil {
		return
	}

	if status == http.StatusNoContent || payload == nil {
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		r.loggerFor(ctx).ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (r responder) writeError(ctx context.Context, w http.ResponseWriter, status int, err error) {
	message := localizedStatusMessage(status)
	if err != nil {
		if msg := strings.TrimSpace(err.Error()); msg != "" {
			message = msg
		}
		r.loggerFor(ctx).WarnContext(ctx, "request failed", "status", status, "error", err)
	}

	r.writeJSON(ctx, w, status, errorResponse{Message: message})
}

func (r responder) handleServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		r.writeError(ctx, w, http.StatusInternalServerError, errors.New("unknown error"))
		return
	}

	var (
		vErr     *application.ValidationError
		loginErr *application.LoginError
	)
	switch {
	case errors.As(err, &vErr):
		r.writeJSON(ctx, w, http.StatusUnprocessableEntity, errorResponse{
			Message: localizedStatusMessage(http.StatusUnprocessableEntity),
			Errors:  localizeValidationErrors(vErr),
		})
	case errors.Is(err, application.ErrAlreadyAuthenticated):
		r.writeJSON(ctx, w, http.StatusConflict, errorResponse{
			ErrorCode: "AUTH_ALREADY_AUTHENTICATED",
			Message:   "Vous êtes déjà connecté.",
		})
	case errors.Is(err, application.ErrLoginSuperseded):
		r.writeJSON(ctx, w, http.StatusConflict, errorResponse{
			ErrorCode: "AUTH_LOGIN_SUPERSEDED",
			Message:   "Cette tentative de connexion a été remplacée par une action plus récente.",
		})
	case errors.Is(err, application.ErrInvalidCredentials) && errors.As(err, &loginErr):
		r.writeJSON(ctx, w, http.StatusUnauthorized, errorResponse{
			ErrorCode: "AUTH_INVALID_CREDENTIALS",
			Message:   loginErr.Reason,
		})
	case errors.As(err, &loginErr):
		r.writeJSON(ctx, w, http.StatusBadGateway, errorResponse{
			ErrorCode: "AUTH_LOGIN_FAILED",
			Message:   loginErr.Reason,
		})
	default:
		r.writeJSON(ctx, w, http.StatusInternalServerError, errorResponse{Message: localizedStatusMessage(http.StatusInternalServerError)})
	}
}

func (r responder) loggerFor(ctx context.Context) *slog.Logger {
	if logger := LoggerFromContext(ctx); logger != nil {
		return logger
	}
	return r.logger
}

func localizedStatusMessage(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "Requête invalide."
	case http.StatusUnauthorized:
		return "Authentification requise."
	case http.StatusConflict:
		return "La requête est en conflit avec l'état actuel."
	case http.StatusUnprocessableEntity:
		return "Certains champs sont invalides."
	case http.StatusTooManyRequests:
		return "Trop de tentatives. Veuillez patienter avant de réessayer."
	case http.StatusBadGateway:
		return "Le service est momentanément indisponible."
	default:
		return "Une erreur interne est survenue."
	}
}

func localizeValidationErrors(vErr *application.ValidationError) map[string]string {
	if vErr == nil || len(vErr.FieldErrors) == 0 {
		return nil
	}

	translated := make(map[string]string, len(vErr.FieldErrors))
	for field, msg := range vErr.FieldErrors {
		translated[field] = translateValidationMessage(msg)
	}
	return translated
}

func translateValidationMessage(message string) string {
	switch message {
	case "email is required":
		return "L'adresse email est obligatoire."
	case "email is invalid":
		return "L'adresse email est invalide."
	case "password is required":
		return "Le mot de passe est obligatoire."
	case "company name is required":
		return "Le nom de l'entreprise est obligatoire."
	default:
		return message
	}
}

type errorResponse struct {
	ErrorCode string            `json:"error_code,omitempty"`
	Message   string            `json:"message"`
	Errors    map[string]string `json:"errors,omitempty"`
}
