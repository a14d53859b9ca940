package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"

	"github.com/example/hr-portal/internal/gateway"
)

type companyRegistrar interface {
	RegisterCompany(ctx context.Context, req gateway.RegisterCompanyRequest) error
}

// RegistrationHandler forwards company sign-ups to the backend.
type RegistrationHandler struct {
	registrar companyRegistrar
	responder responder
	logger    *slog.Logger
}

// NewRegistrationHandler wires the handler.
func NewRegistrationHandler(registrar companyRegistrar, logger *slog.Logger) *RegistrationHandler {
	base := defaultLogger(logger)
	return &RegistrationHandler{registrar: registrar, responder: newResponder(base), logger: base}
}

// Register handles POST /register.
func (h *RegistrationHandler) Register(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.registrar == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	email := strings.TrimSpace(strings.ToLower(req.AdminEmail))
	logger := handlerLogger(r.Context(), h.logger, "RegistrationHandler", "Register", "admin_email", email)

	if fieldErrors := req.validate(email); len(fieldErrors) > 0 {
		h.responder.writeJSON(r.Context(), w, http.StatusUnprocessableEntity, errorResponse{
			Message: localizedStatusMessage(http.StatusUnprocessableEntity),
			Errors:  fieldErrors,
		})
		return
	}

	err := h.registrar.RegisterCompany(r.Context(), gateway.RegisterCompanyRequest{
		CompanyName:    strings.TrimSpace(req.CompanyName),
		AdminEmail:     email,
		AdminPassword:  req.AdminPassword,
		AdminFirstName: strings.TrimSpace(req.AdminFirstName),
		AdminLastName:  strings.TrimSpace(req.AdminLastName),
	})
	if err != nil {
		apiErr, ok := gateway.AsAPIError(err)
		switch {
		case ok && apiErr.Status == http.StatusConflict:
			logger.InfoContext(r.Context(), "registration conflict", "message", apiErr.Message)
			h.responder.writeJSON(r.Context(), w, http.StatusConflict, errorResponse{ErrorCode: "REGISTRATION_CONFLICT", Message: apiErr.Message})
		case ok && apiErr.IsClientError():
			logger.InfoContext(r.Context(), "registration rejected", "status", apiErr.Status, "message", apiErr.Message)
			h.responder.writeJSON(r.Context(), w, http.StatusUnprocessableEntity, errorResponse{ErrorCode: "REGISTRATION_REJECTED", Message: apiErr.Message})
		default:
			logger.ErrorContext(r.Context(), "registration failed", "error", err)
			h.responder.writeJSON(r.Context(), w, http.StatusBadGateway, errorResponse{Message: localizedStatusMessage(http.StatusBadGateway)})
		}
		return
	}

	logger.InfoContext(r.Context(), "company registered")
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, registerResponse{Location: "/login"})
}

type registerRequest struct {
	CompanyName    string `json:"company_name"`
	AdminEmail     string `json:"admin_email"`
	AdminPassword  string `json:"admin_password"`
	AdminFirstName string `json:"admin_first_name"`
	AdminLastName  string `json:"admin_last_name"`
}

func (req registerRequest) validate(email string) map[string]string {
	fieldErrors := make(map[string]string)
	if strings.TrimSpace(req.CompanyName) == "" {
		fieldErrors["company_name"] = translateValidationMessage("company name is required")
	}
	if email == "" {
		fieldErrors["admin_email"] = translateValidationMessage("email is required")
	} else if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		fieldErrors["admin_email"] = translateValidationMessage("email is invalid")
	}
	if req.AdminPassword == "" {
		fieldErrors["admin_password"] = translateValidationMessage("password is required")
	}
	return fieldErrors
}

type registerResponse struct {
	Location string `json:"location"`
}
