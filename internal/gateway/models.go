package gateway

// TokenPair is the credential exchange response.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Profile is the /auth/me payload.
type Profile struct {
	ID                string `json:"id"`
	Email             string `json:"email"`
	DisplayName       string `json:"displayName"`
	Role              string `json:"role"`
	CompanyID         string `json:"companyId,omitempty"`
	SubscriptionState string `json:"subscriptionState,omitempty"`
}

// PlatformConfig is the /platform/config payload.
type PlatformConfig struct {
	MaintenanceMode    bool   `json:"maintenanceMode"`
	MaintenanceMessage string `json:"maintenanceMessage,omitempty"`
	SupportEmail       string `json:"supportEmail,omitempty"`
}

// RegisterCompanyRequest bootstraps a company and its first administrator.
type RegisterCompanyRequest struct {
	CompanyName    string `json:"companyName"`
	AdminEmail     string `json:"adminEmail"`
	AdminPassword  string `json:"adminPassword"`
	AdminFirstName string `json:"adminFirstName,omitempty"`
	AdminLastName  string `json:"adminLastName,omitempty"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type errorPayload struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}
