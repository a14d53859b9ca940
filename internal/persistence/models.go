package persistence

// Keys of the persisted session layout.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyAuthState    = "auth_state"
)

// Keys lists every key owned by the token store.
var Keys = []string{KeyAccessToken, KeyRefreshToken, KeyAuthState}

// StoredUser mirrors the user profile snapshot kept alongside the tokens.
type StoredUser struct {
	ID                string `json:"id"`
	Email             string `json:"email"`
	DisplayName       string `json:"displayName"`
	Role              string `json:"role"`
	CompanyID         string `json:"companyId,omitempty"`
	SubscriptionState string `json:"subscriptionState,omitempty"`
}

// Snapshot is the decoded form of the three persisted keys.
type Snapshot struct {
	AccessToken     string
	RefreshToken    string
	User            *StoredUser
	IsAuthenticated bool
}

// IsEmpty reports whether nothing was persisted.
func (s Snapshot) IsEmpty() bool {
	return s.AccessToken == "" && s.RefreshToken == "" && s.User == nil && !s.IsAuthenticated
}

// HasTokens reports whether both tokens are present.
func (s Snapshot) HasTokens() bool {
	return s.AccessToken != "" && s.RefreshToken != ""
}

type authState struct {
	User            *StoredUser `json:"user"`
	IsAuthenticated bool        `json:"isAuthenticated"`
}
