package application

import (
	"fmt"
	"strings"
)

// Role is the sole input to authorization decisions.
type Role string

const (
	RoleOwner   Role = "owner"
	RoleAdmin   Role = "admin"
	RoleRH      Role = "rh"
	RoleManager Role = "manager"
	RoleEmploye Role = "employe"
)

// Roles lists every known role.
var Roles = []Role{RoleOwner, RoleAdmin, RoleRH, RoleManager, RoleEmploye}

// ParseRole normalises a server supplied role name.
func ParseRole(value string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(value)))
	return role, role.Valid()
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleRH, RoleManager, RoleEmploye:
		return true
	}
	return false
}

// UserProfile is the server issued identity snapshot. It is replaced wholesale
// on every fetch and never edited locally.
type UserProfile struct {
	ID                string
	Email             string
	DisplayName       string
	Role              Role
	CompanyID         string
	SubscriptionState string
}

// Status of the session state machine.
type Status string

const (
	StatusAnonymous      Status = "anonymous"
	StatusAuthenticating Status = "authenticating"
	StatusAuthenticated  Status = "authenticated"
)

// Session is the client side authentication state.
type Session struct {
	AccessToken  string
	RefreshToken string
	User         *UserProfile
	Status       Status
}

// AnonymousSession returns the signed out state.
func AnonymousSession() Session {
	return Session{Status: StatusAnonymous}
}

// IsAuthenticated reports whether the session is signed in.
func (s Session) IsAuthenticated() bool {
	return s.Status == StatusAuthenticated
}

// Role returns the user's role, or "" when signed out.
func (s Session) Role() Role {
	if s.User == nil {
		return ""
	}
	return s.User.Role
}

// Validate checks that status, tokens and user never diverge:
// authenticated iff both tokens are present iff a user is present.
func (s Session) Validate() error {
	hasTokens := s.AccessToken != "" && s.RefreshToken != ""
	hasAnyToken := s.AccessToken != "" || s.RefreshToken != ""
	hasUser := s.User != nil

	switch s.Status {
	case StatusAuthenticated:
		if !hasTokens || !hasUser {
			return fmt.Errorf("authenticated session requires both tokens and a user")
		}
	case StatusAnonymous, StatusAuthenticating:
		if hasAnyToken || hasUser {
			return fmt.Errorf("%s session must not carry tokens or a user", s.Status)
		}
	default:
		return fmt.Errorf("unknown session status %q", s.Status)
	}
	return nil
}

func (s Session) clone() Session {
	if s.User != nil {
		user := *s.User
		s.User = &user
	}
	return s
}

// TokenPair is the result of a credential exchange.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// StoredSession is the durable form of a session kept by the token store.
type StoredSession struct {
	AccessToken     string
	RefreshToken    string
	User            *UserProfile
	IsAuthenticated bool
}

// IsEmpty reports whether nothing is persisted.
func (s StoredSession) IsEmpty() bool {
	return s.AccessToken == "" && s.RefreshToken == "" && s.User == nil && !s.IsAuthenticated
}

// HasTokens reports whether both tokens are persisted.
func (s StoredSession) HasTokens() bool {
	return s.AccessToken != "" && s.RefreshToken != ""
}

// MaintenanceFlag is the platform-wide maintenance state as last observed.
type MaintenanceFlag struct {
	Active         bool
	Message        string
	SupportContact string
}
