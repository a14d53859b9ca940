package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/example/hr-portal/internal/application"
	"github.com/example/hr-portal/internal/gateway"
	"github.com/example/hr-portal/internal/persistence"
)

type authAPIAdapter struct {
	client *gateway.Client
}

func newAuthAPIAdapter(client *gateway.Client) *authAPIAdapter {
	return &authAPIAdapter{client: client}
}

func (a *authAPIAdapter) Login(ctx context.Context, email, password string) (application.TokenPair, error) {
	pair, err := a.client.Login(ctx, email, password)
	if err != nil {
		if apiErr, ok := gateway.AsAPIError(err); ok && apiErr.IsClientError() {
			reason := apiErr.Message
			if reason == http.StatusText(apiErr.Status) {
				reason = ""
			}
			return application.TokenPair{}, &application.RejectedError{Status: apiErr.Status, Reason: reason}
		}
		return application.TokenPair{}, err
	}
	return application.TokenPair{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken}, nil
}

func (a *authAPIAdapter) Me(ctx context.Context, accessToken string) (application.UserProfile, error) {
	profile, err := a.client.Me(gateway.WithAccessToken(ctx, accessToken))
	if err != nil {
		if errors.Is(err, gateway.ErrUnauthenticated) {
			return application.UserProfile{}, fmt.Errorf("%w: %w", application.ErrUnauthenticated, err)
		}
		return application.UserProfile{}, err
	}
	return application.UserProfile{
		ID:                profile.ID,
		Email:             profile.Email,
		DisplayName:       profile.DisplayName,
		Role:              application.Role(profile.Role),
		CompanyID:         profile.CompanyID,
		SubscriptionState: profile.SubscriptionState,
	}, nil
}

type platformAdapter struct {
	client *gateway.Client
}

func newPlatformAdapter(client *gateway.Client) *platformAdapter {
	return &platformAdapter{client: client}
}

func (a *platformAdapter) MaintenanceStatus(ctx context.Context) (application.MaintenanceFlag, error) {
	cfg, err := a.client.PlatformConfig(ctx)
	if err != nil {
		return application.MaintenanceFlag{}, err
	}
	return application.MaintenanceFlag{
		Active:         cfg.MaintenanceMode,
		Message:        cfg.MaintenanceMessage,
		SupportContact: cfg.SupportEmail,
	}, nil
}

type sessionStoreAdapter struct {
	store *persistence.TokenStore
}

func newSessionStoreAdapter(store *persistence.TokenStore) *sessionStoreAdapter {
	return &sessionStoreAdapter{store: store}
}

func (a *sessionStoreAdapter) Save(ctx context.Context, session application.StoredSession) error {
	return a.store.Save(ctx, persistence.Snapshot{
		AccessToken:     session.AccessToken,
		RefreshToken:    session.RefreshToken,
		User:            toStoredUser(session.User),
		IsAuthenticated: session.IsAuthenticated,
	})
}

func (a *sessionStoreAdapter) Load(ctx context.Context) (application.StoredSession, error) {
	snapshot, err := a.store.Load(ctx)
	if err != nil {
		return application.StoredSession{}, err
	}
	return application.StoredSession{
		AccessToken:     snapshot.AccessToken,
		RefreshToken:    snapshot.RefreshToken,
		User:            fromStoredUser(snapshot.User),
		IsAuthenticated: snapshot.IsAuthenticated,
	}, nil
}

func (a *sessionStoreAdapter) Clear(ctx context.Context) error {
	return a.store.Clear(ctx)
}

func toStoredUser(user *application.UserProfile) *persistence.StoredUser {
	if user == nil {
		return nil
	}
	return &persistence.StoredUser{
		ID:                user.ID,
		Email:             user.Email,
		DisplayName:       user.DisplayName,
		Role:              string(user.Role),
		CompanyID:         user.CompanyID,
		SubscriptionState: user.SubscriptionState,
	}
}

func fromStoredUser(user *persistence.StoredUser) *application.UserProfile {
	if user == nil {
		return nil
	}
	return &application.UserProfile{
		ID:                user.ID,
		Email:             user.Email,
		DisplayName:       user.DisplayName,
		Role:              application.Role(user.Role),
		CompanyID:         user.CompanyID,
		SubscriptionState: user.SubscriptionState,
	}
}
