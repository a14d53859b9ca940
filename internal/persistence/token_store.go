package persistence

import (
	"context"
	"encoding/json"
	"fmt"
)

// KV is the durable key/value surface a token store backend provides.
type KV interface {
	// Get returns the value for key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// GetMany reads every key in one consistent view. Missing keys are absent
	// from the result.
	GetMany(ctx context.Context, keys ...string) (map[string]string, error)
	// Put writes every entry atomically.
	Put(ctx context.Context, entries map[string]string) error
	// Delete removes the keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error
}

// TokenStore persists the session layout: two token keys plus the auth_state document.
type TokenStore struct {
	kv KV
}

// NewTokenStore wraps a backend.
func NewTokenStore(kv KV) *TokenStore {
	return &TokenStore{kv: kv}
}

// Save writes both tokens and the user snapshot in one backend write.
func (s *TokenStore) Save(ctx context.Context, snapshot Snapshot) error {
	if s == nil || s.kv == nil {
		return fmt.Errorf("token store not configured")
	}
	if !snapshot.HasTokens() {
		return ErrIncompleteSnapshot
	}

	state, err := json.Marshal(authState{User: snapshot.User, IsAuthenticated: snapshot.IsAuthenticated})
	if err != nil {
		return fmt.Errorf("encode auth state: %w", err)
	}

	return s.kv.Put(ctx, map[string]string{
		KeyAccessToken:  snapshot.AccessToken,
		KeyRefreshToken: snapshot.RefreshToken,
		KeyAuthState:    string(state),
	})
}

// Load returns the last saved snapshot, read in one backend call so a
// concurrent Save is seen whole or not at all. A store with nothing persisted
// yields an empty snapshot and no error. Partial layouts are returned as found.
func (s *TokenStore) Load(ctx context.Context) (Snapshot, error) {
	if s == nil || s.kv == nil {
		return Snapshot{}, fmt.Errorf("token store not configured")
	}

	values, err := s.kv.GetMany(ctx, Keys...)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load session: %w", err)
	}
	snapshot := Snapshot{
		AccessToken:  values[KeyAccessToken],
		RefreshToken: values[KeyRefreshToken],
	}

	if raw := values[KeyAuthState]; raw != "" {
		var state authState
		if err := json.Unmarshal([]byte(raw), &state); err != nil {
			return Snapshot{}, fmt.Errorf("%w: %s: %v", ErrCorrupt, KeyAuthState, err)
		}
		snapshot.User = state.User
		snapshot.IsAuthenticated = state.IsAuthenticated
	}

	return snapshot, nil
}

// Clear removes every key of the layout. Clearing an empty store succeeds.
func (s *TokenStore) Clear(ctx context.Context) error {
	if s == nil || s.kv == nil {
		return fmt.Errorf("token store not configured")
	}
	return s.kv.Delete(ctx, Keys...)
}
