package persistence_test

import (
	"context"
	"errors"
	"testing"

	"github.com/example/hr-portal/internal/persistence"
	"github.com/example/hr-portal/internal/persistence/memory"
)

func sampleSnapshot() persistence.Snapshot {
	return persistence.Snapshot{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		User: &persistence.StoredUser{
			ID:          "user-1",
			Email:       "a@b.com",
			DisplayName: "Alice Bernard",
			Role:        "rh",
			CompanyID:   "company-1",
		},
		IsAuthenticated: true,
	}
}

func TestTokenStore_SaveLoadClear(t *testing.T) {
	ctx := context.Background()

	t.Run("load on empty backend returns empty snapshot", func(t *testing.T) {
		store := persistence.NewTokenStore(memory.New())
		snapshot, err := store.Load(ctx)
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}
		if !snapshot.IsEmpty() {
			t.Fatalf("expected empty snapshot, got %+v", snapshot)
		}
	})

	t.Run("save then load returns the same snapshot", func(t *testing.T) {
		store := persistence.NewTokenStore(memory.New())
		want := sampleSnapshot()
		if err := store.Save(ctx, want); err != nil {
			t.Fatalf("Save returned error: %v", err)
		}

		got, err := store.Load(ctx)
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}
		if got.AccessToken != want.AccessToken || got.RefreshToken != want.RefreshToken {
			t.Fatalf("unexpected tokens: %+v", got)
		}
		if got.User == nil || *got.User != *want.User {
			t.Fatalf("unexpected user: %+v", got.User)
		}
		if !got.IsAuthenticated {
			t.Fatalf("expected isAuthenticated to round trip")
		}
	})

	t.Run("save rejects snapshots without both tokens", func(t *testing.T) {
		backend := memory.New()
		store := persistence.NewTokenStore(backend)
		snapshot := sampleSnapshot()
		snapshot.RefreshToken = ""
		if err := store.Save(ctx, snapshot); !errors.Is(err, persistence.ErrIncompleteSnapshot) {
			t.Fatalf("expected ErrIncompleteSnapshot, got %v", err)
		}
		if backend.Len() != 0 {
			t.Fatalf("expected nothing written, got %d keys", backend.Len())
		}
	})

	t.Run("clear is idempotent", func(t *testing.T) {
		backend := memory.New()
		store := persistence.NewTokenStore(backend)
		if err := store.Save(ctx, sampleSnapshot()); err != nil {
			t.Fatalf("Save returned error: %v", err)
		}
		for i := 0; i < 2; i++ {
			if err := store.Clear(ctx); err != nil {
				t.Fatalf("Clear #%d returned error: %v", i+1, err)
			}
		}
		if backend.Len() != 0 {
			t.Fatalf("expected empty backend, got %d keys", backend.Len())
		}
	})

	t.Run("corrupt auth state is reported", func(t *testing.T) {
		backend := memory.New()
		_ = backend.Put(ctx, map[string]string{
			persistence.KeyAccessToken:  "a",
			persistence.KeyRefreshToken: "r",
			persistence.KeyAuthState:    "{not json",
		})
		store := persistence.NewTokenStore(backend)
		if _, err := store.Load(ctx); !errors.Is(err, persistence.ErrCorrupt) {
			t.Fatalf("expected ErrCorrupt, got %v", err)
		}
	})

	t.Run("partial layout is returned as found", func(t *testing.T) {
		backend := memory.New()
		_ = backend.Put(ctx, map[string]string{persistence.KeyAccessToken: "only-access"})
		store := persistence.NewTokenStore(backend)
		snapshot, err := store.Load(ctx)
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}
		if snapshot.IsEmpty() || snapshot.HasTokens() {
			t.Fatalf("expected partial snapshot, got %+v", snapshot)
		}
	})
}

type failingKV struct{ err error }

func (f failingKV) Get(context.Context, string) (string, bool, error) { return "", false, f.err }
func (f failingKV) GetMany(context.Context, ...string) (map[string]string, error) {
	return nil, f.err
}
func (f failingKV) Put(context.Context, map[string]string) error { return f.err }
func (f failingKV) Delete(context.Context, ...string) error      { return f.err }

func TestTokenStore_PropagatesBackendErrors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("quota exceeded")
	store := persistence.NewTokenStore(failingKV{err: boom})

	if _, err := store.Load(ctx); !errors.Is(err, boom) {
		t.Fatalf("expected backend error from Load, got %v", err)
	}
	if err := store.Save(ctx, sampleSnapshot()); !errors.Is(err, boom) {
		t.Fatalf("expected backend error from Save, got %v", err)
	}
	if err := store.Clear(ctx); !errors.Is(err, boom) {
		t.Fatalf("expected backend error from Clear, got %v", err)
	}
}

// racingKV saves a second session in the middle of every read, the way another
// tab writing to shared storage would.
type racingKV struct {
	*memory.Store
	race func()
}

func (r *racingKV) Get(ctx context.Context, key string) (string, bool, error) {
	value, ok, err := r.Store.Get(ctx, key)
	r.race()
	return value, ok, err
}

func (r *racingKV) GetMany(ctx context.Context, keys ...string) (map[string]string, error) {
	values, err := r.Store.GetMany(ctx, keys...)
	r.race()
	return values, err
}

func TestTokenStore_LoadIsNotTornByConcurrentSave(t *testing.T) {
	ctx := context.Background()
	backend := &racingKV{Store: memory.New(), race: func() {}}
	store := persistence.NewTokenStore(backend)

	first := sampleSnapshot()
	if err := store.Save(ctx, first); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	second := sampleSnapshot()
	second.AccessToken = "access-2"
	second.RefreshToken = "refresh-2"
	second.User.ID = "user-2"
	second.User.Email = "c@d.com"
	writes := 0
	backend.race = func() {
		writes++
		if err := persistence.NewTokenStore(backend.Store).Save(ctx, second); err != nil {
			t.Errorf("concurrent Save returned error: %v", err)
		}
	}

	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if writes != 1 {
		t.Fatalf("expected one backend read during Load, got %d", writes)
	}
	if got.AccessToken != first.AccessToken || got.RefreshToken != first.RefreshToken {
		t.Fatalf("expected tokens from the first session, got %+v", got)
	}
	if got.User == nil || got.User.ID != first.User.ID {
		t.Fatalf("expected user from the first session, got %+v", got.User)
	}

	backend.race = func() {}
	got, err = store.Load(ctx)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if got.AccessToken != second.AccessToken || got.User == nil || got.User.ID != second.User.ID {
		t.Fatalf("expected the second session on the next load, got %+v", got)
	}
}
