package token_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/helpdesk-session/internal/utils"
	"github.com/jrsteele09/helpdesk-session/token"
	"github.com/jrsteele09/helpdesk-session/users"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTokens(access string) *token.Set {
	return &token.Set{
		AccessToken:  access,
		RefreshToken: "refresh-" + access,
		ExpiresAt:    time.Date(2026, 1, 1, 13, 0, 0, 0, time.UTC),
	}
}

func testUser() *users.Identity {
	return &users.Identity{
		ID:          "u-1",
		Username:    "jdoe",
		FirstName:   "John",
		LastName:    "Doe",
		Email:       utils.Ptr("jdoe@example.com"),
		Roles:       []users.RoleType{users.RoleAgent},
		Permissions: []users.PermissionID{users.PermAssignTicket},
	}
}

// storeContract runs the behaviour every Store implementation must share.
func storeContract(t *testing.T, newStore func(t *testing.T) token.Store) {
	ctx := context.Background()

	t.Run("empty store", func(t *testing.T) {
		s := newStore(t)
		tokens, err := s.Load(ctx)
		require.NoError(t, err)
		require.Nil(t, tokens)
		user, err := s.CurrentUser(ctx)
		require.NoError(t, err)
		require.Nil(t, user)
	})

	t.Run("save then load", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Save(ctx, testTokens("a1"), testUser()))

		tokens, user, err := s.Snapshot(ctx)
		require.NoError(t, err)
		require.Equal(t, "a1", tokens.AccessToken)
		require.Equal(t, "refresh-a1", tokens.RefreshToken)
		require.True(t, testTokens("a1").ExpiresAt.Equal(tokens.ExpiresAt))
		require.Equal(t, "jdoe", user.Username)
		require.NotNil(t, user.Email)
		require.Equal(t, "jdoe@example.com", *user.Email)

		loaded, err := s.Load(ctx)
		require.NoError(t, err)
		require.Equal(t, "a1", loaded.AccessToken)
		current, err := s.CurrentUser(ctx)
		require.NoError(t, err)
		require.Equal(t, "u-1", current.ID)
	})

	t.Run("save replaces both keys", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Save(ctx, testTokens("a1"), testUser()))
		require.NoError(t, s.Save(ctx, testTokens("a2"), nil))

		tokens, user, err := s.Snapshot(ctx)
		require.NoError(t, err)
		require.Equal(t, "a2", tokens.AccessToken)
		require.Nil(t, user)
	})

	t.Run("save requires an access token", func(t *testing.T) {
		s := newStore(t)
		require.Error(t, s.Save(ctx, nil, testUser()))
		require.Error(t, s.Save(ctx, &token.Set{RefreshToken: "r"}, testUser()))
	})

	t.Run("clear is idempotent", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Save(ctx, testTokens("a1"), testUser()))
		require.NoError(t, s.Clear(ctx))
		require.NoError(t, s.Clear(ctx))

		tokens, user, err := s.Snapshot(ctx)
		require.NoError(t, err)
		require.Nil(t, tokens)
		require.Nil(t, user)
	})

	t.Run("concurrent saves never tear", func(t *testing.T) {
		s := newStore(t)
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				u := testUser()
				u.ID = "user-" + string(rune('a'+i))
				tk := testTokens("token-" + string(rune('a'+i)))
				_ = s.Save(ctx, tk, u)
				tokens, user, err := s.Snapshot(ctx)
				if err == nil && tokens != nil && user != nil {
					assert.Equal(t, tokens.AccessToken[len("token-"):], user.ID[len("user-"):])
				}
			}(i)
		}
		wg.Wait()
	})
}

func TestMemoryStore(t *testing.T) {
	storeContract(t, func(t *testing.T) token.Store { return token.NewMemoryStore() })

	t.Run("returned values are copies", func(t *testing.T) {
		ctx := context.Background()
		s := token.NewMemoryStore()
		require.NoError(t, s.Save(ctx, testTokens("a1"), testUser()))

		user, err := s.CurrentUser(ctx)
		require.NoError(t, err)
		user.Roles[0] = users.RoleAdmin

		again, err := s.CurrentUser(ctx)
		require.NoError(t, err)
		require.Equal(t, users.RoleAgent, again.Roles[0])
	})
}

func TestFileStore(t *testing.T) {
	storeContract(t, func(t *testing.T) token.Store {
		s, err := token.NewFileStore(t.TempDir(), "https://helpdesk.example.com:8443/api")
		require.NoError(t, err)
		return s
	})

	t.Run("file is private and scoped to origin", func(t *testing.T) {
		dir := t.TempDir()
		a, err := token.NewFileStore(dir, "https://a.example.com/api")
		require.NoError(t, err)
		b, err := token.NewFileStore(dir, "https://b.example.com/api")
		require.NoError(t, err)
		require.NotEqual(t, a.Path(), b.Path())

		require.NoError(t, a.Save(context.Background(), testTokens("a1"), testUser()))
		info, err := os.Stat(a.Path())
		require.NoError(t, err)
		require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

		tokens, err := b.Load(context.Background())
		require.NoError(t, err)
		require.Nil(t, tokens)
	})

	t.Run("corrupt file is reported", func(t *testing.T) {
		s, err := token.NewFileStore(t.TempDir(), "http://localhost:8080")
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(s.Path(), []byte("{not json"), 0o600))

		_, err = s.Load(context.Background())
		require.Error(t, err)
	})

	t.Run("watch reports external changes", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		dir := t.TempDir()
		s, err := token.NewFileStore(dir, "http://localhost:8080")
		require.NoError(t, err)
		other, err := token.NewFileStore(dir, "http://localhost:8080")
		require.NoError(t, err)

		changed := make(chan struct{}, 16)
		require.NoError(t, s.Watch(ctx, func() { changed <- struct{}{} }))

		require.NoError(t, other.Save(ctx, testTokens("a1"), testUser()))
		select {
		case <-changed:
		case <-time.After(5 * time.Second):
			t.Fatal("expected a change notification")
		}
	})
}

func TestFileNameForOrigin(t *testing.T) {
	require.Equal(t, "session_https_helpdesk.example.com_8443.json", token.FileNameForOrigin("https://helpdesk.example.com:8443/api"))
	require.Equal(t, "session_not_a_url.json", token.FileNameForOrigin("not a url"))
}
