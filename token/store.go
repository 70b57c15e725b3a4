package token

import (
	"context"
	"sync"

	"github.com/jrsteele09/helpdesk-session/users"
)

// Persisted layout: two keys written together and removed together.
const (
	TokensKey = "tokens"
	UserKey   = "user"
)

// Store is the only holder of the session's tokens and user snapshot.
// Save writes both in one logical operation; no reader can observe the new
// tokens with the old user or vice versa.
type Store interface {
	Save(ctx context.Context, tokens *Set, user *users.Identity) error
	// Load returns nil, nil when no session is stored.
	Load(ctx context.Context) (*Set, error)
	CurrentUser(ctx context.Context) (*users.Identity, error)
	// Snapshot returns tokens and user as read in one operation.
	Snapshot(ctx context.Context) (*Set, *users.Identity, error)
	Clear(ctx context.Context) error
}

// ChangeNotifier is implemented by stores that can report changes made
// outside this process (e.g. a logout in another terminal).
type ChangeNotifier interface {
	Watch(ctx context.Context, onChange func()) error
}

// MemoryStore keeps the session in process memory only.
type MemoryStore struct {
	mu     sync.RWMutex
	tokens *Set
	user   *users.Identity
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Save(_ context.Context, tokens *Set, user *users.Identity) error {
	if err := validateSave(tokens); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = tokens.Clone()
	m.user = user.Clone()
	return nil
}

func (m *MemoryStore) Load(_ context.Context) (*Set, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tokens.Clone(), nil
}

func (m *MemoryStore) CurrentUser(_ context.Context) (*users.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.user.Clone(), nil
}

func (m *MemoryStore) Snapshot(_ context.Context) (*Set, *users.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tokens.Clone(), m.user.Clone(), nil
}

func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = nil
	m.user = nil
	return nil
}
