package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	apperrors "github.com/jrsteele09/helpdesk-session/internal/errors"
	"github.com/jrsteele09/helpdesk-session/users"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// FileStore persists the session as one JSON document holding the tokens and
// user keys. Writes go to a temp file that is renamed over the old one, so a
// reader sees either the previous document or the new one.
type FileStore struct {
	path string
	mu   sync.Mutex
	log  zerolog.Logger
}

var (
	_ Store          = (*FileStore)(nil)
	_ ChangeNotifier = (*FileStore)(nil)
)

type fileDocument struct {
	Tokens *Set            `json:"tokens,omitempty"`
	User   *users.Identity `json:"user,omitempty"`
}

// NewFileStore creates a store for the session of origin (the API base URL)
// inside folder. Each origin gets its own file.
func NewFileStore(folder, origin string) (*FileStore, error) {
	if err := os.MkdirAll(folder, 0o700); err != nil {
		return nil, fmt.Errorf("[token.NewFileStore] create folder: %w", err)
	}
	return &FileStore{
		path: filepath.Join(folder, FileNameForOrigin(origin)),
		log:  log.With().Str("component", "token.FileStore").Logger(),
	}, nil
}

// FileNameForOrigin maps a base URL to a file name scoped to its scheme, host and port.
func FileNameForOrigin(origin string) string {
	return "session_" + OriginKey(origin) + ".json"
}

// OriginKey reduces a base URL to a key-safe "<scheme>_<host>_<port>" name.
func OriginKey(origin string) string {
	name := origin
	if u, err := url.Parse(origin); err == nil && u.Host != "" {
		name = u.Scheme + "_" + u.Host
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		}
		return '_'
	}, name)
}

func (f *FileStore) Path() string {
	return f.path
}

func (f *FileStore) Save(_ context.Context, tokens *Set, user *users.Identity) error {
	if err := validateSave(tokens); err != nil {
		return err
	}

	data, err := json.MarshalIndent(fileDocument{Tokens: tokens, User: user}, "", "  ")
	if err != nil {
		return fmt.Errorf("[FileStore.Save] marshal: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("[FileStore.Save] create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("[FileStore.Save] chmod: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("[FileStore.Save] write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("[FileStore.Save] sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("[FileStore.Save] close: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("[FileStore.Save] rename: %w", err)
	}
	return nil
}

func (f *FileStore) Load(ctx context.Context) (*Set, error) {
	tokens, _, err := f.Snapshot(ctx)
	return tokens, err
}

func (f *FileStore) CurrentUser(ctx context.Context) (*users.Identity, error) {
	_, user, err := f.Snapshot(ctx)
	return user, err
}

func (f *FileStore) Snapshot(_ context.Context) (*Set, *users.Identity, error) {
	f.mu.Lock()
	data, err := os.ReadFile(f.path)
	f.mu.Unlock()

	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("[FileStore.Snapshot] read: %w", err)
	}

	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("[FileStore.Snapshot] %w: %v", apperrors.ErrStoreCorrupt, err)
	}
	if doc.Tokens == nil || doc.Tokens.AccessToken == "" {
		return nil, nil, nil
	}
	return doc.Tokens, doc.User, nil
}

func (f *FileStore) Clear(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("[FileStore.Clear] remove: %w", err)
	}
	return nil
}

// Watch calls onChange whenever the session file is written, replaced or
// removed, including by other processes. It returns once the watch is
// established and stops when ctx is done.
func (f *FileStore) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("[FileStore.Watch] new watcher: %w", err)
	}
	// The directory is watched because Save replaces the file by rename.
	if err := watcher.Add(filepath.Dir(f.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("[FileStore.Watch] add: %w", err)
	}

	go func() {
		defer watcher.Close()
		name := filepath.Base(f.path)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != name {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
					onChange()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				f.log.Err(err).Msg("Session file watch error")
			}
		}
	}()
	return nil
}
