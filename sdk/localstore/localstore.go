// Package localstore persists the few values a client keeps between runs:
// the auth token and the UI theme.
package localstore

import (
	"errors"
	"fmt"
	"os"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

const (
	keyToken  = "session:token"
	keyUserId = "session:user_id"
	keyTheme  = "pref:theme"
)

// Theme names understood by clients
const (
	ThemeLight = "light"
	ThemeDark  = "dark"
)

// DefaultTheme is returned when no theme was saved
const DefaultTheme = ThemeLight

// Store is a small pebble-backed key/value file
type Store struct {
	db *pebble.DB
}

// Open opens (or creates) the store under dir
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens a store that lives only as long as the process
func OpenInMemory() (*Store, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Session returns the saved token and user id. ok is false when nothing is saved.
func (s *Store) Session() (token, userId string, ok bool, err error) {
	token, err = s.get(keyToken)
	if err != nil || token == "" {
		return "", "", false, err
	}
	userId, err = s.get(keyUserId)
	if err != nil {
		return "", "", false, err
	}
	return token, userId, true, nil
}

// SaveSession stores the token and its user id
func (s *Store) SaveSession(token, userId string) error {
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set([]byte(keyToken), []byte(token), nil); err != nil {
		return err
	}
	if err := b.Set([]byte(keyUserId), []byte(userId), nil); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

// ClearSession forgets the token
func (s *Store) ClearSession() error {
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Delete([]byte(keyToken), nil); err != nil {
		return err
	}
	if err := b.Delete([]byte(keyUserId), nil); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

// Theme returns the saved theme or DefaultTheme
func (s *Store) Theme() (string, error) {
	v, err := s.get(keyTheme)
	if err != nil {
		return "", err
	}
	if v == "" {
		return DefaultTheme, nil
	}
	return v, nil
}

// SetTheme saves the theme
func (s *Store) SetTheme(theme string) error {
	if theme != ThemeLight && theme != ThemeDark {
		return fmt.Errorf("unknown theme %q", theme)
	}
	return s.db.Set([]byte(keyTheme), []byte(theme), pebble.Sync)
}

func (s *Store) get(key string) (string, error) {
	v, closer, err := s.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", key, err)
	}
	defer closer.Close()
	return string(v), nil
}
