package gcal

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/99designs/keyring"
	"golang.org/x/oauth2"

	"github.com/Tomlord1122/calendar-todo/internal/config"
)

const (
	keyringService = "calendar-todo"
	tokenKey       = "google-oauth-token"
)

// ErrNoToken means no Google token has been stored.
var ErrNoToken = errors.New("no google token stored")

// TokenStore keeps the Google OAuth token in a keyring.
type TokenStore struct {
	ring keyring.Keyring
}

func NewTokenStore(ring keyring.Keyring) *TokenStore {
	return &TokenStore{ring: ring}
}

// OpenTokenStore opens the keyring backend named by cfg. The file backend
// stores an encrypted file under cfg.Dir.
func OpenTokenStore(cfg config.Keyring) (*TokenStore, error) {
	backends, err := backendsFor(cfg.Backend)
	if err != nil {
		return nil, err
	}
	ring, err := keyring.Open(keyring.Config{
		ServiceName:              keyringService,
		AllowedBackends:          backends,
		FileDir:                  cfg.Dir,
		FilePasswordFunc:         keyring.FixedStringPrompt(cfg.Password),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return NewTokenStore(ring), nil
}

func backendsFor(name string) ([]keyring.BackendType, error) {
	switch strings.ToLower(name) {
	case "", "file":
		return []keyring.BackendType{keyring.FileBackend}, nil
	case "system", "auto":
		return []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		}, nil
	case "keychain":
		return []keyring.BackendType{keyring.KeychainBackend}, nil
	case "secret-service":
		return []keyring.BackendType{keyring.SecretServiceBackend}, nil
	case "wincred":
		return []keyring.BackendType{keyring.WinCredBackend}, nil
	case "pass":
		return []keyring.BackendType{keyring.PassBackend}, nil
	default:
		return nil, fmt.Errorf("unknown KEYRING_BACKEND %q", name)
	}
}

func (s *TokenStore) Load() (*oauth2.Token, error) {
	item, err := s.ring.Get(tokenKey)
	if err != nil {
		if isMissing(err) {
			return nil, ErrNoToken
		}
		return nil, fmt.Errorf("getting credential %q: %w", tokenKey, err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(item.Data, &tok); err != nil {
		return nil, fmt.Errorf("decoding credential %q: %w", tokenKey, err)
	}
	return &tok, nil
}

func (s *TokenStore) Save(tok *oauth2.Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encoding token: %w", err)
	}
	err = s.ring.Set(keyring.Item{
		Key:   tokenKey,
		Data:  data,
		Label: "Calendar Todo Google token",
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", tokenKey, err)
	}
	return nil
}

// Delete removes the token. Deleting a missing token is not an error.
func (s *TokenStore) Delete() error {
	if err := s.ring.Remove(tokenKey); err != nil && !isMissing(err) {
		return fmt.Errorf("deleting credential %q: %w", tokenKey, err)
	}
	return nil
}

// isMissing covers the file backend too, which reports a missing item as a
// plain not-exist error.
func isMissing(err error) bool {
	return errors.Is(err, keyring.ErrKeyNotFound) || errors.Is(err, fs.ErrNotExist)
}
