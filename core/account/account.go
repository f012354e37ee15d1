// Package account bootstraps and persists the ACME account state shared by
// every domain run. The state lives in a single JSON file; its presence is
// the sole idempotency signal, so a second Ensure call with the same path
// performs zero network calls.
package account

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

var (
	// ErrStateCorrupted is returned when the persisted state file exists but
	// cannot be parsed. The file is never overwritten in that case; operator
	// intervention is required.
	ErrStateCorrupted = errors.New("persisted account state is corrupted")
)

const ecPrivateKeyBlock = "EC PRIVATE KEY"

// State is the durable ACME account identity: where the CA lives, which key
// signs requests, and the account URL the CA assigned at registration.
type State struct {
	DirectoryURL string
	Email        string
	AccountURL   string
	Key          *ecdsa.PrivateKey
}

type persistedState struct {
	DirectoryURL string `json:"directory_url"`
	Email        string `json:"email"`
	AccountURL   string `json:"account_url"`
	KeyPEM       string `json:"account_key_pem"`
}

// RegisterFunc registers a fresh account key with the CA and returns the
// account URL. It is only invoked when no persisted state exists.
type RegisterFunc func(ctx context.Context, key crypto.Signer, email string) (string, error)

// Store manages the account state file at a fixed path.
type Store struct {
	path   string
	logger *slog.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger attaches a logger; by default the store is silent.
func WithLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// DefaultPath is the conventional account state location under the system
// temporary directory.
func DefaultPath() string {
	return filepath.Join(os.TempDir(), "acme", "account.json")
}

// NewStore creates a store for the state file at path.
func NewStore(path string, opts ...StoreOption) *Store {
	s := &Store{
		path:   path,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the state file location.
func (s *Store) Path() string {
	return s.path
}

// Ensure returns the persisted account state, creating and registering a new
// account when none exists yet. Loading an existing state performs no network
// calls. A failed bootstrap leaves no state file behind, so the next run
// retries registration from scratch.
func (s *Store) Ensure(ctx context.Context, directoryURL, email string, register RegisterFunc) (*State, error) {
	if st, err := s.load(); err == nil {
		s.logger.DebugContext(ctx, "account state loaded", slog.String("path", s.path))
		return st, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	s.logger.InfoContext(ctx, "no account state found, registering new account",
		slog.String("directory_url", directoryURL))

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate account key: %w", err)
	}

	accountURL, err := register(ctx, key, email)
	if err != nil {
		return nil, fmt.Errorf("register account: %w", err)
	}

	st := &State{
		DirectoryURL: directoryURL,
		Email:        email,
		AccountURL:   accountURL,
		Key:          key,
	}
	if err := s.save(st); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "account registered",
		slog.String("account_url", accountURL),
		slog.String("path", s.path))

	return st, nil
}

func (s *Store) load() (*State, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, os.ErrNotExist
		}
		return nil, fmt.Errorf("read account state: %w", err)
	}

	var p persistedState
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrStateCorrupted, s.path, err)
	}

	block, _ := pem.Decode([]byte(p.KeyPEM))
	if block == nil || block.Type != ecPrivateKeyBlock {
		return nil, fmt.Errorf("%w: %s: account key is not an EC private key", ErrStateCorrupted, s.path)
	}
	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrStateCorrupted, s.path, err)
	}

	return &State{
		DirectoryURL: p.DirectoryURL,
		Email:        p.Email,
		AccountURL:   p.AccountURL,
		Key:          key,
	}, nil
}

// save writes the state atomically: temp file in the same directory, then
// rename. File mode is 0600 since the account key is secret material.
func (s *Store) save(st *State) error {
	der, err := x509.MarshalECPrivateKey(st.Key)
	if err != nil {
		return fmt.Errorf("marshal account key: %w", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: ecPrivateKeyBlock, Bytes: der})

	raw, err := json.MarshalIndent(persistedState{
		DirectoryURL: st.DirectoryURL,
		Email:        st.Email,
		AccountURL:   st.AccountURL,
		KeyPEM:       string(keyPEM),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode account state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create account state directory: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, raw, 0o600); err != nil {
		return fmt.Errorf("write account state: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("save account state: %w", err)
	}

	return nil
}
