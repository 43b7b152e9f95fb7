package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/okvee/parlor/internal/auth"
	"github.com/okvee/parlor/internal/config"
	"github.com/okvee/parlor/internal/storage"
)

// Resolution failures. Any of these aborts a handshake before the
// connection acquires state.
var (
	ErrMissingCredential = errors.New("missing credential")
	ErrInvalidCredential = errors.New("invalid credential")
	ErrUnknownIdentity   = errors.New("unknown identity")
)

// Account management failures.
var (
	ErrUserExists         = errors.New("username already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidInput       = errors.New("invalid credentials payload")
)

// Identity is the stable user reference a connection carries for its
// lifetime.
type Identity struct {
	ID       string
	Username string
}

// Service resolves bearer credentials into identities and mints new
// ones for register/login requests.
type Service struct {
	cfg   config.JWTConfig
	store storage.Store
}

// NewService wires the identity service to its token config and store.
func NewService(cfg config.JWTConfig, store storage.Store) *Service {
	return &Service{cfg: cfg, store: store}
}

// Verify resolves a bearer credential to a stable identity. The
// subject must still exist in the store.
func (s *Service) Verify(ctx context.Context, credential string) (Identity, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return Identity{}, ErrMissingCredential
	}

	claims, err := auth.ParseToken(s.cfg, credential)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	user, err := s.store.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Identity{}, ErrUnknownIdentity
		}
		return Identity{}, fmt.Errorf("resolve identity: %w", err)
	}

	return Identity{ID: user.ID, Username: user.Username}, nil
}

// Register creates an account and returns it with a signed token.
func (s *Service) Register(ctx context.Context, username, email, password string) (*storage.User, string, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, "", ErrInvalidInput
	}

	if _, err := s.store.GetUserByUsername(ctx, username); err == nil {
		return nil, "", ErrUserExists
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, "", err
	}

	hashed, err := auth.HashPassword(password)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooShort) {
			return nil, "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return nil, "", err
	}

	now := time.Now().UTC()
	user := &storage.User{
		ID:        uuid.NewString(),
		Username:  username,
		Email:     strings.ToLower(strings.TrimSpace(email)),
		Password:  hashed,
		LastSeen:  now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, "", err
	}
	log.Info().Str("module", "identity").Str("user", user.Username).Msg("registered account")

	token, err := auth.NewToken(s.cfg, user.ID, user.Username)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// Login verifies a username/password pair and returns a fresh token.
func (s *Service) Login(ctx context.Context, username, password string) (*storage.User, string, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, "", ErrInvalidInput
	}

	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", err
	}

	if err := auth.ComparePassword(user.Password, password); err != nil {
		return nil, "", ErrInvalidCredentials
	}

	token, err := auth.NewToken(s.cfg, user.ID, user.Username)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// TokenTTL reports how long freshly minted tokens remain valid.
func (s *Service) TokenTTL() time.Duration {
	return s.cfg.Expiration
}
