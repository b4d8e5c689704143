package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/54b3r/instqa-go/internal/logging"
	"github.com/54b3r/instqa-go/internal/store"
)

var (
	// ErrInvalidCredentials is returned by Login for an unknown email or a
	// wrong password. The two cases are not distinguished.
	ErrInvalidCredentials = errors.New("auth: invalid email or password")
	// ErrInvalidInput is wrapped by Signup validation failures.
	ErrInvalidInput = errors.New("auth: invalid input")
)

// UserStore is the subset of the store used for accounts.
type UserStore interface {
	// CreateUser inserts a user; returns store.ErrEmailTaken on duplicates.
	CreateUser(ctx context.Context, name, email, passwordHash string, isAdmin bool) (*store.User, error)
	// GetUser returns a user by ID or store.ErrNotFound.
	GetUser(ctx context.Context, id int64) (*store.User, error)
	// GetUserByEmail returns a user by email or store.ErrNotFound.
	GetUserByEmail(ctx context.Context, email string) (*store.User, error)
}

// Service implements signup, login and token authentication.
type Service struct {
	// users is the account store.
	users UserStore
	// issuer signs and verifies tokens.
	issuer *Issuer
}

// NewService constructs a Service.
func NewService(users UserStore, issuer *Issuer) *Service {
	return &Service{users: users, issuer: issuer}
}

// Issuer returns the token issuer.
func (s *Service) Issuer() *Issuer { return s.issuer }

// CreateUser validates the input, hashes the password and stores the user.
// Only the CLI creates admins; the signup route always passes isAdmin=false.
func (s *Service) CreateUser(ctx context.Context, name, email, password string, isAdmin bool) (*store.User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if _, err := mail.ParseAddress(strings.TrimSpace(email)); err != nil {
		return nil, fmt.Errorf("%w: email %q is not valid", ErrInvalidInput, email)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	u, err := s.users.CreateUser(ctx, name, email, hash, isAdmin)
	if err != nil {
		return nil, err
	}
	logging.FromContext(ctx).Info("auth: user created",
		slog.Int64("user_id", u.ID),
		slog.Bool("admin", u.IsAdmin),
	)
	return u, nil
}

// Signup registers a non-admin user and returns it with a fresh token.
func (s *Service) Signup(ctx context.Context, name, email, password string) (*store.User, string, error) {
	u, err := s.CreateUser(ctx, name, email, password, false)
	if err != nil {
		return nil, "", err
	}
	token, err := s.issuer.Issue(u.ID)
	if err != nil {
		return nil, "", err
	}
	return u, token, nil
}

// Login checks the credentials and returns the user with a fresh token.
func (s *Service) Login(ctx context.Context, email, password string) (*store.User, string, error) {
	u, err := s.users.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, "", ErrInvalidCredentials
	}
	if err != nil {
		return nil, "", err
	}
	if err := CheckPassword(u.PasswordHash, password); err != nil {
		if errors.Is(err, ErrWrongPassword) {
			logging.FromContext(ctx).Warn("auth: failed login", slog.Int64("user_id", u.ID))
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", err
	}
	token, err := s.issuer.Issue(u.ID)
	if err != nil {
		return nil, "", err
	}
	return u, token, nil
}

// Authenticate verifies token and loads the user it belongs to. A token for a
// deleted user is reported as ErrInvalidToken.
func (s *Service) Authenticate(ctx context.Context, token string) (*store.User, error) {
	id, err := s.issuer.Verify(token)
	if err != nil {
		return nil, err
	}
	u, err := s.users.GetUser(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: user %d no longer exists", ErrInvalidToken, id)
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}
