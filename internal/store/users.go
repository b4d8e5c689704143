package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// User is a registered account.
type User struct {
	// ID is the database identifier.
	ID int64 `json:"id"`
	// Name is the display name.
	Name string `json:"name"`
	// Email is the unique, lowercased login address.
	Email string `json:"email"`
	// PasswordHash is the bcrypt hash of the password. Never serialised.
	PasswordHash string `json:"-"`
	// IsAdmin grants access to every chat.
	IsAdmin bool `json:"is_admin"`
	// CreatedAt is when the account was created.
	CreatedAt time.Time `json:"created_at"`
}

// NormalizeEmail lowercases and trims an email address so lookups are
// case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateUser inserts a new user and returns it with ID and CreatedAt set.
// It returns ErrEmailTaken if the email is already registered.
func (s *SQLiteStore) CreateUser(ctx context.Context, name, email, passwordHash string, isAdmin bool) (*User, error) {
	u := &User{
		Name:         strings.TrimSpace(name),
		Email:        NormalizeEmail(email),
		PasswordHash: passwordHash,
		IsAdmin:      isAdmin,
		CreatedAt:    s.now().UTC(),
	}
	const q = `INSERT INTO users (name, email, password_hash, is_admin, created_at) VALUES (?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, q, u.Name, u.Email, u.PasswordHash, boolToInt(u.IsAdmin), u.CreatedAt.UnixNano())
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("store: create user: %w", err)
	}
	if u.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("store: create user id: %w", err)
	}
	return u, nil
}

// GetUser returns the user with the given ID or ErrNotFound.
func (s *SQLiteStore) GetUser(ctx context.Context, id int64) (*User, error) {
	const q = `SELECT id, name, email, password_hash, is_admin, created_at FROM users WHERE id = ?`
	return s.scanUser(s.db.QueryRowContext(ctx, q, id))
}

// GetUserByEmail returns the user with the given email or ErrNotFound.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	const q = `SELECT id, name, email, password_hash, is_admin, created_at FROM users WHERE email = ?`
	return s.scanUser(s.db.QueryRowContext(ctx, q, NormalizeEmail(email)))
}

// DeleteUser removes a user together with their chats and messages.
func (s *SQLiteStore) DeleteUser(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete user: %w", err)
	}
	return requireAffected(res, "delete user")
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*User, error) {
	var (
		u     User
		admin int
		ts    int64
	)
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &admin, &ts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get user: %w", err)
	}
	u.IsAdmin = admin != 0
	u.CreatedAt = time.Unix(0, ts).UTC()
	return &u, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// requireAffected maps a zero-row write to ErrNotFound.
func requireAffected(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: %s: %w", op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
