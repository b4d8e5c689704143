package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/54b3r/instqa-go/internal/auth"
	"github.com/54b3r/instqa-go/internal/store"
)

// fakeAccounts is a test double for AccountService. Only "good-token"
// authenticates; "broken-token" simulates a store failure.
type fakeAccounts struct {
	// user is returned for "good-token".
	user *store.User
}

func (f *fakeAccounts) Signup(context.Context, string, string, string) (*store.User, string, error) {
	return nil, "", errors.New("not implemented")
}

func (f *fakeAccounts) Login(context.Context, string, string) (*store.User, string, error) {
	return nil, "", errors.New("not implemented")
}

func (f *fakeAccounts) Authenticate(_ context.Context, token string) (*store.User, error) {
	switch token {
	case "good-token":
		return f.user, nil
	case "broken-token":
		return nil, errors.New("database is locked")
	default:
		return nil, auth.ErrInvalidToken
	}
}

// userEcho writes 200 when a user is present in the context.
var userEcho = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	if userFrom(r.Context()) == nil {
		w.WriteHeader(http.StatusTeapot)
		return
	}
	w.WriteHeader(http.StatusOK)
})

func TestAuthMiddleware(t *testing.T) {
	t.Parallel()

	h := authMiddleware(&fakeAccounts{user: &store.User{ID: 1}}, userEcho)

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantChall  bool
	}{
		{"missing header", "", http.StatusUnauthorized, true},
		{"wrong token", "Bearer nope", http.StatusUnauthorized, true},
		{"malformed header", "Token good-token", http.StatusUnauthorized, true},
		{"valid token", "Bearer good-token", http.StatusOK, false},
		{"case-insensitive scheme", "bearer good-token", http.StatusOK, false},
		{"store failure", "Bearer broken-token", http.StatusInternalServerError, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, "/api/chats", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status: got %d, want %d", w.Code, tt.wantStatus)
			}
			if got := w.Header().Get("WWW-Authenticate") != ""; got != tt.wantChall {
				t.Errorf("WWW-Authenticate present: got %v, want %v", got, tt.wantChall)
			}
		})
	}
}

// TestBearerToken verifies extraction from the Authorization header.
func TestBearerToken(t *testing.T) {
	t.Parallel()

	cases := []struct {
		header string
		want   string
	}{
		{"Bearer abc123", "abc123"},
		{"bearer abc123", "abc123"},
		{"BEARER abc123", "abc123"},
		{"Bearer  abc123 ", "abc123"},
		{"Token abc123", ""},
		{"abc123", ""},
		{"", ""},
	}

	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		if got := bearerToken(req); got != tc.want {
			t.Errorf("header=%q: expected %q, got %q", tc.header, tc.want, got)
		}
	}
}
