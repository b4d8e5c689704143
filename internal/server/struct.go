package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/instqa-go/internal/session"
	"github.com/54b3r/instqa-go/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response. It must
	// exceed AnswerTimeout. Defaults to the larger of two minutes and
	// AnswerTimeout plus a margin for retrieval and persistence.
	WriteTimeout time.Duration
	// AnswerTimeout is the bound on one answer service call.
	AnswerTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// Sessions implements the chat operations. Required.
	Sessions ChatService
	// Accounts implements signup, login and token authentication. Required.
	Accounts AccountService
	// TokenTTL is reported to clients as expires_in on login and signup.
	TokenTTL time.Duration
	// Metrics is the metric set shared with the session and retrieval layers.
	// If nil, a set is registered against MetricsRegistry.
	Metrics *Metrics
	// MetricsRegistry receives the server metrics. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer serves GET /metrics. Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// ChatService is the chat surface consumed by the handlers.
// *session.Service satisfies it; tests inject a fake.
type ChatService interface {
	// CreateChat creates a chat owned by user.
	CreateChat(ctx context.Context, user *store.User) (*store.Chat, error)
	// ListChats lists the chats visible to user.
	ListChats(ctx context.Context, user *store.User) ([]store.Chat, error)
	// DeleteChat deletes a chat the user owns (or any chat for admins).
	DeleteChat(ctx context.Context, chatID int64, user *store.User) error
	// GetMessages returns a chat's messages in order.
	GetMessages(ctx context.Context, chatID int64, user *store.User) ([]store.Message, error)
	// SendMessage runs one exchange.
	SendMessage(ctx context.Context, chatID int64, text string, user *store.User) (*session.Exchange, error)
	// Ask answers without persisting anything.
	Ask(ctx context.Context, question string) (string, error)
}

// AccountService is the account surface consumed by the handlers.
// *auth.Service satisfies it.
type AccountService interface {
	// Signup registers a non-admin user and returns a token.
	Signup(ctx context.Context, name, email, password string) (*store.User, string, error)
	// Login checks credentials and returns a token.
	Login(ctx context.Context, email, password string) (*store.User, string, error)
	// Authenticate resolves a bearer token to its user.
	Authenticate(ctx context.Context, token string) (*store.User, error)
}

// Server is the HTTP API in front of the session and account services.
type Server struct {
	// sessions implements the chat operations.
	sessions ChatService
	// accounts implements authentication.
	accounts AccountService
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus collectors.
	metrics *Metrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// signupRequest is the JSON body for POST /api/auth/signup.
type signupRequest struct {
	// Name is the display name.
	Name string `json:"name"`
	// Email is the login address.
	Email string `json:"email"`
	// Password is the plaintext password; never logged.
	Password string `json:"password"`
}

// loginRequest is the JSON body for POST /api/auth/login.
type loginRequest struct {
	// Email is the login address.
	Email string `json:"email"`
	// Password is the plaintext password; never logged.
	Password string `json:"password"`
}

// tokenResponse is returned by signup and login.
type tokenResponse struct {
	// AccessToken is the bearer token.
	AccessToken string `json:"access_token"`
	// TokenType is always "bearer".
	TokenType string `json:"token_type"`
	// ExpiresIn is the token lifetime in seconds.
	ExpiresIn int `json:"expires_in"`
	// User is the authenticated account.
	User *store.User `json:"user"`
}

// messageRequest is the JSON body for POST /api/chats/{id}/messages.
type messageRequest struct {
	// Content is the user's question.
	Content string `json:"content"`
}

// askRequest is the JSON body for POST /api/ask.
type askRequest struct {
	// Question is the user's question.
	Question string `json:"question"`
}

// askResponse is the JSON body returned by POST /api/ask.
type askResponse struct {
	// Answer is the generated answer.
	Answer string `json:"answer"`
}

// errorResponse is the JSON body for every non-2xx API response.
type errorResponse struct {
	// Error is a stable machine-readable kind.
	Error string `json:"error"`
	// Message is a human-readable description safe for end users.
	Message string `json:"message"`
}
