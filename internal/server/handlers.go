package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/54b3r/instqa-go/internal/auth"
	"github.com/54b3r/instqa-go/internal/logging"
	"github.com/54b3r/instqa-go/internal/session"
	"github.com/54b3r/instqa-go/internal/store"
)

// statusForKind maps a session error kind to its HTTP status.
func statusForKind(k session.Kind) int {
	switch k {
	case session.KindNotFound, session.KindContextNotFound:
		return http.StatusNotFound
	case session.KindForbidden:
		return http.StatusForbidden
	case session.KindRetrievalFailed:
		return http.StatusServiceUnavailable
	case session.KindUpstreamFailed, session.KindMalformedUpstream:
		return http.StatusBadGateway
	case session.KindInvalid:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeSessionError renders err. Operator detail is logged, never returned.
func writeSessionError(w http.ResponseWriter, r *http.Request, err error) {
	log := logging.FromContext(r.Context())
	var se *session.Error
	if !errors.As(err, &se) {
		log.Error("unexpected handler error", slog.Any("error", err))
		writeError(w, r, http.StatusInternalServerError, string(session.KindInternal), "internal error")
		return
	}
	status := statusForKind(se.Kind)
	if status >= http.StatusInternalServerError {
		log.Error("request failed",
			slog.String("kind", string(se.Kind)),
			slog.String("detail", se.Detail),
		)
	}
	writeError(w, r, status, string(se.Kind), se.Message)
}

// chatID parses the {id} path value. It writes a 400 and returns false when
// the value is not a positive integer.
func chatID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, http.StatusBadRequest, string(session.KindInvalid), "chat id must be a positive integer")
		return 0, false
	}
	return id, true
}

// ---------------------------------------------------------------------------
// Accounts
// ---------------------------------------------------------------------------

// handleSignup handles POST /api/auth/signup.
func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	u, token, err := s.accounts.Signup(r.Context(), req.Name, req.Email, req.Password)
	switch {
	case errors.Is(err, store.ErrEmailTaken):
		writeError(w, r, http.StatusConflict, "conflict", "email already registered")
		return
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, string(session.KindInvalid), err.Error())
		return
	case err != nil:
		logging.FromContext(r.Context()).Error("signup failed", slog.Any("error", err))
		writeError(w, r, http.StatusInternalServerError, string(session.KindInternal), "internal error")
		return
	}
	writeJSON(w, r, http.StatusCreated, s.tokenResponse(u, token))
}

// handleLogin handles POST /api/auth/login.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	u, token, err := s.accounts.Login(r.Context(), req.Email, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		w.Header().Set("WWW-Authenticate", `Bearer realm="instqa"`)
		writeError(w, r, http.StatusUnauthorized, "unauthorized", "invalid email or password")
		return
	}
	if err != nil {
		logging.FromContext(r.Context()).Error("login failed", slog.Any("error", err))
		writeError(w, r, http.StatusInternalServerError, string(session.KindInternal), "internal error")
		return
	}
	writeJSON(w, r, http.StatusOK, s.tokenResponse(u, token))
}

// handleMe handles GET /api/auth/me.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, userFrom(r.Context()))
}

func (s *Server) tokenResponse(u *store.User, token string) tokenResponse {
	ttl := s.cfg.TokenTTL
	if ttl <= 0 {
		ttl = auth.DefaultTokenTTL
	}
	return tokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int(ttl.Seconds()),
		User:        u,
	}
}

// ---------------------------------------------------------------------------
// Chats
// ---------------------------------------------------------------------------

// handleListChats handles GET /api/chats.
func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	chats, err := s.sessions.ListChats(r.Context(), userFrom(r.Context()))
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, chats)
}

// handleCreateChat handles POST /api/chats.
func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	c, err := s.sessions.CreateChat(r.Context(), userFrom(r.Context()))
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, c)
}

// handleDeleteChat handles DELETE /api/chats/{id}.
func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	id, ok := chatID(w, r)
	if !ok {
		return
	}
	if err := s.sessions.DeleteChat(r.Context(), id, userFrom(r.Context())); err != nil {
		writeSessionError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetMessages handles GET /api/chats/{id}/messages.
func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := chatID(w, r)
	if !ok {
		return
	}
	msgs, err := s.sessions.GetMessages(r.Context(), id, userFrom(r.Context()))
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, msgs)
}

// handleSendMessage handles POST /api/chats/{id}/messages. On success the
// response holds the persisted user and bot messages in that order.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := chatID(w, r)
	if !ok {
		return
	}
	var req messageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ex, err := s.sessions.SendMessage(r.Context(), id, req.Content, userFrom(r.Context()))
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, ex)
}

// handleAsk handles POST /api/ask: a one-shot answer with no persistence.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	answer, err := s.sessions.Ask(r.Context(), req.Question)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, askResponse{Answer: answer})
}
