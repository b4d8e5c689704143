// Package session owns the chat and message lifecycle: ownership checks on
// every operation and the two-phase write around one question-and-answer
// exchange.
//
// An exchange moves through Received, Authorized, Retrieved, Answered and
// Persisted. The user message is committed before retrieval runs and is kept
// when a later step fails; the bot message is committed only after the answer
// service succeeds. Every failure is returned as *Error with a stable Kind.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/54b3r/instqa-go/internal/answer"
	"github.com/54b3r/instqa-go/internal/logging"
	"github.com/54b3r/instqa-go/internal/retrieval"
	"github.com/54b3r/instqa-go/internal/store"
)

// MaxMessageRunes bounds the length of one user message.
const MaxMessageRunes = 4000

// OutcomeOK is reported to Config.Observe for a successful exchange.
const OutcomeOK = "ok"

// Store is the persistence used by the Service.
type Store interface {
	// CreateChat inserts a chat owned by userID.
	CreateChat(ctx context.Context, userID int64) (*store.Chat, error)
	// GetChat returns a chat or store.ErrNotFound.
	GetChat(ctx context.Context, id int64) (*store.Chat, error)
	// ListChats returns the chats of userID, or every chat when userID is 0.
	ListChats(ctx context.Context, userID int64) ([]store.Chat, error)
	// DeleteChat removes a chat and its messages.
	DeleteChat(ctx context.Context, id int64) error
	// AppendMessage persists one message.
	AppendMessage(ctx context.Context, chatID int64, sender store.Sender, content string) (*store.Message, error)
	// ListMessages returns the messages of a chat in order.
	ListMessages(ctx context.Context, chatID int64) ([]store.Message, error)
}

// Retriever produces the context for a question.
type Retriever interface {
	// Retrieve never fails; failures are reported through Result.Status.
	Retrieve(ctx context.Context, query string, k int) retrieval.Result
}

// Exchange is the result of a successful SendMessage, in (user, bot) order.
type Exchange struct {
	// User is the persisted question.
	User store.Message `json:"user_message"`
	// Bot is the persisted answer.
	Bot store.Message `json:"bot_message"`
}

// Config holds the dependencies of a Service.
type Config struct {
	// Store persists chats and messages.
	Store Store
	// Retriever produces the context for each question.
	Retriever Retriever
	// Answerer generates the answer from question and context.
	Answerer answer.Answerer
	// Observe, when set, receives the outcome (OutcomeOK or a Kind) and
	// duration of every SendMessage and Ask call.
	Observe func(outcome string, elapsed time.Duration)
}

// Service implements the chat operations. It holds no per-request state and
// is safe for concurrent use; concurrent exchanges are not serialised.
type Service struct {
	// store persists chats and messages.
	store Store
	// retriever produces the context.
	retriever Retriever
	// answerer generates answers.
	answerer answer.Answerer
	// observe receives exchange outcomes.
	observe func(string, time.Duration)
}

// New constructs a Service from cfg.
func New(cfg Config) (*Service, error) {
	if cfg.Store == nil || cfg.Retriever == nil || cfg.Answerer == nil {
		return nil, fmt.Errorf("session: store, retriever and answerer are required")
	}
	observe := cfg.Observe
	if observe == nil {
		observe = func(string, time.Duration) {}
	}
	return &Service{store: cfg.Store, retriever: cfg.Retriever, answerer: cfg.Answerer, observe: observe}, nil
}

// CreateChat creates a chat owned by user.
func (s *Service) CreateChat(ctx context.Context, user *store.User) (*store.Chat, error) {
	c, err := s.store.CreateChat(ctx, user.ID)
	if err != nil {
		return nil, newError(KindInternal, "could not create chat", err)
	}
	logging.FromContext(ctx).Info("session: chat created",
		slog.Int64("chat_id", c.ID),
		slog.Int64("user_id", user.ID),
	)
	return c, nil
}

// ListChats returns every chat for an admin and the caller's own chats otherwise.
func (s *Service) ListChats(ctx context.Context, user *store.User) ([]store.Chat, error) {
	owner := user.ID
	if user.IsAdmin {
		owner = 0
	}
	chats, err := s.store.ListChats(ctx, owner)
	if err != nil {
		return nil, newError(KindInternal, "could not list chats", err)
	}
	return chats, nil
}

// DeleteChat deletes a chat and its messages.
func (s *Service) DeleteChat(ctx context.Context, chatID int64, user *store.User) error {
	if _, err := s.authorize(ctx, chatID, user); err != nil {
		return err
	}
	if err := s.store.DeleteChat(ctx, chatID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return newError(KindNotFound, "chat not found", nil)
		}
		return newError(KindInternal, "could not delete chat", err)
	}
	logging.FromContext(ctx).Info("session: chat deleted",
		slog.Int64("chat_id", chatID),
		slog.Int64("user_id", user.ID),
	)
	return nil
}

// GetMessages returns the messages of a chat in insertion order.
func (s *Service) GetMessages(ctx context.Context, chatID int64, user *store.User) ([]store.Message, error) {
	if _, err := s.authorize(ctx, chatID, user); err != nil {
		return nil, err
	}
	msgs, err := s.store.ListMessages(ctx, chatID)
	if err != nil {
		return nil, newError(KindInternal, "could not load messages", err)
	}
	return msgs, nil
}

// SendMessage runs one exchange on chatID: persist the question, retrieve
// context, call the answer service, persist the answer.
func (s *Service) SendMessage(ctx context.Context, chatID int64, text string, user *store.User) (ex *Exchange, err error) {
	start := time.Now()
	defer func() { s.observe(outcome(err), time.Since(start)) }()

	log := logging.FromContext(ctx).With(
		slog.Int64("chat_id", chatID),
		slog.Int64("user_id", user.ID),
	)

	text = strings.TrimSpace(text)
	if err := validateText(text); err != nil {
		return nil, err
	}
	if _, err := s.authorize(ctx, chatID, user); err != nil {
		return nil, err
	}

	userMsg, err := s.store.AppendMessage(ctx, chatID, store.SenderUser, text)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, newError(KindNotFound, "chat not found", nil)
		}
		return nil, newError(KindInternal, "could not save message", err)
	}

	document, rerr := s.retrieve(ctx, text)
	if rerr != nil {
		log.Warn("session: exchange stopped at retrieval", slog.String("kind", string(rerr.Kind)))
		return nil, rerr
	}

	reply, aerr := s.callAnswerer(ctx, log, text, document)
	if aerr != nil {
		return nil, aerr
	}

	botMsg, err := s.store.AppendMessage(ctx, chatID, store.SenderBot, reply)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Chat deleted while the answer was being generated.
			return nil, newError(KindNotFound, "chat not found", nil)
		}
		return nil, newError(KindInternal, "could not save answer", err)
	}

	log.Info("session: exchange completed",
		slog.Int64("user_message_id", userMsg.ID),
		slog.Int64("bot_message_id", botMsg.ID),
		slog.Duration("elapsed", time.Since(start)),
	)
	return &Exchange{User: *userMsg, Bot: *botMsg}, nil
}

// Ask answers a question without a chat. Nothing is persisted.
func (s *Service) Ask(ctx context.Context, question string) (reply string, err error) {
	start := time.Now()
	defer func() { s.observe(outcome(err), time.Since(start)) }()

	question = strings.TrimSpace(question)
	if err := validateText(question); err != nil {
		return "", err
	}
	document, rerr := s.retrieve(ctx, question)
	if rerr != nil {
		return "", rerr
	}
	reply, aerr := s.callAnswerer(ctx, logging.FromContext(ctx), question, document)
	if aerr != nil {
		return "", aerr
	}
	return reply, nil
}

// authorize loads the chat and checks that user owns it or is an admin.
// Evaluated on every call; nothing is cached.
func (s *Service) authorize(ctx context.Context, chatID int64, user *store.User) (*store.Chat, error) {
	if user == nil {
		return nil, newError(KindForbidden, "authentication required", nil)
	}
	c, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, newError(KindNotFound, "chat not found", nil)
		}
		return nil, newError(KindInternal, "could not load chat", err)
	}
	if c.UserID != user.ID && !user.IsAdmin {
		logging.FromContext(ctx).Warn("session: forbidden chat access",
			slog.Int64("chat_id", chatID),
			slog.Int64("user_id", user.ID),
			slog.Int64("owner_id", c.UserID),
		)
		return nil, newError(KindForbidden, "you do not have access to this chat", nil)
	}
	return c, nil
}

// retrieve maps the retrieval status to a typed error.
func (s *Service) retrieve(ctx context.Context, question string) (string, *Error) {
	res := s.retriever.Retrieve(ctx, question, 0)
	switch res.Status {
	case retrieval.StatusOK:
		return res.Context, nil
	case retrieval.StatusNoContext:
		return "", newError(KindContextNotFound, retrieval.NoContextMessage, nil)
	default:
		return "", newError(KindRetrievalFailed, retrieval.ErrorMessage, nil)
	}
}

// callAnswerer invokes the answer service and classifies its failures.
func (s *Service) callAnswerer(ctx context.Context, log *slog.Logger, question, document string) (string, *Error) {
	reply, err := s.answerer.Answer(ctx, question, document)
	if err == nil {
		return reply, nil
	}

	var upErr *answer.UpstreamError
	switch {
	case errors.Is(err, answer.ErrMalformedResponse):
		log.Error("session: malformed answer", slog.String("error", err.Error()))
		return "", newError(KindMalformedUpstream, "the answer service returned an unexpected response", err)
	case errors.As(err, &upErr):
		log.Error("session: answer service failed",
			slog.Int("upstream_status", upErr.Status),
			slog.String("upstream_body", upErr.Body),
			slog.String("error", err.Error()),
		)
		e := newError(KindUpstreamFailed, "the answer service is unavailable", err)
		if upErr.Status != 0 {
			e.Detail = fmt.Sprintf("upstream status %d: %s", upErr.Status, upErr.Body)
		}
		return "", e
	default:
		log.Error("session: answer call failed", slog.String("error", err.Error()))
		return "", newError(KindUpstreamFailed, "the answer service is unavailable", err)
	}
}

func validateText(text string) *Error {
	if text == "" {
		return newError(KindInvalid, "message must not be empty", nil)
	}
	if utf8.RuneCountInString(text) > MaxMessageRunes {
		return newError(KindInvalid, fmt.Sprintf("message must be at most %d characters", MaxMessageRunes), nil)
	}
	return nil
}

// outcome labels err for metrics.
func outcome(err error) string {
	if err == nil {
		return OutcomeOK
	}
	var se *Error
	if errors.As(err, &se) {
		return string(se.Kind)
	}
	return string(KindInternal)
}
