package answer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/instqa-go/internal/budget"
	"github.com/54b3r/instqa-go/internal/logging"
	"github.com/54b3r/instqa-go/internal/retrieval"
)

// systemPrompt instructs the model to stay within the retrieved document.
const systemPrompt = `You are a customer assistant for a single institution.
Answer the user's question using ONLY the information in the document below.
The document is made of excerpts separated by lines containing "--".
If the document does not contain the answer, say that you do not have that information.
Answer in the same language as the question. Be concise and factual.`

// ModelAnswerer answers with an eino chat model instead of an external
// service. The document is trimmed to the model's context budget by dropping
// the lowest-ranked excerpts first.
type ModelAnswerer struct {
	// model is the chat model.
	model model.BaseChatModel
	// maxContextTokens is the input budget for system prompt, document and question.
	maxContextTokens int
	// timeout bounds each call.
	timeout time.Duration
}

// ModelConfig holds the settings for a ModelAnswerer.
type ModelConfig struct {
	// MaxContextTokens is the input budget. Defaults to budget.DefaultMaxContextTokens.
	MaxContextTokens int
	// Timeout bounds each call. Defaults to DefaultTimeout.
	Timeout time.Duration
}

// NewModelAnswerer wraps chatModel.
func NewModelAnswerer(chatModel model.BaseChatModel, cfg ModelConfig) (*ModelAnswerer, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("answer: chat model must not be nil")
	}
	if cfg.MaxContextTokens <= 0 {
		cfg.MaxContextTokens = budget.DefaultMaxContextTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &ModelAnswerer{model: chatModel, maxContextTokens: cfg.MaxContextTokens, timeout: cfg.Timeout}, nil
}

// Answer implements Answerer.
func (a *ModelAnswerer) Answer(ctx context.Context, question, document string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	msgs := a.buildMessages(ctx, question, document)

	resp, err := a.model.Generate(ctx, msgs)
	if err != nil {
		return "", &UpstreamError{Err: err}
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return "", fmt.Errorf("%w: model returned no content", ErrMalformedResponse)
	}
	return strings.TrimSpace(resp.Content), nil
}

// buildMessages assembles the system prompt and the user turn, trimming the
// document excerpts to fit the context budget.
func (a *ModelAnswerer) buildMessages(ctx context.Context, question, document string) []*schema.Message {
	fixed := []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage("Document:\n\n\nQuestion: " + question),
	}

	chunks := strings.Split(document, retrieval.Separator)
	kept := budget.TrimChunks(fixed, chunks, budget.Estimate(retrieval.Separator), a.maxContextTokens)
	if len(kept) < len(chunks) {
		logging.FromContext(ctx).Warn("answer: document trimmed to context budget",
			slog.Int("excerpts", len(chunks)),
			slog.Int("kept", len(kept)),
			slog.Int("max_context_tokens", a.maxContextTokens),
		)
	}

	return []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage("Document:\n" + strings.Join(kept, retrieval.Separator) + "\n\nQuestion: " + question),
	}
}
