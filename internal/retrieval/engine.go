// Package retrieval turns one free-text question into an ordered context for
// the answer generator. A configured override table can short-circuit the
// vector search with a curated document; otherwise the question is embedded
// and the top-k nearest chunks are joined with a fixed separator.
//
// Retrieve never returns an error and never panics. Failures reaching the
// index or the embedder are logged and reported as StatusError so that one
// bad query cannot affect other requests.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/54b3r/instqa-go/internal/logging"
	"github.com/54b3r/instqa-go/internal/rag"
)

const (
	// DefaultTopK is used when Retrieve is called with k <= 0.
	DefaultTopK = 3

	// Separator is placed between chunk texts in an assembled context.
	Separator = "\n\n--\n\n"

	// NoContextMessage is the sentinel text for StatusNoContext.
	NoContextMessage = "No relevant information found."

	// ErrorMessage is the sentinel text for StatusError.
	ErrorMessage = "An error occurred while processing your query."
)

// Status classifies a retrieval outcome.
type Status string

const (
	// StatusOK means Context holds retrieved or override text.
	StatusOK Status = "ok"
	// StatusNoContext means nothing relevant was found, or no index is loaded.
	StatusNoContext Status = "no_context"
	// StatusError means the embedder or the index failed.
	StatusError Status = "error"
)

// Result is the outcome of one retrieval.
type Result struct {
	// Status classifies the outcome.
	Status Status
	// Context is the assembled context when Status is StatusOK.
	Context string
	// Documents are the retrieved chunks in rank order. Empty for overrides.
	Documents []rag.Document
	// OverrideID names the override that answered, if any.
	OverrideID string
}

// Text returns Context for StatusOK and the sentinel message otherwise.
func (r Result) Text() string {
	switch r.Status {
	case StatusOK:
		return r.Context
	case StatusNoContext:
		return NoContextMessage
	default:
		return ErrorMessage
	}
}

// Config holds the dependencies for an Engine.
type Config struct {
	// Embedder embeds queries. It must be the embedder the index was built
	// with. Required unless every query is answered by an override.
	Embedder rag.Embedder

	// Searcher is the loaded index. Nil means no index is available and every
	// non-override query yields StatusNoContext.
	Searcher rag.Searcher

	// Overrides is the curated document table. Nil disables overrides.
	Overrides *OverrideTable

	// TopK is the default retrieval depth. Defaults to DefaultTopK if zero.
	TopK int

	// Observe, when set, is called with the status of every retrieval.
	Observe func(Status)
}

// Engine is the query-time read path. It holds no mutable state and is safe
// for concurrent use.
type Engine struct {
	// embedder embeds queries.
	embedder rag.Embedder
	// searcher is the loaded index, nil when none is available.
	searcher rag.Searcher
	// overrides is the curated document table.
	overrides *OverrideTable
	// topK is the default retrieval depth.
	topK int
	// observe receives every outcome status.
	observe func(Status)
}

// NewEngine constructs an Engine from cfg.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Searcher != nil && cfg.Embedder == nil {
		return nil, fmt.Errorf("retrieval: embedder is required when an index is loaded")
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	observe := cfg.Observe
	if observe == nil {
		observe = func(Status) {}
	}
	return &Engine{
		embedder:  cfg.Embedder,
		searcher:  cfg.Searcher,
		overrides: cfg.Overrides,
		topK:      cfg.TopK,
		observe:   observe,
	}, nil
}

// HasIndex reports whether a vector index is loaded.
func (e *Engine) HasIndex() bool { return e.searcher != nil }

// Retrieve returns the context for query. k <= 0 uses the engine default.
func (e *Engine) Retrieve(ctx context.Context, query string, k int) (res Result) {
	log := logging.FromContext(ctx)

	defer func() {
		if r := recover(); r != nil {
			log.Error("retrieval: recovered from panic", slog.Any("panic", r))
			res = Result{Status: StatusError}
		}
		e.observe(res.Status)
	}()

	if o, ok := e.overrides.Match(query); ok {
		log.Info("retrieval: override matched", slog.String("override", o.ID))
		return Result{Status: StatusOK, Context: o.Document, OverrideID: o.ID}
	}

	if strings.TrimSpace(query) == "" {
		return Result{Status: StatusNoContext}
	}
	if e.searcher == nil {
		log.Warn("retrieval: no index loaded")
		return Result{Status: StatusNoContext}
	}
	if k <= 0 {
		k = e.topK
	}

	vecs, err := e.embedder.Embed(ctx, []string{query})
	if err != nil {
		log.Error("retrieval: query embedding failed", slog.String("error", err.Error()))
		return Result{Status: StatusError}
	}
	if len(vecs) != 1 {
		log.Error("retrieval: embedder returned unexpected vector count", slog.Int("count", len(vecs)))
		return Result{Status: StatusError}
	}

	docs, err := e.searcher.Search(ctx, vecs[0], k)
	if errors.Is(err, rag.ErrIncompatibleDimensions) {
		// An index that no longer matches the embedder is unavailable, not broken.
		log.Error("retrieval: index incompatible with the embedder",
			slog.String("error", err.Error()),
			slog.String("hint", "the index was built with a different embedding model; rebuild it with `instqa ingest`"),
		)
		return Result{Status: StatusNoContext}
	}
	if err != nil {
		log.Error("retrieval: index search failed", slog.String("error", err.Error()))
		return Result{Status: StatusError}
	}
	if len(docs) > k {
		docs = docs[:k]
	}

	texts := make([]string, 0, len(docs))
	kept := make([]rag.Document, 0, len(docs))
	for _, d := range docs {
		if strings.TrimSpace(d.Content) == "" {
			continue
		}
		texts = append(texts, d.Content)
		kept = append(kept, d)
	}
	if len(texts) == 0 {
		log.Info("retrieval: no relevant chunks", slog.Int("k", k))
		return Result{Status: StatusNoContext}
	}

	log.Debug("retrieval: chunks retrieved", slog.Int("count", len(kept)), slog.Int("k", k))
	return Result{
		Status:    StatusOK,
		Context:   strings.Join(texts, Separator),
		Documents: kept,
	}
}
