package commands

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"

	"github.com/54b3r/instqa-go/internal/answer"
	"github.com/54b3r/instqa-go/internal/config"
	"github.com/54b3r/instqa-go/internal/ingestion"
	"github.com/54b3r/instqa-go/internal/provider"
	"github.com/54b3r/instqa-go/internal/rag"
	"github.com/54b3r/instqa-go/internal/retrieval"
	"github.com/54b3r/instqa-go/internal/server"
	"github.com/54b3r/instqa-go/internal/store"
	"github.com/54b3r/instqa-go/internal/tracing"
)

// resolveSettings builds the runtime settings from the environment and the
// YAML file loaded by the root command.
func resolveSettings() (*config.Settings, error) {
	return config.Resolve(loadedConfig)
}

// openStore opens the SQLite session store at path, or at the default
// location (~/.instqa/instqa.db) when path is empty.
func openStore(path string, log *slog.Logger) (*store.SQLiteStore, error) {
	if path == "" {
		p, err := store.DefaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("store: could not resolve default path: %w", err)
		}
		path = p
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	log.Info("store opened", slog.String("path", path))
	return st, nil
}

// indexBackend is the configured vector index: the on-disk flat index or a
// Qdrant collection.
type indexBackend struct {
	// dir is the flat index directory.
	dir string
	// writer replaces the index contents during ingestion.
	writer rag.IndexWriter
	// qdrant is set when INDEX_BACKEND=qdrant.
	qdrant *rag.QdrantStore
}

// openIndexBackend connects to the index selected by s.IndexBackend. Nothing
// is loaded yet; see load.
func openIndexBackend(s *config.Settings, log *slog.Logger) (*indexBackend, error) {
	if s.IndexBackend != "qdrant" {
		log.Info("index backend: flat", slog.String("dir", s.IndexDir))
		return &indexBackend{dir: s.IndexDir, writer: &rag.FlatWriter{Dir: s.IndexDir}}, nil
	}

	qs, err := rag.NewQdrantStore(&rag.QdrantConfig{
		Host:       os.Getenv("QDRANT_HOST"),
		Port:       getEnvInt("QDRANT_PORT", 0),
		Collection: os.Getenv("QDRANT_COLLECTION"),
		APIKey:     os.Getenv("QDRANT_API_KEY"),
		UseTLS:     os.Getenv("QDRANT_TLS") == "true",
	})
	if err != nil {
		return nil, err
	}
	log.Info("index backend: qdrant", slog.String("collection", qs.Collection()))
	return &indexBackend{writer: qs, qdrant: qs}, nil
}

// Close releases the Qdrant connection, if any.
func (b *indexBackend) Close() {
	if b.qdrant != nil {
		_ = b.qdrant.Close()
	}
}

// load returns a searcher over the stored index. It returns an error wrapping
// rag.ErrIndexNotFound when there is nothing to load and
// rag.ErrIncompatibleDimensions when the index was built with a different
// vector width than identity.
func (b *indexBackend) load(ctx context.Context, identity rag.ModelIdentity) (rag.Searcher, error) {
	if b.qdrant != nil {
		if err := b.qdrant.CheckIdentity(ctx, identity); err != nil {
			return nil, err
		}
		ok, err := b.qdrant.Exists(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: collection %q is empty", rag.ErrIndexNotFound, b.qdrant.Collection())
		}
		return b.qdrant, nil
	}

	idx, err := rag.LoadFlat(b.dir, identity)
	if err != nil {
		return nil, err
	}
	return idx, nil
}

// runIngestion reads the source file and rebuilds the index through writer.
func runIngestion(ctx context.Context, s *config.Settings, emb rag.Embedder, writer rag.IndexWriter, log *slog.Logger) (*ingestion.Result, error) {
	docs, err := ingestion.LoadSources(s.SourceFile)
	if err != nil {
		return nil, err
	}

	pipeline, err := ingestion.NewPipeline(emb, writer, &ingestion.Config{
		Language:     s.Language,
		Policy:       ingestion.ChunkPolicy(s.ChunkPolicy),
		ChunkSize:    s.ChunkSize,
		ChunkOverlap: s.ChunkOverlap,
	})
	if err != nil {
		return nil, err
	}

	log.Info("starting ingestion",
		slog.String("source", s.SourceFile),
		slog.Int("documents", len(docs)),
		slog.String("language", s.Language),
		slog.String("policy", s.ChunkPolicy),
	)
	return pipeline.Run(ctx, docs, func(msg string) { log.Info(msg) })
}

// loadOrBuildIndex loads the index, running ingestion first when none exists.
// A missing source file or a run that yields no chunks is logged and the
// service starts without an index. An index built by another embedding model
// or with another vector width is fatal.
func loadOrBuildIndex(ctx context.Context, s *config.Settings, emb rag.Embedder, b *indexBackend, log *slog.Logger) (rag.Searcher, error) {
	identity, err := rag.ResolveIdentity(ctx, emb)
	if err != nil {
		return nil, err
	}

	searcher, err := b.load(ctx, identity)
	switch {
	case err == nil:
		log.Info("index loaded", slog.String("embedder", identity.String()))
		return searcher, nil
	case errors.Is(err, rag.ErrIncompatibleDimensions):
		return nil, fmt.Errorf("%w (rebuild it with `instqa ingest` using the current embedder)", err)
	case !errors.Is(err, rag.ErrIndexNotFound):
		return nil, fmt.Errorf("failed to load index: %w", err)
	}

	log.Warn("index not found, running ingestion before serving", slog.String("reason", err.Error()))
	res, err := runIngestion(ctx, s, emb, b.writer, log)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Warn("source file not found, serving without an index", slog.String("source", s.SourceFile))
		return nil, nil
	case errors.Is(err, ingestion.ErrNoChunks):
		log.Warn("ingestion produced no chunks, serving without an index", slog.String("language", s.Language))
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("startup ingestion failed: %w", err)
	}

	log.Info("startup ingestion complete",
		slog.Int("chunks", res.Chunks),
		slog.String("embedder", res.Identity.String()),
	)
	return b.load(ctx, res.Identity)
}

// buildEngine assembles the retrieval engine over searcher, which may be nil.
func buildEngine(s *config.Settings, emb rag.Embedder, searcher rag.Searcher, observe func(retrieval.Status)) (*retrieval.Engine, error) {
	entries := make([]retrieval.Override, 0, len(s.Overrides))
	for _, o := range s.Overrides {
		entries = append(entries, retrieval.Override{ID: o.ID, Triggers: o.Triggers, Document: o.Document})
	}
	overrides, err := retrieval.NewOverrideTable(entries)
	if err != nil {
		return nil, err
	}
	return retrieval.NewEngine(retrieval.Config{
		Embedder:  emb,
		Searcher:  searcher,
		Overrides: overrides,
		TopK:      s.TopK,
		Observe:   observe,
	})
}

// buildAnswerer constructs the configured answer backend. The returned pinger
// is nil for the model backend. flush must be called before exit.
func buildAnswerer(ctx context.Context, s *config.Settings, log *slog.Logger) (ans answer.Answerer, pinger server.Pinger, flush func(), err error) {
	if s.AnswerBackend == "http" {
		client := answer.NewHTTPClient(s.AnswerURL, s.AnswerTimeout)
		log.Info("answer backend: http", slog.String("url", s.AnswerURL), slog.Duration("timeout", s.AnswerTimeout))
		return client, client, func() {}, nil
	}

	flush, ok := tracing.Setup(tracing.ConfigFromEnv())
	if ok {
		log.Info("langfuse tracing enabled")
	} else {
		log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
	}

	providerCfg := provider.ConfigFromEnv()
	chatModel, err := provider.New(ctx, providerCfg)
	if err != nil {
		flush()
		return nil, nil, nil, fmt.Errorf("failed to initialise model provider: %w", err)
	}
	ma, err := answer.NewModelAnswerer(chatModel, answer.ModelConfig{
		MaxContextTokens: getEnvInt("MODEL_MAX_CONTEXT_TOKENS", 0),
		Timeout:          s.AnswerTimeout,
	})
	if err != nil {
		flush()
		return nil, nil, nil, err
	}
	log.Info("answer backend: model",
		slog.String("provider", string(providerCfg.Backend)),
		slog.String("model", providerCfg.ModelName()),
	)
	return ma, nil, flush, nil
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
