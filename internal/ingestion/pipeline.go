// Package ingestion implements the document ingestion pipeline. It reads the
// scraper's cleaned source documents, keeps those in the target language,
// chunks them by the configured policy, embeds every chunk, and replaces the
// vector index with the result. The pipeline is invoked by `instqa ingest`
// and by `instqa serve` when no index exists at startup.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/54b3r/instqa-go/internal/logging"
	"github.com/54b3r/instqa-go/internal/rag"
)

// ErrNoChunks is returned when filtering leaves nothing to index. The prior
// index, if any, is left untouched.
var ErrNoChunks = errors.New("ingestion: no chunks to index")

// ChunkPolicy selects how source documents become chunks.
type ChunkPolicy string

const (
	// PolicyWhole indexes each document's full content as one chunk.
	PolicyWhole ChunkPolicy = "whole"
	// PolicySplit cuts documents with the recursive separator splitter.
	PolicySplit ChunkPolicy = "split"
)

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// Language is the target language code. Documents in any other language
	// are dropped.
	Language string

	// Policy is the chunking policy. Defaults to PolicySplit if empty.
	Policy ChunkPolicy

	// ChunkSize is the maximum number of characters per chunk under
	// PolicySplit. Defaults to 1000 if zero.
	ChunkSize int

	// ChunkOverlap is the number of characters neighbouring chunks share
	// under PolicySplit. Zero disables overlap.
	ChunkOverlap int

	// BatchSize caps the number of chunks sent per Embed call.
	// Defaults to 64 if zero.
	BatchSize int
}

// Result reports what one ingestion run did.
type Result struct {
	// Documents is the number of source documents read.
	Documents int
	// Chunks is the number of chunks written to the index.
	Chunks int
	// DroppedLanguage counts documents skipped for not matching Language.
	DroppedLanguage int
	// DroppedEmpty counts documents skipped for empty or whitespace content.
	DroppedEmpty int
	// Identity is the embedding model the index was built with.
	Identity rag.ModelIdentity
}

// Pipeline orchestrates the filter → chunk → embed → replace flow.
type Pipeline struct {
	// embedder converts chunk text into dense vector embeddings.
	embedder rag.Embedder

	// writer replaces the index contents with the embedded chunks.
	writer rag.IndexWriter

	// cfg holds the resolved pipeline configuration.
	cfg *Config

	// splitter is used when cfg.Policy is PolicySplit.
	splitter *Splitter
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
func NewPipeline(embedder rag.Embedder, writer rag.IndexWriter, cfg *Config) (*Pipeline, error) {
	if embedder == nil {
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	}
	if writer == nil {
		return nil, fmt.Errorf("ingestion: index writer must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Language == "" {
		return nil, fmt.Errorf("ingestion: target language must not be empty")
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicySplit
	}
	if cfg.Policy != PolicyWhole && cfg.Policy != PolicySplit {
		return nil, fmt.Errorf("ingestion: unknown chunk policy %q", cfg.Policy)
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1000
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = 0
	}
	if cfg.ChunkOverlap >= cfg.ChunkSize {
		return nil, fmt.Errorf("ingestion: chunk overlap %d must be smaller than chunk size %d", cfg.ChunkOverlap, cfg.ChunkSize)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}

	return &Pipeline{
		embedder: embedder,
		writer:   writer,
		cfg:      cfg,
		splitter: NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap),
	}, nil
}

// Run filters, chunks, embeds, and indexes docs. Any embedding failure aborts
// the run before the index is touched, so a partial index is never written.
// Progress is reported via the optional progress callback.
func (p *Pipeline) Run(ctx context.Context, docs []SourceDocument, progress func(msg string)) (*Result, error) {
	log := logging.FromContext(ctx)
	if progress == nil {
		progress = func(string) {}
	}

	res := &Result{Documents: len(docs)}
	chunks := make([]rag.Document, 0, len(docs))
	for _, doc := range docs {
		if !strings.EqualFold(doc.Language, p.cfg.Language) {
			res.DroppedLanguage++
			log.Debug("ingestion: skipping document in other language",
				slog.String("url", doc.URL),
				slog.String("lang", doc.Language),
			)
			continue
		}
		if strings.TrimSpace(doc.Content) == "" {
			res.DroppedEmpty++
			log.Debug("ingestion: skipping empty document", slog.String("url", doc.URL))
			continue
		}
		chunks = append(chunks, p.chunk(doc)...)
	}

	log.Info("ingestion: documents filtered",
		slog.Int("documents", res.Documents),
		slog.Int("dropped_language", res.DroppedLanguage),
		slog.Int("dropped_empty", res.DroppedEmpty),
		slog.Int("chunks", len(chunks)),
	)
	progress(fmt.Sprintf("chunked %d documents into %d chunks (%d other language, %d empty)",
		res.Documents-res.DroppedLanguage-res.DroppedEmpty, len(chunks), res.DroppedLanguage, res.DroppedEmpty))

	if len(chunks) == 0 {
		return res, ErrNoChunks
	}

	embeddings, err := p.embed(ctx, chunks, progress)
	if err != nil {
		return res, err
	}

	identity := p.embedder.Identity()
	if err := p.writer.Replace(ctx, identity, chunks, embeddings); err != nil {
		return res, fmt.Errorf("ingestion: index replace failed: %w", err)
	}
	if identity.Dimensions == 0 {
		identity.Dimensions = len(embeddings[0])
	}

	res.Chunks = len(chunks)
	res.Identity = identity
	log.Info("ingestion: index written",
		slog.Int("chunks", res.Chunks),
		slog.String("model", identity.String()),
	)
	progress(fmt.Sprintf("indexed %d chunks with %s", res.Chunks, identity))
	return res, nil
}

// embed embeds chunk texts in batches and returns the parallel vectors.
func (p *Pipeline) embed(ctx context.Context, chunks []rag.Document, progress func(string)) ([][]float32, error) {
	embeddings := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += p.cfg.BatchSize {
		end := min(start+p.cfg.BatchSize, len(chunks))
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Content)
		}

		vecs, err := p.embedder.Embed(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("ingestion: embedding failed for chunks %d-%d (%s): %w",
				start, end-1, chunks[start].Source, err)
		}
		if len(vecs) != len(texts) {
			return nil, fmt.Errorf("ingestion: embedder returned %d vectors for %d chunks", len(vecs), len(texts))
		}
		embeddings = append(embeddings, vecs...)
		progress(fmt.Sprintf("embedded %d/%d chunks", len(embeddings), len(chunks)))
	}
	return embeddings, nil
}

// chunk turns one source document into indexed chunks under the configured
// policy. Each chunk keeps the source URL and language.
func (p *Pipeline) chunk(doc SourceDocument) []rag.Document {
	var texts []string
	switch p.cfg.Policy {
	case PolicyWhole:
		texts = []string{strings.TrimSpace(doc.Content)}
	default:
		texts = p.splitter.Split(doc.Content)
	}

	out := make([]rag.Document, 0, len(texts))
	for i, text := range texts {
		out = append(out, rag.Document{
			ID:       chunkID(doc.URL, i),
			Content:  text,
			Source:   doc.URL,
			Language: doc.Language,
			Metadata: map[string]string{
				"chunk_index": strconv.Itoa(i),
			},
		})
	}
	return out
}

// chunkID generates a deterministic ID for a chunk from its source URL and
// index. The UUID form doubles as a Qdrant point ID.
func chunkID(sourceURL string, index int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(sourceURL+"#"+strconv.Itoa(index))).String()
}
