package commands

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/54b3r/instqa-go/internal/embedder"
	"github.com/54b3r/instqa-go/internal/ingestion"
	"github.com/54b3r/instqa-go/internal/logging"
)

// NewIngestCmd constructs the `instqa ingest` command, which rebuilds the
// vector index from the scraper's source document file.
func NewIngestCmd() *cobra.Command {
	var source string
	var language string
	var policy string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Rebuild the vector index from the source document file",
		Long: `Rebuild the vector index from the scraped source documents.

The source file is a JSON array of {"url", "lang", "content"} objects. Only
documents in the target language are kept; a missing "lang" is inferred from
the URL path. Each document becomes one chunk (--chunk-policy whole) or is cut
into overlapping chunks (--chunk-policy split). The new index replaces the old
one atomically; if filtering leaves nothing to index, the old index is kept.

Relevant environment variables:
  INGEST_SOURCE_FILE   Source document file (default: data/documents.json)
  INGEST_LANGUAGE      Target language code (default: ar)
  INGEST_CHUNK_POLICY  whole or split (default: split)
  INDEX_BACKEND        flat or qdrant (default: flat)
  INDEX_DIR            Flat index directory (default: data/index)
  EMBEDDING_*          Embedding provider overrides (see README)

Examples:
  instqa ingest
  instqa ingest --source ./scrape/pages.json --language en
  INDEX_BACKEND=qdrant instqa ingest --chunk-policy whole`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			s, err := resolveSettings()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("source") {
				s.SourceFile = source
			}
			if cmd.Flags().Changed("language") {
				s.Language = language
			}
			if cmd.Flags().Changed("chunk-policy") {
				s.ChunkPolicy = policy
			}

			if err := embedder.Validate(log); err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			emb, err := embedder.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("ingest: failed to initialise embedder: %w", err)
			}

			index, err := openIndexBackend(s, log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer index.Close()

			res, err := runIngestion(ctx, s, emb, index.writer, log)
			if errors.Is(err, ingestion.ErrNoChunks) {
				return fmt.Errorf("ingest: no %q documents with content in %s; existing index left unchanged", s.Language, s.SourceFile)
			}
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			log.Info("ingestion complete",
				slog.Int("documents", res.Documents),
				slog.Int("chunks", res.Chunks),
				slog.Int("dropped_language", res.DroppedLanguage),
				slog.Int("dropped_empty", res.DroppedEmpty),
				slog.String("embedder", res.Identity.String()),
			)
			return nil
		},
	}

	cmd.Flags().StringVarP(&source, "source", "s", "", "Source document JSON file (overrides INGEST_SOURCE_FILE)")
	cmd.Flags().StringVarP(&language, "language", "l", "", "Target language code (overrides INGEST_LANGUAGE)")
	cmd.Flags().StringVar(&policy, "chunk-policy", "", "Chunking policy: whole or split (overrides INGEST_CHUNK_POLICY)")

	return cmd
}
