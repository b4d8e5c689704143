// Package rag defines the vector index boundary used by ingestion and
// retrieval: stored documents, the embedding capability, and the index read
// and replace operations. Concrete backends (the on-disk flat index, Qdrant)
// satisfy these interfaces so the retrieval engine never depends on a
// specific store.
package rag

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrIndexNotFound is returned when no index artifact exists at the
	// configured location.
	ErrIndexNotFound = errors.New("rag: index not found")

	// ErrIncompatibleDimensions is returned when an index was built with a
	// different embedding model or vector width than the current embedder's.
	ErrIncompatibleDimensions = errors.New("rag: incompatible dimensions")
)

// Document represents a unit of retrieved or stored knowledge.
type Document struct {
	// ID is the unique identifier for this document chunk.
	ID string

	// Content is the raw text content of the chunk.
	Content string

	// Source is the origin URL of the document the chunk came from.
	Source string

	// Language is the language code carried over from the source document.
	Language string

	// Metadata holds arbitrary key-value pairs (chunk index, etc.).
	Metadata map[string]string

	// Score is the similarity score assigned during retrieval.
	// Zero value means the score was not computed.
	Score float32
}

// ModelIdentity names the embedding model an index was built with. An index
// must only be queried with vectors from the same identity.
type ModelIdentity struct {
	// Backend is the embedding provider (ollama, openai, azure, eino-openai).
	Backend string `json:"backend"`
	// Model is the embedding model name.
	Model string `json:"model"`
	// Dimensions is the vector width. Zero means not known until the first embed.
	Dimensions int `json:"dimensions"`
}

// String renders the identity for logs.
func (m ModelIdentity) String() string {
	return fmt.Sprintf("%s/%s@%d", m.Backend, m.Model, m.Dimensions)
}

// CheckCompatible returns an error wrapping ErrIncompatibleDimensions when an
// index built by stored cannot be queried with vectors from current. Fields
// left empty on either side are not compared.
func CheckCompatible(stored, current ModelIdentity) error {
	if stored.Dimensions > 0 && current.Dimensions > 0 && stored.Dimensions != current.Dimensions {
		return fmt.Errorf("%w: index was built with %s, embedder is %s", ErrIncompatibleDimensions, stored, current)
	}
	if stored.Model != "" && current.Model != "" &&
		(stored.Model != current.Model || stored.Backend != current.Backend) {
		return fmt.Errorf("%w: index was built with %s, embedder is %s", ErrIncompatibleDimensions, stored, current)
	}
	return nil
}

// identityProbeText is embedded to learn the vector width of an embedder
// that does not report one.
const identityProbeText = "dimension check"

// ResolveIdentity returns the identity of emb with Dimensions filled in. When
// the embedder does not know its width, one short text is embedded to learn it.
func ResolveIdentity(ctx context.Context, emb Embedder) (ModelIdentity, error) {
	identity := emb.Identity()
	if identity.Dimensions > 0 {
		return identity, nil
	}
	vecs, err := emb.Embed(ctx, []string{identityProbeText})
	if err != nil {
		return identity, fmt.Errorf("rag: could not determine embedding width of %s: %w", identity, err)
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return identity, fmt.Errorf("rag: embedder %s returned no vector for the width check", identity)
	}
	identity.Dimensions = len(vecs[0])
	return identity, nil
}

// Embedder is the interface for converting text into dense vector embeddings.
// Implementations must be deterministic for a given model configuration and
// safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Identity reports the model the embeddings come from.
	Identity() ModelIdentity
}

// Searcher is the read side of a vector index. Implementations must be safe
// for concurrent use once constructed.
type Searcher interface {
	// Search returns at most topK documents ordered by descending similarity.
	Search(ctx context.Context, queryEmbedding []float32, topK int) ([]Document, error)
}

// IndexWriter replaces the whole contents of an index. Prior contents are
// never merged with the new ones.
type IndexWriter interface {
	// Replace builds a new index from docs and their parallel embeddings and
	// swaps it in for whatever existed before.
	Replace(ctx context.Context, identity ModelIdentity, docs []Document, embeddings [][]float32) error
}

// checkDimensions verifies that every vector has the same width and returns it.
func checkDimensions(embeddings [][]float32) (int, error) {
	if len(embeddings) == 0 {
		return 0, nil
	}
	dims := len(embeddings[0])
	if dims == 0 {
		return 0, fmt.Errorf("rag: embedding 0 is empty")
	}
	for i, v := range embeddings {
		if len(v) != dims {
			return 0, fmt.Errorf("%w: embedding %d has %d values, want %d", ErrIncompatibleDimensions, i, len(v), dims)
		}
	}
	return dims, nil
}
