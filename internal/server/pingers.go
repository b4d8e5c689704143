package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
)

// indexChecker reports whether a vector index is loaded.
// *retrieval.Engine satisfies it.
type indexChecker interface {
	// HasIndex reports whether a vector index is loaded.
	HasIndex() bool
}

// IndexPinger reports the vector index as unready when the service started
// without one. Queries still succeed through overrides but every other
// question gets "no relevant information".
type IndexPinger struct {
	// index is the retrieval engine to inspect.
	index indexChecker
}

// NewIndexPinger constructs an IndexPinger.
func NewIndexPinger(index indexChecker) *IndexPinger {
	return &IndexPinger{index: index}
}

// Name returns the dependency label used in readiness responses.
func (p *IndexPinger) Name() string { return "index" }

// Ping returns an error when no index is loaded.
func (p *IndexPinger) Ping(_ context.Context) error {
	if !p.index.HasIndex() {
		return errors.New("no vector index loaded; run `instqa ingest`")
	}
	return nil
}

// qdrantIndex locates the collection serving the index.
// *rag.QdrantStore satisfies it.
type qdrantIndex interface {
	// Client returns the Qdrant gRPC client.
	Client() *qdrant.Client
	// Resolve returns the collection behind the configured alias.
	Resolve(ctx context.Context) (string, error)
}

// QdrantPinger probes a Qdrant instance using its native HealthCheck RPC and
// checks that the index collection exists.
type QdrantPinger struct {
	// index is the Qdrant-backed index to probe.
	index qdrantIndex
}

// NewQdrantPinger constructs a QdrantPinger for the given index.
func NewQdrantPinger(index qdrantIndex) *QdrantPinger {
	return &QdrantPinger{index: index}
}

// Name returns the dependency label used in readiness responses.
func (p *QdrantPinger) Name() string { return "qdrant" }

// Ping calls the Qdrant HealthCheck RPC, then resolves the index collection.
func (p *QdrantPinger) Ping(ctx context.Context) error {
	if _, err := p.index.Client().HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if _, err := p.index.Resolve(ctx); err != nil {
		return fmt.Errorf("collection lookup failed: %w", err)
	}
	return nil
}
