package rag

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/qdrant/go-client/qdrant"
)

// upsertBatchSize caps the number of points sent per Upsert RPC.
const upsertBatchSize = 256

// Payload keys stored on every Qdrant point.
const (
	payloadContent  = "content"
	payloadSource   = "source"
	payloadLanguage = "language"
)

// QdrantConfig holds connection parameters for a Qdrant vector store instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name to use (default: instqa-chunks).
	Collection string

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// Collection metadata keys recording the model that built the index.
const (
	metaBackend    = "embedding_backend"
	metaModel      = "embedding_model"
	metaDimensions = "embedding_dimensions"
)

// QdrantStore implements Searcher and IndexWriter backed by Qdrant. The
// configured collection name is an alias; every rebuild writes a new
// versioned collection and moves the alias onto it once all points are in.
type QdrantStore struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this store.
	cfg *QdrantConfig
}

// NewQdrantStore connects to Qdrant. No collection is created here; Replace
// creates one with the width of the vectors being indexed.
func NewQdrantStore(cfg *QdrantConfig) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		cfg.Collection = "instqa-chunks"
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	return &QdrantStore{client: client, cfg: cfg}, nil
}

// Client exposes the underlying client for readiness probes.
func (s *QdrantStore) Client() *qdrant.Client { return s.client }

// Collection returns the configured collection alias.
func (s *QdrantStore) Collection() string { return s.cfg.Collection }

// Resolve returns the name of the collection currently serving the index.
// That is the alias target, or a plain collection carrying the configured
// name from before aliases were used. ErrIndexNotFound is returned when
// neither exists.
func (s *QdrantStore) Resolve(ctx context.Context) (string, error) {
	aliases, err := s.client.ListAliases(ctx)
	if err != nil {
		return "", fmt.Errorf("qdrant: failed to list aliases: %w", err)
	}
	for _, a := range aliases {
		if a.GetAliasName() == s.cfg.Collection {
			return a.GetCollectionName(), nil
		}
	}

	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return "", fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if !exists {
		return "", fmt.Errorf("%w: collection %q", ErrIndexNotFound, s.cfg.Collection)
	}
	return s.cfg.Collection, nil
}

// Exists reports whether the index collection exists and holds at least one
// point.
func (s *QdrantStore) Exists(ctx context.Context) (bool, error) {
	name, err := s.Resolve(ctx)
	if errors.Is(err, ErrIndexNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: name,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return false, fmt.Errorf("qdrant: count failed: %w", err)
	}
	return n > 0, nil
}

// CheckIdentity returns ErrIndexNotFound when there is no index collection
// and ErrIncompatibleDimensions when the model recorded on it, or its vector
// size, differs from identity.
func (s *QdrantStore) CheckIdentity(ctx context.Context, identity ModelIdentity) error {
	name, err := s.Resolve(ctx)
	if err != nil {
		return err
	}
	info, err := s.client.GetCollectionInfo(ctx, name)
	if err != nil {
		return fmt.Errorf("qdrant: collection info failed: %w", err)
	}

	stored := identityFromMetadata(info.GetConfig().GetMetadata())
	size := info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
	if size > 0 {
		stored.Dimensions = int(size) //nolint:gosec // dimensions are bounded
	}
	if err := CheckCompatible(stored, identity); err != nil {
		return fmt.Errorf("collection %q: %w", name, err)
	}
	return nil
}

// Replace builds a new versioned collection from docs and their embeddings,
// then points the alias at it and drops the collection it replaced. When any
// step before the alias swap fails, the new collection is removed and the
// previous index keeps serving.
func (s *QdrantStore) Replace(ctx context.Context, identity ModelIdentity, docs []Document, embeddings [][]float32) error {
	if len(docs) != len(embeddings) {
		return fmt.Errorf("qdrant: %d documents but %d embeddings", len(docs), len(embeddings))
	}
	dims, err := checkDimensions(embeddings)
	if err != nil {
		return err
	}
	if dims == 0 {
		dims = identity.Dimensions
	}
	if dims <= 0 {
		return fmt.Errorf("qdrant: cannot create collection without a vector size")
	}
	if identity.Dimensions > 0 && identity.Dimensions != dims {
		return fmt.Errorf("%w: embedder reports %d, vectors have %d", ErrIncompatibleDimensions, identity.Dimensions, dims)
	}
	identity.Dimensions = dims

	previous, err := s.Resolve(ctx)
	if err != nil && !errors.Is(err, ErrIndexNotFound) {
		return err
	}

	target := fmt.Sprintf("%s-%d", s.cfg.Collection, time.Now().UnixNano())
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: target,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dims), //nolint:gosec // dimensions are bounded
			Distance: qdrant.Distance_Cosine,
		}),
		Metadata: qdrant.NewValueMap(map[string]any{
			metaBackend:    identity.Backend,
			metaModel:      identity.Model,
			metaDimensions: identity.Dimensions,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", target, err)
	}

	for start := 0; start < len(docs); start += upsertBatchSize {
		end := min(start+upsertBatchSize, len(docs))
		if err := s.upsert(ctx, target, docs[start:end], embeddings[start:end]); err != nil {
			s.drop(ctx, target)
			return err
		}
	}

	if err := s.swapAlias(ctx, previous, target); err != nil {
		s.drop(ctx, target)
		return err
	}
	if previous != "" {
		s.drop(ctx, previous)
	}
	return nil
}

// swapAlias points the alias at target in a single alias update. A plain
// collection still holding the alias name must be removed first, since an
// alias cannot shadow a collection.
func (s *QdrantStore) swapAlias(ctx context.Context, previous, target string) error {
	var actions []*qdrant.AliasOperations
	switch previous {
	case "":
	case s.cfg.Collection:
		if err := s.client.DeleteCollection(ctx, previous); err != nil {
			return fmt.Errorf("qdrant: failed to drop collection %q: %w", previous, err)
		}
	default:
		actions = append(actions, qdrant.NewAliasDelete(s.cfg.Collection))
	}
	actions = append(actions, qdrant.NewAliasCreate(s.cfg.Collection, target))

	if err := s.client.UpdateAliases(ctx, actions); err != nil {
		return fmt.Errorf("qdrant: failed to point alias %q at %q: %w", s.cfg.Collection, target, err)
	}
	return nil
}

// drop deletes a collection, ignoring errors. It runs even when ctx is done.
func (s *QdrantStore) drop(ctx context.Context, name string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	_ = s.client.DeleteCollection(ctx, name)
}

// identityFromMetadata reads the model identity recorded by Replace.
// Collections written before metadata was recorded yield an empty identity.
func identityFromMetadata(meta map[string]*qdrant.Value) ModelIdentity {
	return ModelIdentity{
		Backend:    meta[metaBackend].GetStringValue(),
		Model:      meta[metaModel].GetStringValue(),
		Dimensions: int(meta[metaDimensions].GetIntegerValue()),
	}
}

// upsert writes one batch of points into collection.
func (s *QdrantStore) upsert(ctx context.Context, collection string, docs []Document, embeddings [][]float32) error {
	points := make([]*qdrant.PointStruct, 0, len(docs))
	for i, doc := range docs {
		payload := map[string]any{
			payloadContent:  doc.Content,
			payloadSource:   doc.Source,
			payloadLanguage: doc.Language,
		}
		for k, v := range doc.Metadata {
			payload[k] = v
		}

		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(doc.ID),
			Vectors: qdrant.NewVectors(embeddings[i]...),
			Payload: qdrant.NewValueMap(payload),
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert failed: %w", err)
	}
	return nil
}

// Search performs a cosine similarity search and returns the top-k results.
func (s *QdrantStore) Search(ctx context.Context, queryEmbedding []float32, topK int) ([]Document, error) {
	if topK <= 0 {
		return nil, nil
	}
	limit := uint64(topK) //nolint:gosec // topK is positive
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(queryEmbedding...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search failed: %w", err)
	}

	docs := make([]Document, 0, len(results))
	for _, r := range results {
		doc := Document{
			ID:       r.GetId().GetUuid(),
			Score:    r.GetScore(),
			Metadata: make(map[string]string),
		}
		for k, v := range r.GetPayload() {
			switch k {
			case payloadContent:
				doc.Content = v.GetStringValue()
			case payloadSource:
				doc.Source = v.GetStringValue()
			case payloadLanguage:
				doc.Language = v.GetStringValue()
			default:
				if sv, ok := v.GetKind().(*qdrant.Value_StringValue); ok {
					doc.Metadata[k] = sv.StringValue
				} else if iv, ok := v.GetKind().(*qdrant.Value_IntegerValue); ok {
					doc.Metadata[k] = strconv.FormatInt(iv.IntegerValue, 10)
				}
			}
		}
		docs = append(docs, doc)
	}

	return docs, nil
}

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}
