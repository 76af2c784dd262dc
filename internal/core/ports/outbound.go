package ports

import (
	"context"
	"time"

	"github.com/chenziqing0111/agent-core-2/internal/core/domain"
)

// Embedder builds vectors for chunk and query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	// Name identifies the provider and model; it salts index cache keys.
	Name() string
}

// Chunker splits documents into overlapping word windows.
type Chunker interface {
	Chunk(docs []domain.Document) []domain.Chunk
	Params() domain.ChunkingOptions
}

// VectorIndex is an immutable similarity index over one document set.
type VectorIndex interface {
	Key() string
	Len() int
	Dimensions() int
	Search(query []float32, topK int, threshold float64) ([]domain.RetrievedChunk, error)
}

// IndexProvider returns the index for a document set, building it on a miss.
type IndexProvider interface {
	GetOrBuild(ctx context.Context, docs []domain.Document) (VectorIndex, error)
}

// SnapshotStore persists serialized indexes. Load returns
// domain.ErrSnapshotNotFound for unknown keys.
type SnapshotStore interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

// SearchMemo memoizes query results per index.
type SearchMemo interface {
	Get(key string) ([]domain.RetrievedChunk, bool)
	Put(key string, chunks []domain.RetrievedChunk)
}

// RetrievalObserver receives retrieval outcomes for metrics.
type RetrievalObserver interface {
	ObserveDimension(status string, chunks int)
	ObserveExpansion(outcome string)
	ObserveAssemble(duration time.Duration, noEvidence bool)
}

// CacheObserver receives index cache outcomes for metrics.
type CacheObserver interface {
	ObserveIndexCache(result string)
}

// EvidenceRequestHandler answers one evidence request.
type EvidenceRequestHandler func(ctx context.Context, req domain.EvidenceRequest) (*domain.EvidenceBundle, error)

// EvidenceRequestQueue delivers evidence requests from a broker.
type EvidenceRequestQueue interface {
	SubscribeEvidenceRequests(ctx context.Context, handler EvidenceRequestHandler) error
}
