// Package flat is an exact inner-product vector index held in memory.
// Vectors are L2-normalised at build time, so scores are cosine similarities.
package flat

import (
	"context"
	"fmt"
	"math"

	"github.com/chenziqing0111/agent-core-2/internal/core/domain"
	"github.com/chenziqing0111/agent-core-2/internal/core/ports"
)

const DefaultBatchSize = 32

// Index is immutable once built; concurrent searches need no locking.
type Index struct {
	key    string
	model  string
	dims   int
	chunks []domain.Chunk
}

func (ix *Index) Key() string {
	if ix == nil {
		return ""
	}
	return ix.key
}

func (ix *Index) Model() string {
	if ix == nil {
		return ""
	}
	return ix.model
}

func (ix *Index) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.chunks)
}

func (ix *Index) Dimensions() int {
	if ix == nil {
		return 0
	}
	return ix.dims
}

// Chunks returns the indexed chunks without their vectors.
func (ix *Index) Chunks() []domain.Chunk {
	if ix == nil {
		return nil
	}
	out := make([]domain.Chunk, len(ix.chunks))
	for i, c := range ix.chunks {
		c.Embedding = nil
		out[i] = c
	}
	return out
}

// Search returns at most topK chunks scoring strictly above threshold,
// best first. Results are copies; the index is never mutated.
func (ix *Index) Search(query []float32, topK int, threshold float64) ([]domain.RetrievedChunk, error) {
	if ix == nil || len(ix.chunks) == 0 || topK <= 0 {
		return []domain.RetrievedChunk{}, nil
	}
	if len(query) != ix.dims {
		return nil, domain.WrapError(domain.ErrDimensionMismatch, "flat search",
			fmt.Errorf("query has %d dimensions, index has %d", len(query), ix.dims))
	}
	q := normalize(query)

	hits := make([]domain.RetrievedChunk, 0, min(topK, len(ix.chunks)))
	for _, c := range ix.chunks {
		score := dot(q, c.Embedding)
		if score <= threshold {
			continue
		}
		c.Embedding = nil
		hits = append(hits, domain.RetrievedChunk{Chunk: c, Score: score})
	}
	domain.SortByScore(hits)
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// Builder embeds chunks in batches and assembles an Index.
type Builder struct {
	embedder  ports.Embedder
	batchSize int
}

func NewBuilder(embedder ports.Embedder, batchSize int) *Builder {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Builder{embedder: embedder, batchSize: batchSize}
}

// Build embeds chunks and returns a new index under key. An empty chunk set
// yields an empty index without calling the embedder.
func (b *Builder) Build(ctx context.Context, key string, chunks []domain.Chunk) (*Index, error) {
	ix := &Index{key: key, model: b.embedder.Name()}
	if len(chunks) == 0 {
		return ix, nil
	}

	ix.chunks = make([]domain.Chunk, len(chunks))
	copy(ix.chunks, chunks)

	for start := 0; start < len(ix.chunks); start += b.batchSize {
		end := min(start+b.batchSize, len(ix.chunks))
		texts := make([]string, 0, end-start)
		for _, c := range ix.chunks[start:end] {
			texts = append(texts, c.Text)
		}

		vectors, err := b.embedder.Embed(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed chunks %d-%d: %w", start, end, err)
		}
		if len(vectors) != len(texts) {
			return nil, fmt.Errorf("embed chunks %d-%d: got %d vectors", start, end, len(vectors))
		}
		for i, v := range vectors {
			if ix.dims == 0 {
				ix.dims = len(v)
			}
			if len(v) == 0 || len(v) != ix.dims {
				return nil, domain.WrapError(domain.ErrDimensionMismatch, "flat build",
					fmt.Errorf("chunk %d has %d dimensions, want %d", start+i, len(v), ix.dims))
			}
			ix.chunks[start+i].Embedding = normalize(v)
		}
	}
	return ix, nil
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		return out
	}
	norm := math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}
