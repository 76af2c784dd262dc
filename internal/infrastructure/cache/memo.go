package cache

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/chenziqing0111/agent-core-2/internal/core/domain"
)

const DefaultQueryEntries = 1024

// QueryMemo is a bounded LRU of search results keyed by the caller.
type QueryMemo struct {
	entries *lru.Cache[string, []domain.RetrievedChunk]
}

func NewQueryMemo(size int) (*QueryMemo, error) {
	if size <= 0 {
		size = DefaultQueryEntries
	}
	entries, err := lru.New[string, []domain.RetrievedChunk](size)
	if err != nil {
		return nil, fmt.Errorf("create query memo: %w", err)
	}
	return &QueryMemo{entries: entries}, nil
}

func (m *QueryMemo) Get(key string) ([]domain.RetrievedChunk, bool) {
	chunks, ok := m.entries.Get(key)
	if !ok {
		return nil, false
	}
	return cloneChunks(chunks), true
}

func (m *QueryMemo) Put(key string, chunks []domain.RetrievedChunk) {
	m.entries.Add(key, cloneChunks(chunks))
}

func (m *QueryMemo) Len() int {
	return m.entries.Len()
}

func cloneChunks(in []domain.RetrievedChunk) []domain.RetrievedChunk {
	out := make([]domain.RetrievedChunk, len(in))
	copy(out, in)
	return out
}
