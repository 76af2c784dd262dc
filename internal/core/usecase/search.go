package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/chenziqing0111/agent-core-2/internal/core/domain"
	"github.com/chenziqing0111/agent-core-2/internal/core/ports"
)

// Searcher embeds query text and searches an index, memoizing results per
// index version.
type Searcher struct {
	embedder ports.Embedder
	memo     ports.SearchMemo
}

// NewSearcher builds a searcher; memo may be nil.
func NewSearcher(embedder ports.Embedder, memo ports.SearchMemo) *Searcher {
	return &Searcher{embedder: embedder, memo: memo}
}

func (s *Searcher) Search(
	ctx context.Context,
	index ports.VectorIndex,
	query string,
	topK int,
	threshold float64,
) ([]domain.RetrievedChunk, error) {
	query = strings.TrimSpace(query)
	if index == nil || index.Len() == 0 || query == "" {
		return []domain.RetrievedChunk{}, nil
	}

	key := memoKey(index.Key(), query, topK, threshold)
	if s.memo != nil {
		if chunks, ok := s.memo.Get(key); ok {
			return chunks, nil
		}
	}

	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	chunks, err := index.Search(vector, topK, threshold)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	if s.memo != nil {
		s.memo.Put(key, chunks)
	}
	return chunks, nil
}

func memoKey(indexKey, query string, topK int, threshold float64) string {
	return fmt.Sprintf("%s|%d|%.6f|%s", indexKey, topK, threshold, query)
}
