package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/chenziqing0111/agent-core-2/internal/core/domain"
	"github.com/chenziqing0111/agent-core-2/internal/core/ports"
)

// Expansion outcomes reported to the observer.
const (
	ExpansionSkipped = "skipped"
	ExpansionAdded   = "added"
	ExpansionEmpty   = "empty"
	ExpansionFailed  = "failed"
)

// Coordinator runs one dimension's retrieval: primary search, best-effort
// expansion, de-duplication, ranking and the per-document cap.
type Coordinator struct {
	searcher *Searcher
	observer ports.RetrievalObserver
	logger   *slog.Logger
}

func NewCoordinator(searcher *Searcher, observer ports.RetrievalObserver, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{searcher: searcher, observer: observer, logger: logger}
}

// Retrieve returns ranked chunks and the formatted context for dim. Only a
// primary search failure is returned as an error.
func (c *Coordinator) Retrieve(
	ctx context.Context,
	index ports.VectorIndex,
	dim domain.Dimension,
	expansion string,
	opts domain.RetrievalOptions,
) (domain.DimensionResult, error) {
	opts = opts.Normalize()
	result := domain.DimensionResult{Name: dim.Name, Query: dim.Query}

	primary, err := c.searcher.Search(ctx, index, dim.Query, opts.TopK, opts.ScoreThreshold)
	if err != nil {
		return result, fmt.Errorf("primary search %s: %w", dim.Name, err)
	}

	primary = MergeUnique(primary, nil)
	merged := primary
	if len(primary) < opts.ExpansionTrigger {
		merged = c.expand(ctx, index, dim, expansion, opts, primary, &result)
	}

	result.Chunks = RankAndCap(merged, opts.MaxPerDocument)
	result.Context = FormatContext(result.Chunks)
	return result, nil
}

func (c *Coordinator) expand(
	ctx context.Context,
	index ports.VectorIndex,
	dim domain.Dimension,
	expansion string,
	opts domain.RetrievalOptions,
	primary []domain.RetrievedChunk,
	result *domain.DimensionResult,
) []domain.RetrievedChunk {
	expansion = strings.TrimSpace(expansion)
	if expansion == "" || expansion == strings.TrimSpace(dim.Query) {
		c.observeExpansion(ExpansionSkipped)
		return primary
	}
	result.ExpandedQuery = expansion

	threshold := opts.ScoreThreshold * opts.ExpansionThresholdFactor
	extra, err := c.searcher.Search(ctx, index, expansion, opts.ExpansionTopK, threshold)
	if err != nil {
		c.observeExpansion(ExpansionFailed)
		c.logger.Warn("expansion_search_failed", "dimension", dim.Name, "error", err)
		return primary
	}
	result.Expanded = true

	merged := MergeUnique(primary, extra)
	if len(merged) == len(primary) {
		c.observeExpansion(ExpansionEmpty)
	} else {
		c.observeExpansion(ExpansionAdded)
	}
	return merged
}

func (c *Coordinator) observeExpansion(outcome string) {
	if c.observer != nil {
		c.observer.ObserveExpansion(outcome)
	}
}

// MergeUnique concatenates base and extra, keeping the first chunk seen for
// each id.
func MergeUnique(base, extra []domain.RetrievedChunk) []domain.RetrievedChunk {
	out := make([]domain.RetrievedChunk, 0, len(base)+len(extra))
	seen := make(map[string]struct{}, len(base)+len(extra))
	for _, list := range [][]domain.RetrievedChunk{base, extra} {
		for _, c := range list {
			if _, ok := seen[c.ID]; ok {
				continue
			}
			seen[c.ID] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

// RankAndCap sorts by score and keeps at most maxPerDocument chunks from each
// document, preferring the highest scores.
func RankAndCap(chunks []domain.RetrievedChunk, maxPerDocument int) []domain.RetrievedChunk {
	ranked := make([]domain.RetrievedChunk, len(chunks))
	copy(ranked, chunks)
	domain.SortByScore(ranked)
	if maxPerDocument <= 0 {
		return ranked
	}

	perDoc := make(map[string]int)
	out := ranked[:0]
	for _, c := range ranked {
		if perDoc[c.DocumentID] >= maxPerDocument {
			continue
		}
		perDoc[c.DocumentID]++
		out = append(out, c)
	}
	// filtering a sorted slice keeps it sorted; re-sort to pin tie order
	domain.SortByScore(out)
	return out
}
