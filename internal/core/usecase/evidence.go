package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/chenziqing0111/agent-core-2/internal/core/citation"
	"github.com/chenziqing0111/agent-core-2/internal/core/domain"
	"github.com/chenziqing0111/agent-core-2/internal/core/ports"
)

const (
	defaultConcurrency = 4
	keyPaperCount      = 5
)

// Dimension outcomes reported to the observer.
const (
	DimensionOK     = "ok"
	DimensionEmpty  = "empty"
	DimensionFailed = "failed"
)

type EvidenceConfig struct {
	Defaults    domain.RetrievalOptions
	Chunking    domain.ChunkingOptions
	Concurrency int
}

// EvidenceUseCase assembles an evidence bundle for one entity and document
// set. Each call is an independent session with its own reference table.
type EvidenceUseCase struct {
	planner     ports.DimensionPlanner
	expander    ports.QueryExpander
	provider    ports.IndexProvider
	coordinator *Coordinator
	observer    ports.RetrievalObserver
	logger      *slog.Logger
	cfg         EvidenceConfig
}

func NewEvidenceUseCase(
	cfg EvidenceConfig,
	planner ports.DimensionPlanner,
	expander ports.QueryExpander,
	provider ports.IndexProvider,
	coordinator *Coordinator,
	observer ports.RetrievalObserver,
	logger *slog.Logger,
) *EvidenceUseCase {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	cfg.Defaults = cfg.Defaults.Normalize()
	if logger == nil {
		logger = slog.Default()
	}
	return &EvidenceUseCase{
		planner:     planner,
		expander:    expander,
		provider:    provider,
		coordinator: coordinator,
		observer:    observer,
		logger:      logger,
		cfg:         cfg,
	}
}

// DefaultOptions are the retrieval options applied when a request leaves
// them unset.
func (uc *EvidenceUseCase) DefaultOptions() domain.RetrievalOptions {
	return uc.cfg.Defaults
}

func (uc *EvidenceUseCase) Plan(entity domain.Entity) (domain.CombinationKey, []domain.Dimension) {
	return uc.planner.Plan(entity)
}

// Assemble runs every dimension concurrently. Unset request options take the
// configured defaults. A failing dimension is recorded in its slot and never
// aborts the others. Cancelling ctx returns ctx.Err() and discards partial
// results.
func (uc *EvidenceUseCase) Assemble(ctx context.Context, req domain.EvidenceRequest) (*domain.EvidenceBundle, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts := req.Options.WithDefaults(uc.cfg.Defaults)
	key, dims := uc.planner.Plan(req.Entity)
	if opts.MaxDimensions > 0 && len(dims) > opts.MaxDimensions {
		dims = dims[:opts.MaxDimensions]
	}

	bundle := &domain.EvidenceBundle{
		SessionID:      uuid.NewString(),
		CombinationKey: key,
	}

	index, err := uc.provider.GetOrBuild(ctx, req.Documents)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		uc.logger.Warn("index_unavailable", "session_id", bundle.SessionID, "documents", len(req.Documents), "error", err)
		bundle.Dimensions = failAll(dims, err)
		for range dims {
			uc.observeDimension(DimensionFailed, 0)
		}
	} else {
		bundle.Dimensions = uc.retrieveAll(ctx, index, dims, uc.expander.Expand(req.Entity), opts)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		bundle.Stats.Chunks = index.Len()
		bundle.Stats.EmbeddingDimensions = index.Dimensions()
		bundle.Stats.IndexKey = index.Key()
	}

	refs := uc.registerReferences(req.Documents, bundle.Dimensions)
	bundle.References = refs.References()
	bundle.Context, bundle.NoEvidence = combineContexts(bundle.Dimensions)

	unique := uniqueDocuments(req.Documents)
	bundle.EvidenceLevel = domain.EvidenceLevelFor(len(unique))
	bundle.KeyPapers = keyPapers(unique, keyPaperCount)
	bundle.Stats.Documents = len(req.Documents)
	bundle.Stats.UniqueDocuments = len(unique)
	bundle.Stats.Chunking = uc.cfg.Chunking
	if len(unique) > 0 {
		bundle.Stats.AvgChunksPerDoc = float64(bundle.Stats.Chunks) / float64(len(unique))
	}

	if uc.observer != nil {
		uc.observer.ObserveAssemble(time.Since(start), bundle.NoEvidence)
	}
	uc.logger.Info("evidence_assembled",
		"session_id", bundle.SessionID,
		"combination_key", key.String(),
		"dimensions", len(bundle.Dimensions),
		"references", len(bundle.References),
		"no_evidence", bundle.NoEvidence,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return bundle, nil
}

func (uc *EvidenceUseCase) retrieveAll(
	ctx context.Context,
	index ports.VectorIndex,
	dims []domain.Dimension,
	expansion string,
	opts domain.RetrievalOptions,
) []domain.DimensionResult {
	results := make([]domain.DimensionResult, len(dims))

	var g errgroup.Group
	g.SetLimit(uc.cfg.Concurrency)
	for i, dim := range dims {
		g.Go(func() error {
			results[i] = uc.retrieveOne(ctx, index, dim, expansion, opts)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (uc *EvidenceUseCase) retrieveOne(
	ctx context.Context,
	index ports.VectorIndex,
	dim domain.Dimension,
	expansion string,
	opts domain.RetrievalOptions,
) (result domain.DimensionResult) {
	dctx, cancel := context.WithTimeout(ctx, opts.DimensionTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			uc.logger.Error("dimension_retrieval_panic", "dimension", dim.Name, "panic", r, "stack", string(debug.Stack()))
			result = domain.DimensionResult{Name: dim.Name, Query: dim.Query, Error: fmt.Sprintf("panic: %v", r)}
			uc.observeDimension(DimensionFailed, 0)
		}
	}()

	result, err := uc.coordinator.Retrieve(dctx, index, dim, expansion, opts)
	if err != nil {
		uc.logger.Warn("dimension_retrieval_failed", "dimension", dim.Name, "error", err)
		uc.observeDimension(DimensionFailed, 0)
		return domain.DimensionResult{Name: dim.Name, Query: dim.Query, Error: err.Error()}
	}
	if len(result.Chunks) == 0 {
		uc.observeDimension(DimensionEmpty, 0)
	} else {
		uc.observeDimension(DimensionOK, len(result.Chunks))
	}
	return result
}

func (uc *EvidenceUseCase) observeDimension(status string, chunks int) {
	if uc.observer != nil {
		uc.observer.ObserveDimension(status, chunks)
	}
}

// registerReferences numbers documents in dimension order, then rank order,
// so numbering does not depend on goroutine scheduling.
func (uc *EvidenceUseCase) registerReferences(docs []domain.Document, results []domain.DimensionResult) *citation.Manager {
	byKey := make(map[string]domain.Document, len(docs))
	for i, doc := range docs {
		k := doc.Key(i)
		if _, ok := byKey[k]; ok {
			continue
		}
		doc.ID = k
		byKey[k] = doc
	}

	refs := citation.NewManager()
	for _, r := range results {
		for _, c := range r.Chunks {
			doc, ok := byKey[c.DocumentID]
			if !ok {
				doc = domain.Document{
					ID:      c.DocumentID,
					Title:   c.Metadata.Title,
					Journal: c.Metadata.Journal,
					Year:    c.Metadata.Year,
					Authors: c.Metadata.Authors,
				}
			}
			refs.Add(doc)
		}
	}
	return refs
}

func failAll(dims []domain.Dimension, err error) []domain.DimensionResult {
	out := make([]domain.DimensionResult, len(dims))
	for i, d := range dims {
		out[i] = domain.DimensionResult{Name: d.Name, Query: d.Query, Error: err.Error()}
	}
	return out
}

// combineContexts joins per-dimension contexts under their names, or returns
// the no-evidence message when nothing was retrieved anywhere.
func combineContexts(results []domain.DimensionResult) (string, bool) {
	var sections []string
	for _, r := range results {
		if len(r.Chunks) == 0 {
			continue
		}
		sections = append(sections, "## "+r.Name+"\n\n"+r.Context)
	}
	if len(sections) == 0 {
		return domain.NoEvidenceMessage, true
	}
	return strings.Join(sections, "\n\n"), false
}

func uniqueDocuments(docs []domain.Document) []domain.Document {
	seen := make(map[string]struct{}, len(docs))
	out := make([]domain.Document, 0, len(docs))
	for i, doc := range docs {
		k := doc.Key(i)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		doc.ID = k
		out = append(out, doc)
	}
	return out
}

// keyPapers picks the n most recent documents.
func keyPapers(docs []domain.Document, n int) []domain.KeyPaper {
	sorted := make([]domain.Document, len(docs))
	copy(sorted, docs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Year > sorted[j].Year
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}

	out := make([]domain.KeyPaper, 0, len(sorted))
	for _, doc := range sorted {
		out = append(out, domain.KeyPaper{
			DocumentID: doc.ID,
			Title:      citation.Truncate(doc.Title, 150),
			Authors:    doc.FirstAuthors(3),
			Journal:    doc.Journal,
			Year:       doc.Year,
			URL:        domain.PubMedURL(doc.ID),
		})
	}
	return out
}
