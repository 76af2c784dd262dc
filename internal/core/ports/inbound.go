package ports

import (
	"context"

	"github.com/chenziqing0111/agent-core-2/internal/core/domain"
)

// EvidenceAssembler is the inbound contract for evidence bundle assembly.
type EvidenceAssembler interface {
	Assemble(ctx context.Context, req domain.EvidenceRequest) (*domain.EvidenceBundle, error)
}

// QueryExpander derives the broadened fallback query for an entity.
type QueryExpander interface {
	Expand(entity domain.Entity) string
}

// DimensionPlanner maps an entity to its ordered retrieval dimensions.
type DimensionPlanner interface {
	Plan(entity domain.Entity) (domain.CombinationKey, []domain.Dimension)
}

// CitationRenderer rewrites citation markers against an issued reference table.
type CitationRenderer interface {
	RenderCitations(refs []domain.Reference, text string) (string, error)
}

// EvidenceService is what transports need: planning, assembly and the
// defaults applied to options a caller leaves out.
type EvidenceService interface {
	EvidenceAssembler
	DimensionPlanner
	DefaultOptions() domain.RetrievalOptions
}
