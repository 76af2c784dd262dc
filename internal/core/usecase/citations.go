package usecase

import (
	"github.com/chenziqing0111/agent-core-2/internal/core/citation"
	"github.com/chenziqing0111/agent-core-2/internal/core/domain"
)

// CitationUseCase renders citation markers against a previously issued
// reference table.
type CitationUseCase struct{}

func NewCitationUseCase() *CitationUseCase {
	return &CitationUseCase{}
}

func (CitationUseCase) RenderCitations(refs []domain.Reference, text string) (string, error) {
	m, err := citation.Restore(refs)
	if err != nil {
		return "", err
	}
	return m.FormatInline(text), nil
}
