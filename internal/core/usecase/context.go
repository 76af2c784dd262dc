package usecase

import (
	"fmt"
	"strings"

	"github.com/chenziqing0111/agent-core-2/internal/core/citation"
	"github.com/chenziqing0111/agent-core-2/internal/core/domain"
)

const segmentSeparator = "\n\n---\n\n"

// FormatContext renders chunks as numbered segments followed by one source
// line per distinct document. No chunks yields "".
func FormatContext(chunks []domain.RetrievedChunk) string {
	if len(chunks) == 0 {
		return ""
	}

	segments := make([]string, 0, len(chunks))
	var sources []string
	seen := make(map[string]struct{})
	for i, c := range chunks {
		segments = append(segments, fmt.Sprintf("[Segment %d] (PMID: %s)\n%s", i+1, c.DocumentID, c.Text))
		if _, ok := seen[c.DocumentID]; ok {
			continue
		}
		seen[c.DocumentID] = struct{}{}
		sources = append(sources, sourceSummary(c))
	}
	return strings.Join(segments, segmentSeparator) + segmentSeparator + "Sources:\n" + strings.Join(sources, "\n")
}

func sourceSummary(c domain.RetrievedChunk) string {
	title := citation.Truncate(c.Metadata.Title, 100)
	if title == "" {
		title = "Untitled"
	}
	var details []string
	if j := strings.TrimSpace(c.Metadata.Journal); j != "" {
		details = append(details, j)
	}
	if c.Metadata.Year > 0 {
		details = append(details, fmt.Sprint(c.Metadata.Year))
	}
	line := fmt.Sprintf("- PMID %s: %s", c.DocumentID, title)
	if len(details) > 0 {
		line += " (" + strings.Join(details, ", ") + ")"
	}
	return line
}
