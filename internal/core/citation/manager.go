package citation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/chenziqing0111/agent-core-2/internal/core/domain"
)

var markerPattern = regexp.MustCompile(`\[(REF|PMID):\s*([^\[\]]+)\]`)

// Manager numbers cited documents for one session. Numbers start at 1 and
// are never reassigned.
type Manager struct {
	mu      sync.RWMutex
	byID    map[string]int
	ordered []domain.Reference
}

func NewManager() *Manager {
	return &Manager{byID: make(map[string]int)}
}

// Restore rebuilds a manager from a reference table issued earlier.
func Restore(refs []domain.Reference) (*Manager, error) {
	m := NewManager()
	for i, ref := range refs {
		if ref.Number != i+1 {
			return nil, domain.WrapError(domain.ErrInvalidInput, "restore references",
				fmt.Errorf("reference %q has number %d, want %d", ref.DocumentID, ref.Number, i+1))
		}
		id := strings.TrimSpace(ref.DocumentID)
		if id == "" {
			return nil, domain.WrapError(domain.ErrInvalidInput, "restore references",
				fmt.Errorf("reference %d has no document id", ref.Number))
		}
		if _, ok := m.byID[id]; ok {
			return nil, domain.WrapError(domain.ErrInvalidInput, "restore references",
				fmt.Errorf("document %q listed twice", id))
		}
		ref.DocumentID = id
		m.byID[id] = ref.Number
		m.ordered = append(m.ordered, ref)
	}
	return m, nil
}

// Add registers doc and returns its reference number. Re-adding a known
// document returns the existing number.
func (m *Manager) Add(doc domain.Document) int {
	id := strings.TrimSpace(doc.ID)
	if id == "" {
		return 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if n, ok := m.byID[id]; ok {
		return n
	}
	n := len(m.ordered) + 1
	url := ""
	if isNumeric(id) {
		url = domain.PubMedURL(id)
	}
	m.byID[id] = n
	m.ordered = append(m.ordered, domain.Reference{
		Number:     n,
		DocumentID: id,
		Title:      doc.Title,
		Authors:    doc.FirstAuthors(3),
		Journal:    doc.Journal,
		Year:       doc.Year,
		DOI:        doc.DOI,
		URL:        url,
	})
	return n
}

func (m *Manager) Resolve(id string) (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.byID[strings.TrimSpace(id)]
	return n, ok
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ordered)
}

// References returns the reference list ordered by number.
func (m *Manager) References() []domain.Reference {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Reference, len(m.ordered))
	copy(out, m.ordered)
	return out
}

// FormatInline rewrites [REF:id] and [PMID:id] markers, including comma
// separated lists, into [n] citations. Unknown ids keep their marker.
func (m *Manager) FormatInline(text string) string {
	return markerPattern.ReplaceAllStringFunc(text, func(marker string) string {
		groups := markerPattern.FindStringSubmatch(marker)
		prefix, list := groups[1], groups[2]

		var numbers []string
		var unknown []string
		seen := map[int]bool{}
		for _, item := range strings.Split(list, ",") {
			id := strings.TrimSpace(item)
			id = strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(id, "PMID:"), "REF:"))
			if id == "" {
				continue
			}
			n, ok := m.Resolve(id)
			if !ok {
				unknown = append(unknown, "["+prefix+":"+id+"]")
				continue
			}
			if seen[n] {
				continue
			}
			seen[n] = true
			numbers = append(numbers, strconv.Itoa(n))
		}
		if len(numbers) == 0 {
			return marker
		}
		return "[" + strings.Join(numbers, ", ") + "]" + strings.Join(unknown, "")
	})
}

// FormatList renders the numbered reference list used under generated text.
func (m *Manager) FormatList() string {
	refs := m.References()
	if len(refs) == 0 {
		return ""
	}
	lines := make([]string, 0, len(refs))
	for _, ref := range refs {
		lines = append(lines, FormatReference(ref))
	}
	return strings.Join(lines, "\n")
}

// FormatReference renders one entry: number, title, source and identifier.
func FormatReference(ref domain.Reference) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%d] %s", ref.Number, Truncate(ref.Title, 100))
	if source := sourceLine(ref.Journal, ref.Year); source != "" {
		b.WriteString(" (" + source + ")")
	}
	b.WriteString(" [PMID:" + ref.DocumentID + "]")
	return b.String()
}

// Truncate shortens s to max runes, marking the cut with "...".
func Truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if max <= 0 || len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

func sourceLine(journal string, year int) string {
	journal = strings.TrimSpace(journal)
	switch {
	case journal != "" && year > 0:
		return fmt.Sprintf("%s, %d", journal, year)
	case journal != "":
		return journal
	case year > 0:
		return strconv.Itoa(year)
	default:
		return ""
	}
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
