package query

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/chenziqing0111/agent-core-2/internal/core/domain"
)

// Lexicon maps a lower-case word to broader synonyms.
type Lexicon map[string][]string

// DefaultLexicon covers common oncology and disease vocabulary.
func DefaultLexicon() Lexicon {
	return Lexicon{
		"cancer":     {"tumor", "carcinoma", "neoplasm", "malignancy"},
		"tumor":      {"cancer", "neoplasm"},
		"tumour":     {"tumor", "cancer", "neoplasm"},
		"carcinoma":  {"cancer", "tumor"},
		"leukemia":   {"leukaemia", "hematologic malignancy"},
		"lymphoma":   {"lymphoid neoplasm"},
		"inhibitor":  {"antagonist", "blocker"},
		"antibody":   {"monoclonal antibody", "immunotherapy"},
		"diabetes":   {"hyperglycemia", "insulin resistance"},
		"alzheimer":  {"dementia", "neurodegeneration"},
		"alzheimers": {"dementia", "neurodegeneration"},
		"fibrosis":   {"fibrotic disease", "scarring"},
		"infection":  {"infectious disease"},
		"nsclc":      {"non-small cell lung cancer", "lung cancer"},
		"crc":        {"colorectal cancer"},
		"hcc":        {"hepatocellular carcinoma", "liver cancer"},
	}
}

// LoadLexicon reads a YAML mapping of word -> synonyms.
func LoadLexicon(path string) (Lexicon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read lexicon: %w", err)
	}
	var raw map[string][]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "decode lexicon", err)
	}
	out := make(Lexicon, len(raw))
	for word, synonyms := range raw {
		word = strings.ToLower(strings.TrimSpace(word))
		if word == "" {
			continue
		}
		out[word] = synonyms
	}
	return out, nil
}

// Expander builds the broadened fallback query for an entity.
type Expander struct {
	lexicon Lexicon
}

func NewExpander(lexicon Lexicon) *Expander {
	if lexicon == nil {
		lexicon = Lexicon{}
	}
	return &Expander{lexicon: lexicon}
}

// Expand joins every entity name, every alias, and lexicon synonyms of the
// words they contain. An empty entity yields an empty string.
func (e *Expander) Expand(entity domain.Entity) string {
	terms := make([]string, 0, 8)
	seen := make(map[string]struct{})
	add := func(term string) {
		term = strings.TrimSpace(term)
		if term == "" {
			return
		}
		k := strings.ToLower(term)
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		terms = append(terms, term)
	}

	var base []string
	for _, f := range domain.Fields {
		term := entity.Term(f)
		if !term.Present() {
			continue
		}
		base = append(base, term.Name)
		base = append(base, term.CleanAliases()...)
	}
	for _, term := range base {
		add(term)
	}
	for _, term := range base {
		for _, word := range strings.Fields(strings.ToLower(term)) {
			word = strings.Trim(word, ",.;:()[]\"'")
			for _, syn := range e.lexicon[word] {
				add(syn)
			}
		}
	}
	return strings.Join(terms, " ")
}
