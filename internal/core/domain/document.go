package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Document is one literature record (PubMed article or patent abstract).
type Document struct {
	ID        string   `json:"pmid"`
	Title     string   `json:"title"`
	Abstract  string   `json:"abstract"`
	Year      int      `json:"year,omitempty"`
	Journal   string   `json:"journal,omitempty"`
	Authors   []string `json:"authors,omitempty"`
	DOI       string   `json:"doi,omitempty"`
	Keywords  []string `json:"keywords,omitempty"`
	MeshTerms []string `json:"mesh_terms,omitempty"`
}

// Key returns the document identifier. Records without one are keyed on a
// digest of their title and abstract; position is used only when both are
// empty.
func (d Document) Key(position int) string {
	if id := strings.TrimSpace(d.ID); id != "" {
		return id
	}
	if d.Title == "" && d.Abstract == "" {
		return fmt.Sprintf("unknown_%d", position)
	}
	sum := sha256.Sum256([]byte(d.Title + "\x00" + d.Abstract))
	return "unknown_" + hex.EncodeToString(sum[:6])
}

// FirstAuthors returns at most n authors.
func (d Document) FirstAuthors(n int) []string {
	if n <= 0 || len(d.Authors) == 0 {
		return nil
	}
	if len(d.Authors) < n {
		n = len(d.Authors)
	}
	out := make([]string, n)
	copy(out, d.Authors[:n])
	return out
}

// PubMedURL is the canonical article link for a PubMed identifier.
func PubMedURL(id string) string {
	return "https://pubmed.ncbi.nlm.nih.gov/" + id + "/"
}
