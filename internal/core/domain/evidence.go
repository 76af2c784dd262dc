package domain

// NoEvidenceMessage is the bundle context when nothing passed the threshold.
const NoEvidenceMessage = "No relevant evidence found."

type Reference struct {
	Number     int      `json:"number"`
	DocumentID string   `json:"pmid"`
	Title      string   `json:"title"`
	Authors    []string `json:"authors,omitempty"`
	Journal    string   `json:"journal,omitempty"`
	Year       int      `json:"year,omitempty"`
	DOI        string   `json:"doi,omitempty"`
	URL        string   `json:"url"`
}

type EvidenceLevel string

const (
	EvidenceNone        EvidenceLevel = "none"
	EvidenceVeryLimited EvidenceLevel = "very_limited"
	EvidenceWeak        EvidenceLevel = "weak"
	EvidenceLimited     EvidenceLevel = "limited"
	EvidenceModerate    EvidenceLevel = "moderate"
	EvidenceStrong      EvidenceLevel = "strong"
)

// EvidenceLevelFor grades a literature set by its size.
func EvidenceLevelFor(documents int) EvidenceLevel {
	switch {
	case documents >= 100:
		return EvidenceStrong
	case documents >= 50:
		return EvidenceModerate
	case documents >= 20:
		return EvidenceLimited
	case documents >= 5:
		return EvidenceWeak
	case documents > 0:
		return EvidenceVeryLimited
	default:
		return EvidenceNone
	}
}

type KeyPaper struct {
	DocumentID string   `json:"pmid"`
	Title      string   `json:"title"`
	Authors    []string `json:"authors,omitempty"`
	Journal    string   `json:"journal,omitempty"`
	Year       int      `json:"year,omitempty"`
	URL        string   `json:"url"`
}

type EvidenceStats struct {
	Documents           int             `json:"documents"`
	Chunks              int             `json:"chunks"`
	UniqueDocuments     int             `json:"unique_documents"`
	AvgChunksPerDoc     float64         `json:"avg_chunks_per_document"`
	Chunking            ChunkingOptions `json:"chunking"`
	EmbeddingDimensions int             `json:"embedding_dimensions"`
	IndexKey            string          `json:"index_key"`
}

// EvidenceRequest is the engine input.
type EvidenceRequest struct {
	Entity    Entity           `json:"entity"`
	Documents []Document       `json:"documents"`
	Options   RetrievalOptions `json:"options"`
}

// EvidenceBundle is the engine output for one session.
type EvidenceBundle struct {
	SessionID      string            `json:"session_id"`
	CombinationKey CombinationKey    `json:"combination_key"`
	Dimensions     []DimensionResult `json:"dimensions"`
	References     []Reference       `json:"references"`
	Context        string            `json:"context"`
	NoEvidence     bool              `json:"no_evidence"`
	EvidenceLevel  EvidenceLevel     `json:"evidence_level"`
	KeyPapers      []KeyPaper        `json:"key_papers"`
	Stats          EvidenceStats     `json:"stats"`
}
