package domain

import "sort"

type ChunkMetadata struct {
	Title     string   `json:"title"`
	Year      int      `json:"year,omitempty"`
	Journal   string   `json:"journal,omitempty"`
	Authors   []string `json:"authors,omitempty"`
	Keywords  []string `json:"keywords,omitempty"`
	MeshTerms []string `json:"mesh_terms,omitempty"`
}

// Chunk is a contiguous word window of one document. Start and End are word
// offsets into the normalised document text, End exclusive.
type Chunk struct {
	ID         string        `json:"chunk_id"`
	DocumentID string        `json:"pmid"`
	Text       string        `json:"text"`
	Start      int           `json:"start_pos"`
	End        int           `json:"end_pos"`
	Metadata   ChunkMetadata `json:"metadata"`
	Embedding  []float32     `json:"-"`
}

// RetrievedChunk is a chunk returned by a search, with its similarity score.
type RetrievedChunk struct {
	Chunk
	Score float64 `json:"score"`
}

type ChunkingOptions struct {
	ChunkSize    int `json:"chunk_size" yaml:"chunk_size"`
	Overlap      int `json:"chunk_overlap" yaml:"chunk_overlap"`
	MinChunkSize int `json:"min_chunk_size" yaml:"min_chunk_size"`
}

func DefaultChunkingOptions() ChunkingOptions {
	return ChunkingOptions{
		ChunkSize:    400,
		Overlap:      100,
		MinChunkSize: 50,
	}
}

// SortByScore orders chunks by descending score with a stable tie-break on
// document id, then word offset, then chunk id.
func SortByScore(chunks []RetrievedChunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		if chunks[i].Score != chunks[j].Score {
			return chunks[i].Score > chunks[j].Score
		}
		if chunks[i].DocumentID != chunks[j].DocumentID {
			return chunks[i].DocumentID < chunks[j].DocumentID
		}
		if chunks[i].Start != chunks[j].Start {
			return chunks[i].Start < chunks[j].Start
		}
		return chunks[i].ID < chunks[j].ID
	})
}
