package chunking

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/chenziqing0111/agent-core-2/internal/core/domain"
)

// Splitter cuts documents into overlapping word windows.
type Splitter struct {
	ChunkSize    int
	Overlap      int
	MinChunkSize int
}

func NewSplitter(opts domain.ChunkingOptions) *Splitter {
	def := domain.DefaultChunkingOptions()
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = def.ChunkSize
	}
	overlap := opts.Overlap
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	minSize := opts.MinChunkSize
	if minSize <= 0 {
		minSize = 1
	}
	if minSize > chunkSize {
		minSize = chunkSize
	}
	return &Splitter{
		ChunkSize:    chunkSize,
		Overlap:      overlap,
		MinChunkSize: minSize,
	}
}

func (s *Splitter) Params() domain.ChunkingOptions {
	return domain.ChunkingOptions{
		ChunkSize:    s.ChunkSize,
		Overlap:      s.Overlap,
		MinChunkSize: s.MinChunkSize,
	}
}

// Chunk splits every document. Documents without usable text produce no
// chunks; a repeated document id keeps its first record only.
func (s *Splitter) Chunk(docs []domain.Document) []domain.Chunk {
	out := make([]domain.Chunk, 0, len(docs))
	seen := make(map[string]struct{}, len(docs))
	for i, doc := range docs {
		id := doc.Key(i)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, s.chunkDocument(doc, id)...)
	}
	return out
}

func (s *Splitter) chunkDocument(doc domain.Document, docID string) []domain.Chunk {
	words := strings.Fields(documentText(doc.Title, doc.Abstract))
	if len(words) == 0 {
		return nil
	}
	meta := metadataOf(doc)

	if len(words) <= s.ChunkSize {
		if len(words) < s.MinChunkSize {
			return nil
		}
		return []domain.Chunk{newChunk(docID, words, 0, len(words), meta)}
	}

	step := s.ChunkSize - s.Overlap
	if step <= 0 {
		step = s.ChunkSize
	}

	out := make([]domain.Chunk, 0, len(words)/step+1)
	for start := 0; start < len(words); start += step {
		end := start + s.ChunkSize
		if end > len(words) {
			end = len(words)
		}
		if end-start >= s.MinChunkSize {
			out = append(out, newChunk(docID, words, start, end, meta))
		}
		if end == len(words) {
			break
		}
	}
	return out
}

func newChunk(docID string, words []string, start, end int, meta domain.ChunkMetadata) domain.Chunk {
	text := strings.Join(words[start:end], " ")
	return domain.Chunk{
		ID:         ChunkID(docID, start, text),
		DocumentID: docID,
		Text:       text,
		Start:      start,
		End:        end,
		Metadata:   meta,
	}
}

// ChunkID is a stable identifier derived from the document id, the word
// offset and the first 50 characters of the chunk text.
func ChunkID(docID string, start int, text string) string {
	prefix := []rune(text)
	if len(prefix) > 50 {
		prefix = prefix[:50]
	}
	sum := sha256.Sum256([]byte(docID + "_" + strconv.Itoa(start) + "_" + string(prefix)))
	return hex.EncodeToString(sum[:16])
}

func metadataOf(doc domain.Document) domain.ChunkMetadata {
	title := []rune(strings.TrimSpace(normalizeMarkup(doc.Title)))
	if len(title) > 200 {
		title = title[:200]
	}
	return domain.ChunkMetadata{
		Title:     string(title),
		Year:      doc.Year,
		Journal:   doc.Journal,
		Authors:   doc.FirstAuthors(3),
		Keywords:  doc.Keywords,
		MeshTerms: doc.MeshTerms,
	}
}
