package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/chenziqing0111/agent-core-2/internal/core/domain"
)

// keyVersion changes whenever chunking or snapshot semantics change so old
// snapshots stop matching.
const keyVersion = "v2"

const DefaultKeyMaxIDs = 20

// KeyParams salts document-set keys with everything that shapes the index.
type KeyParams struct {
	Chunking     domain.ChunkingOptions
	EmbedderName string
	MaxIDs       int
}

// DocumentSetKey derives an order-independent cache key for docs. The first
// MaxIDs sorted identifiers, the document count and a digest of every
// document's content all feed the key, so a set that shares its leading ids
// with another still gets its own key. Records without an id are named by
// their content digest.
func DocumentSetKey(docs []domain.Document, params KeyParams) string {
	maxIDs := params.MaxIDs
	if maxIDs <= 0 {
		maxIDs = DefaultKeyMaxIDs
	}

	ids := make([]string, len(docs))
	digests := make([]string, len(docs))
	for i, doc := range docs {
		ids[i] = strings.TrimSpace(doc.ID)
		if ids[i] == "" {
			ids[i] = "~" + documentDigest("", doc)[:16]
		}
		digests[i] = documentDigest(ids[i], doc)
	}
	sort.Strings(ids)
	sort.Strings(digests)
	if len(ids) > maxIDs {
		ids = ids[:maxIDs]
	}

	h := sha256.New()
	fmt.Fprintf(h, "%s|%d/%d/%d|%s|%d|", keyVersion,
		params.Chunking.ChunkSize, params.Chunking.Overlap, params.Chunking.MinChunkSize,
		params.EmbedderName, len(docs))
	io.WriteString(h, strings.Join(ids, "_"))
	for _, d := range digests {
		io.WriteString(h, "|"+d)
	}
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16])
}

func documentDigest(id string, doc domain.Document) string {
	h := sha256.New()
	io.WriteString(h, id)
	io.WriteString(h, "\x00")
	io.WriteString(h, doc.Title)
	io.WriteString(h, "\x00")
	io.WriteString(h, doc.Abstract)
	return hex.EncodeToString(h.Sum(nil))
}
