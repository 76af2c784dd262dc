package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/chenziqing0111/agent-core-2/internal/core/domain"
)

func newCoordinatorFixture(hits map[string][]domain.RetrievedChunk) (*Coordinator, *scriptedIndex, *scriptedEmbedder, *recordingObserver) {
	emb := &scriptedEmbedder{errs: map[string]error{}}
	ix := &scriptedIndex{embedder: emb, hits: hits}
	obs := newRecordingObserver()
	return NewCoordinator(NewSearcher(emb, nil), obs, nil), ix, emb, obs
}

func TestRetrieveSkipsExpansionWhenEnoughHits(t *testing.T) {
	c, ix, _, obs := newCoordinatorFixture(map[string][]domain.RetrievedChunk{
		"q": {hit("a", "1", 0.9), hit("b", "2", 0.8), hit("c", "3", 0.7)},
		"x": {hit("d", "4", 0.9)},
	})
	res, err := c.Retrieve(context.Background(), ix, domain.Dimension{Name: "mechanism", Query: "q"}, "x", domain.DefaultRetrievalOptions())
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(res.Chunks) != 3 || res.Expanded || res.ExpandedQuery != "" {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(obs.expansions) != 0 {
		t.Fatalf("expansion should not run: %v", obs.expansions)
	}
}

func TestRetrieveExpandsWithRelaxedThresholdAndDedupes(t *testing.T) {
	c, ix, _, obs := newCoordinatorFixture(map[string][]domain.RetrievedChunk{
		"q": {hit("a", "1", 0.9), hit("low", "9", 0.1)},
		// 0.26 only passes the relaxed threshold 0.3*0.8=0.24
		"x": {hit("a", "1", 0.95), hit("e", "5", 0.5), hit("f", "6", 0.26), hit("g", "7", 0.2)},
	})
	res, err := c.Retrieve(context.Background(), ix, domain.Dimension{Name: "mechanism", Query: "q"}, "x", domain.DefaultRetrievalOptions())
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	var ids []string
	for _, ch := range res.Chunks {
		ids = append(ids, ch.ID)
	}
	if strings.Join(ids, ",") != "a,e,f" {
		t.Fatalf("unexpected chunks %v", ids)
	}
	if res.Chunks[0].Score != 0.9 {
		t.Fatalf("primary copy of a duplicate must win, got score %f", res.Chunks[0].Score)
	}
	if !res.Expanded || res.ExpandedQuery != "x" {
		t.Fatalf("expected expansion recorded, got %+v", res)
	}
	if obs.expansions[ExpansionAdded] != 1 {
		t.Fatalf("unexpected expansion outcomes %v", obs.expansions)
	}
}

func TestRetrieveSkipsExpansionWhenQueryUnchanged(t *testing.T) {
	c, ix, _, obs := newCoordinatorFixture(map[string][]domain.RetrievedChunk{"q": {hit("a", "1", 0.9)}})
	res, err := c.Retrieve(context.Background(), ix, domain.Dimension{Name: "m", Query: "q"}, " q ", domain.DefaultRetrievalOptions())
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if res.Expanded || obs.expansions[ExpansionSkipped] != 1 {
		t.Fatalf("expected skipped expansion, got %+v %v", res, obs.expansions)
	}
}

func TestRetrieveSwallowsExpansionFailure(t *testing.T) {
	c, ix, emb, obs := newCoordinatorFixture(map[string][]domain.RetrievedChunk{"q": {hit("a", "1", 0.9)}})
	emb.errs["x"] = errEmbedDown
	res, err := c.Retrieve(context.Background(), ix, domain.Dimension{Name: "m", Query: "q"}, "x", domain.DefaultRetrievalOptions())
	if err != nil {
		t.Fatalf("expansion failure must not fail retrieval: %v", err)
	}
	if len(res.Chunks) != 1 || res.Expanded {
		t.Fatalf("expected primary results only, got %+v", res)
	}
	if obs.expansions[ExpansionFailed] != 1 {
		t.Fatalf("unexpected expansion outcomes %v", obs.expansions)
	}
}

func TestRetrieveReturnsPrimaryFailure(t *testing.T) {
	c, ix, emb, _ := newCoordinatorFixture(nil)
	emb.errs["q"] = errEmbedDown
	_, err := c.Retrieve(context.Background(), ix, domain.Dimension{Name: "m", Query: "q"}, "x", domain.DefaultRetrievalOptions())
	if !errors.Is(err, errEmbedDown) {
		t.Fatalf("expected embed error, got %v", err)
	}
}

func TestRetrieveCapsChunksPerDocument(t *testing.T) {
	var many []domain.RetrievedChunk
	for i := 0; i < 25; i++ {
		many = append(many, hit(fmt.Sprintf("c%02d", i), "only-doc", 0.9-float64(i)*0.01))
	}
	c, ix, _, _ := newCoordinatorFixture(map[string][]domain.RetrievedChunk{"q": many})
	opts := domain.DefaultRetrievalOptions()
	opts.TopK = 25
	res, err := c.Retrieve(context.Background(), ix, domain.Dimension{Name: "m", Query: "q"}, "", opts)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(res.Chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(res.Chunks))
	}
	for i, want := range []string{"c00", "c01", "c02"} {
		if res.Chunks[i].ID != want {
			t.Fatalf("chunk %d = %s, want %s", i, res.Chunks[i].ID, want)
		}
	}
}

func TestRetrieveOnEmptyIndex(t *testing.T) {
	emb := &scriptedEmbedder{}
	c := NewCoordinator(NewSearcher(emb, nil), nil, nil)
	res, err := c.Retrieve(context.Background(), nil, domain.Dimension{Name: "m", Query: "q"}, "x", domain.DefaultRetrievalOptions())
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(res.Chunks) != 0 || res.Context != "" {
		t.Fatalf("expected empty result, got %+v", res)
	}
	if emb.calls != 0 {
		t.Fatalf("empty index must not embed")
	}
}

func TestFormatContext(t *testing.T) {
	chunks := []domain.RetrievedChunk{hit("a", "11", 0.9), hit("b", "22", 0.8), hit("c", "11", 0.7)}
	chunks[1].Metadata = domain.ChunkMetadata{Title: strings.Repeat("x", 120)}
	got := FormatContext(chunks)

	want := "[Segment 1] (PMID: 11)\ntext of a" +
		"\n\n---\n\n[Segment 2] (PMID: 22)\ntext of b" +
		"\n\n---\n\n[Segment 3] (PMID: 11)\ntext of c" +
		"\n\n---\n\nSources:\n- PMID 11: Title 11 (J, 2020)\n- PMID 22: " + strings.Repeat("x", 100) + "..."
	if got != want {
		t.Fatalf("FormatContext() =\n%s\nwant\n%s", got, want)
	}
	if FormatContext(nil) != "" {
		t.Fatalf("expected empty context for no chunks")
	}
}

func TestSearcherUsesMemo(t *testing.T) {
	emb := &scriptedEmbedder{}
	ix := &scriptedIndex{embedder: emb, hits: map[string][]domain.RetrievedChunk{"q": {hit("a", "1", 0.9)}}}
	s := NewSearcher(emb, &mapMemo{})

	for i := 0; i < 3; i++ {
		got, err := s.Search(context.Background(), ix, "q", 5, 0.3)
		if err != nil || len(got) != 1 {
			t.Fatalf("Search() = %v, %v", got, err)
		}
	}
	if emb.calls != 1 {
		t.Fatalf("expected one embedding call, got %d", emb.calls)
	}

	other := &scriptedIndex{embedder: emb, hits: ix.hits, key: "other-index"}
	if _, err := s.Search(context.Background(), other, "q", 5, 0.3); err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if emb.calls != 2 {
		t.Fatalf("memo must be scoped to the index, calls=%d", emb.calls)
	}
}

func TestRankAndCapKeepsOrder(t *testing.T) {
	in := []domain.RetrievedChunk{hit("a", "1", 0.5), hit("b", "1", 0.9), hit("c", "2", 0.7), hit("d", "1", 0.6)}
	got := RankAndCap(in, 2)
	var ids []string
	for _, c := range got {
		ids = append(ids, c.ID)
	}
	if strings.Join(ids, ",") != "b,c,d" {
		t.Fatalf("unexpected ranking %v", ids)
	}
	if in[0].ID != "a" {
		t.Fatalf("input slice mutated")
	}
}

func TestRetrieveZeroOptionsStillExpand(t *testing.T) {
	c, ix, _, obs := newCoordinatorFixture(map[string][]domain.RetrievedChunk{
		"q": {hit("a", "1", 0.9), hit("low", "9", 0.2)},
		"x": {hit("e", "5", 0.5)},
	})
	res, err := c.Retrieve(context.Background(), ix, domain.Dimension{Name: "m", Query: "q"}, "x", domain.RetrievalOptions{})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if !res.Expanded || obs.expansions[ExpansionAdded] != 1 {
		t.Fatalf("zero options must keep the default expansion trigger, got %+v", res)
	}
	for _, ch := range res.Chunks {
		if ch.ID == "low" {
			t.Fatalf("zero threshold must take the default, got chunk %s at %.2f", ch.ID, ch.Score)
		}
	}
}

func TestRetrieveDropsDuplicatePrimaryHits(t *testing.T) {
	c, ix, _, _ := newCoordinatorFixture(map[string][]domain.RetrievedChunk{
		"q": {hit("a", "1", 0.9), hit("a", "1", 0.9), hit("b", "2", 0.8), hit("c", "3", 0.7)},
	})
	res, err := c.Retrieve(context.Background(), ix, domain.Dimension{Name: "m", Query: "q"}, "", domain.DefaultRetrievalOptions())
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	var ids []string
	for _, ch := range res.Chunks {
		ids = append(ids, ch.ID)
	}
	if strings.Join(ids, ",") != "a,b,c" {
		t.Fatalf("unexpected chunks %v", ids)
	}
	if strings.Count(res.Context, "[Segment") != 3 {
		t.Fatalf("context repeats a segment:\n%s", res.Context)
	}
}
