package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/chenziqing0111/agent-core-2/internal/core/domain"
	"github.com/chenziqing0111/agent-core-2/internal/core/query"
)

type evidenceFixture struct {
	uc       *EvidenceUseCase
	index    *scriptedIndex
	provider *staticProvider
	observer *recordingObserver
	dims     []domain.Dimension
}

func egfrEntity() domain.Entity {
	return domain.Entity{Target: domain.Term{Name: "EGFR"}}
}

func sampleDocuments() []domain.Document {
	return []domain.Document{
		{ID: "1", Title: "EGFR structure", Journal: "Nature", Year: 2019, Authors: []string{"A", "B", "C", "D"}},
		{ID: "2", Title: "EGFR in lung cancer", Journal: "Cell", Year: 2022},
		{ID: "3", Title: "EGFR inhibitors", Journal: "Science", Year: 2021},
		{ID: "4", Title: "Unrelated", Journal: "PLoS", Year: 2015},
	}
}

func newEvidenceFixture(t *testing.T, entity domain.Entity, perDim func(dims []domain.Dimension) map[string][]domain.RetrievedChunk) *evidenceFixture {
	t.Helper()
	planner := query.NewBuilder(query.DefaultMaxAliases, 0)
	_, dims := planner.Plan(entity)

	emb := &scriptedEmbedder{errs: map[string]error{}}
	ix := &scriptedIndex{embedder: emb, hits: perDim(dims)}
	provider := &staticProvider{index: ix}
	obs := newRecordingObserver()
	coordinator := NewCoordinator(NewSearcher(emb, &mapMemo{}), obs, nil)

	uc := NewEvidenceUseCase(
		EvidenceConfig{Defaults: domain.DefaultRetrievalOptions(), Chunking: domain.DefaultChunkingOptions()},
		planner,
		query.NewExpander(query.DefaultLexicon()),
		provider,
		coordinator,
		obs,
		nil,
	)
	return &evidenceFixture{uc: uc, index: ix, provider: provider, observer: obs, dims: dims}
}

func egfrHits(dims []domain.Dimension) map[string][]domain.RetrievedChunk {
	return map[string][]domain.RetrievedChunk{
		dims[0].Query: {hit("c1", "1", 0.9), hit("c2", "2", 0.8)},
		dims[1].Query: {hit("c3", "3", 0.85), hit("c4", "1", 0.7)},
		dims[2].Query: {hit("c5", "2", 0.6)},
	}
}

func TestAssembleTargetOnly(t *testing.T) {
	f := newEvidenceFixture(t, egfrEntity(), egfrHits)

	bundle, err := f.uc.Assemble(context.Background(), domain.EvidenceRequest{
		Entity:    egfrEntity(),
		Documents: sampleDocuments(),
		Options:   domain.DefaultRetrievalOptions(),
	})
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}

	if bundle.CombinationKey.String() != "T" {
		t.Fatalf("combination key = %s", bundle.CombinationKey)
	}
	var names []string
	for _, d := range bundle.Dimensions {
		names = append(names, d.Name)
		if d.Failed() {
			t.Fatalf("dimension %s failed: %s", d.Name, d.Error)
		}
	}
	if diff := cmp.Diff([]string{"structure_function", "disease_association", "druggability"}, names); diff != "" {
		t.Fatalf("dimension names mismatch (-want +got):\n%s", diff)
	}
	if bundle.NoEvidence {
		t.Fatalf("expected evidence")
	}
	if !strings.HasPrefix(bundle.Context, "## structure_function\n\n[Segment 1] (PMID: 1)") {
		t.Fatalf("unexpected context prefix: %q", bundle.Context[:60])
	}
	if !strings.Contains(bundle.Context, "## druggability\n\n[Segment 1] (PMID: 2)") {
		t.Fatalf("missing druggability section")
	}

	var refIDs []string
	for i, ref := range bundle.References {
		if ref.Number != i+1 {
			t.Fatalf("reference %d numbered %d", i, ref.Number)
		}
		refIDs = append(refIDs, ref.DocumentID)
	}
	if diff := cmp.Diff([]string{"1", "2", "3"}, refIDs); diff != "" {
		t.Fatalf("reference order mismatch (-want +got):\n%s", diff)
	}
	if bundle.References[0].URL != "https://pubmed.ncbi.nlm.nih.gov/1/" || bundle.References[0].Journal != "Nature" {
		t.Fatalf("reference metadata not taken from documents: %+v", bundle.References[0])
	}

	if bundle.EvidenceLevel != domain.EvidenceVeryLimited {
		t.Fatalf("evidence level = %s", bundle.EvidenceLevel)
	}
	if len(bundle.KeyPapers) != 4 || bundle.KeyPapers[0].DocumentID != "2" || bundle.KeyPapers[3].DocumentID != "4" {
		t.Fatalf("key papers not ordered by year: %+v", bundle.KeyPapers)
	}
	if bundle.Stats.UniqueDocuments != 4 || bundle.Stats.Chunks != 100 || bundle.Stats.IndexKey != "scripted-index" {
		t.Fatalf("unexpected stats %+v", bundle.Stats)
	}
	if bundle.SessionID == "" {
		t.Fatalf("expected session id")
	}
	if f.observer.dimensions[DimensionOK] != 3 || f.observer.assembles != 1 {
		t.Fatalf("unexpected observations %+v", f.observer)
	}
}

func TestAssembleNoEvidence(t *testing.T) {
	f := newEvidenceFixture(t, egfrEntity(), func([]domain.Dimension) map[string][]domain.RetrievedChunk { return nil })

	bundle, err := f.uc.Assemble(context.Background(), domain.EvidenceRequest{
		Entity:    egfrEntity(),
		Documents: sampleDocuments(),
		Options:   domain.DefaultRetrievalOptions(),
	})
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if !bundle.NoEvidence || bundle.Context != domain.NoEvidenceMessage {
		t.Fatalf("expected no-evidence bundle, got %q", bundle.Context)
	}
	if len(bundle.References) != 0 {
		t.Fatalf("expected no references, got %d", len(bundle.References))
	}
	if f.observer.dimensions[DimensionEmpty] != 3 {
		t.Fatalf("unexpected observations %v", f.observer.dimensions)
	}
}

func TestAssembleEmptyEntityUsesOverview(t *testing.T) {
	f := newEvidenceFixture(t, domain.Entity{}, func(dims []domain.Dimension) map[string][]domain.RetrievedChunk {
		return map[string][]domain.RetrievedChunk{dims[0].Query: {hit("c1", "1", 0.9)}}
	})

	bundle, err := f.uc.Assemble(context.Background(), domain.EvidenceRequest{Documents: sampleDocuments()})
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if bundle.CombinationKey.String() != "EMPTY" || len(bundle.Dimensions) != 1 || bundle.Dimensions[0].Name != "general_overview" {
		t.Fatalf("unexpected overview bundle %+v", bundle.Dimensions)
	}
	if bundle.NoEvidence {
		t.Fatalf("expected evidence from overview dimension")
	}
}

func TestAssembleIsolatesFailingDimension(t *testing.T) {
	f := newEvidenceFixture(t, egfrEntity(), egfrHits)
	f.index.panicOn = f.dims[1].Query

	bundle, err := f.uc.Assemble(context.Background(), domain.EvidenceRequest{
		Entity:    egfrEntity(),
		Documents: sampleDocuments(),
		Options:   domain.DefaultRetrievalOptions(),
	})
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if !bundle.Dimensions[1].Failed() || !strings.Contains(bundle.Dimensions[1].Error, "panic") {
		t.Fatalf("expected failed middle dimension, got %+v", bundle.Dimensions[1])
	}
	if bundle.Dimensions[0].Failed() || bundle.Dimensions[2].Failed() {
		t.Fatalf("failure leaked into sibling dimensions")
	}
	if strings.Contains(bundle.Context, "## disease_association") {
		t.Fatalf("failed dimension must not contribute context")
	}
	if len(bundle.References) != 2 {
		t.Fatalf("expected references from surviving dimensions only, got %d", len(bundle.References))
	}
	if f.observer.dimensions[DimensionFailed] != 1 {
		t.Fatalf("unexpected observations %v", f.observer.dimensions)
	}
}

func TestAssembleIndexFailureYieldsNoEvidence(t *testing.T) {
	f := newEvidenceFixture(t, egfrEntity(), egfrHits)
	f.provider.err = domain.WrapError(domain.ErrIndexUnavailable, "build index", errors.New("embedder down"))

	bundle, err := f.uc.Assemble(context.Background(), domain.EvidenceRequest{
		Entity:    egfrEntity(),
		Documents: sampleDocuments(),
		Options:   domain.DefaultRetrievalOptions(),
	})
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if !bundle.NoEvidence || len(bundle.Dimensions) != 3 {
		t.Fatalf("expected three failed dimensions and no evidence, got %+v", bundle)
	}
	for _, d := range bundle.Dimensions {
		if !d.Failed() {
			t.Fatalf("dimension %s should be failed", d.Name)
		}
	}
	if bundle.EvidenceLevel != domain.EvidenceVeryLimited {
		t.Fatalf("evidence level still derives from documents, got %s", bundle.EvidenceLevel)
	}
}

func TestAssembleHonorsMaxDimensions(t *testing.T) {
	f := newEvidenceFixture(t, egfrEntity(), egfrHits)
	opts := domain.DefaultRetrievalOptions()
	opts.MaxDimensions = 1

	bundle, err := f.uc.Assemble(context.Background(), domain.EvidenceRequest{
		Entity: egfrEntity(), Documents: sampleDocuments(), Options: opts,
	})
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if len(bundle.Dimensions) != 1 || bundle.Dimensions[0].Name != "structure_function" {
		t.Fatalf("unexpected dimensions %+v", bundle.Dimensions)
	}
}

func TestAssembleReferencesAreDeterministic(t *testing.T) {
	f := newEvidenceFixture(t, egfrEntity(), egfrHits)
	req := domain.EvidenceRequest{Entity: egfrEntity(), Documents: sampleDocuments(), Options: domain.DefaultRetrievalOptions()}

	first, err := f.uc.Assemble(context.Background(), req)
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	for i := 0; i < 20; i++ {
		next, err := f.uc.Assemble(context.Background(), req)
		if err != nil {
			t.Fatalf("Assemble() error = %v", err)
		}
		if diff := cmp.Diff(first.References, next.References); diff != "" {
			t.Fatalf("run %d references differ (-first +next):\n%s", i, diff)
		}
		if next.SessionID == first.SessionID {
			t.Fatalf("sessions must not share ids")
		}
	}
}

func TestAssembleCancelled(t *testing.T) {
	f := newEvidenceFixture(t, egfrEntity(), egfrHits)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.uc.Assemble(ctx, domain.EvidenceRequest{Entity: egfrEntity(), Documents: sampleDocuments()})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if f.provider.calls != 0 {
		t.Fatalf("cancelled request must not touch the index")
	}
}

func TestRenderCitations(t *testing.T) {
	uc := NewCitationUseCase()
	refs := []domain.Reference{
		{Number: 1, DocumentID: "111"},
		{Number: 2, DocumentID: "222"},
	}

	got, err := uc.RenderCitations(refs, "EGFR drives growth [PMID: 222] and [REF: 111, 999].")
	if err != nil {
		t.Fatalf("RenderCitations() error = %v", err)
	}
	if want := "EGFR drives growth [2] and [1][REF:999]."; got != want {
		t.Fatalf("RenderCitations() = %q, want %q", got, want)
	}

	if _, err := uc.RenderCitations([]domain.Reference{{Number: 2, DocumentID: "1"}}, "x"); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for misnumbered table, got %v", err)
	}
}

func TestAssembleZeroOptionsUseConfiguredDefaults(t *testing.T) {
	f := newEvidenceFixture(t, egfrEntity(), egfrHits)
	configured := domain.DefaultRetrievalOptions()
	configured.ScoreThreshold = 0.75
	uc := NewEvidenceUseCase(
		EvidenceConfig{Defaults: configured, Chunking: domain.DefaultChunkingOptions()},
		query.NewBuilder(query.DefaultMaxAliases, 0),
		query.NewExpander(query.DefaultLexicon()),
		f.provider,
		NewCoordinator(NewSearcher(f.index.embedder, nil), nil, nil),
		nil,
		nil,
	)

	bundle, err := uc.Assemble(context.Background(), domain.EvidenceRequest{
		Entity:    egfrEntity(),
		Documents: sampleDocuments(),
	})
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}

	var got []string
	for _, dim := range bundle.Dimensions {
		for _, ch := range dim.Chunks {
			if ch.Score <= 0.75 {
				t.Fatalf("dimension %s kept %s at %.2f below the configured threshold", dim.Name, ch.ID, ch.Score)
			}
			got = append(got, ch.ID)
		}
	}
	if diff := cmp.Diff([]string{"c1", "c2", "c3"}, got); diff != "" {
		t.Fatalf("chunks (-want +got):\n%s", diff)
	}
	if len(bundle.Dimensions) != 3 {
		t.Fatalf("zero max_dimensions should keep the configured cap, got %d dimensions", len(bundle.Dimensions))
	}
}
