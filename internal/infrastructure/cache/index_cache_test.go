package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chenziqing0111/agent-core-2/internal/core/domain"
	"github.com/chenziqing0111/agent-core-2/internal/core/ports"
	"github.com/chenziqing0111/agent-core-2/internal/infrastructure/chunking"
	"github.com/chenziqing0111/agent-core-2/internal/infrastructure/embedding/hashing"
	"github.com/chenziqing0111/agent-core-2/internal/infrastructure/vector/flat"
)

type memoryStore struct {
	mu      sync.Mutex
	data    map[string][]byte
	saveErr error
	saves   int
	closed  bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: map[string][]byte{}}
}

func (s *memoryStore) Load(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return nil, domain.WrapError(domain.ErrSnapshotNotFound, "load", errors.New(key))
	}
	return v, nil
}

func (s *memoryStore) Save(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.saveErr != nil {
		return s.saveErr
	}
	s.data[key] = data
	return nil
}

func (s *memoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *memoryStore) Close() error {
	s.closed = true
	return nil
}

type countingEmbedder struct {
	*hashing.Embedder
	calls atomic.Int32
	err   error
}

func (e *countingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	if e.err != nil {
		return nil, e.err
	}
	return e.Embedder.Embed(ctx, texts)
}

// blockingEmbedder holds every Embed call until release is closed.
type blockingEmbedder struct {
	*hashing.Embedder
	entered chan struct{}
	release chan struct{}
	once    sync.Once
	calls   atomic.Int32
}

func newBlockingEmbedder(dims int) *blockingEmbedder {
	return &blockingEmbedder{
		Embedder: hashing.New(dims),
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
	}
}

func (e *blockingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	e.once.Do(func() { close(e.entered) })
	select {
	case <-e.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return e.Embedder.Embed(ctx, texts)
}

type recordingObserver struct {
	mu      sync.Mutex
	results []string
}

func (o *recordingObserver) ObserveIndexCache(result string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results = append(o.results, result)
}

func (o *recordingObserver) count(result string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, r := range o.results {
		if r == result {
			n++
		}
	}
	return n
}

func testDocs(n int) []domain.Document {
	docs := make([]domain.Document, n)
	for i := range docs {
		docs[i] = domain.Document{
			ID:       fmt.Sprintf("%d", 1000+i),
			Title:    fmt.Sprintf("Study %d of KRAS signalling", i),
			Abstract: strings.Repeat(fmt.Sprintf("finding%d pathway tumour response ", i), 20),
		}
	}
	return docs
}

func newTestCache(t *testing.T, store *memoryStore, emb ports.Embedder, obs *recordingObserver) *IndexCache {
	t.Helper()
	splitter := chunking.NewSplitter(domain.ChunkingOptions{ChunkSize: 40, Overlap: 10, MinChunkSize: 5})
	var s ports.SnapshotStore
	if store != nil {
		s = store
	}
	var o ports.CacheObserver
	if obs != nil {
		o = obs
	}
	c, err := NewIndexCache(Config{MemoryEntries: 4}, splitter, emb, flat.NewBuilder(emb, 8), s, o, nil)
	if err != nil {
		t.Fatalf("NewIndexCache() error = %v", err)
	}
	return c
}

func TestGetOrBuildUsesMemoryThenStore(t *testing.T) {
	store := newMemoryStore()
	emb := &countingEmbedder{Embedder: hashing.New(32)}
	obs := &recordingObserver{}
	c := newTestCache(t, store, emb, obs)
	docs := testDocs(3)
	ctx := context.Background()

	first, err := c.GetOrBuild(ctx, docs)
	if err != nil {
		t.Fatalf("GetOrBuild() error = %v", err)
	}
	if first.Len() == 0 || store.saves != 1 {
		t.Fatalf("expected built and saved index, len=%d saves=%d", first.Len(), store.saves)
	}
	builds := emb.calls.Load()

	second, _ := c.GetOrBuild(ctx, docs)
	if second != first || emb.calls.Load() != builds {
		t.Fatalf("expected memory hit without embedding")
	}

	// a fresh process reuses the persisted snapshot
	fresh := newTestCache(t, store, emb, obs)
	restored, err := fresh.GetOrBuild(ctx, docs)
	if err != nil {
		t.Fatalf("GetOrBuild() after restart error = %v", err)
	}
	if emb.calls.Load() != builds {
		t.Fatalf("expected snapshot hit without embedding")
	}
	q, _ := emb.EmbedQuery(ctx, "KRAS signalling tumour")
	want, _ := first.Search(q, 5, 0)
	got, _ := restored.Search(q, 5, 0)
	if len(want) != len(got) || want[0].ID != got[0].ID || want[0].Score != got[0].Score {
		t.Fatalf("restored index searches differently: %v vs %v", want, got)
	}
	if obs.count(ResultMiss) != 1 || obs.count(ResultMemoryHit) != 1 || obs.count(ResultStoreHit) != 1 {
		t.Fatalf("unexpected observations %v", obs.results)
	}
}

func TestGetOrBuildIsOrderIndependent(t *testing.T) {
	emb := &countingEmbedder{Embedder: hashing.New(16)}
	c := newTestCache(t, nil, emb, nil)
	docs := testDocs(4)
	reversed := []domain.Document{docs[3], docs[2], docs[1], docs[0]}
	if c.Key(docs) != c.Key(reversed) {
		t.Fatalf("key depends on document order")
	}
}

func TestGetOrBuildRebuildsCorruptSnapshot(t *testing.T) {
	store := newMemoryStore()
	emb := &countingEmbedder{Embedder: hashing.New(16)}
	obs := &recordingObserver{}
	c := newTestCache(t, store, emb, obs)
	docs := testDocs(2)
	store.data[c.Key(docs)] = []byte("not a snapshot")

	ix, err := c.GetOrBuild(context.Background(), docs)
	if err != nil {
		t.Fatalf("GetOrBuild() error = %v", err)
	}
	if ix.Len() == 0 {
		t.Fatalf("expected rebuilt index")
	}
	if obs.count(ResultCorrupt) != 1 {
		t.Fatalf("expected corrupt observation, got %v", obs.results)
	}
	if _, err := flat.Unmarshal(store.data[c.Key(docs)]); err != nil {
		t.Fatalf("expected snapshot overwritten, got %v", err)
	}
}

func TestGetOrBuildKeepsPendingSaveUntilFlush(t *testing.T) {
	store := newMemoryStore()
	store.saveErr = errors.New("disk full")
	emb := &countingEmbedder{Embedder: hashing.New(16)}
	c := newTestCache(t, store, emb, nil)
	docs := testDocs(2)
	ctx := context.Background()

	if _, err := c.GetOrBuild(ctx, docs); err != nil {
		t.Fatalf("save failure must not fail the build: %v", err)
	}
	if c.Pending() != 1 {
		t.Fatalf("expected one pending snapshot, got %d", c.Pending())
	}
	if err := c.Flush(ctx); err == nil {
		t.Fatalf("expected flush error while store is failing")
	}

	store.mu.Lock()
	store.saveErr = nil
	store.mu.Unlock()
	if err := c.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if c.Pending() != 0 || !store.closed {
		t.Fatalf("expected flushed and closed store")
	}
	if _, ok := store.data[c.Key(docs)]; !ok {
		t.Fatalf("expected snapshot persisted on close")
	}
}

func TestGetOrBuildCollapsesConcurrentBuilds(t *testing.T) {
	emb := &countingEmbedder{Embedder: hashing.New(16)}
	c := newTestCache(t, nil, emb, nil)
	docs := testDocs(1)

	var wg sync.WaitGroup
	results := make([]int, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ix, err := c.GetOrBuild(context.Background(), docs)
			if err == nil {
				results[i] = ix.Len()
			}
		}(i)
	}
	wg.Wait()
	for _, n := range results {
		if n != results[0] || n == 0 {
			t.Fatalf("inconsistent results %v", results)
		}
	}
	// one document of ~160 words in windows of 40 fits in one embedding batch
	if got := emb.calls.Load(); got != 1 {
		t.Fatalf("expected a single build, embedder called %d times", got)
	}
}

func TestGetOrBuildReportsEmbeddingFailure(t *testing.T) {
	emb := &countingEmbedder{Embedder: hashing.New(16), err: errors.New("model offline")}
	c := newTestCache(t, nil, emb, nil)
	_, err := c.GetOrBuild(context.Background(), testDocs(1))
	if !domain.IsKind(err, domain.ErrIndexUnavailable) {
		t.Fatalf("expected index unavailable, got %v", err)
	}
}

func TestInvalidateRemovesSnapshot(t *testing.T) {
	store := newMemoryStore()
	emb := &countingEmbedder{Embedder: hashing.New(16)}
	c := newTestCache(t, store, emb, nil)
	docs := testDocs(2)
	ctx := context.Background()
	if _, err := c.GetOrBuild(ctx, docs); err != nil {
		t.Fatalf("GetOrBuild() error = %v", err)
	}
	if err := c.Invalidate(ctx, docs); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}
	if len(store.data) != 0 {
		t.Fatalf("expected store emptied")
	}
	before := emb.calls.Load()
	if _, err := c.GetOrBuild(ctx, docs); err != nil {
		t.Fatalf("GetOrBuild() error = %v", err)
	}
	if emb.calls.Load() == before {
		t.Fatalf("expected rebuild after invalidate")
	}
}

func TestGetOrBuildSharedBuildSurvivesCancelledCaller(t *testing.T) {
	emb := newBlockingEmbedder(16)
	c := newTestCache(t, nil, emb, nil)
	docs := testDocs(1)

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := c.GetOrBuild(ctxA, docs)
		errA <- err
	}()
	<-emb.entered
	cancelA()
	if err := <-errA; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller error = %v, want context.Canceled", err)
	}

	type result struct {
		ix  ports.VectorIndex
		err error
	}
	resB := make(chan result, 1)
	go func() {
		ix, err := c.GetOrBuild(context.Background(), docs)
		resB <- result{ix, err}
	}()
	time.Sleep(20 * time.Millisecond)
	close(emb.release)

	got := <-resB
	if got.err != nil {
		t.Fatalf("live caller error = %v", got.err)
	}
	if got.ix.Len() == 0 {
		t.Fatalf("expected a built index")
	}
	if n := emb.calls.Load(); n != 1 {
		t.Fatalf("expected the first build to be reused, embedder called %d times", n)
	}
}

func TestGetOrBuildWithoutObserver(t *testing.T) {
	store := newMemoryStore()
	emb := &countingEmbedder{Embedder: hashing.New(16)}
	c := newTestCache(t, store, emb, nil)
	if _, err := c.GetOrBuild(context.Background(), testDocs(1)); err != nil {
		t.Fatalf("GetOrBuild() error = %v", err)
	}
	if c.observer != nil {
		t.Fatalf("a missing observer must stay a nil interface")
	}
}
