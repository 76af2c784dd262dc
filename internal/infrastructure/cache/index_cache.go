package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/chenziqing0111/agent-core-2/internal/core/domain"
	"github.com/chenziqing0111/agent-core-2/internal/core/ports"
	"github.com/chenziqing0111/agent-core-2/internal/infrastructure/vector/flat"
)

const (
	DefaultIndexEntries = 16
	DefaultBuildTimeout = 10 * time.Minute
)

// Cache outcomes reported to the observer.
const (
	ResultMemoryHit = "memory_hit"
	ResultStoreHit  = "store_hit"
	ResultMiss      = "miss"
	ResultCorrupt   = "corrupt"
	ResultBuildFail = "build_failed"
	ResultSaveFail  = "save_failed"
)

type Config struct {
	MemoryEntries int
	KeyMaxIDs     int
	// BuildTimeout bounds a shared build once it no longer follows the
	// context of the caller that started it.
	BuildTimeout time.Duration
}

// IndexCache resolves a document set to its vector index: process memory
// first, then the snapshot store, then a fresh build.
type IndexCache struct {
	chunker  ports.Chunker
	builder  *flat.Builder
	embedder ports.Embedder
	store    ports.SnapshotStore
	observer ports.CacheObserver
	logger   *slog.Logger
	maxIDs   int
	timeout  time.Duration

	memory *lru.Cache[string, *flat.Index]
	group  singleflight.Group

	mu      sync.Mutex
	pending map[string][]byte
}

// NewIndexCache wires the cache. store may be nil for a memory-only cache.
func NewIndexCache(
	cfg Config,
	chunker ports.Chunker,
	embedder ports.Embedder,
	builder *flat.Builder,
	store ports.SnapshotStore,
	observer ports.CacheObserver,
	logger *slog.Logger,
) (*IndexCache, error) {
	if cfg.MemoryEntries <= 0 {
		cfg.MemoryEntries = DefaultIndexEntries
	}
	if cfg.BuildTimeout <= 0 {
		cfg.BuildTimeout = DefaultBuildTimeout
	}
	memory, err := lru.New[string, *flat.Index](cfg.MemoryEntries)
	if err != nil {
		return nil, fmt.Errorf("create index lru: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IndexCache{
		chunker:  chunker,
		builder:  builder,
		embedder: embedder,
		store:    store,
		observer: observer,
		logger:   logger,
		maxIDs:   cfg.KeyMaxIDs,
		timeout:  cfg.BuildTimeout,
		memory:   memory,
		pending:  make(map[string][]byte),
	}, nil
}

// Key is the cache key for docs under the current chunker and embedder.
func (c *IndexCache) Key(docs []domain.Document) string {
	return DocumentSetKey(docs, KeyParams{
		Chunking:     c.chunker.Params(),
		EmbedderName: c.embedder.Name(),
		MaxIDs:       c.maxIDs,
	})
}

// GetOrBuild returns the index for docs. Concurrent calls for the same set
// share one build, which outlives any single caller's cancellation; each
// caller still returns as soon as its own ctx is done.
func (c *IndexCache) GetOrBuild(ctx context.Context, docs []domain.Document) (ports.VectorIndex, error) {
	key := c.Key(docs)
	if ix, ok := c.memory.Get(key); ok {
		c.observe(ResultMemoryHit)
		return ix, nil
	}

	ch := c.group.DoChan(key, func() (any, error) {
		buildCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return c.loadOrBuild(buildCtx, key, docs)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*flat.Index), nil
	}
}

func (c *IndexCache) loadOrBuild(ctx context.Context, key string, docs []domain.Document) (*flat.Index, error) {
	if ix, ok := c.memory.Get(key); ok {
		c.observe(ResultMemoryHit)
		return ix, nil
	}

	if ix, ok := c.loadSnapshot(ctx, key); ok {
		c.memory.Add(key, ix)
		c.observe(ResultStoreHit)
		return ix, nil
	}

	c.observe(ResultMiss)
	chunks := c.chunker.Chunk(docs)
	ix, err := c.builder.Build(ctx, key, chunks)
	if err != nil {
		c.observe(ResultBuildFail)
		return nil, domain.WrapError(domain.ErrIndexUnavailable, "build index", err)
	}
	c.memory.Add(key, ix)
	c.logger.Info("index_built", "key", key, "documents", len(docs), "chunks", ix.Len(), "dimensions", ix.Dimensions())

	c.persist(ctx, key, ix)
	return ix, nil
}

// loadSnapshot treats every failure as a miss; damaged entries are logged.
func (c *IndexCache) loadSnapshot(ctx context.Context, key string) (*flat.Index, bool) {
	if c.store == nil {
		return nil, false
	}
	data, err := c.store.Load(ctx, key)
	if err != nil {
		if !domain.IsKind(err, domain.ErrSnapshotNotFound) {
			c.logger.Warn("index_cache_load_failed", "key", key, "error", err)
		}
		return nil, false
	}
	ix, err := flat.Unmarshal(data)
	if err == nil && (ix.Key() != key || ix.Model() != c.embedder.Name()) {
		err = domain.WrapError(domain.ErrSnapshotCorrupt, "decode index snapshot",
			fmt.Errorf("snapshot for key %q model %q", ix.Key(), ix.Model()))
	}
	if err != nil {
		c.observe(ResultCorrupt)
		c.logger.Warn("index_cache_corrupt", "key", key, "error", err)
		return nil, false
	}
	return ix, true
}

func (c *IndexCache) persist(ctx context.Context, key string, ix *flat.Index) {
	if c.store == nil {
		return
	}
	data, err := ix.MarshalBinary()
	if err != nil {
		c.logger.Warn("index_cache_encode_failed", "key", key, "error", err)
		return
	}
	if err := c.store.Save(ctx, key, data); err != nil {
		c.observe(ResultSaveFail)
		c.logger.Warn("index_cache_save_failed", "key", key, "error", err)
		c.mu.Lock()
		c.pending[key] = data
		c.mu.Unlock()
	}
}

// Pending reports snapshots that still wait to be persisted.
func (c *IndexCache) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Flush retries persisting snapshots whose earlier save failed.
func (c *IndexCache) Flush(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	c.mu.Lock()
	keys := make([]string, 0, len(c.pending))
	for key := range c.pending {
		keys = append(keys, key)
	}
	c.mu.Unlock()
	sort.Strings(keys)

	var errs []error
	for _, key := range keys {
		c.mu.Lock()
		data, ok := c.pending[key]
		c.mu.Unlock()
		if !ok {
			continue
		}
		if err := c.store.Save(ctx, key, data); err != nil {
			errs = append(errs, fmt.Errorf("flush %s: %w", key, err))
			continue
		}
		c.mu.Lock()
		delete(c.pending, key)
		c.mu.Unlock()
	}
	return errors.Join(errs...)
}

// Invalidate drops the cached index for docs from memory and the store.
func (c *IndexCache) Invalidate(ctx context.Context, docs []domain.Document) error {
	key := c.Key(docs)
	c.memory.Remove(key)
	c.mu.Lock()
	delete(c.pending, key)
	c.mu.Unlock()
	if c.store == nil {
		return nil
	}
	return c.store.Delete(ctx, key)
}

// Close flushes pending snapshots and releases the store.
func (c *IndexCache) Close(ctx context.Context) error {
	err := c.Flush(ctx)
	if closer, ok := c.store.(io.Closer); ok {
		err = errors.Join(err, closer.Close())
	}
	return err
}

func (c *IndexCache) observe(result string) {
	if c.observer != nil {
		c.observer.ObserveIndexCache(result)
	}
}
