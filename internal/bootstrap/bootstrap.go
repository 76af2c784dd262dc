package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chenziqing0111/agent-core-2/internal/config"
	"github.com/chenziqing0111/agent-core-2/internal/core/domain"
	"github.com/chenziqing0111/agent-core-2/internal/core/ports"
	"github.com/chenziqing0111/agent-core-2/internal/core/query"
	"github.com/chenziqing0111/agent-core-2/internal/core/usecase"
	"github.com/chenziqing0111/agent-core-2/internal/infrastructure/cache"
	"github.com/chenziqing0111/agent-core-2/internal/infrastructure/chunking"
	"github.com/chenziqing0111/agent-core-2/internal/infrastructure/embedding/hashing"
	"github.com/chenziqing0111/agent-core-2/internal/infrastructure/embedding/ollama"
	"github.com/chenziqing0111/agent-core-2/internal/infrastructure/embedding/openai"
	"github.com/chenziqing0111/agent-core-2/internal/infrastructure/repository/postgres"
	"github.com/chenziqing0111/agent-core-2/internal/infrastructure/resilience"
	"github.com/chenziqing0111/agent-core-2/internal/infrastructure/storage/bolt"
	"github.com/chenziqing0111/agent-core-2/internal/infrastructure/storage/localfs"
	redisstore "github.com/chenziqing0111/agent-core-2/internal/infrastructure/storage/redis"
	"github.com/chenziqing0111/agent-core-2/internal/infrastructure/vector/flat"
)

const (
	pruneInterval = time.Hour
	flushTimeout  = 10 * time.Second
)

// Observer receives retrieval, cache and breaker events.
// metrics.EvidenceMetrics implements it.
type Observer interface {
	ports.RetrievalObserver
	ports.CacheObserver
	ObserveBreakerState(operation, from, to string)
}

type Options struct {
	Logger *slog.Logger
	// Observer may be nil.
	Observer Observer
}

type App struct {
	Config config.Config

	Evidence  *usecase.EvidenceUseCase
	Citations *usecase.CitationUseCase
	Cache     *cache.IndexCache
	Embedder  ports.Embedder
	// Executor is shared with transports built outside bootstrap.
	Executor *resilience.Executor

	closeOnce sync.Once
	closeFn   func(context.Context) error
}

func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var retrievalObserver ports.RetrievalObserver
	var cacheObserver ports.CacheObserver
	executorOpts := []resilience.Option{resilience.WithLogger(logger)}
	if opts.Observer != nil {
		retrievalObserver = opts.Observer
		cacheObserver = opts.Observer
		executorOpts = append(executorOpts, resilience.WithStateObserver(opts.Observer.ObserveBreakerState))
	}
	executor := resilience.NewExecutor(callPolicy(cfg), executorOpts...)

	embedder, err := NewEmbedder(cfg, executor)
	if err != nil {
		return nil, err
	}

	lexicon := query.DefaultLexicon()
	if cfg.RAGLexiconPath != "" {
		lexicon, err = query.LoadLexicon(cfg.RAGLexiconPath)
		if err != nil {
			return nil, fmt.Errorf("load lexicon: %w", err)
		}
	}

	store, closeStore, err := newSnapshotStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	chunker := chunking.NewSplitter(cfg.ChunkingOptions())
	indexCache, err := cache.NewIndexCache(
		cache.Config{MemoryEntries: cfg.CacheIndexEntries, KeyMaxIDs: cfg.CacheKeyMaxIDs},
		chunker,
		embedder,
		flat.NewBuilder(embedder, cfg.EmbedBatchSize),
		store,
		cacheObserver,
		logger,
	)
	if err != nil {
		closeStore()
		return nil, fmt.Errorf("init index cache: %w", err)
	}

	memo, err := cache.NewQueryMemo(cfg.CacheQueryEntries)
	if err != nil {
		closeStore()
		return nil, fmt.Errorf("init query memo: %w", err)
	}

	coordinator := usecase.NewCoordinator(usecase.NewSearcher(embedder, memo), retrievalObserver, logger)
	evidenceUC := usecase.NewEvidenceUseCase(
		usecase.EvidenceConfig{
			Defaults: cfg.RetrievalOptions(),
			Chunking: chunker.Params(),
		},
		query.NewBuilder(cfg.RAGMaxAliases, cfg.RAGMaxDimensions),
		query.NewExpander(lexicon),
		indexCache,
		coordinator,
		retrievalObserver,
		logger,
	)

	bgCtx, stopBackground := context.WithCancel(context.Background())
	var bg sync.WaitGroup
	if pruner, ok := store.(*postgres.SnapshotRepository); ok && cfg.CacheTTL() > 0 {
		bg.Add(1)
		go func() {
			defer bg.Done()
			pruneLoop(bgCtx, pruner, cfg.CacheTTL(), logger)
		}()
	}

	logger.Info("evidence_engine_ready",
		"embedder", embedder.Name(),
		"cache_backend", cfg.CacheBackend,
		"chunk_size", chunker.Params().ChunkSize,
	)

	return &App{
		Config:    cfg,
		Evidence:  evidenceUC,
		Citations: usecase.NewCitationUseCase(),
		Cache:     indexCache,
		Embedder:  embedder,
		Executor:  executor,
		closeFn: func(ctx context.Context) error {
			stopBackground()
			bg.Wait()
			// Close flushes pending snapshots, then closes the store.
			return indexCache.Close(ctx)
		},
	}, nil
}

// Close flushes pending index snapshots and releases the store.
// callPolicy overlays the configured embedding retry settings on the default
// call policy.
func callPolicy(cfg config.Config) resilience.Config {
	policy := resilience.DefaultConfig()
	if cfg.EmbedRetryAttempts > 0 {
		policy.RetryMaxAttempts = cfg.EmbedRetryAttempts
	}
	if cfg.EmbedAttemptTimeoutSeconds > 0 {
		policy.AttemptTimeout = time.Duration(cfg.EmbedAttemptTimeoutSeconds) * time.Second
	}
	policy.BreakerEnabled = cfg.EmbedBreakerEnabled
	return policy
}

func (a *App) Close() error {
	var err error
	a.closeOnce.Do(func() {
		if a.closeFn == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		err = a.closeFn(ctx)
	})
	return err
}

// NewEmbedder selects the embedding provider named by cfg.EmbeddingProvider.
func NewEmbedder(cfg config.Config, executor *resilience.Executor) (ports.Embedder, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.EmbeddingProvider)) {
	case "", "hashing":
		return hashing.New(cfg.HashingDimensions), nil
	case "ollama":
		client := ollama.New(cfg.OllamaURL, cfg.OllamaEmbedModel, ollama.WithExecutor(executor))
		return ollama.NewEmbedder(client), nil
	case "openai":
		if strings.TrimSpace(cfg.OpenAIAPIKey) == "" && strings.TrimSpace(cfg.OpenAIBaseURL) == "" {
			return nil, domain.WrapError(domain.ErrInvalidInput, "init embedder",
				errors.New("openai provider needs OPENAI_API_KEY or OPENAI_BASE_URL"))
		}
		return openai.New(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIEmbedModel, executor), nil
	default:
		return nil, domain.WrapError(domain.ErrInvalidInput, "init embedder",
			fmt.Errorf("unknown embedding provider %q", cfg.EmbeddingProvider))
	}
}

// newSnapshotStore opens the configured snapshot backend. A nil store means
// the index cache is memory-only.
func newSnapshotStore(ctx context.Context, cfg config.Config) (ports.SnapshotStore, func(), error) {
	noop := func() {}
	switch strings.ToLower(strings.TrimSpace(cfg.CacheBackend)) {
	case "none", "memory":
		return nil, noop, nil
	case "", "localfs":
		store, err := localfs.New(cfg.CachePath)
		if err != nil {
			return nil, noop, fmt.Errorf("init localfs cache: %w", err)
		}
		return store, noop, nil
	case "bolt":
		store, err := bolt.Open(cfg.CacheBoltPath)
		if err != nil {
			return nil, noop, fmt.Errorf("init bolt cache: %w", err)
		}
		return store, func() { _ = store.Close() }, nil
	case "redis":
		store := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.CacheTTL())
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := store.Ping(pingCtx); err != nil {
			_ = store.Close()
			return nil, noop, fmt.Errorf("init redis cache: %w", err)
		}
		return store, func() { _ = store.Close() }, nil
	case "postgres":
		db, err := postgres.OpenDB(cfg.PostgresDSN)
		if err != nil {
			return nil, noop, fmt.Errorf("open postgres: %w", err)
		}
		repo := postgres.NewSnapshotRepository(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, noop, fmt.Errorf("ensure schema: %w", err)
		}
		return repo, func() { _ = repo.Close() }, nil
	default:
		return nil, noop, domain.WrapError(domain.ErrInvalidInput, "init cache",
			fmt.Errorf("unknown cache backend %q", cfg.CacheBackend))
	}
}

func pruneLoop(ctx context.Context, repo *postgres.SnapshotRepository, ttl time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := repo.Prune(ctx, time.Now().Add(-ttl))
			if err != nil {
				logger.Warn("snapshot_prune_failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("snapshots_pruned", "count", n)
			}
		}
	}
}
