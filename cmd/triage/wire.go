package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/triage/internal/config"
	dbredis "github.com/kailas-cloud/triage/internal/db/redis"
	"github.com/kailas-cloud/triage/internal/domain"
	"github.com/kailas-cloud/triage/internal/domain/chunk"
	"github.com/kailas-cloud/triage/internal/domain/hashembed"
	"github.com/kailas-cloud/triage/internal/metrics"
	"github.com/kailas-cloud/triage/internal/repository/embcache"
	"github.com/kailas-cloud/triage/internal/repository/jobs"
	"github.com/kailas-cloud/triage/internal/repository/memory"
	"github.com/kailas-cloud/triage/internal/repository/record"
	"github.com/kailas-cloud/triage/internal/repository/searchcache"
	"github.com/kailas-cloud/triage/internal/repository/sqlite"
	chiTransport "github.com/kailas-cloud/triage/internal/transport/chi"
	openaiTransport "github.com/kailas-cloud/triage/internal/transport/openai"
	classifyuc "github.com/kailas-cloud/triage/internal/usecase/classify"
	domainlistuc "github.com/kailas-cloud/triage/internal/usecase/domainlist"
	embeddinguc "github.com/kailas-cloud/triage/internal/usecase/embedding"
	healthuc "github.com/kailas-cloud/triage/internal/usecase/health"
	"github.com/kailas-cloud/triage/internal/usecase/indexing"
	"github.com/kailas-cloud/triage/internal/usecase/retrieval"
	rulesuc "github.com/kailas-cloud/triage/internal/usecase/rules"
	"github.com/kailas-cloud/triage/internal/usecase/vectorstore"
)

// kvStore is the key-value surface shared by the caches and the job repository.
type kvStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// vectorLayer is the vector store backend with its caches and job storage.
type vectorLayer struct {
	backend  vectorstore.Backend
	pinger   healthuc.Pinger
	cache    vectorstore.Cache
	embStore kvStore
	jobs     indexing.JobRepository
	close    func()
}

// metadataLayer holds rules, domain lists and the classification log.
type metadataLayer struct {
	rules  rulesuc.Repository
	lists  domainlistuc.Repository
	log    classifyuc.LogRepository
	pinger healthuc.Pinger
	close  func()
}

// app is the assembled service.
type app struct {
	server *chiTransport.Server
	pool   *indexing.Pool
	close  func()
}

func buildVectorLayer(ctx context.Context, cfg config.Config, logger *zap.Logger) (*vectorLayer, error) {
	dim := cfg.Embedding.Dimensions

	switch cfg.Database.Driver {
	case config.DriverMemory:
		records := memory.NewRecords(dim)
		return &vectorLayer{
			backend:  records,
			pinger:   records,
			cache:    searchcache.NewMemory(cfg.Vector.CacheSize, cfg.Vector.CacheTTL),
			embStore: embcache.NewMemoryStore(cfg.Embedding.Cache.Size, cfg.Embedding.Cache.TTL),
			jobs:     memory.NewJobs(),
			close:    func() {},
		}, nil

	case config.DriverValkey, config.DriverRedis:
		store, err := dbredis.NewStore(dbredis.Config{
			Addrs:    cfg.Database.Addrs,
			Username: cfg.Database.Username,
			Password: cfg.Database.Password,
			Valkey:   cfg.Database.Driver == config.DriverValkey,
		})
		if err != nil {
			return nil, fmt.Errorf("create %s store: %w", cfg.Database.Driver, err)
		}
		if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
			store.Close()
			return nil, fmt.Errorf("database not ready: %w", err)
		}
		logger.Info("Connected to database",
			zap.String("driver", cfg.Database.Driver),
			zap.Strings("addrs", cfg.Database.Addrs),
		)

		records := record.New(store, dim, record.HNSWConfig{
			M:           cfg.Vector.HNSWM,
			EFConstruct: cfg.Vector.HNSWEFConstruction,
		})
		if err := records.EnsureIndex(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("ensure record index: %w", err)
		}
		return &vectorLayer{
			backend:  records,
			pinger:   store,
			cache:    searchcache.NewRedis(store),
			embStore: store,
			jobs:     jobs.New(store, cfg.Metadata.JobTTL),
			close:    store.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}

func buildMetadataLayer(cfg config.Config, logger *zap.Logger) (*metadataLayer, error) {
	switch cfg.Metadata.Driver {
	case config.DriverMemory:
		rules := memory.NewRules()
		return &metadataLayer{
			rules:  rules,
			lists:  memory.NewDomainLists(),
			log:    memory.NewClassificationLog(cfg.Metadata.LogCapacity),
			pinger: rules,
			close:  func() {},
		}, nil

	case config.DriverSQLite:
		store, err := sqlite.Open(cfg.Metadata.Path, sqlite.WithLogCapacity(cfg.Metadata.LogCapacity))
		if err != nil {
			return nil, fmt.Errorf("open metadata store: %w", err)
		}
		logger.Info("Opened metadata store", zap.String("path", store.Path()))
		return &metadataLayer{
			rules:  store.Rules(),
			lists:  store.DomainLists(),
			log:    store.ClassificationLog(),
			pinger: store,
			close: func() {
				if err := store.Close(); err != nil {
					logger.Error("Failed to close metadata store", zap.Error(err))
				}
			},
		}, nil

	default:
		return nil, fmt.Errorf("unknown metadata driver %q", cfg.Metadata.Driver)
	}
}

// buildEmbedder assembles the decorator chain: provider -> cached -> resilient -> instrumented.
// The second result is the bare provider, used for health checks.
func buildEmbedder(cfg config.Config, kv kvStore, logger *zap.Logger) (domain.Embedder, healthuc.EmbeddingChecker) {
	ec := cfg.Embedding

	var (
		base    domain.Embedder
		checker healthuc.EmbeddingChecker
		model   string
	)
	switch ec.Provider {
	case config.ProviderOpenAI:
		e := openaiTransport.NewEmbedder(&openaiTransport.Config{
			APIKey:     ec.APIKey,
			BaseURL:    ec.BaseURL,
			Model:      ec.Model,
			Dimensions: ec.Dimensions,
			Provider:   ec.Provider,
			Timeout:    ec.Timeout,
			Logger:     logger,
		})
		base, checker, model = e, e, ec.Model
	default:
		e := hashembed.New(ec.Dimensions)
		base, checker, model = e, e, fmt.Sprintf("hash-%d", ec.Dimensions)
	}

	embedder := base
	if ec.Cache.Enabled && kv != nil {
		embedder = embcache.New(embedder, kv, model, ec.Cache.TTL, metrics.EmbeddingCacheTotal, logger)
	}

	if ec.Provider == config.ProviderOpenAI {
		rc := embeddinguc.DefaultResilienceConfig()
		rc.RPS = ec.RateLimitRPS
		rc.Burst = ec.Burst
		rc.MaxRetries = ec.MaxRetries
		embedder = embeddinguc.NewResilientEmbedder(embedder, ec.Provider, rc, logger)
	}

	embedder = embeddinguc.NewInstrumentedEmbedder(embedder, ec.Provider, model, ec.Dimensions, logger)
	return embedder, checker
}

func buildClassifier(cfg config.Config, logger *zap.Logger) domain.Classifier {
	cc := cfg.Classifier
	if cc.Provider != config.ProviderOpenAI {
		return nil
	}
	return openaiTransport.NewClassifier(&openaiTransport.Config{
		APIKey:   cc.APIKey,
		BaseURL:  cc.BaseURL,
		Model:    cc.Model,
		Provider: cc.Provider,
		Timeout:  cc.Timeout,
		Logger:   logger,
	})
}

func chunkOptions(cc config.ChunkingConfig) []chunk.Option {
	var opts []chunk.Option
	if cc.TargetTokens > 0 {
		opts = append(opts, chunk.WithTargetTokens(cc.TargetTokens))
	}
	if cc.OverlapTokens > 0 {
		opts = append(opts, chunk.WithOverlapTokens(cc.OverlapTokens))
	}
	if cc.MinCodeUnit > 0 {
		opts = append(opts, chunk.WithMinCodeUnit(cc.MinCodeUnit))
	}
	if cc.FallbackLines > 0 {
		opts = append(opts, chunk.WithFallbackLines(cc.FallbackLines))
	}
	return opts
}

// buildApp is the composition root.
func buildApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	metrics.Register()

	vectors, err := buildVectorLayer(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	meta, err := buildMetadataLayer(cfg, logger)
	if err != nil {
		vectors.close()
		return nil, err
	}

	embedder, embChecker := buildEmbedder(cfg, vectors.embStore, logger)
	logger.Info("Embedder created",
		zap.String("provider", cfg.Embedding.Provider),
		zap.String("model", cfg.Embedding.Model),
		zap.Int("dimensions", cfg.Embedding.Dimensions),
	)

	rules := rulesuc.New(meta.rules,
		rulesuc.WithLogger(logger),
		rulesuc.WithMetrics(metrics.RuleEvaluationsTotal),
	)
	lists := domainlistuc.New(meta.lists,
		domainlistuc.WithCache(cfg.Metadata.ListCacheSize, cfg.Metadata.ListCacheTTL),
	)

	classifyOpts := []classifyuc.Option{
		classifyuc.WithLog(meta.log),
		classifyuc.WithLogger(logger),
		classifyuc.WithConfig(classifyuc.Config{
			Threshold:           cfg.Classifier.Threshold,
			VIPBoost:            cfg.Classifier.VIPBoost,
			DefaultImportance:   cfg.Classifier.DefaultImportance,
			MinSubstantiveChars: cfg.Classifier.MinSubstantiveChars,
			Categories:          cfg.Classifier.Categories,
			AITimeout:           cfg.Classifier.Timeout,
		}),
		classifyuc.WithMetrics(classifyuc.Metrics{
			Outcomes: metrics.ClassificationsTotal,
			Degraded: metrics.ClassificationsDegradedTotal,
			AICalls:  metrics.ClassifierCallsTotal,
		}),
	}
	if ai := buildClassifier(cfg, logger); ai != nil {
		classifyOpts = append(classifyOpts, classifyuc.WithAI(ai))
		logger.Info("AI classifier enabled", zap.String("model", cfg.Classifier.Model))
	}
	classifier := classifyuc.New(lists, rules, classifyOpts...)

	vectorSvc := vectorstore.New(vectors.backend,
		vectorstore.WithCache(vectors.cache, cfg.Vector.CacheTTL),
		vectorstore.WithMinSimilarity(cfg.Vector.MinSimilarity),
		vectorstore.WithCacheMetrics(metrics.SearchCacheTotal),
		vectorstore.WithLogger(logger),
	)
	search := retrieval.New(vectorSvc, embedder,
		retrieval.WithConfig(retrieval.Config{
			TypeWeights:      cfg.Retrieval.TypeWeights,
			SimilarityWeight: cfg.Retrieval.SimilarityWeight,
			KeywordLimit:     cfg.Retrieval.KeywordLimit,
			TopK:             cfg.Vector.TopK,
			MaxResults:       cfg.Retrieval.MaxResults,
		}),
		retrieval.WithLogger(logger),
	)

	pool := indexing.New(classifier, chunk.New(chunkOptions(cfg.Chunking)...), embedder, vectorSvc, vectors.jobs,
		indexing.WithConfig(indexing.Config{
			Workers:          cfg.Indexing.Workers,
			QueueSize:        cfg.Indexing.QueueSize,
			EmbedConcurrency: cfg.Indexing.EmbedConcurrency,
			MaxAttempts:      cfg.Indexing.MaxAttempts,
			InitialBackoff:   cfg.Indexing.InitialBackoff,
			MaxBackoff:       cfg.Indexing.MaxBackoff,
		}),
		indexing.WithMetrics(indexing.Metrics{
			Jobs:       metrics.IndexJobsTotal,
			QueueDepth: metrics.IndexQueueDepth,
			Duration:   metrics.IndexJobDuration,
		}),
		indexing.WithLogger(logger),
	)

	health := healthuc.New(vectors.pinger, meta.pinger, embChecker)

	server := chiTransport.NewServer(rules, lists, classifier, search, pool, health, logger)

	return &app{
		server: server,
		pool:   pool,
		close: func() {
			meta.close()
			vectors.close()
		},
	}, nil
}
