package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hr-platform/backend/internal/blob"
	rediscache "github.com/hr-platform/backend/internal/cache/redis"
	"github.com/hr-platform/backend/internal/catalog"
	"github.com/hr-platform/backend/internal/graph/neo4j"
	"github.com/hr-platform/backend/internal/llm"
	"github.com/hr-platform/backend/internal/metrics"
	"github.com/hr-platform/backend/internal/pipeline"
	"github.com/hr-platform/backend/internal/storage/sqldb"
	"github.com/hr-platform/backend/internal/textract"
	"github.com/hr-platform/backend/internal/usage"
	"github.com/hr-platform/backend/pkg/config"
	"github.com/hr-platform/backend/pkg/logger"
)

// maxDocumentChars bounds the CV text sent to the model.
const maxDocumentChars = 60000

// App holds every long-lived component built from one configuration.
type App struct {
	Config       *config.Config
	Store        *sqldb.Store
	Blobs        blob.Store
	Cache        *rediscache.Client
	Graph        *neo4j.Client
	Orchestrator *pipeline.Orchestrator
	Pool         *pipeline.Pool
	Worker       *pipeline.Worker
}

// New opens the store, runs migrations and wires the pipeline. Redis and
// neo4j are optional: when enabled but unreachable they are skipped with a
// warning.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	metrics.Init()

	store, err := sqldb.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	blobs, err := blob.New(ctx, cfg.Blob)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to open blob store: %w", err)
	}

	provider, err := llm.NewProvider(ctx, cfg.LLM)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create llm provider: %w", err)
	}
	lm := llm.NewClient(provider, llm.Options{
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     cfg.Pipeline.LMTimeout(),
	})

	a := &App{Config: cfg, Store: store, Blobs: blobs}

	deps := pipeline.Deps{
		Store:    store,
		Blobs:    blobs,
		Text:     textract.NewDocconvExtractor(maxDocumentChars),
		LLM:      lm,
		Resolver: catalog.NewResolver(store),
	}

	if cfg.Redis.Enabled {
		cache, err := rediscache.NewClient(cfg.Redis)
		if err != nil {
			logger.Warn("Redis unavailable, running without status cache", zap.Error(err))
		} else {
			a.Cache = cache
			deps.Cache = cache
		}
	}
	if a.Cache != nil {
		deps.Usage = usage.NewLogger(store, a.Cache)
	} else {
		deps.Usage = usage.NewLogger(store, nil)
	}

	if cfg.Graph.Enabled {
		graph, err := neo4j.NewClient(ctx, cfg.Graph)
		if err != nil {
			logger.Warn("Neo4j unavailable, skill graph projection disabled", zap.Error(err))
		} else {
			a.Graph = graph
			deps.Graph = graph
		}
	}

	a.Orchestrator = pipeline.NewOrchestrator(deps, pipeline.OptionsFromConfig(cfg.Pipeline))
	a.Pool = pipeline.NewPool(a.Orchestrator, cfg.Pipeline.DispatchWorkers, cfg.Pipeline.DispatchQueue)
	a.Orchestrator.SetDispatcher(a.Pool)
	a.Worker = pipeline.NewWorker(a.Orchestrator, pipeline.WorkerOptionsFromConfig(cfg.Pipeline))

	logger.Info("Pipeline initialized",
		zap.String("database", cfg.Database.Driver),
		zap.String("blob_backend", cfg.Blob.Backend),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("llm_model", cfg.LLM.Model),
		zap.Bool("status_cache", a.Cache != nil),
		zap.Bool("skill_graph", a.Graph != nil),
	)
	return a, nil
}

// RunBackground runs the dispatch pool and the retry worker until ctx is
// cancelled.
func (a *App) RunBackground(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Pool.Run(gctx) })
	g.Go(func() error { return a.Worker.Run(gctx) })
	return g.Wait()
}

func (a *App) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if a.Graph != nil {
		if err := a.Graph.Close(ctx); err != nil {
			logger.Warn("Failed to close neo4j driver", zap.Error(err))
		}
	}
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			logger.Warn("Failed to close redis client", zap.Error(err))
		}
	}
	if err := a.Store.Close(); err != nil {
		logger.Warn("Failed to close database", zap.Error(err))
	}
}
