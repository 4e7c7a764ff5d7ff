// Package app wires the process: config, database, LLM pools, repos,
// services, worker and HTTP surface.
package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	redisclient "github.com/podsight/backend/internal/clients/redis"
	"github.com/podsight/backend/internal/data/db"
	"github.com/podsight/backend/internal/data/repos/claims"
	"github.com/podsight/backend/internal/data/repos/entities"
	"github.com/podsight/backend/internal/data/repos/episodes"
	jobsrepo "github.com/podsight/backend/internal/data/repos/jobs"
	llmrepo "github.com/podsight/backend/internal/data/repos/llm"
	"github.com/podsight/backend/internal/data/repos/search"
	episodeextract "github.com/podsight/backend/internal/jobs/pipeline/episode_extract"
	"github.com/podsight/backend/internal/jobs/runtime"
	"github.com/podsight/backend/internal/jobs/worker"
	"github.com/podsight/backend/internal/llm"
	"github.com/podsight/backend/internal/pkg/envutil"
	"github.com/podsight/backend/internal/pkg/logger"
	"github.com/podsight/backend/internal/services"
)

type Repos struct {
	Episodes  episodes.EpisodeRepo
	Claims    claims.ClaimRepo
	Relations claims.RelationRepo
	Entities  entities.EntityRepo
	JobRuns   jobsrepo.JobRunRepo
	JobEvents jobsrepo.JobEventRepo
	LLMCalls  llmrepo.CallRepo
	Search    search.SearchRepo
}

type Services struct {
	Jobs     services.JobService
	Episodes services.EpisodeService
}

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Router   *gin.Engine
	Cfg      Config
	Repos    Repos
	Services Services

	pools  *llm.Pools
	worker *worker.Worker
	bus    redisclient.JobBus
	cancel context.CancelFunc
}

func New() (*App, error) {
	log, err := logger.New(envutil.String("LOG_MODE", "development"))
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	cfg := LoadConfig(log)

	dbs, err := db.New(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init db: %w", err)
	}
	if err := dbs.Migrate(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	theDB := dbs.DB()

	hw := llm.DetectHardware()
	log.Info("hardware profile",
		"tier", hw.Tier, "cores", hw.Cores,
		"mining_workers", hw.MiningWorkers, "eval_workers", hw.EvalWorkers)
	pools := llm.NewPools(hw, cfg.MemoryThreshold, log)

	provider, err := llm.NewOpenRouterProvider(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init provider: %w", err)
	}
	embedder, err := llm.NewEmbedClient(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init embedder: %w", err)
	}

	reposet := Repos{
		Episodes:  episodes.NewEpisodeRepo(theDB, log),
		Claims:    claims.NewClaimRepo(theDB, log),
		Relations: claims.NewRelationRepo(theDB, log),
		Entities:  entities.NewEntityRepo(theDB, log),
		JobRuns:   jobsrepo.NewJobRunRepo(theDB, log),
		JobEvents: jobsrepo.NewJobEventRepo(theDB, log),
		LLMCalls:  llmrepo.NewCallRepo(theDB, log),
		Search:    search.NewSearchRepo(theDB, log, dbs.Postgres()),
	}

	invoker := llm.NewInvoker(provider, pools, reposet.LLMCalls, log)

	// Redis side channel is optional; nil notifier means no side channel.
	var bus redisclient.JobBus
	if envutil.String("REDIS_ADDR", "") != "" {
		bus, err = redisclient.NewJobBus(log)
		if err != nil {
			log.Warn("redis job bus unavailable, continuing without", "error", err)
			bus = nil
		}
	}
	notify := services.NewJobNotifier(bus, log)

	registry := runtime.NewRegistry()
	if err := registry.Register(episodeextract.New(episodeextract.Deps{
		Log:       log,
		Cfg:       cfg.Pipeline,
		HW:        hw,
		Invoker:   invoker,
		Embedder:  embedder,
		Episodes:  reposet.Episodes,
		Claims:    reposet.Claims,
		Relations: reposet.Relations,
		Entities:  reposet.Entities,
	})); err != nil {
		log.Sync()
		return nil, fmt.Errorf("register handlers: %w", err)
	}

	serviceset := Services{
		Jobs:     services.NewJobService(theDB, log, reposet.JobRuns, reposet.JobEvents, reposet.Episodes, notify),
		Episodes: services.NewEpisodeService(theDB, log, reposet.Episodes, reposet.Claims, reposet.Relations, reposet.Entities, reposet.Search),
	}

	w := worker.NewWorker(theDB, log, reposet.JobRuns, reposet.JobEvents, registry, notify, bus)
	router := wireRouter(cfg, newHandlers(log, serviceset))

	return &App{
		Log:      log,
		DB:       theDB,
		Router:   router,
		Cfg:      cfg,
		Repos:    reposet,
		Services: serviceset,
		pools:    pools,
		worker:   w,
		bus:      bus,
	}, nil
}

// Start launches the background worker loops.
func (a *App) Start() {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	if a.Cfg.RunWorker {
		a.worker.Start(ctx)
	}
}

func (a *App) Run() error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	return a.Router.Run(a.Cfg.HTTPAddr)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.pools != nil {
		a.pools.Close()
	}
	if a.bus != nil {
		_ = a.bus.Close()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
