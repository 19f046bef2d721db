package gateway

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo-contrib/pprof"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	apiv1 "github.com/beam-cloud/llmgate/pkg/api/v1"
	"github.com/beam-cloud/llmgate/pkg/backend"
	"github.com/beam-cloud/llmgate/pkg/common"
	"github.com/beam-cloud/llmgate/pkg/costs"
	"github.com/beam-cloud/llmgate/pkg/jobs"
	"github.com/beam-cloud/llmgate/pkg/llm"
	"github.com/beam-cloud/llmgate/pkg/metrics"
	"github.com/beam-cloud/llmgate/pkg/orchestrator"
	"github.com/beam-cloud/llmgate/pkg/providers"
	"github.com/beam-cloud/llmgate/pkg/types"
)

const (
	healthRoute     string        = apiv1.HttpServerBaseRoute + "/health"
	metricsRoute    string        = "/metrics"
	shutdownTimeout time.Duration = 60 * time.Second
)

type Gateway struct {
	Config       types.AppConfig
	RedisClient  *common.RedisClient
	Costs        *costs.Tracker
	Calls        *metrics.LLMMetrics
	Registry     *llm.ModelRegistry
	LLM          *llm.Client
	Orchestrator *orchestrator.Orchestrator
	Backends     *backend.Manager
	JobStore     jobs.Store
	Runner       *jobs.Runner

	metricsRepo    *metrics.PrometheusRepository
	httpServer     *http.Server
	ctx            context.Context
	cancelFunc     context.CancelFunc
	baseRouteGroup *echo.Group
}

func NewGateway() (*Gateway, error) {
	configManager, err := common.NewConfigManager[types.AppConfig]()
	if err != nil {
		return nil, err
	}

	config, err := configManager.GetConfig()
	if err != nil {
		return nil, err
	}

	common.ConfigureLogger(config.DebugMode, config.PrettyLogs)

	ctx, cancel := context.WithCancel(context.Background())
	gateway := &Gateway{
		Config:     config,
		ctx:        ctx,
		cancelFunc: cancel,
	}

	if config.Database.Redis.Enabled {
		redisClient, err := common.NewRedisClient(ctx, config.Database.Redis, common.WithClientName("LLMGateway"))
		if err != nil {
			if !config.Jobs.MemoryFallback {
				cancel()
				return nil, err
			}
			log.Warn().Err(err).Msg("redis unavailable, continuing without it")
		} else {
			gateway.RedisClient = redisClient
		}
	}

	gateway.metricsRepo = metrics.NewPrometheusRepository()
	collector := metrics.NewCollector(gateway.metricsRepo)

	gateway.Costs = costs.NewTracker(config.Costs)
	gateway.Costs.SetObserver(collector)

	gateway.Calls = metrics.NewLLMMetrics()
	gateway.Calls.AddObserver(collector)

	gateway.Registry = llm.NewModelRegistry(config.LLM)
	gateway.LLM = llm.NewClient(gateway.Registry, gateway.Costs, gateway.Calls)

	prober := providers.NewHTTPProber(config.GPU.ReadinessTimeout, config.LLM.VLLM.ApiKey)

	// Interfaces stay untyped nil when a provider is not configured.
	var (
		launcher   backend.GPULauncher
		serverless backend.ServerlessEndpoint
	)

	if config.Providers.VastAI.Configured() {
		market, err := providers.NewVastAIClient(config.Providers.VastAI)
		if err != nil {
			cancel()
			return nil, err
		}

		opts := []orchestrator.Option{
			orchestrator.WithProber(prober),
			orchestrator.WithObserver(collector),
		}
		if gateway.RedisClient != nil {
			opts = append(opts, orchestrator.WithLaunchLock(common.NewRedisLock(gateway.RedisClient), config.ClusterName))
		}

		gateway.Orchestrator = orchestrator.New(market, gateway.Costs, config.GPU, opts...)
		launcher = gateway.Orchestrator
	}

	if config.Providers.Serverless.Configured() {
		serverless = providers.NewServerlessProvider(config.Providers.Serverless, nil)
	}

	gateway.Backends = backend.NewManager(gateway.Registry, launcher, serverless, prober)

	gateway.JobStore, err = jobs.NewStore(ctx, config.Jobs, gateway.RedisClient)
	if err != nil {
		cancel()
		return nil, err
	}
	gateway.Runner = jobs.NewRunner(gateway.JobStore)

	log.Info().
		Str("provider", string(gateway.Backends.Provider())).
		Str("backend", string(gateway.Backends.CurrentBackend())).
		Bool("redis", gateway.RedisClient != nil).
		Msg("gateway initialized")

	return gateway, nil
}

func (g *Gateway) initHttp() error {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	if g.Config.DebugMode {
		pprof.Register(e)
	}

	e.Pre(middleware.RemoveTrailingSlash())
	configureEchoLogger(e, g.Config.PrettyLogs)
	e.Use(middleware.Recover())

	g.httpServer = &http.Server{
		Addr:    g.Config.Admin.Address(),
		Handler: e,
	}

	e.GET(metricsRoute, echo.WrapHandler(g.metricsRepo.Handler()))

	g.baseRouteGroup = e.Group(apiv1.HttpServerBaseRoute)

	var gpuOrchestrator apiv1.GPUOrchestrator
	if g.Orchestrator != nil {
		gpuOrchestrator = g.Orchestrator
	}

	apiv1.NewHealthGroup(g.baseRouteGroup.Group("/health"), g.RedisClient)
	apiv1.NewGPUGroup(g.baseRouteGroup.Group("/gpu"), gpuOrchestrator, g.Backends)
	apiv1.NewBackendGroup(g.baseRouteGroup.Group("/backend"), g.Backends)
	apiv1.NewCostGroup(g.baseRouteGroup.Group("/costs"), g.Costs)
	apiv1.NewLLMGroup(g.baseRouteGroup.Group("/llm"), g.Calls, g.LLM)
	apiv1.NewJobGroup(g.baseRouteGroup.Group("/jobs"), g.JobStore, g.Runner)

	return nil
}

// Start runs the admin server and background loops, and blocks until a
// termination signal is received.
func (g *Gateway) Start() error {
	if g.Orchestrator != nil && g.Config.GPU.OrphanCleanupInterval > 0 {
		go g.Orchestrator.RunOrphanCleanup(g.ctx, g.Config.GPU.OrphanCleanupInterval)
	}

	if g.Config.Admin.Enabled {
		if err := g.initHttp(); err != nil {
			log.Fatal().Err(err).Msg("failed to initialize http server")
		}

		go func() {
			if err := g.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatal().Err(err).Msg("failed to start http server")
			}
		}()

		log.Info().Str("address", g.Config.Admin.Address()).Msg("admin http server running")
	}

	terminationSignal := make(chan os.Signal, 1)
	signal.Notify(terminationSignal, os.Interrupt, syscall.SIGTERM)
	<-terminationSignal
	log.Info().Msg("termination signal received. shutting down...")
	g.shutdown()

	return nil
}

// shutdown stops serving, releases any rented instance so it does not keep
// billing, and closes the stores. It blocks until everything has stopped.
func (g *Gateway) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	g.cancelFunc()

	eg, ctx := errgroup.WithContext(ctx)

	if g.httpServer != nil {
		eg.Go(func() error {
			return g.httpServer.Shutdown(ctx)
		})
	}

	if g.Orchestrator != nil {
		eg.Go(func() error {
			return g.Orchestrator.DestroyInstance(ctx)
		})
	}

	if err := eg.Wait(); err != nil {
		log.Error().Err(err).Msg("failed to shutdown gateway cleanly")
	}

	if err := g.JobStore.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close job store")
	}

	if g.RedisClient != nil {
		if err := g.RedisClient.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close redis client")
		}
	}
}
