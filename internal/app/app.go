package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/drover/internal/common"
	"github.com/ternarybob/drover/internal/handlers"
	"github.com/ternarybob/drover/internal/interfaces"
	"github.com/ternarybob/drover/internal/observability"
	"github.com/ternarybob/drover/internal/queue"
	"github.com/ternarybob/drover/internal/services/events"
	"github.com/ternarybob/drover/internal/services/fingerprint"
	"github.com/ternarybob/drover/internal/services/jobs"
	"github.com/ternarybob/drover/internal/services/llm"
	"github.com/ternarybob/drover/internal/services/proxy"
	"github.com/ternarybob/drover/internal/services/registry"
	"github.com/ternarybob/drover/internal/services/scenario"
	"github.com/ternarybob/drover/internal/services/scheduler"
	"github.com/ternarybob/drover/internal/storage/badger"
)

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	ctx            context.Context
	cancelCtx      context.CancelFunc
	StorageManager *badger.Manager
	Redis          *redis.Client

	// Coordination
	QueueManager     interfaces.QueueManager
	EventService     interfaces.EventService
	RegistryService  *registry.Service
	JobService       *jobs.Service
	SchedulerService *scheduler.Service

	// Delivery collaborators
	ProxyService       *proxy.Service
	FingerprintService *fingerprint.Service
	ScenarioService    *scenario.Service
	LLMService         interfaces.LLMService

	// Observability
	Metrics         *observability.Metrics
	shutdownTracing func(context.Context) error

	// HTTP handlers
	APIHandler          *handlers.APIHandler
	JobHandler          *handlers.JobHandler
	WorkerHandler       *handlers.WorkerHandler
	CollaboratorHandler *handlers.CollaboratorHandler
	WSHandler           *handlers.WebSocketHandler
}

// New initializes the master: storage, queue and event backends, services,
// handlers, then starts the scheduler
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())
	app := &App{
		Config:    cfg,
		Logger:    logger,
		ctx:       ctx,
		cancelCtx: cancel,
	}

	if err := app.initTracing(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	if err := app.initDatabase(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := app.initBackends(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize backends: %w", err)
	}

	if err := app.initServices(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	if err := app.initMetrics(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	app.initHandlers()

	if err := app.SchedulerService.Start(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to start scheduler: %w", err)
	}

	logger.Info().
		Str("queue", cfg.Queue.Backend).
		Str("events", cfg.Events.Backend).
		Str("llm", string(cfg.LLM.DefaultProvider)).
		Msg("Application initialization complete")

	return app, nil
}

func (a *App) initTracing() error {
	obs := a.Config.Observability
	if !obs.TracingEnabled {
		return nil
	}

	shutdown, err := observability.InitTracing(a.ctx, obs.ServiceName, obs.OTLPEndpoint)
	if err != nil {
		return err
	}
	a.shutdownTracing = shutdown
	a.Logger.Info().Str("endpoint", obs.OTLPEndpoint).Msg("Tracing enabled")
	return nil
}

// initDatabase opens the Badger store holding jobs, workers and proxies
func (a *App) initDatabase() error {
	manager, err := badger.NewManager(a.Logger, &a.Config.Storage.Badger)
	if err != nil {
		return err
	}
	a.StorageManager = manager

	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Badger.Path).
		Bool("in_memory", a.Config.Storage.Badger.InMemory).
		Msg("Storage layer initialized")
	return nil
}

// initBackends connects Redis when a backend needs it and builds the
// scheduling queue and event bus
func (a *App) initBackends() error {
	if a.Config.Queue.Backend == common.BackendRedis || a.Config.Events.Backend == common.BackendRedis {
		a.Redis = redis.NewClient(&redis.Options{
			Addr:     a.Config.Redis.Addr,
			Password: a.Config.Redis.Password,
			DB:       a.Config.Redis.DB,
		})

		pingCtx, cancel := context.WithTimeout(a.ctx, 5*time.Second)
		defer cancel()
		if err := a.Redis.Ping(pingCtx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis at %s: %w", a.Config.Redis.Addr, err)
		}
		a.Logger.Info().Str("addr", a.Config.Redis.Addr).Msg("Connected to Redis")
	}

	queueMgr, err := queue.NewManager(a.Config.Queue, a.StorageManager.DB().Store().Badger(), a.Redis, a.Logger)
	if err != nil {
		return err
	}
	a.QueueManager = queueMgr

	switch a.Config.Events.Backend {
	case "", common.BackendMemory:
		a.EventService = events.NewService(a.Logger)
	case common.BackendRedis:
		eventService, err := events.NewRedisService(a.ctx, a.Redis, a.Config.Events.Channel, a.Logger)
		if err != nil {
			return err
		}
		a.EventService = eventService
	default:
		return fmt.Errorf("unknown events backend: %s", a.Config.Events.Backend)
	}

	if err := events.SubscribeLoggerToAllEvents(a.EventService, a.Logger); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to subscribe event logger")
	}
	return nil
}

// initServices builds the registry, job lifecycle, scheduler and the
// collaborators consulted at delivery time
func (a *App) initServices() error {
	sched := a.Config.Scheduler

	a.RegistryService = registry.NewService(
		a.StorageManager.WorkerStorage(),
		a.EventService,
		a.Logger,
		registry.Config{
			StaleAfter:        common.ParseDuration(sched.StaleAfter, time.Minute),
			PollInterval:      a.Config.Workers.PollInterval,
			HeartbeatInterval: a.Config.Workers.HeartbeatInterval,
		},
	)
	if err := a.RegistryService.Load(a.ctx, a.StorageManager.JobStorage()); err != nil {
		return fmt.Errorf("failed to load workers: %w", err)
	}

	a.JobService = jobs.NewService(
		a.StorageManager.JobStorage(),
		a.QueueManager,
		a.RegistryService,
		a.EventService,
		a.Logger,
		jobs.Config{MaxRetryBackoff: common.ParseDuration(sched.MaxRetryBackoff, 10*time.Minute)},
	)
	if _, err := a.JobService.RestoreQueue(a.ctx); err != nil {
		return fmt.Errorf("failed to restore scheduling queue: %w", err)
	}

	llmService, err := llm.NewLLMService(a.Config, a.Logger)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("LLM unavailable - scenarios will use rule-based fallbacks")
		llmService = nil
	}
	a.LLMService = llmService

	a.ProxyService = proxy.NewService(a.StorageManager.ProxyStorage(), a.Logger)
	if err := a.ProxyService.SubscribeReleases(a.EventService); err != nil {
		return fmt.Errorf("failed to subscribe proxy releases: %w", err)
	}
	a.FingerprintService = fingerprint.NewService(a.Logger)
	a.ScenarioService = scenario.NewService(a.LLMService, a.Logger)

	a.JobService.SetCollaborators(jobs.Collaborators{
		Proxies:      a.ProxyService,
		Fingerprints: a.FingerprintService,
		Scenarios:    a.ScenarioService,
	})

	a.SchedulerService = scheduler.NewService(
		a.JobService,
		a.RegistryService,
		a.StorageManager.JobStorage(),
		a.QueueManager,
		a.Logger,
		scheduler.Config{
			AutoAssign:     sched.AutoAssign,
			AssignSchedule: sched.AssignSchedule,
			ScheduleSweep:  sched.ScheduleSweep,
			TimeoutSweep:   sched.TimeoutSweep,
			MaxJobDuration: common.ParseDuration(sched.MaxJobDuration, 10*time.Minute),
			TimeoutGrace:   common.ParseDuration(sched.TimeoutGrace, time.Minute),
		},
	)

	a.Logger.Debug().Msg("Services initialized")
	return nil
}

func (a *App) initMetrics() error {
	if !a.Config.Observability.MetricsEnabled {
		return nil
	}

	metrics, err := observability.NewMetrics()
	if err != nil {
		return err
	}
	a.Metrics = metrics

	if err := metrics.SubscribeEvents(a.EventService); err != nil {
		return err
	}
	return metrics.RegisterFleetGauges(a.RegistryService.FleetStats, a.QueueManager.Len)
}

func (a *App) initHandlers() {
	a.APIHandler = handlers.NewAPIHandler(a.RegistryService, a.QueueManager, a.Logger)
	a.JobHandler = handlers.NewJobHandler(a.JobService, a.SchedulerService, a.Logger)
	a.WorkerHandler = handlers.NewWorkerHandler(a.RegistryService, a.Logger)
	a.CollaboratorHandler = handlers.NewCollaboratorHandler(a.ScenarioService, a.FingerprintService, a.ProxyService, a.Logger)
	a.WSHandler = handlers.NewWebSocketHandler(a.EventService, a.Logger, &a.Config.WebSocket)

	a.Logger.Debug().Msg("Handlers initialized")
}

// Close stops the scheduler and releases every backend in reverse order of creation
func (a *App) Close() error {
	if a.SchedulerService != nil {
		if err := a.SchedulerService.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop scheduler")
		}
	}

	if a.cancelCtx != nil {
		a.cancelCtx()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if a.Metrics != nil {
		if err := a.Metrics.Shutdown(shutdownCtx); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to shut down metrics")
		}
	}
	if a.shutdownTracing != nil {
		if err := a.shutdownTracing(shutdownCtx); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to flush traces")
		}
	}

	if a.LLMService != nil {
		if err := a.LLMService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close LLM service")
		}
	}

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	if a.QueueManager != nil {
		if err := a.QueueManager.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close queue")
		}
	}

	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close redis client")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
