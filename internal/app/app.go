// Package app builds the process-wide object graph shared by the server,
// worker and replay commands.
package app

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/sisques-labs/project-starter-sub009/config"
	"github.com/sisques-labs/project-starter-sub009/internal/api"
	"github.com/sisques-labs/project-starter-sub009/internal/bus"
	"github.com/sisques-labs/project-starter-sub009/internal/cache"
	"github.com/sisques-labs/project-starter-sub009/internal/cqrs"
	"github.com/sisques-labs/project-starter-sub009/internal/database"
	"github.com/sisques-labs/project-starter-sub009/internal/domain/event"
	"github.com/sisques-labs/project-starter-sub009/internal/eventstore"
	"github.com/sisques-labs/project-starter-sub009/internal/messaging"
	"github.com/sisques-labs/project-starter-sub009/internal/metrics"
	"github.com/sisques-labs/project-starter-sub009/internal/projections"
	"github.com/sisques-labs/project-starter-sub009/internal/replay"
	"github.com/sisques-labs/project-starter-sub009/internal/saga"
	"github.com/sisques-labs/project-starter-sub009/internal/search"
	"github.com/sisques-labs/project-starter-sub009/internal/tenant"
	"github.com/sisques-labs/project-starter-sub009/internal/tracing"
	"github.com/sisques-labs/project-starter-sub009/internal/user"
)

// App holds the wired components. Search, Azure and Publisher are nil when
// disabled in the configuration.
type App struct {
	Config       config.Config
	DB           *database.Databases
	Metrics      *metrics.Metrics
	Tracer       tracing.Tracer
	Bus          *bus.Bus
	Dispatcher   *bus.AsyncDispatcher
	Store        *eventstore.Store
	Registry     *event.Registry
	Replayer     *Replayer
	Orchestrator *saga.Orchestrator
	Commands     *cqrs.CommandBus
	Queries      *cqrs.QueryBus
	Search       *search.ElasticClient
	Azure        *messaging.AzureClient
	Publisher    *messaging.IntegrationPublisher

	sender      *azservicebus.Sender
	idempotency cache.IdempotencyStore
}

// New connects to the configured infrastructure and wires every component.
// The dispatcher is started with ctx.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	dbs, err := database.Connect(cfg.Database)
	if err != nil {
		return nil, err
	}
	if cfg.Database.AutoMigrate {
		if err := dbs.AutoMigrate(); err != nil {
			_ = dbs.Close()
			return nil, err
		}
	}

	a := &App{
		Config:   cfg,
		DB:       dbs,
		Metrics:  metrics.NewMetrics(),
		Registry: event.NewRegistry(),
		Commands: cqrs.NewCommandBus(),
		Queries:  cqrs.NewQueryBus(),
	}

	a.Tracer, err = tracing.NewTracer(cfg.Tracing)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
		a.Tracer = tracing.Disabled()
	}

	a.idempotency, err = cache.NewIdempotencyStore(cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Redis, falling back to in-memory idempotency keys")
		a.idempotency = cache.NewMemoryIdempotencyStore(cfg.Redis.TTL)
	}

	a.Bus = bus.New(bus.WithRecorder(a.Metrics))
	a.Dispatcher = bus.NewAsyncDispatcher(a.Bus, cfg.Bus.BufferSize, a.Metrics)

	// the listener runs first so that every later subscriber sees a stored event
	a.Store = eventstore.New(dbs.Write, a.Metrics)
	eventstore.NewListener(a.Store, a.Bus).Register(a.Bus)

	projections.Register(a.Bus,
		projections.NewTenantProjector(dbs.Read),
		projections.NewUserProjector(dbs.Read),
		projections.NewSagaProjector(dbs.Read),
	)

	if cfg.Elastic.Enabled {
		a.setupSearch(ctx)
	}

	if cfg.Azure.Enabled {
		if err := a.setupAzure(); err != nil {
			a.Close(ctx)
			return nil, err
		}
	}

	engine := replay.NewEngine(a.Store, a.Registry, a.Bus, a.Metrics).WithBatchSize(cfg.Replay.BatchSize)
	a.Replayer = NewReplayer(engine, a.Tracer)

	actions := saga.NewActions()
	actions.Register(cqrs.CommandActionName, cqrs.NewCommandAction(a.Commands))

	a.Orchestrator = saga.NewOrchestrator(dbs.Write, a.Dispatcher, actions, a.idempotency, a.Metrics, saga.Options{
		DefaultMaxRetries: cfg.Saga.DefaultMaxRetries,
		RetryBackoff:      cfg.Saga.RetryBackoff,
		StallThreshold:    cfg.Saga.StallThreshold,
	})

	a.registerHandlers(engine)

	a.Dispatcher.Start(ctx)

	log.Info().
		Strs("commands", a.Commands.CommandTypes()).
		Bool("search", a.Search != nil).
		Bool("integration", a.Publisher != nil).
		Msg("Application wired")

	return a, nil
}

func (a *App) setupSearch(ctx context.Context) {
	client, err := search.NewElasticClient(a.Config.Elastic)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Elasticsearch client, continuing without search functionality")
		return
	}
	if err := client.EnsureIndices(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to prepare Elasticsearch indices, continuing without search functionality")
		return
	}

	a.Search = client
	projections.Register(a.Bus, search.NewIndexer(a.DB.Read, client))
}

func (a *App) setupAzure() error {
	client, err := messaging.NewAzureClient(a.Config.Azure)
	if err != nil {
		return errors.Wrap(err, "failed to initialize Azure Service Bus")
	}
	a.Azure = client

	if a.Config.Azure.IntegrationTopic == "" {
		return nil
	}

	sender, err := client.NewSender(a.Config.Azure.IntegrationTopic)
	if err != nil {
		return errors.Wrap(err, "failed to open integration topic sender")
	}
	a.sender = sender
	a.Publisher = messaging.NewIntegrationPublisher(sender, messaging.BreakerSettings{}, a.Metrics)
	a.Publisher.Register(a.Bus)
	return nil
}

func (a *App) registerHandlers(engine *replay.Engine) {
	tenants := tenant.NewCommandHandler(a.DB.Write, a.Dispatcher)
	cqrs.Handle(a.Commands, tenants.HandleCreate)
	cqrs.Handle(a.Commands, tenants.HandleUpdate)
	cqrs.Handle(a.Commands, tenants.HandleDelete)

	users := user.NewCommandHandler(a.DB.Write, a.Dispatcher)
	cqrs.Handle(a.Commands, users.HandleCreate)
	cqrs.Handle(a.Commands, users.HandleUpdate)
	cqrs.Handle(a.Commands, users.HandleDelete)

	cqrs.Handle(a.Commands, a.Orchestrator.HandleStart)
	cqrs.Handle(a.Commands, a.Orchestrator.HandleRun)
	cqrs.Handle(a.Commands, a.Orchestrator.HandleCancel)
	cqrs.Handle(a.Commands, a.Orchestrator.HandleDelete)

	cqrs.Handle(a.Commands, engine.Handle)

	tenantQueries := tenant.NewQueries(a.DB.Read)
	cqrs.Answer(a.Queries, tenantQueries.HandleFind)
	cqrs.Answer(a.Queries, tenantQueries.HandleFindMany)

	userQueries := user.NewQueries(a.DB.Read)
	cqrs.Answer(a.Queries, userQueries.HandleFind)
	cqrs.Answer(a.Queries, userQueries.HandleFindMany)

	sagaQueries := saga.NewQueries(a.DB.Read, a.DB.Write)
	cqrs.Answer(a.Queries, sagaQueries.HandleFindInstance)
	cqrs.Answer(a.Queries, sagaQueries.HandleFindInstances)
	cqrs.Answer(a.Queries, sagaQueries.HandleStepsByInstance)
	cqrs.Answer(a.Queries, sagaQueries.HandleLogsByInstance)
	cqrs.Answer(a.Queries, sagaQueries.HandleLogsByStep)
}

// Server builds the operator API on top of the wired components
func (a *App) Server() *api.Server {
	deps := api.Dependencies{
		Commands: a.Commands,
		Queries:  a.Queries,
		Replayer: a.Replayer,
		Events:   a.Store,
		Metrics:  a.Metrics,
		Tracer:   a.Tracer,
	}
	if a.Search != nil {
		deps.Search = a.Search
	}
	return api.NewServer(a.Config.Server, deps)
}

// Processor builds the command queue processor
func (a *App) Processor() *messaging.Processor {
	return messaging.NewProcessor(a.Commands, a.Metrics)
}

// Close waits for running sagas until ctx is done, drains the dispatcher and
// releases every connection.
func (a *App) Close(ctx context.Context) {
	if a.Orchestrator != nil {
		done := make(chan struct{})
		go func() {
			a.Orchestrator.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			log.Warn().Msg("Saga runs still active at shutdown, they will be resumed later")
		}
	}

	if a.Dispatcher != nil {
		a.Dispatcher.Close()
	}

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if a.sender != nil {
		if err := a.sender.Close(closeCtx); err != nil {
			log.Error().Err(err).Msg("Failed to close integration sender")
		}
	}
	if a.Azure != nil {
		if err := a.Azure.Close(closeCtx); err != nil {
			log.Error().Err(err).Msg("Failed to close Azure Service Bus client")
		}
	}
	if a.idempotency != nil {
		if err := a.idempotency.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close idempotency store")
		}
	}
	if a.Tracer != nil {
		a.Tracer.Close()
	}
	if err := a.DB.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close database")
	}
}
