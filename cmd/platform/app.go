package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/mitigateops/platform/internal/activity"
	"github.com/mitigateops/platform/internal/directory"
	"github.com/mitigateops/platform/internal/escalation"
	"github.com/mitigateops/platform/internal/incident"
	incidentdomain "github.com/mitigateops/platform/internal/incident/domain"
	incidentinfra "github.com/mitigateops/platform/internal/incident/infrastructure"
	"github.com/mitigateops/platform/internal/notification"
	"github.com/mitigateops/platform/internal/oncall"
	"github.com/mitigateops/platform/internal/scheduler"
	"github.com/mitigateops/platform/internal/shared/config"
	"github.com/mitigateops/platform/internal/shared/database"
	"github.com/mitigateops/platform/internal/shared/events"
	"github.com/mitigateops/platform/internal/store/memory"
)

// App holds all application dependencies
type App struct {
	Config *config.Config
	Logger *zap.Logger

	// DB is nil in limited mode, where everything lives in memory
	DB     *database.DB
	Bus    events.EventBus
	Legacy *directory.LegacyDirectory

	Incidents  incidentdomain.Repository
	OnCall     oncall.Repository
	Directory  directory.Directory
	Responders directory.Writer
	Log        escalation.EventLog
	Activity   activity.Reader
	Queue      scheduler.Queue

	Dispatcher *notification.Dispatcher
	Escalation *escalation.Service
	Service    *incident.Service
	Worker     *scheduler.Worker
}

type appOptions struct {
	// RequireDB fails startup instead of falling back to memory
	RequireDB bool
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts appOptions) (*App, error) {
	app := &App{Config: cfg, Logger: logger}

	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		if opts.RequireDB {
			return nil, err
		}
		logger.Warn("database not available, running in limited mode", zap.Error(err))
	} else {
		app.DB = db
		applied, err := database.Migrate(ctx, db.Pool, logger)
		if err != nil {
			db.Close()
			return nil, err
		}
		if len(applied) > 0 {
			logger.Info("migrations applied", zap.Strings("versions", applied))
		}
	}

	app.Bus = events.NewMemoryBus()
	if cfg.KurrentDB.Enabled {
		bus, err := events.NewBus(ctx, cfg.KurrentDB)
		if err != nil {
			logger.Warn("KurrentDB not available, events stay in memory", zap.Error(err))
		} else {
			app.Bus = bus
			logger.Info("KurrentDB event bus initialized",
				zap.String("host", cfg.KurrentDB.Host),
				zap.Int("port", cfg.KurrentDB.Port),
			)
		}
	}

	var sink activity.Sink
	if app.DB != nil {
		pgDirectory := directory.NewPostgresDirectory(db.Pool)
		pgActivity := activity.NewPostgresSink(db.Pool)
		app.Incidents = incidentinfra.NewPostgresRepository(db.Pool, cfg.Scheduler.MaxAttempts)
		app.OnCall = oncall.NewPostgresRepository(db.Pool)
		app.Directory = pgDirectory
		app.Responders = pgDirectory
		app.Log = escalation.NewPostgresLog(db.Pool)
		app.Activity = pgActivity
		app.Queue = scheduler.NewPostgresQueue(db.Pool, cfg.Scheduler.MaxAttempts)
		sink = pgActivity
	} else {
		queue := scheduler.NewMemoryQueue(cfg.Scheduler.MaxAttempts, nil)
		store := memory.New().WithScheduler(queue)
		memActivity := store.Activity()
		app.Incidents = store.Incidents()
		app.OnCall = store.OnCall()
		app.Directory = store.Directory()
		app.Responders = store.Directory()
		app.Log = store.Escalations()
		app.Activity = memActivity
		app.Queue = queue
		sink = memActivity
	}

	if cfg.LegacyDirectory.Enabled {
		legacy, err := directory.NewLegacyDirectory(ctx, cfg.LegacyDirectory, logger)
		if err != nil {
			logger.Warn("legacy responder directory not available", zap.Error(err))
		} else {
			app.Legacy = legacy
			app.Directory = directory.Fallback{Primary: app.Directory, Secondary: legacy, Logger: logger.Named("directory")}
		}
	}

	app.Dispatcher = notification.NewDispatcher(
		newProvider(cfg.Notification.Provider, notification.ChannelEmail, logger),
		newProvider(cfg.Notification.Provider, notification.ChannelSMS, logger),
		notification.DispatcherConfig{
			Workers:       cfg.Notification.Workers,
			BufferSize:    cfg.Notification.BufferSize,
			RetryAttempts: notification.DefaultDispatcherConfig().RetryAttempts,
			RetryDelay:    notification.DefaultDispatcherConfig().RetryDelay,
			DrainTimeout:  cfg.Notification.DrainTimeout,
			FromEmail:     cfg.Notification.FromEmail,
		},
		logger.Named("notification"),
	)

	executor := escalation.NewExecutor(escalation.Dependencies{
		Incidents:  app.Incidents,
		OnCall:     app.OnCall,
		Responders: app.Directory,
		Transport:  app.Dispatcher,
		Log:        app.Log,
		Activity:   activity.NewPublishingSink(sink, app.Bus, logger),
		Scheduler:  app.Queue,
		Logger:     logger.Named("escalation"),
	})
	app.Escalation = escalation.NewService(executor, app.Log, logger.Named("escalation"))
	app.Service = incident.NewService(app.Incidents, app.Escalation, app.Activity, app.Bus, logger.Named("incident"))
	app.Worker = scheduler.NewWorker(app.Queue, app.Escalation.HandleJob, scheduler.WorkerConfig{
		PollInterval:  cfg.Scheduler.PollInterval,
		BatchSize:     cfg.Scheduler.BatchSize,
		LeaseDuration: cfg.Scheduler.LeaseDuration,
		RetryBackoff:  cfg.Scheduler.RetryBackoff,
		MaxBackoff:    cfg.Scheduler.MaxBackoff,
	}, logger.Named("scheduler"))

	return app, nil
}

func newProvider(kind string, channel notification.Channel, logger *zap.Logger) notification.Provider {
	if kind == "mock" {
		return notification.NewMockProvider(channel)
	}
	return notification.NewConsoleProvider(logger.Named("notification." + string(channel)))
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() {
	if a.Legacy != nil {
		if err := a.Legacy.Close(); err != nil {
			a.Logger.Warn("failed to close legacy directory", zap.Error(err))
		}
	}
	if a.Bus != nil {
		a.Bus.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
