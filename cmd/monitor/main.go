// Package main is the entry point of the classroom monitor.
//
// The monitor watches the router logs of every headset in a VR classroom,
// classifies each student's activity, raises help requests and tracks task
// progress, and serves the result to the teacher's dashboard over HTTP and
// a websocket.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/vrlab/classroom-monitor/config"
	"github.com/vrlab/classroom-monitor/internal/application/command"
	"github.com/vrlab/classroom-monitor/internal/application/engine"
	"github.com/vrlab/classroom-monitor/internal/application/eventhandler"
	"github.com/vrlab/classroom-monitor/internal/domain/activity"
	"github.com/vrlab/classroom-monitor/internal/domain/shared"
	"github.com/vrlab/classroom-monitor/internal/domain/student"
	"github.com/vrlab/classroom-monitor/internal/infrastructure/messaging"
	"github.com/vrlab/classroom-monitor/internal/infrastructure/persistence/postgres"
	"github.com/vrlab/classroom-monitor/internal/infrastructure/persistence/redis"
	"github.com/vrlab/classroom-monitor/internal/infrastructure/persistence/sqlite"
	"github.com/vrlab/classroom-monitor/internal/infrastructure/scheduler"
	"github.com/vrlab/classroom-monitor/internal/infrastructure/scheduler/jobs"
	httpserver "github.com/vrlab/classroom-monitor/internal/interface/http"
	"github.com/vrlab/classroom-monitor/internal/interface/http/handlers"
	"github.com/vrlab/classroom-monitor/internal/interface/websocket"
	"github.com/vrlab/classroom-monitor/pkg/logger"
)

// keyValueStore is a help dot backend that can be health checked.
type keyValueStore interface {
	activity.KeyValueStore
	Ping(ctx context.Context) error
}

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to read .env: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	log := setupLogger(cfg)
	log.Info("starting classroom monitor",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
		"classroom", cfg.App.ClassroomID,
	)
	features := &config.FeatureContext{ClassroomID: cfg.App.ClassroomID}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. DATABASE
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("connecting to database...")
	dbConn, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL, postgres.PoolConfig{
		MaxConns:          int32(cfg.Database.MaxConns),
		MinConns:          int32(cfg.Database.MinConns),
		MaxConnLifetime:   cfg.Database.ConnMaxLifetime,
		MaxConnIdleTime:   cfg.Database.ConnMaxIdleTime,
		HealthCheckPeriod: time.Minute,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		log.Info("closing database connection...")
		dbConn.Close()
	}()
	log.Info("database connection established")

	if cfg.Database.MigrateOnStart {
		if err := postgres.NewMigrator(dbConn, log).Migrate(ctx); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("database schema is up to date")
	}

	feed := postgres.NewEventFeed(dbConn, postgres.EventFeedConfig{
		Channel:        postgres.RouterLogsChannel,
		ReconnectDelay: cfg.Engine.FeedReconnectDelay,
		QueueSize:      cfg.Engine.FeedQueueSize,
	}, log)
	if err := feed.Start(ctx); err != nil {
		return fmt.Errorf("failed to start event feed: %w", err)
	}
	defer func() { _ = feed.Close() }()

	studentRepo := postgres.NewStudentRepository(dbConn)
	logRepo := postgres.NewLogRepository(dbConn, log)

	// ─────────────────────────────────────────────────────────────────────────
	// 4. REDIS (optional)
	// ─────────────────────────────────────────────────────────────────────────
	var redisCache *redis.Cache
	if cfg.Redis.Enabled {
		log.Info("connecting to Redis...")
		redisCfg := redis.DefaultConfig()
		redisCfg.Host = cfg.Redis.Host
		redisCfg.Port = cfg.Redis.Port
		redisCfg.Password = cfg.Redis.Password
		redisCfg.DB = cfg.Redis.DB
		redisCfg.PoolSize = cfg.Redis.PoolSize
		redisCfg.MinIdleConns = cfg.Redis.MinIdleConns
		redisCfg.DialTimeout = cfg.Redis.DialTimeout
		redisCfg.ReadTimeout = cfg.Redis.ReadTimeout
		redisCfg.WriteTimeout = cfg.Redis.WriteTimeout
		redisCfg.KeyPrefix = cfg.Redis.KeyPrefix

		redisCache, err = redis.NewCache(redisCfg)
		switch {
		case err == nil:
			defer redisCache.Close()
			log.Info("Redis connection established", "addr", redisCfg.Addr())
		case cfg.HelpDots.Backend == config.HelpDotsRedis:
			return fmt.Errorf("failed to connect to Redis: %w", err)
		default:
			log.Warn("failed to connect to Redis, continuing without it", "error", err)
		}
	}

	var resolver student.Resolver = studentRepo
	if redisCache != nil && cfg.Features.IsEnabled(config.FeatureIdentityCache, features) {
		resolver = redis.NewStudentCache(redisCache, studentRepo, cfg.Redis.StudentCacheTTL, log)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. HELP DOT STORE
	// ─────────────────────────────────────────────────────────────────────────
	var store keyValueStore
	switch cfg.HelpDots.Backend {
	case config.HelpDotsRedis:
		store = redis.NewKeyValueStore(redisCache)
	default:
		sqliteStore, err := sqlite.Open(ctx, cfg.HelpDots.SQLitePath)
		if err != nil {
			return fmt.Errorf("failed to open help dot store: %w", err)
		}
		defer sqliteStore.Close()
		store = sqliteStore
	}
	log.Info("help dot store ready", "backend", cfg.HelpDots.Backend)

	// ─────────────────────────────────────────────────────────────────────────
	// 6. EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	busConfig := messaging.DefaultInMemoryEventBusConfig()
	busConfig.Logger = log

	var bus shared.EventBus = messaging.NewInMemoryEventBus(busConfig)
	if redisCache != nil && cfg.Features.IsEnabled(config.FeatureDistributedEvents, features) {
		pubsub := redis.NewPubSub(redisCache)
		redisBus, err := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
			Client:         pubsub,
			ChannelName:    pubsub.Channel(),
			LocalBusConfig: busConfig,
			Logger:         log,
		})
		if err != nil {
			log.Warn("distributed events unavailable, using local bus", "error", err)
		} else {
			_ = bus.Close()
			bus = redisBus
		}
	}
	defer func() {
		log.Info("closing event bus...")
		_ = bus.Close()
	}()

	notices := messaging.NewNoticePublisher(bus, log)

	completions := eventhandler.NewOnTaskCompletedHandler(log)
	if err := bus.Subscribe(completions.EventType(), completions.Handle); err != nil {
		return fmt.Errorf("failed to subscribe completion handler: %w", err)
	}
	helpResponses := eventhandler.NewOnHelpRaisedHandler(log)
	for _, t := range helpResponses.EventTypes() {
		if err := bus.Subscribe(t, helpResponses.Handle); err != nil {
			return fmt.Errorf("failed to subscribe help handler: %w", err)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. ACTIVITY ENGINE
	// ─────────────────────────────────────────────────────────────────────────
	var announcer activity.Announcer = activity.NopAnnouncer{}
	if cfg.Features.IsEnabled(config.FeatureHelpAnnouncements, features) {
		announcer = notices
	}

	engineCfg := engine.DefaultConfig()
	engineCfg.BackfillLimit = cfg.Engine.BackfillLimit
	engineCfg.ResolveTimeout = cfg.Engine.ResolveTimeout
	engineCfg.StoreTimeout = cfg.HelpDots.StoreTimeout

	supervisor := engine.NewSupervisor(engine.Dependencies{
		Feed:      feed,
		Resolver:  resolver,
		Store:     store,
		Announcer: announcer,
		Notifier:  notices,
		Publisher: bus,
		Logger:    log,
	}, engineCfg)
	defer func() {
		log.Info("closing activity engine...")
		_ = supervisor.Close()
	}()

	if err := supervisor.LoadHelpDots(ctx); err != nil {
		log.Warn("failed to load persisted help dots", "error", err)
	}

	engineCtx, stopEngine := context.WithCancel(ctx)
	defer stopEngine()
	go supervisor.Timers().Run(engineCtx, cfg.Engine.TimerResolution, supervisor.Now)

	// ─────────────────────────────────────────────────────────────────────────
	// 8. DASHBOARD SOCKET
	// ─────────────────────────────────────────────────────────────────────────
	var realtime http.Handler
	if cfg.Features.IsEnabled(config.FeatureRealtimeDashboard, features) {
		hub := websocket.NewHub(websocket.HubConfig{
			AllowedOrigins: cfg.HTTP.AllowedOrigins,
			Snapshot: func() interface{} {
				return supervisor.Snapshots(supervisor.Now())
			},
			Logger: log,
		})
		if err := bus.SubscribeAll(hub.HandleEvent); err != nil {
			return fmt.Errorf("failed to subscribe dashboard hub: %w", err)
		}
		defer func() { _ = hub.Close() }()
		realtime = hub
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 9. SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	sched := scheduler.NewScheduler(scheduler.SchedulerConfig{
		Logger:     log,
		Resolution: cfg.Engine.TimerResolution,
	})
	sched.OnJobError(func(jobName string, err error) {
		log.Error("scheduled job failed", "job", jobName, "error", err)
	})

	if err := sched.Register(
		jobs.NewReclassifyStudentsJob(supervisor, log),
		scheduler.NewIntervalSchedule(cfg.Engine.TickInterval),
	); err != nil {
		return fmt.Errorf("failed to register reclassify job: %w", err)
	}

	if cfg.Features.IsEnabled(config.FeatureRosterAutoObserve, features) {
		rosterCfg := jobs.DefaultRefreshRosterConfig()
		rosterCfg.ClassroomID = cfg.App.ClassroomID

		// A zero refresh interval still observes the roster once at startup.
		interval := cfg.Engine.RosterRefreshInterval
		if interval == 0 {
			interval = 24 * time.Hour
		}
		if err := sched.Register(
			jobs.NewRefreshRosterJob(studentRepo, supervisor, rosterCfg, log),
			scheduler.NewImmediateIntervalSchedule(interval),
		); err != nil {
			return fmt.Errorf("failed to register roster job: %w", err)
		}
	}

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer func() { _ = sched.Stop() }()

	// ─────────────────────────────────────────────────────────────────────────
	// 10. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	health := handlers.NewCompositeHealthChecker(cfg.App.Version)
	health.AddCheck("database", handlers.NewPingCheck(dbConn))
	health.AddCheck("event_feed", handlers.NewFeedCheck(feed))
	health.AddCheck("help_dots", handlers.NewPingCheck(store))
	if redisCache != nil {
		health.AddOptionalCheck("redis", handlers.NewPingCheck(redisCache))
	}

	serverCfg := httpserver.DefaultConfig()
	serverCfg.Host = cfg.HTTP.Host
	serverCfg.Port = cfg.HTTP.Port
	serverCfg.ReadTimeout = cfg.HTTP.ReadTimeout
	serverCfg.WriteTimeout = cfg.HTTP.WriteTimeout
	serverCfg.IdleTimeout = cfg.HTTP.IdleTimeout
	serverCfg.RequestTimeout = cfg.HTTP.RequestTimeout
	serverCfg.MaxBodyBytes = cfg.HTTP.MaxBodyBytes
	serverCfg.AllowedOrigins = cfg.HTTP.AllowedOrigins
	serverCfg.RateLimitPerMinute = cfg.HTTP.RateLimitPerMinute
	serverCfg.APIKeys = cfg.HTTP.APIKeys
	serverCfg.Version = cfg.App.Version

	deps := httpserver.Dependencies{
		Engine:        supervisor,
		Statistics:    logRepo,
		Jobs:          sched,
		Realtime:      realtime,
		Logger:        setupHTTPLogger(cfg),
		HealthChecker: health,
	}
	if cfg.Features.IsEnabled(config.FeatureLogIngestion, features) {
		deps.Ingest = command.NewIngestLogsHandler(logRepo, log)
	}

	server := httpserver.NewServer(serverCfg, deps)
	serverErr := server.StartAsync()
	log.Info("classroom monitor is running", "addr", server.Address())

	// ─────────────────────────────────────────────────────────────────────────
	// 11. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig.String())
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "error", err)
		}
	case <-ctx.Done():
	}

	log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown failed", "error", err)
	}
	stopEngine()

	help := helpResponses.Stats()
	log.Info("session summary",
		"completed_tasks", completions.Total(),
		"help_raised", help.Raised,
		"help_answered", help.Answered,
		"help_average_wait", help.Average.String(),
	)
	log.Info("shutdown completed")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// setupLogger configures the process wide slog logger.
func setupLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: logger.ParseLevel(cfg.Observability.LogLevel).Slog(),
	}

	var handler slog.Handler
	if cfg.Observability.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	log := slog.New(handler)
	slog.SetDefault(log)
	return log
}

// setupHTTPLogger builds the request logger of the HTTP layer.
func setupHTTPLogger(cfg *config.Config) *logger.Logger {
	opts := logger.DefaultOptions()
	opts.Level = logger.ParseLevel(cfg.Observability.LogLevel)
	opts.AddCaller = cfg.App.Debug
	return logger.New(opts)
}
