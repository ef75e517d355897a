package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron"

	config "github.com/maheshrc27/postpilot/configs"
	"github.com/maheshrc27/postpilot/internal/api"
	"github.com/maheshrc27/postpilot/internal/api/handlers"
	"github.com/maheshrc27/postpilot/internal/api/middleware"
	job "github.com/maheshrc27/postpilot/internal/jobs"
	"github.com/maheshrc27/postpilot/internal/migrate"
	"github.com/maheshrc27/postpilot/internal/platform"
	"github.com/maheshrc27/postpilot/internal/platform/otel"
	"github.com/maheshrc27/postpilot/internal/queue"
	"github.com/maheshrc27/postpilot/internal/repository"
	"github.com/maheshrc27/postpilot/internal/repository/memory"
	"github.com/maheshrc27/postpilot/internal/service"
	"github.com/maheshrc27/postpilot/internal/stage"
	"github.com/maheshrc27/postpilot/internal/watchdog"
)

const serviceName = "postpilot"

type stores struct {
	clients   repository.ClientRepository
	runs      repository.RunRepository
	posts     repository.PostRepository
	incidents repository.IncidentRepository
	versioner handlers.SchemaVersioner
	db        *sql.DB
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: Failed to load environment variables", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	slog.SetDefault(newLogger(cfg))

	ctx := context.Background()
	shutdownTracing, err := otel.Setup(ctx, serviceName, cfg.OtelEndpoint)
	if err != nil {
		log.Fatalf("Failed to set up tracing: %v", err)
	}

	st, err := openStores(ctx, cfg)
	if err != nil {
		var migErr *migrate.MigrationError
		if errors.As(err, &migErr) {
			log.Fatalf("Schema cannot be reconciled: %v", migErr)
		}
		log.Fatalf("Failed to open store: %v", err)
	}

	// platforms and generation
	var clients []platform.Client
	if cfg.LinkedIn.Enabled() {
		clients = append(clients, platform.NewLinkedIn(cfg.LinkedIn.AccessToken, cfg.LinkedIn.PersonURN, cfg.Publish.PlatformTimeout))
	}
	platforms := platform.NewRegistry(clients...)

	var generator stage.Generator
	if cfg.Generation.URL != "" {
		generator = platform.NewHTTPGenerator(cfg.Generation.URL, cfg.Generation.APIKey, cfg.Generation.Timeout)
	} else {
		slog.Warn("GENERATION_URL not set, every cycle will fail preflight")
	}

	gate := service.NewPublishGate(st.posts, platforms, service.PublishGateConfig{
		ConfidenceThreshold: cfg.Publish.ConfidenceThreshold,
		SettleDelay:         cfg.Publish.SettleDelay,
		VerifyAttempts:      cfg.Publish.VerifyAttempts,
		VerifyBackoff:       cfg.Publish.VerifyBackoff,
		PlatformTimeout:     cfg.Publish.PlatformTimeout,
	}, slog.Default())

	registry, err := stage.Default(stage.Deps{
		Generator: generator,
		Publisher: gate,
		Versioner: st.versioner,
		Spend:     st.runs,
		Pauser:    st.clients,
		Posts:     st.posts,
	})
	if err != nil {
		log.Fatalf("Invalid stage registry: %v", err)
	}

	var orchestratorOpts []service.OrchestratorOption
	if cfg.R2.Enabled() {
		archive, err := service.NewR2Archive(ctx, cfg.R2)
		if err != nil {
			log.Fatalf("Failed to configure run archive: %v", err)
		}
		orchestratorOpts = append(orchestratorOpts, service.WithArchive(archive))
	}

	orchestrator := service.NewOrchestrator(st.clients, st.runs, st.posts, service.NewEligibilityOracle(), registry,
		stage.Config{
			MaxPostsPerCycle: cfg.Publish.MaxPostsPerCycle,
			SelfClientID:     cfg.SelfClientID,
			Platforms:        platforms.Names(),
			SchemaVersion:    migrate.LatestVersion(),
		}, slog.Default(), orchestratorOpts...)

	// fan-out: asynq over redis when available, otherwise in process
	var (
		dispatcher  job.Dispatcher
		lease       job.Lease = job.NewLocalLease()
		asynqServer *asynq.Server
		closers     []func() error
	)
	if cfg.RedisURI != "" {
		redisOpt, err := asynq.ParseRedisURI(cfg.RedisURI)
		if err != nil {
			log.Fatalf("Invalid REDIS_URI: %v", err)
		}
		client := asynq.NewClient(redisOpt)
		closers = append(closers, client.Close)

		slot, err := scheduleSlot(cfg.PipelineSchedule)
		if err != nil {
			log.Fatalf("Invalid PIPELINE_SCHEDULE: %v", err)
		}
		dispatcher = queue.NewAsynqDispatcher(client, slot, cfg.Watchdog.StaleAfter)

		rdb, ok := redisOpt.MakeRedisClient().(redis.UniversalClient)
		if !ok {
			log.Fatalf("Unsupported redis connection option %T", redisOpt)
		}
		closers = append(closers, rdb.Close)
		lease = job.NewRedisLease(rdb)

		asynqServer = asynq.NewServer(redisOpt, asynq.Config{
			Concurrency: cfg.CycleConcurrency,
		})
		mux := asynq.NewServeMux()
		mux.HandleFunc(queue.TaskTypeRunCycle, queue.NewQueue(orchestrator).HandleRunCycleTask)
		go func() {
			slog.Info("Starting the Asynq server...")
			if err := asynqServer.Run(mux); err != nil {
				log.Fatalf("Could not start Asynq server: %v", err)
			}
		}()
	} else {
		dispatcher = job.NewInlineDispatcher(orchestrator, cfg.CycleConcurrency)
	}

	// watchdog
	wd := watchdog.New(st.incidents, watchdog.Config{PageSize: cfg.Watchdog.PageSize, MaxPages: cfg.Watchdog.MaxPages}, slog.Default(),
		watchdog.NewStaleRunProbe(st.runs, cfg.Watchdog.StaleAfter),
		watchdog.NewPhantomPostProbe(st.posts, platforms, cfg.Watchdog.PostLookback, cfg.Publish.PlatformTimeout),
		watchdog.NewCredentialProbe(platforms, cfg.Publish.PlatformTimeout),
		watchdog.NewFailureRateProbe(st.clients, st.posts),
		watchdog.NewClientHealthProbe(st.clients),
	)

	// cron jobs
	triggerJob := job.NewCycleTriggerJob(st.clients, dispatcher, 100)
	watchdogJob := job.NewWatchdogJob(wd, lease, cfg.Watchdog.LeaseTTL)

	c := cron.New()
	if err := c.AddFunc(cfg.PipelineSchedule, func() { triggerJob.Trigger(context.Background()) }); err != nil {
		log.Fatalf("Invalid PIPELINE_SCHEDULE: %v", err)
	}
	if err := c.AddFunc(cfg.Watchdog.Schedule, func() { watchdogJob.Run(context.Background()) }); err != nil {
		log.Fatalf("Invalid WATCHDOG_SCHEDULE: %v", err)
	}
	c.Start()

	app := fiber.New(fiber.Config{
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			slog.Error("request failed", "path", c.Path(), "err", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		},
	})
	app.Use(recover.New())
	app.Use(logger.New())

	api.Register(app, middleware.NewAuthMiddleware(*cfg), api.Handlers{
		Health:    handlers.NewHealthHandler(st.versioner, migrate.LatestVersion()),
		Clients:   handlers.NewClientHandler(service.NewClientService(st.clients, cfg.TrialLength), orchestrator),
		Runs:      handlers.NewRunHandler(st.runs, st.posts),
		Incidents: handlers.NewIncidentHandler(st.incidents),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddr); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()
	slog.Info("Server is running", "addr", cfg.HTTPAddr, "store", cfg.StoreDriver, "platforms", platforms.Names())

	gracefulShutdown(app, st.db, func() {
		c.Stop()
		if asynqServer != nil {
			asynqServer.Shutdown()
		}
		for _, closeFn := range closers {
			if err := closeFn(); err != nil {
				slog.Warn("close", "err", err)
			}
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			slog.Warn("tracing shutdown", "err", err)
		}
	})
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts)).With("service", serviceName)
}

// openStores connects the configured store. For postgres the schema is
// migrated to the embedded version before anything else touches it.
func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.StoreDriver == "memory" {
		store := memory.New()
		slog.Warn("using the in-memory store, state is lost on exit")
		return &stores{
			clients:   store.Clients(),
			runs:      store.Runs(),
			posts:     store.Posts(),
			incidents: store.Incidents(),
			versioner: store,
		}, nil
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		closeDB(db)
		return nil, fmt.Errorf("database is unreachable: %w", err)
	}

	migrator, err := migrate.New(db)
	if err != nil {
		closeDB(db)
		return nil, err
	}
	version, err := migrator.Ensure(ctx)
	if err != nil {
		closeDB(db)
		return nil, err
	}
	slog.Info("schema ready", "version", version)

	return &stores{
		clients:   repository.NewClientRepository(db),
		runs:      repository.NewRunRepository(db),
		posts:     repository.NewPostRepository(db),
		incidents: repository.NewIncidentRepository(db),
		versioner: migrator,
		db:        db,
	}, nil
}

// scheduleSlot is the gap between two consecutive firings of spec. Enqueues
// within one slot share a task id.
func scheduleSlot(spec string) (time.Duration, error) {
	schedule, err := cron.Parse(spec)
	if err != nil {
		return 0, err
	}
	first := schedule.Next(time.Now())
	return schedule.Next(first).Sub(first), nil
}

func closeDB(db *sql.DB) {
	if db == nil {
		return
	}
	fmt.Fprint(os.Stdout, "Closing database connection... ")
	if err := db.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to close database: %v", err)
		return
	}
	fmt.Fprintln(os.Stdout, "Done")
}

func gracefulShutdown(app *fiber.App, db *sql.DB, cleanup func()) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	slog.Info("Shutting down server...")

	if err := app.Shutdown(); err != nil {
		log.Fatalf("Failed to shut down server: %v", err)
	}

	cleanup()
	closeDB(db)
	slog.Info("Server shutdown complete.")
}
