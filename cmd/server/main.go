package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	fiberSwagger "github.com/gofiber/swagger"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/songblend/api/docs"
	"github.com/songblend/api/internal/auth"
	"github.com/songblend/api/internal/cache"
	"github.com/songblend/api/internal/client"
	"github.com/songblend/api/internal/config"
	"github.com/songblend/api/internal/handler"
	"github.com/songblend/api/internal/logging"
	"github.com/songblend/api/internal/middleware"
	"github.com/songblend/api/internal/observability"
	"github.com/songblend/api/internal/queue"
	"github.com/songblend/api/internal/service"
	"github.com/songblend/api/internal/store"
	ws "github.com/songblend/api/internal/websocket"
	"github.com/songblend/api/internal/worker"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.Server.LogLevel, cfg.Server.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if cfg.Server.APIDomain != "" {
		docs.SwaggerInfo.Host = cfg.Server.APIDomain
		docs.SwaggerInfo.Schemes = []string{"https"}
	} else {
		docs.SwaggerInfo.Host = "localhost:" + cfg.Server.Port
		docs.SwaggerInfo.Schemes = []string{"http"}
	}

	if err := run(cfg, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, cfg.Server.Env)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(tctx); err != nil {
			log.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	// Durable store
	db, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := store.Migrate(ctx, db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	// Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warn("redis not available", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
	}

	storage, err := newStorage(cfg.Storage, log)
	if err != nil {
		return err
	}
	generator := newGenerator(cfg.Generation, log)

	// Services
	jobRepo := store.NewJobRepository(db)
	songRepo := store.NewSongRepository(db)
	status := service.NewStatusManager(jobRepo, cache.NewJobCache(redisClient), log)
	resolver := service.NewResolver(songRepo, cache.NewSearchCache(redisClient), log)

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	hub := ws.NewHub(log)
	go hub.Run(hubCtx)

	blendWorker := worker.NewBlendWorker(status, resolver, storage, generator, storage, hub, log)

	dispatcher, stopDispatcher, err := newDispatcher(cfg, blendWorker, log)
	if err != nil {
		return err
	}
	defer stopDispatcher()

	blendService := service.NewBlendService(status, dispatcher, storage, hub, log)

	// Middleware
	var authHandler fiber.Handler
	switch {
	case cfg.Auth.Enabled && cfg.Auth.GatewayHeaders:
		authHandler = middleware.GatewayAuth()
	case cfg.Auth.Enabled:
		verifier, err := auth.NewVerifier(ctx, cfg.Auth)
		if err != nil {
			return fmt.Errorf("init auth: %w", err)
		}
		defer verifier.Close()
		authHandler = middleware.NewAuthMiddleware(verifier).Authenticate()
	default:
		authHandler = middleware.NewAuthMiddleware(nil).Authenticate()
	}
	rateLimiter := middleware.NewRateLimiter(middleware.NewRedisCounter(redisClient), log)

	validate := validator.New()

	app := fiber.New(fiber.Config{
		ErrorHandler: handler.ErrorHandler(log, cfg.Server.IsProduction()),
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path} ${locals:requestid}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	app.Get("/swagger/*", fiberSwagger.HandlerDefault)

	handler.Register(app, handler.Routes{
		Blend: handler.NewBlendHandler(blendService, validate),
		Songs: handler.NewSongHandler(resolver, validate),
		Health: handler.NewHealthHandler(
			handler.Dependency{Name: "database", Required: true, Check: jobRepo.Ping},
			handler.Dependency{Name: "redis", Required: true, Check: func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			}},
			handler.Dependency{Name: "storage", Required: true, Check: storage.Ping},
			handler.Dependency{Name: "generation", Check: generator.HealthCheck},
		),
		Hub:           hub,
		Auth:          authHandler,
		GenerateLimit: rateLimiter.GenerateLimit(cfg.RateLimit.GeneratePerHour),
	})

	go func() {
		<-ctx.Done()
		log.Info("shutting down server")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Error("server shutdown error", zap.Error(err))
		}
	}()

	addr := ":" + cfg.Server.Port
	log.Info("server starting",
		zap.String("addr", addr),
		zap.String("env", cfg.Server.Env),
		zap.String("queue", cfg.Queue.Mode),
		zap.String("storage", cfg.Storage.Backend),
	)
	if err := app.Listen(addr); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return nil
}

// newStorage picks the bucket when one is configured, else the local directory.
func newStorage(cfg config.StorageConfig, log *zap.Logger) (client.Storage, error) {
	if cfg.Backend == "s3" {
		s3Storage, err := client.NewS3Storage(&cfg)
		if err != nil {
			return nil, fmt.Errorf("init s3 storage: %w", err)
		}
		log.Info("using s3 storage", zap.String("bucket", cfg.Bucket))
		return s3Storage, nil
	}

	fileStorage, err := client.NewFileStorage(cfg.LocalDir, cfg.OutputPrefix)
	if err != nil {
		return nil, fmt.Errorf("init local storage: %w", err)
	}
	log.Info("using local storage", zap.String("dir", cfg.LocalDir))
	return fileStorage, nil
}

// newGenerator falls back to the mock model when no service URL is set.
func newGenerator(cfg config.GenerationConfig, log *zap.Logger) client.Generator {
	if cfg.ServiceURL == "" {
		log.Warn("generation service not configured, using mock generator")
		return client.NewMockGenerator(2 * time.Second)
	}
	return client.NewGenerationClient(&cfg)
}

// newDispatcher returns the configured dispatcher and a func that drains it.
func newDispatcher(cfg *config.Config, blendWorker *worker.BlendWorker, log *zap.Logger) (service.Dispatcher, func(), error) {
	switch cfg.Queue.Mode {
	case "local":
		local := queue.NewLocalDispatcher(cfg.Queue.Concurrency, blendWorker.Run, log)
		return local, func() {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := local.Shutdown(ctx); err != nil {
				log.Warn("local dispatcher shutdown", zap.Error(err))
			}
		}, nil

	case "asynq", "":
		redisOpt := asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}
		asynqClient := asynq.NewClient(redisOpt)

		srv := asynq.NewServer(redisOpt, asynq.Config{
			Concurrency:     cfg.Queue.Concurrency,
			Queues:          map[string]int{queue.QueueName: 1},
			Logger:          log.Named("asynq").Sugar(),
			ShutdownTimeout: shutdownTimeout,
		})
		mux := asynq.NewServeMux()
		mux.HandleFunc(queue.TaskTypeBlend, blendWorker.ProcessTask)
		if err := srv.Start(mux); err != nil {
			_ = asynqClient.Close()
			return nil, nil, fmt.Errorf("start worker server: %w", err)
		}

		return queue.NewAsynqDispatcher(asynqClient, cfg.Queue.TaskTimeout), func() {
			srv.Shutdown()
			if err := asynqClient.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
				log.Warn("asynq client close", zap.Error(err))
			}
		}, nil

	default:
		return nil, nil, fmt.Errorf("unknown queue mode %q", cfg.Queue.Mode)
	}
}
