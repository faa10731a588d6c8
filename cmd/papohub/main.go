package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/papo-chat/papo-hub/internal/api"
	"github.com/papo-chat/papo-hub/internal/config"
	"github.com/papo-chat/papo-hub/internal/fanout"
	"github.com/papo-chat/papo-hub/internal/gateway"
	"github.com/papo-chat/papo-hub/internal/httputil"
	"github.com/papo-chat/papo-hub/internal/member"
	"github.com/papo-chat/papo-hub/internal/message"
	"github.com/papo-chat/papo-hub/internal/postgres"
	"github.com/papo-chat/papo-hub/internal/presence"
	"github.com/papo-chat/papo-hub/internal/ratelimit"
	"github.com/papo-chat/papo-hub/internal/redis"
	"github.com/papo-chat/papo-hub/internal/session"
	"github.com/papo-chat/papo-hub/internal/store"
	"github.com/papo-chat/papo-hub/internal/supabase"
)

// Build metadata injected via ldflags at compile time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.IsDevelopment() {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			With().Timestamp().Logger()
	}

	log.Info().
		Str("version", version).
		Str("commit", commit).
		Str("built", date).
		Str("env", cfg.Environment).
		Msg("Starting " + cfg.AppName)

	if cfg.CORSOrigins == "*" {
		log.Warn().Msg("CORS_ORIGINS is set to a wildcard. Set an explicit origin when in production.")
	}

	ctx := context.Background()

	// Connect Redis
	rdb, err := redis.Connect(ctx, cfg.RedisURL, cfg.RedisPassword)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer func() { _ = rdb.Close() }()
	log.Info().Msg("Redis connected")

	// Pick the repository driver: a direct Postgres pool when DATABASE_URL is
	// set, the Supabase PostgREST API otherwise.
	var repo store.Repository
	if cfg.UsesDirectPostgres() {
		db, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConn, cfg.DatabaseMinConn)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer db.Close()
		log.Info().Msg("PostgreSQL connected")

		if err := postgres.Migrate(cfg.DatabaseURL, log.Logger); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		log.Info().Msg("Database migrations complete")

		repo = postgres.NewRepository(db, log.Logger)
	} else {
		repo = supabase.New(cfg.SupabaseURL, cfg.SupabaseServiceKey, log.Logger)
		log.Info().Str("url", cfg.SupabaseURL).Msg("Using Supabase PostgREST repository")
	}

	// Initialise services
	registry := session.NewRegistry()
	sessions := session.NewStore(rdb)
	presStore := presence.NewStore(rdb, cfg.TypingTimeout)
	presenceSvc := presence.NewService(presStore, repo, log.Logger)
	memberSvc := member.NewService(repo, member.NewCache(rdb), log.Logger)
	messageSvc := message.NewService(repo, log.Logger)
	limiter := ratelimit.NewLimiter(rdb, cfg.MaxMessagesPerMinute, time.Minute, log.Logger)
	queue := fanout.NewQueue(rdb, cfg.MessageQueueRetention)
	engine := fanout.NewEngine(repo, repo, presStore, queue, log.Logger)
	hub := gateway.NewHub(cfg, registry, sessions, presenceSvc, memberSvc, messageSvc, limiter, engine, queue, log.Logger)

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName: cfg.AppName,
		// ErrorHandler catches errors returned by handlers that are not already handled
		// (e.g. Fiber's built-in 404/405). errors.AsType is a generic helper added in Go 1.26.
		ErrorHandler: func(c fiber.Ctx, err error) error {
			status := fiber.StatusInternalServerError
			message := "An internal error occurred"
			if e, ok := errors.AsType[*fiber.Error](err); ok {
				status = e.Code
				message = e.Message
			} else {
				log.Error().Err(err).
					Str("method", c.Method()).
					Str("path", c.Path()).
					Msg("Unhandled error")
			}
			return c.Status(status).JSON(fiber.Map{"error": message})
		},
	})

	// Global middleware
	app.Use(requestid.New())
	app.Use(httputil.RequestLogger(log.Logger, "/health"))
	app.Use(cors.New(cors.Config{
		AllowOrigins:  strings.Split(cfg.CORSOrigins, ","),
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"X-Request-ID"},
	}))

	// Register routes
	health := api.NewHealthHandler(rdb, cfg.AppName, cfg.AppVersion)
	app.Get("/health", health.Health)
	app.Get("/", health.Root)

	gatewayHandler := api.NewGatewayHandler(hub)
	app.Get("/ws", gatewayHandler.Upgrade)

	// Catch-all handler returns 404 for any request that does not match a defined route. Fiber v3 treats app.Use()
	// middleware as route matches, so without this terminal handler the router considers unmatched requests "handled"
	// and returns the default 200 status with an empty body.
	app.Use(func(_ fiber.Ctx) error {
		return fiber.ErrNotFound
	})

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	log.Debug().
		Uint64("alloc_mb", mem.Alloc/1024/1024).
		Uint64("sys_mb", mem.Sys/1024/1024).
		Uint64("heap_inuse_mb", mem.HeapInuse/1024/1024).
		Uint64("stack_inuse_mb", mem.StackInuse/1024/1024).
		Uint32("num_gc", mem.NumGC).
		Msg("Runtime memory stats")

	// Run the listener and the signal watcher under one group so a failure in
	// either tears the whole process down.
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
		log.Info().Str("addr", addr).Msg("Server listening")
		if err := app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			log.Info().Str("signal", sig.String()).Msg("Shutting down server")
		case <-gctx.Done():
			return gctx.Err()
		}

		hub.Shutdown()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
