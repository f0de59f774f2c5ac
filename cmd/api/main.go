package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hr-platform/backend/internal/api/handlers"
	"github.com/hr-platform/backend/internal/app"
	"github.com/hr-platform/backend/internal/metrics"
	"github.com/hr-platform/backend/internal/middleware/auth"
	"github.com/hr-platform/backend/internal/middleware/ratelimit"
	"github.com/hr-platform/backend/internal/middleware/security"
	"github.com/hr-platform/backend/internal/middleware/validation"
	"github.com/hr-platform/backend/pkg/config"
	appLogger "github.com/hr-platform/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting CV extraction API server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		appLogger.Fatal("Failed to initialize application", zap.Error(err))
	}
	defer a.Close()

	server := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	server.Use(recover.New())
	server.Use(logger.New())
	server.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, X-Tenant-ID, X-User-ID, X-User-Role, X-Employee-ID",
		AllowMethods: "GET, POST, DELETE, OPTIONS",
	}))
	server.Use(security.HeadersMiddleware(security.HeadersConfig{
		IsDevelopment: cfg.Server.Development,
	}))

	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerMinute: cfg.RateLimit.UploadsPerMinute,
		Burst:             cfg.RateLimit.Burst,
	})
	defer limiter.Stop()

	setupRoutes(server, a, cfg, limiter)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Listen(addr)
	})
	g.Go(func() error {
		return a.RunBackground(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		appLogger.Info("Server shutting down gracefully...")
		return server.ShutdownWithTimeout(10 * time.Second)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		appLogger.Error("Server stopped with error", zap.Error(err))
		return
	}
	appLogger.Info("Server stopped")
}

func setupRoutes(server *fiber.App, a *app.App, cfg *config.Config, limiter *ratelimit.RateLimiter) {
	extractions := handlers.NewExtractionHandler(a.Orchestrator)
	stream := handlers.NewStatusStreamHandler(a.Orchestrator, time.Second)

	server.Get("/metrics", metrics.MetricsHandler())

	api := server.Group("/api/v1")

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	secured := api.Group("", auth.Middleware())

	secured.Post("/employees/:employeeId/cv",
		limiter.Middleware(),
		validation.Upload(validation.Config{MaxUploadBytes: cfg.Pipeline.MaxUploadBytes}),
		extractions.Upload,
	)
	secured.Get("/employees/:employeeId/extractions", extractions.List)
	secured.Get("/usage", extractions.Usage)

	byID := secured.Group("/extractions/:id", validation.ExtractionID())
	byID.Get("", extractions.GetStatus)
	byID.Post("/retry", extractions.Retry)
	byID.Post("/cancel", extractions.Cancel)
	byID.Delete("", extractions.Delete)

	server.Get("/ws/extractions/:id",
		auth.Middleware(),
		validation.ExtractionID(),
		stream.Upgrade,
		websocket.New(stream.HandleConnection),
	)
}
