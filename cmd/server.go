package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Abraxas-365/warden/pkg/config"
	"github.com/Abraxas-365/warden/pkg/errx"
	"github.com/Abraxas-365/warden/pkg/logx"
	"github.com/Abraxas-365/warden/pkg/metricsx"
	"github.com/Abraxas-365/warden/pkg/storex"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// 1. Logger
	logx.SetDefaultLogger(logx.NewLogger(logx.LoadFromEnv()))

	// 2. Configuration
	cfg, err := config.Load()
	if err != nil {
		logx.Fatalf("Failed to load configuration: %v", err)
	}
	logx.WithFields(logx.Fields{
		"app":      cfg.App.Name,
		"version":  cfg.App.Version,
		"users":    cfg.Users.Provider,
		"sessions": cfg.Sessions.Provider,
	}).Info("🚀 Starting auth service...")

	// 3. Dependency container; aborts unless every backend is ready
	container := NewContainer(cfg)
	defer container.Cleanup()

	// 4. Fiber app
	app := fiber.New(fiber.Config{
		AppName:               cfg.App.Name,
		DisableStartupMessage: true,
		ErrorHandler:          errx.FiberHandler,
		IdleTimeout:           120 * time.Second,
	})

	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	app.Use(requestid.New(requestid.Config{
		Header:    fiber.HeaderXRequestID,
		Generator: uuid.NewString,
	}))

	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(cfg.Server.CORSOrigins, ","),
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Request-ID",
		AllowMethods:     "GET, POST, OPTIONS",
		AllowCredentials: !containsWildcard(cfg.Server.CORSOrigins),
		ExposeHeaders:    "X-Request-ID",
	}))

	app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${method} ${path} | ${ip} | ${reqHeader:X-Request-ID}\n",
		TimeFormat: "2006-01-02 15:04:05",
		TimeZone:   "Local",
	}))

	// 5. Health and metrics
	app.Get("/health", healthCheckHandler(container))
	app.Get("/metrics", adaptor.HTTPHandler(metricsx.Handler(container.Registry)))

	// 6. Routes
	container.IAM.AuthHandlers.RegisterRoutes(app, container.IAM.AuthMiddleware)
	logx.Info("✓ Auth routes registered")

	app.Use(notFoundHandler)

	// 7. Background reaper
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cfg.Sessions.Reaper.Enabled {
		go container.IAM.Reaper.Run(ctx)
		logx.WithField("interval", cfg.Sessions.Reaper.Interval.String()).Info("✓ Session reaper started")
	}

	// 8. Serve until signalled
	startServer(app, cfg.Server.Port)
}

// ============================================================================
// Handler Functions
// ============================================================================

// healthCheckHandler probes both storage backends.
func healthCheckHandler(container *Container) fiber.Handler {
	return func(c *fiber.Ctx) error {
		cfg := container.Config
		health := fiber.Map{
			"status":  "healthy",
			"service": cfg.App.Name,
			"version": cfg.App.Version,
		}

		checks := []struct {
			key     string
			pinger  storex.Pinger
			timeout time.Duration
		}{
			{"users", container.IAM.Users, cfg.Users.Timeouts.Ping},
			{"sessions", container.IAM.Sessions, cfg.Sessions.Timeouts.Ping},
		}
		for _, chk := range checks {
			if err := storex.Probe(c.UserContext(), chk.pinger, chk.timeout); err != nil {
				health[chk.key] = "unhealthy"
				health["status"] = "degraded"
				logx.WithField("backend", chk.pinger.Name()).WithError(err).Warn("Health probe failed")
				continue
			}
			health[chk.key] = "healthy"
		}

		status := fiber.StatusOK
		if health["status"] == "degraded" {
			status = fiber.StatusServiceUnavailable
		}
		return c.Status(status).JSON(health)
	}
}

// notFoundHandler handles 404 errors
func notFoundHandler(c *fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error":      "Route not found",
		"code":       "NOT_FOUND",
		"path":       c.Path(),
		"method":     c.Method(),
		"request_id": c.Get(fiber.HeaderXRequestID),
	})
}

// ============================================================================
// Utility Functions
// ============================================================================

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}

// startServer listens in the background and blocks until a shutdown signal.
func startServer(app *fiber.App, port string) {
	go func() {
		logx.Info("=" + strings.Repeat("=", 60))
		logx.Infof("🚀 Server listening on port %s", port)
		logx.Infof("💚 Health Check: http://localhost:%s/health", port)
		logx.Info("=" + strings.Repeat("=", 60))

		if err := app.Listen(":" + port); err != nil {
			logx.Fatalf("Server error: %v", err)
		}
	}()

	gracefulShutdown(app)
}

// gracefulShutdown handles graceful server shutdown
func gracefulShutdown(app *fiber.App) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	logx.Infof("🛑 Received signal: %v", sig)
	logx.Info("Shutting down gracefully...")

	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		logx.Errorf("Server forced to shutdown: %v", err)
	}

	logx.Info("✅ Server exited successfully")
}
