package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentryfiber "github.com/getsentry/sentry-go/fiber"
	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"github.com/oryxhealth/clinic-backend/internal/config"
	"github.com/oryxhealth/clinic-backend/internal/database"
	"github.com/oryxhealth/clinic-backend/internal/handlers"
	"github.com/oryxhealth/clinic-backend/internal/logging"
	"github.com/oryxhealth/clinic-backend/internal/middleware"
	"github.com/oryxhealth/clinic-backend/internal/quota"
	"github.com/oryxhealth/clinic-backend/internal/routes"
	"github.com/oryxhealth/clinic-backend/internal/scheduling"
	"github.com/oryxhealth/clinic-backend/internal/services"
	"github.com/oryxhealth/clinic-backend/internal/subscription"
	"github.com/oryxhealth/clinic-backend/internal/tenant"
	"github.com/oryxhealth/clinic-backend/internal/txn"
)

func main() {
	// Structured logging (JSON to stdout)
	logging.Setup()

	cfg := config.Load()

	if cfg.JWTSecret == "" {
		slog.Error("JWT_SECRET environment variable is required")
		os.Exit(1)
	}
	if cfg.DBPassword == "" {
		slog.Error("DB_PASSWORD environment variable is required")
		os.Exit(1)
	}

	// Database
	if err := database.Connect(cfg); err != nil {
		slog.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	if err := database.Migrate(); err != nil {
		slog.Error("migration failed", "error", err)
		os.Exit(1)
	}
	if err := database.EnableRowPolicies(); err != nil {
		slog.Error("row policy installation failed", "error", err)
		os.Exit(1)
	}

	// PostgreSQL log handler (ERROR+ async batch)
	pgLogHandler := logging.NewPGHandler(database.DB)
	slog.SetDefault(slog.New(logging.NewMultiHandler(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		pgLogHandler,
	)))

	// Log cleanup
	cleanupDone := make(chan struct{})
	logging.StartCleanup(database.DB, cfg.LogRetentionDays, cleanupDone)

	// Tenant resolver cache
	resolver := tenant.NewResolver(database.DB)
	if err := resolver.Load(); err != nil {
		slog.Error("failed to load tenants", "error", err)
		os.Exit(1)
	}
	slog.Info("tenants loaded", "count", resolver.Count())

	// Core wiring: transaction runner, quota governor, scheduler, lifecycle
	runner := txn.NewRunner(database.DB, cfg.TxMaxRetries, cfg.TxBackoffBase)
	governor := quota.NewGovernor(runner)
	scheduler := scheduling.NewScheduler(runner, governor)
	lifecycle := subscription.NewLifecycle(runner)

	// Background sweep applying due scheduled plan changes
	sweepDone := make(chan struct{})
	lifecycle.StartSweeper(cfg.PlanSweepInterval, sweepDone)

	// Services
	authService := services.NewAuthService(runner, cfg)
	tenantService := services.NewTenantService(runner, resolver, cfg)
	staffService := services.NewStaffService(runner, governor)
	patientService := services.NewPatientService(runner, governor)
	attachmentService := services.NewAttachmentService(runner, governor)
	notificationService := services.NewNotificationService(runner, governor)

	// Sentry error tracking
	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              dsn,
			EnableTracing:    true,
			TracesSampleRate: 0.2,
			Environment:      os.Getenv("APP_ENV"),
		}); err != nil {
			slog.Error("sentry init failed", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	// Fiber app
	app := fiber.New(fiber.Config{
		BodyLimit:    4 * 1024 * 1024,
		ErrorHandler: customErrorHandler,
	})

	app.Use(sentryfiber.New(sentryfiber.Options{
		Repanic:         true,
		WaitForDelivery: false,
	}))

	// Global middleware
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "${time} | ${status} | ${latency} | ${ip} | ${method} | ${path}\n",
	}))
	app.Use(middleware.CORS(cfg))
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("X-XSS-Protection", "1; mode=block")
		return c.Next()
	})

	// Routes
	routes.Setup(app, cfg, resolver, routes.Handlers{
		Health:       handlers.NewHealthHandler(resolver),
		Auth:         handlers.NewAuthHandler(authService, resolver),
		Tenant:       handlers.NewTenantHandler(tenantService),
		Staff:        handlers.NewStaffHandler(staffService),
		Patient:      handlers.NewPatientHandler(patientService),
		Appointment:  handlers.NewAppointmentHandler(scheduler),
		Attachment:   handlers.NewAttachmentHandler(attachmentService),
		Subscription: handlers.NewSubscriptionHandler(lifecycle),
		Notification: handlers.NewNotificationHandler(notificationService),
		Settings:     handlers.NewSettingsHandler(tenantService),
		Webhook:      handlers.NewWebhookHandler(lifecycle, resolver, cfg),
	})

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "port", cfg.Port)
		if err := app.Listen(":" + cfg.Port); err != nil {
			slog.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-quit
	slog.Info("shutting down server...")

	close(cleanupDone)
	close(sweepDone)
	pgLogHandler.Stop()
	sentry.Flush(2 * time.Second)

	if err := app.Shutdown(); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	if sqlDB, err := database.DB.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			slog.Error("database close error", "error", err)
		}
	}

	slog.Info("server stopped")
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal server error"
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	// Only expose error details for client errors (4xx), not server errors (5xx)
	if code >= 500 {
		slog.Error("unhandled server error", "method", c.Method(), "path", c.Path(), "error", err.Error())
		message = "Internal server error"
	}

	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": message,
	})
}
