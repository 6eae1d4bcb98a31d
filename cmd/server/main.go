package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ahrdadan/verifyq/internal/api"
	"github.com/ahrdadan/verifyq/internal/browser"
	"github.com/ahrdadan/verifyq/internal/config"
	"github.com/ahrdadan/verifyq/internal/metrics"
	"github.com/ahrdadan/verifyq/internal/nats"
	"github.com/ahrdadan/verifyq/internal/queue"
	"github.com/ahrdadan/verifyq/internal/verify"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

func main() {
	// Parse CLI flags
	cfg := config.ParseFlags()

	// Handle --version and --help
	config.HandleFlags(cfg)

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	log.Printf("Starting %s v%s (Verify + Queue)", config.AppName, config.Version)

	ctx := context.Background()

	// Chrome setup: sessions are launched per run, only the binary is resolved here
	launchOpts := cfg.LaunchOptions()
	if cfg.DownloadChrome && launchOpts.Bin == "" {
		bin, err := browser.InstallChrome(ctx, cfg.ChromeRevision)
		if err != nil {
			log.Fatalf("Failed to install Chrome: %v", err)
		}
		launchOpts.Bin = bin
	}

	recorder := metrics.NewRecorder()

	// NATS + JetStream setup
	var runs api.RunQueue

	if cfg.WithNats {
		log.Printf("Setting up NATS JetStream...")

		natsServer, err := nats.NewServer(nats.ServerConfig{
			BinPath:  cfg.NatsBin,
			StoreDir: cfg.NatsStore,
			URL:      cfg.NatsURL,
			AutoDL:   cfg.NatsAutoDL,
			Name:     config.AppName,
		})
		if err != nil {
			log.Fatalf("Failed to create NATS server: %v", err)
		}

		if err := natsServer.Start(ctx); err != nil {
			log.Fatalf("Failed to start NATS server: %v", err)
		}
		defer func() { _ = natsServer.Stop() }()

		queueManager, err := queue.NewManager(natsServer.JetStream())
		if err != nil {
			log.Fatalf("Failed to create queue manager: %v", err)
		}

		processor := queue.NewVerifyProcessor(
			verify.ChromeLauncher(browser.NewLauncher(launchOpts)),
			cfg.JourneyOptions(),
			cfg.RunsDir,
			cfg.PublicURL,
			recorder,
		)
		if err := queueManager.Start(processor); err != nil {
			log.Fatalf("Failed to start queue processor: %v", err)
		}
		defer queueManager.Stop()

		runs = queueManager
	} else {
		log.Printf("Warning: NATS disabled - run endpoints are not available")
	}

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName:      config.AppName,
		ErrorHandler: api.ErrorHandler,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New())

	// Setup routes
	api.SetupRoutes(app, launchOpts, runs)
	api.SetupMetricsRoute(app, recorder.Handler())

	if runs != nil {
		api.SetupRunRoutesWithConfig(app, runs, api.RouteConfig{
			RateLimitRequests: cfg.RateLimitRequests,
			RateLimitWindow:   cfg.RateLimitWindow,
			IdempotencyTTL:    cfg.IdempotencyTTL,
			ResultTTL:         cfg.ResultTTL,
			BaseURL:           cfg.PublicURL,
		})
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		if err := app.Shutdown(); err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	log.Printf("Starting server on %s", addr)
	log.Printf("Verifying %s with sample %s", cfg.BaseURL, cfg.SamplePath)
	if cfg.WithNats {
		log.Printf("NATS JetStream enabled at %s", cfg.NatsURL)
	}

	if err := app.Listen(addr); err != nil {
		log.Printf("Server stopped: %v", err)
	}
}
