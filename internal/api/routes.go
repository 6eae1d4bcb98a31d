package api

import (
	"net/http"
	"time"

	"github.com/ahrdadan/verifyq/internal/browser"
	"github.com/ahrdadan/verifyq/internal/security"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/websocket/v2"
)

// RouteConfig holds configuration for routes
type RouteConfig struct {
	RateLimitRequests int           // requests per window
	RateLimitWindow   time.Duration // time window
	IdempotencyTTL    time.Duration // TTL for idempotency keys
	ResultTTL         time.Duration // default retention of run results
	BaseURL           string        // Base URL for full URLs in responses
}

// DefaultRouteConfig returns default route configuration
func DefaultRouteConfig() RouteConfig {
	return RouteConfig{
		RateLimitRequests: 100,
		RateLimitWindow:   time.Minute,
		IdempotencyTTL:    24 * time.Hour,
		ResultTTL:         7 * 24 * time.Hour,
		BaseURL:           "http://localhost:8000",
	}
}

// SetupRoutes configures the health and browser status routes
func SetupRoutes(app *fiber.App, opts browser.LaunchOptions, runs RunQueue) {
	handler := NewHandler(opts, runs)

	app.Get("/health", handler.HealthCheck)

	app.Get("/verify/browser/status", security.SecurityHeadersMiddleware(), handler.BrowserStatus)
}

// SetupRunRoutes configures run queue routes with the default config
func SetupRunRoutes(app *fiber.App, runs RunQueue) {
	SetupRunRoutesWithConfig(app, runs, DefaultRouteConfig())
}

// SetupRunRoutesWithConfig configures run queue routes
func SetupRunRoutesWithConfig(app *fiber.App, runs RunQueue, config RouteConfig) {
	rateLimiter := security.NewRateLimiter(security.RateLimitConfig{
		RequestsPerWindow: config.RateLimitRequests,
		WindowDuration:    config.RateLimitWindow,
		BurstMax:          20,
	})
	idempotencyStore := security.NewIdempotencyStore(config.IdempotencyTTL)

	runHandler := NewRunHandler(runs, idempotencyStore, config.BaseURL, config.ResultTTL)
	secMiddleware := security.NewMiddleware(rateLimiter)

	runsGroup := app.Group("/verify/runs")
	runsGroup.Use(security.SecurityHeadersMiddleware())
	runsGroup.Use(secMiddleware.RateLimitMiddleware())
	runsGroup.Use(security.RequestValidationMiddleware())

	runsGroup.Post("", runHandler.CreateRun)
	runsGroup.Get("/:run_id", runHandler.GetRunStatus)
	runsGroup.Get("/:run_id/result", runHandler.GetRunResult)
	runsGroup.Get("/:run_id/screenshot", runHandler.GetRunScreenshot)
	runsGroup.Post("/:run_id/cancel", runHandler.CancelRun)
	runsGroup.Get("/:run_id/events", runHandler.StreamEvents)

	app.Use("/verify/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/verify/ws", websocket.New(runHandler.HandleWebSocket))
}

// SetupMetricsRoute exposes a Prometheus handler on /metrics
func SetupMetricsRoute(app *fiber.App, metrics http.Handler) {
	app.Get("/metrics", adaptor.HTTPHandler(metrics))
}
