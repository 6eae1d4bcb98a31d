package api

import (
	"errors"
	"time"

	"github.com/ahrdadan/verifyq/internal/browser"
	"github.com/gofiber/fiber/v2"
)

// Handler serves the service-level endpoints
type Handler struct {
	browser browser.LaunchOptions
	runs    RunQueue
}

// NewHandler creates a new handler
func NewHandler(opts browser.LaunchOptions, runs RunQueue) *Handler {
	return &Handler{
		browser: opts,
		runs:    runs,
	}
}

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// ErrorHandler is the custom error handler for Fiber
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}

	return c.Status(code).JSON(Response{
		Success: false,
		Error:   err.Error(),
	})
}

// HealthCheck returns health status
func (h *Handler) HealthCheck(c *fiber.Ctx) error {
	return c.JSON(Response{
		Success: true,
		Data: map[string]interface{}{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// BrowserStatus reports how sessions are launched and whether one is open.
// Sessions live only for the duration of a run.
func (h *Handler) BrowserStatus(c *fiber.Ctx) error {
	bin := h.browser.Bin
	if bin == "" {
		bin = "auto"
	}

	active := 0
	if h.runs != nil {
		active = h.runs.Active()
	}

	return c.JSON(Response{
		Success: true,
		Data: map[string]interface{}{
			"engine":         "chrome",
			"bin":            bin,
			"headless":       h.browser.Headless,
			"action_timeout": h.browser.ActionTimeout.String(),
			"running":        active > 0,
			"sessions":       active,
		},
	})
}
