package api

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/ahrdadan/verifyq/internal/queue"
	"github.com/ahrdadan/verifyq/internal/security"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// RunQueue is the part of the queue manager the HTTP layer needs
type RunQueue interface {
	EnqueueWithIdempotency(run *queue.Run) (*queue.Run, bool, error)
	GetRun(runID string) (*queue.Run, error)
	CancelRun(runID string) (*queue.Run, error)
	Subscribe(runID string) <-chan queue.Event
	Unsubscribe(runID string, ch <-chan queue.Event)
	Active() int
}

// RunHandler handles run-related API requests
type RunHandler struct {
	runs             RunQueue
	idempotencyStore *security.IdempotencyStore
	baseURL          string
	resultTTL        time.Duration
}

// NewRunHandler creates a new run handler. baseURL prefixes the links in
// responses; resultTTL is used when a request does not set result_ttl.
func NewRunHandler(runs RunQueue, idempotencyStore *security.IdempotencyStore, baseURL string, resultTTL time.Duration) *RunHandler {
	return &RunHandler{
		runs:             runs,
		idempotencyStore: idempotencyStore,
		baseURL:          strings.TrimRight(baseURL, "/"),
		resultTTL:        resultTTL,
	}
}

func (h *RunHandler) runURL(runID, suffix string) string {
	return fmt.Sprintf("%s/verify/runs/%s%s", h.baseURL, runID, suffix)
}

func (h *RunHandler) createdResponse(run *queue.Run) queue.RunCreatedResponse {
	resp := queue.RunCreatedResponse{
		RunID:         run.ID,
		Status:        run.Status,
		StatusURL:     h.runURL(run.ID, ""),
		ResultURL:     h.runURL(run.ID, "/result"),
		ScreenshotURL: h.runURL(run.ID, "/screenshot"),
	}
	resp.Events.SSEURL = h.runURL(run.ID, "/events")

	wsBase := strings.Replace(h.baseURL, "http", "ws", 1)
	resp.Events.WSURL = fmt.Sprintf("%s/verify/ws?run_id=%s", wsBase, run.ID)
	return resp
}

// CreateRun queues a verification run
// POST /verify/runs
func (h *RunHandler) CreateRun(c *fiber.Ctx) error {
	var req queue.RunRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
	}

	if req.BaseURL != "" {
		if err := queue.ValidateBaseURL(req.BaseURL); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
	}
	if req.Notify != nil && req.Notify.WebhookURL != "" {
		if err := queue.ValidateBaseURL(req.Notify.WebhookURL); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid webhook_url")
		}
	}

	if key := c.Get("X-Idempotency-Key"); key != "" {
		req.IdempotencyKey = key
	}

	if req.IdempotencyKey != "" && h.idempotencyStore != nil {
		if entry, ok := h.idempotencyStore.Check(req.IdempotencyKey); ok {
			c.Set("X-Idempotency-Hit", "true")
			return c.Status(fiber.StatusAccepted).JSON(Response{
				Success: true,
				Data:    entry.Response,
			})
		}
	}

	if req.ResultTTL <= 0 && h.resultTTL > 0 {
		req.ResultTTL = int(h.resultTTL.Seconds())
	}

	run, duplicate, err := h.runs.EnqueueWithIdempotency(queue.NewRun(req))
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, fmt.Sprintf("Failed to enqueue run: %v", err))
	}

	response := h.createdResponse(run)

	if duplicate {
		c.Set("X-Idempotency-Hit", "true")
	} else if req.IdempotencyKey != "" && h.idempotencyStore != nil {
		h.idempotencyStore.Store(req.IdempotencyKey, run.ID, response)
	}

	return c.Status(fiber.StatusAccepted).JSON(Response{
		Success: true,
		Data:    response,
	})
}

func (h *RunHandler) lookup(c *fiber.Ctx) (*queue.Run, error) {
	runID := c.Params("run_id")
	if runID == "" {
		return nil, fiber.NewError(fiber.StatusBadRequest, "Run ID is required")
	}

	run, err := h.runs.GetRun(runID)
	if err != nil {
		return nil, fiber.NewError(fiber.StatusNotFound, "Run not found")
	}
	return run, nil
}

// GetRunStatus returns the status of a run
// GET /verify/runs/:run_id
func (h *RunHandler) GetRunStatus(c *fiber.Ctx) error {
	run, err := h.lookup(c)
	if err != nil {
		return err
	}

	response := map[string]interface{}{
		"run_id":     run.ID,
		"status":     run.Status,
		"stage":      run.Stage,
		"progress":   run.Progress,
		"message":    run.Message,
		"created_at": run.CreatedAt,
		"updated_at": run.UpdatedAt,
	}
	if run.StartedAt > 0 {
		response["started_at"] = run.StartedAt
	}
	if run.CompletedAt > 0 {
		response["completed_at"] = run.CompletedAt
	}
	if run.ExpiresAt > 0 {
		response["expires_at"] = time.Unix(run.ExpiresAt, 0).UTC().Format(time.RFC3339)
	}

	return c.JSON(Response{
		Success: true,
		Data:    response,
	})
}

// GetRunResult returns the summary of a finished run
// GET /verify/runs/:run_id/result
func (h *RunHandler) GetRunResult(c *fiber.Ctx) error {
	run, err := h.lookup(c)
	if err != nil {
		return err
	}

	if !run.Status.Done() {
		return fiber.NewError(fiber.StatusConflict, "Run not completed yet")
	}

	return c.JSON(Response{
		Success: true,
		Data: queue.RunResultResponse{
			RunID:   run.ID,
			Status:  run.Status,
			Summary: run.Summary,
		},
	})
}

// GetRunScreenshot returns the screenshot a finished run left behind
// GET /verify/runs/:run_id/screenshot
func (h *RunHandler) GetRunScreenshot(c *fiber.Ctx) error {
	run, err := h.lookup(c)
	if err != nil {
		return err
	}

	if !run.Status.Done() {
		return fiber.NewError(fiber.StatusConflict, "Run not completed yet")
	}
	if run.Summary == nil || run.Summary.Screenshot == "" {
		return fiber.NewError(fiber.StatusNotFound, "Run has no screenshot")
	}

	data, err := os.ReadFile(run.Summary.Screenshot)
	if errors.Is(err, fs.ErrNotExist) {
		return fiber.NewError(fiber.StatusNotFound, "Screenshot no longer available")
	}
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to read screenshot")
	}

	c.Set(fiber.HeaderContentType, "image/png")
	c.Set("X-Verifyq-Outcome", string(run.Summary.Outcome))
	return c.Send(data)
}

// CancelRun cancels a queued or running run
// POST /verify/runs/:run_id/cancel
func (h *RunHandler) CancelRun(c *fiber.Ctx) error {
	runID := c.Params("run_id")
	if runID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "Run ID is required")
	}

	if _, err := h.runs.GetRun(runID); err != nil {
		return fiber.NewError(fiber.StatusNotFound, "Run not found")
	}

	run, err := h.runs.CancelRun(runID)
	if err != nil {
		return fiber.NewError(fiber.StatusConflict, err.Error())
	}

	return c.JSON(Response{
		Success: true,
		Data: map[string]interface{}{
			"run_id": run.ID,
			"status": run.Status,
		},
	})
}

func snapshot(run *queue.Run) queue.Event {
	return queue.Event{
		RunID:    run.ID,
		Status:   run.Status,
		Stage:    run.Stage,
		Progress: run.Progress,
		Message:  run.Message,
	}
}

// StreamEvents streams run events via SSE
// GET /verify/runs/:run_id/events
func (h *RunHandler) StreamEvents(c *fiber.Ctx) error {
	run, err := h.lookup(c)
	if err != nil {
		return err
	}

	// Subscribe before the snapshot so no transition falls in between.
	events := h.runs.Subscribe(run.ID)
	if current, err := h.runs.GetRun(run.ID); err == nil {
		run = current
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer h.runs.Unsubscribe(run.ID, events)

		writeEvent := func(ev queue.Event) error {
			data, _ := json.Marshal(ev)
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return err
			}
			return w.Flush()
		}

		if err := writeEvent(snapshot(run)); err != nil || run.Status.Done() {
			return
		}

		for event := range events {
			if err := writeEvent(event); err != nil {
				return
			}
			if event.Terminal() {
				return
			}
		}
	})

	return nil
}

// HandleWebSocket streams run events over a websocket
// GET /verify/ws?run_id=
func (h *RunHandler) HandleWebSocket(c *websocket.Conn) {
	defer c.Close()

	runID := c.Query("run_id")
	if runID == "" {
		_ = c.WriteJSON(map[string]interface{}{"error": "run_id is required"})
		return
	}

	events := h.runs.Subscribe(runID)
	defer h.runs.Unsubscribe(runID, events)

	run, err := h.runs.GetRun(runID)
	if err != nil {
		_ = c.WriteJSON(map[string]interface{}{"error": "run not found"})
		return
	}

	if err := c.WriteJSON(snapshot(run)); err != nil || run.Status.Done() {
		return
	}

	for event := range events {
		if err := c.WriteJSON(event); err != nil {
			return
		}
		if event.Terminal() {
			return
		}
	}
}
