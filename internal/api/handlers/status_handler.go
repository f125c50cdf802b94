package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/andresuchdata/dwd-exporter/internal/domain"
	"github.com/andresuchdata/dwd-exporter/internal/pipeline"
	"github.com/andresuchdata/dwd-exporter/pkg/logger"
)

// ProgressSource exposes the live counters of the running export.
type ProgressSource interface {
	Snapshot() pipeline.Snapshot
}

// RunReader reads journaled runs back. Both journals implement it.
type RunReader interface {
	GetRun(ctx context.Context, id string) (*domain.RunRecord, error)
	ListRuns(ctx context.Context, limit int) ([]domain.RunRecord, error)
	Items(ctx context.Context, runID string) ([]domain.ItemRecord, error)
}

type StatusHandler struct {
	progress ProgressSource
	runs     RunReader
}

// NewStatusHandler builds the handler. runs may be nil when no journal is
// configured.
func NewStatusHandler(progress ProgressSource, runs RunReader) *StatusHandler {
	return &StatusHandler{progress: progress, runs: runs}
}

func (h *StatusHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *StatusHandler) Progress(c *gin.Context) {
	c.JSON(http.StatusOK, h.progress.Snapshot())
}

// ListRuns returns the most recent journaled runs, newest first.
func (h *StatusHandler) ListRuns(c *gin.Context) {
	if h.runs == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run journal is not configured"})
		return
	}

	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
			return
		}
		limit = n
	}

	runs, err := h.runs.ListRuns(c.Request.Context(), limit)
	if err != nil {
		logger.Log.Error().Err(err).Msg("failed to list runs")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// GetRun returns a journaled run and its items.
func (h *StatusHandler) GetRun(c *gin.Context) {
	if h.runs == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run journal is not configured"})
		return
	}

	id := c.Param("id")
	run, err := h.runs.GetRun(c.Request.Context(), id)
	if err != nil {
		logger.Log.Error().Err(err).Str("run_id", id).Msg("failed to read run")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read run"})
		return
	}
	if run == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}

	items, err := h.runs.Items(c.Request.Context(), id)
	if err != nil {
		logger.Log.Error().Err(err).Str("run_id", id).Msg("failed to read run items")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read run items"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"run": run, "items": items})
}
