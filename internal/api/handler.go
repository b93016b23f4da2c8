package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"order-etl/internal/models"
	"order-etl/internal/service"
	"order-etl/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RunService starts runs and reports on them. *service.Runner satisfies it.
type RunService interface {
	Submit(req service.RunRequest) string
	CheckOutputPath(path string) error
	GetRun(ctx context.Context, id string) (*models.Run, error)
	ListRuns(ctx context.Context, limit int) ([]models.Run, error)
	LastRun(ctx context.Context) (*models.Run, error)
}

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// ReadinessCheck reports whether a dependency is reachable
type ReadinessCheck func(ctx context.Context) error

// Handler contains HTTP handlers
type Handler struct {
	runs   RunService
	checks map[string]ReadinessCheck
}

// NewHandler creates a new HTTP handler
func NewHandler(runs RunService) *Handler {
	return &Handler{
		runs:   runs,
		checks: make(map[string]ReadinessCheck),
	}
}

// AddReadinessCheck registers a dependency probed by /ready
func (h *Handler) AddReadinessCheck(name string, check ReadinessCheck) {
	h.checks[name] = check
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/runs", h.createRun)
		v1.GET("/runs", h.listRuns)
		v1.GET("/runs/last", h.getLastRun)
		v1.GET("/runs/:id", h.getRun)
	}
}

// CreateRunRequest is the body of POST /api/v1/runs. Every field is optional.
// OutputPath must stay under the directory of the configured output.
type CreateRunRequest struct {
	IncludeStripe *bool  `json:"include_stripe"`
	OutputPath    string `json:"output_path"`
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"failed": failed,
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// createRun handles run submission
func (h *Handler) createRun(c *gin.Context) {
	var req CreateRunRequest

	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "Invalid request body",
				"details": err.Error(),
			})
			return
		}
	}

	if err := h.runs.CheckOutputPath(req.OutputPath); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Output path not allowed",
			"details": err.Error(),
		})
		return
	}

	runID := h.runs.Submit(service.RunRequest{
		IncludeStripe: req.IncludeStripe,
		OutputPath:    req.OutputPath,
	})

	c.Header("Location", "/api/v1/runs/"+runID)
	c.JSON(http.StatusAccepted, gin.H{
		"run_id": runID,
		"status": models.RunStatusPending,
	})
}

// listRuns handles listing of recent runs, newest first
func (h *Handler) listRuns(c *gin.Context) {
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxListLimit {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "Invalid limit",
				"details": "limit must be between 1 and " + strconv.Itoa(maxListLimit),
			})
			return
		}
		limit = n
	}

	runs, err := h.runs.ListRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to list runs",
			"details": err.Error(),
		})
		return
	}
	if runs == nil {
		runs = []models.Run{}
	}

	c.JSON(http.StatusOK, gin.H{
		"runs":  runs,
		"count": len(runs),
	})
}

// getRun handles get run by ID
func (h *Handler) getRun(c *gin.Context) {
	run, err := h.runs.GetRun(c.Request.Context(), c.Param("id"))
	h.respondRun(c, run, err)
}

// getLastRun handles get of the most recent finished run
func (h *Handler) getLastRun(c *gin.Context) {
	run, err := h.runs.LastRun(c.Request.Context())
	h.respondRun(c, run, err)
}

func (h *Handler) respondRun(c *gin.Context, run *models.Run, err error) {
	if errors.Is(err, models.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "Run not found",
			"details": err.Error(),
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to get run",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, run)
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
