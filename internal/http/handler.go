package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"go.ngs.io/dsg-ingest/internal/usecase"
)

// LoadJobs queues and reports dataset loads.
type LoadJobs interface {
	Submit(req usecase.LoadRequest) (usecase.Job, error)
	Get(id string) (usecase.Job, bool)
	List() []usecase.Job
}

// Handler handles HTTP requests for dataset loads.
type Handler struct {
	jobs LoadJobs
}

// NewHandler creates a new HTTP handler.
func NewHandler(jobs LoadJobs) *Handler {
	return &Handler{
		jobs: jobs,
	}
}

// CreateLoad handles POST /v1/loads.
func (h *Handler) CreateLoad(c *gin.Context) {
	var req usecase.LoadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "request body is required"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request body: %v", err)})
		return
	}

	job, err := h.jobs.Submit(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.Header("Location", "/v1/loads/"+job.ID)
	c.JSON(http.StatusAccepted, gin.H{
		"id":     job.ID,
		"status": job.Status,
	})
}

// ListLoads handles GET /v1/loads.
func (h *Handler) ListLoads(c *gin.Context) {
	jobs := h.jobs.List()
	if status := c.Query("status"); status != "" {
		filtered := jobs[:0]
		for _, j := range jobs {
			if j.Status == status {
				filtered = append(filtered, j)
			}
		}
		jobs = filtered
	}

	c.JSON(http.StatusOK, gin.H{
		"loads": jobs,
		"count": len(jobs),
	})
}

// GetLoad handles GET /v1/loads/:id.
func (h *Handler) GetLoad(c *gin.Context) {
	job, ok := h.jobs.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("load %s not found", c.Param("id"))})
		return
	}
	c.JSON(http.StatusOK, job)
}

// HealthCheck handles GET /health.
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
