package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/vendordispatch/internal/job"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type createJobResponse struct {
	RequestID string `json:"request_id"`
}

// CreateJob handles POST /jobs: it accepts an arbitrary non-empty JSON
// object, persists a pending job under a freshly generated UUID, and
// enqueues it for the worker pool.
func (h *JobHandler) CreateJob(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	payload := json.RawMessage(raw)
	if !job.ValidPayload(payload) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request body must be a non-empty JSON object"})
		return
	}

	requestID := uuid.New().String()
	j := &job.Job{
		RequestID: requestID,
		Status:    job.StatusPending,
		Payload:   payload,
	}

	if err := h.store.Create(c.Request.Context(), j); err != nil {
		h.logger.Error("create job failed", slog.String("request_id", requestID), slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create job"})
		return
	}

	if _, err := h.queue.Enqueue(c.Request.Context(), requestID, string(payload)); err != nil {
		h.logger.Error("enqueue job failed", slog.String("request_id", requestID), slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue job"})
		return
	}

	c.JSON(http.StatusOK, createJobResponse{RequestID: requestID})
}

// GetJob handles GET /jobs/:requestId: a read-through lookup against the
// status cache, falling back to the store on a miss.
func (h *JobHandler) GetJob(c *gin.Context) {
	requestID := c.Param("requestId")

	if cached := h.cache.Get(c.Request.Context(), requestID); cached != nil {
		c.JSON(http.StatusOK, toStatusResponse(cached))
		return
	}

	j, err := h.store.FindByID(c.Request.Context(), requestID)
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		h.logger.Error("get job failed", slog.String("request_id", requestID), slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get job"})
		return
	}

	h.cache.Put(c.Request.Context(), j, ttlFor(j.Status))
	c.JSON(http.StatusOK, toStatusResponse(j))
}
