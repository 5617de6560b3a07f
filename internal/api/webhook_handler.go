package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/vendordispatch/internal/job"
	"github.com/cuongbtq/vendordispatch/internal/webhook"
	"github.com/gin-gonic/gin"
)

// OnVendorWebhook handles POST /vendor-webhook/:vendor. Per §7, an unknown
// requestId is surfaced as 400 rather than 500 so the vendor does not see
// it as a reason to retry indefinitely, but a genuine internal failure
// still surfaces as 500.
func (h *JobHandler) OnVendorWebhook(c *gin.Context) {
	vendorName := c.Param("vendor")

	var body webhook.Body
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	err := h.webhook.OnWebhook(c.Request.Context(), vendorName, body)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"success": true})
	case errors.Is(err, webhook.ErrMissingRequestID):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, job.ErrNotFound):
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown requestId"})
	case isValidationError(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.logger.Error("webhook processing failed",
			slog.String("vendor", vendorName), slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process webhook"})
	}
}

// isValidationError reports whether err (or something it wraps) is a
// *job.ValidationError, e.g. an illegal status transition rejected by the
// store's §3 DAG check.
func isValidationError(err error) bool {
	var validationErr *job.ValidationError
	return errors.As(err, &validationErr)
}
