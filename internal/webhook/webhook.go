// Package webhook reconciles asynchronous vendor callbacks with the jobs
// they finalize, per spec §4.8.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/cuongbtq/vendordispatch/internal/job"
)

// Store is the subset of internal/store's Store this package consumes.
type Store interface {
	UpdateResult(ctx context.Context, requestID string, status job.Status, result json.RawMessage, errMsg *string) error
}

// Cache is the subset of internal/cache's Cache this package consumes.
type Cache interface {
	Invalidate(ctx context.Context, requestID string)
}

// Body is the payload a vendor posts to /vendor-webhook/:vendor.
type Body struct {
	RequestID string          `json:"requestId"`
	Status    string          `json:"status,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// ErrMissingRequestID is returned when the webhook body omits requestId.
var ErrMissingRequestID = errors.New("webhook: requestId is required")

// Handler reconciles webhook callbacks against the job store.
type Handler struct {
	store  Store
	cache  Cache
	logger *slog.Logger
}

// New creates a webhook Handler.
func New(store Store, cache Cache, logger *slog.Logger) *Handler {
	return &Handler{store: store, cache: cache, logger: logger}
}

// OnWebhook processes a callback from the named vendor. It returns
// job.ErrNotFound for an unknown requestId, which callers must translate to
// a response that does not make the vendor retry (per §4.8, unknown jobs
// are not an error the vendor should see as transient).
func (h *Handler) OnWebhook(ctx context.Context, vendor string, body Body) error {
	if body.RequestID == "" {
		return ErrMissingRequestID
	}

	status := job.Status(body.Status)
	if status == "" {
		status = job.StatusComplete
	}
	if !status.Valid() {
		return job.NewValidationError("webhook: unknown status " + body.Status)
	}

	var errMsg *string
	if body.Error != "" {
		errMsg = &body.Error
	}

	err := h.store.UpdateResult(ctx, body.RequestID, status, body.Result, errMsg)
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			h.logger.Warn("webhook for unknown job",
				slog.String("vendor", vendor), slog.String("request_id", body.RequestID))
			return err
		}
		return err
	}

	h.cache.Invalidate(ctx, body.RequestID)
	h.logger.Info("webhook reconciled",
		slog.String("vendor", vendor), slog.String("request_id", body.RequestID), slog.String("status", string(status)))
	return nil
}
