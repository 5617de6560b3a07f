// Package api is the thin gin translation layer of spec §6: POST /jobs,
// GET /jobs/:requestId, POST /vendor-webhook/:vendor, GET /health, adapted
// from the teacher's internal/api/{router,handler} packages.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/cuongbtq/vendordispatch/internal/breaker"
	"github.com/cuongbtq/vendordispatch/internal/job"
	"github.com/cuongbtq/vendordispatch/internal/vendor"
	"github.com/cuongbtq/vendordispatch/internal/webhook"
)

// Store is the subset of internal/store's Store this package consumes.
type Store interface {
	Create(ctx context.Context, j *job.Job) error
	FindByID(ctx context.Context, requestID string) (*job.Job, error)
	HealthCheck(ctx context.Context) bool
	DBStats() string
}

// Queue is the subset of internal/queue's Queue this package consumes.
type Queue interface {
	Enqueue(ctx context.Context, requestID string, payloadJSON string) (string, error)
}

// Cache is the subset of internal/cache's Cache this package consumes.
type Cache interface {
	Get(ctx context.Context, requestID string) *job.Job
	Put(ctx context.Context, j *job.Job, ttl time.Duration)
}

// Vendors is the subset of internal/vendor's Client this package consumes,
// used for the health endpoint and the supplemented vendor stats endpoint.
type Vendors interface {
	HealthCheckAll(ctx context.Context) map[string]bool
	Names() []string
	Lookup(name string) (vendor.Config, bool)
	BreakerStats(name string) (breaker.Stats, bool)
	RateLimitTokens(name string) (float64, bool)
}

// WebhookHandler is the subset of internal/webhook's Handler this package
// consumes.
type WebhookHandler interface {
	OnWebhook(ctx context.Context, vendor string, body webhook.Body) error
}

// Dependencies holds everything the HTTP handlers need.
type Dependencies struct {
	Logger  *slog.Logger
	Store   Store
	Queue   Queue
	Cache   Cache
	Vendors Vendors
	Webhook WebhookHandler
}

// JobHandler handles job- and webhook-related HTTP requests.
type JobHandler struct {
	logger  *slog.Logger
	store   Store
	queue   Queue
	cache   Cache
	vendors Vendors
	webhook WebhookHandler
}

// NewJobHandler creates a JobHandler from deps.
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:  deps.Logger,
		store:   deps.Store,
		queue:   deps.Queue,
		cache:   deps.Cache,
		vendors: deps.Vendors,
		webhook: deps.Webhook,
	}
}

func ttlFor(status job.Status) time.Duration {
	if status.IsTerminal() {
		return time.Hour
	}
	return 5 * time.Minute
}

// jobStatusResponse is the JSON shape returned by GET /jobs/:requestId.
type jobStatusResponse struct {
	Status    job.Status      `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *string         `json:"error,omitempty"`
	Vendor    *string         `json:"vendor,omitempty"`
}

func toStatusResponse(j *job.Job) jobStatusResponse {
	return jobStatusResponse{
		Status:    j.Status,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
		Result:    j.Result,
		Error:     j.Error,
		Vendor:    j.Vendor,
	}
}
