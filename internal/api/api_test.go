package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cuongbtq/vendordispatch/internal/breaker"
	"github.com/cuongbtq/vendordispatch/internal/job"
	"github.com/cuongbtq/vendordispatch/internal/vendor"
	"github.com/cuongbtq/vendordispatch/internal/webhook"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	jobs      map[string]*job.Job
	createErr error
	healthy   bool
}

func (f *fakeStore) Create(ctx context.Context, j *job.Job) error {
	if f.createErr != nil {
		return f.createErr
	}
	if f.jobs == nil {
		f.jobs = map[string]*job.Job{}
	}
	j.CreatedAt = time.Now().UTC()
	j.UpdatedAt = j.CreatedAt
	f.jobs[j.RequestID] = j
	return nil
}

func (f *fakeStore) FindByID(ctx context.Context, requestID string) (*job.Job, error) {
	j, ok := f.jobs[requestID]
	if !ok {
		return nil, job.ErrNotFound
	}
	return j, nil
}

func (f *fakeStore) HealthCheck(ctx context.Context) bool { return f.healthy }

func (f *fakeStore) DBStats() string { return "MaxOpenConns: 0, OpenConns: 0" }

type fakeQueue struct {
	enqueued []string
}

func (f *fakeQueue) Enqueue(ctx context.Context, requestID string, payloadJSON string) (string, error) {
	f.enqueued = append(f.enqueued, requestID)
	return "1-1", nil
}

type fakeCache struct {
	store map[string]*job.Job
}

func (f *fakeCache) Get(ctx context.Context, requestID string) *job.Job {
	if f.store == nil {
		return nil
	}
	return f.store[requestID]
}

func (f *fakeCache) Put(ctx context.Context, j *job.Job, ttl time.Duration) {
	if f.store == nil {
		f.store = map[string]*job.Job{}
	}
	f.store[j.RequestID] = j
}

type fakeVendors struct {
	health map[string]bool
}

func (f *fakeVendors) HealthCheckAll(ctx context.Context) map[string]bool { return f.health }
func (f *fakeVendors) Names() []string                                   { return []string{"syncVendor"} }
func (f *fakeVendors) Lookup(name string) (vendor.Config, bool) {
	if name != "syncVendor" {
		return vendor.Config{}, false
	}
	return vendor.Config{Name: "syncVendor"}, true
}
func (f *fakeVendors) BreakerStats(name string) (breaker.Stats, bool) {
	return breaker.Stats{State: breaker.StateClosed}, true
}
func (f *fakeVendors) RateLimitTokens(name string) (float64, bool) { return 42, true }

type fakeWebhook struct {
	err error
}

func (f *fakeWebhook) OnWebhook(ctx context.Context, vendor string, body webhook.Body) error {
	return f.err
}

func newTestRouter(store *fakeStore, queue *fakeQueue, cache *fakeCache, vendors *fakeVendors, wh *fakeWebhook) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return SetupRouter(&Dependencies{
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Store:   store,
		Queue:   queue,
		Cache:   cache,
		Vendors: vendors,
		Webhook: wh,
	})
}

func TestCreateJob_Success(t *testing.T) {
	store := &fakeStore{}
	queue := &fakeQueue{}
	r := newTestRouter(store, queue, &fakeCache{}, &fakeVendors{}, &fakeWebhook{})

	req := httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader(`{"type":"sync"}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp createJobResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.RequestID)
	require.Len(t, queue.enqueued, 1)
	require.Contains(t, store.jobs, resp.RequestID)
}

func TestCreateJob_RejectsNonObjectBody(t *testing.T) {
	r := newTestRouter(&fakeStore{}, &fakeQueue{}, &fakeCache{}, &fakeVendors{}, &fakeWebhook{})

	req := httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader(`[1,2,3]`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetJob_NotFound(t *testing.T) {
	r := newTestRouter(&fakeStore{}, &fakeQueue{}, &fakeCache{}, &fakeVendors{}, &fakeWebhook{})

	req := httptest.NewRequest(http.MethodGet, "/jobs/550e8400-e29b-41d4-a716-446655440000", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetJob_CacheHitSkipsStore(t *testing.T) {
	cached := &job.Job{RequestID: "r1", Status: job.StatusComplete, Result: json.RawMessage(`{"ok":true}`)}
	cache := &fakeCache{store: map[string]*job.Job{"r1": cached}}
	r := newTestRouter(&fakeStore{}, &fakeQueue{}, cache, &fakeVendors{}, &fakeWebhook{})

	req := httptest.NewRequest(http.MethodGet, "/jobs/r1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp jobStatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, job.StatusComplete, resp.Status)
}

func TestOnVendorWebhook_MissingRequestID(t *testing.T) {
	wh := &fakeWebhook{err: webhook.ErrMissingRequestID}
	r := newTestRouter(&fakeStore{}, &fakeQueue{}, &fakeCache{}, &fakeVendors{}, wh)

	req := httptest.NewRequest(http.MethodPost, "/vendor-webhook/asyncVendor", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOnVendorWebhook_IllegalTransitionIsBadRequest(t *testing.T) {
	wh := &fakeWebhook{err: job.NewValidationError("illegal transition from complete to pending")}
	r := newTestRouter(&fakeStore{}, &fakeQueue{}, &fakeCache{}, &fakeVendors{}, wh)

	req := httptest.NewRequest(http.MethodPost, "/vendor-webhook/asyncVendor", strings.NewReader(`{"requestId":"r1","status":"pending"}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOnVendorWebhook_Success(t *testing.T) {
	r := newTestRouter(&fakeStore{}, &fakeQueue{}, &fakeCache{}, &fakeVendors{}, &fakeWebhook{})

	req := httptest.NewRequest(http.MethodPost, "/vendor-webhook/asyncVendor", strings.NewReader(`{"requestId":"r1","status":"complete"}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
}

func TestHealth_DegradedWhenVendorDown(t *testing.T) {
	store := &fakeStore{healthy: true}
	vendors := &fakeVendors{health: map[string]bool{"syncVendor": false}}
	r := newTestRouter(store, &fakeQueue{}, &fakeCache{}, vendors, &fakeWebhook{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp healthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "degraded", resp.Status)
}

func TestVendorStats_UnknownVendor(t *testing.T) {
	r := newTestRouter(&fakeStore{}, &fakeQueue{}, &fakeCache{}, &fakeVendors{}, &fakeWebhook{})

	req := httptest.NewRequest(http.MethodGet, "/vendors/nope/stats", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestUnknownRoute(t *testing.T) {
	r := newTestRouter(&fakeStore{}, &fakeQueue{}, &fakeCache{}, &fakeVendors{}, &fakeWebhook{})

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "Not found", body["error"])
}
