package sweeper

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/cuongbtq/vendordispatch/internal/job"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	jobs       []job.Job
	updated    map[string]job.Status
	updateErrs map[string]*string
}

func (f *fakeStore) FindByStatus(ctx context.Context, status job.Status, limit int) ([]job.Job, error) {
	var out []job.Job
	for _, j := range f.jobs {
		if j.Status == status {
			out = append(out, j)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateResult(ctx context.Context, requestID string, status job.Status, result json.RawMessage, errMsg *string) error {
	if f.updated == nil {
		f.updated = map[string]job.Status{}
		f.updateErrs = map[string]*string{}
	}
	f.updated[requestID] = status
	f.updateErrs[requestID] = errMsg
	return nil
}

type fakeCache struct {
	invalidated []string
}

func (f *fakeCache) Invalidate(ctx context.Context, requestID string) {
	f.invalidated = append(f.invalidated, requestID)
}

func TestSweepOnce_FailsStaleAsyncJobs(t *testing.T) {
	now := time.Date(2026, 8, 6, 12, 0, 0, 0, time.UTC)
	asyncVendor := "asyncVendor"
	syncVendor := "syncVendor"

	store := &fakeStore{jobs: []job.Job{
		{RequestID: "stale-async", Status: job.StatusProcessing, Vendor: &asyncVendor, UpdatedAt: now.Add(-10 * time.Minute)},
		{RequestID: "fresh-async", Status: job.StatusProcessing, Vendor: &asyncVendor, UpdatedAt: now.Add(-1 * time.Minute)},
		{RequestID: "stale-sync", Status: job.StatusProcessing, Vendor: &syncVendor, UpdatedAt: now.Add(-10 * time.Minute)},
		{RequestID: "no-vendor-yet", Status: job.StatusProcessing, UpdatedAt: now.Add(-10 * time.Minute)},
	}}
	cache := &fakeCache{}

	s := New(Config{
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Store:       store,
		Cache:       cache,
		AsyncVendor: asyncVendor,
		StaleAfter:  5 * time.Minute,
	})
	s.now = func() time.Time { return now }

	s.sweepOnce(context.Background())

	require.Equal(t, job.StatusFailed, store.updated["stale-async"])
	require.Equal(t, timeoutReason, *store.updateErrs["stale-async"])
	require.Contains(t, cache.invalidated, "stale-async")

	_, sweptFresh := store.updated["fresh-async"]
	require.False(t, sweptFresh)
	_, sweptSync := store.updated["stale-sync"]
	require.False(t, sweptSync)
	_, sweptNoVendor := store.updated["no-vendor-yet"]
	require.False(t, sweptNoVendor)
}

func TestSweepOnce_NoProcessingJobsIsNoop(t *testing.T) {
	store := &fakeStore{}
	cache := &fakeCache{}
	s := New(Config{
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Store:       store,
		Cache:       cache,
		AsyncVendor: "asyncVendor",
	})
	s.sweepOnce(context.Background())
	require.Empty(t, cache.invalidated)
}
