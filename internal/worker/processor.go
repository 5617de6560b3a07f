package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/cuongbtq/vendordispatch/internal/job"
	"github.com/cuongbtq/vendordispatch/internal/queue"
)

// SyncVendorName and AsyncVendorName are the two vendor registry entries
// selectVendor chooses between. A registry may hold more than two vendors,
// but these are the names the type-based selection in §4.7(b) resolves to.
const (
	SyncVendorName  = "syncVendor"
	AsyncVendorName = "asyncVendor"
)

type payloadEnvelope struct {
	Type string `json:"type"`
}

// selectVendor is pure: it inspects only the payload's "type" field.
// payload.type == "sync" or absent selects the sync vendor; anything else
// selects the async vendor.
func selectVendor(payload json.RawMessage) string {
	var env payloadEnvelope
	if len(payload) > 0 {
		_ = json.Unmarshal(payload, &env)
	}
	if env.Type == "" || env.Type == "sync" {
		return SyncVendorName
	}
	return AsyncVendorName
}

// preDispatchError marks an infrastructure failure that happened before
// the vendor was ever invoked. pool.go uses it to leave the queue message
// unacked so it is redelivered, instead of discarding a pending job that
// never got a chance to dispatch.
type preDispatchError struct {
	err error
}

func (e *preDispatchError) Error() string { return e.err.Error() }
func (e *preDispatchError) Unwrap() error { return e.err }

// processJob implements spec §4.7 steps (a)-(h) for a single dequeued
// message. It never returns an error for business-level outcomes (vendor
// failures become a "failed" job, not a processing error). Errors that
// occur before the vendor is dispatched are wrapped in preDispatchError so
// the caller knows redelivery, not an ack, is the safe response; errors
// after dispatch has happened are returned plain and still acked, since
// redelivery at that point risks a duplicate vendor call (§4.7(h), §9).
func (w *Worker) processJob(ctx context.Context, msg queue.Message) error {
	j, err := w.store.FindByID(ctx, msg.RequestID)
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			w.logger.Warn("dequeued message for unknown job", slog.String("request_id", msg.RequestID))
			return nil
		}
		return &preDispatchError{err}
	}

	// Idempotency guard: a terminal job must never be re-dispatched, even
	// if the queue redelivered this message after a crash between dispatch
	// and ack.
	if j.Status.IsTerminal() {
		w.logger.Info("skipping vendor call for already-terminal job", slog.String("request_id", msg.RequestID))
		return nil
	}

	vendorName := selectVendor(j.Payload)
	if err := w.store.UpdateStatus(ctx, msg.RequestID, job.StatusProcessing, vendorName); err != nil {
		return &preDispatchError{err}
	}
	w.cache.Invalidate(ctx, msg.RequestID)

	result, callErr := w.vendors.Call(ctx, vendorName, msg.RequestID, j.Payload)
	if callErr != nil {
		errMsg := callErr.Error()
		if uerr := w.store.UpdateResult(ctx, msg.RequestID, job.StatusFailed, nil, &errMsg); uerr != nil {
			return uerr
		}
		w.cache.Invalidate(ctx, msg.RequestID)
		return nil
	}

	if result.IsAsync {
		// Leave the job in processing; the webhook or the sweeper will
		// finalize it.
		return nil
	}

	if err := w.store.UpdateResult(ctx, msg.RequestID, job.StatusComplete, result.Data, nil); err != nil {
		return err
	}
	w.cache.Invalidate(ctx, msg.RequestID)
	return nil
}
