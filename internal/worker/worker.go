// Package worker implements the consumer-group worker pool of spec §4.7:
// dequeue from the job queue, mark processing, dispatch to a vendor, and
// finalize or wait for a webhook, following the teacher's worker-goroutine
// pool pattern adapted from amqp091-go deliveries to queue.Consume/Ack.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/vendordispatch/internal/cache"
	"github.com/cuongbtq/vendordispatch/internal/job"
	"github.com/cuongbtq/vendordispatch/internal/queue"
	"github.com/cuongbtq/vendordispatch/internal/store"
	"github.com/cuongbtq/vendordispatch/internal/vendor"
)

// Store is the subset of internal/store's Store this package consumes,
// declared locally so tests can supply a fake.
type Store interface {
	FindByID(ctx context.Context, requestID string) (*job.Job, error)
	UpdateStatus(ctx context.Context, requestID string, status job.Status, vendor string) error
	UpdateResult(ctx context.Context, requestID string, status job.Status, result json.RawMessage, errMsg *string) error
}

// Queue is the subset of internal/queue's Queue this package consumes.
type Queue interface {
	Consume(ctx context.Context, group, consumer string, count int64, blockFor time.Duration) ([]queue.Message, error)
	Ack(ctx context.Context, group, messageID string) error
}

// Vendors is the subset of internal/vendor's Client this package consumes.
type Vendors interface {
	Call(ctx context.Context, vendorName, requestID string, payload json.RawMessage) (vendor.Result, error)
}

// Cache is the subset of internal/cache's Cache this package consumes.
type Cache interface {
	Invalidate(ctx context.Context, requestID string)
}

var (
	_ Store   = (*store.Store)(nil)
	_ Queue   = (*queue.Queue)(nil)
	_ Cache   = (*cache.Cache)(nil)
	_ Vendors = (*vendor.Client)(nil)
)

// Config holds worker pool configuration.
type Config struct {
	Logger        *slog.Logger
	Store         Store
	Queue         Queue
	Cache         Cache
	Vendors       Vendors
	ConsumerGroup string
	WorkerID      string
	Concurrency   int
	BatchSize     int64
	PollTimeout   time.Duration
}

// Worker runs a pool of goroutines consuming the job queue.
type Worker struct {
	logger        *slog.Logger
	store         Store
	queue         Queue
	cache         Cache
	vendors       Vendors
	consumerGroup string
	workerID      string
	concurrency   int
	batchSize     int64
	pollTimeout   time.Duration
	wg            sync.WaitGroup
	stopChan      chan struct{}
}

// New creates a Worker from cfg, filling in the teacher's defaults for any
// zero-valued tunable.
func New(cfg Config) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 5 * time.Second
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = "worker"
	}
	return &Worker{
		logger:        cfg.Logger,
		store:         cfg.Store,
		queue:         cfg.Queue,
		cache:         cfg.Cache,
		vendors:       cfg.Vendors,
		consumerGroup: cfg.ConsumerGroup,
		workerID:      cfg.WorkerID,
		concurrency:   cfg.Concurrency,
		batchSize:     cfg.BatchSize,
		pollTimeout:   cfg.PollTimeout,
		stopChan:      make(chan struct{}),
	}
}

// Start spawns the worker pool and blocks until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("starting worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("consumer_group", w.consumerGroup),
	)
	w.spawnWorkerPool(ctx)
	<-ctx.Done()
	w.logger.Info("worker pool context canceled, stopping")
}

// Stop signals every worker goroutine to exit and waits for them to drain.
func (w *Worker) Stop() {
	w.logger.Info("stopping worker pool")
	close(w.stopChan)
	w.wg.Wait()
	w.logger.Info("worker pool stopped")
}
