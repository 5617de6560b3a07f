package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// loopErrorBackoff is how long a worker goroutine sleeps after a
// loop-level queue error before retrying, so a persistently failing
// backend doesn't spin the loop at full CPU.
const loopErrorBackoff = 5 * time.Second

// spawnWorkerPool spawns the configured number of worker goroutines.
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
	w.logger.Info("worker pool spawned", slog.Int("worker_count", w.concurrency))
}

// workerLoop repeatedly polls the queue for this consumer's share of
// messages and processes them one at a time.
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	consumerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	w.logger.Info("worker goroutine started", slog.String("consumer", consumerName))

	for {
		select {
		case <-w.stopChan:
			w.logger.Info("worker goroutine stopping - stop requested", slog.String("consumer", consumerName))
			return
		case <-ctx.Done():
			w.logger.Info("worker goroutine stopping - context canceled", slog.String("consumer", consumerName))
			return
		default:
		}

		msgs, err := w.queue.Consume(ctx, w.consumerGroup, consumerName, w.batchSize, w.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue consume failed", slog.String("consumer", consumerName), slog.Any("error", err))

			select {
			case <-w.stopChan:
				w.logger.Info("worker goroutine stopping - stop requested", slog.String("consumer", consumerName))
				return
			case <-ctx.Done():
				w.logger.Info("worker goroutine stopping - context canceled", slog.String("consumer", consumerName))
				return
			case <-time.After(loopErrorBackoff):
			}
			continue
		}

		for _, msg := range msgs {
			err := w.processJob(ctx, msg)
			if err != nil {
				w.logger.Error("job processing failed",
					slog.String("consumer", consumerName),
					slog.String("request_id", msg.RequestID),
					slog.Any("error", err),
				)
			}

			var preDispatchErr *preDispatchError
			if errors.As(err, &preDispatchErr) {
				// The job never reached the vendor: leave the message
				// unacked so it is redelivered instead of stranding a
				// pending job with nothing left to recover it.
				w.logger.Warn("leaving message unacked for redelivery",
					slog.String("consumer", consumerName),
					slog.String("request_id", msg.RequestID),
				)
				continue
			}

			// Unconditional ack once the vendor has been invoked (§4.7 step
			// h): redelivery past that point would risk a duplicate
			// dispatch, which is worse than losing this delivery attempt.
			if err := w.queue.Ack(ctx, w.consumerGroup, msg.MessageID); err != nil {
				w.logger.Error("ack failed",
					slog.String("consumer", consumerName),
					slog.String("message_id", msg.MessageID),
					slog.Any("error", err),
				)
			}
		}
	}
}
