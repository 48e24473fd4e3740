package attendance

import (
	"context"
	"time"

	"go.uber.org/zap"

	"qrattend/internal/directory"
	"qrattend/internal/queue"
)

// Worker consumes reconciliation jobs and applies them to the directory.
type Worker struct {
	q       queue.Queue
	dir     directory.Directory
	log     *zap.Logger
	timeout time.Duration
}

// NewWorker creates a worker. timeout bounds each directory round trip.
func NewWorker(q queue.Queue, dir directory.Directory, log *zap.Logger, timeout time.Duration) *Worker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{q: q, dir: dir, log: log, timeout: timeout}
}

// Run processes jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	messages, err := w.q.Consume(ctx)
	if err != nil {
		return err
	}
	w.log.Info("reconcile worker started")
	for msg := range messages {
		if msg.Type != JobReconcile {
			w.log.Debug("ignoring job", zap.String("type", msg.Type))
			continue
		}
		var up StudentUpsert
		if err := msg.Decode(&up); err != nil {
			w.log.Warn("malformed reconcile job", zap.Error(err))
			continue
		}
		jobCtx, cancel := context.WithTimeout(ctx, w.timeout)
		reconcileLogged(jobCtx, w.dir, w.log, up)
		cancel()
	}
	w.log.Info("reconcile worker stopped")
	return nil
}
