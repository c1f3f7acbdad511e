package entitlement

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/plugkit/entitlement/pkg/logger"
	"github.com/plugkit/entitlement/pkg/plan"
)

// recordTask is one pending usage increment.
type recordTask struct {
	TenantID uuid.UUID
	PluginID string
	Metric   plan.Metric
	Amount   int64
}

// recorder runs usage recording detached from the triggering request.
// Submission never blocks: when the buffer is full the task is dropped and
// logged. Processing failures are logged, never surfaced.
type recorder struct {
	tasks   chan recordTask
	process func(ctx context.Context, task recordTask) error
	log     *slog.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
	once   sync.Once
}

func newRecorder(buffer, workers int, process func(ctx context.Context, task recordTask) error, log *slog.Logger) *recorder {
	if buffer <= 0 {
		buffer = 1024
	}
	if workers <= 0 {
		workers = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &recorder{
		tasks:   make(chan recordTask, buffer),
		process: process,
		log:     log,
		cancel:  cancel,
	}

	for range workers {
		r.wg.Add(1)
		go r.run(ctx)
	}
	return r
}

func (r *recorder) run(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-r.tasks:
			if err := r.process(ctx, task); err != nil {
				r.log.ErrorContext(ctx, "usage recording failed",
					logger.TenantID(task.TenantID),
					logger.PluginID(task.PluginID),
					logger.Metric(string(task.Metric)),
					slog.Int64("amount", task.Amount),
					logger.Error(err))
			}
		}
	}
}

// submit enqueues a task without blocking. Returns false when the buffer is
// full and the task was dropped.
func (r *recorder) submit(task recordTask) bool {
	select {
	case r.tasks <- task:
		return true
	default:
		return false
	}
}

// close stops the workers. Buffered tasks not yet picked up are dropped,
// which is acceptable for best-effort metering.
func (r *recorder) close() {
	r.once.Do(func() {
		r.cancel()
		r.wg.Wait()
	})
}
