package worker

import (
	"context"
	"log/slog"

	"golang.org/x/sync/semaphore"

	"go-pipe-copier/internal/copier"
	"go-pipe-copier/internal/models"
	"go-pipe-copier/internal/queue"
)

type WorkerService interface {
	Run(exitWorker func())
}

type Worker struct {
	id     int
	ctx    context.Context
	copier copier.CopierService
	queue  queue.QueueService[models.WorkItem]
	slots  *semaphore.Weighted
	report func(models.CopyResult)
}

func NewWorker(ctx context.Context, id int, cs copier.CopierService, qs queue.QueueService[models.WorkItem], slots *semaphore.Weighted, report func(models.CopyResult)) *Worker {
	return &Worker{
		id:     id,
		ctx:    ctx,
		copier: cs,
		queue:  qs,
		slots:  slots,
		report: report,
	}
}

// Run copies items until the queue is closed and empty. A failed copy is logged
// and the worker moves on to the next item.
func (w *Worker) Run(exitWorker func()) {
	defer exitWorker()
	slog.Info("Started worker Run", "workerID", w.id)
	for {
		item, ok := w.queue.Dequeue()
		if !ok {
			slog.Info("Queue closed and drained, worker exiting", "workerID", w.id)
			return
		}
		res := w.HandleItem(item)
		if w.report != nil {
			w.report(res)
		}
	}
}

func (w *Worker) HandleItem(item models.WorkItem) models.CopyResult {
	res := models.CopyResult{Item: item}

	// once the pool is force-stopped the remaining items are drained without copying
	if err := w.ctx.Err(); err != nil {
		res.Err = err
		slog.Warn("Abandoning item on forced stop", "workerID", w.id, "itemID", item.ID, "path", item.Path)
		return res
	}
	if err := w.slots.Acquire(w.ctx, 1); err != nil {
		res.Err = err
		slog.Warn("Abandoning item on forced stop", "workerID", w.id, "itemID", item.ID, "path", item.Path)
		return res
	}
	defer w.slots.Release(1)

	slog.Info("Copying file", "workerID", w.id, "itemID", item.ID, "path", item.Path)
	res.Dest, res.Written, res.Err = w.copier.Copy(w.ctx, item)
	if res.Err != nil {
		slog.Error("Failed to copy file", "workerID", w.id, "itemID", item.ID, "path", item.Path, "error", res.Err)
		return res
	}
	slog.Info("Copied file", "workerID", w.id, "itemID", item.ID, "dest", res.Dest, "bytes", res.Written)
	return res
}
