package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"go-pipe-copier/internal/copier"
	"go-pipe-copier/internal/models"
	"go-pipe-copier/internal/queue"
)

type WorkerPoolService interface {
	Init() error
	Wait() Stats
	Stop()
	Stats() Stats
}

type Stats struct {
	Copied  int64
	Failed  int64
	Bytes   int64
	Workers int
}

type WorkerPool struct {
	workers       []WorkerService
	wg            sync.WaitGroup // tracks running workers, Wait returns once each saw the queue drained
	cancelWorkers context.CancelFunc
	sem           *semaphore.Weighted

	copied atomic.Int64
	failed atomic.Int64
	bytes  atomic.Int64
}

// NewWorkerPool builds workerCount workers sharing qs. copySlots bounds how many
// copies run at the same time; values <= 0 mean one slot per worker.
func NewWorkerPool(ctx context.Context, workerCount, copySlots int, cs copier.CopierService, qs queue.QueueService[models.WorkItem]) *WorkerPool {
	if copySlots <= 0 || copySlots > workerCount {
		copySlots = workerCount
	}
	workerCtx, cancel := context.WithCancel(ctx)
	pool := &WorkerPool{
		workers:       make([]WorkerService, workerCount),
		cancelWorkers: cancel,
		sem:           semaphore.NewWeighted(int64(copySlots)),
	}

	for i := 0; i < workerCount; i++ {
		pool.workers[i] = NewWorker(workerCtx, i+1, cs, qs, pool.sem, pool.record)
	}

	return pool
}

func (wp *WorkerPool) Init() error {
	exitWorker := func() { // use a closure to give access to the worker to the wg.Done function without passing the waitgroup
		wp.wg.Done()
	}
	for _, worker := range wp.workers {
		wp.wg.Add(1)
		go worker.Run(exitWorker)
	}
	slog.Info("Worker pool started", "workers", len(wp.workers))
	return nil
}

// Wait blocks until every worker has exited, which happens once the queue is
// closed and drained.
func (wp *WorkerPool) Wait() Stats {
	wp.wg.Wait()
	wp.cancelWorkers()
	stats := wp.Stats()
	slog.Info("All workers stopped", "copied", stats.Copied, "failed", stats.Failed, "bytes", stats.Bytes)
	return stats
}

// Stop makes the workers abandon whatever is left in the queue instead of
// copying it. It does not wait: the queue still has to be closed for the
// workers to exit, and Wait joins them.
func (wp *WorkerPool) Stop() {
	slog.Info("Stopping worker pool...")
	wp.cancelWorkers()
}

func (wp *WorkerPool) Stats() Stats {
	return Stats{
		Copied:  wp.copied.Load(),
		Failed:  wp.failed.Load(),
		Bytes:   wp.bytes.Load(),
		Workers: len(wp.workers),
	}
}

func (wp *WorkerPool) record(res models.CopyResult) {
	if res.Err != nil {
		wp.failed.Add(1)
		return
	}
	wp.copied.Add(1)
	wp.bytes.Add(res.Written)
}
