package controller

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"go-pipe-copier/internal/config"
	"go-pipe-copier/internal/copier"
	"go-pipe-copier/internal/endpoint"
	"go-pipe-copier/internal/listener"
	"go-pipe-copier/internal/models"
	"go-pipe-copier/internal/queue"
	"go-pipe-copier/internal/worker"
)

// Startup failures. They are returned before any goroutine is started.
var (
	ErrDestination = errors.New("destination directory unavailable")
	ErrEndpoint    = errors.New("cannot create endpoint")
	ErrLocked      = errors.New("another copier is already serving this endpoint")
)

type Stats struct {
	Listener listener.Stats
	Workers  worker.Stats
}

// Controller owns the queue and every goroutine that touches it.
type Controller struct {
	cfg      *config.Config
	queue    *queue.BoundedQueue[models.WorkItem]
	listener *listener.Listener
	pool     worker.WorkerPoolService
	lock     *flock.Flock

	group  *errgroup.Group
	cancel context.CancelFunc

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// New validates the destination, takes the endpoint lock, builds the queue and
// creates the endpoint. Nothing runs until Start.
func New(cfg *config.Config) (*Controller, error) {
	info, err := os.Stat(cfg.DestinationDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDestination, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrDestination, cfg.DestinationDir)
	}

	lock := flock.New(cfg.EndpointPath + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("%w: acquire lock: %w", ErrEndpoint, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, cfg.EndpointPath)
	}

	q, err := queue.New[models.WorkItem](cfg.QueueCapacity)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}

	ep := endpoint.NewFIFO(cfg.EndpointPath, cfg.AcceptPollInterval.Duration)
	l := listener.NewListener(ep, q, listener.Options{
		ReadBufferSize:   cfg.ReadBufferSize,
		MaxNameLength:    cfg.MaxNameLength,
		PollInterval:     cfg.AcceptPollInterval.Duration,
		AcceptMaxElapsed: cfg.AcceptMaxElapsed.Duration,
	})
	if err := l.Prepare(); err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("%w: %w", ErrEndpoint, err)
	}

	return &Controller{
		cfg:        cfg,
		queue:      q,
		listener:   l,
		lock:       lock,
		shutdownCh: make(chan struct{}),
	}, nil
}

// Start spawns the listener and the workers. Cancelling ctx is a forced stop:
// pending items are abandoned rather than copied.
func (c *Controller) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.pool = worker.NewWorkerPool(runCtx, c.cfg.WorkerCount, c.cfg.CopySlots,
		copier.NewCopier(c.cfg.DestinationDir, c.cfg.MaxCopiesPerSecond), c.queue)

	c.group = &errgroup.Group{}
	c.group.Go(func() error {
		err := c.listener.Run(runCtx)
		if err != nil {
			// without a listener nothing new arrives; drain what is queued and stop
			slog.Error("Listener failed, shutting down", "error", err)
			c.Shutdown()
		}
		return err
	})
	if err := c.pool.Init(); err != nil {
		c.Shutdown()
		return err
	}
	c.group.Go(func() error {
		c.pool.Wait()
		return nil
	})
	slog.Info("Copier running", "endpoint", c.cfg.EndpointPath, "dest", c.cfg.DestinationDir,
		"capacity", c.queue.Cap(), "workers", c.cfg.WorkerCount)
	return nil
}

// RunOperator reads operator commands from r until the exit command, end of
// input, or shutdown by other means. Any other line is ignored.
func (c *Controller) RunOperator(r io.Reader) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-c.shutdownCh:
				return
			}
		}
		if err := scanner.Err(); err != nil {
			slog.Warn("Failed to read operator input", "error", err)
		}
	}()

	for {
		select {
		case <-c.shutdownCh:
			return
		case line, ok := <-lines:
			if !ok {
				slog.Info("Operator input closed, shutting down")
				c.Shutdown()
				return
			}
			if strings.TrimSpace(line) == c.cfg.ExitCommand {
				slog.Info("Exit command received, shutting down")
				c.Shutdown()
				return
			}
			slog.Debug("Ignoring operator input", "line", line)
		}
	}
}

// Shutdown closes the queue. Workers drain what is left, the listener stops at
// its next enqueue or between sessions. Safe to call more than once.
func (c *Controller) Shutdown() {
	c.shutdownOnce.Do(func() {
		slog.Info("Closing queue", "pending", c.queue.Len())
		c.queue.Close()
		close(c.shutdownCh)
	})
}

// ForceStop closes the queue and abandons items that have not been copied yet.
func (c *Controller) ForceStop() {
	c.Shutdown()
	if c.pool != nil {
		c.pool.Stop()
	}
	if c.cancel != nil {
		c.cancel()
	}
}

// Done is closed once Shutdown has been called.
func (c *Controller) Done() <-chan struct{} {
	return c.shutdownCh
}

// Wait joins every goroutine started by Start and releases the endpoint lock.
func (c *Controller) Wait() (Stats, error) {
	err := c.group.Wait()
	if c.cancel != nil {
		c.cancel()
	}
	if unlockErr := c.lock.Unlock(); unlockErr != nil {
		slog.Warn("Failed to release endpoint lock", "error", unlockErr)
	}

	stats := Stats{Listener: c.listener.Stats(), Workers: c.pool.Stats()}
	slog.Info("Copier stopped",
		"sessions", stats.Listener.Sessions,
		"enqueued", stats.Listener.Enqueued,
		"dropped", stats.Listener.Dropped,
		"copied", stats.Workers.Copied,
		"failed", stats.Workers.Failed)
	return stats, err
}
