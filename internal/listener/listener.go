package listener

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"

	"go-pipe-copier/internal/endpoint"
	"go-pipe-copier/internal/models"
	"go-pipe-copier/internal/queue"
)

type Options struct {
	ReadBufferSize   int
	MaxNameLength    int
	PollInterval     time.Duration // how often blocked accepts and reads re-check shutdown
	AcceptMaxElapsed time.Duration // 0 retries failed accepts forever
}

type Stats struct {
	Sessions int64
	Enqueued int64
	Dropped  int64
}

// Listener receives filenames on an endpoint and feeds them into the queue.
// It stops for good the first time an enqueue is refused, or when it finds the
// queue closed between sessions.
type Listener struct {
	endpoint endpoint.Endpoint
	queue    queue.QueueService[models.WorkItem]
	opts     Options

	sessions atomic.Int64
	enqueued atomic.Int64
	dropped  atomic.Int64
}

func NewListener(ep endpoint.Endpoint, qs queue.QueueService[models.WorkItem], opts Options) *Listener {
	if opts.ReadBufferSize <= 0 {
		opts.ReadBufferSize = 4096
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 250 * time.Millisecond
	}
	return &Listener{
		endpoint: ep,
		queue:    qs,
		opts:     opts,
	}
}

// Prepare creates the endpoint. It runs before any goroutine is started so a
// failure can abort startup.
func (l *Listener) Prepare() error {
	return l.endpoint.Create()
}

func (l *Listener) Run(ctx context.Context) error {
	slog.Info("Listener started", "endpoint", l.endpoint.Path())
	defer l.cleanup()

	for {
		if l.stopping(ctx) {
			slog.Info("Queue no longer open, listener not waiting for new connections")
			return nil
		}

		sess, err := l.accept(ctx)
		if err != nil {
			if errors.Is(err, endpoint.ErrStopped) || ctx.Err() != nil {
				slog.Info("Listener stopped while waiting for a connection")
				return nil
			}
			return fmt.Errorf("accept on %s: %w", l.endpoint.Path(), err)
		}

		id := l.sessions.Add(1)
		slog.Info("Peer connected", "session", id)
		done := l.receive(ctx, sess, id)
		if err := sess.Close(); err != nil {
			slog.Warn("Failed to close session", "session", id, "error", err)
		}
		if done {
			return nil
		}
	}
}

func (l *Listener) Stats() Stats {
	return Stats{
		Sessions: l.sessions.Load(),
		Enqueued: l.enqueued.Load(),
		Dropped:  l.dropped.Load(),
	}
}

// accept waits for the next peer, retrying failed opens with exponential backoff.
func (l *Listener) accept(ctx context.Context) (endpoint.Session, error) {
	var sess endpoint.Session
	var stopErr error

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = l.opts.PollInterval
	expBackoff.MaxInterval = 10 * time.Second
	expBackoff.MaxElapsedTime = l.opts.AcceptMaxElapsed

	operation := func() error {
		// a failing open never reaches the endpoint's own stop check
		if l.stopping(ctx) {
			stopErr = endpoint.ErrStopped
			return nil
		}
		s, err := l.endpoint.Accept(ctx, func() bool { return l.stopping(ctx) })
		if err != nil {
			if errors.Is(err, endpoint.ErrStopped) || ctx.Err() != nil {
				stopErr = err
				return nil
			}
			// the pipe was deleted underneath us, put it back before the next try
			if errors.Is(err, fs.ErrNotExist) {
				if createErr := l.endpoint.Create(); createErr != nil {
					return createErr
				}
			}
			return err
		}
		sess = s
		return nil
	}
	notify := func(err error, next time.Duration) {
		slog.Warn("Failed to open endpoint, will retry", "endpoint", l.endpoint.Path(), "retryIn", next, "error", err)
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(expBackoff, ctx), notify); err != nil {
		return nil, err
	}
	if stopErr != nil {
		return nil, stopErr
	}
	return sess, nil
}

// receive reads one session to its end. It reports true when the listener
// must not accept another connection.
func (l *Listener) receive(ctx context.Context, sess endpoint.Session, id int64) bool {
	splitter := NewSplitter(l.opts.MaxNameLength)
	buf := make([]byte, l.opts.ReadBufferSize)

	for {
		if err := sess.SetReadDeadline(time.Now().Add(l.opts.PollInterval)); err != nil {
			slog.Debug("Session does not support read deadlines", "session", id, "error", err)
		}
		n, err := sess.Read(buf)
		if n > 0 {
			for _, name := range splitter.Feed(buf[:n]) {
				if !l.enqueue(name, id) {
					return true
				}
			}
		}

		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			if name, ok := splitter.Flush(); ok {
				if !l.enqueue(name, id) {
					return true
				}
			}
			slog.Info("Peer disconnected", "session", id)
			return l.stopping(ctx)
		case errors.Is(err, os.ErrDeadlineExceeded):
			if l.stopping(ctx) {
				slog.Warn("Abandoning session on shutdown", "session", id, "pendingBytes", splitter.Pending())
				return true
			}
		default:
			slog.Error("Failed to read from endpoint, restarting session", "session", id, "error", err)
			return l.stopping(ctx)
		}
	}
}

// enqueue hands a parsed filename to the queue. A refused item is dropped here,
// it is never retried.
func (l *Listener) enqueue(name string, session int64) bool {
	item := models.NewWorkItem(name)
	if err := l.queue.Enqueue(item); err != nil {
		l.dropped.Add(1)
		slog.Warn("Queue closed, dropping filename and stopping listener", "session", session, "path", name, "error", err)
		return false
	}
	l.enqueued.Add(1)
	slog.Info("Enqueued file", "session", session, "itemID", item.ID, "path", name)
	return true
}

func (l *Listener) stopping(ctx context.Context) bool {
	return ctx.Err() != nil || l.queue.State() != queue.Open
}

func (l *Listener) cleanup() {
	if err := l.endpoint.Remove(); err != nil {
		slog.Error("Failed to remove endpoint", "endpoint", l.endpoint.Path(), "error", err)
		return
	}
	slog.Info("Listener exited, endpoint removed", "endpoint", l.endpoint.Path())
}
