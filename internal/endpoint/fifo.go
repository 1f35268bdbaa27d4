package endpoint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

const fifoMode = 0o666

var (
	// ErrNotFIFO is returned by Create when something other than a named pipe
	// already sits at the endpoint path.
	ErrNotFIFO = errors.New("endpoint path exists and is not a named pipe")
	// ErrStopped is returned by Accept when the stop callback asked it to give up.
	ErrStopped = errors.New("accept stopped")
)

// Session is one connected writer. Reads return io.EOF once the writer hangs up.
type Session interface {
	io.ReadCloser
	SetReadDeadline(t time.Time) error
}

// Endpoint is the rendezvous point the listener receives filenames on.
type Endpoint interface {
	Create() error
	// Accept blocks until a peer connects or ctx is done. stop is polled every
	// poll interval so callers can abandon the wait without cancelling ctx.
	Accept(ctx context.Context, stop func() bool) (Session, error)
	Remove() error
	Path() string
}

// FIFO is an Endpoint backed by a named pipe on the local filesystem.
//
// Closing a session does not close its read descriptor right away: it is held
// until the next Accept has opened a new one, so the pipe always has a reader
// between sessions and a writer that connects in that gap keeps its data.
type FIFO struct {
	path         string
	pollInterval time.Duration

	mu   sync.Mutex
	held *os.File
}

// fifoSession hands its descriptor back to the FIFO on Close.
type fifoSession struct {
	*os.File
	owner *FIFO
	once  sync.Once
}

func (s *fifoSession) Close() error {
	s.once.Do(func() { s.owner.hold(s.File) })
	return nil
}

func NewFIFO(path string, pollInterval time.Duration) *FIFO {
	if pollInterval <= 0 {
		pollInterval = 250 * time.Millisecond
	}
	return &FIFO{path: path, pollInterval: pollInterval}
}

func (f *FIFO) Path() string {
	return f.path
}

// Create makes the named pipe. An existing pipe at the same path is reused.
func (f *FIFO) Create() error {
	err := unix.Mkfifo(f.path, fifoMode)
	if err == nil {
		slog.Debug("Created named pipe", "path", f.path)
		return nil
	}
	if !errors.Is(err, unix.EEXIST) {
		return fmt.Errorf("mkfifo %s: %w", f.path, err)
	}
	info, statErr := os.Stat(f.path)
	if statErr != nil {
		return fmt.Errorf("stat %s: %w", f.path, statErr)
	}
	if info.Mode()&fs.ModeNamedPipe == 0 {
		return fmt.Errorf("%s: %w", f.path, ErrNotFIFO)
	}
	slog.Debug("Reusing existing named pipe", "path", f.path)
	return nil
}

// Accept opens the read side without blocking and then polls until a writer
// shows up. A plain blocking open cannot be interrupted, which would leave the
// listener stuck during shutdown when no writer ever connects again.
func (f *FIFO) Accept(ctx context.Context, stop func() bool) (Session, error) {
	fd, err := unix.Open(f.path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.path, err)
	}
	// the new descriptor keeps the pipe alive now
	f.release()

	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	timeout := int(f.pollInterval / time.Millisecond)
	for {
		if err := ctx.Err(); err != nil {
			unix.Close(fd)
			return nil, err
		}
		if stop != nil && stop() {
			unix.Close(fd)
			return nil, ErrStopped
		}

		n, err := unix.Poll(fds, timeout)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			unix.Close(fd)
			return nil, fmt.Errorf("poll %s: %w", f.path, err)
		}
		// POLLHUP without POLLIN means a writer came and went without sending
		// anything; the session still exists and will read as EOF.
		if n > 0 && fds[0].Revents&(unix.POLLIN|unix.POLLHUP) != 0 {
			break
		}
	}

	// fd is non-blocking, so the returned file is pollable and honours deadlines.
	file := os.NewFile(uintptr(fd), f.path)
	if file == nil {
		unix.Close(fd)
		return nil, fmt.Errorf("wrap %s: invalid descriptor", f.path)
	}
	return &fifoSession{File: file, owner: f}, nil
}

func (f *FIFO) hold(file *os.File) {
	f.mu.Lock()
	prev := f.held
	f.held = file
	f.mu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}
}

func (f *FIFO) release() {
	f.mu.Lock()
	prev := f.held
	f.held = nil
	f.mu.Unlock()
	if prev != nil {
		if err := prev.Close(); err != nil {
			slog.Debug("Failed to close previous session", "path", f.path, "error", err)
		}
	}
}

// Remove closes any held read descriptor and deletes the named pipe. A pipe
// that is already gone is not an error.
func (f *FIFO) Remove() error {
	f.release()
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", f.path, err)
	}
	return nil
}
