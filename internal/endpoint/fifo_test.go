package endpoint

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newTestFIFO(t *testing.T) *FIFO {
	t.Helper()
	f := NewFIFO(filepath.Join(t.TempDir(), "copier.pipe"), 20*time.Millisecond)
	require.NoError(t, f.Create())
	t.Cleanup(func() { _ = f.Remove() })
	return f
}

func TestCreateIsIdempotent(t *testing.T) {
	f := newTestFIFO(t)
	require.NoError(t, f.Create())

	info, err := os.Stat(f.Path())
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&fs.ModeNamedPipe)
}

func TestCreateRejectsRegularFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "regular")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	err := NewFIFO(path, 0).Create()
	assert.ErrorIs(t, err, ErrNotFIFO)
}

func TestRemove(t *testing.T) {
	f := newTestFIFO(t)
	require.NoError(t, f.Remove())
	_, err := os.Stat(f.Path())
	assert.ErrorIs(t, err, fs.ErrNotExist)
	require.NoError(t, f.Remove())
}

func TestAcceptReadsUntilWriterHangsUp(t *testing.T) {
	f := newTestFIFO(t)

	go func() {
		w, err := os.OpenFile(f.Path(), os.O_WRONLY, 0)
		if err != nil {
			t.Errorf("open writer: %v", err)
			return
		}
		_, _ = w.Write([]byte("one.txt\ntwo.txt\n"))
		_ = w.Close()
	}()

	s, err := f.Accept(context.Background(), nil)
	require.NoError(t, err)
	defer s.Close()

	got, err := io.ReadAll(s)
	require.NoError(t, err)
	assert.Equal(t, "one.txt\ntwo.txt\n", string(got))
}

func TestWriterBetweenSessionsKeepsData(t *testing.T) {
	f := newTestFIFO(t)
	writeNow := func(payload string) {
		t.Helper()
		// O_NONBLOCK fails with ENXIO instead of waiting when the pipe has no reader
		fd, err := unix.Open(f.Path(), unix.O_WRONLY|unix.O_NONBLOCK, 0)
		require.NoError(t, err, "pipe has no reader")
		_, err = unix.Write(fd, []byte(payload))
		require.NoError(t, err)
		require.NoError(t, unix.Close(fd))
	}

	go func() {
		w, err := os.OpenFile(f.Path(), os.O_WRONLY, 0)
		if err != nil {
			t.Errorf("open writer: %v", err)
			return
		}
		_, _ = w.Write([]byte("first.txt\n"))
		_ = w.Close()
	}()
	s, err := f.Accept(context.Background(), nil)
	require.NoError(t, err)
	got, err := io.ReadAll(s)
	require.NoError(t, err)
	assert.Equal(t, "first.txt\n", string(got))
	require.NoError(t, s.Close())

	// connects and hangs up before the next Accept
	writeNow("second.txt\n")

	s, err = f.Accept(context.Background(), nil)
	require.NoError(t, err)
	defer s.Close()
	got, err = io.ReadAll(s)
	require.NoError(t, err)
	assert.Equal(t, "second.txt\n", string(got))
}

func TestAcceptHonoursContext(t *testing.T) {
	f := newTestFIFO(t)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := f.Accept(ctx, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestAcceptHonoursStop(t *testing.T) {
	f := newTestFIFO(t)
	stopAt := time.Now().Add(60 * time.Millisecond)

	_, err := f.Accept(context.Background(), func() bool { return time.Now().After(stopAt) })
	assert.ErrorIs(t, err, ErrStopped)
}

func TestSessionReadDeadline(t *testing.T) {
	f := newTestFIFO(t)

	release := make(chan struct{})
	go func() {
		w, err := os.OpenFile(f.Path(), os.O_WRONLY, 0)
		if err != nil {
			t.Errorf("open writer: %v", err)
			return
		}
		_, _ = w.Write([]byte("a"))
		<-release
		_ = w.Close()
	}()
	defer close(release)

	s, err := f.Accept(context.Background(), nil)
	require.NoError(t, err)
	defer s.Close()

	buf := make([]byte, 8)
	n, err := s.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "a", string(buf[:n]))

	require.NoError(t, s.SetReadDeadline(time.Now().Add(30*time.Millisecond)))
	_, err = s.Read(buf)
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
}
