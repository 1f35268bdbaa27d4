package copier

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"go-pipe-copier/internal/models"
)

func TestDestinationPath(t *testing.T) {
	cases := []struct {
		src  string
		want string
	}{
		{"/var/data/report.txt", "/dest/report.txt"},
		{"report.txt", "/dest/report.txt"},
		{"rel/dir/a.bin", "/dest/a.bin"},
		{"/var/data/dir/", "/dest/dir"},
	}
	for _, tc := range cases {
		got, err := DestinationPath("/dest", tc.src)
		require.NoError(t, err, tc.src)
		assert.Equal(t, tc.want, got)
	}

	for _, bad := range []string{"", "/", ".", "..", "/tmp/.."} {
		_, err := DestinationPath("/dest", bad)
		assert.ErrorIs(t, err, ErrBadName, "%q", bad)
	}
}

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "dst.txt")
	require.NoError(t, os.WriteFile(src, []byte("hello world"), 0o644))
	require.NoError(t, os.WriteFile(dst, []byte("previous longer content"), 0o644))

	n, err := CopyFile(src, dst)
	require.NoError(t, err)
	assert.Equal(t, int64(11), n)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(got))
}

func TestCopyFileErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := CopyFile(filepath.Join(dir, "nope"), filepath.Join(dir, "dst"))
	assert.ErrorIs(t, err, fs.ErrNotExist)

	_, err = CopyFile(dir, filepath.Join(dir, "dst"))
	assert.ErrorIs(t, err, ErrNotRegular)

	src := filepath.Join(dir, "src")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))
	_, err = CopyFile(src, filepath.Join(dir, "missing-dir", "dst"))
	assert.Error(t, err)
}

func TestCopyFileRejectsNamedPipe(t *testing.T) {
	dir := t.TempDir()
	pipe := filepath.Join(dir, "incoming.pipe")
	require.NoError(t, unix.Mkfifo(pipe, 0o666))

	done := make(chan error, 1)
	go func() {
		_, err := CopyFile(pipe, filepath.Join(dir, "dst"))
		done <- err
	}()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrNotRegular)
	case <-time.After(2 * time.Second):
		t.Fatal("copy of a named pipe did not return")
	}
	_, err := os.Stat(filepath.Join(dir, "dst"))
	assert.ErrorIs(t, err, fs.ErrNotExist, "nothing created for a rejected source")
}

func TestCopyFileKeepsSourceWhenDestinationIsSameFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(src, []byte("keep me"), 0o644))

	_, err := CopyFile(src, src)
	assert.ErrorIs(t, err, ErrSameFile)

	link := filepath.Join(dir, "b.txt")
	require.NoError(t, os.Link(src, link))
	_, err = CopyFile(link, src)
	assert.ErrorIs(t, err, ErrSameFile)

	got, err := os.ReadFile(src)
	require.NoError(t, err)
	assert.Equal(t, "keep me", string(got))
}

func TestCopierCopy(t *testing.T) {
	srcDir, destDir := t.TempDir(), t.TempDir()
	src := filepath.Join(srcDir, "ok.txt")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))

	c := NewCopier(destDir, 0)
	dest, n, err := c.Copy(context.Background(), models.NewWorkItem(src))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(destDir, "ok.txt"), dest)
	assert.Equal(t, int64(7), n)

	_, _, err = c.Copy(context.Background(), models.NewWorkItem(filepath.Join(srcDir, "missing.txt")))
	var copyErr *CopyError
	require.True(t, errors.As(err, &copyErr))
	assert.Equal(t, filepath.Join(destDir, "missing.txt"), copyErr.Dst)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestCopierRefusesFileAlreadyInDestination(t *testing.T) {
	destDir := t.TempDir()
	src := filepath.Join(destDir, "a.txt")
	require.NoError(t, os.WriteFile(src, []byte("original"), 0o644))

	c := NewCopier(destDir, 0)
	dest, n, err := c.Copy(context.Background(), models.NewWorkItem(src))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSameFile)
	assert.Equal(t, src, dest)
	assert.Zero(t, n)

	got, err := os.ReadFile(src)
	require.NoError(t, err)
	assert.Equal(t, "original", string(got))
}

func TestCopierThrottleHonoursContext(t *testing.T) {
	srcDir, destDir := t.TempDir(), t.TempDir()
	src := filepath.Join(srcDir, "a.txt")
	require.NoError(t, os.WriteFile(src, []byte("a"), 0o644))

	c := NewCopier(destDir, 0.5) // one token, then one every two seconds
	_, _, err := c.Copy(context.Background(), models.NewWorkItem(src))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, _, err = c.Copy(ctx, models.NewWorkItem(src))
	require.Error(t, err)
	var copyErr *CopyError
	assert.True(t, errors.As(err, &copyErr))
}
