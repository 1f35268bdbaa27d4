package copier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"

	"go-pipe-copier/internal/models"
)

var (
	ErrBadName    = errors.New("filename has no usable base name")
	ErrNotRegular = errors.New("not a regular file")
	ErrSameFile   = errors.New("source and destination are the same file")
)

// CopyError describes a single failed copy. It never stops a worker.
type CopyError struct {
	Src string
	Dst string
	Err error
}

func (e *CopyError) Error() string {
	return fmt.Sprintf("copy %s to %s: %v", e.Src, e.Dst, e.Err)
}

func (e *CopyError) Unwrap() error {
	return e.Err
}

type CopierService interface {
	Copy(ctx context.Context, item models.WorkItem) (dest string, written int64, err error)
}

type Copier struct {
	destDir string
	limiter *rate.Limiter
}

// NewCopier copies into destDir. perSecond > 0 caps how many copies start per
// second across every worker sharing this Copier.
func NewCopier(destDir string, perSecond float64) *Copier {
	c := &Copier{destDir: destDir}
	if perSecond > 0 {
		burst := int(perSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	return c
}

func (c *Copier) Copy(ctx context.Context, item models.WorkItem) (string, int64, error) {
	dest, err := DestinationPath(c.destDir, item.Path)
	if err != nil {
		return "", 0, &CopyError{Src: item.Path, Err: err}
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return dest, 0, &CopyError{Src: item.Path, Dst: dest, Err: err}
		}
	}
	written, err := CopyFile(item.Path, dest)
	if err != nil {
		return dest, written, &CopyError{Src: item.Path, Dst: dest, Err: err}
	}
	slog.Debug("Copied file", "itemID", item.ID, "path", item.Path, "dest", dest, "bytes", written)
	return dest, written, nil
}

// DestinationPath strips the directory from src and places the base name in destDir.
func DestinationPath(destDir, src string) (string, error) {
	name := filepath.Base(strings.TrimRight(src, string(filepath.Separator)))
	if name == "" || name == "." || name == ".." || name == string(filepath.Separator) {
		return "", fmt.Errorf("%q: %w", src, ErrBadName)
	}
	return filepath.Join(destDir, name), nil
}

// CopyFile streams src to dst with 0o644 permissions, truncating dst. Only
// regular files are copied: opening a named pipe or a device could block or
// never reach EOF.
func CopyFile(src, dst string) (int64, error) {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return 0, err
	}
	if !srcInfo.Mode().IsRegular() {
		return 0, fmt.Errorf("%s (%s): %w", src, srcInfo.Mode().Type(), ErrNotRegular)
	}
	if dstInfo, err := os.Stat(dst); err == nil && os.SameFile(srcInfo, dstInfo) {
		return 0, fmt.Errorf("%s: %w", dst, ErrSameFile)
	}

	// O_NONBLOCK keeps the open from hanging if src was swapped for a pipe since the stat
	in, err := os.OpenFile(src, os.O_RDONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return 0, err
	}
	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("%s (%s): %w", src, info.Mode().Type(), ErrNotRegular)
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	written, err := io.Copy(out, in)
	if err != nil {
		return written, err
	}
	return written, out.Close()
}
