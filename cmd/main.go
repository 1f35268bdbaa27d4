package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"go.uber.org/automaxprocs/maxprocs"

	"go-pipe-copier/internal/config"
	"go-pipe-copier/internal/controller"
)

// Exit codes follow sysexits.h.
const (
	exitOK         = 0
	exitFailure    = 1
	exitUsage      = 64
	exitNoInput    = 66
	exitCantCreate = 73
	exitConfig     = 78
)

type App struct {
	ctx        context.Context
	cfg        *config.Config
	controller *controller.Controller
	stdin      io.Reader
}

func SetupLogger(level slog.Level) {
	w := os.Stderr
	logger := slog.New(
		tint.NewHandler(w, &tint.Options{
			Level:   level,
			NoColor: !isatty.IsTerminal(w.Fd()),
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if err, ok := a.Value.Any().(error); ok {
					aErr := tint.Err(err)
					aErr.Key = a.Key
					return aErr
				}
				return a
			},
		}),
	)
	slog.SetDefault(logger)
}

func main() {
	SetupLogger(slog.LevelInfo)
	if _, err := maxprocs.Set(); err != nil {
		slog.Warn("Failed to set GOMAXPROCS", "error", err)
	}

	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		slog.Error("pipecopier failed", "error", err)
		os.Exit(exitCode(err))
	}
	os.Exit(exitOK)
}

type usageError struct {
	err error
}

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func exitCode(err error) int {
	var usage usageError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &usage):
		return exitUsage
	case errors.Is(err, config.ErrInvalid):
		return exitConfig
	case errors.Is(err, controller.ErrDestination):
		return exitNoInput
	case errors.Is(err, controller.ErrEndpoint), errors.Is(err, controller.ErrLocked):
		return exitCantCreate
	default:
		return exitFailure
	}
}

func newApp(ctx context.Context, cfg *config.Config, stdin io.Reader) (*App, error) {
	c, err := controller.New(cfg)
	if err != nil {
		return nil, err
	}
	return &App{
		ctx:        ctx,
		cfg:        cfg,
		controller: c,
		stdin:      stdin,
	}, nil
}

// run starts the pipeline and blocks until it has shut down. The first
// SIGINT/SIGTERM shuts down like the exit command, a second one abandons
// whatever is still queued.
func (app *App) run() error {
	if err := app.controller.Start(app.ctx); err != nil {
		return fmt.Errorf("start copier: %w", err)
	}

	signalCh := make(chan os.Signal, 2)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signalCh)

	go func() {
		forced := false
		for !forced {
			select {
			case sig := <-signalCh:
				if app.stopping() {
					slog.Warn("Received second termination signal, abandoning queued files", "signal", sig.String())
					app.controller.ForceStop()
					forced = true
					continue
				}
				slog.Info("Received termination signal, shutting down", "signal", sig.String())
				app.controller.Shutdown()
			case <-app.ctx.Done():
				app.controller.ForceStop()
				forced = true
			}
		}
	}()

	go app.controller.RunOperator(app.stdin)

	stats, err := app.controller.Wait()
	if err != nil {
		return err
	}
	slog.Info("Shutdown complete", "copied", stats.Workers.Copied, "failed", stats.Workers.Failed)
	return nil
}

func (app *App) stopping() bool {
	select {
	case <-app.controller.Done():
		return true
	default:
		return false
	}
}
