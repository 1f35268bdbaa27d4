package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"go-pipe-copier/internal/config"
)

type rootFlags struct {
	configPath  string
	workers     int
	capacity    int
	logLevel    string
	exitCommand string
}

func newRootCommand() *cobra.Command {
	var flags rootFlags

	rootCmd := &cobra.Command{
		Use:   "pipecopier <endpoint_path> <destination_dir>",
		Short: "Copy files whose names arrive on a named pipe",
		Long: "pipecopier creates a named pipe at endpoint_path, reads newline or NUL separated\n" +
			"file names from whoever writes to it and copies each file into destination_dir.\n" +
			"Type the exit command on stdin to finish the queued copies and stop.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.ExactArgs(2)(cmd, args); err != nil {
				return usageError{err}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags, args)
			if err != nil {
				return err
			}
			level, _ := cfg.Level()
			SetupLogger(level)

			app, err := newApp(cmd.Context(), cfg, cmd.InOrStdin())
			if err != nil {
				return err
			}
			return app.run()
		},
	}

	rootCmd.Flags().StringVarP(&flags.configPath, "config", "c", "", "Configuration file path (TOML)")
	rootCmd.Flags().IntVarP(&flags.workers, "workers", "w", 0, "Number of copy workers")
	rootCmd.Flags().IntVar(&flags.capacity, "capacity", 0, "Maximum number of queued file names")
	rootCmd.Flags().StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.Flags().StringVar(&flags.exitCommand, "exit-command", "", "Operator command that stops the copier")

	return rootCmd
}

// loadConfig layers defaults, the config file, the environment and finally the
// command line.
func loadConfig(cmd *cobra.Command, flags rootFlags, args []string) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalid, err)
	}

	cfg.EndpointPath = args[0]
	cfg.DestinationDir = args[1]
	if cmd.Flags().Changed("workers") {
		cfg.WorkerCount = flags.workers
	}
	if cmd.Flags().Changed("capacity") {
		cfg.QueueCapacity = flags.capacity
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = flags.logLevel
	}
	if cmd.Flags().Changed("exit-command") {
		cfg.ExitCommand = flags.exitCommand
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
