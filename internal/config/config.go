package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

var ErrInvalid = errors.New("invalid configuration")

// Duration lets TOML files use strings such as "250ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type Config struct {
	EndpointPath       string   `toml:"endpoint_path"`
	DestinationDir     string   `toml:"destination_dir"`
	QueueCapacity      int      `toml:"queue_capacity"`
	WorkerCount        int      `toml:"worker_count"`
	CopySlots          int      `toml:"copy_slots"`
	ReadBufferSize     int      `toml:"read_buffer_size"`
	MaxNameLength      int      `toml:"max_name_length"`
	AcceptPollInterval Duration `toml:"accept_poll_interval"`
	AcceptMaxElapsed   Duration `toml:"accept_max_elapsed"`
	MaxCopiesPerSecond float64  `toml:"max_copies_per_second"`
	ExitCommand        string   `toml:"exit_command"`
	LogLevel           string   `toml:"log_level"`
}

func Default() Config {
	return Config{
		QueueCapacity:      10,
		WorkerCount:        2,
		ReadBufferSize:     4096,
		MaxNameLength:      1024,
		AcceptPollInterval: Duration{250 * time.Millisecond},
		ExitCommand:        "exit",
		LogLevel:           "info",
	}
}

// Load reads the optional TOML file at path on top of the defaults and then
// applies environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func LoadFromEnv() (*Config, error) {
	return Load("")
}

func (c *Config) applyEnv() error {
	if v, ok := lookup("PIPECOPIER_WORKERS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PIPECOPIER_WORKERS: %w", err)
		}
		c.WorkerCount = n
	}
	if v, ok := lookup("PIPECOPIER_CAPACITY"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PIPECOPIER_CAPACITY: %w", err)
		}
		c.QueueCapacity = n
	}
	if v, ok := lookup("PIPECOPIER_LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	return nil
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (c *Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.EndpointPath) == "" {
		problems = append(problems, "endpoint path is required")
	}
	if strings.TrimSpace(c.DestinationDir) == "" {
		problems = append(problems, "destination directory is required")
	}
	if c.QueueCapacity <= 0 {
		problems = append(problems, "queue_capacity must be positive")
	}
	if c.WorkerCount <= 0 {
		problems = append(problems, "worker_count must be positive")
	}
	if c.CopySlots < 0 {
		problems = append(problems, "copy_slots must not be negative")
	}
	if c.ReadBufferSize <= 0 {
		problems = append(problems, "read_buffer_size must be positive")
	}
	if c.MaxNameLength < 0 {
		problems = append(problems, "max_name_length must not be negative")
	}
	if c.AcceptPollInterval.Duration <= 0 {
		problems = append(problems, "accept_poll_interval must be positive")
	}
	if c.AcceptMaxElapsed.Duration < 0 {
		problems = append(problems, "accept_max_elapsed must not be negative")
	}
	if c.MaxCopiesPerSecond < 0 {
		problems = append(problems, "max_copies_per_second must not be negative")
	}
	if strings.TrimSpace(c.ExitCommand) == "" {
		problems = append(problems, "exit_command must not be empty")
	}
	if _, err := c.Level(); err != nil {
		problems = append(problems, err.Error())
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// Level parses LogLevel into a slog level.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level %q is not a valid level", c.LogLevel)
	}
	return level, nil
}
