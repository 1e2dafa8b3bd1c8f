package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config describes logger runtime configuration.
type Config struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	TimeFormat  string `mapstructure:"time_format" yaml:"time_format"`
	Caller      bool   `mapstructure:"caller" yaml:"caller"`
	PrettyPrint bool   `mapstructure:"pretty" yaml:"pretty"`
	Dir         string `mapstructure:"dir" yaml:"dir"`
}

// NewLogger constructs a console zerolog logger from config.
func NewLogger(cfg Config) zerolog.Logger {
	return newLogger(cfg, consoleWriter(cfg, os.Stdout))
}

func newLogger(cfg Config, writer io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.TimeFormat != "" {
		zerolog.TimeFieldFormat = cfg.TimeFormat
	}

	logger := zerolog.New(writer).Level(parseLevel(cfg.Level))
	builder := logger.With().Timestamp()
	if cfg.Caller {
		builder = builder.Caller()
	}
	return builder.Logger()
}

func parseLevel(raw string) zerolog.Level {
	level := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(strings.ToLower(raw)); err == nil && raw != "" {
		level = parsed
	}
	return level
}

func consoleWriter(cfg Config, out io.Writer) io.Writer {
	if cfg.PrettyPrint || strings.EqualFold(cfg.Format, "console") {
		return zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: zerolog.TimeFieldFormat,
		}
	}
	return out
}

// Sinks hands out per-stage loggers that write to the console and to
// <Dir>/<stage>.log. Loggers are cached per stage.
type Sinks struct {
	cfg     Config
	console io.Writer

	mu      sync.Mutex
	files   map[string]*os.File
	loggers map[string]zerolog.Logger
}

// NewSinks prepares stage loggers. An empty cfg.Dir disables file output.
func NewSinks(cfg Config) (*Sinks, error) {
	return newSinks(cfg, consoleWriter(cfg, os.Stdout))
}

func newSinks(cfg Config, console io.Writer) (*Sinks, error) {
	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
	}
	return &Sinks{
		cfg:     cfg,
		console: console,
		files:   make(map[string]*os.File),
		loggers: make(map[string]zerolog.Logger),
	}, nil
}

// Base returns the console-only logger.
func (s *Sinks) Base() zerolog.Logger {
	return newLogger(s.cfg, s.console)
}

// Stage returns a logger tagged with stage=name that also appends JSON lines to
// the stage's log file.
func (s *Sinks) Stage(name string) (zerolog.Logger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if logger, ok := s.loggers[name]; ok {
		return logger, nil
	}

	writer := s.console
	if s.cfg.Dir != "" {
		path := filepath.Join(s.cfg.Dir, name+".log")
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("open stage log %s: %w", path, err)
		}
		s.files[name] = file
		writer = zerolog.MultiLevelWriter(s.console, file)
	}

	logger := newLogger(s.cfg, writer).With().Str("stage", name).Logger()
	s.loggers[name] = logger
	return logger, nil
}

// MustStage is Stage falling back to the console logger when the file cannot be opened.
func (s *Sinks) MustStage(name string) zerolog.Logger {
	logger, err := s.Stage(name)
	if err != nil {
		base := s.Base()
		base.Warn().Err(err).Str("stage", name).Msg("stage log file unavailable; console only")
		return base.With().Str("stage", name).Logger()
	}
	return logger
}

// Close closes every stage log file.
func (s *Sinks) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for name, file := range s.files {
		if err := file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.files, name)
		delete(s.loggers, name)
	}
	return firstErr
}
