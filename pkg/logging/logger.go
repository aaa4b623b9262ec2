// Package logging holds the logger used across gatorproc. Components receive
// a Logger explicitly; there is no package level instance.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type Logger interface {
	Debug(message string, module string)
	Info(message string, module string)
	Warn(message string, module string)
	Error(message string)
}

// Config mirrors the "logging" section of the processing configuration.
type Config struct {
	LogDir        string `json:"log_dir,omitempty" yaml:"log_dir,omitempty"`
	LogFilePrefix string `json:"log_file_prefix,omitempty" yaml:"log_file_prefix,omitempty"`
	LoggerName    string `json:"logger_name,omitempty" yaml:"logger_name,omitempty"`
	LogLevel      string `json:"log_level,omitempty" yaml:"log_level,omitempty"`
	// LogBackups is how many daily log files are kept, DefaultLogBackups
	// when zero.
	LogBackups int `json:"log_backups,omitempty" yaml:"log_backups,omitempty"`
	// Now drives the daily rotation, time.Now when nil.
	Now func() time.Time `json:"-" yaml:"-"`
}

// SlogLogger writes info and debug messages through InfoLog and warnings and
// errors through ErrorLog as well, so they show up on both streams.
type SlogLogger struct {
	InfoLog  *slog.Logger
	ErrorLog *slog.Logger
	file     io.Closer
}

func (l *SlogLogger) Debug(message string, module string) {
	l.InfoLog.Debug(message, "module", module)
}

func (l *SlogLogger) Info(message string, module string) {
	l.InfoLog.Info(message, "module", module)
}

func (l *SlogLogger) Warn(message string, module string) {
	l.InfoLog.Warn(message, "module", module)
	l.ErrorLog.Warn(message, "module", module)
}

func (l *SlogLogger) Error(message string) {
	l.InfoLog.Error(message)
	l.ErrorLog.Error(message)
}

// Close releases the log file, if any.
func (l *SlogLogger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error", "critical":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("invalid log level %q", level)
}

// New builds the stdout/stderr logger pair. When cfg.LogDir is set the text
// output also goes to <LogDir>/<LogFilePrefix>.log, rotated at midnight.
func New(cfg Config, stdout io.Writer, stderr io.Writer) (*SlogLogger, error) {
	level, err := ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	logger := &SlogLogger{}
	out := stdout
	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, fmt.Errorf("error creating log directory %q: %w", cfg.LogDir, err)
		}
		prefix := cfg.LogFilePrefix
		if prefix == "" {
			prefix = "gatorproc"
		}
		fname := filepath.Join(cfg.LogDir, prefix+".log")
		f, err := os.OpenFile(fname, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, &ErrOpenLog{Filename: fname, Err: err}
		}
		f.Close()
		w := newDailyWriter(fname, cfg.LogBackups, cfg.Now)
		logger.file = w
		out = io.MultiWriter(stdout, w)
	}

	logger.InfoLog = slog.New(NewHandler(out, opts))
	errLog := slog.New(slog.NewJSONHandler(stderr, opts))
	if cfg.LoggerName != "" {
		errLog = errLog.With("logger", cfg.LoggerName)
	}
	logger.ErrorLog = errLog
	return logger, nil
}

type ErrOpenLog struct {
	Filename string
	Err      error
}

func (e *ErrOpenLog) Error() string {
	return fmt.Sprintf("error opening log file %q: %v", e.Filename, e.Err)
}

func (e *ErrOpenLog) Unwrap() error { return e.Err }

// Nop discards everything.
type Nop struct{}

func (Nop) Debug(string, string) {}
func (Nop) Info(string, string)  {}
func (Nop) Warn(string, string)  {}
func (Nop) Error(string)         {}
