// Package logging provides the structured logger used across the sidecar:
// the scheduler, upload pipeline, restore executor, and CLI all log through
// a Logger instead of the standard library's log package.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ringbackup/sidecar/internal/events"
)

// Logger wraps zerolog, optionally mirroring log events onto an event bus so
// a status surface can tail recent log lines without scraping stdout.
type Logger struct {
	zlog     zerolog.Logger
	eventBus *events.Bus
	output   io.Writer
}

// New creates a logger that writes a human-readable console format to w.
// If eventBus is non-nil, every log call also publishes an events.LogEvent.
func New(w io.Writer, eventBus *events.Bus) *Logger {
	output := zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	zlog := zerolog.New(output).With().Timestamp().Logger()
	return &Logger{zlog: zlog, eventBus: eventBus, output: output}
}

// NewDefault creates a logger writing to stderr with no event bus attached.
func NewDefault() *Logger {
	return New(os.Stderr, nil)
}

// NewWithFile creates a logger that writes console-formatted output to both
// console and, when logFile is non-empty, a size-rotated log file (10MB per
// file, 5 backups, 30 day retention, gzip-compressed on rotation). Running
// unattended under a process supervisor, a sidecar has no one reading stderr
// live, so a rotated on-disk log is the only way to see what a round did
// after the fact.
func NewWithFile(console io.Writer, eventBus *events.Bus, logFile string) *Logger {
	if logFile == "" {
		return New(console, eventBus)
	}
	rotator := &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    10,
		MaxBackups: 5,
		MaxAge:     30,
		Compress:   true,
	}
	return New(io.MultiWriter(console, rotator), eventBus)
}

// WithRound returns a child logger annotated with a round/restore identifier,
// so every line from that operation can be correlated in aggregated logs.
func (l *Logger) WithRound(roundID string) *Logger {
	return &Logger{
		zlog:     l.zlog.With().Str("round", roundID).Logger(),
		eventBus: l.eventBus,
		output:   l.output,
	}
}

func (l *Logger) Info() *zerolog.Event  { return l.zlog.Info() }
func (l *Logger) Error() *zerolog.Event { return l.zlog.Error() }
func (l *Logger) Debug() *zerolog.Event { return l.zlog.Debug() }
func (l *Logger) Warn() *zerolog.Event  { return l.zlog.Warn() }
func (l *Logger) Fatal() *zerolog.Event { return l.zlog.Fatal() }

func (l *Logger) With() zerolog.Context { return l.zlog.With() }

// Infof logs an info message with printf-style formatting and, if an event
// bus is attached, publishes it as an events.LogEvent.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.zlog.Info().Msgf(format, args...)
	l.publish(events.InfoLevel, format, args, nil)
}

// Errorf logs an error message with printf-style formatting and publishes it
// with err attached.
func (l *Logger) Errorf(err error, format string, args ...interface{}) {
	l.zlog.Error().Err(err).Msgf(format, args...)
	l.publish(events.ErrorLevel, format, args, err)
}

// Warnf logs a warning message with printf-style formatting.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.zlog.Warn().Msgf(format, args...)
	l.publish(events.WarnLevel, format, args, nil)
}

func (l *Logger) publish(level events.LogLevel, format string, args []interface{}, err error) {
	if l.eventBus == nil {
		return
	}
	l.eventBus.PublishLog(level, fmt.Sprintf(format, args...), err)
}

// SetGlobalLevel sets the package-wide minimum log level.
func SetGlobalLevel(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
}

func init() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
}
