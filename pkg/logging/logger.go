package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/mdobak/go-xerrors"
	slogmulti "github.com/samber/slog-multi"
	"github.com/spf13/afero"
)

// IssuanceLogEntry describes a PKI artifact produced by a builder. Entries are
// written at LevelAudit so they can be shipped separately from debug noise.
type IssuanceLogEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	Builder    string    `json:"builder"`
	Kind       string    `json:"kind"`
	Thumbprint string    `json:"thumbprint"`
	Subject    string    `json:"subject,omitempty"`
	Issuer     string    `json:"issuer,omitempty"`
	Serial     string    `json:"serial,omitempty"`
}

const (
	LevelTrace = slog.Level(-8)
	LevelFatal = slog.Level(12)
	LevelAudit = slog.Level(16)
)

type Logger struct {
	logger *slog.Logger
}

func DefaultLogger() *Logger {
	return NewLogger(slog.LevelDebug, nil)
}

// Creates a new structured logger. The log file always receives JSON
// records. When running at debug level, records are also written to
// STDOUT in text form.
func NewLogger(level slog.Level, logFile afero.File) *Logger {

	var logger *slog.Logger
	var fileWriter io.Writer = io.Discard
	if logFile != nil {
		fileWriter = logFile
	}

	logfileHandler := slog.NewJSONHandler(fileWriter, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceAttr,
	})

	if level <= slog.LevelDebug {

		textHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: replaceAttr,
		})

		logger = slog.New(
			slogmulti.Fanout(logfileHandler, textHandler),
		)

	} else {

		logger = slog.New(logfileHandler)
	}

	return &Logger{
		logger: logger,
	}
}

// Parses a level name (trace, debug, info, warn, error) into a slog level.
// Unknown names return info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Debug
func (l *Logger) Debug(message string, args ...any) {
	l.logger.Debug(message, args...)
}

func (l *Logger) Debugf(message string, args ...any) {
	l.logger.Debug(fmt.Sprintf(message, args...))
}

// Info
func (l *Logger) Info(message string, args ...any) {
	l.logger.Info(message, args...)
}

func (l *Logger) Infof(message string, args ...any) {
	l.logger.Info(fmt.Sprintf(message, args...))
}

// Warn
func (l *Logger) Warn(message string, args ...any) {
	l.logger.Warn(message, args...)
}

func (l *Logger) Warnf(message string, args ...any) {
	l.logger.Warn(fmt.Sprintf(message, args...))
}

// Error
func (l *Logger) Error(err error, args ...any) {
	if l == nil || l.logger == nil {
		// Error occurred before the logger was
		// initialized
		slog.Error(err.Error(), args...)
		return
	}
	xerr := xerrors.New(err)
	l.logger.Error(err.Error(), append(args, slog.Any("error", xerr))...)
}

func (l *Logger) Errorf(message string, args ...any) {
	l.logger.Error(fmt.Sprintf(message, args...))
}

// Logs an error that the caller recovers from
func (l *Logger) MaybeError(err error, args ...any) {
	l.logger.Warn(err.Error(), args...)
}

// Fatal
func (l *Logger) Fatal(message string, args ...any) {
	l.logger.Log(context.Background(), LevelFatal, message, args...)
	os.Exit(-1)
}

func (l *Logger) Fatalf(message string, args ...any) {
	l.Fatal(fmt.Sprintf(message, args...))
}

func (l *Logger) FatalError(err error) {
	l.Error(err)
	os.Exit(-1)
}

// Logs an issued artifact with standardized fields to faciliate
// auditing by external systems.
func (l *Logger) Issuance(entry IssuanceLogEntry) {
	l.logger.LogAttrs(
		context.Background(),
		LevelAudit,
		"issuance_log",
		slog.Time("timestamp", entry.Timestamp),
		slog.String("builder", entry.Builder),
		slog.String("kind", entry.Kind),
		slog.String("thumbprint", entry.Thumbprint),
		slog.String("subject", entry.Subject),
		slog.String("issuer", entry.Issuer),
		slog.String("serial", entry.Serial),
	)
}

// Renders the custom levels by name and redacts password attributes
func replaceAttr(groups []string, a slog.Attr) slog.Attr {
	switch a.Key {
	case slog.LevelKey:
		level, ok := a.Value.Any().(slog.Level)
		if !ok {
			return a
		}
		switch level {
		case LevelTrace:
			a.Value = slog.StringValue("TRACE")
		case LevelFatal:
			a.Value = slog.StringValue("FATAL")
		case LevelAudit:
			a.Value = slog.StringValue("AUDIT")
		}
	case "password", "secret":
		a.Value = slog.StringValue("******")
	case "error":
		if err, ok := a.Value.Any().(error); ok {
			a.Value = fmtErr(err)
		}
	}
	return a
}

// Expands an error into its message and, when available, the stack
// trace captured by xerrors.
func fmtErr(err error) slog.Value {
	var groupValues []slog.Attr

	groupValues = append(groupValues, slog.String("msg", err.Error()))

	frames := xerrors.StackTrace(err).Frames()
	if len(frames) > 0 {
		trace := make([]string, 0, len(frames))
		for _, frame := range frames {
			trace = append(trace, fmt.Sprintf("%s:%d %s",
				frame.File, frame.Line, frame.Function))
		}
		groupValues = append(groupValues, slog.Any("trace", trace))
	}

	return slog.GroupValue(groupValues...)
}
