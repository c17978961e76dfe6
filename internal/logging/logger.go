// Package logging provides structured logging on top of log/slog.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// ContextKey keys values the logger picks up from a context.
type ContextKey string

const (
	RequestIDKey ContextKey = "request_id"
	UserIDKey    ContextKey = "user_id"
)

// Logger is a slog logger tagged with a component name.
type Logger struct {
	*slog.Logger
	component string
}

// Config configures a Logger.
type Config struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"` // json or text
	Output    string `yaml:"output"` // stdout, stderr, or file path
	Component string `yaml:"-"`
}

// ParseLevel maps a level name to slog; unknown names mean info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds a Logger from cfg.
func New(cfg Config) *Logger {
	var output io.Writer
	switch cfg.Output {
	case "stdout", "":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			output = os.Stdout
		} else {
			output = f
		}
	}
	return NewWithWriter(cfg, output)
}

// NewWithWriter builds a Logger writing to w.
func NewWithWriter(cfg Config, w io.Writer) *Logger {
	level := ParseLevel(cfg.Level)
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	l := slog.New(handler)
	if cfg.Component != "" {
		l = l.With(slog.String("component", cfg.Component))
	}
	return &Logger{Logger: l, component: cfg.Component}
}

// Default reads LOG_LEVEL and LOG_FORMAT from the environment.
func Default(component string) *Logger {
	return New(Config{
		Level:     os.Getenv("LOG_LEVEL"),
		Format:    os.Getenv("LOG_FORMAT"),
		Output:    "stdout",
		Component: component,
	})
}

// Discard drops everything. Used by tests.
func Discard() *Logger {
	return NewWithWriter(Config{Level: "error"}, io.Discard)
}

// Component returns a logger for a sub-component.
func (l *Logger) Component(name string) *Logger {
	return &Logger{Logger: l.Logger.With(slog.String("component", name)), component: name}
}

// WithContext adds the request id and user id carried by ctx.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	var attrs []any
	if id, ok := ctx.Value(RequestIDKey).(string); ok && id != "" {
		attrs = append(attrs, slog.String("request_id", id))
	}
	if id, ok := ctx.Value(UserIDKey).(string); ok && id != "" {
		attrs = append(attrs, slog.String("user_id", id))
	}
	if len(attrs) == 0 {
		return l
	}
	return &Logger{Logger: l.Logger.With(attrs...), component: l.component}
}

// WithError adds an error attribute.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return &Logger{
		Logger:    l.Logger.With(slog.String("error", err.Error())),
		component: l.component,
	}
}

// HTTPRequestLog logs a finished HTTP request.
func (l *Logger) HTTPRequestLog(method, path string, status int, duration time.Duration, clientIP string) {
	level := slog.LevelInfo
	if status >= 500 {
		level = slog.LevelError
	}
	l.Logger.Log(context.Background(), level, "HTTP request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.Float64("duration_ms", float64(duration.Microseconds())/1000),
		slog.String("client_ip", clientIP),
	)
}

// LoanLog logs a loan state transition.
func (l *Logger) LoanLog(action, loanID, bookID, userID string) {
	l.Logger.Info("Loan event",
		slog.String("action", action),
		slog.String("loan_id", loanID),
		slog.String("book_id", bookID),
		slog.String("user_id", userID),
	)
}
