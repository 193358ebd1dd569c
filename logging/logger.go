// Package logging provides a tiny abstraction over slog so downstream code
// can depend on a minimal interface (Logger) while allowing users to plug any
// structured logger. It also offers an AgentLogger with contextual helpers
// (component, session, turn) and domain specific helpers for tool calls and
// decision engine calls.
package logging

import (
	"io"
	"log/slog"
	"os"
	"time"
)

// Logger defines the minimal logging interface for agentd. Args follow the
// slog convention of alternating keys and values.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// SlogAdapter wraps *slog.Logger to implement the Logger interface.
type SlogAdapter struct {
	*slog.Logger
}

// Debug logs a debug message.
func (s *SlogAdapter) Debug(msg string, args ...any) { s.Logger.Debug(msg, args...) }

// Info logs an informational message.
func (s *SlogAdapter) Info(msg string, args ...any) { s.Logger.Info(msg, args...) }

// Warn logs a warning message.
func (s *SlogAdapter) Warn(msg string, args ...any) { s.Logger.Warn(msg, args...) }

// Error logs an error message.
func (s *SlogAdapter) Error(msg string, args ...any) { s.Logger.Error(msg, args...) }

// NewSlogAdapter creates a Logger from *slog.Logger.
func NewSlogAdapter(logger *slog.Logger) Logger {
	return &SlogAdapter{Logger: logger}
}

// Config configures construction of the default logger.
type Config struct {
	Level     slog.Level
	Format    string // "json" or "text"
	Output    io.Writer
	AddSource bool
}

// DefaultConfig returns a baseline JSON info-level configuration.
func DefaultConfig() Config {
	return Config{Level: slog.LevelInfo, Format: "json", Output: os.Stdout}
}

// New builds a Logger from a Config.
func New(cfg Config) Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: cfg.Level, AddSource: cfg.AddSource}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(cfg.Output, opts)
	} else {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	}
	return NewSlogAdapter(slog.New(handler))
}

// ParseLevel converts a config string into a slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NoOpLogger discards all log messages. Useful for tests or when logging is
// disabled.
type NoOpLogger struct{}

// Debug discards the message.
func (NoOpLogger) Debug(string, ...any) {}

// Info discards the message.
func (NoOpLogger) Info(string, ...any) {}

// Warn discards the message.
func (NoOpLogger) Warn(string, ...any) {}

// Error discards the message.
func (NoOpLogger) Error(string, ...any) {}

// AgentLogger decorates a Logger with contextual attributes attached to every
// entry. It is cheap to copy via the With* methods.
type AgentLogger struct {
	logger    Logger
	component string
	sessionID string
	turnID    string
}

// NewAgentLogger wraps a Logger; nil falls back to NoOpLogger.
func NewAgentLogger(l Logger) *AgentLogger {
	if l == nil {
		l = NoOpLogger{}
	}
	return &AgentLogger{logger: l}
}

// WithComponent sets the logical component (loop, invoker, engine, ...).
func (l *AgentLogger) WithComponent(c string) *AgentLogger {
	nl := *l
	nl.component = c
	return &nl
}

// WithSession attaches session and turn identifiers.
func (l *AgentLogger) WithSession(sessionID, turnID string) *AgentLogger {
	nl := *l
	nl.sessionID = sessionID
	nl.turnID = turnID
	return &nl
}

func (l *AgentLogger) attrs(args []any) []any {
	out := make([]any, 0, len(args)+6)
	if l.component != "" {
		out = append(out, "component", l.component)
	}
	if l.sessionID != "" {
		out = append(out, "session_id", l.sessionID)
	}
	if l.turnID != "" {
		out = append(out, "turn_id", l.turnID)
	}
	return append(out, args...)
}

// Debug logs at debug level with contextual attributes.
func (l *AgentLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, l.attrs(args)...) }

// Info logs at info level with contextual attributes.
func (l *AgentLogger) Info(msg string, args ...any) { l.logger.Info(msg, l.attrs(args)...) }

// Warn logs at warn level with contextual attributes.
func (l *AgentLogger) Warn(msg string, args ...any) { l.logger.Warn(msg, l.attrs(args)...) }

// Error logs at error level with contextual attributes.
func (l *AgentLogger) Error(msg string, args ...any) { l.logger.Error(msg, l.attrs(args)...) }

// LogToolCall records execution details for one tool invocation.
func (l *AgentLogger) LogToolCall(tool, callID string, dur time.Duration, err error) {
	args := []any{"tool", tool, "call_id", callID, "duration_ms", dur.Milliseconds()}
	if err != nil {
		l.Error("tool.invoke.failed", append(args, "error", err.Error())...)
		return
	}
	l.Info("tool.invoke.completed", args...)
}

// LogDecision records one decision engine round trip.
func (l *AgentLogger) LogDecision(provider, kind string, dur time.Duration, err error) {
	args := []any{"provider", provider, "kind", kind, "duration_ms", dur.Milliseconds()}
	if err != nil {
		l.Error("decision.failed", append(args, "error", err.Error())...)
		return
	}
	l.Info("decision.completed", args...)
}
