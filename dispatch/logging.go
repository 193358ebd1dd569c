package dispatch

import (
	"context"

	"github.com/mwielgat/agentd/logging"
)

// LoggingSubscriber writes every event to the structured log. Useful as a
// lightweight audit trail when no other subscriber is configured.
type LoggingSubscriber struct {
	logger *logging.AgentLogger
}

// NewLoggingSubscriber constructs the subscriber.
func NewLoggingSubscriber(l logging.Logger) *LoggingSubscriber {
	return &LoggingSubscriber{logger: logging.NewAgentLogger(l).WithComponent("events")}
}

// Name implements Subscriber.
func (s *LoggingSubscriber) Name() string { return "logging" }

// Handle implements Subscriber.
func (s *LoggingSubscriber) Handle(_ context.Context, event Event) error {
	args := []any{"event", string(event.Type), "session_id", event.SessionID}
	if event.Turn != nil {
		args = append(args, "role", string(event.Turn.Role))
		if event.Turn.ToolName != "" {
			args = append(args, "tool", event.Turn.ToolName, "outcome", string(event.Turn.Outcome))
		}
	}
	if event.Status != "" {
		args = append(args, "status", string(event.Status))
	}
	s.logger.Info("session.event", args...)
	return nil
}
