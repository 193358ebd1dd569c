// Package dispatch fans conversation events out to registered subscribers.
// Delivery is asynchronous and best-effort; a slow or failing subscriber
// never blocks the orchestration loop.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/mwielgat/agentd/core"
	"github.com/mwielgat/agentd/logging"
)

// EventType labels what happened in a session.
type EventType string

const (
	// EventTurnAppended fires for every turn added to a session log.
	EventTurnAppended EventType = "turn.appended"
	// EventStatusChanged fires when a session changes status.
	EventStatusChanged EventType = "session.status_changed"
)

// Event is the envelope delivered to subscribers.
type Event struct {
	ID        string             `json:"id"`
	Type      EventType          `json:"type"`
	SessionID string             `json:"session_id"`
	Turn      *core.Turn         `json:"turn,omitempty"`
	Status    core.SessionStatus `json:"status,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// Subscriber consumes session events. Handle errors trigger bounded retries.
type Subscriber interface {
	Name() string
	Handle(ctx context.Context, event Event) error
}

// Options configure a Dispatcher.
type Options struct {
	RetryCount   int
	RetryBackoff time.Duration
	Logger       logging.Logger
}

// Dispatcher delivers events to every subscriber in its own goroutine.
type Dispatcher struct {
	mu           sync.RWMutex
	subscribers  []Subscriber
	wg           sync.WaitGroup
	retryCount   int
	retryBackoff time.Duration
	logger       *logging.AgentLogger
}

// New constructs a dispatcher.
func New(optFns ...func(o *Options)) *Dispatcher {
	opts := Options{
		RetryCount:   3,
		RetryBackoff: 150 * time.Millisecond,
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Dispatcher{
		retryCount:   opts.RetryCount,
		retryBackoff: opts.RetryBackoff,
		logger:       logging.NewAgentLogger(opts.Logger).WithComponent("dispatch"),
	}
}

// Subscribe registers a subscriber for all future events.
func (d *Dispatcher) Subscribe(sub Subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subscribers = append(d.subscribers, sub)
}

// TurnAppended publishes a turn event.
func (d *Dispatcher) TurnAppended(ctx context.Context, sessionID string, turn core.Turn) {
	d.publish(ctx, Event{
		ID:        core.NewID(),
		Type:      EventTurnAppended,
		SessionID: sessionID,
		Turn:      &turn,
		Timestamp: time.Now().UTC(),
	})
}

// StatusChanged publishes a status transition event.
func (d *Dispatcher) StatusChanged(ctx context.Context, sessionID string, status core.SessionStatus) {
	d.publish(ctx, Event{
		ID:        core.NewID(),
		Type:      EventStatusChanged,
		SessionID: sessionID,
		Status:    status,
		Timestamp: time.Now().UTC(),
	})
}

func (d *Dispatcher) publish(ctx context.Context, event Event) {
	d.mu.RLock()
	subs := make([]Subscriber, len(d.subscribers))
	copy(subs, d.subscribers)
	d.mu.RUnlock()

	// Deliveries outlive the publishing request; retries must not die with
	// the caller's context.
	ctx = context.WithoutCancel(ctx)

	for _, sub := range subs {
		d.wg.Add(1)
		go func(s Subscriber) {
			defer d.wg.Done()
			d.deliver(ctx, s, event)
		}(sub)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, sub Subscriber, event Event) {
	for attempt := 1; attempt <= d.retryCount; attempt++ {
		err := sub.Handle(ctx, event)
		if err == nil {
			return
		}
		d.logger.Warn("dispatch.deliver.failed",
			"subscriber", sub.Name(),
			"event_id", event.ID,
			"attempt", attempt,
			"error", err.Error(),
		)
		if attempt == d.retryCount {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.retryBackoff):
		}
	}
}

// Wait blocks until all in-flight deliveries have finished. Intended for
// shutdown and tests.
func (d *Dispatcher) Wait() { d.wg.Wait() }
