package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwielgat/agentd/core"
)

type recordingSubscriber struct {
	mu       sync.Mutex
	name     string
	events   []Event
	failures int
}

func (s *recordingSubscriber) Name() string { return s.name }

func (s *recordingSubscriber) Handle(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("transient")
	}
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSubscriber) seen() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

func TestDispatcherFanOut(t *testing.T) {
	d := New()
	a := &recordingSubscriber{name: "a"}
	b := &recordingSubscriber{name: "b"}
	d.Subscribe(a)
	d.Subscribe(b)

	turn := core.NewUserTurn("hello")
	d.TurnAppended(context.Background(), "sess-1", turn)
	d.StatusChanged(context.Background(), "sess-1", core.SessionCompleted)
	d.Wait()

	for _, sub := range []*recordingSubscriber{a, b} {
		events := sub.seen()
		require.Len(t, events, 2)
		byType := map[EventType]Event{}
		for _, e := range events {
			byType[e.Type] = e
		}
		require.Contains(t, byType, EventTurnAppended)
		require.Contains(t, byType, EventStatusChanged)
		assert.Equal(t, "sess-1", byType[EventTurnAppended].SessionID)
		assert.Equal(t, turn.ID, byType[EventTurnAppended].Turn.ID)
		assert.Equal(t, core.SessionCompleted, byType[EventStatusChanged].Status)
	}
}

func TestDispatcherRetriesFailedDelivery(t *testing.T) {
	d := New(func(o *Options) {
		o.RetryCount = 3
		o.RetryBackoff = time.Millisecond
	})
	sub := &recordingSubscriber{name: "flaky", failures: 2}
	d.Subscribe(sub)

	d.StatusChanged(context.Background(), "sess-1", core.SessionFailed)
	d.Wait()

	require.Len(t, sub.seen(), 1)
}

func TestDispatcherDeliveryOutlivesPublisherContext(t *testing.T) {
	d := New(func(o *Options) {
		o.RetryCount = 3
		o.RetryBackoff = 5 * time.Millisecond
	})
	sub := &recordingSubscriber{name: "flaky", failures: 2}
	d.Subscribe(sub)

	// Publishers hand over request-scoped contexts that die as soon as the
	// response is written; deliveries and their retries must still land.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.StatusChanged(ctx, "sess-1", core.SessionCompleted)
	d.Wait()

	require.Len(t, sub.seen(), 1)
}

func TestDispatcherGivesUpAfterRetries(t *testing.T) {
	d := New(func(o *Options) {
		o.RetryCount = 2
		o.RetryBackoff = time.Millisecond
	})
	sub := &recordingSubscriber{name: "broken", failures: 10}
	d.Subscribe(sub)

	d.StatusChanged(context.Background(), "sess-1", core.SessionFailed)
	d.Wait()

	assert.Empty(t, sub.seen())
}
