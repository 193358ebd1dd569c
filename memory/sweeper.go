package memory

import (
	"context"
	"time"

	"github.com/mwielgat/agentd/logging"
)

// Sweeper periodically expires sessions that have been idle longer than the
// configured TTL. Expiry is a store policy external to loop logic: the loop
// never expires sessions itself.
type Sweeper struct {
	store    Store
	ttl      time.Duration
	interval time.Duration
	logger   logging.Logger
	stop     chan struct{}
	done     chan struct{}
}

// NewSweeper creates a sweeper running every interval, expiring sessions
// idle for longer than ttl.
func NewSweeper(store Store, ttl, interval time.Duration, logger logging.Logger) *Sweeper {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Sweeper{
		store:    store,
		ttl:      ttl,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop in a goroutine.
func (s *Sweeper) Start() {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				s.sweep()
			}
		}
	}()
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	count, err := s.store.ExpireIdle(ctx, time.Now().UTC().Add(-s.ttl))
	if err != nil {
		s.logger.Error("sweeper.expire.failed", "error", err.Error())
		return
	}
	if count > 0 {
		s.logger.Info("sweeper.expired", "sessions", count, "ttl", s.ttl.String())
	}
}

// Stop halts the sweep loop and waits for the in-flight sweep to finish.
func (s *Sweeper) Stop() {
	close(s.stop)
	<-s.done
}
