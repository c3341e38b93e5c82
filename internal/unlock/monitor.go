package unlock

import (
	"context"
	"log/slog"
	"sync"

	"github.com/playperu/geounlock/internal/geo"
)

// Monitor drives a Reconciler from a stream of location samples. At most one
// pass runs at a time; samples that arrive during a pass are coalesced and
// only the latest is processed next.
type Monitor struct {
	rec    *Reconciler
	logger *slog.Logger

	mu      sync.Mutex
	pending *geo.Coordinate
	last    *geo.Coordinate
	closed  bool
	wake    chan struct{}
}

func NewMonitor(rec *Reconciler, logger *slog.Logger) *Monitor {
	return &Monitor{
		rec:    rec,
		logger: logger.With("user_id", rec.UserID()),
		wake:   make(chan struct{}, 1),
	}
}

func (m *Monitor) Reconciler() *Reconciler { return m.rec }

// Offer queues sample for the next pass, replacing any sample still waiting.
// It never blocks. It reports false, dropping the sample, once the monitor's
// session has been stopped.
func (m *Monitor) Offer(sample geo.Coordinate) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.pending = &sample
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
	return true
}

func (m *Monitor) close() {
	m.mu.Lock()
	m.closed = true
	m.pending = nil
	m.mu.Unlock()
}

// LastSample returns the most recently offered sample.
func (m *Monitor) LastSample() (geo.Coordinate, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last != nil {
		return *m.last, true
	}
	if m.pending != nil {
		return *m.pending, true
	}
	return geo.Coordinate{}, false
}

// Follow offers every sample received on samples until the channel closes,
// ctx is done or the monitor is stopped.
func (m *Monitor) Follow(ctx context.Context, samples <-chan geo.Coordinate) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-samples:
			if !ok {
				return
			}
			if !m.Offer(s) {
				return
			}
		}
	}
}

// Run processes queued samples until ctx is done. A pass already in progress
// when ctx is cancelled runs to completion.
func (m *Monitor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.wake:
		}

		m.mu.Lock()
		sample := m.pending
		m.pending = nil
		if sample != nil {
			m.last = sample
		}
		m.mu.Unlock()
		if sample == nil {
			continue
		}

		res := m.rec.Process(context.WithoutCancel(ctx), *sample)
		if res.Err != nil {
			continue
		}
		if len(res.Unlocked) > 0 || len(res.Deferred) > 0 {
			m.logger.Debug("reconciliation pass",
				"unlocked", res.Unlocked,
				"deferred", res.Deferred,
				"skipped", res.Skipped,
				"premium", res.Premium,
			)
		}
	}
}
