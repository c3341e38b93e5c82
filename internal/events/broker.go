// Package events delivers unlock notifications to the presentation layer.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/playperu/geounlock/internal/secretquiz"
)

// Broker is an in-process pub/sub for unlock events, keyed by user ID.
// It backs the per-user SSE stream.
type Broker struct {
	logger *slog.Logger

	mu   sync.RWMutex
	subs map[string]map[chan []byte]struct{}
}

func NewBroker(logger *slog.Logger) *Broker {
	return &Broker{
		logger: logger,
		subs:   make(map[string]map[chan []byte]struct{}),
	}
}

// Subscribe returns a channel that receives JSON-encoded events for userID.
func (b *Broker) Subscribe(userID string) chan []byte {
	ch := make(chan []byte, 16)
	b.mu.Lock()
	if b.subs[userID] == nil {
		b.subs[userID] = make(map[chan []byte]struct{})
	}
	b.subs[userID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes ch from the user's subscribers.
func (b *Broker) Unsubscribe(userID string, ch chan []byte) {
	b.mu.Lock()
	delete(b.subs[userID], ch)
	if len(b.subs[userID]) == 0 {
		delete(b.subs, userID)
	}
	b.mu.Unlock()
}

// Subscribers returns the number of open subscriptions for userID.
func (b *Broker) Subscribers(userID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[userID])
}

// Notify sends ev to every subscriber of ev.UserID. A subscriber whose buffer
// is full misses the event.
func (b *Broker) Notify(_ context.Context, ev secretquiz.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		b.logger.Error("encoding event", "error", err)
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs[ev.UserID] {
		select {
		case ch <- data:
		default:
			b.logger.Warn("dropping event for slow subscriber", "user_id", ev.UserID, "quiz", ev.QuizName)
		}
	}
}
