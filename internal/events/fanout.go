package events

import (
	"context"

	"github.com/playperu/geounlock/internal/secretquiz"
)

// Notifier is anything that accepts unlock events.
type Notifier interface {
	Notify(ctx context.Context, ev secretquiz.Event)
}

// Fanout delivers each event to every non-nil notifier in order.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, ev secretquiz.Event) {
	for _, n := range f {
		if n != nil {
			n.Notify(ctx, ev)
		}
	}
}
