package services

import (
	"context"

	"raffle-oracle/internal/models"
)

// Notifier receives raffle events. Implementations must not block for long:
// Notify is called while the raffle holds its lock.
type Notifier interface {
	Notify(ctx context.Context, ev models.Event)
}

type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, models.Event) {}

// Notifiers fans an event out to every notifier in order.
type Notifiers []Notifier

func (ns Notifiers) Notify(ctx context.Context, ev models.Event) {
	for _, n := range ns {
		if n != nil {
			n.Notify(ctx, ev)
		}
	}
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev models.Event)

func (f NotifierFunc) Notify(ctx context.Context, ev models.Event) { f(ctx, ev) }
