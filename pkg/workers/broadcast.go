package workers

import (
	"context"
	"time"

	"github.com/namisoft/coinflip/pkg/events"
	"github.com/namisoft/coinflip/pkg/log"
	"github.com/namisoft/coinflip/pkg/queue"
	"github.com/namisoft/coinflip/pkg/repositories"
)

// Broadcaster fans a domain event out to live subscribers. The API
// server's event stream implements it.
type Broadcaster interface {
	Broadcast(event events.Event)
}

type EventBroadcastWorker struct {
	eventQueue  queue.Queue
	repository  repositories.Repository
	broadcaster Broadcaster
	interval    time.Duration
}

type NewEventBroadcastWorkerOptions struct {
	EventQueue  queue.Queue
	Repository  repositories.Repository
	Broadcaster Broadcaster
	Interval    time.Duration
}

// NewEventBroadcastWorker creates a new EventBroadcastWorker.
// The worker drains the domain event queue, appends each event to the
// audit log and fans it out to live subscribers.
func NewEventBroadcastWorker(opts NewEventBroadcastWorkerOptions) *EventBroadcastWorker {
	return &EventBroadcastWorker{
		eventQueue:  opts.EventQueue,
		repository:  opts.Repository,
		broadcaster: opts.Broadcaster,
		interval:    opts.Interval,
	}
}

func (w *EventBroadcastWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.drain(ctx)
		}
	}
}

func (w *EventBroadcastWorker) drain(ctx context.Context) {
	for _, item := range w.eventQueue.ReadAllMessages() {
		event, ok := item.(events.Event)
		if !ok {
			log.Error("Unknown item on event queue: %T", item)
			continue
		}
		if w.repository != nil {
			if err := w.repository.AppendEvent(ctx, repositories.EventRecord(event)); err != nil {
				log.Error("Failed to append event to audit log: %v", err)
			}
		}
		if w.broadcaster != nil {
			w.broadcaster.Broadcast(event)
		}
	}
}
