package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/namisoft/coinflip/pkg/log"
	"github.com/namisoft/coinflip/pkg/queue"
)

// Type discriminates domain events on the stream.
type Type string

const (
	TypeBetPlaced           Type = "bet_placed"
	TypeRandomnessFulfilled Type = "randomness_fulfilled"
	TypeBetFinalized        Type = "bet_finalized"
	TypeBetCanceled         Type = "bet_canceled"
	TypeHouseRegistered     Type = "house_registered"
	TypeHouseUnregistered   Type = "house_unregistered"
	TypeHouseMigrated       Type = "house_migrated"
)

// Event is one domain event with a JSON payload.
type Event struct {
	Type      Type            `json:"type"`
	HouseID   uuid.UUID       `json:"house_id"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// New builds an event, marshaling the payload. A payload that fails to
// marshal is dropped from the event rather than failing the emitting
// transition.
func New(eventType Type, houseID uuid.UUID, payload interface{}) Event {
	event := Event{
		Type:      eventType,
		HouseID:   houseID,
		Timestamp: time.Now().UnixMilli(),
	}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			log.Error("Failed to marshal %s event payload: %v", eventType, err)
		} else {
			event.Payload = b
		}
	}
	return event
}

// Sink receives emitted events. Emission is never allowed to fail a
// bet transition.
type Sink interface {
	Publish(event Event)
}

// QueueSink publishes events onto a queue drained by the broadcast worker.
type QueueSink struct {
	queue queue.Queue
}

func NewQueueSink(q queue.Queue) *QueueSink {
	return &QueueSink{queue: q}
}

func (s *QueueSink) Publish(event Event) {
	s.queue.Enqueue(event)
}
