package api

import (
	"net/http"
	"sync"

	"github.com/namisoft/coinflip/pkg/events"
	"github.com/namisoft/coinflip/pkg/log"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const subscriberBuffer = 16

// EventStream fans domain events out to websocket subscribers. Slow
// subscribers drop events rather than stalling the broadcast.
type EventStream struct {
	lock        sync.Mutex
	subscribers map[chan events.Event]bool
}

func NewEventStream() *EventStream {
	return &EventStream{
		subscribers: make(map[chan events.Event]bool),
	}
}

func (s *EventStream) Broadcast(event events.Event) {
	s.lock.Lock()
	defer s.lock.Unlock()
	for ch := range s.subscribers {
		select {
		case ch <- event:
		default:
			log.Warn("Dropping %s event for slow subscriber", event.Type)
		}
	}
}

func (s *EventStream) subscribe() chan events.Event {
	ch := make(chan events.Event, subscriberBuffer)
	s.lock.Lock()
	s.subscribers[ch] = true
	s.lock.Unlock()
	return ch
}

func (s *EventStream) unsubscribe(ch chan events.Event) {
	s.lock.Lock()
	delete(s.subscribers, ch)
	s.lock.Unlock()
}

// HandleWebsocket upgrades the request and streams events until the
// client goes away.
func (s *EventStream) HandleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Error("Failed to accept websocket connection: %v", err)
		return
	}
	defer conn.CloseNow()

	ch := s.subscribe()
	defer s.unsubscribe(ch)

	log.Debug("New event stream subscriber from %s", r.RemoteAddr)

	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case event := <-ch:
			if err := wsjson.Write(ctx, conn, event); err != nil {
				log.Trace("Event stream closed for %s: %v", r.RemoteAddr, err)
				return
			}
		}
	}
}
