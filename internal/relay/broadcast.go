package relay

import (
	"log"

	"github.com/npezzotti/room-relay/internal/stats"
)

// broadcaster pushes events to connection sinks. A failed push is logged and
// counted; it never stops delivery to the remaining handles.
type broadcaster struct {
	registry *Registry
	log      *log.Logger
	stats    stats.StatsProvider
}

func (b *broadcaster) send(id ConnID, evt *ServerEvent) bool {
	c, ok := b.registry.lookup(id)
	if !ok {
		return false
	}

	if !c.sink.Send(evt) {
		b.log.Printf("dropped %q event for connection %q", evt.Event, id)
		b.stats.Incr(stats.NumDroppedEvents)
		return false
	}
	return true
}

// broadcast sends evt to every handle except the one given as except.
func (b *broadcaster) broadcast(handles []ConnID, evt *ServerEvent, except ConnID) {
	for _, id := range handles {
		if id == except {
			continue
		}
		b.send(id, evt)
	}
}
