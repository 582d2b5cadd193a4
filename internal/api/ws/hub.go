package ws

import (
	"time"

	"go.uber.org/zap"

	"github.com/BrainDriveAI/plugin-engine/internal/infrastructure/logging"
	"github.com/BrainDriveAI/plugin-engine/internal/infrastructure/monitoring"
	"github.com/BrainDriveAI/plugin-engine/internal/shared/types"
)

// eventBuffer absorbs bursts from background service operations so
// Publish never blocks a domain goroutine.
const eventBuffer = 256

// Hub broadcasts engine events to every connected stream client.
type Hub struct {
	logger  *logging.Logger
	metrics *monitoring.Metrics

	register   chan *client
	unregister chan *client
	events     chan types.Event
	stop       chan struct{}
	done       chan struct{}
}

// NewHub creates a hub. Call Run in its own goroutine before publishing.
func NewHub(logger *logging.Logger, metrics *monitoring.Metrics) *Hub {
	return &Hub{
		logger:     logger,
		metrics:    metrics,
		register:   make(chan *client),
		unregister: make(chan *client),
		events:     make(chan types.Event, eventBuffer),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Run owns the client set until Stop. Only this goroutine touches the
// set or closes a client, so no client is ever closed twice.
func (h *Hub) Run() {
	defer close(h.done)
	clients := make(map[*client]bool)

	for {
		select {
		case cl := <-h.register:
			clients[cl] = true
			if h.metrics != nil {
				h.metrics.IncWSConnections()
			}
			h.logger.Info("Stream client connected",
				zap.String("client", cl.id),
				zap.Int("clients", len(clients)))

		case cl := <-h.unregister:
			if clients[cl] {
				delete(clients, cl)
				close(cl.done)
				if h.metrics != nil {
					h.metrics.DecWSConnections()
				}
				h.logger.Info("Stream client disconnected",
					zap.String("client", cl.id),
					zap.Int("clients", len(clients)))
			}

		case ev := <-h.events:
			for cl := range clients {
				select {
				case cl.send <- ev:
				default:
					// A full queue means the reader stalled; cut it
					// loose so the rest keep receiving.
					delete(clients, cl)
					close(cl.done)
					if h.metrics != nil {
						h.metrics.DecWSConnections()
					}
					h.logger.Warn("Dropping slow stream client",
						zap.String("client", cl.id),
						zap.String("event", string(ev.Type)))
				}
			}
			if h.metrics != nil {
				h.metrics.RecordWSMessage("out", string(ev.Type))
			}

		case <-h.stop:
			for cl := range clients {
				close(cl.done)
			}
			return
		}
	}
}

// Publish queues an event for broadcast. It never blocks: once the hub
// has stopped the event is discarded, and a saturated buffer drops the
// event with a warning.
func (h *Hub) Publish(ev types.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	select {
	case <-h.done:
	case h.events <- ev:
	default:
		h.logger.Warn("Event buffer full, dropping event",
			zap.String("type", string(ev.Type)),
			zap.String("slug", ev.Slug))
	}
}

// Stop disconnects every client and ends the Run loop.
func (h *Hub) Stop() {
	close(h.stop)
	<-h.done
}
