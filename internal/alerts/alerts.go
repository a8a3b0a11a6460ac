// Package alerts provides an in-process publish/subscribe registry for
// crisis alerts.
//
// The registry is owned by the service process and passed by reference to
// the dialogue flow and the API layer: subscribers register on connect and
// deregister on disconnect, and publishing is best-effort fan-out with no
// delivery guarantee.
package alerts

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/kindpath/sfbtcoach/internal/models"
)

// DefaultBufferSize is the per-subscriber channel buffer. Publishing never
// blocks: alerts beyond the buffer are dropped for that subscriber.
const DefaultBufferSize = 16

// Registry manages alert subscribers.
type Registry struct {
	mu          sync.RWMutex
	subscribers map[string]chan models.CrisisAlert
	bufferSize  int
}

// NewRegistry creates an empty alert registry.
func NewRegistry() *Registry {
	return &Registry{
		subscribers: make(map[string]chan models.CrisisAlert),
		bufferSize:  DefaultBufferSize,
	}
}

// Subscribe registers a new subscriber and returns its ID and receive
// channel. The channel is closed by Unsubscribe.
func (r *Registry) Subscribe() (string, <-chan models.CrisisAlert) {
	id := uuid.NewString()
	ch := make(chan models.CrisisAlert, r.bufferSize)

	r.mu.Lock()
	r.subscribers[id] = ch
	r.mu.Unlock()

	slog.Debug("Registry.Subscribe: subscriber registered", "id", id)
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel. Unknown IDs are
// ignored.
func (r *Registry) Unsubscribe(id string) {
	r.mu.Lock()
	ch, ok := r.subscribers[id]
	if ok {
		delete(r.subscribers, id)
	}
	r.mu.Unlock()

	if ok {
		close(ch)
		slog.Debug("Registry.Unsubscribe: subscriber removed", "id", id)
	}
}

// Publish fans an alert out to all current subscribers. Fire-and-forget:
// subscribers with full buffers miss the alert.
func (r *Registry) Publish(alert models.CrisisAlert) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	delivered := 0
	for id, ch := range r.subscribers {
		select {
		case ch <- alert:
			delivered++
		default:
			slog.Warn("Registry.Publish: subscriber buffer full, alert dropped", "id", id, "alertID", alert.ID)
		}
	}
	slog.Debug("Registry.Publish: alert published", "alertID", alert.ID, "subscribers", len(r.subscribers), "delivered", delivered)
}

// Len returns the current subscriber count.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subscribers)
}
