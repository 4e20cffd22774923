// Package fanout multiplexes one stream of hal.TimestampedFrame values
// out to any number of subscribers, each optionally filtered to a
// subset of identifiers. It backs the stream sessions of
// internal/simhal, internal/serialhal and internal/socketcanhal (each
// open session is one subscriber with its own hal.Filter), which is how
// internal/bridge's single-client session, opened with hal.MatchAll,
// receives frames.
//
// Adapted directly from the teacher's internal/hub.Hub: same
// Add/Remove/Broadcast/Snapshot shape and the same backpressure
// policy (drop or kick a slow subscriber), generalized with a Filter
// predicate per client since this module's consumers are not all
// "every frame to every client" like the teacher's TCP hub was.
package fanout

import (
	"sync"

	"github.com/grapple-robotics/grplcan-go/internal/hal"
	"github.com/grapple-robotics/grplcan-go/internal/logging"
	"github.com/grapple-robotics/grplcan-go/internal/metrics"
)

type BackpressurePolicy int

const (
	PolicyDrop BackpressurePolicy = iota
	PolicyKick
)

// Client is one subscriber to a Hub. Filter restricts which frames it
// receives; the zero Filter (hal.MatchAll) receives everything.
type Client struct {
	Out       chan hal.TimestampedFrame
	Closed    chan struct{}
	Filter    hal.Filter
	closeOnce sync.Once
}

// Close signals the client is closed (idempotent).
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.Closed)
	})
}

// Hub fans one producer out to many filtered subscribers.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]struct{}
	OutBufSize int
	Policy     BackpressurePolicy
}

// New creates a Hub with default settings.
func New() *Hub { return &Hub{clients: make(map[*Client]struct{})} }

// Add registers a client with the hub.
func (h *Hub) Add(c *Client) {
	h.mu.Lock()
	prev := len(h.clients)
	h.clients[c] = struct{}{}
	cur := len(h.clients)
	h.mu.Unlock()
	metrics.SetFanoutClients(cur)
	if prev == 0 && cur == 1 {
		logging.L().Info("fanout_first_subscriber")
	}
}

// Remove unregisters a client; safe to call multiple times.
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	_, existed := h.clients[c]
	if existed {
		delete(h.clients, c)
	}
	cur := len(h.clients)
	h.mu.Unlock()
	select {
	case <-c.Closed:
	default:
		c.Close()
	}
	metrics.SetFanoutClients(cur)
	if existed && cur == 0 {
		logging.L().Info("fanout_last_subscriber_removed")
	}
}

// Broadcast delivers frame to every client whose Filter matches
// frame.ID, honoring the backpressure policy for slow subscribers.
func (h *Hub) Broadcast(frame hal.TimestampedFrame) {
	clients := h.Snapshot()
	var matched []*Client
	for _, c := range clients {
		if c.Filter.Matches(frame.ID) {
			matched = append(matched, c)
		}
	}
	metrics.SetFanoutBroadcast(len(matched))

	if len(matched) > 0 {
		max, sum := 0, 0
		for _, c := range matched {
			l := len(c.Out)
			if l > max {
				max = l
			}
			sum += l
		}
		metrics.SetQueueDepth(max, sum/len(matched))
	}

	for _, c := range matched {
		select {
		case c.Out <- frame:
		default:
			if h.Policy == PolicyKick {
				metrics.IncFanoutKick()
				c.Close()
			} else {
				metrics.IncFanoutDrop()
			}
		}
	}
}

// Snapshot returns a slice copy of current clients (read-only use).
func (h *Hub) Snapshot() []*Client {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	return clients
}

// Count returns the number of active clients.
func (h *Hub) Count() int { h.mu.RLock(); n := len(h.clients); h.mu.RUnlock(); return n }
