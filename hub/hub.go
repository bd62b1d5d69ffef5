package hub

import (
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Session is what the transport layer needs from the coordination core:
// somewhere to hand inbound frames, and somewhere to report a dead
// connection. A non-nil HandleFrame error means the peer violated the
// protocol and the connection must close.
type Session interface {
	HandleFrame(connID string, data []byte) error
	Disconnect(connID string)
}

// Client owns one WebSocket transport. All outbound traffic goes through
// Send, a buffered FIFO queue drained by the connection's write pump, so
// frames enqueued in order arrive in order.
type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte

	// mu orders enqueues against closeQueue: a removal can never close the
	// channel while a delivery holds it.
	mu     sync.Mutex
	closed bool
}

// enqueue adds a frame unless the queue is already closed or full.
func (c *Client) enqueue(frame []byte) (queued, open bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, false
	}
	select {
	case c.Send <- frame:
		return true, true
	default:
		return false, true
	}
}

// closeQueue closes Send exactly once; the write pump flushes whatever is
// still buffered and exits.
func (c *Client) closeQueue() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.Send)
}

// Hub is the broadcast dispatcher: it resolves connection ids to clients and
// fans frames out without ever blocking on a single peer. A peer whose queue
// is full gets its transport closed; the read pump then reports the death
// through the normal disconnect path.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client

	// Lock-free count for the health endpoint.
	clientCount int64
}

func New() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

// Add registers a client's transport under its connection id.
func (h *Hub) Add(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()
	atomic.AddInt64(&h.clientCount, 1)
}

// Remove drops a client and closes its send queue, which lets the write
// pump flush what is buffered and exit. Safe to call more than once.
func (h *Hub) Remove(id string) {
	h.mu.Lock()
	c, ok := h.clients[id]
	if ok {
		delete(h.clients, id)
	}
	h.mu.Unlock()
	if !ok {
		return
	}
	atomic.AddInt64(&h.clientCount, -1)
	c.closeQueue()
}

// Send queues one frame for one connection.
func (h *Hub) Send(id string, frame []byte) {
	h.mu.RLock()
	c, ok := h.clients[id]
	h.mu.RUnlock()
	if !ok {
		return
	}
	h.deliver(c, frame)
}

// Broadcast queues one frame for many connections. Delivery order across
// recipients is unspecified; per recipient it is FIFO with everything else
// sent to that recipient.
func (h *Hub) Broadcast(ids []string, frame []byte) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(ids))
	for _, id := range ids {
		if c, ok := h.clients[id]; ok {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.deliver(c, frame)
	}
}

// deliver enqueues without blocking. A queue closed by a racing removal
// drops the frame. A full queue means the peer has not kept up for an
// entire buffer's worth of frames; closing its transport hands cleanup to
// the read pump rather than stalling everyone else.
func (h *Hub) deliver(c *Client, frame []byte) {
	queued, open := c.enqueue(frame)
	if queued || !open {
		return
	}
	logrus.WithFields(logrus.Fields{
		"component": "hub",
		"conn_id":   c.ID,
	}).Warn("send queue full, closing slow connection")
	c.Conn.Close()
}

// Count returns the number of attached transports.
func (h *Hub) Count() int {
	return int(atomic.LoadInt64(&h.clientCount))
}
