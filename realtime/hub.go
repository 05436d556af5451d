// Package realtime fans post change events out to websocket clients and
// in-process subscribers.
package realtime

import (
	"context"
	"net/http"
	"sync"
	"time"

	"crisisfeed/models"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// Event is one whole-row change. Inserts and updates carry the full row in
// Record; deletes carry only the id in OldRecord.
type Event struct {
	Type      EventType    `json:"type"`
	Record    *models.Post `json:"record,omitempty"`
	OldRecord *OldRecord   `json:"old_record,omitempty"`
}

type OldRecord struct {
	ID string `json:"id"`
}

func InsertEvent(p models.Post) Event {
	return Event{Type: EventInsert, Record: &p}
}

func UpdateEvent(p models.Post) Event {
	return Event{Type: EventUpdate, Record: &p}
}

func DeleteEvent(id string) Event {
	return Event{Type: EventDelete, OldRecord: &OldRecord{ID: id}}
}

const (
	writeWait = 10 * time.Second
	// sendBuffer is how many events a websocket client may fall behind
	// before it is dropped.
	sendBuffer = 64
)

// client is one websocket peer. Its writer goroutine owns conn writes and
// exits when send is closed.
type client struct {
	conn *websocket.Conn
	send chan Event
}

type Hub struct {
	log      *zap.Logger
	upgrader websocket.Upgrader

	events  chan Event
	done    chan struct{}
	writers sync.WaitGroup

	mu      sync.Mutex
	clients map[*client]struct{}
	subs    map[int]func(Event)
	nextSub int

	clientGauge prometheus.Gauge
	eventCount  *prometheus.CounterVec
}

// NewHub creates a hub. Its metrics are registered on reg when reg is not
// nil. Events are only delivered while Run is executing.
func NewHub(log *zap.Logger, reg prometheus.Registerer) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Hub{
		log:      log,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		events:   make(chan Event, 256),
		done:     make(chan struct{}),
		clients:  make(map[*client]struct{}),
		subs:     make(map[int]func(Event)),
		clientGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "crisisfeed",
			Subsystem: "realtime",
			Name:      "clients",
			Help:      "Connected websocket clients.",
		}),
		eventCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crisisfeed",
			Subsystem: "realtime",
			Name:      "events_total",
			Help:      "Change events fanned out, by type.",
		}, []string{"type"}),
	}
	if reg != nil {
		reg.MustRegister(h.clientGauge, h.eventCount)
	}
	return h
}

// Publish queues ev for delivery. It returns false once the hub has stopped.
func (h *Hub) Publish(ev Event) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.events <- ev:
		return true
	case <-h.done:
		return false
	}
}

// Subscribe registers an in-process callback. Callbacks run on the hub's
// goroutine in publish order and must not block.
func (h *Hub) Subscribe(fn func(Event)) (unsubscribe func()) {
	h.mu.Lock()
	id := h.nextSub
	h.nextSub++
	h.subs[id] = fn
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
}

// Run delivers events until ctx is cancelled, then closes every client.
func (h *Hub) Run(ctx context.Context) error {
	defer h.shutdown()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-h.events:
			h.deliver(ev)
		}
	}
}

func (h *Hub) deliver(ev Event) {
	h.eventCount.WithLabelValues(string(ev.Type)).Inc()

	h.mu.Lock()
	subs := make([]func(Event), 0, len(h.subs))
	for _, fn := range h.subs {
		subs = append(subs, fn)
	}
	var slow []*client
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.Unlock()

	for _, c := range slow {
		h.log.Warn("realtime_client_too_slow", zap.String("remote", c.conn.RemoteAddr().String()))
		h.drop(c)
	}
	for _, fn := range subs {
		fn(ev)
	}
}

// register adds conn as a client and accounts for its writer. It reports
// false once the hub has stopped.
func (h *Hub) register(conn *websocket.Conn) (*client, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.done:
		return nil, false
	default:
	}
	c := &client{conn: conn, send: make(chan Event, sendBuffer)}
	h.clients[c] = struct{}{}
	h.clientGauge.Inc()
	h.writers.Add(1)
	return c, true
}

// drop unregisters c and closes its connection, which also unblocks a
// writer stuck on a stalled peer.
func (h *Hub) drop(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		h.clientGauge.Dec()
	}
	h.mu.Unlock()
	c.conn.Close()
}

func (h *Hub) writePump(c *client) {
	defer h.writers.Done()
	defer c.conn.Close()
	for ev := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(ev); err != nil {
			h.log.Warn("realtime_send_failed", zap.String("remote", c.conn.RemoteAddr().String()), zap.Error(err))
			h.drop(c)
			return
		}
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
		time.Now().Add(time.Second))
}

// shutdown closes every send queue and waits for the writers to finish.
func (h *Hub) shutdown() {
	close(h.done)
	h.mu.Lock()
	for c := range h.clients {
		close(c.send)
	}
	h.clients = make(map[*client]struct{})
	h.clientGauge.Set(0)
	h.mu.Unlock()
	h.writers.Wait()
}

// ServeWS upgrades the request and keeps the connection registered until
// the peer goes away. Clients never send anything meaningful; the read loop
// only notices disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "realtime hub stopped", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket_upgrade_failed", zap.Error(err))
		return
	}
	c, ok := h.register(conn)
	if !ok {
		conn.Close()
		return
	}
	go h.writePump(c)
	h.log.Debug("realtime_client_connected", zap.String("remote", conn.RemoteAddr().String()))

	defer h.drop(c)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.log.Debug("realtime_client_gone", zap.String("remote", conn.RemoteAddr().String()), zap.Error(err))
			return
		}
	}
}

// Clients returns the number of connected websocket clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
