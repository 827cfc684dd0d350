package bus

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/deskthing-dev/deskthing/internal/emulator/metrics"
	"github.com/deskthing-dev/deskthing/internal/emulator/protocol"
	"github.com/deskthing-dev/deskthing/internal/logger"
)

// Callback receives the data half of an event envelope.
type Callback func(data any)

type subscription struct {
	id int
	fn Callback
}

type client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *client) send(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Bus is the development message bus: a single WebSocket endpoint plus an
// in-process subscriber table. Notify fans out locally only; Publish fans
// out to connected sockets only. Inbound socket frames are run through
// Notify, never re-published, so remote messages cannot loop back out.
type Bus struct {
	log     *logger.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	nextID  int
	subs    map[string][]subscription
	clients map[*client]struct{}
	server  *http.Server

	upgrader websocket.Upgrader
}

// New creates a Bus with no listener. Call Initialize to bind a port.
func New(log *logger.Logger, m *metrics.Metrics) *Bus {
	return &Bus{
		log:     log,
		metrics: m,
		subs:    make(map[string][]subscription),
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // local dev tool, any origin may connect
			},
		},
	}
}

// Initialize binds the WebSocket listener on the given port, replacing any
// prior listener. The old listener is closed first; Initialize is how the
// bus moves ports, not an additive call.
func (b *Bus) Initialize(port int) error {
	b.mu.Lock()
	old := b.server
	b.server = nil
	b.mu.Unlock()

	if old != nil {
		old.Close()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", b.HandleWebSocket)

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}

	srv := &http.Server{Handler: mux}

	b.mu.Lock()
	b.server = srv
	b.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			b.log.Error("message bus listener stopped: %v", err)
		}
	}()

	b.log.Debug("message bus listening on port %d", port)
	return nil
}

// HandleWebSocket upgrades an HTTP request and services the connection
// until it drops. Exported so the dev HTTP server can share the endpoint.
func (b *Bus) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Warn("websocket upgrade failed: %v", err)
		return
	}

	c := &client{conn: conn}
	b.mu.Lock()
	b.clients[c] = struct{}{}
	b.mu.Unlock()
	b.metrics.BusClients.Inc()

	defer func() {
		b.mu.Lock()
		delete(b.clients, c)
		b.mu.Unlock()
		b.metrics.BusClients.Dec()
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		b.metrics.BusFramesReceived.Inc()

		var env protocol.Envelope
		if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
			b.metrics.BusFramesDropped.Inc()
			b.log.Warn("dropping malformed frame: %v", err)
			continue
		}
		b.Notify(env.Event, env.Data)
	}
}

// Subscribe registers a local listener for an event. Subscribers are
// invoked in registration order. The returned function removes the
// subscription and is safe to call more than once.
func (b *Bus) Subscribe(event string, fn Callback) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[event] = append(b.subs[event], subscription{id: id, fn: fn})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[event]
		for i, s := range subs {
			if s.id == id {
				b.subs[event] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Notify invokes local subscribers for the event. No network hop: remote
// clients never see a Notify.
func (b *Bus) Notify(event string, data any) {
	b.mu.Lock()
	subs := make([]subscription, len(b.subs[event]))
	copy(subs, b.subs[event])
	b.mu.Unlock()

	for _, s := range subs {
		s.fn(data)
	}
}

// Publish serializes {event, data} and sends it to every connected socket.
// Sockets that fail the write are dropped with a warning. With zero clients
// Publish is a no-op.
func (b *Bus) Publish(event string, data any) {
	payload, err := json.Marshal(protocol.Envelope{Event: event, Data: data})
	if err != nil {
		b.log.Error("failed to encode %q message: %v", event, err)
		return
	}

	b.mu.Lock()
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.Unlock()

	for _, c := range clients {
		if err := c.send(payload); err != nil {
			b.log.Warn("unable to send %q to client: %v", event, err)
			b.mu.Lock()
			delete(b.clients, c)
			b.mu.Unlock()
			c.conn.Close()
			continue
		}
		b.metrics.BusPublished.Inc()
	}
}

// ClientCount reports connected sockets.
func (b *Bus) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Close shuts the listener and all connections. Idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	srv := b.server
	b.server = nil
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
		delete(b.clients, c)
	}
	b.mu.Unlock()

	for _, c := range clients {
		c.conn.Close()
	}
	if srv != nil {
		srv.Close()
	}
}
