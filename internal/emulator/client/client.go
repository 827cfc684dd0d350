package client

import (
	"sync"

	"github.com/google/uuid"

	"github.com/deskthing-dev/deskthing/internal/emulator/protocol"
	"github.com/deskthing-dev/deskthing/internal/logger"
)

// maxQueuedMessages bounds the pending queue. A session can run for hours
// with no frame attached while periodic broadcasts keep arriving; past the
// cap the oldest messages are dropped, they would be stale on attach anyway.
const maxQueuedMessages = 512

// Frame is the embedded app view. Post delivers one message into it and
// fails while the frame is not ready to receive.
type Frame interface {
	Post(msg protocol.Message) error
}

// Bus is the slice of the message bus the client router needs.
type Bus interface {
	Notify(event string, data any)
	Publish(event string, data any)
}

// AppInfo resolves the running app's identity for message addressing.
type AppInfo interface {
	AppID() string
	Manifest() *protocol.AppManifest
}

// DataSource exposes the emulator state the simulated device reads.
type DataSource interface {
	Settings() protocol.Settings
	Song() *protocol.Song
}

// Client is the simulated device's message router. Messages bound for the
// embedded app frame queue up while the frame is detached and drain in
// order once it attaches. Messages arriving from the frame are either
// answered locally (app "client") or forwarded onto the bus toward the
// running app.
type Client struct {
	log  *logger.Logger
	bus  Bus
	app  AppInfo
	data DataSource

	id string

	mu    sync.Mutex
	frame Frame
	queue []protocol.Message
}

// New creates a Client with a fresh connection id and no frame attached.
func New(log *logger.Logger, b Bus, app AppInfo, data DataSource) *Client {
	return &Client{
		log:  log,
		bus:  b,
		app:  app,
		data: data,
		id:   uuid.NewString(),
	}
}

// ID returns the connection id stamped on forwarded messages.
func (c *Client) ID() string {
	return c.id
}

// Attach sets the active frame and drains any queued messages into it.
func (c *Client) Attach(frame Frame) {
	c.mu.Lock()
	c.frame = frame
	c.mu.Unlock()
	c.ProcessMessageQueue()
}

// Detach clears the frame; subsequent sends queue.
func (c *Client) Detach() {
	c.mu.Lock()
	c.frame = nil
	c.mu.Unlock()
}

// QueueLen reports pending messages awaiting a frame.
func (c *Client) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// SendToFrame stamps the message with the emulator source tag and posts it
// into the frame. A detached frame or a failed post queues the message and
// returns false. Older queued messages always drain first so submission
// order survives a mid-drain failure.
func (c *Client) SendToFrame(msg protocol.Message) bool {
	msg.Source = protocol.FrameSource

	c.ProcessMessageQueue()

	c.mu.Lock()
	frame := c.frame
	pending := len(c.queue)
	c.mu.Unlock()

	if frame != nil && pending == 0 {
		if err := frame.Post(msg); err == nil {
			return true
		}
	}

	c.enqueue(msg)
	c.log.Debug("frame not ready, queued %q message", msg.Type)
	return false
}

// enqueue appends to the pending queue, dropping the oldest entries past
// the cap.
func (c *Client) enqueue(msg protocol.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = append(c.queue, msg)
	if over := len(c.queue) - maxQueuedMessages; over > 0 {
		c.queue = c.queue[over:]
	}
}

// ProcessMessageQueue drains queued messages head first, stopping at the
// first failed post so ordering survives a flaky frame.
func (c *Client) ProcessMessageQueue() {
	for {
		c.mu.Lock()
		if len(c.queue) == 0 || c.frame == nil {
			c.mu.Unlock()
			return
		}
		msg := c.queue[0]
		c.queue = c.queue[1:]
		frame := c.frame
		c.mu.Unlock()

		if err := frame.Post(msg); err != nil {
			c.mu.Lock()
			c.queue = append([]protocol.Message{msg}, c.queue...)
			c.mu.Unlock()
			return
		}
	}
}

// HandleDeviceMessage delivers one server-originated message to the frame.
// Messages addressed to another connection are dropped.
func (c *Client) HandleDeviceMessage(msg protocol.Message) {
	if msg.ClientID != "" && msg.ClientID != c.id {
		return
	}
	c.SendToFrame(msg)
}

// HandleFrameMessage processes one message emitted by the embedded app
// frame. Emulator-stamped messages are echoes of our own posts and are
// ignored. App "client" messages are answered locally; everything else is
// forwarded onto the bus addressed to the running app.
func (c *Client) HandleFrameMessage(msg protocol.Message) {
	if msg.Source == protocol.FrameSource {
		return
	}

	if msg.App == "client" {
		c.handleLocal(msg)
		return
	}

	appID := msg.App
	if appID == "" {
		appID = c.app.AppID()
	}
	if appID == "" {
		appID = "unknownId"
	}
	msg.App = appID
	msg.ClientID = c.id
	c.bus.Notify(protocol.ChannelAppData, msg)
}

func (c *Client) handleLocal(msg protocol.Message) {
	switch msg.Type {
	case protocol.TypeGet:
		c.handleLocalGet(msg)
	case protocol.TypeLog:
		text, ok := msg.Payload.(string)
		if !ok {
			c.log.Warn("client log payload is not a string")
			return
		}
		c.log.AppLog(msg.Request, text)
	case protocol.TypeKey, protocol.TypeAction:
		// input bindings route to the app like any other app-bound message
		msg.App = c.app.AppID()
		msg.ClientID = c.id
		c.bus.Notify(protocol.ChannelAppData, msg)
	default:
		c.log.Warn("client sent unknown message type %q", msg.Type)
	}
}

func (c *Client) handleLocalGet(msg protocol.Message) {
	switch msg.Request {
	case "song", "music":
		c.SendToFrame(protocol.Message{
			Type:    protocol.DeviceMusic,
			App:     "client",
			Payload: c.data.Song(),
		})
	case "settings":
		c.SendToFrame(protocol.Message{
			Type:    protocol.DeviceSettings,
			App:     "client",
			Payload: c.data.Settings(),
		})
	case "apps":
		apps := []any{}
		if manifest := c.app.Manifest(); manifest != nil {
			apps = append(apps, manifest)
		}
		c.SendToFrame(protocol.Message{
			Type:    protocol.DeviceApps,
			App:     "client",
			Payload: apps,
		})
	case "manifest":
		c.SendToFrame(protocol.Message{
			Type:    protocol.DeviceManifest,
			App:     "client",
			Payload: c.app.Manifest(),
		})
	default:
		c.log.Warn("client sent unknown get request %q", msg.Request)
	}
}
