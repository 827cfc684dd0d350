package router

import (
	"encoding/json"
	"fmt"
	"os/exec"
	"runtime"
	"time"

	"github.com/deskthing-dev/deskthing/internal/emulator/metrics"
	"github.com/deskthing-dev/deskthing/internal/emulator/protocol"
	"github.com/deskthing-dev/deskthing/internal/emulator/state"
	"github.com/deskthing-dev/deskthing/internal/logger"
)

// maxPayloadPreview caps the payload excerpt logged for unmatched requests.
const maxPayloadPreview = 1000

// Handler processes one app-originated message. Handlers are fire and
// forget: they log their own failures and return nothing to the caller.
type Handler func(app string, msg protocol.Message)

// Bus is the slice of the message bus the router needs.
type Bus interface {
	Notify(event string, data any)
	Publish(event string, data any)
}

// Router dispatches app-originated typed messages to handlers keyed by
// {type, request}. Lookup falls back to the group's "default" entry, then
// to a logger for unmatched requests. An unrecognized type is logged and
// dropped without invoking anything.
type Router struct {
	log     *logger.Logger
	bus     Bus
	store   *state.Store
	metrics *metrics.Metrics
	openURL func(url string) error

	table map[string]map[string]Handler
}

// New builds a Router with the full handler table installed.
func New(log *logger.Logger, b Bus, store *state.Store, m *metrics.Metrics) *Router {
	r := &Router{
		log:     log,
		bus:     b,
		store:   store,
		metrics: m,
		openURL: openURL,
	}
	r.table = map[string]map[string]Handler{
		protocol.TypeGet: {
			"data":        r.handleGetData,
			"config":      r.handleGetConfig,
			"settings":    r.handleGetSettings,
			"input":       r.handleGetInput,
			"connections": r.handleGetConnections,
		},
		protocol.TypeSet: {
			"data":          r.handleSetData,
			"settings":      r.handleSetSettings,
			"settings-init": r.handleInitSettings,
			"appData":       r.handleSetAppData,
			"default":       r.handleRequestMissing,
		},
		protocol.TypeDelete: {
			"data":     r.handleDeleteData,
			"settings": r.handleDeleteSettings,
		},
		protocol.TypeOpen: {
			"default": r.handleOpen,
		},
		protocol.TypeSend: {
			"default": r.handleSendToClient,
		},
		protocol.TypeToApp: {
			"default": r.handleSendToApp,
		},
		protocol.TypeLog: {
			"log":     r.handleLog,
			"debug":   r.handleLog,
			"error":   r.handleLog,
			"fatal":   r.handleLog,
			"warn":    r.handleLog,
			"message": r.handleLog,
			"default": r.handleRequestMissing,
		},
		protocol.TypeKey: {
			"add":     r.handleKeyUnsupported,
			"remove":  r.handleKeyUnsupported,
			"trigger": r.handleKeyUnsupported,
			"default": r.handleRequestMissing,
		},
		protocol.TypeAction: {
			"add":     r.handleActionUnsupported,
			"remove":  r.handleActionUnsupported,
			"update":  r.handleActionUnsupported,
			"run":     r.handleActionUnsupported,
			"default": r.handleRequestMissing,
		},
		protocol.TypeSong: {
			"data":    r.handleSong,
			"default": r.handleSong,
		},
		protocol.TypeStep: {"default": func(string, protocol.Message) {}},
		protocol.TypeTask: {"default": func(string, protocol.Message) {}},
	}
	return r
}

// Handle dispatches one message. It never returns an error and never lets
// a handler panic escape: failures are logged and the bus keeps running.
func (r *Router) Handle(app string, msg protocol.Message) {
	group, ok := r.table[msg.Type]
	if !ok {
		r.metrics.RouterUnknown.Inc()
		r.log.Error("unknown event type %q with request %q", msg.Type, msg.Request)
		return
	}

	handler := group[msg.Request]
	if handler == nil {
		handler = group["default"]
	}
	if handler == nil {
		r.handleRequestMissing(app, msg)
		return
	}

	r.metrics.RouterDispatched.WithLabelValues(msg.Type).Inc()

	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("handler for %s/%s panicked: %v", msg.Type, msg.Request, rec)
		}
	}()
	handler(app, msg)
}

// handleRequestMissing logs unmatched {type, request} pairs with a bounded
// payload excerpt.
func (r *Router) handleRequestMissing(app string, msg protocol.Message) {
	preview := "undefined"
	if msg.Payload != nil {
		raw, err := json.Marshal(msg.Payload)
		switch {
		case err != nil:
			preview = fmt.Sprintf("<unencodable: %v>", err)
		case len(raw) > maxPayloadPreview:
			preview = "[Large Payload]"
		default:
			preview = string(raw)
		}
	}
	r.log.Warn("app %s sent unknown data type %q and request %q with payload %s", app, msg.Type, msg.Request, preview)
}

func (r *Router) handleGetData(app string, msg protocol.Message) {
	r.log.Info("app is requesting data")
	r.bus.Notify(protocol.ChannelAppData, protocol.Message{Type: "data", Payload: r.store.Data()})
}

func (r *Router) handleGetConfig(app string, msg protocol.Message) {
	r.bus.Notify(protocol.ChannelAppData, protocol.Message{Type: "config", Payload: map[string]any{}})
	r.log.Warn("%s tried accessing the deprecated Config data type", app)
}

func (r *Router) handleGetSettings(app string, msg protocol.Message) {
	r.log.Info("app is requesting settings")
	r.bus.Notify(protocol.ChannelAppData, protocol.Message{Type: "settings", Payload: r.store.Settings()})
}

// handleGetInput answers input scopes with placeholder values; the emulator
// has no user to prompt.
func (r *Router) handleGetInput(app string, msg protocol.Message) {
	template := map[string]any{}
	if scope, ok := msg.Payload.(map[string]any); ok {
		for key := range scope {
			template[key] = "arbData"
		}
	}
	r.log.Info("app is requesting input")
	r.bus.Notify(protocol.ChannelAppData, protocol.Message{Type: "input", Payload: template})
}

// handleGetConnections synthesizes a single sample client so apps that
// enumerate connections see a realistic shape.
func (r *Router) handleGetConnections(app string, msg protocol.Message) {
	r.log.Info("app is requesting connections")
	sample := map[string]any{
		"clientId":        "sample-id",
		"connected":       false,
		"connectionState": "disconnected",
		"timestamp":       time.Now().UnixMilli(),
		"currentApp":      app,
		"meta":            map[string]any{},
	}
	r.bus.Notify(protocol.ChannelAppData, protocol.Message{
		Type:    "clientStatus",
		Request: "connections",
		Payload: []any{sample},
	})
}

func (r *Router) handleSetData(app string, msg protocol.Message) {
	data, ok := msg.Payload.(map[string]any)
	if !ok {
		r.log.Warn("set data payload from %s is not an object", app)
		return
	}
	r.log.Info("simulating adding data")
	r.store.SetData(data)
}

func (r *Router) handleSetSettings(app string, msg protocol.Message) {
	settings, err := protocol.ToSettings(msg.Payload)
	if err != nil {
		r.log.Warn("set settings payload from %s is malformed: %v", app, err)
		return
	}
	r.log.Info("simulating adding settings")
	r.store.SetSettings(settings)
}

func (r *Router) handleInitSettings(app string, msg protocol.Message) {
	settings, err := protocol.ToSettings(msg.Payload)
	if err != nil {
		r.log.Warn("settings-init payload from %s is malformed: %v", app, err)
		return
	}
	r.log.Info("simulating initializing settings")
	r.store.InitSettings(settings)
}

func (r *Router) handleSetAppData(app string, msg protocol.Message) {
	payload, ok := msg.Payload.(map[string]any)
	if !ok {
		return
	}
	r.store.SetAppData(payload)
}

func (r *Router) handleDeleteData(app string, msg protocol.Message) {
	ids, ok := toStringList(msg.Payload)
	if !ok {
		r.log.Info("cannot delete data: payload is not a string or string list")
		return
	}
	r.log.Info("%s is deleting data: %v", app, ids)
	r.store.DeleteData(ids)
}

func (r *Router) handleDeleteSettings(app string, msg protocol.Message) {
	ids, ok := toStringList(msg.Payload)
	if !ok {
		r.log.Warn("cannot delete settings: payload is not a string or string list")
		return
	}
	r.log.Info("%s is deleting settings: %v", app, ids)
	r.store.DeleteSettings(ids)
}

func (r *Router) handleOpen(app string, msg protocol.Message) {
	url, ok := msg.Payload.(string)
	if !ok {
		r.log.Warn("open payload from %s is not a URL string", app)
		return
	}
	r.log.Info("if your browser doesn't open automatically, click the url:\n\n%s\n", url)
	if err := r.openURL(url); err != nil {
		r.log.Error("error opening URL: %v", err)
	}
}

// handleSendToClient unwraps the nested message and republishes it toward
// the simulated client, filling the app id when the payload omits one.
func (r *Router) handleSendToClient(app string, msg protocol.Message) {
	inner, err := protocol.ToMessage(msg.Payload)
	if err != nil {
		r.log.Warn("send payload from %s is not a message: %v", app, err)
		return
	}
	if inner.App == "" {
		inner.App = app
	}
	r.bus.Publish(protocol.ChannelClientRequest, inner)
}

func (r *Router) handleSendToApp(app string, msg protocol.Message) {
	r.log.Info("sent data to other app (single-app emulator, nothing delivered)")
}

func (r *Router) handleLog(app string, msg protocol.Message) {
	text, ok := msg.Payload.(string)
	if !ok {
		raw, err := json.Marshal(msg.Payload)
		if err != nil {
			r.log.Warn("log payload from %s is unencodable: %v", app, err)
			return
		}
		text = string(raw)
	}
	r.log.AppLog(msg.Request, text)
}

func (r *Router) handleKeyUnsupported(app string, msg protocol.Message) {
	r.log.Warn("key data isn't supported")
}

func (r *Router) handleActionUnsupported(app string, msg protocol.Message) {
	r.log.Warn("action data isn't supported")
}

func (r *Router) handleSong(app string, msg protocol.Message) {
	song, err := protocol.ToSong(msg.Payload)
	if err != nil {
		r.log.Warn("song payload from %s is malformed: %v", app, err)
		return
	}
	r.store.SetSong(song)
}

// toStringList accepts a single string or a list of strings, the two
// payload shapes delete requests arrive in.
func toStringList(v any) ([]string, bool) {
	switch p := v.(type) {
	case string:
		return []string{p}, true
	case []string:
		return p, true
	case []any:
		out := make([]string, 0, len(p))
		for _, item := range p {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

// openURL shells out to the platform opener.
func openURL(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", "", url)
	case "darwin":
		cmd = exec.Command("open", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}
