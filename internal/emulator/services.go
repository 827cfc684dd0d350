package emulator

import (
	"sync"
	"time"

	"github.com/deskthing-dev/deskthing/internal/config"
	"github.com/deskthing-dev/deskthing/internal/emulator/protocol"
	"github.com/deskthing-dev/deskthing/internal/emulator/state"
	"github.com/deskthing-dev/deskthing/internal/logger"
)

// timeInterval is how often the device clock broadcast goes out.
const timeInterval = 30 * time.Second

// musicService nudges the app to refresh playback state on a fixed
// interval, simulating the periodic poll a real server performs. It is
// stopped while the app process is down so restarts don't pile up ticks.
type musicService struct {
	log      *logger.Logger
	bus      busLike
	interval time.Duration

	mu   sync.Mutex
	stop chan struct{}
}

func newMusicService(log *logger.Logger, b busLike, intervalSeconds int) *musicService {
	return &musicService{
		log:      log,
		bus:      b,
		interval: time.Duration(intervalSeconds) * time.Second,
	}
}

func (m *musicService) Start() {
	if m.interval <= 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stop != nil {
		return
	}
	stop := make(chan struct{})
	m.stop = stop

	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.log.Debug("requesting song refresh")
				m.bus.Notify(protocol.ChannelAppData, protocol.Message{
					Type:    protocol.TypeGet,
					Request: "refresh",
				})
			case <-stop:
				return
			}
		}
	}()
}

func (m *musicService) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stop != nil {
		close(m.stop)
		m.stop = nil
	}
}

// timeService broadcasts the host clock to connected clients so the
// simulated device face stays current.
type timeService struct {
	bus busLike

	mu   sync.Mutex
	stop chan struct{}
}

func newTimeService(b busLike) *timeService {
	return &timeService{bus: b}
}

func (t *timeService) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop != nil {
		return
	}
	stop := make(chan struct{})
	t.stop = stop

	go func() {
		ticker := time.NewTicker(timeInterval)
		defer ticker.Stop()
		t.broadcast()
		for {
			select {
			case <-ticker.C:
				t.broadcast()
			case <-stop:
				return
			}
		}
	}()
}

func (t *timeService) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop != nil {
		close(t.stop)
		t.stop = nil
	}
}

func (t *timeService) broadcast() {
	now := time.Now()
	_, offsetSeconds := now.Zone()
	t.bus.Publish(protocol.ChannelClientRequest, protocol.Message{
		Type:    protocol.DeviceTime,
		Request: "set",
		App:     "client",
		Payload: protocol.TimePayload{
			UTCTime:        now.UnixMilli(),
			TimezoneOffset: -offsetSeconds / 60,
		},
	})
}

// serverService answers requests arriving from connected clients over the
// bus: state reads, settings writes, config lookups, and log passthrough.
// Anything it does not recognize is republished on the response channel so
// browser panels can observe unhandled traffic.
type serverService struct {
	log   *logger.Logger
	bus   busLike
	store *state.Store
	cfg   *config.Config
	app   interface{ Manifest() *protocol.AppManifest }
}

func newServerService(log *logger.Logger, b busLike, store *state.Store, cfg *config.Config, app interface{ Manifest() *protocol.AppManifest }) *serverService {
	return &serverService{log: log, bus: b, store: store, cfg: cfg, app: app}
}

// handle processes one client-originated request.
func (s *serverService) handle(data any) {
	msg, err := protocol.ToMessage(data)
	if err != nil {
		s.log.Warn("client sent a malformed request: %v", err)
		return
	}

	switch msg.Type {
	case "getData":
		s.respond(protocol.Message{Type: "data", Payload: s.store.Data()})
	case "getManifest":
		s.respond(protocol.Message{Type: protocol.DeviceManifest, Payload: s.app.Manifest()})
	case "getSettings":
		s.respond(protocol.Message{Type: protocol.DeviceSettings, Payload: s.store.Settings()})
	case "setSettings":
		settings, err := protocol.ToSettings(msg.Payload)
		if err != nil {
			s.log.Warn("client sent malformed settings: %v", err)
			return
		}
		s.store.UpdateSettings(settings)
	case "getClientConfig":
		s.respond(protocol.Message{Type: "clientConfig", Payload: s.cfg.Development.Client})
	case protocol.TypeLog:
		if text, ok := msg.Payload.(string); ok {
			s.log.AppLog(msg.Request, text)
		}
	default:
		s.bus.Publish(protocol.ChannelClientResponse, msg)
	}
}

func (s *serverService) respond(msg protocol.Message) {
	msg.App = "client"
	s.bus.Publish(protocol.ChannelClientResponse, msg)
}
