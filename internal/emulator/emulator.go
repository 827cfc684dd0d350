// Package emulator wires the development session together: the message
// bus, the state store, the request router, the app process supervisor,
// the simulated client, and the dev HTTP server.
package emulator

import (
	"context"
	"sync"
	"time"

	"github.com/deskthing-dev/deskthing/internal/config"
	"github.com/deskthing-dev/deskthing/internal/emulator/bus"
	"github.com/deskthing-dev/deskthing/internal/emulator/client"
	"github.com/deskthing-dev/deskthing/internal/emulator/devserver"
	"github.com/deskthing-dev/deskthing/internal/emulator/metrics"
	"github.com/deskthing-dev/deskthing/internal/emulator/protocol"
	"github.com/deskthing-dev/deskthing/internal/emulator/router"
	"github.com/deskthing-dev/deskthing/internal/emulator/state"
	"github.com/deskthing-dev/deskthing/internal/emulator/supervisor"
	"github.com/deskthing-dev/deskthing/internal/logger"
)

// busLike is the local-plus-remote fan-out surface components publish on.
type busLike interface {
	Notify(event string, data any)
	Publish(event string, data any)
}

// deviceBus layers the in-process simulated client onto the WebSocket
// bus: everything published toward the client channels is also delivered
// to the local device router, so a session without a connected browser
// still exercises the full client path.
type deviceBus struct {
	*bus.Bus

	mu     sync.Mutex
	device *client.Client
}

func (d *deviceBus) setDevice(c *client.Client) {
	d.mu.Lock()
	d.device = c
	d.mu.Unlock()
}

func (d *deviceBus) Publish(event string, data any) {
	d.Bus.Publish(event, data)

	if event != protocol.ChannelClientRequest && event != protocol.ChannelClientResponse {
		return
	}
	d.mu.Lock()
	device := d.device
	d.mu.Unlock()
	if device == nil {
		return
	}
	if msg, err := protocol.ToMessage(data); err == nil {
		device.HandleDeviceMessage(msg)
	}
}

// Session is one running emulator instance bound to a project directory.
type Session struct {
	Config  *config.Config
	Log     *logger.Logger
	Metrics *metrics.Metrics

	Bus        *bus.Bus
	Store      *state.Store
	Router     *router.Router
	Supervisor *supervisor.Supervisor
	Client     *client.Client
	DevServer  *devserver.Server

	dbus   *deviceBus
	music  *musicService
	clock  *timeService
	server *serverService

	mu      sync.Mutex
	started bool
	unsubs  []func()
}

// New builds a Session from a loaded config. Nothing starts until Start.
func New(cfg *config.Config) *Session {
	log := logger.New(
		logger.ParseLevel(cfg.Development.Logging.Level),
		cfg.Development.Logging.Prefix,
	)
	m := metrics.New()

	b := bus.New(log, m)
	dbus := &deviceBus{Bus: b}

	store := state.New(log, dbus, cfg.Development.Server.MockData.Settings)
	rt := router.New(log, dbus, store, m)
	music := newMusicService(log, dbus, cfg.Development.Server.RefreshInterval)

	sup := supervisor.New(log, m, b, rt.Handle, music, supervisor.Options{
		ProjectDir: cfg.Dir(),
		Cooldown:   time.Duration(cfg.EditCooldownMs()) * time.Millisecond,
	})

	device := client.New(log, dbus, sup, store)
	dbus.setDevice(device)

	dev := devserver.New(log, cfg, dbus, m, b.HandleWebSocket)

	return &Session{
		Config:     cfg,
		Log:        log,
		Metrics:    m,
		Bus:        b,
		Store:      store,
		Router:     rt,
		Supervisor: sup,
		Client:     device,
		DevServer:  dev,
		dbus:       dbus,
		music:      music,
		clock:      newTimeService(dbus),
		server:     newServerService(log, dbus, store, cfg, sup),
	}
}

// Start brings the whole session up: bus listener, app process, dev HTTP
// server, and the periodic services.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	if err := s.Bus.Initialize(s.Config.Development.Client.LinkPort); err != nil {
		return err
	}

	unsub := s.Bus.Subscribe(protocol.ChannelClientRequest, s.server.handle)
	s.mu.Lock()
	s.unsubs = append(s.unsubs, unsub)
	s.mu.Unlock()

	if err := s.Supervisor.Start(ctx); err != nil {
		return err
	}
	if err := s.DevServer.Start(); err != nil {
		s.Supervisor.Stop()
		s.Bus.Close()
		return err
	}

	s.clock.Start()

	s.Log.Info("emulator running at %s", s.Config.DevURL())
	return nil
}

// Stop tears the session down in reverse start order. Idempotent.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()

	s.clock.Stop()
	s.music.Stop()
	for _, unsub := range unsubs {
		unsub()
	}
	s.DevServer.Stop()
	s.Supervisor.Stop()
	s.Bus.Close()
}
