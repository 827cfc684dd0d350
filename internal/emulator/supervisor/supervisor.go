package supervisor

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/deskthing-dev/deskthing/internal/emulator/bus"
	"github.com/deskthing-dev/deskthing/internal/emulator/metrics"
	"github.com/deskthing-dev/deskthing/internal/emulator/protocol"
	"github.com/deskthing-dev/deskthing/internal/logger"
)

const (
	// DefaultGraceWindow suppresses the filesystem event burst right after
	// start so metadata churn never triggers a spurious restart.
	DefaultGraceWindow = time.Second

	// DefaultCooldown is the restart debounce window.
	DefaultCooldown = time.Second

	// startDelay is how long after launch the start command is sent.
	startDelay = 500 * time.Millisecond

	// exitWait bounds how long terminate waits for the process to die.
	exitWait = time.Second

	// FallbackAppID tags app messages when no manifest was found.
	FallbackAppID = "testapp"
)

// MessageBus is the slice of the bus the supervisor needs: subscriptions
// that bridge bus traffic into the worker process.
type MessageBus interface {
	Subscribe(event string, fn bus.Callback) func()
}

// MusicController is restarted alongside the worker so refresh ticks stop
// while no app server is running.
type MusicController interface {
	Start()
	Stop()
}

// Options configures a Supervisor.
type Options struct {
	// ProjectDir is the developer's project root.
	ProjectDir string

	// Cooldown is the debounce window for file-change restarts.
	Cooldown time.Duration

	// GraceWindow suppresses change events right after start.
	GraceWindow time.Duration
}

// Supervisor owns the app server process lifecycle: launch, recursive
// source watching, debounced restart, and the bridge between the message
// bus and the worker's command stream.
type Supervisor struct {
	log     *logger.Logger
	metrics *metrics.Metrics
	bus     MessageBus
	route   func(app string, msg protocol.Message)
	music   MusicController
	opts    Options

	mu           sync.Mutex
	started      bool
	worker       *worker
	watcher      *fsnotify.Watcher
	restartTimer *time.Timer
	unsubs       []func()
	manifest     *protocol.AppManifest
	graceUntil   time.Time
	ctx          context.Context
	cancel       context.CancelFunc

	// restartFn is what the debounce timer fires; swappable in tests.
	restartFn func()
}

// New creates a Supervisor. route receives app-originated messages; music
// may be nil when no refresh service is wired.
func New(log *logger.Logger, m *metrics.Metrics, b MessageBus, route func(app string, msg protocol.Message), music MusicController, opts Options) *Supervisor {
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}
	if opts.GraceWindow <= 0 {
		opts.GraceWindow = DefaultGraceWindow
	}
	s := &Supervisor{
		log:     log,
		metrics: m,
		bus:     b,
		route:   route,
		music:   music,
		opts:    opts,
	}
	s.restartFn = s.restart
	return s
}

// Start launches the worker, begins watching the server sources, and
// subscribes the bus bridges. Launch failure is logged, not returned: the
// watcher still runs so a fixed source file can bring the app up.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.log.Debug("starting server wrapper...")

	manifest, err := LoadManifest(s.opts.ProjectDir)
	if err != nil {
		s.log.Error("failed to load manifest: %v", err)
	}
	s.mu.Lock()
	s.manifest = manifest
	s.mu.Unlock()

	s.launch()

	if err := s.watch(); err != nil {
		s.log.Error("failed to watch server sources: %v", err)
	}

	unsubData := s.bus.Subscribe(protocol.ChannelAppData, func(data any) {
		s.SendToWorker(data)
	})
	unsubAuth := s.bus.Subscribe(protocol.ChannelAuthCallback, func(data any) {
		code := any(nil)
		if payload, ok := data.(map[string]any); ok {
			code = payload["code"]
		}
		s.SendToWorker(protocol.Message{Type: "callback-data", Payload: code})
	})

	s.mu.Lock()
	s.unsubs = append(s.unsubs, unsubData, unsubAuth)
	s.mu.Unlock()

	return nil
}

// Stop cancels the watcher, cancels any pending restart, and terminates
// the worker. Each step is independently idempotent.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false

	watcher := s.watcher
	s.watcher = nil
	if s.restartTimer != nil {
		s.restartTimer.Stop()
		s.restartTimer = nil
	}
	unsubs := s.unsubs
	s.unsubs = nil
	w := s.worker
	s.worker = nil
	cancel := s.cancel
	s.mu.Unlock()

	if watcher != nil {
		watcher.Close()
	}
	for _, unsub := range unsubs {
		unsub()
	}
	if s.music != nil {
		s.music.Stop()
	}
	if w != nil {
		w.terminate(exitWait)
	}
	if cancel != nil {
		cancel()
	}
}

// Restart tears the worker down and relaunches it immediately, bypassing
// the debounce. Used by the developer panel's restart control.
func (s *Supervisor) Restart() {
	s.restart()
}

// AppID returns the manifest id, or the fallback placeholder.
func (s *Supervisor) AppID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.manifest != nil && s.manifest.ID != "" {
		return s.manifest.ID
	}
	return FallbackAppID
}

// Manifest returns the manifest snapshot loaded at start, possibly nil.
func (s *Supervisor) Manifest() *protocol.AppManifest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.manifest
}

// SendToWorker forwards a payload to the worker as a data command. A nil
// worker (crashed or not yet started) drops the message with a debug line.
func (s *Supervisor) SendToWorker(payload any) {
	s.mu.Lock()
	w := s.worker
	s.mu.Unlock()

	if w == nil {
		s.log.Debug("no app server process, dropping outbound message")
		return
	}
	if err := w.post(workerCommand{Type: "data", Payload: payload}); err != nil {
		s.log.Warn("failed to send message to app server: %v", err)
	}
}

// launch starts a new worker process and arms the start command.
func (s *Supervisor) launch() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	opts := workerOptions{
		ProjectDir:  s.opts.ProjectDir,
		ServerDir:   filepath.Join(s.opts.ProjectDir, "server"),
		ServerEntry: filepath.Join(s.opts.ProjectDir, "server", "index.ts"),
	}

	w, err := launchWorker(ctx, s.log, opts, s.handleEvent, s.handleExit)
	if err != nil {
		s.log.Error("app server failed to start: %v", err)
		return
	}

	s.mu.Lock()
	s.worker = w
	s.mu.Unlock()

	if s.music != nil {
		s.music.Start()
	}

	time.AfterFunc(startDelay, func() {
		s.mu.Lock()
		current := s.worker
		s.mu.Unlock()
		if current == w {
			if err := w.post(workerCommand{Type: "start"}); err != nil {
				s.log.Warn("failed to send start command: %v", err)
			}
		}
	})

	s.log.Debug("app server process started")
}

// handleEvent dispatches one frame from the worker.
func (s *Supervisor) handleEvent(event workerEvent) {
	switch event.Type {
	case "server:log":
		var text string
		if err := json.Unmarshal(event.Payload, &text); err != nil {
			text = string(event.Payload)
		}
		s.log.Debug("[worker] %s", text)
	case "server:data", "data":
		var payload any
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			s.log.Warn("app server sent unreadable data frame: %v", err)
			return
		}
		msg, err := protocol.ToMessage(payload)
		if err != nil {
			s.log.Warn("app server sent a malformed message: %v", err)
			return
		}
		s.route(s.AppID(), msg)
	case "server:error":
		// surfaced separately through the exit handler
	case "started":
		s.log.Debug("[worker] started")
	case "stopped":
		s.log.Debug("[worker] stopped")
	default:
		switch {
		case event.Log != "":
			s.log.AppLog("log", event.Log)
		case event.Error != "":
			s.log.AppLog("error", event.Error)
		default:
			s.log.Error("unknown message type %q from app server", event.Type)
		}
	}
}

// handleExit clears the handle, but only if the exiting worker is still
// the current one: during a restart the old process's exit races with the
// new launch, and a stale exit must not nil out the fresh handle. No
// automatic relaunch either way: the next file change or explicit restart
// brings the app back.
func (s *Supervisor) handleExit(w *worker, code int) {
	s.metrics.WorkerExits.Inc()
	if code != 0 {
		s.log.Warn("app server exited with code %d", code)
	} else {
		s.log.Debug("app server exited with code %d", code)
	}

	s.mu.Lock()
	if s.worker == w {
		s.worker = nil
	}
	s.mu.Unlock()
}

// watch begins recursive watching of the server source directory. The
// grace window is armed here so the initial scan's event burst produces
// zero restarts.
func (s *Supervisor) watch() error {
	serverDir := filepath.Join(s.opts.ProjectDir, "server")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := addRecursive(watcher, serverDir); err != nil {
		watcher.Close()
		return err
	}

	s.mu.Lock()
	s.watcher = watcher
	s.graceUntil = time.Now().Add(s.opts.GraceWindow)
	s.mu.Unlock()

	go s.watchLoop(watcher)
	return nil
}

func (s *Supervisor) watchLoop(watcher *fsnotify.Watcher) {
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			s.handleFSEvent(watcher, event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn("watch error: %v", err)
		}
	}
}

func (s *Supervisor) handleFSEvent(watcher *fsnotify.Watcher, event fsnotify.Event) {
	// New directories must be added for recursive coverage.
	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := addRecursive(watcher, event.Name); err != nil {
				s.log.Warn("failed to watch new directory %s: %v", event.Name, err)
			}
			return
		}
	}

	if !strings.HasSuffix(event.Name, ".ts") {
		return
	}
	if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Remove) && !event.Op.Has(fsnotify.Rename) {
		return
	}

	s.mu.Lock()
	inGrace := time.Now().Before(s.graceUntil)
	s.mu.Unlock()
	if inGrace {
		return
	}

	s.log.Info("file %s changed, queuing server restart...", filepath.Base(event.Name))
	s.queueRestart()
}

// queueRestart arms the single-slot debounce timer with cancel-then-arm
// semantics: rapid successive edits coalesce into one restart scheduled a
// full cooldown after the last event.
func (s *Supervisor) queueRestart() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	if s.restartTimer != nil {
		s.restartTimer.Stop()
	}
	s.log.Info("queued restart in %s", s.opts.Cooldown)
	s.restartTimer = time.AfterFunc(s.opts.Cooldown, func() {
		s.mu.Lock()
		s.restartTimer = nil
		s.mu.Unlock()
		s.restartFn()
	})
}

func (s *Supervisor) restart() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	if s.restartTimer != nil {
		s.restartTimer.Stop()
		s.restartTimer = nil
	}
	w := s.worker
	s.worker = nil
	s.mu.Unlock()

	if s.music != nil {
		s.music.Stop()
	}

	s.log.Info("restarting server...")
	s.metrics.SupervisorRestarts.Inc()

	if w != nil {
		w.terminate(exitWait)
	}
	s.launch()
}

// addRecursive registers dir and every subdirectory with the watcher.
func addRecursive(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}
