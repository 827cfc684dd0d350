package devserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/deskthing-dev/deskthing/internal/config"
	"github.com/deskthing-dev/deskthing/internal/emulator/metrics"
	"github.com/deskthing-dev/deskthing/internal/emulator/protocol"
	"github.com/deskthing-dev/deskthing/internal/logger"
)

// proxyTimeout bounds outbound proxy fetches made on the client's behalf.
const proxyTimeout = 15 * time.Second

// Notifier is the slice of the message bus the dev server needs.
type Notifier interface {
	Notify(event string, data any)
}

// Server is the developer-facing HTTP surface: client config, OAuth
// callback capture, the mock client manifest, static assets, the fetch
// proxy, and session metrics. The WebSocket bus endpoint is mounted here
// too so a single port can serve everything when the link port is shared.
type Server struct {
	log     *logger.Logger
	cfg     *config.Config
	bus     Notifier
	metrics *metrics.Metrics
	wsFunc  http.HandlerFunc

	// connectionID identifies this emulator session to the browser client.
	connectionID string

	proxy *http.Client

	mu   sync.Mutex
	srv  *http.Server
	addr string
}

// New creates a Server. wsFunc may be nil when the bus runs on its own
// port.
func New(log *logger.Logger, cfg *config.Config, b Notifier, m *metrics.Metrics, wsFunc http.HandlerFunc) *Server {
	return &Server{
		log:          log,
		cfg:          cfg,
		bus:          b,
		metrics:      m,
		wsFunc:       wsFunc,
		connectionID: uuid.NewString(),
		proxy:        &http.Client{Timeout: proxyTimeout},
	}
}

// Start binds the dev HTTP server on the configured client port.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Development.Client.ClientPort))
	if err != nil {
		return err
	}

	srv := &http.Server{Handler: s.routes()}

	s.mu.Lock()
	s.srv = srv
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error("dev server stopped: %v", err)
		}
	}()

	s.log.Debug("dev server listening on %s", s.addr)
	return nil
}

// Stop shuts the listener down. Idempotent.
func (s *Server) Stop() {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.mu.Unlock()

	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(cors)
	r.Use(Tracing(WithRequestFilter(func(req *http.Request) bool {
		return req.URL.Path != "/metrics"
	})))

	r.Get("/config", s.counted("config", s.handleConfig))
	r.Get("/callback/{appName}", s.counted("callback", s.handleCallback))
	r.Post("/callback/{appName}", s.counted("callback", s.handleCallback))
	r.Get("/client/manifest.json", s.counted("manifest", s.handleClientManifest))
	r.Get("/proxy/v1", s.counted("proxy", s.handleProxyQuery))
	r.Get("/proxy/fetch/*", s.counted("proxy", s.handleProxyPath))
	r.Handle("/metrics", s.metrics.Handler())

	if s.wsFunc != nil {
		r.HandleFunc("/ws", s.wsFunc)
	}

	dir := s.cfg.Dir()
	s.static(r, "/client", filepath.Join(dir, "client"))
	s.static(r, "/icons", filepath.Join(dir, "deskthing", "icons"))
	s.static(r, "/resource", filepath.Join(dir, "deskthing"))

	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		http.Redirect(w, req, "/client/", http.StatusTemporaryRedirect)
	})

	return r
}

// counted wraps a handler with the per-route request counter.
func (s *Server) counted(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.metrics.HTTPRequests.WithLabelValues(route).Inc()
		h(w, r)
	}
}

func (s *Server) static(r chi.Router, prefix, dir string) {
	fs := http.StripPrefix(prefix, http.FileServer(http.Dir(dir)))
	r.Get(prefix+"/*", s.counted("static", func(w http.ResponseWriter, req *http.Request) {
		fs.ServeHTTP(w, req)
	}))
}

// handleConfig serves the client section of deskthing.json verbatim. The
// browser panels read ports and logging preferences from it.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.cfg.Development.Client)
}

// handleCallback captures an OAuth redirect and hands the code to the app
// over the bus.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	appName := chi.URLParam(r, "appName")
	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "missing code query parameter", http.StatusBadRequest)
		return
	}

	s.log.Info("received auth callback for %s", appName)
	s.bus.Notify(protocol.ChannelAuthCallback, map[string]any{
		"code":    code,
		"appName": appName,
	})

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, "<html><body><p>Authorization received. You can close this window.</p></body></html>")
}

// handleClientManifest synthesizes the client manifest the browser shell
// expects from a real device deployment.
func (s *Server) handleClientManifest(w http.ResponseWriter, r *http.Request) {
	manifest := map[string]any{
		"name":          "DeskThing Emulator",
		"id":            "deskthing-emulator-client",
		"short_name":    "emulator",
		"description":   "Simulated client for local app development",
		"reactive":      true,
		"repository":    "https://github.com/itsriprod/deskthing",
		"author":        "DeskThing",
		"version":       "0.10.4",
		"compatibility": map[string]any{"server": ">=0.10.0", "app": ">=0.10.0"},
		"connectionId":  s.connectionID,
		"context": map[string]any{
			"method": "emulator",
			"id":     s.connectionID,
			"name":   "Emulator",
			"ip":     "localhost",
			"port":   s.cfg.Development.Client.ClientPort,
		},
	}
	writeJSON(w, manifest)
}

// handleProxyQuery fetches ?url= on the client's behalf to sidestep CORS
// on third-party image and API hosts.
func (s *Server) handleProxyQuery(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("url")
	if target == "" {
		http.Error(w, "missing url query parameter", http.StatusBadRequest)
		return
	}
	s.proxyFetch(w, r, target)
}

// handleProxyPath treats everything after /proxy/fetch/ as the target URL.
func (s *Server) handleProxyPath(w http.ResponseWriter, r *http.Request) {
	target := chi.URLParam(r, "*")
	if target == "" {
		http.Error(w, "missing target URL", http.StatusBadRequest)
		return
	}
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		target = "https://" + target
	}
	s.proxyFetch(w, r, target)
}

func (s *Server) proxyFetch(w http.ResponseWriter, r *http.Request, target string) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target, nil)
	if err != nil {
		http.Error(w, "invalid target URL", http.StatusBadRequest)
		return
	}

	resp, err := s.proxy.Do(req)
	if err != nil {
		s.log.Warn("proxy fetch of %s failed: %v", target, err)
		http.Error(w, "upstream fetch failed", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
