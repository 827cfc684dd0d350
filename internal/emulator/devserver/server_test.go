package devserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/deskthing-dev/deskthing/internal/config"
	"github.com/deskthing-dev/deskthing/internal/emulator/metrics"
	"github.com/deskthing-dev/deskthing/internal/logger"
)

type recordingNotifier struct {
	events []string
	data   []any
}

func (r *recordingNotifier) Notify(event string, data any) {
	r.events = append(r.events, event)
	r.data = append(r.data, data)
}

func newTestServer() (*Server, *recordingNotifier) {
	cfg := config.Default()
	notifier := &recordingNotifier{}
	srv := New(logger.New(logger.LevelSilent, "[test]"), cfg, notifier, metrics.New(), nil)
	return srv, notifier
}

func TestConfigEndpoint(t *testing.T) {
	srv, _ := newTestServer()
	ts := httptest.NewServer(srv.routes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/config")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Errorf("content type = %q", ct)
	}

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["clientPort"] != float64(config.DefaultClientPort) {
		t.Errorf("clientPort = %v, want %d", body["clientPort"], config.DefaultClientPort)
	}
	if body["linkPort"] != float64(config.DefaultLinkPort) {
		t.Errorf("linkPort = %v, want %d", body["linkPort"], config.DefaultLinkPort)
	}
}

func TestCallbackNotifiesBus(t *testing.T) {
	srv, notifier := newTestServer()
	ts := httptest.NewServer(srv.routes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/callback/spotify?code=abc123")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if len(notifier.events) != 1 || notifier.events[0] != "auth:callback" {
		t.Fatalf("events = %v", notifier.events)
	}
	payload, ok := notifier.data[0].(map[string]any)
	if !ok || payload["code"] != "abc123" || payload["appName"] != "spotify" {
		t.Errorf("payload = %+v", notifier.data[0])
	}
}

func TestCallbackMissingCode(t *testing.T) {
	srv, notifier := newTestServer()
	ts := httptest.NewServer(srv.routes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/callback/spotify")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	if len(notifier.events) != 0 {
		t.Error("missing code still notified the bus")
	}
}

func TestClientManifestMock(t *testing.T) {
	srv, _ := newTestServer()
	ts := httptest.NewServer(srv.routes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/client/manifest.json")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}

	id, ok := body["connectionId"].(string)
	if !ok || id == "" {
		t.Errorf("connectionId = %v", body["connectionId"])
	}
	if id != srv.connectionID {
		t.Errorf("connectionId = %q, want session id %q", id, srv.connectionID)
	}
	if body["name"] == "" {
		t.Error("manifest has no name")
	}
}

func TestProxyMissingURL(t *testing.T) {
	srv, _ := newTestServer()
	ts := httptest.NewServer(srv.routes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/proxy/v1")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestProxyFetch(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("upstream says hi"))
	}))
	defer upstream.Close()

	srv, _ := newTestServer()
	ts := httptest.NewServer(srv.routes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/proxy/v1?url=" + upstream.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	buf := make([]byte, 64)
	n, _ := resp.Body.Read(buf)
	if !strings.Contains(string(buf[:n]), "upstream says hi") {
		t.Errorf("body = %q", buf[:n])
	}
}

func TestCORSHeaders(t *testing.T) {
	srv, _ := newTestServer()
	ts := httptest.NewServer(srv.routes())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/config", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("allow-origin = %q", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer()
	ts := httptest.NewServer(srv.routes())
	defer ts.Close()

	// hit a counted route first so the counter exists
	resp, err := http.Get(ts.URL + "/config")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}
