package router

import (
	"bytes"
	"strings"
	"testing"

	"github.com/deskthing-dev/deskthing/internal/emulator/metrics"
	"github.com/deskthing-dev/deskthing/internal/emulator/protocol"
	"github.com/deskthing-dev/deskthing/internal/emulator/state"
	"github.com/deskthing-dev/deskthing/internal/logger"
)

type recordingBus struct {
	notified  []busCall
	published []busCall
}

type busCall struct {
	event string
	data  any
}

func (r *recordingBus) Notify(event string, data any) {
	r.notified = append(r.notified, busCall{event, data})
}

func (r *recordingBus) Publish(event string, data any) {
	r.published = append(r.published, busCall{event, data})
}

func newTestRouter() (*Router, *recordingBus, *state.Store, *bytes.Buffer) {
	var buf bytes.Buffer
	log := logger.New(logger.LevelDebug, "[test]")
	log.SetOutput(&buf)

	bus := &recordingBus{}
	store := state.New(log, bus, nil)
	r := New(log, bus, store, metrics.New())
	return r, bus, store, &buf
}

func TestHandleUnknownTypeDropped(t *testing.T) {
	r, bus, _, buf := newTestRouter()

	r.Handle("testapp", protocol.Message{Type: "teleport", Request: "now"})

	if len(bus.notified) != 0 || len(bus.published) != 0 {
		t.Error("unknown type produced bus traffic")
	}
	if !strings.Contains(buf.String(), "unknown event type") {
		t.Errorf("log = %q, want unknown event type line", buf.String())
	}
}

func TestHandleUnknownRequestFallsBackToDefault(t *testing.T) {
	r, _, _, buf := newTestRouter()

	// set has a default handler that logs the miss
	r.Handle("testapp", protocol.Message{Type: protocol.TypeSet, Request: "nonsense", Payload: "x"})

	if !strings.Contains(buf.String(), "unknown data type") {
		t.Errorf("log = %q, want unmatched request line", buf.String())
	}
}

func TestHandleMissingRequestNoDefault(t *testing.T) {
	r, bus, _, buf := newTestRouter()

	// get has no default entry
	r.Handle("testapp", protocol.Message{Type: protocol.TypeGet, Request: "nonsense"})

	if len(bus.notified) != 0 {
		t.Error("unmatched get produced a notify")
	}
	if !strings.Contains(buf.String(), "unknown data type") {
		t.Errorf("log = %q", buf.String())
	}
}

func TestLargePayloadPreviewTruncated(t *testing.T) {
	r, _, _, buf := newTestRouter()

	big := strings.Repeat("x", maxPayloadPreview+1)
	r.Handle("testapp", protocol.Message{Type: protocol.TypeSet, Request: "nope", Payload: big})

	out := buf.String()
	if !strings.Contains(out, "[Large Payload]") {
		t.Errorf("log = %q, want truncated payload marker", out)
	}
	if strings.Contains(out, big) {
		t.Error("full payload leaked into the log")
	}
}

func TestNilPayloadPreview(t *testing.T) {
	r, _, _, buf := newTestRouter()

	r.Handle("testapp", protocol.Message{Type: protocol.TypeSet, Request: "nope"})

	if !strings.Contains(buf.String(), "undefined") {
		t.Errorf("log = %q, want undefined payload marker", buf.String())
	}
}

func TestGetSettingsNotifiesApp(t *testing.T) {
	r, bus, store, _ := newTestRouter()
	store.SetSettings(protocol.Settings{"k": {ID: "k", Value: 1}})
	bus.notified = nil

	r.Handle("testapp", protocol.Message{Type: protocol.TypeGet, Request: "settings"})

	if len(bus.notified) != 1 || bus.notified[0].event != protocol.ChannelAppData {
		t.Fatalf("notified = %+v", bus.notified)
	}
	msg := bus.notified[0].data.(protocol.Message)
	if msg.Type != "settings" {
		t.Errorf("msg = %+v", msg)
	}
	settings, ok := msg.Payload.(protocol.Settings)
	if !ok || settings["k"].Value != 1 {
		t.Errorf("payload = %+v", msg.Payload)
	}
}

func TestGetDataNotifiesApp(t *testing.T) {
	r, bus, store, _ := newTestRouter()
	store.SetData(map[string]any{"token": "abc"})

	r.Handle("testapp", protocol.Message{Type: protocol.TypeGet, Request: "data"})

	if len(bus.notified) != 1 {
		t.Fatalf("notified = %+v", bus.notified)
	}
	msg := bus.notified[0].data.(protocol.Message)
	data, ok := msg.Payload.(map[string]any)
	if !ok || data["token"] != "abc" {
		t.Errorf("payload = %+v", msg.Payload)
	}
}

func TestSetSettingsRoute(t *testing.T) {
	r, _, store, _ := newTestRouter()

	r.Handle("testapp", protocol.Message{
		Type:    protocol.TypeSet,
		Request: "settings",
		Payload: map[string]any{"theme": map[string]any{"id": "theme", "value": "dark"}},
	})

	if got := store.Settings()["theme"].Value; got != "dark" {
		t.Errorf("theme = %v, want dark", got)
	}
}

func TestDeleteSettingsAcceptsSingleString(t *testing.T) {
	r, _, store, _ := newTestRouter()
	store.SetSettings(protocol.Settings{"a": {ID: "a"}})

	r.Handle("testapp", protocol.Message{Type: protocol.TypeDelete, Request: "settings", Payload: "a"})

	if _, ok := store.Settings()["a"]; ok {
		t.Error("single-string delete did not remove the setting")
	}
}

func TestSendToClientFillsAppID(t *testing.T) {
	r, bus, _, _ := newTestRouter()

	r.Handle("weather", protocol.Message{
		Type:    protocol.TypeSend,
		Payload: map[string]any{"type": "update", "payload": "sunny"},
	})

	if len(bus.published) != 1 || bus.published[0].event != protocol.ChannelClientRequest {
		t.Fatalf("published = %+v", bus.published)
	}
	msg := bus.published[0].data.(protocol.Message)
	if msg.App != "weather" {
		t.Errorf("App = %q, want weather", msg.App)
	}
	if msg.Type != "update" {
		t.Errorf("Type = %q, want update", msg.Type)
	}
}

func TestSendToClientKeepsExplicitAppID(t *testing.T) {
	r, bus, _, _ := newTestRouter()

	r.Handle("weather", protocol.Message{
		Type:    protocol.TypeSend,
		Payload: map[string]any{"type": "update", "app": "other"},
	})

	msg := bus.published[0].data.(protocol.Message)
	if msg.App != "other" {
		t.Errorf("App = %q, want other", msg.App)
	}
}

func TestSongRoute(t *testing.T) {
	r, bus, store, _ := newTestRouter()

	r.Handle("testapp", protocol.Message{
		Type:    protocol.TypeSong,
		Payload: map[string]any{"track_name": "Echoes", "is_playing": true},
	})

	song := store.Song()
	if song == nil || song.Track != "Echoes" || !song.Playing {
		t.Errorf("song = %+v", song)
	}
	if len(bus.published) != 1 {
		t.Errorf("published = %+v", bus.published)
	}
}

func TestLogRoute(t *testing.T) {
	r, _, _, buf := newTestRouter()

	r.Handle("testapp", protocol.Message{Type: protocol.TypeLog, Request: "error", Payload: "it broke"})

	out := buf.String()
	if !strings.Contains(out, "[App error]") || !strings.Contains(out, "it broke") {
		t.Errorf("log = %q", out)
	}
}

func TestHandlerPanicRecovered(t *testing.T) {
	r, _, _, buf := newTestRouter()
	r.table["boom"] = map[string]Handler{
		"default": func(string, protocol.Message) { panic("kaboom") },
	}

	r.Handle("testapp", protocol.Message{Type: "boom"})

	if !strings.Contains(buf.String(), "panicked") {
		t.Errorf("log = %q, want panic report", buf.String())
	}
}

func TestOpenRoute(t *testing.T) {
	r, _, _, _ := newTestRouter()

	var opened string
	r.openURL = func(url string) error {
		opened = url
		return nil
	}

	r.Handle("testapp", protocol.Message{Type: protocol.TypeOpen, Payload: "https://example.com/auth"})

	if opened != "https://example.com/auth" {
		t.Errorf("opened = %q", opened)
	}
}

func TestToStringList(t *testing.T) {
	tests := []struct {
		name   string
		in     any
		want   []string
		wantOk bool
	}{
		{"single string", "a", []string{"a"}, true},
		{"string slice", []string{"a", "b"}, []string{"a", "b"}, true},
		{"decoded any slice", []any{"a", "b"}, []string{"a", "b"}, true},
		{"mixed slice", []any{"a", 2}, nil, false},
		{"number", 3, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := toStringList(tt.in)
			if ok != tt.wantOk {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOk)
			}
			if !ok {
				return
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}
