package state

import (
	"reflect"
	"testing"

	"github.com/deskthing-dev/deskthing/internal/emulator/protocol"
	"github.com/deskthing-dev/deskthing/internal/logger"
)

// recordingBus captures notify/publish calls for assertions.
type recordingBus struct {
	notified  []call
	published []call
}

type call struct {
	event string
	data  any
}

func (r *recordingBus) Notify(event string, data any) {
	r.notified = append(r.notified, call{event, data})
}

func (r *recordingBus) Publish(event string, data any) {
	r.published = append(r.published, call{event, data})
}

func newTestStore(mock map[string]any) (*Store, *recordingBus) {
	bus := &recordingBus{}
	return New(logger.New(logger.LevelSilent, "[test]"), bus, mock), bus
}

func TestSetSettingsMergesAndAppliesMock(t *testing.T) {
	store, bus := newTestStore(map[string]any{"apiKey": "mocked"})

	store.SetSettings(protocol.Settings{
		"apiKey": {ID: "apiKey", Value: "fromApp"},
		"theme":  {ID: "theme", Value: "dark"},
	})

	settings := store.Settings()
	if settings["apiKey"].Value != "mocked" {
		t.Errorf("apiKey = %v, want mock override", settings["apiKey"].Value)
	}
	if settings["theme"].Value != "dark" {
		t.Errorf("theme = %v, want dark", settings["theme"].Value)
	}

	// full registry goes to both the client and the app
	if len(bus.published) != 1 || bus.published[0].event != protocol.ChannelClientRequest {
		t.Errorf("published = %+v", bus.published)
	}
	if len(bus.notified) != 1 || bus.notified[0].event != protocol.ChannelAppData {
		t.Errorf("notified = %+v", bus.notified)
	}
}

func TestInitSettings(t *testing.T) {
	tests := []struct {
		name      string
		existing  protocol.Setting
		incoming  protocol.Setting
		wantValue any
	}{
		{
			name:      "different version replaces",
			existing:  protocol.Setting{ID: "s", Value: "old", Version: "1"},
			incoming:  protocol.Setting{ID: "s", Value: "new", Version: "2"},
			wantValue: "new",
		},
		{
			name:      "same version keeps stored value",
			existing:  protocol.Setting{ID: "s", Value: "old", Version: "1"},
			incoming:  protocol.Setting{ID: "s", Value: "new", Version: "1"},
			wantValue: "old",
		},
		{
			name:      "no version keeps stored value",
			existing:  protocol.Setting{ID: "s", Value: "old", Version: "1"},
			incoming:  protocol.Setting{ID: "s", Value: "new"},
			wantValue: "old",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, _ := newTestStore(nil)
			store.SetSettings(protocol.Settings{"s": tt.existing})
			store.InitSettings(protocol.Settings{"s": tt.incoming})

			if got := store.Settings()["s"].Value; got != tt.wantValue {
				t.Errorf("value = %v, want %v", got, tt.wantValue)
			}
		})
	}
}

func TestInitSettingsAddsNewKeys(t *testing.T) {
	store, _ := newTestStore(nil)

	store.InitSettings(protocol.Settings{"fresh": {ID: "fresh", Value: 7}})

	if _, ok := store.Settings()["fresh"]; !ok {
		t.Error("new key was not added")
	}
}

func TestInitSettingsAppliesMockToNewKeys(t *testing.T) {
	store, _ := newTestStore(map[string]any{"fresh": "mocked"})

	store.InitSettings(protocol.Settings{"fresh": {ID: "fresh", Value: "fromApp"}})

	if got := store.Settings()["fresh"].Value; got != "mocked" {
		t.Errorf("value = %v, want mock override", got)
	}
}

func TestDeleteSettings(t *testing.T) {
	store, bus := newTestStore(nil)
	store.SetSettings(protocol.Settings{
		"a": {ID: "a"},
		"b": {ID: "b"},
	})
	before := len(bus.published)

	store.DeleteSettings([]string{"a"})

	settings := store.Settings()
	if _, ok := settings["a"]; ok {
		t.Error("a still present after delete")
	}
	if _, ok := settings["b"]; !ok {
		t.Error("b removed by unrelated delete")
	}
	if len(bus.published) != before+1 {
		t.Error("delete did not republish the registry")
	}
}

func TestDeleteSettingsEmptyRegistry(t *testing.T) {
	store, bus := newTestStore(nil)

	store.DeleteSettings([]string{"ghost"})

	if len(bus.published) != 0 {
		t.Error("delete on empty registry still published")
	}
}

func TestSetAppDataSplitsSettings(t *testing.T) {
	store, _ := newTestStore(nil)

	store.SetAppData(map[string]any{
		"settings": map[string]any{
			"theme": map[string]any{"id": "theme", "value": "dark"},
		},
		"token": "abc",
	})

	if got := store.Settings()["theme"].Value; got != "dark" {
		t.Errorf("settings value = %v, want dark", got)
	}
	data := store.Data()
	if data["token"] != "abc" {
		t.Errorf("data token = %v, want abc", data["token"])
	}
	if _, ok := data["settings"]; ok {
		t.Error("settings key leaked into generic data")
	}
}

func TestDataSnapshotIsolated(t *testing.T) {
	store, _ := newTestStore(nil)
	store.SetData(map[string]any{"k": "v"})

	snap := store.Data()
	snap["k"] = "mutated"

	if store.Data()["k"] != "v" {
		t.Error("mutating a snapshot changed the store")
	}
}

func TestSetSongPublishes(t *testing.T) {
	store, bus := newTestStore(nil)

	song := &protocol.Song{Track: "Time", Playing: true}
	store.SetSong(song)

	if !reflect.DeepEqual(store.Song(), song) {
		t.Errorf("Song() = %+v", store.Song())
	}
	if len(bus.published) != 1 {
		t.Fatalf("published %d messages, want 1", len(bus.published))
	}
	msg, ok := bus.published[0].data.(protocol.Message)
	if !ok || msg.Type != protocol.DeviceMusic || msg.App != "client" {
		t.Errorf("published = %+v", bus.published[0])
	}
}
