package state

import (
	"sync"

	"github.com/deskthing-dev/deskthing/internal/emulator/protocol"
	"github.com/deskthing-dev/deskthing/internal/logger"
)

// Publisher is the slice of the message bus the store needs: local fan-out
// toward the app and remote fan-out toward the client.
type Publisher interface {
	Notify(event string, data any)
	Publish(event string, data any)
}

// Store holds the emulator's mutable server-side state: the settings
// registry, generic app data, and the current song. Contents are memory
// only and reset with the session. Every mutation re-publishes the full
// updated slice, never a delta, so consumers can replace instead of merge.
type Store struct {
	log  *logger.Logger
	pub  Publisher
	mock map[string]any

	mu       sync.Mutex
	settings protocol.Settings
	data     map[string]any
	song     *protocol.Song
}

// New creates an empty Store. mockSettings supplies developer-configured
// values injected whenever the app registers settings.
func New(log *logger.Logger, pub Publisher, mockSettings map[string]any) *Store {
	return &Store{
		log:      log,
		pub:      pub,
		mock:     mockSettings,
		settings: make(protocol.Settings),
		data:     make(map[string]any),
	}
}

// Settings returns a snapshot of the settings registry.
func (s *Store) Settings() protocol.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings.Clone()
}

// SetSettings merges incoming settings last-write-wins, then simulates the
// user submitting the settings form by overriding values with the
// configured mock data, and publishes the full registry.
func (s *Store) SetSettings(incoming protocol.Settings) {
	s.mu.Lock()
	for id, setting := range incoming {
		if mock, ok := s.mock[id]; ok {
			setting.Value = mock
		}
		s.settings[id] = setting
	}
	s.mu.Unlock()

	s.sendSettings()
}

// InitSettings applies the version-aware registration rule: a new key is
// added; an existing key is replaced only when the incoming setting carries
// a version different from the stored one. Versionless re-registrations
// keep the stored value, which makes redundant init calls idempotent.
func (s *Store) InitSettings(incoming protocol.Settings) {
	s.mu.Lock()
	for id, setting := range incoming {
		existing, ok := s.settings[id]
		if !ok {
			s.settings[id] = setting
			continue
		}
		if setting.Version != "" && setting.Version != existing.Version {
			s.settings[id] = setting
		}
	}
	merged := s.settings.Clone()
	s.mu.Unlock()

	// Run the merged registry back through SetSettings so mock values apply
	// to newly added entries and the snapshot goes out.
	s.SetSettings(merged)
}

// UpdateSettings merges settings without mock interference. Used when the
// developer edits values in the settings panel.
func (s *Store) UpdateSettings(incoming protocol.Settings) {
	s.mu.Lock()
	for id, setting := range incoming {
		s.settings[id] = setting
	}
	s.mu.Unlock()

	s.sendSettings()
}

// DeleteSettings removes the given ids and publishes the remainder.
func (s *Store) DeleteSettings(ids []string) {
	s.mu.Lock()
	if len(s.settings) == 0 {
		s.mu.Unlock()
		s.log.Warn("no settings to delete from")
		return
	}
	for _, id := range ids {
		delete(s.settings, id)
	}
	s.mu.Unlock()

	s.sendSettings()
}

// Data returns a snapshot of the generic app data.
func (s *Store) Data() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out
}

// SetData shallow-merges keys into the app data.
func (s *Store) SetData(incoming map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range incoming {
		s.data[k] = v
	}
}

// SetAppData splits a nested settings field off to the settings registry
// and merges the remainder into the app data.
func (s *Store) SetAppData(payload map[string]any) {
	if payload == nil {
		return
	}

	if raw, ok := payload["settings"]; ok {
		if settings, err := protocol.ToSettings(raw); err == nil {
			s.UpdateSettings(settings)
		} else {
			s.log.Warn("ignoring malformed settings in appData: %v", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range payload {
		if k == "settings" {
			continue
		}
		s.data[k] = v
	}
}

// DeleteData removes keys from the app data.
func (s *Store) DeleteData(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.data, id)
	}
}

// Song returns the last-known playback state, or nil before the first push.
func (s *Store) Song() *protocol.Song {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.song
}

// SetSong replaces the playback state wholesale and pushes it to the client.
func (s *Store) SetSong(song *protocol.Song) {
	s.mu.Lock()
	s.song = song
	s.mu.Unlock()

	s.pub.Publish(protocol.ChannelClientRequest, protocol.Message{
		Type:    protocol.DeviceMusic,
		Payload: song,
		App:     "client",
	})
}

// sendSettings pushes the full registry to the client over the wire and to
// the app via local notify.
func (s *Store) sendSettings() {
	snapshot := s.Settings()

	s.pub.Publish(protocol.ChannelClientRequest, protocol.Message{
		Type:    protocol.DeviceSettings,
		Payload: snapshot,
		App:     "client",
	})
	s.pub.Notify(protocol.ChannelAppData, protocol.Message{
		Type:    protocol.DeviceSettings,
		Payload: snapshot,
	})
}
