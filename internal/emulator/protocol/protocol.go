package protocol

import "encoding/json"

// Bus channel names shared between the emulator components and the wire.
const (
	ChannelAppData        = "app:data"
	ChannelClientRequest  = "client:request"
	ChannelClientResponse = "client:response"
	ChannelAuthCallback   = "auth:callback"
)

// Request types accepted from the app process.
const (
	TypeGet    = "get"
	TypeSet    = "set"
	TypeDelete = "delete"
	TypeOpen   = "open"
	TypeSend   = "send"
	TypeToApp  = "toApp"
	TypeLog    = "log"
	TypeKey    = "key"
	TypeAction = "action"
	TypeSong   = "song"
	TypeStep   = "step"
	TypeTask   = "task"
)

// Message types pushed to the simulated client device.
const (
	DeviceMusic    = "music"
	DeviceSettings = "settings"
	DeviceApps     = "apps"
	DeviceManifest = "manifest"
	DeviceTime     = "time"
)

// FrameSource tags every message posted into the embedded app frame so the
// app can distinguish emulator traffic from its own window messages.
const FrameSource = "deskthing"

// Envelope is the transport-level frame exchanged over the WebSocket link.
// Event selects the subscriber list; Data is opaque to the transport.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Message is the application-level envelope exchanged between the app
// process, the simulated client, and the developer panels. Type selects a
// handler group, Request an optional sub-handler within it.
type Message struct {
	Type     string `json:"type"`
	Request  string `json:"request,omitempty"`
	Payload  any    `json:"payload,omitempty"`
	App      string `json:"app,omitempty"`
	ClientID string `json:"clientId,omitempty"`
	Source   string `json:"source,omitempty"`
}

// ToMessage coerces a decoded JSON value (typically a map from an inbound
// frame) into a Message. Values that are already Messages pass through.
func ToMessage(v any) (Message, error) {
	switch m := v.(type) {
	case Message:
		return m, nil
	case *Message:
		return *m, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return Message{}, err
	}
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// Setting is a single entry in an app's settings registry.
type Setting struct {
	ID          string          `json:"id,omitempty"`
	Type        string          `json:"type,omitempty"`
	Label       string          `json:"label,omitempty"`
	Description string          `json:"description,omitempty"`
	Value       any             `json:"value,omitempty"`
	Version     string          `json:"version,omitempty"`
	Options     []SettingOption `json:"options,omitempty"`
}

// SettingOption is one selectable choice for select/multiselect settings.
type SettingOption struct {
	Label string `json:"label"`
	Value any    `json:"value"`
}

// Settings maps setting id to its record.
type Settings map[string]Setting

// Clone returns a shallow copy, safe against concurrent map writes once the
// snapshot leaves the store.
func (s Settings) Clone() Settings {
	out := make(Settings, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// ToSettings coerces a decoded JSON payload into Settings.
func ToSettings(v any) (Settings, error) {
	if s, ok := v.(Settings); ok {
		return s, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var s Settings
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return s, nil
}

// ToSong coerces a decoded JSON payload into a Song.
func ToSong(v any) (*Song, error) {
	if s, ok := v.(*Song); ok {
		return s, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	song := &Song{}
	if err := json.Unmarshal(raw, song); err != nil {
		return nil, err
	}
	return song, nil
}

// Song is the last-known playback state pushed by the app. It is replaced
// wholesale on every update.
type Song struct {
	ID        string `json:"id,omitempty"`
	Track     string `json:"track_name,omitempty"`
	Album     string `json:"album,omitempty"`
	Artist    string `json:"artist,omitempty"`
	Playing   bool   `json:"is_playing"`
	Shuffle   bool   `json:"shuffle_state,omitempty"`
	Repeat    string `json:"repeat_state,omitempty"`
	Duration  int64  `json:"track_duration,omitempty"`
	Progress  int64  `json:"track_progress,omitempty"`
	Volume    int    `json:"volume,omitempty"`
	Thumbnail string `json:"thumbnail,omitempty"`
	Device    string `json:"device,omitempty"`
	Liked     bool   `json:"liked,omitempty"`
	Color     string `json:"color,omitempty"`
}

// AppManifest describes the developer's app. Loaded once per supervisor
// start from deskthing/manifest.json (falling back to public/manifest.json)
// and static for the process lifetime.
type AppManifest struct {
	ID               string            `json:"id"`
	IsWebApp         bool              `json:"isWebApp"`
	Requires         []string          `json:"requires,omitempty"`
	Label            string            `json:"label,omitempty"`
	Version          string            `json:"version,omitempty"`
	VersionCode      float64           `json:"version_code,omitempty"`
	Description      string            `json:"description,omitempty"`
	Author           string            `json:"author,omitempty"`
	Platforms        []string          `json:"platforms,omitempty"`
	Homepage         string            `json:"homepage,omitempty"`
	Repository       string            `json:"repository,omitempty"`
	Tags             []string          `json:"tags,omitempty"`
	CompatibleServer string            `json:"compatible_server,omitempty"`
	CompatibleClient string            `json:"compatible_client,omitempty"`
	RequiredVersions map[string]string `json:"requiredVersions,omitempty"`
}

// TimePayload is broadcast to the client on a fixed interval so the
// simulated device clock stays current.
type TimePayload struct {
	UTCTime        int64 `json:"utcTime"`
	TimezoneOffset int   `json:"timezoneOffset"`
}
