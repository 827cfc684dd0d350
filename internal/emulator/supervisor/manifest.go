package supervisor

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/deskthing-dev/deskthing/internal/emulator/protocol"
	"github.com/deskthing-dev/deskthing/internal/errors"
)

// LoadManifest reads the app manifest from deskthing/manifest.json,
// falling back to public/manifest.json. The manifest is loaded once per
// supervisor start and treated as static for the process lifetime.
func LoadManifest(projectDir string) (*protocol.AppManifest, error) {
	paths := []string{
		filepath.Join(projectDir, "deskthing", "manifest.json"),
		filepath.Join(projectDir, "public", "manifest.json"),
	}

	var data []byte
	var err error
	for _, path := range paths {
		data, err = os.ReadFile(path)
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, errors.New("E301").WithDetail("project dir %s", projectDir)
	}

	manifest := &protocol.AppManifest{}
	if err := json.Unmarshal(data, manifest); err != nil {
		return nil, errors.New("E302").Wrap(err)
	}
	return manifest, nil
}
