// Package release builds distributable app archives and publishes them.
package release

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/deskthing-dev/deskthing/internal/emulator/protocol"
	"github.com/deskthing-dev/deskthing/internal/errors"
)

// metadataFileName is the release metadata written next to the archive.
const metadataFileName = "latest.json"

// Artifact describes one packaged release on disk.
type Artifact struct {
	// ArchivePath is the zip file location.
	ArchivePath string

	// MetadataPath is the release metadata file location.
	MetadataPath string

	// Metadata is the parsed content of MetadataPath.
	Metadata Metadata
}

// Metadata is the machine-readable release descriptor consumed by the
// server's update checker.
type Metadata struct {
	ID         string `json:"id"`
	Version    string `json:"version"`
	SHA256     string `json:"sha256"`
	Size       int64  `json:"size"`
	PackagedAt string `json:"packagedAt"`
}

// Package zips the project's dist directory into <id>-v<version>.zip
// under outDir and writes the release metadata beside it. The manifest
// supplies id and version; a missing version becomes "0.0.0".
func Package(projectDir, outDir string, manifest *protocol.AppManifest) (*Artifact, error) {
	if manifest == nil || manifest.ID == "" {
		return nil, errors.New("E401").WithDetail("manifest has no app id")
	}

	distDir := filepath.Join(projectDir, "dist")
	if info, err := os.Stat(distDir); err != nil || !info.IsDir() {
		return nil, errors.New("E401").WithDetail("no dist directory at %s, build the app first", distDir)
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, errors.New("E401").Wrap(err)
	}

	version := manifest.Version
	if version == "" {
		version = "0.0.0"
	}

	archivePath := filepath.Join(outDir, manifest.ID+"-v"+version+".zip")
	size, err := writeArchive(archivePath, distDir, filepath.Join(projectDir, "deskthing", "manifest.json"))
	if err != nil {
		os.Remove(archivePath)
		return nil, errors.New("E401").Wrap(err)
	}

	sum, err := fileSHA256(archivePath)
	if err != nil {
		return nil, errors.New("E401").Wrap(err)
	}

	meta := Metadata{
		ID:         manifest.ID,
		Version:    version,
		SHA256:     sum,
		Size:       size,
		PackagedAt: time.Now().UTC().Format(time.RFC3339),
	}

	metadataPath := filepath.Join(outDir, metadataFileName)
	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, errors.New("E401").Wrap(err)
	}
	if err := os.WriteFile(metadataPath, append(raw, '\n'), 0o644); err != nil {
		return nil, errors.New("E401").Wrap(err)
	}

	return &Artifact{
		ArchivePath:  archivePath,
		MetadataPath: metadataPath,
		Metadata:     meta,
	}, nil
}

// writeArchive zips distDir's contents at the archive root plus the app
// manifest, and returns the archive size.
func writeArchive(archivePath, distDir, manifestPath string) (int64, error) {
	f, err := os.Create(archivePath)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	zw := zip.NewWriter(f)

	err = filepath.WalkDir(distDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(distDir, path)
		if err != nil {
			return err
		}
		return addFile(zw, filepath.ToSlash(rel), path)
	})
	if err != nil {
		zw.Close()
		return 0, err
	}

	if _, statErr := os.Stat(manifestPath); statErr == nil {
		if err := addFile(zw, "manifest.json", manifestPath); err != nil {
			zw.Close()
			return 0, err
		}
	}

	if err := zw.Close(); err != nil {
		return 0, err
	}

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func addFile(zw *zip.Writer, name, path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: time.Now(),
	})
	if err != nil {
		return err
	}
	_, err = io.Copy(w, src)
	return err
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ArchiveName returns the bare file name of the packaged archive.
func (a *Artifact) ArchiveName() string {
	return filepath.Base(a.ArchivePath)
}

// Key joins a prefix and file name into an object key.
func Key(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return strings.TrimSuffix(prefix, "/") + "/" + name
}
