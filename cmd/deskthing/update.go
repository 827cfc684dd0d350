package main

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/deskthing-dev/deskthing/internal/config"
)

func updateCmd() *cobra.Command {
	var noOverwrite bool

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Scaffold or refresh project config files",
		Long: `Writes deskthing.json and deskthing/manifest.json templates into the
current directory. Pass --no-overwrite to keep files that already exist.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpdate(!noOverwrite)
		},
	}

	cmd.Flags().BoolVar(&noOverwrite, "no-overwrite", false, "keep existing files untouched")
	return cmd
}

func runUpdate(overwrite bool) error {
	wd, err := os.Getwd()
	if err != nil {
		return err
	}

	wrote, err := writeTemplate(filepath.Join(wd, config.ConfigFileName), defaultConfigTemplate(), overwrite)
	if err != nil {
		return err
	}
	report(config.ConfigFileName, wrote)

	manifestPath := filepath.Join(wd, "deskthing", "manifest.json")
	if err := os.MkdirAll(filepath.Dir(manifestPath), 0o755); err != nil {
		return err
	}
	wrote, err = writeTemplate(manifestPath, defaultManifestTemplate(filepath.Base(wd)), overwrite)
	if err != nil {
		return err
	}
	report("deskthing/manifest.json", wrote)

	return nil
}

func report(name string, wrote bool) {
	if wrote {
		success("wrote %s", name)
	} else {
		info("%s exists, skipping", name)
	}
}

// writeTemplate writes v as indented JSON. With overwrite false an existing
// file is left untouched.
func writeTemplate(path string, v any, overwrite bool) (bool, error) {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		}
	}

	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return false, err
	}
	if err := os.WriteFile(path, append(raw, '\n'), 0o644); err != nil {
		return false, err
	}
	return true, nil
}

func defaultConfigTemplate() any {
	cfg := config.Default()
	return cfg
}

func defaultManifestTemplate(id string) any {
	if id == "" || id == "." {
		id = "myapp"
	}
	return map[string]any{
		"id":          id,
		"label":       id,
		"version":     "0.1.0",
		"description": "",
		"author":      "",
		"isWebApp":    true,
		"requires":    []string{},
		"platforms":   []string{"windows", "mac", "linux"},
	}
}
