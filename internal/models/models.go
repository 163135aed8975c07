// Package models locates speech model artifacts in the per-user data
// directory. Downloading is external; this package only answers "is the
// engine startable" via filesystem existence checks.
package models

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// artifactTable names the files each engine variant requires.
var artifactTable = map[string][]string{
	"parakeet": {
		"encoder.int8.onnx",
		"decoder.int8.onnx",
		"joiner.int8.onnx",
		"tokens.txt",
	},
}

// DataDir returns the per-user data directory ($XDG_DATA_HOME/subtidal,
// falling back to ~/.local/share/subtidal).
func DataDir() (string, error) {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "subtidal"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "subtidal"), nil
}

// Dir returns the artifact directory for an engine variant:
// <data>/models/<engine>/.
func Dir(engine string) (string, error) {
	data, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(data, "models", engine), nil
}

// Artifacts returns the artifact file names an engine requires. Unknown
// engines require nothing (the engine constructor rejects them first).
func Artifacts(engine string) []string {
	return artifactTable[engine]
}

// Ensure verifies every named artifact exists in dir. The returned error
// lists all missing files so the user can fix them in one pass.
func Ensure(dir string, artifacts []string) error {
	var missing []string
	for _, name := range artifacts {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing model artifacts in %s: %s (download them before starting this engine)",
			dir, strings.Join(missing, ", "))
	}
	return nil
}
