package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ProjectConfigExists reports whether dir already has a project config.
func ProjectConfigExists(dir string) (bool, error) {
	for _, name := range []string{appName + ".json", "." + appName + ".json"} {
		_, err := os.Stat(filepath.Join(dir, name))
		if err == nil {
			return true, nil
		}
		if !os.IsNotExist(err) {
			return false, fmt.Errorf("failed to check for %s: %w", name, err)
		}
	}
	return false, nil
}

// InitProject writes a pshell.json with the defaults into dir and returns
// its path. An existing project config is left alone.
func InitProject(dir string) (string, error) {
	exists, err := ProjectConfigExists(dir)
	if err != nil {
		return "", err
	}
	if exists {
		return "", fmt.Errorf("a project config already exists in %s", dir)
	}

	data, err := json.MarshalIndent(Default(), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode default config: %w", err)
	}
	path := filepath.Join(dir, appName+".json")
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("failed to create project config: %w", err)
	}
	return path, nil
}
