package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/qjebbs/go-jsons"
)

// Load reads the global config, then the project configs in workingDir,
// then any extra files, each overriding the ones before. Environment
// variables override all files.
func Load(workingDir string, debug bool, extraFiles ...string) (*Config, error) {
	paths := append([]string{
		GlobalConfig(),
		filepath.Join(workingDir, appName+".json"),
		filepath.Join(workingDir, "."+appName+".json"),
	}, extraFiles...)

	cfg, err := loadFromConfigPaths(paths, extraFiles)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from paths %v: %w", paths, err)
	}

	cfg.workingDir = workingDir
	cfg.configFile = GlobalConfig()
	if len(extraFiles) > 0 {
		cfg.configFile = extraFiles[len(extraFiles)-1]
	}

	applyEnv(cfg)
	if debug {
		cfg.Options.Debug = true
	}
	if cfg.Options.DataDirectory == "" {
		cfg.Options.DataDirectory = defaultDataDirectory
	}
	if !filepath.IsAbs(cfg.Options.DataDirectory) {
		cfg.Options.DataDirectory = filepath.Join(workingDir, cfg.Options.DataDirectory)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromConfigPaths merges the files that exist. Files listed in required
// must exist.
func loadFromConfigPaths(paths, required []string) (*Config, error) {
	var readers []io.Reader
	for _, path := range paths {
		fd, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) && !slices.Contains(required, path) {
				continue
			}
			return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
		}
		defer fd.Close()
		slog.Debug("loading config file", "path", path)
		readers = append(readers, fd)
	}
	return loadFromReaders(readers)
}

func loadFromReaders(readers []io.Reader) (*Config, error) {
	if len(readers) == 0 {
		return Default(), nil
	}

	merged, err := jsons.Merge(readers)
	if err != nil {
		return nil, fmt.Errorf("failed to merge configuration readers: %w", err)
	}
	return LoadReader(bytes.NewReader(merged))
}

// LoadReader decodes a single JSON document on top of the defaults.
func LoadReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if cfg.Options == nil {
		cfg.Options = &Options{}
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if fields := strings.Fields(os.Getenv("PSHELL_SHELL")); len(fields) > 0 {
		cfg.Shell.Path = fields[0]
		cfg.Shell.Args = fields[1:]
	}
	if v := os.Getenv("PSHELL_DEBUG"); v != "" {
		if debug, err := strconv.ParseBool(v); err == nil {
			cfg.Options.Debug = debug
		} else {
			slog.Warn("ignoring invalid PSHELL_DEBUG", "value", v)
		}
	}
}

// GlobalConfig returns the path of the user's config file.
func GlobalConfig() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appName, appName+".json")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join("."+appName, appName+".json")
	}
	return filepath.Join(home, ".config", appName, appName+".json")
}

// LogFile returns where the log for this project goes.
func (c *Config) LogFile() string {
	return filepath.Join(c.Options.DataDirectory, "logs", appName+".log")
}
