package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	appName              = "pshell"
	defaultDataDirectory = ".pshell"
)

// Duration is a time.Duration written as "2s" or a number of seconds.
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch v := v.(type) {
	case float64:
		*d = Duration(v * float64(time.Second))
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	default:
		return fmt.Errorf("invalid duration %s", data)
	}
	return nil
}

type ShellConfig struct {
	Path string            `json:"path,omitempty"`
	Args []string          `json:"args,omitempty"`
	Env  map[string]string `json:"env,omitempty"`
}

// Environ returns Env as sorted KEY=VALUE pairs.
func (s ShellConfig) Environ() []string {
	env := make([]string, 0, len(s.Env))
	for k, v := range s.Env {
		env = append(env, k+"="+v)
	}
	slices.Sort(env)
	return env
}

type EchoConfig struct {
	Silent          bool `json:"silent"`
	PrintCommands   bool `json:"print_commands"`
	PrintErrors     bool `json:"print_errors"`
	PrintEmptyLines bool `json:"print_empty_lines"`
	PrintStartStop  bool `json:"print_start_stop"`
}

type Options struct {
	Debug         bool   `json:"debug,omitempty"`
	DataDirectory string `json:"data_directory,omitempty"` // Relative to the cwd
}

// Config holds the configuration for pshell.
type Config struct {
	Shell ShellConfig `json:"shell"`
	Echo  EchoConfig  `json:"echo"`

	GracePeriod    Duration `json:"grace_period"`
	StderrSettle   Duration `json:"stderr_settle"`
	ValidateSyntax bool     `json:"validate_syntax"`
	StripANSI      bool     `json:"strip_ansi,omitempty"`
	// NotifyAfter sends a desktop notification for timed runs at least this
	// long. Zero disables it.
	NotifyAfter     Duration `json:"notify_after,omitempty"`
	BlockedCommands []string `json:"blocked_commands,omitempty"`

	Options *Options `json:"options,omitempty"`

	workingDir string
	configFile string
}

// Default returns the configuration used when no file sets anything.
func Default() *Config {
	return &Config{
		Shell: ShellConfig{
			Path: "bash",
			Args: []string{"-s"},
		},
		Echo: EchoConfig{
			PrintCommands:   true,
			PrintErrors:     true,
			PrintEmptyLines: true,
		},
		GracePeriod:    Duration(2 * time.Second),
		StderrSettle:   Duration(250 * time.Millisecond),
		ValidateSyntax: true,
		Options: &Options{
			DataDirectory: defaultDataDirectory,
		},
	}
}

func (c *Config) WorkingDir() string {
	return c.workingDir
}

// ConfigFile is the file SetConfigField writes to.
func (c *Config) ConfigFile() string {
	return c.configFile
}

func (c *Config) Validate() error {
	var errs []string
	if strings.TrimSpace(c.Shell.Path) == "" {
		errs = append(errs, "shell.path must not be empty")
	}
	if c.GracePeriod <= 0 {
		errs = append(errs, "grace_period must be positive")
	}
	if c.StderrSettle <= 0 {
		errs = append(errs, "stderr_settle must be positive")
	}
	if c.NotifyAfter < 0 {
		errs = append(errs, "notify_after must not be negative")
	}
	for k := range c.Shell.Env {
		if k == "" || strings.ContainsAny(k, "= ") {
			errs = append(errs, fmt.Sprintf("shell.env has invalid name %q", k))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}

// GetConfigField returns the effective value at key (sjson/gjson path
// syntax) as JSON.
func (c *Config) GetConfigField(key string) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}
	result := gjson.GetBytes(data, key)
	if !result.Exists() {
		return "", fmt.Errorf("config field %s not found", key)
	}
	return result.Raw, nil
}

func (c *Config) SetConfigField(key string, value any) error {
	// read the data
	data, err := os.ReadFile(c.configFile)
	if err != nil {
		if os.IsNotExist(err) {
			data = []byte("{}")
		} else {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	newValue, err := sjson.Set(string(data), key, value)
	if err != nil {
		return fmt.Errorf("failed to set config field %s: %w", key, err)
	}
	if err := os.MkdirAll(filepath.Dir(c.configFile), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(c.configFile, []byte(newValue), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ParseValue turns a command line value into what SetConfigField stores:
// JSON when it parses as JSON, a plain string otherwise.
func ParseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}
