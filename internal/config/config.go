// Package config loads drmdecrypt settings from an optional YAML file.
// Command-line flags are applied on top by the caller.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/zsiec/drmdecrypt/internal/packetbuf"
)

// EnvPath names the environment variable holding the config file path.
const EnvPath = "DRMDECRYPT_CONFIG"

// DefaultFile is the file looked up in the user config directory when
// neither -config nor $DRMDECRYPT_CONFIG is set.
const DefaultFile = "drmdecrypt/config.yaml"

var ErrInvalid = errors.New("config: invalid value")

type Buffer struct {
	Capacity  int `yaml:"capacity"`
	ReadSize  int `yaml:"readSize"`
	WriteSize int `yaml:"writeSize"`
}

// Options converts the buffer section to packet buffer options. Zero
// fields fall back to the buffer defaults.
func (b Buffer) Options() packetbuf.Options {
	return packetbuf.Options{
		Capacity:  b.Capacity,
		ReadSize:  b.ReadSize,
		WriteSize: b.WriteSize,
	}
}

type Config struct {
	OutputDir          string `yaml:"outputDir"`
	LogLevel           string `yaml:"logLevel"`
	DisableHardwareAES bool   `yaml:"disableHardwareAES"`
	// Progress forces the progress bar on or off. Nil leaves it to
	// terminal detection.
	Progress *bool  `yaml:"progress"`
	Buffer   Buffer `yaml:"buffer"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{LogLevel: "info"}
}

// Load reads the config file at path. An empty path resolves to
// $DRMDECRYPT_CONFIG and then to the default file; only a missing default
// file is tolerated.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = os.Getenv(EnvPath)
		explicit = path != ""
	}
	if !explicit {
		dir, err := os.UserConfigDir()
		if err != nil {
			return cfg, nil
		}
		path = filepath.Join(dir, DefaultFile)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	return cfg, cfg.Validate()
}

// Validate checks the log level name and buffer sizes.
func (c Config) Validate() error {
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.Buffer.Capacity < 0 || c.Buffer.ReadSize < 0 || c.Buffer.WriteSize < 0 {
		return fmt.Errorf("%w: buffer sizes must not be negative", ErrInvalid)
	}
	if err := c.Buffer.Options().Validate(); err != nil {
		return fmt.Errorf("%w: buffer: %v", ErrInvalid, err)
	}
	return nil
}

// ParseLevel maps a level name (debug, info, warn, error) to a slog level.
// The empty string means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("%w: log level %q", ErrInvalid, s)
}
