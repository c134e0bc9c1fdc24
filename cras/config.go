package cras

/*------------------------------------------------------------------
 *
 * Component:	Client configuration
 *
 * Purpose:	Optional on-disk defaults (socket path, format/rate/channels,
 *		connect timeout) so a caller can run with just
 *		cras.LoadConfig(path) instead of wiring every CreateStream
 *		argument by hand. YAML on disk, sane zero-value defaults when
 *		the file (or a field) is absent.
 *
 *------------------------------------------------------------------*/

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds client-wide defaults. Every field has a usable zero value so
// a caller can populate only what it cares about.
type Config struct {
	SocketPath     string        `yaml:"socket_path"`
	DefaultFormat  SampleFormat  `yaml:"default_format"`
	DefaultRate    uint32        `yaml:"default_rate"`
	DefaultChannels uint32       `yaml:"default_channels"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// DefaultConfig returns the built-in fallbacks used when no config file is
// present or a field is left unset.
func DefaultConfig() Config {
	return Config{
		SocketPath:      DefaultServerSocketPath,
		DefaultFormat:   FormatS16LE,
		DefaultRate:     48000,
		DefaultChannels: 2,
		ConnectTimeout:  5 * time.Second,
	}
}

// LoadConfig reads a YAML config file from path and overlays it onto
// DefaultConfig. A missing file is not an error; it just yields the
// defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, wrapIO("read config", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, newErr(ErrInvalidInput, "parse config", err)
	}
	if cfg.SocketPath == "" {
		cfg.SocketPath = DefaultServerSocketPath
	}
	if cfg.DefaultRate == 0 {
		cfg.DefaultRate = 48000
	}
	if cfg.DefaultChannels == 0 {
		cfg.DefaultChannels = 2
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	return cfg, nil
}
