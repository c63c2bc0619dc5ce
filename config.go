package serial

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DriverBugst = "bugst"
	DriverTarm  = "tarm"

	DefaultReadTimeout    = 10 * time.Millisecond
	DefaultPollInterval   = 50 * time.Millisecond
	DefaultReadBufferSize = 1000
	DefaultMaxLineSize    = 4096
	DefaultBaudRate       = 115200
)

// LogConfig controls the process logger built by the console.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Config holds the link configuration, normally read from a YAML file.
type Config struct {
	// Driver selects the port implementation: "bugst" (default) or "tarm".
	// tarm cannot tell a read timeout from EOF, so with tarm an unplugged
	// device is only detected when its device node disappears.
	Driver string `yaml:"driver"`

	// Port, when set, is opened at startup.
	Port string `yaml:"port"`

	// Device, when set, is the variant selected at startup.
	Device string `yaml:"device"`

	Serial SerialSettings `yaml:"serial"`

	// ReadTimeout bounds every poll read. The link lock is held for the
	// duration of the read, so this must stay short.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	PollInterval   time.Duration `yaml:"poll_interval"`
	ReadBufferSize int           `yaml:"read_buffer_size"`
	MaxLineSize    int           `yaml:"max_line_size"`

	// Decoders maps a device variant to the name of the decoder bound when
	// that variant is selected. Unlisted variants use the raw decoder.
	Decoders map[string]string `yaml:"decoders"`

	MetricsChannelSize int `yaml:"metrics_channel_size"`

	Log LogConfig `yaml:"log"`
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig reads a YAML configuration file and applies defaults for
// anything left unset.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	cfg := &Config{}
	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Driver == "" {
		c.Driver = DriverBugst
	}
	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = DefaultBaudRate
	}
	if c.Serial.DataBits == 0 {
		c.Serial.DataBits = 8
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.ReadBufferSize == 0 {
		c.ReadBufferSize = DefaultReadBufferSize
	}
	if c.MaxLineSize == 0 {
		c.MaxLineSize = DefaultMaxLineSize
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}
