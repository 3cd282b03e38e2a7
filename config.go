package serial

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultBaudRate is the link speed used when none is configured.
	DefaultBaudRate = 9600
	// DefaultReadTimeout bounds a single ReadLine call.
	DefaultReadTimeout = 3 * time.Second
	// DefaultDelimiter terminates a line.
	DefaultDelimiter = "\n"
)

// Config holds configuration parameters for opening a serial port.
// Only Device is read from a config file; the link parameters are fixed
// at their defaults there and can only be changed by library callers.
type Config struct {
	Device      string        `yaml:"device"`
	BaudRate    int           `yaml:"-"`
	Delimiter   string        `yaml:"-"`
	ReadTimeout time.Duration `yaml:"-"` // 0 blocks until a delimiter or error
}

// DefaultConfig returns a Config with every field but Device set.
// There is no portable device name, so callers must supply one.
func DefaultConfig() Config {
	return Config{
		BaudRate:    DefaultBaudRate,
		Delimiter:   DefaultDelimiter,
		ReadTimeout: DefaultReadTimeout,
	}
}

// LoadConfig loads configuration from a YAML file. If the file doesn't exist
// the defaults are returned. Keys other than device are ignored.
func LoadConfig(filename string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(filename)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Validate reports whether the Config can be passed to Open.
func (c Config) Validate() error {
	if c.Device == "" {
		return errors.New("no serial device configured")
	}
	if c.BaudRate <= 0 {
		return fmt.Errorf("invalid baud rate %d", c.BaudRate)
	}
	if c.Delimiter == "" {
		return errors.New("empty line delimiter")
	}
	if c.ReadTimeout < 0 {
		return fmt.Errorf("negative read timeout %s", c.ReadTimeout)
	}
	return nil
}
