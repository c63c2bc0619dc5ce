package serial

import (
	"fmt"
	"time"

	"github.com/flightline/serial/device"
	"github.com/flightline/serial/protocol"
)

const (
	// MaxReadTimeout caps the poll read timeout. Every other link operation
	// may have to wait out one read.
	MaxReadTimeout = 100 * time.Millisecond

	// MaxBufferSize defines the maximum allowed poll read buffer.
	MaxBufferSize = 64 * 1024 // 64KB
)

// ValidateConfig validates link configuration parameters
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if cfg.Driver != DriverBugst && cfg.Driver != DriverTarm {
		return fmt.Errorf("unknown driver %q, must be %q or %q", cfg.Driver, DriverBugst, DriverTarm)
	}

	if err := ValidateSerialSettings(cfg.Serial); err != nil {
		return err
	}

	// Validate timeouts
	if cfg.ReadTimeout <= 0 || cfg.ReadTimeout > MaxReadTimeout {
		return fmt.Errorf("read timeout must be in (0, %v], got: %v", MaxReadTimeout, cfg.ReadTimeout)
	}
	if cfg.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got: %v", cfg.PollInterval)
	}

	// Validate buffers
	if cfg.ReadBufferSize <= 0 || cfg.ReadBufferSize > MaxBufferSize {
		return fmt.Errorf("read buffer size must be 1-%d, got: %d", MaxBufferSize, cfg.ReadBufferSize)
	}
	if cfg.MaxLineSize <= 0 {
		return fmt.Errorf("max line size must be positive, got: %d", cfg.MaxLineSize)
	}

	if cfg.Device != "" {
		if _, err := device.ParseVariant(cfg.Device); err != nil {
			return fmt.Errorf("invalid device: %w", err)
		}
	}
	for variant, name := range cfg.Decoders {
		if _, err := device.ParseVariant(variant); err != nil {
			return fmt.Errorf("invalid decoder binding: %w", err)
		}
		if _, err := protocol.New(name); err != nil {
			return fmt.Errorf("invalid decoder binding for %s: %w", variant, err)
		}
	}

	// Validate metrics channel size
	if cfg.MetricsChannelSize < 0 {
		return fmt.Errorf("metrics channel size cannot be negative: %d", cfg.MetricsChannelSize)
	}
	if cfg.MetricsChannelSize > 10000 {
		return fmt.Errorf("metrics channel size too large (max 10000): %d", cfg.MetricsChannelSize)
	}

	return nil
}

// ValidateSerialSettings checks line settings against what the drivers accept.
func ValidateSerialSettings(s SerialSettings) error {
	validBaudRates := []BaudRate{Baud1200, Baud2400, Baud4800, Baud9600, Baud19200, Baud38400, Baud57600, Baud115200, Baud230400, Baud460800, Baud921600}
	if !isValidBaudRate(BaudRate(s.BaudRate), validBaudRates) {
		return fmt.Errorf("invalid baud rate %d, must be one of: %v", s.BaudRate, validBaudRates)
	}

	if s.DataBits != 0 && (s.DataBits < 5 || s.DataBits > 8) {
		return fmt.Errorf("data bits must be 5-8, got: %d", s.DataBits)
	}

	switch s.Parity {
	case ParityNone, ParityOdd, ParityEven, ParityMark, ParitySpace:
	default:
		return fmt.Errorf("invalid parity value: %d", s.Parity)
	}

	switch s.StopBits {
	case StopBits1, StopBits1Half, StopBits2:
	default:
		return fmt.Errorf("invalid stop bits value: %d", s.StopBits)
	}

	return nil
}

func isValidBaudRate(rate BaudRate, valid []BaudRate) bool {
	for _, v := range valid {
		if rate == v {
			return true
		}
	}
	return false
}
