package serial

import (
	"errors"
	"fmt"

	"github.com/flightline/serial/device"
)

var (
	ErrNotInitialized    = errors.New("serial: service not initialized")
	ErrNoPortConnected   = errors.New("serial: no port connected")
	ErrNoDeviceConnected = errors.New("serial: no device connected")
	ErrNotImplemented    = errors.New("serial: not implemented")
	ErrInvalidSettings   = errors.New("serial: invalid serial settings")
)

// Device configuration errors, re-exported so callers need only this package.
var (
	ErrNoDeviceSelected = device.ErrNoDeviceSelected
	ErrUnknownVariant   = device.ErrUnknownVariant
	ErrVariantMismatch  = device.ErrVariantMismatch
)

// OpenError reports a failure to open a port. The link is disconnected
// whenever an OpenError is returned.
type OpenError struct {
	Port string
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("failed to connect to %s: %v", e.Port, e.Err)
}

func (e *OpenError) Unwrap() error {
	return e.Err
}
