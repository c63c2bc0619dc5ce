package serial

import (
	"errors"
	"io"
	"os"
	"strings"

	gobug "go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// allow tests to override port enumeration
var getDetailedPortsList = enumerator.GetDetailedPortsList

// usbPortNames returns the names of the attached USB serial devices in
// enumeration order.
func usbPortNames() ([]string, error) {
	details, err := getDetailedPortsList()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(details))
	for _, d := range details {
		if d == nil || !d.IsUSB {
			continue
		}
		names = append(names, d.Name)
	}
	return names, nil
}

// IsDisconnectError reports whether err means the device has gone away:
// a closed port, a broken pipe, or an errno the OS uses for a removed
// device. It is the default disconnect predicate of the poll loop.
func IsDisconnectError(err error) bool {
	if err == nil {
		return false
	}
	var pe *gobug.PortError
	if errors.As(err, &pe) && pe.Code() == gobug.PortClosed {
		return true
	}
	if errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed) {
		return true
	}
	return isDisconnectErrno(err)
}

// isTimeout reports whether a read result is an expired read timeout. The
// drivers signal this with an empty read and no error.
func isTimeout(n int, err error) bool {
	if err == nil {
		return n == 0
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

// splitLines cuts text at line feeds. The final element is the text after
// the last line feed and is empty when text ends with one.
func splitLines(text string) []string {
	return strings.Split(text, "\n")
}
