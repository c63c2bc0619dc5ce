package serial

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	tarm "github.com/tarm/serial"
	gobug "go.bug.st/serial"
)

// portHandle abstracts the subset of a serial port used by the link.
type portHandle interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	// Drain blocks until the write buffer has been transmitted.
	Drain() error
	SetReadTimeout(d time.Duration) error
	Close() error
}

// opener opens a port with the given line settings.
type opener func(name string, settings SerialSettings) (portHandle, error)

// bugstPort wraps the concrete go.bug.st/serial.Port to satisfy portHandle.
type bugstPort struct {
	gobug.Port
}

func openBugst(name string, settings SerialSettings) (portHandle, error) {
	p, err := gobug.Open(name, settings.mode())
	if err != nil {
		return nil, err
	}
	return &bugstPort{Port: p}, nil
}

// tarmPort adapts github.com/tarm/serial. tarm fixes the read timeout at open
// time (with 100ms granularity on POSIX) and reports an expired timeout as
// io.EOF, which is mapped back to an empty read here. Some drivers also read
// a removed device as EOF, so an EOF on a device node that has disappeared
// is reported as a closed port instead.
type tarmPort struct {
	*tarm.Port
	name string
}

func tarmOpener(readTimeout time.Duration) opener {
	return func(name string, settings SerialSettings) (portHandle, error) {
		p, err := tarm.OpenPort(&tarm.Config{
			Name:        name,
			Baud:        settings.BaudRate,
			Size:        byte(settings.DataBits.Int()),
			Parity:      settings.Parity.tarm(),
			StopBits:    settings.StopBits.tarm(),
			ReadTimeout: readTimeout,
		})
		if err != nil {
			return nil, err
		}
		return &tarmPort{Port: p, name: name}, nil
	}
}

func (t *tarmPort) Read(p []byte) (int, error) {
	n, err := t.Port.Read(p)
	if errors.Is(err, io.EOF) {
		return n, devicePresent(t.name)
	}
	return n, err
}

// devicePresent returns an error wrapping os.ErrClosed when name is a device
// path that no longer exists. Names that are not paths, such as COM3, are
// always reported present.
func devicePresent(name string) error {
	if !filepath.IsAbs(name) {
		return nil
	}
	if _, err := os.Stat(name); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("device %s removed: %w", name, os.ErrClosed)
	}
	return nil
}

// Drain is a no-op: tarm writes straight to the file descriptor.
func (t *tarmPort) Drain() error { return nil }

// SetReadTimeout is a no-op: the timeout is applied when the port is opened.
func (t *tarmPort) SetReadTimeout(time.Duration) error { return nil }
