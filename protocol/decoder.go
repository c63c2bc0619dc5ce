// Package protocol holds the decoders that turn raw bytes read from the
// flight computer into display text.
package protocol

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Decoder transforms a chunk of raw bytes into text. Implementations must not
// block and must not retain b after returning. Any framing state a decoder
// needs is kept inside the decoder itself.
type Decoder interface {
	Decode(b []byte) string
}

// Resetter is implemented by decoders that carry state from one chunk to the
// next. Reset discards that state, e.g. when the byte stream restarts.
type Resetter interface {
	Reset()
}

// Factory builds a fresh decoder instance.
type Factory func() Decoder

// RawName and FrameName are the names of the built-in decoders.
const (
	RawName   = "raw"
	FrameName = "frame"
)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{
		RawName:   func() Decoder { return Raw{} },
		FrameName: func() Decoder { return NewFrame() },
	}
)

// Raw is the default decoder: bytes are passed through as UTF-8, with invalid
// sequences replaced by U+FFFD.
type Raw struct{}

// Decode implements Decoder.
func (Raw) Decode(b []byte) string {
	return strings.ToValidUTF8(string(b), "�")
}

// Decode runs d over b, falling back to Raw when d is nil.
func Decode(d Decoder, b []byte) string {
	if d == nil {
		return Raw{}.Decode(b)
	}
	return d.Decode(b)
}

// Reset clears the state of d when it implements Resetter.
func Reset(d Decoder) {
	if r, ok := d.(Resetter); ok {
		r.Reset()
	}
}

// Register makes a decoder available under name. Registering an existing
// name replaces it.
func Register(name string, f Factory) error {
	if name == "" {
		return fmt.Errorf("protocol: empty decoder name")
	}
	if f == nil {
		return fmt.Errorf("protocol: nil factory for decoder %q", name)
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
	return nil
}

// New returns a new instance of the decoder registered under name.
func New(name string) (Decoder, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("protocol: unknown decoder %q", name)
	}
	return f(), nil
}

// Names lists the registered decoder names in sorted order.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
