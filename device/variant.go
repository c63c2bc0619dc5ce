// Package device describes the flight computer variants the ground station
// can talk to: their capabilities and their settings payloads.
package device

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrNoDeviceSelected = errors.New("device: no device selected")
	ErrUnknownVariant   = errors.New("device: unknown variant")
	ErrVariantMismatch  = errors.New("device: settings do not match the selected variant")
)

// Variant names a hardware configuration of the flight computer.
type Variant string

const (
	Entangler Variant = "Entangler"
	Warp      Variant = "Warp"
)

// Capability is a hardware feature present on a variant.
type Capability string

const (
	GPS      Capability = "GPS"
	LoRa     Capability = "LoRa"
	Ejection Capability = "Ejection"
)

var capabilities = map[Variant][]Capability{
	Entangler: {GPS, LoRa},
	Warp:      {GPS, Ejection},
}

// Variants returns the known variants in display order.
func Variants() []Variant {
	return []Variant{Entangler, Warp}
}

// ParseVariant resolves a variant identifier.
func ParseVariant(id string) (Variant, error) {
	v := Variant(id)
	if _, ok := capabilities[v]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownVariant, id)
	}
	return v, nil
}

// Capabilities returns the capability set of v in sorted order. Unknown
// variants have no capabilities.
func (v Variant) Capabilities() []Capability {
	caps := append([]Capability(nil), capabilities[v]...)
	sort.Slice(caps, func(i, j int) bool { return caps[i] < caps[j] })
	if caps == nil {
		return []Capability{}
	}
	return caps
}

// Has reports whether v has capability c.
func (v Variant) Has(c Capability) bool {
	for _, have := range capabilities[v] {
		if have == c {
			return true
		}
	}
	return false
}

func (v Variant) String() string {
	return string(v)
}
