package device

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Payload is the variant-specific part of the device settings. The set of
// implementations is closed to this package.
type Payload interface {
	Variant() Variant
	isPayload()
}

// LoRaSettings configures the long range radio.
type LoRaSettings struct {
	Frequency       uint32 `json:"frequency"`
	Bandwidth       uint32 `json:"bandwidth"`
	SpreadingFactor uint8  `json:"spreading_factor"`
	SyncWord        uint8  `json:"sync_word"`
	CodingRate      uint8  `json:"coding_rate"`
}

// DeploymentSettings configures the recovery ejection charges.
type DeploymentSettings struct {
	Apogee       bool    `json:"apogee"`
	Main         bool    `json:"main"`
	ApogeeDelay  float32 `json:"apogee_delay"`
	MainAltitude float32 `json:"main_altitude"`
}

// EntanglerSettings is the payload of the Entangler variant.
type EntanglerSettings struct {
	LoRa LoRaSettings `json:"lora"`
}

// WarpSettings is the payload of the Warp variant.
type WarpSettings struct {
	Deployment DeploymentSettings `json:"deployment"`
}

func (EntanglerSettings) Variant() Variant { return Entangler }
func (EntanglerSettings) isPayload()       {}
func (WarpSettings) Variant() Variant      { return Warp }
func (WarpSettings) isPayload()            {}

// Settings pairs a variant with its payload. The variant is derived from the
// payload type, so a Settings value can never carry a mismatched pair. The
// zero value holds no variant.
type Settings struct {
	payload Payload
}

// NewSettings wraps p.
func NewSettings(p Payload) (Settings, error) {
	if p == nil {
		return Settings{}, ErrNoDeviceSelected
	}
	return Settings{payload: p}, nil
}

// Defaults returns the default settings of v. All defaults are zero values.
func Defaults(v Variant) (Settings, error) {
	switch v {
	case Entangler:
		return Settings{payload: EntanglerSettings{}}, nil
	case Warp:
		return Settings{payload: WarpSettings{}}, nil
	}
	return Settings{}, fmt.Errorf("%w: %q", ErrUnknownVariant, string(v))
}

// AllDefaults returns the default settings of every known variant.
func AllDefaults() []Settings {
	out := make([]Settings, 0, len(Variants()))
	for _, v := range Variants() {
		s, _ := Defaults(v)
		out = append(out, s)
	}
	return out
}

// Variant returns the tag of s, or "" for the zero value.
func (s Settings) Variant() Variant {
	if s.payload == nil {
		return ""
	}
	return s.payload.Variant()
}

// Payload returns the variant payload, or nil for the zero value.
func (s Settings) Payload() Payload {
	return s.payload
}

// IsZero reports whether no variant is held.
func (s Settings) IsZero() bool {
	return s.payload == nil
}

// Entangler returns the Entangler payload when s holds one.
func (s Settings) Entangler() (EntanglerSettings, bool) {
	p, ok := s.payload.(EntanglerSettings)
	return p, ok
}

// Warp returns the Warp payload when s holds one.
func (s Settings) Warp() (WarpSettings, bool) {
	p, ok := s.payload.(WarpSettings)
	return p, ok
}

type wireSettings struct {
	Type Variant         `json:"type"`
	Data json.RawMessage `json:"data"`
}

// MarshalJSON encodes s as {"type": <variant>, "data": <payload>}.
func (s Settings) MarshalJSON() ([]byte, error) {
	if s.payload == nil {
		return []byte("null"), nil
	}
	data, err := json.Marshal(s.payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireSettings{Type: s.payload.Variant(), Data: data})
}

// UnmarshalJSON decodes the {"type", "data"} form. The data object must
// match the shape of the tagged variant exactly.
func (s *Settings) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*s = Settings{}
		return nil
	}
	var w wireSettings
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}

	var p Payload
	switch w.Type {
	case Entangler:
		var e EntanglerSettings
		if err := decodeStrict(w.Data, &e); err != nil {
			return fmt.Errorf("%w: %v", ErrVariantMismatch, err)
		}
		p = e
	case Warp:
		var ws WarpSettings
		if err := decodeStrict(w.Data, &ws); err != nil {
			return fmt.Errorf("%w: %v", ErrVariantMismatch, err)
		}
		p = ws
	default:
		return fmt.Errorf("%w: %q", ErrUnknownVariant, string(w.Type))
	}
	s.payload = p
	return nil
}

func decodeStrict(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return errors.New("missing data")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
