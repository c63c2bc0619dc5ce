package serial

import (
	"fmt"

	"github.com/flightline/serial/device"
	"github.com/flightline/serial/protocol"
)

// DeviceVariants lists every variant with its default settings.
func (s *Service) DeviceVariants() []device.Settings {
	return device.AllDefaults()
}

// DeviceCapabilities returns the capabilities of the variant named id. An
// unknown id has none.
func (s *Service) DeviceCapabilities(id string) []device.Capability {
	return device.Variant(id).Capabilities()
}

// DeviceSettings returns the settings of the selected variant.
func (s *Service) DeviceSettings() (device.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.device.IsZero() {
		return device.Settings{}, ErrNoDeviceSelected
	}
	return s.device, nil
}

// SelectDeviceVariant selects the variant named id, resets its settings to
// the defaults and binds the decoder configured for it. An unknown id leaves
// everything unchanged.
func (s *Service) SelectDeviceVariant(id string) error {
	v, err := device.ParseVariant(id)
	if err != nil {
		return err
	}
	settings, err := device.Defaults(v)
	if err != nil {
		return err
	}
	dec, err := s.decoderFor(v)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.device = settings
	s.bindDecoderLocked(dec)
	s.mu.Unlock()

	s.log().Info().Str("variant", v.String()).Msg("device variant selected")
	return nil
}

// SetDeviceSettings replaces the settings of the selected variant. The
// settings must carry the selected variant's tag.
func (s *Service) SetDeviceSettings(settings device.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.device.IsZero() {
		return ErrNoDeviceSelected
	}
	if settings.Variant() != s.device.Variant() {
		return fmt.Errorf("%w: selected %q, got %q", ErrVariantMismatch, s.device.Variant(), settings.Variant())
	}
	s.device = settings
	return nil
}

// UploadDeviceSettings would write settings to the connected device.
func (s *Service) UploadDeviceSettings(settings device.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle == nil {
		return ErrNoDeviceConnected
	}
	s.log().Warn().Str("variant", settings.Variant().String()).Msg("device settings upload requested")
	return fmt.Errorf("upload device settings: %w", ErrNotImplemented)
}

// DownloadDeviceSettings would read the settings stored on the connected device.
func (s *Service) DownloadDeviceSettings() (device.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle == nil {
		return device.Settings{}, ErrNoDeviceConnected
	}
	s.log().Warn().Msg("device settings download requested")
	return device.Settings{}, fmt.Errorf("download device settings: %w", ErrNotImplemented)
}

func (s *Service) decoderFor(v device.Variant) (protocol.Decoder, error) {
	if s.Config == nil {
		return nil, nil
	}
	name := s.Config.Decoders[v.String()]
	if name == "" {
		return nil, nil
	}
	dec, err := protocol.New(name)
	if err != nil {
		return nil, fmt.Errorf("binding decoder for %s: %w", v, err)
	}
	return dec, nil
}
