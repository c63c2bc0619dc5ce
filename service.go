package serial

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/flightline/serial/device"
	"github.com/flightline/serial/protocol"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

const ServiceName = "serial"

// Service owns the serial link to the flight computer. All link state is
// guarded by a single mutex shared by the poll loop and every caller.
type Service struct {
	Logger *zerolog.Logger `di.inject:"logger"`
	Config *Config         `di.inject:"config"`

	// IsDisconnect decides which poll read errors mean the device is gone.
	// Nil means IsDisconnectError.
	IsDisconnect func(error) bool

	// Emitter, when set, receives every event in addition to subscribers.
	Emitter Emitter

	initialized atomic.Bool
	isOpen      atomic.Bool
	polling     atomic.Bool
	initOnce    sync.Once
	initErr     error

	open      opener
	listPorts func() ([]string, error)

	mu       sync.Mutex
	settings SerialSettings
	handle   portHandle
	portName string
	decoder  protocol.Decoder
	messages []string
	device   device.Settings
	framer   *lineFramer

	events  *Broadcaster
	buffers *BufferPool

	pollStop chan struct{}
	pollDone chan struct{}
	stopOnce sync.Once

	metrics            *Metrics
	metricsEnabled     atomic.Bool
	metricsBroadcaster *MetricsBroadcaster
	metricsMu          sync.Mutex
}

// New builds and initializes a Service. A nil cfg means DefaultConfig and a
// nil logger discards all output.
func New(cfg *Config, logger *zerolog.Logger) (*Service, error) {
	s := &Service{Config: cfg, Logger: logger}
	if err := s.Initialize(); err != nil {
		return nil, err
	}
	return s, nil
}

// Initialize prepares the service. It is safe to call more than once; only
// the first call does any work.
func (s *Service) Initialize() error {
	s.initOnce.Do(func() {
		s.initErr = s.doInitialize()
	})
	return s.initErr
}

func (s *Service) doInitialize() error {
	if s.Logger == nil {
		nop := zerolog.Nop()
		s.Logger = &nop
	}
	if s.Config == nil {
		s.Config = DefaultConfig()
	}
	s.Config.applyDefaults()

	if err := ValidateConfig(s.Config); err != nil {
		return fmt.Errorf("invalid link configuration: %w", err)
	}

	s.metrics = &Metrics{}
	s.metricsEnabled.Store(true)

	s.settings = s.Config.Serial
	s.framer = newLineFramer(s.Config.MaxLineSize)
	s.buffers = NewBufferPool(s.Config.ReadBufferSize)
	s.events = NewBroadcaster()
	s.pollStop = make(chan struct{})
	s.pollDone = make(chan struct{})

	if s.open == nil {
		switch s.Config.Driver {
		case DriverTarm:
			s.open = tarmOpener(s.Config.ReadTimeout)
		default:
			s.open = openBugst
		}
	}
	if s.listPorts == nil {
		s.listPorts = usbPortNames
	}
	if s.IsDisconnect == nil {
		s.IsDisconnect = IsDisconnectError
	}

	if s.Config.Device != "" {
		if err := s.SelectDeviceVariant(s.Config.Device); err != nil {
			return fmt.Errorf("selecting device %s: %w", s.Config.Device, err)
		}
	}

	s.initialized.Store(true)
	s.log().Debug().
		Str("driver", s.Config.Driver).
		Int("baud_rate", s.settings.BaudRate).
		Dur("read_timeout", s.Config.ReadTimeout).
		Dur("poll_interval", s.Config.PollInterval).
		Msg("serial link initialized")
	return nil
}

// AvailablePorts lists the attached USB serial devices.
func AvailablePorts() ([]string, error) {
	return usbPortNames()
}

// ListPorts lists the attached USB serial devices in enumeration order. It
// does not touch the link state.
func (s *Service) ListPorts() ([]string, error) {
	list := s.listPorts
	if list == nil {
		list = usbPortNames
	}
	ports, err := list()
	if err != nil {
		return nil, fmt.Errorf("listing ports: %w", err)
	}
	return ports, nil
}

// OpenPort closes any open port and opens name with the current settings.
// On failure the link is left disconnected and an *OpenError is returned.
func (s *Service) OpenPort(name string) (string, error) {
	if !s.initialized.Load() {
		return "", ErrNotInitialized
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.closeQuietlyLocked()
	return s.openLocked(name)
}

// SetBaudRate stores the baud rate. When a port is open it is closed and
// reopened at the new rate and its name is returned; when none is open the
// rate is kept for the next OpenPort and "" is returned. A rate outside the
// supported set returns ErrInvalidSettings and changes nothing.
func (s *Service) SetBaudRate(rate int) (string, error) {
	if !s.initialized.Load() {
		return "", ErrNotInitialized
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.settings
	next.BaudRate = rate
	if err := ValidateSerialSettings(next); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}
	s.settings = next
	if s.handle == nil {
		return "", nil
	}

	name := s.portName
	s.closeQuietlyLocked()
	return s.openLocked(name)
}

// CurrentPort returns the name of the open port, or "" when disconnected.
func (s *Service) CurrentPort() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.portName
}

// IsConnected reports whether a port is open.
func (s *Service) IsConnected() bool {
	return s.isOpen.Load()
}

// Disconnect closes the open port, if any. The poll loop sees no port from
// its next iteration on.
func (s *Service) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := s.portName
	if err := s.closePortLocked(); err != nil {
		return fmt.Errorf("closing %s: %w", name, err)
	}
	if name != "" {
		s.log().Info().Str("port", name).Msg("serial port closed")
	}
	return nil
}

// SendMessage writes msg followed by a line feed and drains the port.
func (s *Service) SendMessage(msg string) error {
	if !s.initialized.Load() {
		return ErrNotInitialized
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle == nil {
		return ErrNoPortConnected
	}

	start := time.Now()
	n, err := s.writeLocked([]byte(msg + "\n"))
	s.recordWrite(n, err, time.Since(start))
	if err != nil {
		s.log().Warn().Err(err).Str("port", s.portName).Msg("serial write failed")
		return fmt.Errorf("serial port error while sending %q: %w", msg, err)
	}
	return nil
}

// Messages returns a snapshot of the message log in arrival order.
func (s *Service) Messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.messages...)
}

// ClearMessages empties the message log.
func (s *Service) ClearMessages() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
}

// SerialSettings returns the settings used for the next open.
func (s *Service) SerialSettings() SerialSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// SetSerialSettings replaces the stored settings. An open port keeps its
// current configuration until it is reopened. Invalid settings return
// ErrInvalidSettings and leave the stored ones in place.
func (s *Service) SetSerialSettings(settings SerialSettings) error {
	if err := ValidateSerialSettings(settings); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
	return nil
}

// SetDecoder binds d to the link. A nil decoder selects raw UTF-8 decoding.
// d starts from a clean state even when the port is already streaming.
func (s *Service) SetDecoder(d protocol.Decoder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindDecoderLocked(d)
}

func (s *Service) bindDecoderLocked(d protocol.Decoder) {
	protocol.Reset(d)
	s.decoder = d
}

// Subscribe registers for link events; see Broadcaster.Subscribe. Before
// Initialize the returned channel is already closed.
func (s *Service) Subscribe(buffer int) (<-chan Event, func()) {
	if s.events == nil {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}
	return s.events.Subscribe(buffer)
}

// BufferPoolStats returns statistics of the poll read buffer pool.
func (s *Service) BufferPoolStats() PoolStats {
	if s.buffers == nil {
		return PoolStats{}
	}
	return s.buffers.Stats()
}

// Close stops the poll loop and the metrics broadcaster and closes the port.
func (s *Service) Close() error {
	if !s.initialized.Load() {
		return ErrNotInitialized
	}

	s.Stop()
	s.StopMetricsBroadcasting()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closePortLocked()
}

func (s *Service) writeLocked(data []byte) (int, error) {
	written := 0
	for written < len(data) {
		n, err := s.handle.Write(data[written:])
		written += n
		if err != nil {
			return written, err
		}
		if n == 0 {
			return written, errors.New("partial write: not all bytes written")
		}
	}
	return written, s.handle.Drain()
}
