package serial

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNew_DefaultsAndValidation(t *testing.T) {
	s, err := New(nil, nil)
	if err != nil {
		t.Fatalf("New with defaults failed: %v", err)
	}
	if s.Config.Driver != DriverBugst {
		t.Fatalf("expected default driver %q, got %q", DriverBugst, s.Config.Driver)
	}
	if got := s.SerialSettings().BaudRate; got != DefaultBaudRate {
		t.Fatalf("expected default baud rate %d, got %d", DefaultBaudRate, got)
	}

	cfg := DefaultConfig()
	cfg.ReadTimeout = MaxReadTimeout + 1
	if _, err := New(cfg, nil); err == nil {
		t.Fatal("expected New to reject an overlong read timeout")
	}
}

func TestInitialize_Idempotent(t *testing.T) {
	logger := zerolog.Nop()
	s := &Service{Logger: &logger, Config: testConfig(), open: newMockOpener().open}
	if err := s.Initialize(); err != nil {
		t.Fatalf("first Initialize failed: %v", err)
	}
	events := s.events
	if err := s.Initialize(); err != nil {
		t.Fatalf("second Initialize failed: %v", err)
	}
	if s.events != events {
		t.Fatal("second Initialize must not rebuild state")
	}
}

func TestInitialize_SelectsConfiguredDevice(t *testing.T) {
	cfg := testConfig()
	cfg.Device = "Warp"
	s, _ := newTestService(t, cfg)

	settings, err := s.DeviceSettings()
	if err != nil {
		t.Fatalf("DeviceSettings failed: %v", err)
	}
	if settings.Variant() != "Warp" {
		t.Fatalf("expected Warp selected, got %q", settings.Variant())
	}
}

func TestOperations_RequireInitialize(t *testing.T) {
	s := &Service{}
	if _, err := s.OpenPort("/dev/ttyUSB0"); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("OpenPort: expected ErrNotInitialized, got %v", err)
	}
	if _, err := s.SetBaudRate(9600); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("SetBaudRate: expected ErrNotInitialized, got %v", err)
	}
	if err := s.SendMessage("x"); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("SendMessage: expected ErrNotInitialized, got %v", err)
	}
	if err := s.Start(); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("Start: expected ErrNotInitialized, got %v", err)
	}
	// Disconnect on a fresh service has nothing to close
	if err := s.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
}

func TestListPorts(t *testing.T) {
	s, _ := newTestService(t, nil)
	ports, err := s.ListPorts()
	if err != nil {
		t.Fatalf("ListPorts failed: %v", err)
	}
	if len(ports) != 2 || ports[0] != "/dev/ttyUSB0" || ports[1] != "/dev/ttyACM0" {
		t.Fatalf("unexpected ports %v", ports)
	}

	s.listPorts = func() ([]string, error) { return nil, errors.New("enumeration failed") }
	if _, err := s.ListPorts(); err == nil || !strings.Contains(err.Error(), "listing ports") {
		t.Fatalf("expected wrapped enumeration error, got %v", err)
	}
}

func TestOpenPort_Success(t *testing.T) {
	s, o := newTestService(t, nil)
	p := openMock(t, s, o, "/dev/ttyUSB0")

	if !s.IsConnected() {
		t.Fatal("expected connected after open")
	}
	if got := s.CurrentPort(); got != "/dev/ttyUSB0" {
		t.Fatalf("CurrentPort = %q", got)
	}
	if p.settings.BaudRate != DefaultBaudRate {
		t.Fatalf("port opened at %d baud, want %d", p.settings.BaudRate, DefaultBaudRate)
	}
	if p.readTimeout != DefaultReadTimeout {
		t.Fatalf("read timeout %v, want %v", p.readTimeout, DefaultReadTimeout)
	}
}

func TestOpenPort_SupersedesPrevious(t *testing.T) {
	s, o := newTestService(t, nil)
	first := openMock(t, s, o, "/dev/ttyUSB0")
	openMock(t, s, o, "/dev/ttyACM0")

	if _, _, closes := first.stats(); closes != 1 {
		t.Fatalf("previous port closed %d times, want 1", closes)
	}
	if got := s.CurrentPort(); got != "/dev/ttyACM0" {
		t.Fatalf("CurrentPort = %q, want /dev/ttyACM0", got)
	}
	if n := o.openPorts(); n != 1 {
		t.Fatalf("%d ports open, want 1", n)
	}
}

func TestOpenPort_Failure(t *testing.T) {
	s, o := newTestService(t, nil)
	first := openMock(t, s, o, "/dev/ttyUSB0")

	cause := errors.New("no such file or directory")
	o.failWith("/dev/ttyBAD", cause)

	name, err := s.OpenPort("/dev/ttyBAD")
	if err == nil {
		t.Fatal("expected open error")
	}
	if name != "" {
		t.Fatalf("expected empty name on failure, got %q", name)
	}

	var oe *OpenError
	if !errors.As(err, &oe) {
		t.Fatalf("expected *OpenError, got %T", err)
	}
	if oe.Port != "/dev/ttyBAD" {
		t.Fatalf("OpenError.Port = %q", oe.Port)
	}
	if !errors.Is(err, cause) {
		t.Fatal("OpenError must unwrap to the driver error")
	}
	if want := "failed to connect to /dev/ttyBAD: no such file or directory"; err.Error() != want {
		t.Fatalf("error text %q, want %q", err.Error(), want)
	}

	// The previous port is gone and nothing replaced it
	if _, _, closes := first.stats(); closes != 1 {
		t.Fatalf("previous port closed %d times, want 1", closes)
	}
	if s.IsConnected() || s.CurrentPort() != "" {
		t.Fatal("expected disconnected after failed open")
	}
}

type timeoutRejectingPort struct{ mockPort }

func (p *timeoutRejectingPort) SetReadTimeout(time.Duration) error {
	return errors.New("timeout not supported")
}

func TestOpenPort_ReadTimeoutFailureClosesPort(t *testing.T) {
	s, _ := newTestService(t, nil)
	p := &timeoutRejectingPort{}
	s.open = func(string, SerialSettings) (portHandle, error) { return p, nil }

	if _, err := s.OpenPort("/dev/ttyUSB0"); err == nil {
		t.Fatal("expected error when the read timeout cannot be set")
	}
	if _, _, closes := p.stats(); closes != 1 {
		t.Fatalf("half-open port closed %d times, want 1", closes)
	}
	if s.IsConnected() {
		t.Fatal("expected disconnected")
	}
}

func TestSetBaudRate_Disconnected(t *testing.T) {
	s, o := newTestService(t, nil)

	name, err := s.SetBaudRate(9600)
	if err != nil {
		t.Fatalf("SetBaudRate failed: %v", err)
	}
	if name != "" {
		t.Fatalf("expected no port name, got %q", name)
	}
	if o.count() != 0 {
		t.Fatal("SetBaudRate must not open a port when disconnected")
	}
	if got := s.SerialSettings().BaudRate; got != 9600 {
		t.Fatalf("stored baud rate %d, want 9600", got)
	}

	// The stored rate is used by the next open
	p := openMock(t, s, o, "/dev/ttyUSB0")
	if p.settings.BaudRate != 9600 {
		t.Fatalf("opened at %d baud, want 9600", p.settings.BaudRate)
	}
}

func TestSetBaudRate_ReopensOpenPort(t *testing.T) {
	s, o := newTestService(t, nil)
	first := openMock(t, s, o, "/dev/ttyUSB0")

	name, err := s.SetBaudRate(57600)
	if err != nil {
		t.Fatalf("SetBaudRate failed: %v", err)
	}
	if name != "/dev/ttyUSB0" {
		t.Fatalf("reopened %q, want /dev/ttyUSB0", name)
	}
	if _, _, closes := first.stats(); closes != 1 {
		t.Fatalf("old handle closed %d times, want 1", closes)
	}
	if p := o.last(); p == first || p.settings.BaudRate != 57600 {
		t.Fatalf("expected a new handle at 57600 baud, got %d", p.settings.BaudRate)
	}
	if o.openPorts() != 1 {
		t.Fatal("expected exactly one open port")
	}
}

func TestSetBaudRate_RejectsUnsupportedRate(t *testing.T) {
	s, o := newTestService(t, nil)
	p := openMock(t, s, o, "/dev/ttyUSB0")
	before := s.SerialSettings()

	if _, err := s.SetBaudRate(12345); !errors.Is(err, ErrInvalidSettings) {
		t.Fatalf("expected ErrInvalidSettings, got %v", err)
	}
	if s.SerialSettings() != before {
		t.Fatal("rejected rate must not be stored")
	}
	if _, _, closes := p.stats(); closes != 0 || s.CurrentPort() != "/dev/ttyUSB0" {
		t.Fatal("rejected rate must leave the open port alone")
	}
}

func TestSetBaudRate_ReopenFailureDisconnects(t *testing.T) {
	s, o := newTestService(t, nil)
	openMock(t, s, o, "/dev/ttyUSB0")
	o.failWith("/dev/ttyUSB0", errors.New("device busy"))

	if _, err := s.SetBaudRate(9600); err == nil {
		t.Fatal("expected reopen error")
	}
	if s.IsConnected() || s.CurrentPort() != "" {
		t.Fatal("expected disconnected after failed reopen")
	}
	if got := s.SerialSettings().BaudRate; got != 9600 {
		t.Fatalf("stored baud rate %d, want 9600", got)
	}
}

func TestDisconnect(t *testing.T) {
	s, o := newTestService(t, nil)
	p := openMock(t, s, o, "/dev/ttyUSB0")

	if err := s.Disconnect(); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if s.IsConnected() || s.CurrentPort() != "" {
		t.Fatal("expected disconnected")
	}
	if _, _, closes := p.stats(); closes != 1 {
		t.Fatalf("port closed %d times, want 1", closes)
	}
	// Second disconnect is a no-op
	if err := s.Disconnect(); err != nil {
		t.Fatalf("second Disconnect failed: %v", err)
	}
}

func TestSendMessage(t *testing.T) {
	s, o := newTestService(t, nil)
	p := openMock(t, s, o, "/dev/ttyUSB0")

	if err := s.SendMessage("ARM"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if err := s.SendMessage(""); err != nil {
		t.Fatalf("SendMessage of empty message failed: %v", err)
	}
	if got := p.written(); got != "ARM\n\n" {
		t.Fatalf("wrote %q, want %q", got, "ARM\n\n")
	}
	if _, drains, _ := p.stats(); drains != 2 {
		t.Fatalf("drained %d times, want 2", drains)
	}
}

func TestSendMessage_NoPort(t *testing.T) {
	s, _ := newTestService(t, nil)
	if err := s.SendMessage("ARM"); !errors.Is(err, ErrNoPortConnected) {
		t.Fatalf("expected ErrNoPortConnected, got %v", err)
	}
}

func TestSendMessage_WriteError(t *testing.T) {
	s, o := newTestService(t, nil)
	p := openMock(t, s, o, "/dev/ttyUSB0")

	cause := errors.New("input/output error")
	p.mu.Lock()
	p.writeErr = cause
	p.mu.Unlock()

	err := s.SendMessage("ARM")
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped write error, got %v", err)
	}
	if !strings.Contains(err.Error(), `"ARM"`) {
		t.Fatalf("error should name the message: %v", err)
	}
	if s.GetMetrics().WriteErrors.Load() != 1 {
		t.Fatal("expected the write error to be counted")
	}
}

func TestSendMessage_ZeroWrite(t *testing.T) {
	s, o := newTestService(t, nil)
	p := openMock(t, s, o, "/dev/ttyUSB0")
	p.mu.Lock()
	p.zeroWrites = true
	p.mu.Unlock()

	err := s.SendMessage("ARM")
	if err == nil || !strings.Contains(err.Error(), "partial write") {
		t.Fatalf("expected partial write error, got %v", err)
	}
}

func TestSerialSettings_RoundTrip(t *testing.T) {
	s, o := newTestService(t, nil)
	want := SerialSettings{BaudRate: 38400, DataBits: 7, Parity: ParityEven, StopBits: StopBits2}
	if err := s.SetSerialSettings(want); err != nil {
		t.Fatalf("SetSerialSettings failed: %v", err)
	}

	if got := s.SerialSettings(); got != want {
		t.Fatalf("SerialSettings = %+v, want %+v", got, want)
	}
	p := openMock(t, s, o, "/dev/ttyUSB0")
	if p.settings != want {
		t.Fatalf("port opened with %+v, want %+v", p.settings, want)
	}
}

func TestSetSerialSettings_RejectsInvalid(t *testing.T) {
	s, _ := newTestService(t, nil)
	before := s.SerialSettings()

	bad := before
	bad.DataBits = 9
	if err := s.SetSerialSettings(bad); !errors.Is(err, ErrInvalidSettings) {
		t.Fatalf("expected ErrInvalidSettings, got %v", err)
	}
	if s.SerialSettings() != before {
		t.Fatal("invalid settings must not be stored")
	}
}

func TestMessages_ClearAndSnapshot(t *testing.T) {
	s, o := newTestService(t, nil)
	p := openMock(t, s, o, "/dev/ttyUSB0")
	p.queue("ALT 100\nALT 200\n")
	s.poll()

	snap := s.Messages()
	snap[0] = "mutated"
	if got := s.Messages()[0]; got != "ALT 100" {
		t.Fatalf("Messages must return a copy, got %q", got)
	}

	s.ClearMessages()
	got := s.Messages()
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil log after clear, got %#v", got)
	}
}

func TestClose_StopsEverything(t *testing.T) {
	s, o := newTestService(t, nil)
	p := openMock(t, s, o, "/dev/ttyUSB0")
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.StartMetricsBroadcasting(10 * time.Millisecond); err != nil {
		t.Fatalf("StartMetricsBroadcasting failed: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if s.IsConnected() {
		t.Fatal("expected disconnected after Close")
	}
	if _, _, closes := p.stats(); closes != 1 {
		t.Fatalf("port closed %d times, want 1", closes)
	}
	if _, err := s.MetricsChannel(); err == nil {
		t.Fatal("expected metrics broadcasting to be stopped")
	}
}
