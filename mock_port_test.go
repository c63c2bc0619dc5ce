package serial

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"
)

type readResult struct {
	data []byte
	err  error
}

// mockPort is a scripted portHandle. Reads pop from a queue; an empty queue
// behaves like an expired read timeout.
type mockPort struct {
	mu sync.Mutex

	name     string
	settings SerialSettings

	reads     []readResult
	readCalls int

	writes     [][]byte
	writeErr   error
	zeroWrites bool

	drains      int
	closes      int
	readTimeout time.Duration
	closeErr    error
}

func (m *mockPort) queue(data string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads = append(m.reads, readResult{data: []byte(data)})
}

func (m *mockPort) queueBytes(b []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads = append(m.reads, readResult{data: b})
}

func (m *mockPort) queueErr(data string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads = append(m.reads, readResult{data: []byte(data), err: err})
}

func (m *mockPort) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readCalls++
	if len(m.reads) == 0 {
		return 0, nil
	}
	r := m.reads[0]
	m.reads = m.reads[1:]
	n := copy(p, r.data)
	return n, r.err
}

func (m *mockPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return 0, m.writeErr
	}
	if m.zeroWrites {
		return 0, nil
	}
	m.writes = append(m.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (m *mockPort) Drain() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drains++
	return nil
}

func (m *mockPort) SetReadTimeout(d time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readTimeout = d
	return nil
}

func (m *mockPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	return m.closeErr
}

func (m *mockPort) written() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return string(bytes.Join(m.writes, nil))
}

func (m *mockPort) stats() (reads, drains, closes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readCalls, m.drains, m.closes
}

// mockOpener hands out a fresh mockPort per successful open.
type mockOpener struct {
	mu     sync.Mutex
	opened []*mockPort
	fail   map[string]error
}

func newMockOpener() *mockOpener {
	return &mockOpener{fail: make(map[string]error)}
}

func (o *mockOpener) open(name string, settings SerialSettings) (portHandle, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.fail[name]; err != nil {
		return nil, err
	}
	p := &mockPort{name: name, settings: settings}
	o.opened = append(o.opened, p)
	return p, nil
}

func (o *mockOpener) failWith(name string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fail[name] = err
}

func (o *mockOpener) last() *mockPort {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.opened) == 0 {
		return nil
	}
	return o.opened[len(o.opened)-1]
}

func (o *mockOpener) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.opened)
}

// openPorts counts handed out ports that have not been closed.
func (o *mockOpener) openPorts() int {
	o.mu.Lock()
	ports := append([]*mockPort(nil), o.opened...)
	o.mu.Unlock()

	n := 0
	for _, p := range ports {
		if _, _, closes := p.stats(); closes == 0 {
			n++
		}
	}
	return n
}

var errMockGone = errors.New("mock: device gone")

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.PollInterval = 5 * time.Millisecond
	return cfg
}

// newTestService returns an initialized service whose ports are mocks.
func newTestService(t testing.TB, cfg *Config) (*Service, *mockOpener) {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	o := newMockOpener()
	s := &Service{
		Config: cfg,
		open:   o.open,
		listPorts: func() ([]string, error) {
			return []string{"/dev/ttyUSB0", "/dev/ttyACM0"}, nil
		},
	}
	if err := s.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, o
}

// openMock opens name on s and returns the mock behind it.
func openMock(t testing.TB, s *Service, o *mockOpener, name string) *mockPort {
	t.Helper()
	got, err := s.OpenPort(name)
	if err != nil {
		t.Fatalf("OpenPort(%q) failed: %v", name, err)
	}
	if got != name {
		t.Fatalf("OpenPort returned %q, want %q", got, name)
	}
	return o.last()
}
