package serial

import (
	"time"

	"github.com/flightline/serial/protocol"
)

// Start launches the poll loop. Calling Start again is a no-op; a stopped
// loop is not restarted.
func (s *Service) Start() error {
	if !s.initialized.Load() {
		return ErrNotInitialized
	}
	if !s.polling.CompareAndSwap(false, true) {
		return nil
	}
	go s.pollLoop()
	return nil
}

// Stop signals the poll loop and waits for it to exit. The signal is seen
// between iterations, never in the middle of a read.
func (s *Service) Stop() {
	if !s.polling.Load() {
		return
	}
	s.stopOnce.Do(func() {
		close(s.pollStop)
	})
	<-s.pollDone
}

func (s *Service) pollLoop() {
	defer close(s.pollDone)

	ticker := time.NewTicker(s.Config.PollInterval)
	defer ticker.Stop()

	s.log().Debug().Dur("interval", s.Config.PollInterval).Msg("poll loop started")
	defer s.log().Debug().Msg("poll loop stopped")

	for {
		select {
		case <-s.pollStop:
			return
		case <-ticker.C:
			s.poll()
		}
	}
}

// poll runs one iteration: a single bounded read of the open port, with the
// link lock held throughout.
func (s *Service) poll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle == nil {
		return
	}

	buf := s.buffers.Get()
	defer s.buffers.Put(buf)

	start := time.Now()
	n, err := s.handle.Read(buf)
	timedOut := isTimeout(n, err)
	s.recordRead(n, err, timedOut, time.Since(start))

	if n > 0 {
		s.deliverLocked(buf[:n])
		if derr := s.handle.Drain(); derr != nil {
			s.log().Debug().Err(derr).Str("port", s.portName).Msg("drain after read failed")
		}
	}

	switch {
	case err == nil, timedOut:
		// nothing to do; most iterations see no data
	case s.IsDisconnect(err):
		name := s.portName
		if cerr := s.dropPortLocked(true); cerr != nil {
			s.log().Debug().Err(cerr).Str("port", name).Msg("error closing disconnected port")
		}
		s.log().Warn().Err(err).Str("port", name).Msg("serial port disconnected")
		s.emit(EventDisconnected, "")
	default:
		s.log().Warn().Err(err).Str("port", s.portName).Msg("serial read error")
	}
}

// deliverLocked decodes b, frames it into lines and publishes each line.
func (s *Service) deliverLocked(b []byte) {
	text := protocol.Decode(s.decoder, b)
	lines, dropped := s.framer.push(text)
	if dropped > 0 {
		s.log().Warn().Str("port", s.portName).Int("lines", dropped).Int("max_line_size", s.Config.MaxLineSize).Msg("dropping overlong line")
	}
	s.recordLines(len(lines), dropped)

	for _, line := range lines {
		s.messages = append(s.messages, line)
		s.emit(EventMessage, line)
	}
}
