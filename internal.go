package serial

import (
	"errors"
	"time"

	"github.com/flightline/serial/protocol"
	"github.com/rs/zerolog"
)

var nopLogger = zerolog.Nop()

// openLocked opens name and stores it as the link's port. The caller holds
// s.mu and has already closed any previous port.
func (s *Service) openLocked(name string) (string, error) {
	h, err := s.open(name, s.settings)
	if err == nil {
		if err = h.SetReadTimeout(s.Config.ReadTimeout); err != nil {
			err = handleOpenError(h, err)
		}
	}
	s.recordConnectAttempt(err)
	if err != nil {
		s.log().Warn().Err(err).Str("port", name).Int("baud_rate", s.settings.BaudRate).Msg("failed to open serial port")
		return "", &OpenError{Port: name, Err: err}
	}

	s.handle = h
	s.portName = name
	s.isOpen.Store(true)
	s.resetStreamLocked()

	s.log().Info().Str("port", name).Int("baud_rate", s.settings.BaudRate).Msg("serial port opened")
	return name, nil
}

// handleOpenError closes a half-configured port and joins any error from
// closing with err.
func handleOpenError(h portHandle, err error) error {
	if e := h.Close(); e != nil {
		err = errors.Join(err, e)
	}
	return err
}

// closePortLocked drops the port handle and closes it. The caller holds s.mu.
func (s *Service) closePortLocked() error {
	return s.dropPortLocked(false)
}

// closeQuietlyLocked closes the port and logs, rather than returns, a close
// error. Used on the reopen paths where the new open result is what matters.
func (s *Service) closeQuietlyLocked() {
	name := s.portName
	if err := s.closePortLocked(); err != nil {
		s.log().Debug().Err(err).Str("port", name).Msg("error closing previous port")
	}
}

func (s *Service) dropPortLocked(detected bool) error {
	h := s.handle
	s.handle = nil
	s.portName = ""
	s.isOpen.Store(false)
	s.resetStreamLocked()
	if h == nil {
		return nil
	}
	s.recordClose(detected)
	return h.Close()
}

// resetStreamLocked forgets any partial line and partial frame. Bytes from
// a new port never continue data read from an old one.
func (s *Service) resetStreamLocked() {
	if s.framer != nil {
		s.framer.reset()
	}
	protocol.Reset(s.decoder)
}

func (s *Service) emit(kind EventKind, line string) {
	e := Event{Kind: kind, Line: line, Time: time.Now()}
	if s.events != nil {
		s.events.Emit(e)
	}
	if s.Emitter != nil {
		s.Emitter.Emit(e)
	}
}

func (s *Service) log() *zerolog.Logger {
	if s.Logger == nil {
		return &nopLogger
	}
	return s.Logger
}
