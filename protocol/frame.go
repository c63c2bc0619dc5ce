package protocol

import (
	"encoding/binary"
	"encoding/hex"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/sigurn/crc16"
)

const (
	// FrameSync marks the start of a telemetry frame.
	FrameSync byte = 0xAA

	// DefaultMaxFrameSize bounds the payload length accepted by Frame.
	DefaultMaxFrameSize = 512
)

const (
	stateSync = iota
	stateLenHi
	stateLenLo
	statePayload
	stateCRCHi
	stateCRCLo
)

var crcTable = crc16.MakeTable(crc16.CRC16_MODBUS)

// Frame decodes length-prefixed telemetry frames:
//
//	0xAA | len (uint16 BE) | payload | CRC16/MODBUS of payload (uint16 BE)
//
// Frames may span several Decode calls. Each valid frame is rendered as one
// line terminated by '\n': printable payloads as text, anything else as hex.
// A frame with a bad checksum or an oversized length is dropped and the
// decoder resynchronises on the next sync byte.
type Frame struct {
	MaxFrameSize int

	state   int
	length  int
	crc     uint16
	payload []byte

	frames  int
	dropped int
}

// NewFrame returns a Frame decoder with the default size limit.
func NewFrame() *Frame {
	return &Frame{MaxFrameSize: DefaultMaxFrameSize}
}

// Decode implements Decoder.
func (f *Frame) Decode(b []byte) string {
	var out strings.Builder
	for _, c := range b {
		if line, ok := f.step(c); ok {
			out.WriteString(line)
			out.WriteByte('\n')
		}
	}
	return out.String()
}

// Frames returns the number of frames decoded successfully.
func (f *Frame) Frames() int { return f.frames }

// Dropped returns the number of frames discarded for a bad length or CRC.
func (f *Frame) Dropped() int { return f.dropped }

// Reset discards any partially received frame.
func (f *Frame) Reset() {
	f.state = stateSync
	f.length = 0
	f.crc = 0
	f.payload = f.payload[:0]
}

func (f *Frame) step(c byte) (string, bool) {
	switch f.state {
	case stateSync:
		if c == FrameSync {
			f.state = stateLenHi
		}
	case stateLenHi:
		f.length = int(c) << 8
		f.state = stateLenLo
	case stateLenLo:
		f.length |= int(c)
		limit := f.MaxFrameSize
		if limit <= 0 {
			limit = DefaultMaxFrameSize
		}
		if f.length == 0 || f.length > limit {
			f.dropped++
			f.Reset()
			return "", false
		}
		f.payload = f.payload[:0]
		f.state = statePayload
	case statePayload:
		f.payload = append(f.payload, c)
		if len(f.payload) == f.length {
			f.state = stateCRCHi
		}
	case stateCRCHi:
		f.crc = uint16(c) << 8
		f.state = stateCRCLo
	case stateCRCLo:
		f.crc |= uint16(c)
		ok := f.crc == crc16.Checksum(f.payload, crcTable)
		line := render(f.payload)
		f.Reset()
		if !ok {
			f.dropped++
			return "", false
		}
		f.frames++
		return line, true
	}
	return "", false
}

// EncodeFrame wraps payload in a telemetry frame understood by Frame.
func EncodeFrame(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+5)
	out = append(out, FrameSync)
	out = binary.BigEndian.AppendUint16(out, uint16(len(payload)))
	out = append(out, payload...)
	out = binary.BigEndian.AppendUint16(out, crc16.Checksum(payload, crcTable))
	return out
}

func render(p []byte) string {
	if utf8.Valid(p) && strings.IndexFunc(string(p), func(r rune) bool { return !unicode.IsPrint(r) }) < 0 {
		return string(p)
	}
	return hex.EncodeToString(p)
}
