package serial

import (
	tarm "github.com/tarm/serial"
	gobug "go.bug.st/serial"
)

type BaudRate int

func (b BaudRate) Int() int {
	return int(b)
}

const (
	Baud1200   BaudRate = 1200
	Baud2400   BaudRate = 2400
	Baud4800   BaudRate = 4800
	Baud9600   BaudRate = 9600
	Baud19200  BaudRate = 19200
	Baud38400  BaudRate = 38400
	Baud57600  BaudRate = 57600
	Baud115200 BaudRate = 115200
	Baud230400 BaudRate = 230400
	Baud460800 BaudRate = 460800
	Baud921600 BaudRate = 921600
)

type DataBits int

func (d DataBits) Int() int {
	if d == 0 {
		return 8
	}
	return int(d)
}

type Parity gobug.Parity

func (pa Parity) Get() gobug.Parity {
	return gobug.Parity(pa)
}

func (pa Parity) tarm() tarm.Parity {
	switch pa {
	case ParityOdd:
		return tarm.ParityOdd
	case ParityEven:
		return tarm.ParityEven
	case ParityMark:
		return tarm.ParityMark
	case ParitySpace:
		return tarm.ParitySpace
	}
	return tarm.ParityNone
}

const (
	// ParityNone represents no parity bit
	ParityNone = Parity(gobug.NoParity)
	// ParityOdd represents odd parity bit
	ParityOdd = Parity(gobug.OddParity)
	// ParityEven represents even parity bit
	ParityEven = Parity(gobug.EvenParity)
	// ParityMark represents mark parity bit (always 1)
	ParityMark = Parity(gobug.MarkParity)
	// ParitySpace represents space parity bit (always 0)
	ParitySpace = Parity(gobug.SpaceParity)
)

type StopBits gobug.StopBits

func (sb StopBits) Get() gobug.StopBits {
	return gobug.StopBits(sb)
}

func (sb StopBits) tarm() tarm.StopBits {
	switch sb {
	case StopBits1Half:
		return tarm.Stop1Half
	case StopBits2:
		return tarm.Stop2
	}
	return tarm.Stop1
}

const (
	// StopBits1 represents 1 stop bit
	StopBits1 = StopBits(gobug.OneStopBit)
	// StopBits1Half represents 1.5 stop bits
	StopBits1Half = StopBits(gobug.OnePointFiveStopBits)
	// StopBits2 represents 2 stop bits
	StopBits2 = StopBits(gobug.TwoStopBits)
)

// SerialSettings is the line configuration used when a port is opened.
// Zero DataBits means 8.
type SerialSettings struct {
	BaudRate int      `json:"baud_rate" yaml:"baud_rate"`
	DataBits DataBits `json:"data_bits" yaml:"data_bits"`
	Parity   Parity   `json:"parity" yaml:"parity"`
	StopBits StopBits `json:"stop_bits" yaml:"stop_bits"`
}

func (s SerialSettings) mode() *gobug.Mode {
	return &gobug.Mode{
		BaudRate: BaudRate(s.BaudRate).Int(),
		DataBits: s.DataBits.Int(),
		Parity:   s.Parity.Get(),
		StopBits: s.StopBits.Get(),
	}
}
