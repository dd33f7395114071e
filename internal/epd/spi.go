package epd

import (
	"errors"
	"fmt"
	"io"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// Waveshare e-Paper HAT wiring on a Raspberry Pi header (BCM numbering).
const (
	DefaultDCPin    = "GPIO25"
	DefaultResetPin = "GPIO17"
	DefaultBusyPin  = "GPIO24"
	DefaultMaxHz    = 4 * physic.MegaHertz
)

// defaultMaxTx is used when the connection does not report conn.Limits.
const defaultMaxTx = 4096

var errDevClosed = errors.New("epd: hardware closed")

// Dev is the SPI/GPIO layer: one SPI connection plus the D/C, reset and busy
// lines. It implements Hardware and the bulk write path.
type Dev struct {
	c    conn.Conn
	dc   gpio.PinOut
	rst  gpio.PinOut
	busy gpio.PinIn

	// port is closed by Close when Dev opened it itself.
	port  io.Closer
	maxTx int

	closed bool
}

var _ Hardware = (*Dev)(nil)

// NewDev wraps an already connected bus and configured pins. The caller
// keeps ownership of the port behind c.
func NewDev(c conn.Conn, dc, rst gpio.PinOut, busy gpio.PinIn) *Dev {
	maxTx := defaultMaxTx
	if l, ok := c.(conn.Limits); ok && l.MaxTxSize() > 0 {
		maxTx = l.MaxTxSize()
	}
	return &Dev{c: c, dc: dc, rst: rst, busy: busy, maxTx: maxTx}
}

// SPIOpts selects the SPI port and pins by periph registry name.
type SPIOpts struct {
	// Port is the spireg name ("" picks the first port, e.g. SPI0.0).
	Port  string
	MaxHz physic.Frequency

	DC    string
	Reset string
	Busy  string
}

// OpenSPI initializes periph.io, opens the SPI port in mode 0 and
// configures the pins. The returned Dev closes the port on Close.
func OpenSPI(o SPIOpts) (*Dev, error) {
	if o.MaxHz == 0 {
		o.MaxHz = DefaultMaxHz
	}
	if o.DC == "" {
		o.DC = DefaultDCPin
	}
	if o.Reset == "" {
		o.Reset = DefaultResetPin
	}
	if o.Busy == "" {
		o.Busy = DefaultBusyPin
	}

	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("epd: periph host init failed: %w", err)
	}

	port, err := spireg.Open(o.Port)
	if err != nil {
		return nil, fmt.Errorf("epd: failed to open SPI port %q: %w", o.Port, err)
	}
	c, err := port.Connect(o.MaxHz, spi.Mode0, 8)
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("epd: failed to connect SPI: %w", err)
	}

	dc, err := outPin(o.DC, gpio.Low)
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	rst, err := outPin(o.Reset, gpio.High)
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	busy := gpioreg.ByName(o.Busy)
	if busy == nil {
		_ = port.Close()
		return nil, fmt.Errorf("epd: gpio %s not found", o.Busy)
	}
	if err := busy.In(gpio.PullUp, gpio.NoEdge); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("epd: gpio %s In failed: %w", o.Busy, err)
	}

	d := NewDev(c, dc, rst, busy)
	d.port = port
	return d, nil
}

func outPin(name string, initial gpio.Level) (gpio.PinIO, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("epd: gpio %s not found", name)
	}
	if err := p.Out(initial); err != nil {
		return nil, fmt.Errorf("epd: gpio %s Out failed: %w", name, err)
	}
	return p, nil
}

func (d *Dev) SetCommandMode() error {
	if d.closed {
		return errDevClosed
	}
	return d.dc.Out(gpio.Low)
}

func (d *Dev) SetDataMode() error {
	if d.closed {
		return errDevClosed
	}
	return d.dc.Out(gpio.High)
}

func (d *Dev) WriteByte(b byte) error {
	if d.closed {
		return errDevClosed
	}
	return d.c.Tx([]byte{b}, nil)
}

// Write streams p in transfers no larger than the bus limit.
func (d *Dev) Write(p []byte) (int, error) {
	if d.closed {
		return 0, errDevClosed
	}
	n := 0
	for n < len(p) {
		end := min(n+d.maxTx, len(p))
		if err := d.c.Tx(p[n:end], nil); err != nil {
			return n, err
		}
		n = end
	}
	return n, nil
}

func (d *Dev) SetReset(l gpio.Level) error {
	if d.closed {
		return errDevClosed
	}
	return d.rst.Out(l)
}

func (d *Dev) ReadBusy() gpio.Level {
	return d.busy.Read()
}

// Close releases the SPI port if Dev opened it. Pins need no release.
func (d *Dev) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	if d.port != nil {
		return d.port.Close()
	}
	return nil
}

func (d *Dev) String() string {
	return fmt.Sprintf("epd.Dev{%s}", d.c)
}
