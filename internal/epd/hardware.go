package epd

import (
	"periph.io/x/conn/v3/gpio"
)

// Hardware is the narrow bus/pin capability the Driver needs. It is the only
// thing tests replace; see the epdtest package for a recording fake.
//
// Busy line convention for this panel: gpio.Low while the controller is
// working, gpio.High once it accepts the next instruction.
type Hardware interface {
	// SetCommandMode pulls D/C low so following bytes are opcodes.
	SetCommandMode() error
	// SetDataMode pulls D/C high so following bytes are payload.
	SetDataMode() error
	// WriteByte sends one byte in the current mode.
	WriteByte(b byte) error
	// SetReset drives the reset line; gpio.Low holds the controller in reset.
	SetReset(l gpio.Level) error
	// ReadBusy samples the busy line.
	ReadBusy() gpio.Level
}

// bulkWriter is implemented by hardware that can stream a data block in one
// transfer. Driver uses it for frame data when available.
type bulkWriter interface {
	Write(p []byte) (int, error)
}
