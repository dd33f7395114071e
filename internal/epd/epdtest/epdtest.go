// Package epdtest provides a recording epd.Hardware for tests and dry runs.
package epdtest

import (
	"errors"
	"sync"

	"periph.io/x/conn/v3/gpio"
)

// Mode is the D/C state a byte was written in.
type Mode int

const (
	Command Mode = iota
	Data
)

// Write is one recorded byte.
type Write struct {
	Mode Mode
	B    byte
}

// Recorder implements epd.Hardware by recording every byte. ReadBusy
// returns the queued Busy levels in order and gpio.High (idle) once they
// are used up.
type Recorder struct {
	mu sync.Mutex

	mode   Mode
	writes []Write
	resets []gpio.Level

	// Busy is consumed one level per ReadBusy call.
	Busy []gpio.Level
	// StuckBusy makes ReadBusy report gpio.Low forever.
	StuckBusy bool
	// FailAfter makes WriteByte fail once this many bytes were written
	// (0 disables).
	FailAfter int

	closed     int
	busyPolled int
}

// ErrInjected is returned by WriteByte when FailAfter triggers.
var ErrInjected = errors.New("epdtest: injected write failure")

func (r *Recorder) SetCommandMode() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mode = Command
	return nil
}

func (r *Recorder) SetDataMode() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mode = Data
	return nil
}

func (r *Recorder) WriteByte(b byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailAfter > 0 && len(r.writes) >= r.FailAfter {
		return ErrInjected
	}
	r.writes = append(r.writes, Write{Mode: r.mode, B: b})
	return nil
}

func (r *Recorder) SetReset(l gpio.Level) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resets = append(r.resets, l)
	return nil
}

func (r *Recorder) ReadBusy() gpio.Level {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.busyPolled++
	if r.StuckBusy {
		return gpio.Low
	}
	if len(r.Busy) == 0 {
		return gpio.High
	}
	l := r.Busy[0]
	r.Busy = r.Busy[1:]
	return l
}

// Close counts calls so tests can check release behavior.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed++
	return nil
}

// Bytes returns every written byte regardless of mode.
func (r *Recorder) Bytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]byte, len(r.writes))
	for i, w := range r.writes {
		out[i] = w.B
	}
	return out
}

// Writes returns the recorded bytes with their modes.
func (r *Recorder) Writes() []Write {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Write(nil), r.writes...)
}

// Commands returns only the bytes written in command mode.
func (r *Recorder) Commands() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []byte
	for _, w := range r.writes {
		if w.Mode == Command {
			out = append(out, w.B)
		}
	}
	return out
}

// Resets returns the reset line levels in the order they were driven.
func (r *Recorder) Resets() []gpio.Level {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]gpio.Level(nil), r.resets...)
}

// Closed reports how many times Close was called.
func (r *Recorder) Closed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// BusyPolls reports how many times ReadBusy was called.
func (r *Recorder) BusyPolls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.busyPolled
}

// Clear forgets recorded writes and resets, keeping configuration.
func (r *Recorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes = nil
	r.resets = nil
	r.busyPolled = 0
}
