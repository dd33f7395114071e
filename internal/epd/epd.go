// Package epd drives the Waveshare 7.5" black/white/red (bc) e-paper panel.
//
// Driver owns the command protocol: reset and power-up, frame transmission,
// refresh with busy-wait, deep sleep and release of the hardware handle. The
// bus and pins sit behind the Hardware interface; Dev is the
// periph.io implementation used on a Raspberry Pi.
//
// A Driver is not safe for concurrent use. Callers that share one across
// goroutines must serialize access (see internal/panel).
package epd

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"time"

	"periph.io/x/conn/v3/gpio"

	"epd7in5bc/internal/convert"
	appLog "epd7in5bc/internal/log"
)

// Native panel geometry.
const (
	Width  = 640
	Height = 384
)

var (
	// ErrInvalidState is wrapped by every lifecycle misuse error.
	ErrInvalidState = errors.New("epd: invalid state")
	// ErrNotInitialized is returned by operations issued before Initialize.
	ErrNotInitialized = fmt.Errorf("%w: not initialized", ErrInvalidState)
	// ErrClosed is returned by operations issued after Close.
	ErrClosed = fmt.Errorf("%w: closed", ErrInvalidState)
	// ErrBusyTimeout reports that the busy line never released within
	// Opts.BusyTimeout, which points at a wiring or controller fault.
	ErrBusyTimeout = errors.New("epd: busy timeout")
)

// State is the Driver lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateReady
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateDisposed:
		return "disposed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Opts configures a Driver. Zero fields take the defaults noted below.
type Opts struct {
	// Panel geometry in pixels (default 640x384). W must be even.
	W, H int

	// BusyTimeout bounds every busy-wait (default 30s). Negative disables
	// the bound and polls until ctx is done.
	BusyTimeout time.Duration
	// BusyPoll is the pause between GetStatus polls (default 10ms).
	BusyPoll time.Duration

	// ResetDelay is the settle time before and after the reset pulse
	// (default 200ms); ResetPulse is how long reset is held low (default 2ms).
	ResetDelay time.Duration
	ResetPulse time.Duration
}

// DefaultOpts returns the options for the native 7.5" bc panel.
func DefaultOpts() Opts {
	return Opts{
		W:           Width,
		H:           Height,
		BusyTimeout: 30 * time.Second,
		BusyPoll:    10 * time.Millisecond,
		ResetDelay:  200 * time.Millisecond,
		ResetPulse:  2 * time.Millisecond,
	}
}

// Driver sequences commands for one panel.
type Driver struct {
	opts  Opts
	rect  image.Rectangle
	hw    Hardware
	state State

	// sleep mirrors DEV_Delay_ms; tests replace it.
	sleep func(time.Duration)
}

// New validates opts and returns an uninitialized Driver. opts may be nil.
func New(opts *Opts) (*Driver, error) {
	o := DefaultOpts()
	if opts != nil {
		if opts.W != 0 || opts.H != 0 {
			o.W, o.H = opts.W, opts.H
		}
		if opts.BusyTimeout != 0 {
			o.BusyTimeout = opts.BusyTimeout
		}
		if opts.BusyPoll > 0 {
			o.BusyPoll = opts.BusyPoll
		}
		if opts.ResetDelay > 0 {
			o.ResetDelay = opts.ResetDelay
		}
		if opts.ResetPulse > 0 {
			o.ResetPulse = opts.ResetPulse
		}
	}
	if o.W <= 0 || o.W%2 != 0 || o.W > 0xFFFF {
		return nil, fmt.Errorf("epd: width must be even and between 2 and 65534, got %d", o.W)
	}
	if o.H <= 0 || o.H > 0xFFFF {
		return nil, fmt.Errorf("epd: height must be between 1 and 65535, got %d", o.H)
	}
	return &Driver{
		opts:  o,
		rect:  image.Rect(0, 0, o.W, o.H),
		sleep: time.Sleep,
	}, nil
}

// State reports the lifecycle state.
func (d *Driver) State() State {
	return d.state
}

// Width and Height return the panel geometry.
func (d *Driver) Width() int  { return d.rect.Dx() }
func (d *Driver) Height() int { return d.rect.Dy() }

// Initialize takes hw, pulses reset and runs the power-up sequence. It may
// be called again on a Ready driver to wake the panel after Sleep.
func (d *Driver) Initialize(ctx context.Context, hw Hardware) error {
	if d.state == StateDisposed {
		return ErrClosed
	}
	if hw == nil {
		return errors.New("epd: nil hardware")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	prevHW, prevState := d.hw, d.state
	d.hw = hw
	start := time.Now()
	if err := d.initPanel(ctx); err != nil {
		if prevState == StateUninitialized {
			d.hw = prevHW
		}
		return fmt.Errorf("epd: initialize: %w", err)
	}
	d.state = StateReady
	appLog.Info("epd initialized", "width", d.rect.Dx(), "height", d.rect.Dy(), "elapsed", time.Since(start))
	return nil
}

// Clear paints the whole panel white.
func (d *Driver) Clear(ctx context.Context) error {
	if err := d.ready(ctx); err != nil {
		return err
	}
	start := time.Now()
	frame := convert.FillWhite(d.rect.Dx() / convert.PixelsPerByte * d.rect.Dy())
	if err := d.writeFrame(ctx, frame); err != nil {
		return fmt.Errorf("epd: clear: %w", err)
	}
	appLog.Info("epd cleared", "bytes", len(frame), "elapsed", time.Since(start))
	return nil
}

// DisplayImage encodes img and refreshes the panel with it. img is sent as
// is: a smaller or larger image is streamed row-major without cropping.
func (d *Driver) DisplayImage(ctx context.Context, img image.Image) error {
	if err := d.ready(ctx); err != nil {
		return err
	}
	if img == nil {
		return errors.New("epd: nil image")
	}
	if b := img.Bounds(); b.Dx() != d.rect.Dx() || b.Dy() != d.rect.Dy() {
		appLog.Debug("epd image size differs from panel", "image", b.Size(), "panel", d.rect.Size())
	}
	start := time.Now()
	frame := convert.Encode(img)
	if err := d.writeFrame(ctx, frame); err != nil {
		return fmt.Errorf("epd: display: %w", err)
	}
	appLog.Info("epd displayed image", "bytes", len(frame), "elapsed", time.Since(start))
	return nil
}

// Sleep powers the panel off and puts the controller into deep sleep. The
// driver stays Ready, but the panel only answers again after Initialize.
func (d *Driver) Sleep(ctx context.Context) error {
	if err := d.ready(ctx); err != nil {
		return err
	}
	if err := d.sendCommand(PowerOff); err != nil {
		return fmt.Errorf("epd: sleep: %w", err)
	}
	if err := d.waitUntilIdle(ctx); err != nil {
		return fmt.Errorf("epd: sleep: %w", err)
	}
	if err := d.sendCommand(DeepSleep); err != nil {
		return fmt.Errorf("epd: sleep: %w", err)
	}
	if err := d.sendData(deepSleepCheck); err != nil {
		return fmt.Errorf("epd: sleep: %w", err)
	}
	appLog.Info("epd sleeping")
	return nil
}

// Close releases the hardware handle. It writes nothing to the panel, is
// safe to call repeatedly or without Initialize, and never fails; a failure
// closing the underlying hardware is logged. The error result only satisfies
// io.Closer.
func (d *Driver) Close() error {
	if d.state == StateDisposed {
		return nil
	}
	hw := d.hw
	d.hw = nil
	d.state = StateDisposed

	if c, ok := hw.(io.Closer); ok {
		if err := c.Close(); err != nil {
			appLog.Error("epd hardware close failed", err)
		}
	}
	return nil
}

func (d *Driver) ready(ctx context.Context) error {
	switch d.state {
	case StateUninitialized:
		return ErrNotInitialized
	case StateDisposed:
		return ErrClosed
	}
	return ctx.Err()
}

// --- protocol helpers ---

// reset pulses the reset line high → low → high.
func (d *Driver) reset() error {
	if err := d.hw.SetReset(gpio.High); err != nil {
		return err
	}
	d.sleep(d.opts.ResetDelay)
	if err := d.hw.SetReset(gpio.Low); err != nil {
		return err
	}
	d.sleep(d.opts.ResetPulse)
	if err := d.hw.SetReset(gpio.High); err != nil {
		return err
	}
	d.sleep(d.opts.ResetDelay)
	return nil
}

// initPanel is the power-up register sequence for the 640x384 bc panel.
func (d *Driver) initPanel(ctx context.Context) error {
	if err := d.reset(); err != nil {
		return fmt.Errorf("reset: %w", err)
	}

	w, h := d.rect.Dx(), d.rect.Dy()
	steps := []struct {
		cmd  Command
		data []byte
		wait bool
	}{
		{cmd: PowerSetting, data: []byte{0x37, 0x00}},
		{cmd: PanelSetting, data: []byte{0xCF, 0x08}},
		{cmd: BoosterSoftStart, data: []byte{0xC7, 0xCC, 0x28}},
		{cmd: PowerOn, wait: true},
		{cmd: PllControl, data: []byte{0x3C}},
		{cmd: TemperatureCalibration, data: []byte{0x00}},
		{cmd: VcomAndDataIntervalSetting, data: []byte{0x77}},
		{cmd: TconSetting, data: []byte{0x22}},
		{cmd: TconResolution, data: []byte{byte(w >> 8), byte(w), byte(h >> 8), byte(h)}},
		{cmd: VcmDcSetting, data: []byte{0x1E}},
		{cmd: FlashMode, data: []byte{0x03}},
	}
	for _, s := range steps {
		if err := d.sendCommand(s.cmd); err != nil {
			return err
		}
		if len(s.data) > 0 {
			if err := d.sendData(s.data...); err != nil {
				return err
			}
		}
		if s.wait {
			if err := d.waitUntilIdle(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// writeFrame streams one frame and refreshes the panel.
func (d *Driver) writeFrame(ctx context.Context, frame []byte) error {
	if err := d.sendCommand(DataStartTransmission1); err != nil {
		return err
	}
	if err := d.sendData(frame...); err != nil {
		return err
	}
	if err := d.sendCommand(DataStop); err != nil {
		return err
	}
	return d.turnOnDisplay(ctx)
}

// turnOnDisplay is the shared refresh tail: power on, wait, refresh, wait.
func (d *Driver) turnOnDisplay(ctx context.Context) error {
	if err := d.sendCommand(PowerOn); err != nil {
		return err
	}
	if err := d.waitUntilIdle(ctx); err != nil {
		return err
	}
	if err := d.sendCommand(DisplayRefresh); err != nil {
		return err
	}
	return d.waitUntilIdle(ctx)
}

func (d *Driver) sendCommand(c Command) error {
	if err := d.hw.SetCommandMode(); err != nil {
		return fmt.Errorf("%s: %w", c, err)
	}
	if err := d.hw.WriteByte(byte(c)); err != nil {
		return fmt.Errorf("%s: %w", c, err)
	}
	return nil
}

func (d *Driver) sendData(data ...byte) error {
	if err := d.hw.SetDataMode(); err != nil {
		return err
	}
	if bw, ok := d.hw.(bulkWriter); ok && len(data) > 1 {
		_, err := bw.Write(data)
		return err
	}
	for _, b := range data {
		if err := d.hw.WriteByte(b); err != nil {
			return err
		}
	}
	return nil
}

// waitUntilIdle polls GetStatus until the busy line reads High.
func (d *Driver) waitUntilIdle(ctx context.Context) error {
	if d.opts.BusyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, d.opts.BusyTimeout, ErrBusyTimeout)
		defer cancel()
	}

	start := time.Now()
	for polls := 1; ; polls++ {
		if err := d.sendCommand(GetStatus); err != nil {
			return err
		}
		if d.hw.ReadBusy() == gpio.High {
			if polls > 1 {
				appLog.Debug("epd busy released", "polls", polls, "elapsed", time.Since(start))
			}
			return nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(context.Cause(ctx), ErrBusyTimeout) {
				return fmt.Errorf("%w after %s (%d polls)", ErrBusyTimeout, d.opts.BusyTimeout, polls)
			}
			return fmt.Errorf("busy wait: %w", ctx.Err())
		case <-time.After(d.opts.BusyPoll):
		}
	}
}
