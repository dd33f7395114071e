package epd

import (
	"bytes"
	"context"
	"testing"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

// fakeConn records Tx writes together with the D/C level at the time.
type fakeConn struct {
	dc    *gpiotest.Pin
	maxTx int
	txs   [][]byte
	modes []gpio.Level
}

func (f *fakeConn) String() string { return "fake" }

func (f *fakeConn) Duplex() conn.Duplex { return conn.Half }

func (f *fakeConn) Tx(w, r []byte) error {
	f.txs = append(f.txs, append([]byte(nil), w...))
	f.modes = append(f.modes, f.dc.Read())
	return nil
}

func (f *fakeConn) MaxTxSize() int { return f.maxTx }

func (f *fakeConn) written() []byte {
	var out []byte
	for _, tx := range f.txs {
		out = append(out, tx...)
	}
	return out
}

func newFakeDev(maxTx int) (*Dev, *fakeConn, *gpiotest.Pin, *gpiotest.Pin, *gpiotest.Pin) {
	dc := &gpiotest.Pin{N: "DC"}
	rst := &gpiotest.Pin{N: "RST", L: gpio.High}
	busy := &gpiotest.Pin{N: "BUSY", L: gpio.High}
	c := &fakeConn{dc: dc, maxTx: maxTx}
	return NewDev(c, dc, rst, busy), c, dc, rst, busy
}

func TestDevModesAndBytes(t *testing.T) {
	d, c, dc, _, _ := newFakeDev(0)

	if err := d.SetCommandMode(); err != nil {
		t.Fatal(err)
	}
	if dc.Read() != gpio.Low {
		t.Error("command mode must pull D/C low")
	}
	if err := d.WriteByte(0x71); err != nil {
		t.Fatal(err)
	}
	if err := d.SetDataMode(); err != nil {
		t.Fatal(err)
	}
	if dc.Read() != gpio.High {
		t.Error("data mode must pull D/C high")
	}
	if err := d.WriteByte(0xA5); err != nil {
		t.Fatal(err)
	}

	if got := c.written(); !bytes.Equal(got, []byte{0x71, 0xA5}) {
		t.Errorf("written = % x", got)
	}
	if c.modes[0] != gpio.Low || c.modes[1] != gpio.High {
		t.Errorf("D/C levels at Tx = %v", c.modes)
	}
}

func TestDevWriteChunks(t *testing.T) {
	d, c, _, _, _ := newFakeDev(4)

	data := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	n, err := d.Write(data)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(data) {
		t.Errorf("Write returned %d, want %d", n, len(data))
	}
	if len(c.txs) != 3 {
		t.Errorf("Write used %d transfers, want 3", len(c.txs))
	}
	if !bytes.Equal(c.written(), data) {
		t.Errorf("written = % x", c.written())
	}
}

func TestDevResetAndBusy(t *testing.T) {
	d, _, _, rst, busy := newFakeDev(0)

	if err := d.SetReset(gpio.Low); err != nil {
		t.Fatal(err)
	}
	if rst.Read() != gpio.Low {
		t.Error("reset line not driven low")
	}
	busy.L = gpio.Low
	if d.ReadBusy() != gpio.Low {
		t.Error("ReadBusy did not follow the pin")
	}
}

func TestDevClosed(t *testing.T) {
	d, c, _, _, _ := newFakeDev(0)
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := d.WriteByte(0x00); err == nil {
		t.Error("WriteByte after Close should fail")
	}
	if _, err := d.Write([]byte{1, 2}); err == nil {
		t.Error("Write after Close should fail")
	}
	if len(c.txs) != 0 {
		t.Errorf("closed Dev issued %d transfers", len(c.txs))
	}
}

func TestDriverUsesBulkWrites(t *testing.T) {
	dev, c, _, _, _ := newFakeDev(1 << 16)
	d := newTestDriver(t, &Opts{BusyPoll: time.Millisecond})
	if err := d.Initialize(context.Background(), dev); err != nil {
		t.Fatal(err)
	}
	c.txs, c.modes = nil, nil

	if err := d.Clear(context.Background()); err != nil {
		t.Fatal(err)
	}

	// DataStartTransmission1, one bulk frame transfer, then the refresh tail.
	if len(c.txs) != 1+2+len(refreshTail) {
		t.Fatalf("Clear used %d transfers, want %d", len(c.txs), 1+2+len(refreshTail))
	}
	if got := len(c.txs[1]) + len(c.txs[2]); got != 640/2*384 {
		t.Errorf("frame bytes = %d, want %d", got, 640/2*384)
	}
	if c.modes[1] != gpio.High {
		t.Error("frame must be sent in data mode")
	}
}
