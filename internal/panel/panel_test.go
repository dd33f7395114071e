package panel

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"epd7in5bc/internal/epd"
	"epd7in5bc/internal/epd/epdtest"
)

func newController(t *testing.T, sleepAfter bool) (*Controller, *epdtest.Recorder) {
	t.Helper()
	drv, err := epd.New(&epd.Opts{W: 8, H: 2, ResetDelay: time.Microsecond, ResetPulse: time.Microsecond})
	if err != nil {
		t.Fatal(err)
	}
	rec := &epdtest.Recorder{}
	c, err := New(context.Background(), drv, rec, sleepAfter)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rec.Clear()
	return c, rec
}

// frames counts DataStartTransmission1 commands.
func frames(rec *epdtest.Recorder) int {
	return bytes.Count(rec.Commands(), []byte{byte(epd.DataStartTransmission1)})
}

func TestNewRejectsNilDriver(t *testing.T) {
	if _, err := New(context.Background(), nil, &epdtest.Recorder{}, false); err == nil {
		t.Fatal("expected error for nil driver")
	}
}

func TestClearUpdatesStatus(t *testing.T) {
	c, rec := newController(t, false)

	if err := c.Clear(context.Background()); err != nil {
		t.Fatal(err)
	}
	s := c.Status()
	if s.State != "ready" || s.Asleep {
		t.Errorf("status = %+v", s)
	}
	if s.LastAction != "clear" || s.RefreshCount != 1 || s.LastRefresh.IsZero() {
		t.Errorf("status = %+v", s)
	}
	if s.Width != 8 || s.Height != 2 {
		t.Errorf("geometry = %dx%d", s.Width, s.Height)
	}
	if frames(rec) != 1 {
		t.Errorf("frames = %d, want 1", frames(rec))
	}
}

func TestSleepAfterRefreshWakesNextTime(t *testing.T) {
	c, rec := newController(t, true)
	ctx := context.Background()

	if err := c.ShowPattern(ctx); err != nil {
		t.Fatal(err)
	}
	if !c.Status().Asleep {
		t.Fatal("panel should sleep after refresh")
	}
	if cmds := rec.Commands(); cmds[len(cmds)-1] != byte(epd.DeepSleep) {
		t.Errorf("last command = %#02x, want DeepSleep", cmds[len(cmds)-1])
	}

	rec.Clear()
	if err := c.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if len(rec.Resets()) != 3 {
		t.Errorf("wake should pulse reset, got %v", rec.Resets())
	}
	if cmds := rec.Commands(); cmds[0] != byte(epd.PowerSetting) {
		t.Errorf("first command after sleep = %#02x, want PowerSetting", cmds[0])
	}
}

func TestSleepIsIdempotent(t *testing.T) {
	c, rec := newController(t, false)
	ctx := context.Background()

	if err := c.Sleep(ctx); err != nil {
		t.Fatal(err)
	}
	n := len(rec.Bytes())
	if err := c.Sleep(ctx); err != nil {
		t.Fatal(err)
	}
	if len(rec.Bytes()) != n {
		t.Error("second Sleep wrote to the panel")
	}
}

func TestRefreshRedrawsLastImage(t *testing.T) {
	c, rec := newController(t, false)
	ctx := context.Background()

	img := image.NewNRGBA(image.Rect(0, 0, 8, 2))
	img.Set(0, 0, color.Black)
	if err := c.Show(ctx, img); err != nil {
		t.Fatal(err)
	}
	rec.Clear()

	if err := c.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	if frames(rec) != 2 {
		t.Fatalf("Refresh sent %d frames, want clear + redraw", frames(rec))
	}

	// A second refresh still remembers the image.
	rec.Clear()
	if err := c.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	if frames(rec) != 2 {
		t.Errorf("second Refresh sent %d frames, want 2", frames(rec))
	}
}

func TestRefreshAfterClearOnlyClears(t *testing.T) {
	c, rec := newController(t, true)
	ctx := context.Background()

	if err := c.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	rec.Clear()
	if err := c.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	if frames(rec) != 1 {
		t.Errorf("Refresh sent %d frames, want 1", frames(rec))
	}
	if !c.Status().Asleep {
		t.Error("panel should be asleep after refresh with sleep_after_refresh")
	}
}

func TestShowNil(t *testing.T) {
	c, _ := newController(t, false)
	if err := c.Show(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil image")
	}
}

func TestErrorsAreRecorded(t *testing.T) {
	c, rec := newController(t, false)
	rec.FailAfter = 1

	err := c.Clear(context.Background())
	if !errors.Is(err, epdtest.ErrInjected) {
		t.Fatalf("Clear = %v, want injected error", err)
	}
	s := c.Status()
	if s.LastError == "" || s.RefreshCount != 0 {
		t.Errorf("status = %+v", s)
	}
}

func TestCloseSleepsAndReleases(t *testing.T) {
	c, rec := newController(t, false)
	ctx := context.Background()

	if err := c.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if rec.Closed() != 1 {
		t.Errorf("hardware closed %d times", rec.Closed())
	}
	if cmds := rec.Commands(); len(cmds) == 0 || cmds[len(cmds)-1] != byte(epd.DeepSleep) {
		t.Errorf("Close should sleep the panel, commands % x", cmds)
	}
	if err := c.Close(ctx); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := c.Clear(ctx); !errors.Is(err, epd.ErrClosed) {
		t.Errorf("Clear after Close = %v, want ErrClosed", err)
	}
	if s := c.Status(); s.State != "disposed" {
		t.Errorf("state = %s", s.State)
	}
}

func TestConcurrentCallsAreSerialized(t *testing.T) {
	c, rec := newController(t, false)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_ = c.Clear(ctx)
			} else {
				_ = c.ShowPattern(ctx)
			}
			_ = c.Status()
		}(i)
	}
	wg.Wait()

	// Every frame must be a complete DataStartTransmission1 ... DataStop block.
	cmds := rec.Commands()
	open := false
	for _, b := range cmds {
		switch epd.Command(b) {
		case epd.DataStartTransmission1:
			if open {
				t.Fatal("frames interleaved")
			}
			open = true
		case epd.DataStop:
			open = false
		}
	}
	if c.Status().RefreshCount != 8 {
		t.Errorf("refresh count = %d, want 8", c.Status().RefreshCount)
	}
}
