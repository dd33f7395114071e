// Package panel serializes access to one e-paper Driver for the daemon,
// where cron jobs and HTTP handlers share the same hardware.
package panel

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"epd7in5bc/internal/convert"
	"epd7in5bc/internal/epd"
	appLog "epd7in5bc/internal/log"
)

// Status is a snapshot for the HTTP API.
type Status struct {
	State        string    `json:"state"`
	Asleep       bool      `json:"asleep"`
	Width        int       `json:"width"`
	Height       int       `json:"height"`
	LastAction   string    `json:"last_action,omitempty"`
	LastRefresh  time.Time `json:"last_refresh,omitzero"`
	LastError    string    `json:"last_error,omitempty"`
	RefreshCount int       `json:"refresh_count"`
}

// Controller owns a Driver and its Hardware. All methods are safe for
// concurrent use; hardware calls run one at a time.
type Controller struct {
	mu sync.Mutex

	drv *epd.Driver
	hw  epd.Hardware

	// sleepAfter puts the panel to sleep after every refresh.
	sleepAfter bool
	asleep     bool

	lastAction   string
	lastRefresh  time.Time
	lastErr      error
	refreshCount int

	// last is redrawn by Refresh; nil means a white panel.
	last image.Image
}

// New initializes drv against hw and returns a Controller owning both.
func New(ctx context.Context, drv *epd.Driver, hw epd.Hardware, sleepAfter bool) (*Controller, error) {
	if drv == nil {
		return nil, errors.New("panel: nil driver")
	}
	if err := drv.Initialize(ctx, hw); err != nil {
		return nil, err
	}
	return &Controller{drv: drv, hw: hw, sleepAfter: sleepAfter}, nil
}

// Clear paints the panel white.
func (c *Controller) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refresh(ctx, "clear", nil, true)
}

// ShowPattern draws the column-stripe test pattern at panel size.
func (c *Controller) ShowPattern(ctx context.Context) error {
	img := convert.SamplePattern(c.drv.Width(), c.drv.Height())
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refresh(ctx, "pattern", img, true)
}

// Show displays img.
func (c *Controller) Show(ctx context.Context, img image.Image) error {
	if img == nil {
		return errors.New("panel: nil image")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refresh(ctx, "image", img, true)
}

// Refresh clears the panel and redraws the last shown image. Periodic full
// refreshes keep ghosting in check on tri-color panels.
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sleepAfter := c.sleepAfter
	c.sleepAfter = false
	err := c.refresh(ctx, "refresh", nil, false)
	c.sleepAfter = sleepAfter
	if err != nil {
		return err
	}
	if c.last == nil {
		return c.sleepIfConfigured(ctx)
	}
	return c.refresh(ctx, "refresh", c.last, false)
}

// Sleep puts the panel into deep sleep until the next drawing call.
func (c *Controller) Sleep(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.asleep {
		return nil
	}
	err := c.drv.Sleep(ctx)
	c.record("sleep", err)
	if err == nil {
		c.asleep = true
	}
	return err
}

// Status returns a snapshot of the panel state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Status{
		State:        c.drv.State().String(),
		Asleep:       c.asleep,
		Width:        c.drv.Width(),
		Height:       c.drv.Height(),
		LastAction:   c.lastAction,
		LastRefresh:  c.lastRefresh,
		RefreshCount: c.refreshCount,
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	return s
}

// Close puts an awake panel to sleep and releases the hardware.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var err error
	if c.drv.State() == epd.StateReady && !c.asleep {
		err = c.drv.Sleep(ctx)
		if err != nil {
			appLog.Error("panel sleep before close failed", err)
		}
	}
	_ = c.drv.Close()
	return err
}

// refresh draws img (nil clears) and records the outcome. Caller holds mu.
func (c *Controller) refresh(ctx context.Context, action string, img image.Image, remember bool) error {
	if err := c.wake(ctx); err != nil {
		c.record(action, err)
		return err
	}

	var err error
	if img == nil {
		err = c.drv.Clear(ctx)
	} else {
		err = c.drv.DisplayImage(ctx, img)
	}
	c.record(action, err)
	if err != nil {
		return err
	}

	c.lastRefresh = time.Now()
	c.refreshCount++
	if remember {
		c.last = img
	}
	return c.sleepIfConfigured(ctx)
}

func (c *Controller) sleepIfConfigured(ctx context.Context) error {
	if !c.sleepAfter || c.asleep {
		return nil
	}
	if err := c.drv.Sleep(ctx); err != nil {
		c.record("sleep", err)
		return err
	}
	c.asleep = true
	return nil
}

// wake re-runs the power-up sequence on a sleeping panel. Caller holds mu.
func (c *Controller) wake(ctx context.Context) error {
	if !c.asleep {
		return nil
	}
	if err := c.drv.Initialize(ctx, c.hw); err != nil {
		return err
	}
	c.asleep = false
	appLog.Debug("panel woke from deep sleep")
	return nil
}

func (c *Controller) record(action string, err error) {
	c.lastAction = action
	c.lastErr = err
	if err != nil {
		appLog.Error("panel action failed", err, "action", action)
	}
}
