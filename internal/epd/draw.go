package epd

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"periph.io/x/conn/v3/display"

	"epd7in5bc/internal/convert"
)

var _ display.Drawer = (*Driver)(nil)

// String implements conn.Resource.
func (d *Driver) String() string {
	return fmt.Sprintf("epd.Driver{%dx%d}", d.rect.Dx(), d.rect.Dy())
}

// Halt puts the panel into deep sleep.
func (d *Driver) Halt() error {
	return d.Sleep(context.Background())
}

// ColorModel returns the three-color panel model.
func (d *Driver) ColorModel() color.Model {
	return convert.ColorModel
}

// Bounds returns the panel rectangle.
func (d *Driver) Bounds() image.Rectangle {
	return d.rect
}

// Draw composes src at sp into dstRect over a white panel-sized canvas and
// refreshes the whole panel. Areas outside dstRect are left white.
func (d *Driver) Draw(dstRect image.Rectangle, src image.Image, sp image.Point) error {
	if err := d.ready(context.Background()); err != nil {
		return err
	}
	canvas := image.NewNRGBA(d.rect)
	draw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, draw.Src)
	if r := dstRect.Intersect(d.rect); !r.Empty() {
		draw.Draw(canvas, r, src, sp.Add(r.Min.Sub(dstRect.Min)), draw.Over)
	}
	return d.DisplayImage(context.Background(), canvas)
}
