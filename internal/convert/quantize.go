// Package convert turns raster images into the nibble-packed byte stream the
// 7.5" black/white/red e-paper controller expects.
package convert

import "image/color"

// Code is a palette code as carried on the wire, one nibble per pixel.
type Code byte

// Panel palette codes (4bpp data mode of the 7.5" bc controller).
const (
	CodeBlack Code = 0x0
	CodeWhite Code = 0x3
	CodeRed   Code = 0x4
)

var (
	black = color.NRGBA{R: 0, G: 0, B: 0, A: 255}
	white = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	red   = color.NRGBA{R: 255, G: 0, B: 0, A: 255}
)

// Palette lists the colors the panel can show, in code order black, white, red.
var Palette = color.Palette{black, white, red}

// ColorModel maps any color to the palette color Quantize would pick.
var ColorModel = color.ModelFunc(func(c color.Color) color.Color {
	return Quantize(c).Color()
})

// Classification thresholds.
//
//   - alpha < 128                       → white (treated as paper)
//   - R > 128 and R - max(G, B) > 32    → red
//   - luma Y = 0.299R + 0.587G + 0.114B < 128 → black
//   - otherwise                         → white
const (
	alphaCutoff    = 128
	redMinimum     = 128
	rednessCutoff  = 32
	blackLumaLimit = 128
)

// Quantize returns the palette code for c. It is total and pure: every
// color maps to exactly one of CodeBlack, CodeWhite or CodeRed.
func Quantize(c color.Color) Code {
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	return classify(n.R, n.G, n.B, n.A)
}

func classify(r, g, b, a uint8) Code {
	if a < alphaCutoff {
		return CodeWhite
	}

	maxGB := g
	if b > maxGB {
		maxGB = b
	}
	if r > redMinimum && int(r)-int(maxGB) > rednessCutoff {
		return CodeRed
	}

	// Integer luma keeps the result bit-exact across platforms.
	y := (299*int(r) + 587*int(g) + 114*int(b)) / 1000
	if y < blackLumaLimit {
		return CodeBlack
	}
	return CodeWhite
}

// Color returns the palette color for the code. Unknown codes read as white.
func (c Code) Color() color.Color {
	switch c {
	case CodeBlack:
		return black
	case CodeRed:
		return red
	default:
		return white
	}
}

func (c Code) String() string {
	switch c {
	case CodeBlack:
		return "black"
	case CodeWhite:
		return "white"
	case CodeRed:
		return "red"
	default:
		return "unknown"
	}
}
