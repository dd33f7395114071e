package convert

import (
	"image"
)

// PixelsPerByte is fixed by the controller's 4bpp data mode.
const PixelsPerByte = 2

// PaddingCode fills the unused low nibble when an image has an odd number
// of pixels.
const PaddingCode = CodeWhite

// PackPair merges two pixel codes into one data byte, first pixel in the
// high nibble.
func PackPair(hi, lo Code) byte {
	return byte(hi&0x0F)<<4 | byte(lo&0x0F)
}

// EncodedLen is the number of data bytes Encode produces for w×h pixels.
func EncodedLen(w, h int) int {
	if w <= 0 || h <= 0 {
		return 0
	}
	return (w*h + PixelsPerByte - 1) / PixelsPerByte
}

// FillWhite returns n data bytes that each carry two white pixels.
func FillWhite(n int) []byte {
	out := make([]byte, n)
	ww := PackPair(CodeWhite, CodeWhite)
	for i := range out {
		out[i] = ww
	}
	return out
}

// Encode quantizes img and packs it row-major, two pixels per byte.
//
// The image is taken as-is: its width and height need not match the panel.
// Output length is always EncodedLen(w, h); if w*h is odd the last byte's
// low nibble is PaddingCode. img is never modified.
func Encode(img image.Image) []byte {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]byte, EncodedLen(w, h))
	if len(out) == 0 {
		return out
	}

	// Accumulate codes in pixel order; even index → high nibble.
	i := 0
	put := func(c Code) {
		if i%2 == 0 {
			out[i/2] = PackPair(c, PaddingCode)
		} else {
			out[i/2] = out[i/2]&0xF0 | byte(c&0x0F)
		}
		i++
	}

	if nrgba, ok := img.(*image.NRGBA); ok {
		// Fast path: read Pix directly and avoid At() allocations.
		for y := b.Min.Y; y < b.Max.Y; y++ {
			row := nrgba.Pix[nrgba.PixOffset(b.Min.X, y):]
			for x := 0; x < w; x++ {
				p := row[x*4 : x*4+4 : x*4+4]
				put(classify(p[0], p[1], p[2], p[3]))
			}
		}
		return out
	}

	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			put(Quantize(img.At(x, y)))
		}
	}
	return out
}
