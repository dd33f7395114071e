package convert

import (
	"image"
	"image/color"
)

// SamplePattern renders a column-stripe test image exercising every palette
// class: white background, black on even columns, red every third column,
// gray every fourth and a dark red every fifth (later rules win).
func SamplePattern(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	gray := color.NRGBA{R: 128, G: 128, B: 128, A: 255}
	darkRed := color.NRGBA{R: 50, G: 0, B: 0, A: 255}

	for x := 0; x < w; x++ {
		c := white
		if x%2 == 0 {
			c = black
		}
		if x%3 == 0 {
			c = red
		}
		if x%4 == 0 {
			c = gray
		}
		if x%5 == 0 {
			c = darkRed
		}
		for y := 0; y < h; y++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}
