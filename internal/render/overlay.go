package render

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	statusPadding = 5
	statusMargin  = 8
	statusFontH   = 13 // basicfont size
)

var statusBackground = color.RGBA{0, 0, 0, 160}

// drawStatusLine stamps a one-line readout in the bottom-left corner: white
// text on a translucent box. The frame is mutated in place just before it
// reaches the surface.
func drawStatusLine(img *image.RGBA, text string) {
	if text == "" {
		return
	}

	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  img,
		Src:  image.White,
		Face: face,
	}

	textWidth := d.MeasureString(text).Ceil()
	boxW := textWidth + statusPadding*2
	boxH := statusFontH + statusPadding*2

	bounds := img.Bounds()
	x := bounds.Min.X + statusMargin
	y := bounds.Max.Y - statusMargin - boxH
	if y < bounds.Min.Y {
		y = bounds.Min.Y
	}

	box := image.Rect(x, y, x+boxW, y+boxH).Intersect(bounds)
	draw.Draw(img, box, image.NewUniform(statusBackground), image.Point{}, draw.Over)

	d.Dot = fixed.P(x+statusPadding, y+statusPadding+statusFontH-2)
	d.DrawString(text)
}
