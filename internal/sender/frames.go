package sender

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"

	"github.com/pierrec/lz4/v4"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/tiff"

	"github.com/bryanchriswhite/framepanel/internal/config"
)

// generator produces the synthetic test pattern: a color-cycling
// background, a white grid every 50 pixels, and a frame counter label.
type generator struct {
	width   int
	height  int
	format  config.FormatMode
	quality int
}

func newGenerator(width, height int, format config.FormatMode, quality int) (*generator, error) {
	switch format {
	case config.FormatJPEG, config.FormatPNG, config.FormatTIFF, config.FormatRawBMP, config.FormatLZ4Raw:
	case config.FormatWebP:
		return nil, fmt.Errorf("no webp encoder available")
	default:
		return nil, fmt.Errorf("unsupported sender format %q", format)
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", width, height)
	}
	return &generator{width: width, height: height, format: format, quality: quality}, nil
}

// frame renders and encodes frame n.
func (g *generator) frame(n int) ([]byte, error) {
	img := g.render(n)

	switch g.format {
	case config.FormatJPEG:
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: g.quality}); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case config.FormatPNG:
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case config.FormatTIFF:
		var buf bytes.Buffer
		if err := tiff.Encode(&buf, img, nil); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case config.FormatRawBMP:
		return g.bgr(img), nil
	case config.FormatLZ4Raw:
		return compressLZ4(g.bgr(img))
	}
	return nil, fmt.Errorf("unsupported sender format %q", g.format)
}

func (g *generator) render(n int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, g.width, g.height))
	bg := color.RGBA{
		R: uint8(n % 255),
		G: uint8(n * 2 % 255),
		B: uint8(n * 3 % 255),
		A: 255,
	}
	draw.Draw(img, img.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)

	for x := 0; x < g.width; x += 50 {
		draw.Draw(img, image.Rect(x, 0, x+2, g.height), image.White, image.Point{}, draw.Src)
	}
	for y := 0; y < g.height; y += 50 {
		draw.Draw(img, image.Rect(0, y, g.width, y+2), image.White, image.Point{}, draw.Src)
	}

	label := fmt.Sprintf("Frame %d", n)
	d := &font.Drawer{
		Dst:  img,
		Src:  image.White,
		Face: basicfont.Face7x13,
	}
	textWidth := d.MeasureString(label).Ceil()
	d.Dot = fixed.P((g.width-textWidth)/2, g.height/2)
	d.DrawString(label)

	return img
}

// bgr flattens the image into the raw wire layout: 24-bit BGR, top-down,
// no row padding.
func (g *generator) bgr(img *image.RGBA) []byte {
	out := make([]byte, g.width*g.height*3)
	for y := 0; y < g.height; y++ {
		for x := 0; x < g.width; x++ {
			src := img.PixOffset(x, y)
			dst := (y*g.width + x) * 3
			out[dst] = img.Pix[src+2]
			out[dst+1] = img.Pix[src+1]
			out[dst+2] = img.Pix[src]
		}
	}
	return out
}

func compressLZ4(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
