package render

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	xdraw "golang.org/x/image/draw"

	"github.com/bryanchriswhite/framepanel/internal/config"
)

// scaler used for all fitted paints. ApproxBiLinear keeps per-frame cost
// low enough for video-rate streams.
var scaler xdraw.Scaler = xdraw.ApproxBiLinear

// Compose draws src onto dst according to the fit mode. Letterboxed and
// uncovered areas are cleared to black, matching what a dashboard panel
// background looks like.
func Compose(dst, src *image.RGBA, mode config.FitMode) {
	db := dst.Bounds()
	sb := src.Bounds()
	dw, dh := db.Dx(), db.Dy()
	sw, sh := sb.Dx(), sb.Dy()
	if dw <= 0 || dh <= 0 || sw <= 0 || sh <= 0 {
		return
	}

	draw.Draw(dst, db, image.NewUniform(color.Black), image.Point{}, draw.Src)

	switch mode {
	case config.FitFill:
		scaler.Scale(dst, db, src, sb, xdraw.Src, nil)
	case config.FitNone:
		drawCentered(dst, src)
	case config.FitScaleDown:
		if sw <= dw && sh <= dh {
			drawCentered(dst, src)
		} else {
			scaleCentered(dst, src, containScale(dw, dh, sw, sh))
		}
	case config.FitCover:
		scaleCentered(dst, src, coverScale(dw, dh, sw, sh))
	default: // FitContain
		scaleCentered(dst, src, containScale(dw, dh, sw, sh))
	}
}

func containScale(dw, dh, sw, sh int) float64 {
	return math.Min(float64(dw)/float64(sw), float64(dh)/float64(sh))
}

func coverScale(dw, dh, sw, sh int) float64 {
	return math.Max(float64(dw)/float64(sw), float64(dh)/float64(sh))
}

// scaleCentered scales src by the given factor and centers it on dst.
// Portions falling outside dst are clipped by the scaler.
func scaleCentered(dst, src *image.RGBA, scale float64) {
	db := dst.Bounds()
	sb := src.Bounds()

	w := int(math.Round(float64(sb.Dx()) * scale))
	h := int(math.Round(float64(sb.Dy()) * scale))
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}

	x0 := db.Min.X + (db.Dx()-w)/2
	y0 := db.Min.Y + (db.Dy()-h)/2
	target := image.Rect(x0, y0, x0+w, y0+h)
	scaler.Scale(dst, target, src, sb, xdraw.Src, nil)
}

// drawCentered places src on dst at 1:1 scale, cropping evenly when src is
// larger than dst.
func drawCentered(dst, src *image.RGBA) {
	db := dst.Bounds()
	sb := src.Bounds()

	x0 := db.Min.X + (db.Dx()-sb.Dx())/2
	y0 := db.Min.Y + (db.Dy()-sb.Dy())/2
	target := image.Rect(x0, y0, x0+sb.Dx(), y0+sb.Dy())

	clipped := target.Intersect(db)
	if clipped.Empty() {
		return
	}
	offset := image.Point{
		X: sb.Min.X + (clipped.Min.X - target.Min.X),
		Y: sb.Min.Y + (clipped.Min.Y - target.Min.Y),
	}
	draw.Draw(dst, clipped, src, offset, draw.Src)
}
