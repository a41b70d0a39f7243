// Package decode turns inbound frame payloads into displayable rasters.
// Standard formats go through the usual image decoders; the bespoke raw
// and LZ4 paths reconstruct a BMP around bare pixel buffers first.
package decode

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"image/png"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/image/tiff"
	"golang.org/x/image/webp"
	xrate "golang.org/x/time/rate"

	"github.com/bryanchriswhite/framepanel/internal/config"
	"github.com/bryanchriswhite/framepanel/internal/render"
)

// DecodeError marks a payload that could not be turned into a raster. The
// frame is dropped; the connection stays up.
type DecodeError struct {
	Format config.FormatMode
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode %s: %v", e.Format, e.Err)
	}
	return fmt.Sprintf("decode %s: %s", e.Format, e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func newDecodeErrorf(format config.FormatMode, msg string, args ...interface{}) error {
	return &DecodeError{Format: format, Reason: fmt.Sprintf(msg, args...)}
}

func wrapDecodeError(format config.FormatMode, err error) error {
	return &DecodeError{Format: format, Err: err}
}

// Config configures a Decoder.
type Config struct {
	// Mode fixes the payload interpretation. FormatAuto sniffs each frame.
	Mode config.FormatMode

	// Resolver maps raw payload lengths to dimensions. Nil uses
	// DefaultResolutions.
	Resolver DimensionResolver

	// Pool supplies RGBA buffers for pixel-format conversion. Nil creates
	// a private pool.
	Pool *render.BufferPool
}

// Decoder converts binary frame payloads into rasters. One decoder serves
// one panel; its format mode is fixed at construction because changing it
// forces a reconnect anyway.
type Decoder struct {
	mode          config.FormatMode
	resolver      DimensionResolver
	maxRawPayload int
	pool          *render.BufferPool
	log           *zerolog.Logger
	diag          *xrate.Limiter
}

// New creates a decoder.
func New(cfg Config, log *zerolog.Logger) *Decoder {
	mode := cfg.Mode
	if mode == "" {
		mode = config.FormatAuto
	}
	resolver := cfg.Resolver
	if resolver == nil {
		resolver = DefaultResolutions
	}
	maxRaw := DefaultResolutions.MaxPayload()
	if table, ok := resolver.(ResolutionTable); ok {
		maxRaw = table.MaxPayload()
	}
	pool := cfg.Pool
	if pool == nil {
		pool = render.NewBufferPool()
	}
	return &Decoder{
		mode:          mode,
		resolver:      resolver,
		maxRawPayload: maxRaw,
		pool:          pool,
		log:           log,
		diag:          xrate.NewLimiter(xrate.Every(2*time.Second), 1),
	}
}

// Decode converts one frame payload. On success exactly one raster sized
// to the source image is returned and the caller owns it; on failure the
// payload is discarded with no partial raster. Decode failures are logged
// at most every couple of seconds so a stream of bad frames cannot flood
// the log.
func (d *Decoder) Decode(ctx context.Context, payload []byte, seq uint64, arrived time.Time) (*render.Raster, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(payload) == 0 {
		err := newDecodeErrorf(d.mode, "empty payload")
		d.diagnose(err)
		return nil, err
	}

	format := d.mode
	if format == config.FormatAuto {
		format = Sniff(payload)
	}

	img, err := d.decodeFormat(format, payload)
	if err != nil {
		d.diagnose(err)
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return d.toRaster(img, seq, arrived), nil
}

func (d *Decoder) decodeFormat(format config.FormatMode, payload []byte) (image.Image, error) {
	switch format {
	case config.FormatJPEG:
		img, err := jpeg.Decode(bytes.NewReader(payload))
		if err != nil {
			return nil, wrapDecodeError(config.FormatJPEG, err)
		}
		return img, nil
	case config.FormatPNG:
		img, err := png.Decode(bytes.NewReader(payload))
		if err != nil {
			return nil, wrapDecodeError(config.FormatPNG, err)
		}
		return img, nil
	case config.FormatWebP:
		img, err := webp.Decode(bytes.NewReader(payload))
		if err != nil {
			return nil, wrapDecodeError(config.FormatWebP, err)
		}
		return img, nil
	case config.FormatTIFF:
		// First page only. TIFF has no incremental path, so this is the
		// expensive format: the whole page is converted in memory.
		img, err := tiff.Decode(bytes.NewReader(payload))
		if err != nil {
			return nil, wrapDecodeError(config.FormatTIFF, err)
		}
		return img, nil
	case config.FormatRawBMP:
		return d.decodeRaw(payload)
	case config.FormatLZ4Raw:
		return d.decodeLZ4Raw(payload)
	default:
		return nil, newDecodeErrorf(format, "unsupported format mode")
	}
}

// toRaster converts a decoded image into an RGBA raster. Images already in
// zero-origin RGBA are wrapped as-is; everything else is copied into a
// pooled buffer.
func (d *Decoder) toRaster(img image.Image, seq uint64, arrived time.Time) *render.Raster {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return render.NewRaster(rgba, seq, arrived)
	}
	b := img.Bounds()
	dst := d.pool.Get(b.Dx(), b.Dy())
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return d.pool.NewRaster(dst, seq, arrived)
}

func (d *Decoder) diagnose(err error) {
	if d.diag.Allow() {
		d.log.Warn().Err(err).Msg("Frame dropped: decode failed")
	} else {
		d.log.Debug().Err(err).Msg("Frame dropped: decode failed")
	}
}
