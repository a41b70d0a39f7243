package decode

import (
	"bytes"
	"encoding/binary"
	"image"

	"golang.org/x/image/bmp"

	"github.com/bryanchriswhite/framepanel/internal/config"
)

// Raw frames are 24-bit BGR, top-down, row-major, matching the pixel array
// of a Windows bitmap so the payload can be framed with a synthesized BMP
// header and fed to the standard decoder.
const rawBytesPerPixel = 3

// DimensionResolver infers frame dimensions from a raw payload's byte
// length. The default is an exact-match table of common resolutions; a
// deployment with a dimension handshake can plug its own resolver without
// touching the decode pipeline.
type DimensionResolver interface {
	Resolve(byteLen int) (width, height int, ok bool)
}

// Resolution is one known frame geometry.
type Resolution struct {
	Width  int
	Height int
}

// ResolutionTable resolves dimensions by exact byte-length match at three
// bytes per pixel.
type ResolutionTable []Resolution

// Resolve implements DimensionResolver.
func (t ResolutionTable) Resolve(byteLen int) (int, int, bool) {
	for _, r := range t {
		if r.Width*r.Height*rawBytesPerPixel == byteLen {
			return r.Width, r.Height, true
		}
	}
	return 0, 0, false
}

// MaxPayload returns the byte length of the largest resolution in the
// table. Used to bound decompression output.
func (t ResolutionTable) MaxPayload() int {
	max := 0
	for _, r := range t {
		if n := r.Width * r.Height * rawBytesPerPixel; n > max {
			max = n
		}
	}
	return max
}

// DefaultResolutions lists the stream geometries raw senders are known to
// use, largest first. Every width is divisible by four so BMP rows need no
// padding.
var DefaultResolutions = ResolutionTable{
	{Width: 3840, Height: 2160},
	{Width: 2560, Height: 1440},
	{Width: 1920, Height: 1080},
	{Width: 1600, Height: 900},
	{Width: 1280, Height: 720},
	{Width: 1024, Height: 768},
	{Width: 800, Height: 600},
	{Width: 640, Height: 480},
	{Width: 320, Height: 240},
}

const bmpHeaderSize = 54

// wrapBMP prefixes a raw BGR pixel array with a minimal BMP file header
// and info header. The height is written negative, which marks the bitmap
// as top-down and matches the wire layout.
func wrapBMP(payload []byte, width, height int) []byte {
	framed := make([]byte, bmpHeaderSize+len(payload))

	// BITMAPFILEHEADER
	framed[0] = 'B'
	framed[1] = 'M'
	binary.LittleEndian.PutUint32(framed[2:6], uint32(bmpHeaderSize+len(payload)))
	binary.LittleEndian.PutUint32(framed[10:14], bmpHeaderSize)

	// BITMAPINFOHEADER
	binary.LittleEndian.PutUint32(framed[14:18], 40)
	binary.LittleEndian.PutUint32(framed[18:22], uint32(width))
	binary.LittleEndian.PutUint32(framed[22:26], uint32(-int32(height)))
	binary.LittleEndian.PutUint16(framed[26:28], 1)
	binary.LittleEndian.PutUint16(framed[28:30], 24)
	binary.LittleEndian.PutUint32(framed[34:38], uint32(len(payload)))

	copy(framed[bmpHeaderSize:], payload)
	return framed
}

// decodeRaw turns a bare pixel buffer into an image by length-matching its
// dimensions and framing it as a BMP.
func (d *Decoder) decodeRaw(payload []byte) (image.Image, error) {
	width, height, ok := d.resolver.Resolve(len(payload))
	if !ok {
		return nil, newDecodeErrorf(config.FormatRawBMP, "payload length %d matches no known resolution", len(payload))
	}

	img, err := bmp.Decode(bytes.NewReader(wrapBMP(payload, width, height)))
	if err != nil {
		return nil, wrapDecodeError(config.FormatRawBMP, err)
	}
	return img, nil
}
