package decode

import (
	"bytes"

	"github.com/bryanchriswhite/framepanel/internal/config"
)

// Image signatures checked by Sniff, in priority order.
var (
	jpegMagic  = []byte{0xFF, 0xD8, 0xFF}
	pngMagic   = []byte{0x89, 0x50, 0x4E, 0x47}
	riffMagic  = []byte("RIFF")
	webpFourCC = []byte("WEBP")
	tiffLittle = []byte{0x49, 0x49, 0x2A, 0x00}
	tiffBig    = []byte{0x4D, 0x4D, 0x00, 0x2A}
)

// Sniff classifies a payload by its leading bytes. Payloads matching no
// known signature resolve to JPEG rather than being rejected, so every
// frame gets a display attempt.
func Sniff(payload []byte) config.FormatMode {
	switch {
	case bytes.HasPrefix(payload, jpegMagic):
		return config.FormatJPEG
	case bytes.HasPrefix(payload, pngMagic):
		return config.FormatPNG
	case isWebP(payload):
		return config.FormatWebP
	case bytes.HasPrefix(payload, tiffLittle), bytes.HasPrefix(payload, tiffBig):
		return config.FormatTIFF
	default:
		return config.FormatJPEG
	}
}

// isWebP checks the RIFF container signature: "RIFF", a four-byte chunk
// size, then "WEBP" at offset 8.
func isWebP(payload []byte) bool {
	return len(payload) >= 12 &&
		bytes.HasPrefix(payload, riffMagic) &&
		bytes.Equal(payload[8:12], webpFourCC)
}
