package output

import (
	"image"
)

// Surface is a paintable output target for decoded frames.
// Implementations include:
// - MJPEG HTTP stream
// - in-memory surfaces for tests
//
// WriteFrame must not retain the image after returning; the caller
// releases the backing buffer as soon as the call completes.
type Surface interface {
	// Start initializes the surface
	Start() error

	// Stop cleanly shuts down the surface
	Stop() error

	// Resize adjusts the surface to a new frame size. Called only when
	// the incoming dimensions actually change.
	Resize(width, height int) error

	// WriteFrame paints one frame. The image is expected to be in RGBA
	// format and is only valid for the duration of the call.
	WriteFrame(frame *image.RGBA) error

	// Name returns a human-readable name for this surface type
	Name() string

	// IsRunning returns true if the surface is currently active
	IsRunning() bool
}

// Config holds common configuration for all surface types
type Config struct {
	Width  int
	Height int
}
