package output

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// MJPEGSurface streams frames as Motion JPEG over HTTP. Each connected
// client gets its own small channel; slow clients skip frames instead of
// backing up the painter.
type MJPEGSurface struct {
	running bool
	width   int
	height  int
	mu      sync.RWMutex

	// Last encoded frame, served to clients that connect between frames
	frameMu    sync.RWMutex
	lastJPEG   []byte
	lastUpdate time.Time

	// Connected clients
	clientsMu sync.RWMutex
	clients   map[chan []byte]struct{}

	frameCount uint64
	startTime  time.Time

	quality int
	log     *zerolog.Logger
}

// NewMJPEGSurface creates a new MJPEG stream surface
func NewMJPEGSurface(cfg Config, log *zerolog.Logger) *MJPEGSurface {
	return &MJPEGSurface{
		width:   cfg.Width,
		height:  cfg.Height,
		clients: make(map[chan []byte]struct{}),
		quality: 90,
		log:     log,
	}
}

// Start initializes the surface
// Note: the HTTP handler is registered separately via StreamHandler()
func (m *MJPEGSurface) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("MJPEG surface already running")
	}

	m.running = true
	m.startTime = time.Now()
	m.frameCount = 0

	m.log.Info().Int("width", m.width).Int("height", m.height).Msg("MJPEG surface started")
	return nil
}

// Stop cleanly shuts down the surface
func (m *MJPEGSurface) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}

	m.running = false

	// Close all client connections
	m.clientsMu.Lock()
	for ch := range m.clients {
		close(ch)
	}
	m.clients = make(map[chan []byte]struct{})
	m.clientsMu.Unlock()

	m.log.Info().Uint64("frames", m.frameCount).Msg("MJPEG surface stopped")
	return nil
}

// Resize records the new stream dimensions. The MJPEG container carries
// per-frame sizes, so nothing is reallocated here.
func (m *MJPEGSurface) Resize(width, height int) error {
	m.mu.Lock()
	m.width = width
	m.height = height
	m.mu.Unlock()

	m.log.Info().Int("width", width).Int("height", height).Msg("Stream resized")
	return nil
}

// WriteFrame encodes a frame and sends it to all connected clients. The
// image is not retained; only the encoded bytes are.
func (m *MJPEGSurface) WriteFrame(frame *image.RGBA) error {
	if !m.IsRunning() {
		return fmt.Errorf("MJPEG surface not running")
	}

	// Encode frame as JPEG
	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, frame, &jpeg.Options{Quality: m.quality}); err != nil {
		return fmt.Errorf("failed to encode JPEG: %w", err)
	}

	jpegData := buf.Bytes()

	// Keep the latest frame for clients that connect between frames
	m.frameMu.Lock()
	m.lastJPEG = jpegData
	m.lastUpdate = time.Now()
	m.frameMu.Unlock()

	m.mu.Lock()
	m.frameCount++
	m.mu.Unlock()

	// Broadcast to all clients
	m.clientsMu.RLock()
	for ch := range m.clients {
		select {
		case ch <- jpegData:
			// Sent successfully
		default:
			// Client is slow, skip this frame
		}
	}
	m.clientsMu.RUnlock()

	return nil
}

// Name returns the surface type name
func (m *MJPEGSurface) Name() string {
	return "MJPEG HTTP Stream"
}

// IsRunning returns true if the surface is active
func (m *MJPEGSurface) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// FrameCount returns the number of frames written since Start
func (m *MJPEGSurface) FrameCount() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.frameCount
}

// ClientCount returns the number of connected stream clients
func (m *MJPEGSurface) ClientCount() int {
	m.clientsMu.RLock()
	defer m.clientsMu.RUnlock()
	return len(m.clients)
}

// LastUpdate returns when the most recent frame was written
func (m *MJPEGSurface) LastUpdate() time.Time {
	m.frameMu.RLock()
	defer m.frameMu.RUnlock()
	return m.lastUpdate
}

// StreamHandler returns an http.Handler for the MJPEG stream.
// Mount this at /stream/{id} or similar endpoint.
func (m *MJPEGSurface) StreamHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Set headers for MJPEG stream
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")
		w.Header().Set("Connection", "close")

		// Create channel for this client
		frameChan := make(chan []byte, 2) // Buffer 2 frames

		// Seed with the latest frame so the client is not blank until the
		// next arrival
		m.frameMu.RLock()
		if m.lastJPEG != nil {
			frameChan <- m.lastJPEG
		}
		m.frameMu.RUnlock()

		// Register client
		m.clientsMu.Lock()
		m.clients[frameChan] = struct{}{}
		clientCount := len(m.clients)
		m.clientsMu.Unlock()

		m.log.Info().Int("clients", clientCount).Msg("Stream client connected")

		// Cleanup on disconnect
		defer func() {
			m.clientsMu.Lock()
			delete(m.clients, frameChan)
			clientCount := len(m.clients)
			m.clientsMu.Unlock()
			m.log.Info().Int("clients", clientCount).Msg("Stream client disconnected")
		}()

		// Stream frames to client
		for {
			select {
			case jpegData, ok := <-frameChan:
				if !ok {
					return
				}
				if err := writePart(w, jpegData); err != nil {
					return
				}
				if f, ok := w.(http.Flusher); ok {
					f.Flush()
				}
			case <-r.Context().Done():
				return
			}
		}
	}
}

func writePart(w http.ResponseWriter, jpegData []byte) error {
	if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(jpegData)); err != nil {
		return err
	}
	if _, err := w.Write(jpegData); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\r\n")
	return err
}

// SnapshotHandler returns an http.Handler serving the most recent frame as
// a single JPEG, for dashboards that poll instead of streaming.
func (m *MJPEGSurface) SnapshotHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.frameMu.RLock()
		data := m.lastJPEG
		m.frameMu.RUnlock()

		if data == nil {
			http.Error(w, "no frame received yet", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Write(data)
	}
}
