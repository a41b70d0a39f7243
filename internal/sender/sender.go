// Package sender runs the built-in test source: a WebSocket server that
// pushes synthetic frames to every connected client at a fixed rate,
// speaking the same wire protocol panels consume.
package sender

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/framepanel/internal/config"
)

// Config configures the test frame server.
type Config struct {
	Host    string
	Port    int
	Path    string
	FPS     float64
	Width   int
	Height  int
	Format  config.FormatMode
	Quality int
}

// DefaultPort is the conventional test-source port. The package itself
// treats port zero as ephemeral; the CLI applies this default.
const DefaultPort = 8765

func (c *Config) applyDefaults() {
	if c.Path == "" {
		c.Path = "/"
	}
	if c.FPS <= 0 {
		c.FPS = 10
	}
	if c.Width == 0 {
		c.Width = 640
	}
	if c.Height == 0 {
		c.Height = 480
	}
	if c.Format == "" {
		c.Format = config.FormatJPEG
	}
	if c.Quality <= 0 {
		c.Quality = 85
	}
}

// Server streams generated frames to each WebSocket client.
type Server struct {
	cfg      Config
	log      *zerolog.Logger
	gen      *generator
	upgrader websocket.Upgrader
	httpSrv  *http.Server
	ln       net.Listener

	mu      sync.Mutex
	conns   map[*websocket.Conn]struct{}
	running bool

	framesSent atomic.Uint64
}

// New creates a frame server. Start begins listening.
func New(cfg Config, log *zerolog.Logger) (*Server, error) {
	cfg.applyDefaults()
	gen, err := newGenerator(cfg.Width, cfg.Height, cfg.Format, cfg.Quality)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg: cfg,
		log: log,
		gen: gen,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[*websocket.Conn]struct{}),
	}

	router := mux.NewRouter()
	router.HandleFunc(cfg.Path, s.handleStream)
	s.httpSrv = &http.Server{Handler: router}
	return s, nil
}

// Start binds the listen address and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("sender already running")
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.ln = ln
	s.running = true
	s.mu.Unlock()

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("Sender HTTP server failed")
		}
	}()

	s.log.Info().
		Str("url", s.URL()).
		Float64("fps", s.cfg.FPS).
		Str("format", string(s.cfg.Format)).
		Int("width", s.cfg.Width).
		Int("height", s.cfg.Height).
		Msg("Frame server started")
	return nil
}

// Stop closes every client connection and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	for c := range s.conns {
		c.Close()
	}
	s.conns = make(map[*websocket.Conn]struct{})
	s.mu.Unlock()

	err := s.httpSrv.Shutdown(ctx)
	s.log.Info().Uint64("frames", s.framesSent.Load()).Msg("Frame server stopped")
	return err
}

// Addr returns the bound listen address, useful when Port was zero.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	}
	return s.ln.Addr().String()
}

// URL returns the ws endpoint clients should dial.
func (s *Server) URL() string {
	return "ws://" + s.Addr() + s.cfg.Path
}

// FramesSent returns the total frames pushed across all clients.
func (s *Server) FramesSent() uint64 {
	return s.framesSent.Load()
}

func (s *Server) track(c *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c *websocket.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	c, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("Upgrade failed")
		return
	}
	if !s.track(c) {
		c.Close()
		return
	}
	defer func() {
		s.untrack(c)
		c.Close()
	}()

	remote := c.RemoteAddr().String()
	s.log.Info().Str("client", remote).Msg("Client connected")

	// Drain inbound frames so close and ping handling keeps working.
	go func() {
		for {
			if _, _, err := c.NextReader(); err != nil {
				c.Close()
				return
			}
		}
	}()

	interval := time.Duration(float64(time.Second) / s.cfg.FPS)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	frameNum := 0
	for range ticker.C {
		payload, err := s.gen.frame(frameNum)
		if err != nil {
			s.log.Error().Err(err).Msg("Frame generation failed")
			return
		}
		if err := c.WriteMessage(websocket.BinaryMessage, payload); err != nil {
			s.log.Info().Str("client", remote).Int("frames", frameNum).Msg("Client disconnected")
			return
		}
		frameNum++
		s.framesSent.Add(1)
		if frameNum%100 == 0 {
			s.log.Debug().Str("client", remote).Int("frames", frameNum).Msg("Frames sent")
		}
	}
}
