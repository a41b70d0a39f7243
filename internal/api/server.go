// Package api exposes the HTTP surface: panel management, status, the
// MJPEG previews, and a WebSocket status feed.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/framepanel/internal/config"
	"github.com/bryanchriswhite/framepanel/internal/logger"
	"github.com/bryanchriswhite/framepanel/internal/panel"
)

const statusStreamInterval = time.Second

// Server represents the HTTP API server
type Server struct {
	router    *mux.Router
	registry  *panel.Registry
	configMgr *config.Manager
	upgrader  websocket.Upgrader
	log       *zerolog.Logger
	httpSrv   *http.Server
	startTime time.Time
}

// NewServer creates a new API server
func NewServer(registry *panel.Registry, configMgr *config.Manager) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		registry:  registry,
		configMgr: configMgr,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for development
			},
		},
		log:       logger.WithComponent("api"),
		startTime: time.Now(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	// API routes, gzip-compressed
	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(func(next http.Handler) http.Handler {
		return gzhttp.GzipHandler(next)
	})

	// Panel management
	api.HandleFunc("/panels", s.handleListPanels).Methods("GET")
	api.HandleFunc("/panels", s.handleCreatePanel).Methods("POST")
	api.HandleFunc("/panels/stream", s.handleStatusStream)
	api.HandleFunc("/panels/{id}", s.handleGetPanel).Methods("GET")
	api.HandleFunc("/panels/{id}", s.handleDeletePanel).Methods("DELETE")
	api.HandleFunc("/panels/{id}/options", s.handleUpdateOptions).Methods("PUT")

	// Host status and configuration
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")

	// Health check
	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	// MJPEG previews, uncompressed
	s.router.HandleFunc("/stream/{id}", s.handleStream).Methods("GET")
	s.router.HandleFunc("/snapshot/{id}", s.handleSnapshot).Methods("GET")

	// Viewer page
	s.router.PathPrefix("/").HandlerFunc(s.handleIndex)
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Start starts the HTTP server and blocks until shutdown.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.httpSrv = &http.Server{Addr: addr, Handler: s.Handler()}
	s.log.Info().Str("addr", addr).Msg("API server starting")
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// HTTP Handlers

func (s *Server) handleListPanels(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.registry.Statuses())
}

func (s *Server) handleCreatePanel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name    string              `json:"name"`
		Options config.PanelOptions `json:"options"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctl, err := s.registry.Add(config.PanelConfig{Name: req.Name, Options: req.Options})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(ctl.Status())
}

func (s *Server) handleGetPanel(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ctl, ok := s.registry.Get(vars["id"])
	if !ok {
		http.Error(w, "panel not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ctl.Status())
}

func (s *Server) handleDeletePanel(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.registry.Remove(vars["id"]); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "success"})
}

func (s *Server) handleUpdateOptions(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	if _, ok := s.registry.Get(vars["id"]); !ok {
		http.Error(w, "panel not found", http.StatusNotFound)
		return
	}

	var opts config.PanelOptions
	if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.registry.UpdateOptions(vars["id"], opts); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctl, ok := s.registry.Get(vars["id"])
	if !ok {
		http.Error(w, "panel not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ctl.Status())
}

// handleStatusStream pushes the panel statuses over a WebSocket once per
// second, the live feed behind the viewer page.
func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	// Drain reads so close frames are processed.
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				conn.Close()
				return
			}
		}
	}()

	write := func() error {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(s.registry.Statuses())
	}

	if err := write(); err != nil {
		return
	}

	ticker := time.NewTicker(statusStreamInterval)
	defer ticker.Stop()
	for range ticker.C {
		if err := write(); err != nil {
			return
		}
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	statuses := s.registry.Statuses()

	var frames, bytes uint64
	connected := 0
	for _, st := range statuses {
		frames += st.TotalFrames
		bytes += st.TotalBytes
		if st.State == "connected" {
			connected++
		}
	}

	status := map[string]interface{}{
		"uptime_seconds":   int(time.Since(s.startTime).Seconds()),
		"server_port":      s.configMgr.GetPort(),
		"panels":           len(statuses),
		"panels_connected": connected,
		"total_frames":     frames,
		"total_bytes":      bytes,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg := s.configMgr.Get()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(cfg)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ctl, ok := s.registry.Get(vars["id"])
	if !ok {
		http.Error(w, "panel not found", http.StatusNotFound)
		return
	}
	ctl.Surface().StreamHandler()(w, r)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ctl, ok := s.registry.Get(vars["id"])
	if !ok {
		http.Error(w, "panel not found", http.StatusNotFound)
		return
	}
	ctl.Surface().SnapshotHandler()(w, r)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	// Only serve HTML for root path
	if r.URL.Path == "/" {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(viewerHTML))
		return
	}

	// For other paths, return 404
	if !strings.HasPrefix(r.URL.Path, "/api") {
		http.NotFound(w, r)
	}
}
