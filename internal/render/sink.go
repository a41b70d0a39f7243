package render

import (
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/framepanel/internal/config"
	"github.com/bryanchriswhite/framepanel/internal/output"
)

// SinkConfig configures a Sink.
type SinkConfig struct {
	// FitMode is consulted only when Width and Height pin the surface to a
	// fixed size. Zero dimensions make the surface follow the stream.
	FitMode config.FitMode
	Width   int
	Height  int

	// RefreshHz is the paint cadence. Defaults to 60.
	RefreshHz int

	// OnPainted is invoked after each successful paint, outside the
	// sink's lock. Used by the controller to feed the rate monitor.
	OnPainted func()
}

// SinkStats counts what happened to presented rasters.
type SinkStats struct {
	Painted           uint64 `json:"painted"`
	DroppedStale      uint64 `json:"dropped_stale"`
	DroppedSuperseded uint64 `json:"dropped_superseded"`
	DroppedClosed     uint64 `json:"dropped_closed"`
	PaintErrors       uint64 `json:"paint_errors"`
}

// Sink accepts decoded rasters and paints the newest one on each refresh
// tick. At most one raster is pending at any time; presenting a newer one
// releases the superseded one, and completions that arrive out of order
// are dropped by sequence. Every raster handed to Present is released on
// every path.
type Sink struct {
	surface output.Surface
	log     *zerolog.Logger
	refresh time.Duration

	mu         sync.Mutex
	pending    *Raster
	highestSeq uint64
	fit        config.FitMode
	fixedW     int
	fixedH     int
	statusText string
	stats      SinkStats
	started    bool
	closed     bool
	onPainted  func()

	// painter-goroutine state, untouched elsewhere
	surfW      int
	surfH      int
	composeBuf *image.RGBA

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewSink creates a sink painting onto the given surface.
func NewSink(surface output.Surface, cfg SinkConfig, log *zerolog.Logger) *Sink {
	refreshHz := cfg.RefreshHz
	if refreshHz <= 0 {
		refreshHz = 60
	}
	fit := cfg.FitMode
	if fit == "" {
		fit = config.FitContain
	}
	return &Sink{
		surface:   surface,
		log:       log,
		refresh:   time.Second / time.Duration(refreshHz),
		fit:       fit,
		fixedW:    cfg.Width,
		fixedH:    cfg.Height,
		onPainted: cfg.OnPainted,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start launches the painter loop.
func (s *Sink) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("sink is closed")
	}
	if s.started {
		return fmt.Errorf("sink already started")
	}
	s.started = true
	go s.paintLoop()
	return nil
}

// Stop halts the painter and releases any pending raster. Rasters
// presented after Stop are released immediately without painting.
func (s *Sink) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	pending := s.pending
	s.pending = nil
	started := s.started
	s.mu.Unlock()

	if started {
		close(s.stopCh)
		<-s.doneCh
	}
	if pending != nil {
		pending.Release()
	}
}

// Present hands a raster to the sink. Ownership transfers here: the sink
// releases it whether it is painted, superseded, stale, or refused.
func (s *Sink) Present(r *Raster) {
	if r == nil {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.stats.DroppedClosed++
		s.mu.Unlock()
		r.Release()
		return
	}
	if r.Seq() <= s.highestSeq || (s.pending != nil && r.Seq() <= s.pending.Seq()) {
		s.stats.DroppedStale++
		s.mu.Unlock()
		s.log.Debug().Uint64("seq", r.Seq()).Msg("Dropping stale frame")
		r.Release()
		return
	}
	old := s.pending
	s.pending = r
	if old != nil {
		s.stats.DroppedSuperseded++
	}
	s.mu.Unlock()

	if old != nil {
		old.Release()
	}
}

// SetFitMode changes how frames are placed on a fixed-size surface. Takes
// effect on the next paint.
func (s *Sink) SetFitMode(mode config.FitMode) {
	if !mode.Valid() {
		return
	}
	s.mu.Lock()
	s.fit = mode
	s.mu.Unlock()
}

// SetFixedSize pins or unpins the surface size. Zero dimensions follow the
// stream resolution again.
func (s *Sink) SetFixedSize(width, height int) {
	s.mu.Lock()
	s.fixedW = width
	s.fixedH = height
	s.mu.Unlock()
}

// SetStatusText sets the readout stamped onto painted frames. An empty
// string turns the overlay off.
func (s *Sink) SetStatusText(text string) {
	s.mu.Lock()
	s.statusText = text
	s.mu.Unlock()
}

// Stats returns a snapshot of the sink counters.
func (s *Sink) Stats() SinkStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Sink) paintLoop() {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.flush()
		}
	}
}

// flush claims the pending raster and paints it. The claim also advances
// highestSeq so frames older than the one being painted are rejected even
// while the paint is still in progress.
func (s *Sink) flush() {
	s.mu.Lock()
	r := s.pending
	s.pending = nil
	if r == nil || s.closed {
		s.mu.Unlock()
		if r != nil {
			r.Release()
		}
		return
	}
	s.highestSeq = r.Seq()
	fit := s.fit
	fixedW, fixedH := s.fixedW, s.fixedH
	status := s.statusText
	s.mu.Unlock()

	defer r.Release()

	targetW, targetH := r.Width(), r.Height()
	if fixedW > 0 && fixedH > 0 {
		targetW, targetH = fixedW, fixedH
	}

	// Resize only when dimensions actually change
	if targetW != s.surfW || targetH != s.surfH {
		if err := s.surface.Resize(targetW, targetH); err != nil {
			s.recordPaintError(err)
			return
		}
		s.surfW, s.surfH = targetW, targetH
	}

	img := r.Image()
	if fixedW > 0 && fixedH > 0 {
		if s.composeBuf == nil || s.composeBuf.Bounds().Dx() != fixedW || s.composeBuf.Bounds().Dy() != fixedH {
			s.composeBuf = image.NewRGBA(image.Rect(0, 0, fixedW, fixedH))
		}
		Compose(s.composeBuf, img, fit)
		img = s.composeBuf
	}

	drawStatusLine(img, status)

	if err := s.surface.WriteFrame(img); err != nil {
		s.recordPaintError(err)
		return
	}

	s.mu.Lock()
	s.stats.Painted++
	onPainted := s.onPainted
	s.mu.Unlock()

	if onPainted != nil {
		onPainted()
	}
}

func (s *Sink) recordPaintError(err error) {
	s.mu.Lock()
	s.stats.PaintErrors++
	s.mu.Unlock()
	s.log.Warn().Err(err).Msg("Paint failed, frame dropped")
}
