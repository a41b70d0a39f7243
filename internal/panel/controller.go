// Package panel wires one connection, decoder, and sink into a mounted
// panel and exposes its lifecycle and status.
package panel

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/framepanel/internal/config"
	"github.com/bryanchriswhite/framepanel/internal/conn"
	"github.com/bryanchriswhite/framepanel/internal/decode"
	"github.com/bryanchriswhite/framepanel/internal/logger"
	"github.com/bryanchriswhite/framepanel/internal/output"
	"github.com/bryanchriswhite/framepanel/internal/rate"
	"github.com/bryanchriswhite/framepanel/internal/render"
)

const sampleInterval = time.Second

// Status is a point-in-time snapshot of a panel.
type Status struct {
	ID             string               `json:"id"`
	Name           string               `json:"name,omitempty"`
	Mounted        bool                 `json:"mounted"`
	State          string               `json:"state"`
	LastError      string               `json:"last_error,omitempty"`
	Options        config.PanelOptions  `json:"options"`
	Rates          rate.Rates           `json:"rates"`
	TotalFrames    uint64               `json:"total_frames"`
	TotalBytes     uint64               `json:"total_bytes"`
	DecodeFailures uint64               `json:"decode_failures"`
	DroppedIngest  uint64               `json:"dropped_ingest"`
	Sink           render.SinkStats     `json:"sink"`
	StreamClients  int                  `json:"stream_clients"`
}

// Controller owns one panel end to end: the WebSocket connection, the
// decoder, the sink, and the MJPEG surface the frames land on. Exactly one
// decode is in flight per panel; frames arriving during a decode replace
// the waiting one so the decoder always works on the newest payload.
type Controller struct {
	id      string
	name    string
	log     *zerolog.Logger
	surface *output.MJPEGSurface

	mu      sync.Mutex
	opts    config.PanelOptions
	mounted bool
	conn    *conn.Manager
	decoder *decode.Decoder
	sink    *render.Sink
	monitor *rate.Monitor
	pool    *render.BufferPool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// single-slot ingest mailbox feeding the decode loop
	rawMu      sync.Mutex
	rawPending *conn.RawFrame
	rawNotify  chan struct{}

	stateMu   sync.Mutex
	connState conn.State
	connErr   string

	seq            atomic.Uint64
	decodeFailures atomic.Uint64
	droppedIngest  atomic.Uint64
}

// NewController creates an unmounted controller for the given panel
// definition. An empty ID gets a generated one.
func NewController(pc config.PanelConfig) *Controller {
	if pc.ID == "" {
		pc.ID = uuid.NewString()
	}
	log := logger.WithPanel("panel", pc.ID)
	return &Controller{
		id:        pc.ID,
		name:      pc.Name,
		log:       log,
		surface:   output.NewMJPEGSurface(output.Config{Width: 640, Height: 480}, logger.WithPanel("mjpeg", pc.ID)),
		opts:      pc.Options,
		connState: conn.StateDisconnected,
		rawNotify: make(chan struct{}, 1),
	}
}

// ID returns the panel identifier.
func (c *Controller) ID() string { return c.id }

// Name returns the panel display name.
func (c *Controller) Name() string { return c.name }

// Surface returns the panel's MJPEG surface for HTTP streaming.
func (c *Controller) Surface() *output.MJPEGSurface { return c.surface }

// Mount validates the options, builds the pipeline, and connects. A
// transport failure does not fail the mount; the connection manager keeps
// retrying on its own.
func (c *Controller) Mount() error {
	c.mu.Lock()
	if c.mounted {
		c.mu.Unlock()
		return fmt.Errorf("panel %s already mounted", c.id)
	}

	opts := c.opts
	opts.Normalize()
	if err := opts.Validate(); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("panel %s options: %w", c.id, err)
	}
	c.opts = opts

	if err := c.surface.Start(); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("panel %s surface: %w", c.id, err)
	}

	c.pool = render.NewBufferPool()
	c.monitor = rate.NewMonitor()
	c.decoder = decode.New(decode.Config{Mode: opts.FormatMode, Pool: c.pool}, c.log)
	c.sink = render.NewSink(c.surface, render.SinkConfig{
		FitMode:   opts.FitMode,
		Width:     opts.Width,
		Height:    opts.Height,
		OnPainted: c.monitor.RecordDisplayed,
	}, c.log)
	if err := c.sink.Start(); err != nil {
		c.surface.Stop()
		c.mu.Unlock()
		return fmt.Errorf("panel %s sink: %w", c.id, err)
	}

	c.conn = conn.NewManager(conn.Config{
		ReconnectDelay: time.Duration(opts.ReconnectDelayMs) * time.Millisecond,
		Backoff:        opts.ReconnectBackoff,
		OnFrame:        c.ingest,
		OnState:        c.recordState,
	}, c.log)

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mounted = true
	c.wg.Add(2)
	go c.decodeLoop(ctx)
	go c.sampleLoop(ctx)
	endpoint := opts.EndpointURL
	mgr := c.conn
	c.mu.Unlock()

	c.log.Info().Str("endpoint", endpoint).Msg("Panel mounted")
	if err := mgr.Connect(endpoint); err != nil {
		// transport errors retry on the timer; only a rejected endpoint
		// is worth surfacing, and Validate has already ruled that out
		c.log.Debug().Err(err).Msg("Initial connect failed, retrying")
	}
	return nil
}

// ApplyOptions validates and applies new options. Endpoint and format
// changes tear the connection down and redial; everything else applies in
// place. On validation failure nothing changes.
func (c *Controller) ApplyOptions(next config.PanelOptions) error {
	next.Normalize()
	if err := next.Validate(); err != nil {
		return fmt.Errorf("panel %s options: %w", c.id, err)
	}

	c.mu.Lock()
	if !c.mounted {
		c.opts = next
		c.mu.Unlock()
		return nil
	}

	cur := c.opts
	reconnect := cur.NeedsReconnect(next)
	c.opts = next

	c.sink.SetFitMode(next.FitMode)
	c.sink.SetFixedSize(next.Width, next.Height)
	if !next.ShowStatus {
		c.sink.SetStatusText("")
	}
	c.conn.SetReconnectDelay(time.Duration(next.ReconnectDelayMs)*time.Millisecond, next.ReconnectBackoff)

	if !reconnect {
		c.mu.Unlock()
		c.log.Info().Msg("Panel options applied in place")
		return nil
	}

	old := c.conn
	if next.FormatMode != cur.FormatMode {
		c.decoder = decode.New(decode.Config{Mode: next.FormatMode, Pool: c.pool}, c.log)
	}
	c.conn = conn.NewManager(conn.Config{
		ReconnectDelay: time.Duration(next.ReconnectDelayMs) * time.Millisecond,
		Backoff:        next.ReconnectBackoff,
		OnFrame:        c.ingest,
		OnState:        c.recordState,
	}, c.log)
	mgr := c.conn
	c.mu.Unlock()

	old.Close()
	c.discardPendingRaw()

	c.log.Info().Str("endpoint", next.EndpointURL).Msg("Panel options require reconnect")
	if err := mgr.Connect(next.EndpointURL); err != nil {
		c.log.Debug().Err(err).Msg("Reconnect after option change failed, retrying")
	}
	return nil
}

// Options returns a copy of the current options.
func (c *Controller) Options() config.PanelOptions {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts
}

// Unmount closes the connection, stops the pipeline, and releases any
// frame still in flight. Idempotent.
func (c *Controller) Unmount() {
	c.mu.Lock()
	if !c.mounted {
		c.mu.Unlock()
		return
	}
	c.mounted = false
	mgr := c.conn
	cancel := c.cancel
	sink := c.sink
	c.conn = nil
	c.cancel = nil
	c.mu.Unlock()

	mgr.Close()
	cancel()
	c.wg.Wait()
	c.discardPendingRaw()
	sink.Stop()
	c.surface.Stop()
	c.log.Info().Msg("Panel unmounted")
}

// Status snapshots the panel. Safe to call in any state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	opts := c.opts
	mounted := c.mounted
	monitor := c.monitor
	sink := c.sink
	c.mu.Unlock()

	c.stateMu.Lock()
	state := c.connState
	connErr := c.connErr
	c.stateMu.Unlock()

	st := Status{
		ID:             c.id,
		Name:           c.name,
		Mounted:        mounted,
		State:          state.String(),
		LastError:      connErr,
		Options:        opts,
		DecodeFailures: c.decodeFailures.Load(),
		DroppedIngest:  c.droppedIngest.Load(),
		StreamClients:  c.surface.ClientCount(),
	}
	if monitor != nil {
		st.Rates = monitor.Last()
		st.TotalFrames = monitor.TotalFrames()
		st.TotalBytes = monitor.TotalBytes()
	}
	if sink != nil {
		st.Sink = sink.Stats()
	}
	return st
}

// ingest records arrival and parks the frame in the single-slot mailbox.
// A frame already waiting is replaced; the decoder only ever sees the
// newest payload.
func (c *Controller) ingest(f conn.RawFrame) {
	c.mu.Lock()
	monitor := c.monitor
	c.mu.Unlock()
	if monitor != nil {
		monitor.RecordReceived(len(f.Data))
	}

	c.rawMu.Lock()
	if c.rawPending != nil {
		c.droppedIngest.Add(1)
	}
	c.rawPending = &f
	c.rawMu.Unlock()

	select {
	case c.rawNotify <- struct{}{}:
	default:
	}
}

func (c *Controller) claimPendingRaw() *conn.RawFrame {
	c.rawMu.Lock()
	defer c.rawMu.Unlock()
	f := c.rawPending
	c.rawPending = nil
	return f
}

func (c *Controller) discardPendingRaw() {
	c.rawMu.Lock()
	c.rawPending = nil
	c.rawMu.Unlock()
}

func (c *Controller) decodeLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.rawNotify:
		}

		f := c.claimPendingRaw()
		if f == nil {
			continue
		}

		c.mu.Lock()
		decoder := c.decoder
		sink := c.sink
		c.mu.Unlock()

		seq := c.seq.Add(1)
		r, err := decoder.Decode(ctx, f.Data, seq, f.ReceivedAt)
		if err != nil {
			c.decodeFailures.Add(1)
			continue
		}
		sink.Present(r)
	}
}

func (c *Controller) sampleLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			monitor := c.monitor
			sink := c.sink
			showStatus := c.opts.ShowStatus
			c.mu.Unlock()
			if monitor == nil {
				continue
			}
			r := monitor.Sample()
			c.log.Debug().
				Float64("received_fps", r.ReceivedPerSecond).
				Float64("displayed_fps", r.DisplayedPerSecond).
				Float64("bytes_per_sec", r.BytesPerSecond).
				Msg("Rates sampled")

			if sink == nil {
				continue
			}
			if !showStatus {
				sink.SetStatusText("")
				continue
			}
			c.stateMu.Lock()
			state := c.connState
			c.stateMu.Unlock()
			sink.SetStatusText(fmt.Sprintf("%s | %.1f rx/s | %.1f fps | %d frames",
				state, r.ReceivedPerSecond, r.DisplayedPerSecond, monitor.TotalFrames()))
		}
	}
}

func (c *Controller) recordState(s conn.State, reason string) {
	c.stateMu.Lock()
	c.connState = s
	switch s {
	case conn.StateError:
		c.connErr = reason
	case conn.StateConnected:
		c.connErr = ""
	}
	c.stateMu.Unlock()
}
