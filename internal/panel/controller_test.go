package panel

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/framepanel/internal/config"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// tinyJPEG encodes a small solid-color frame.
func tinyJPEG(t *testing.T, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 12))
	draw.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

// frameServer pushes count binary frames on every connection, then holds
// the connection open.
func frameServer(t *testing.T, conns *atomic.Int64, count int, every time.Duration) *httptest.Server {
	t.Helper()
	payload := tinyJPEG(t, color.RGBA{R: 200, A: 255})
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if conns != nil {
			conns.Add(1)
		}
		defer c.Close()
		for i := 0; i < count; i++ {
			if err := c.WriteMessage(websocket.BinaryMessage, payload); err != nil {
				return
			}
			if every > 0 {
				time.Sleep(every)
			}
		}
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func testOptions(endpoint string) config.PanelOptions {
	opts := config.DefaultPanelOptions()
	opts.EndpointURL = endpoint
	opts.ReconnectDelayMs = 100
	return opts
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

// TestNewControllerAssignsID verifies that panels without an id get one.
func TestNewControllerAssignsID(t *testing.T) {
	t.Parallel()

	c := NewController(config.PanelConfig{Name: "wall"})
	if c.ID() == "" {
		t.Error("ID() is empty, want generated id")
	}
	if c.Name() != "wall" {
		t.Errorf("Name() = %q, want wall", c.Name())
	}
}

// TestMountStreamsFrames verifies the full path from connect to painted
// frames on the surface.
func TestMountStreamsFrames(t *testing.T) {
	t.Parallel()

	ts := frameServer(t, nil, 10, 10*time.Millisecond)
	defer ts.Close()

	c := NewController(config.PanelConfig{
		ID:      "p1",
		Options: testOptions(wsURL(ts)),
	})
	if err := c.Mount(); err != nil {
		t.Fatalf("Mount() error = %v", err)
	}
	defer c.Unmount()

	waitFor(t, 3*time.Second, func() bool {
		st := c.Status()
		return st.State == "connected" && st.Sink.Painted >= 1
	})

	st := c.Status()
	if !st.Mounted {
		t.Error("Status().Mounted = false, want true")
	}
	if st.TotalFrames == 0 {
		t.Error("Status().TotalFrames = 0, want > 0")
	}
	if st.TotalBytes == 0 {
		t.Error("Status().TotalBytes = 0, want > 0")
	}
	if c.Surface().FrameCount() == 0 {
		t.Error("surface FrameCount = 0, want > 0")
	}
}

// TestMountRejectsBadOptions verifies that validation failures keep the
// panel unmounted.
func TestMountRejectsBadOptions(t *testing.T) {
	t.Parallel()

	c := NewController(config.PanelConfig{
		ID:      "p1",
		Options: testOptions("http://example.com/"),
	})
	if err := c.Mount(); err == nil {
		t.Fatal("Mount() = nil, want error for http endpoint")
	}
	if st := c.Status(); st.Mounted {
		t.Error("Status().Mounted = true after failed mount")
	}
}

// TestMountTwiceFails verifies the double-mount guard.
func TestMountTwiceFails(t *testing.T) {
	t.Parallel()

	ts := frameServer(t, nil, 0, 0)
	defer ts.Close()

	c := NewController(config.PanelConfig{ID: "p1", Options: testOptions(wsURL(ts))})
	if err := c.Mount(); err != nil {
		t.Fatalf("Mount() error = %v", err)
	}
	defer c.Unmount()

	if err := c.Mount(); err == nil {
		t.Error("second Mount() = nil, want error")
	}
}

// TestApplyOptionsInPlace verifies that fit-mode changes do not reconnect.
func TestApplyOptionsInPlace(t *testing.T) {
	t.Parallel()

	var conns atomic.Int64
	ts := frameServer(t, &conns, 0, 0)
	defer ts.Close()

	c := NewController(config.PanelConfig{ID: "p1", Options: testOptions(wsURL(ts))})
	if err := c.Mount(); err != nil {
		t.Fatalf("Mount() error = %v", err)
	}
	defer c.Unmount()
	waitFor(t, 2*time.Second, func() bool { return c.Status().State == "connected" })

	next := c.Options()
	next.FitMode = config.FitCover
	next.Width = 320
	next.Height = 240
	if err := c.ApplyOptions(next); err != nil {
		t.Fatalf("ApplyOptions() error = %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if n := conns.Load(); n != 1 {
		t.Errorf("connections = %d, want 1 for an in-place change", n)
	}
	if got := c.Options().FitMode; got != config.FitCover {
		t.Errorf("FitMode = %v, want cover", got)
	}
}

// TestApplyOptionsReconnects verifies that an endpoint change moves the
// connection to the new server.
func TestApplyOptionsReconnects(t *testing.T) {
	t.Parallel()

	var conns1, conns2 atomic.Int64
	ts1 := frameServer(t, &conns1, 0, 0)
	defer ts1.Close()
	ts2 := frameServer(t, &conns2, 0, 0)
	defer ts2.Close()

	c := NewController(config.PanelConfig{ID: "p1", Options: testOptions(wsURL(ts1))})
	if err := c.Mount(); err != nil {
		t.Fatalf("Mount() error = %v", err)
	}
	defer c.Unmount()
	waitFor(t, 2*time.Second, func() bool { return conns1.Load() == 1 })

	next := c.Options()
	next.EndpointURL = wsURL(ts2)
	if err := c.ApplyOptions(next); err != nil {
		t.Fatalf("ApplyOptions() error = %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return conns2.Load() >= 1 })
	if got := c.Status().Options.EndpointURL; got != wsURL(ts2) {
		t.Errorf("endpoint = %q, want %q", got, wsURL(ts2))
	}
}

// TestApplyOptionsRejectsInvalid verifies that bad options change nothing.
func TestApplyOptionsRejectsInvalid(t *testing.T) {
	t.Parallel()

	ts := frameServer(t, nil, 0, 0)
	defer ts.Close()

	c := NewController(config.PanelConfig{ID: "p1", Options: testOptions(wsURL(ts))})
	if err := c.Mount(); err != nil {
		t.Fatalf("Mount() error = %v", err)
	}
	defer c.Unmount()

	before := c.Options()
	bad := before
	bad.FitMode = config.FitMode("stretch-weird")
	if err := c.ApplyOptions(bad); err == nil {
		t.Fatal("ApplyOptions() = nil, want error for unknown fit mode")
	}
	if got := c.Options(); got != before {
		t.Errorf("options changed after rejected update: %+v", got)
	}
}

// TestUnmountStopsConnection verifies that unmount disconnects and stays
// disconnected.
func TestUnmountStopsConnection(t *testing.T) {
	t.Parallel()

	var conns atomic.Int64
	ts := frameServer(t, &conns, 0, 0)
	defer ts.Close()

	c := NewController(config.PanelConfig{ID: "p1", Options: testOptions(wsURL(ts))})
	if err := c.Mount(); err != nil {
		t.Fatalf("Mount() error = %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return c.Status().State == "connected" })

	c.Unmount()
	st := c.Status()
	if st.Mounted {
		t.Error("Status().Mounted = true after Unmount")
	}
	if st.State != "disconnected" {
		t.Errorf("State = %q, want disconnected", st.State)
	}

	time.Sleep(250 * time.Millisecond)
	if n := conns.Load(); n != 1 {
		t.Errorf("connections = %d, want 1 after Unmount", n)
	}

	c.Unmount()
}

// TestBurstArrivalsAllCounted verifies that every received frame is
// counted even when decoding cannot keep up with arrival.
func TestBurstArrivalsAllCounted(t *testing.T) {
	t.Parallel()

	const burst = 50
	ts := frameServer(t, nil, burst, 0)
	defer ts.Close()

	c := NewController(config.PanelConfig{ID: "p1", Options: testOptions(wsURL(ts))})
	if err := c.Mount(); err != nil {
		t.Fatalf("Mount() error = %v", err)
	}
	defer c.Unmount()

	waitFor(t, 3*time.Second, func() bool { return c.Status().TotalFrames == burst })

	st := c.Status()
	if st.Sink.Painted == 0 {
		t.Error("Sink.Painted = 0, want at least one painted frame")
	}
	accounted := st.Sink.Painted + st.Sink.DroppedStale + st.Sink.DroppedSuperseded + st.DroppedIngest + st.DecodeFailures
	if accounted > burst {
		t.Errorf("accounted frames = %d, want <= %d", accounted, burst)
	}
}
