// Package rate derives per-second frame and byte gauges from received and
// displayed events. Counts accumulate inside a window and are folded into
// rates whenever the owner samples, normally once per second from the
// controller's ticker.
package rate

import (
	"sync"
	"time"
)

// Rates is one sampled window, expressed per second.
type Rates struct {
	ReceivedPerSecond  float64 `json:"received_per_second"`
	DisplayedPerSecond float64 `json:"displayed_per_second"`
	BytesPerSecond     float64 `json:"bytes_per_second"`
}

// Monitor counts received and displayed frames. Sampling is driven by the
// caller's cadence, not by frame arrival; each Sample computes
// count * 1000 / elapsedMs since the previous reset and starts a new window.
type Monitor struct {
	mu          sync.Mutex
	received    uint64
	displayed   uint64
	bytes       uint64
	windowStart time.Time
	last        Rates

	totalFrames uint64
	totalBytes  uint64

	now func() time.Time
}

// NewMonitor creates a monitor with an open window starting now.
func NewMonitor() *Monitor {
	m := &Monitor{now: time.Now}
	m.windowStart = m.now()
	return m
}

// RecordReceived counts one inbound frame of n payload bytes.
func (m *Monitor) RecordReceived(n int) {
	m.mu.Lock()
	m.received++
	m.bytes += uint64(n)
	m.totalFrames++
	m.totalBytes += uint64(n)
	m.mu.Unlock()
}

// RecordDisplayed counts one painted frame.
func (m *Monitor) RecordDisplayed() {
	m.mu.Lock()
	m.displayed++
	m.mu.Unlock()
}

// Sample closes the current window, returning its per-second rates and
// resetting the counts. A zero-length window yields zero rates.
func (m *Monitor) Sample() Rates {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	elapsedMs := float64(now.Sub(m.windowStart).Milliseconds())

	var r Rates
	if elapsedMs > 0 {
		r.ReceivedPerSecond = float64(m.received) * 1000 / elapsedMs
		r.DisplayedPerSecond = float64(m.displayed) * 1000 / elapsedMs
		r.BytesPerSecond = float64(m.bytes) * 1000 / elapsedMs
	}

	m.received = 0
	m.displayed = 0
	m.bytes = 0
	m.windowStart = now
	m.last = r
	return r
}

// Last returns the most recently sampled rates without closing the window.
func (m *Monitor) Last() Rates {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// TotalFrames returns the cumulative received-frame count since creation.
func (m *Monitor) TotalFrames() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalFrames
}

// TotalBytes returns the cumulative received payload bytes since creation.
func (m *Monitor) TotalBytes() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalBytes
}
