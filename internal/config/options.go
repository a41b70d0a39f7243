package config

import (
	"fmt"
	"net/url"
)

// FormatMode selects how inbound frame payloads are interpreted.
// FormatAuto sniffs the payload signature; a concrete mode skips
// detection entirely.
type FormatMode string

const (
	FormatAuto   FormatMode = "auto"
	FormatJPEG   FormatMode = "jpeg"
	FormatPNG    FormatMode = "png"
	FormatWebP   FormatMode = "webp"
	FormatTIFF   FormatMode = "tiff"
	FormatRawBMP FormatMode = "rawbmp"
	FormatLZ4Raw FormatMode = "lz4raw"
)

// Valid reports whether f is a known format mode.
func (f FormatMode) Valid() bool {
	switch f {
	case FormatAuto, FormatJPEG, FormatPNG, FormatWebP, FormatTIFF, FormatRawBMP, FormatLZ4Raw:
		return true
	}
	return false
}

// FitMode selects how a frame is placed on a fixed-size surface.
type FitMode string

const (
	FitContain   FitMode = "contain"
	FitCover     FitMode = "cover"
	FitFill      FitMode = "fill"
	FitNone      FitMode = "none"
	FitScaleDown FitMode = "scale-down"
)

// Valid reports whether f is a known fit mode.
func (f FitMode) Valid() bool {
	switch f {
	case FitContain, FitCover, FitFill, FitNone, FitScaleDown:
		return true
	}
	return false
}

// Reconnect delay bounds in milliseconds. Values outside this range are
// clamped rather than rejected.
const (
	MinReconnectDelayMs     = 100
	MaxReconnectDelayMs     = 60000
	DefaultReconnectDelayMs = 1000
)

// PanelOptions is the per-panel configuration surface. It is read-only to
// every component except the controller; changing the endpoint or format
// mode forces a reconnect, everything else applies in place.
type PanelOptions struct {
	EndpointURL      string     `json:"endpoint_url" yaml:"endpoint_url" mapstructure:"endpoint_url"`
	ReconnectDelayMs int        `json:"reconnect_delay_ms" yaml:"reconnect_delay_ms" mapstructure:"reconnect_delay_ms"`
	ReconnectBackoff bool       `json:"reconnect_backoff" yaml:"reconnect_backoff" mapstructure:"reconnect_backoff"`
	FormatMode       FormatMode `json:"format_mode" yaml:"format_mode" mapstructure:"format_mode"`
	FitMode          FitMode    `json:"fit_mode" yaml:"fit_mode" mapstructure:"fit_mode"`
	ShowStatus       bool       `json:"show_status" yaml:"show_status" mapstructure:"show_status"`

	// Optional fixed surface size. Zero means the surface follows the
	// stream resolution and FitMode is not consulted.
	Width  int `json:"width,omitempty" yaml:"width,omitempty" mapstructure:"width"`
	Height int `json:"height,omitempty" yaml:"height,omitempty" mapstructure:"height"`
}

// DefaultPanelOptions returns the options applied to a panel that sets none.
func DefaultPanelOptions() PanelOptions {
	return PanelOptions{
		EndpointURL:      "ws://localhost:8765/",
		ReconnectDelayMs: DefaultReconnectDelayMs,
		FormatMode:       FormatAuto,
		FitMode:          FitContain,
		ShowStatus:       true,
	}
}

// Normalize fills zero values with defaults and clamps the reconnect delay
// into its allowed range.
func (o *PanelOptions) Normalize() {
	if o.FormatMode == "" {
		o.FormatMode = FormatAuto
	}
	if o.FitMode == "" {
		o.FitMode = FitContain
	}
	if o.ReconnectDelayMs == 0 {
		o.ReconnectDelayMs = DefaultReconnectDelayMs
	}
	if o.ReconnectDelayMs < MinReconnectDelayMs {
		o.ReconnectDelayMs = MinReconnectDelayMs
	}
	if o.ReconnectDelayMs > MaxReconnectDelayMs {
		o.ReconnectDelayMs = MaxReconnectDelayMs
	}
	if o.Width < 0 {
		o.Width = 0
	}
	if o.Height < 0 {
		o.Height = 0
	}
}

// Validate checks the fields that cannot be fixed by Normalize. The
// endpoint scheme is checked again by the connection manager before
// dialing; validating here lets config errors surface before a panel
// is mounted.
func (o PanelOptions) Validate() error {
	if o.EndpointURL == "" {
		return fmt.Errorf("endpoint_url is required")
	}
	u, err := url.Parse(o.EndpointURL)
	if err != nil {
		return fmt.Errorf("invalid endpoint_url %q: %w", o.EndpointURL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("endpoint_url scheme must be ws or wss, got %q", u.Scheme)
	}
	if !o.FormatMode.Valid() {
		return fmt.Errorf("unknown format_mode %q", o.FormatMode)
	}
	if !o.FitMode.Valid() {
		return fmt.Errorf("unknown fit_mode %q", o.FitMode)
	}
	if (o.Width == 0) != (o.Height == 0) {
		return fmt.Errorf("width and height must be set together")
	}
	return nil
}

// NeedsReconnect reports whether switching from o to next requires tearing
// down the connection. Only the endpoint and the payload interpretation
// bind a live connection.
func (o PanelOptions) NeedsReconnect(next PanelOptions) bool {
	return o.EndpointURL != next.EndpointURL || o.FormatMode != next.FormatMode
}
