package core

import (
	"fmt"
	"strings"
)

// EngineConfig holds tuning for one protocol engine. Zero fields keep the
// engine default.
type EngineConfig struct {
	// Mode selects a preset for NoDelay, Interval, Resend and NoCongestion:
	// "default", "normal" or "fast". Explicit fields override it.
	Mode string `json:"mode" yaml:"mode"`

	// MTU is the datagram size including the 24-byte header.
	MTU int `json:"mtu" yaml:"mtu"`

	// SndWnd and RcvWnd are window sizes in segments.
	SndWnd int `json:"sndWnd" yaml:"sndWnd"`
	RcvWnd int `json:"rcvWnd" yaml:"rcvWnd"`

	// NoDelay 1 selects gentle RTO backoff and a 30ms RTO floor.
	NoDelay *int `json:"nodelay,omitempty" yaml:"nodelay,omitempty"`

	// Interval is the flush period in ms.
	Interval int `json:"interval" yaml:"interval"`

	// Resend is the fast retransmit trigger; 0 disables it.
	Resend *int `json:"resend,omitempty" yaml:"resend,omitempty"`

	// NoCongestion disables congestion window gating.
	NoCongestion *bool `json:"nc,omitempty" yaml:"nc,omitempty"`

	// MinRTO overrides the retransmission timeout floor in ms.
	MinRTO int `json:"minRTO" yaml:"minRTO"`

	// DeadLink is the transmission count that declares a peer gone.
	DeadLink int `json:"deadLink" yaml:"deadLink"`

	// Stream enables stream mode.
	Stream bool `json:"stream" yaml:"stream"`

	// FastLimit caps fast retransmissions per segment; nil keeps the default.
	FastLimit *int `json:"fastLimit,omitempty" yaml:"fastLimit,omitempty"`

	// QueueLimit bounds unsent segments; nil keeps the default.
	QueueLimit *int `json:"queueLimit,omitempty" yaml:"queueLimit,omitempty"`

	// LogMask selects engine events logged at debug level.
	LogMask uint32 `json:"logMask" yaml:"logMask"`
}

// NoDelayParams are the four arguments of the engine's nodelay call.
type NoDelayParams struct {
	NoDelay  int
	Interval int
	Resend   int
	NC       int
}

var modes = map[string]NoDelayParams{
	"default": {NoDelay: 0, Interval: 10, Resend: 0, NC: 0},
	"normal":  {NoDelay: 0, Interval: 10, Resend: 0, NC: 1},
	"fast":    {NoDelay: 1, Interval: 10, Resend: 2, NC: 1},
}

// Modes lists the preset names.
func Modes() []string { return []string{"default", "normal", "fast"} }

// ModePreset returns the nodelay parameters for a preset name.
func ModePreset(name string) (NoDelayParams, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		key = "default"
	}
	p, ok := modes[key]
	if !ok {
		return NoDelayParams{}, fmt.Errorf("unknown engine mode %q (want one of %s)", name, strings.Join(Modes(), ", "))
	}
	return p, nil
}

// NoDelayParams resolves the mode preset with explicit overrides applied.
func (c EngineConfig) NoDelayParams() (NoDelayParams, error) {
	p, err := ModePreset(c.Mode)
	if err != nil {
		return p, err
	}
	if c.NoDelay != nil {
		p.NoDelay = *c.NoDelay
	}
	if c.Interval > 0 {
		p.Interval = c.Interval
	}
	if c.Resend != nil {
		p.Resend = *c.Resend
	}
	if c.NoCongestion != nil {
		p.NC = 0
		if *c.NoCongestion {
			p.NC = 1
		}
	}
	return p, nil
}

// DefaultEngineConfig is the "fast" preset at the standard mtu and windows.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Mode:   "fast",
		MTU:    1400,
		SndWnd: 128,
		RcvWnd: 128,
	}
}
