package transport

import (
	"time"

	"github.com/irctrakz/arqlink/pkg/core"
)

// Config contains configuration for a listener or a dialed session.
type Config struct {
	// ListenAddr is the local UDP address. Dial uses it as the source
	// address and may leave it empty.
	ListenAddr string

	// RemoteAddr is the peer a dialed session talks to.
	RemoteAddr string

	// Conv is the conversation id a dialed session uses.
	Conv uint32

	// Engine tunes every engine created by this endpoint.
	Engine core.EngineConfig

	// QueueCap bounds the outbound writer queue in datagrams. A full queue
	// drops instead of blocking the engine.
	QueueCap int

	// BatchSize is the number of datagrams per sendmmsg/recvmmsg call.
	BatchSize int

	// DSCP marks outgoing datagrams; 0 leaves the socket default.
	DSCP int

	// IdleTimeout removes listener sessions that saw no input for this long.
	IdleTimeout time.Duration

	// MaxSessions limits concurrent listener sessions (0 = unlimited).
	MaxSessions int

	// AcceptBacklog bounds sessions waiting for Accept.
	AcceptBacklog int

	// PcapPath, when set, tees every datagram to a PCAP file.
	PcapPath string
}

// DefaultConfig returns the default transport configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr:    "0.0.0.0:4000",
		Engine:        core.DefaultEngineConfig(),
		QueueCap:      1024,
		BatchSize:     16,
		IdleTimeout:   60 * time.Second,
		AcceptBacklog: 64,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.QueueCap <= 0 {
		c.QueueCap = d.QueueCap
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.AcceptBacklog <= 0 {
		c.AcceptBacklog = d.AcceptBacklog
	}
	return c
}
