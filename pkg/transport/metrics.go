package transport

import (
	"sync/atomic"

	"github.com/irctrakz/arqlink/pkg/core"
	"github.com/irctrakz/arqlink/pkg/kcp"
)

// counters is the atomic backing store for core.LinkMetrics.
type counters struct {
	sessionsCreated uint64
	sessionsClosed  uint64
	packetsSent     uint64
	packetsReceived uint64
	bytesSent       uint64
	bytesReceived   uint64
	outputDrops     uint64
	inputRejects    uint64
	errors          uint64
	batches         uint64
}

func (c *counters) snapshot() core.LinkMetrics {
	return core.LinkMetrics{
		SessionsCreated: atomic.LoadUint64(&c.sessionsCreated),
		SessionsClosed:  atomic.LoadUint64(&c.sessionsClosed),
		PacketsSent:     atomic.LoadUint64(&c.packetsSent),
		PacketsReceived: atomic.LoadUint64(&c.packetsReceived),
		BytesSent:       atomic.LoadUint64(&c.bytesSent),
		BytesReceived:   atomic.LoadUint64(&c.bytesReceived),
		OutputDrops:     atomic.LoadUint64(&c.outputDrops),
		InputRejects:    atomic.LoadUint64(&c.inputRejects),
		Errors:          atomic.LoadUint64(&c.errors),
	}
}

// SessionMetrics describes one live session.
type SessionMetrics struct {
	Conv   uint32    `json:"conv"`
	Remote string    `json:"remote"`
	Engine kcp.Stats `json:"engine"`
}

// DetailedMetrics exposes endpoint totals, writer counters and per-session
// engine state.
type DetailedMetrics struct {
	Total          core.LinkMetrics  `json:"total"`
	ActiveSessions uint64            `json:"active_sessions"`
	Writer         map[string]uint64 `json:"writer"`
	Sessions       []SessionMetrics  `json:"sessions"`
}
