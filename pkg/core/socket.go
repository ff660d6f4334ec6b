package core

// Endpoint is anything that owns a UDP socket carrying engine traffic: a
// dialed session or a listener.
type Endpoint interface {
	// Close stops the endpoint and releases its socket.
	Close() error

	// Metrics returns counters for the endpoint.
	Metrics() LinkMetrics
}

// LinkMetrics contains counters for an endpoint.
type LinkMetrics struct {
	// SessionsCreated is the number of sessions created.
	SessionsCreated uint64

	// SessionsClosed is the number of sessions closed.
	SessionsClosed uint64

	// PacketsSent is the number of datagrams written to the socket.
	PacketsSent uint64

	// PacketsReceived is the number of datagrams read from the socket.
	PacketsReceived uint64

	// BytesSent is the number of bytes written.
	BytesSent uint64

	// BytesReceived is the number of bytes read.
	BytesReceived uint64

	// OutputDrops counts datagrams dropped because the writer queue was full.
	OutputDrops uint64

	// InputRejects counts datagrams the engine refused.
	InputRejects uint64

	// Errors is the number of socket errors encountered.
	Errors uint64
}
