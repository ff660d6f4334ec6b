package kcp

import "errors"

// Transient conditions. Callers retry on a later tick.
var (
	// ErrAgain means no complete message is ready.
	ErrAgain = errors.New("kcp: no message ready")
	// ErrWindowFull means the send queue is saturated.
	ErrWindowFull = errors.New("kcp: send queue full")
)

// Input rejections. The datagram is discarded and no state changes.
var (
	ErrTruncated      = errors.New("kcp: truncated segment")
	ErrConvMismatch   = errors.New("kcp: conversation id mismatch")
	ErrUnknownCommand = errors.New("kcp: unknown command")
)

// Capacity and configuration errors.
var (
	ErrMessageTooLarge = errors.New("kcp: message needs too many fragments")
	ErrBufferTooSmall  = errors.New("kcp: receive buffer too small")
	ErrInvalidMTU      = errors.New("kcp: invalid mtu")
)

// Terminal conditions.
var (
	// ErrDeadLink means a segment exceeded the dead-link retransmission limit.
	ErrDeadLink = errors.New("kcp: link is dead")
	ErrReleased = errors.New("kcp: control block released")
)
