package core

import "net"

// Packet is one datagram on its way to or from the wire.
type Packet interface {
	// Data returns the datagram bytes. Callers must not modify them.
	Data() []byte

	// Length returns the datagram length.
	Length() int
}

// Addressed is a Packet that knows its remote peer.
type Addressed interface {
	Packet
	Addr() *net.UDPAddr
}

// pooledPacket is a Packet backed by a reusable buffer. When the packet has
// been written, ReleasePacket returns the buffer to its pool. A packet that
// escapes is reclaimed by GC instead.
type pooledPacket struct {
	data     []byte
	addr     *net.UDPAddr
	releaser func([]byte)
}

// NewPooledPacket wraps data, bound for addr, with an optional releaser.
// Do not mutate data after passing it in.
func NewPooledPacket(data []byte, addr *net.UDPAddr, releaser func([]byte)) Addressed {
	if data == nil {
		data = make([]byte, 0)
	}
	return &pooledPacket{data: data, addr: addr, releaser: releaser}
}

func (p *pooledPacket) Data() []byte        { return p.data }
func (p *pooledPacket) Length() int         { return len(p.data) }
func (p *pooledPacket) Addr() *net.UDPAddr { return p.addr }

// Released reports whether the buffer went back to its pool already.
func (p *pooledPacket) Released() bool { return p.data == nil }

// ReleasePacket hands a pooled packet's buffer to its releaser once.
func ReleasePacket(p Packet) {
	if pp, ok := p.(*pooledPacket); ok {
		if pp.releaser != nil && len(pp.data) > 0 {
			pp.releaser(pp.data)
			// prevent double release
			pp.data = nil
			pp.releaser = nil
		}
	}
}

// CopyPacket copies data into a new packet for addr. Engine output is only
// valid during the Output call, so anything queued goes through here.
func CopyPacket(data []byte, addr *net.UDPAddr, alloc func(n int) []byte, releaser func([]byte)) Addressed {
	var buf []byte
	if alloc != nil {
		buf = alloc(len(data))
	} else {
		buf = make([]byte, len(data))
	}
	copy(buf, data)
	return NewPooledPacket(buf, addr, releaser)
}
