package core

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPooledPacket(t *testing.T) {
	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 4000}
	data := []byte{0x01, 0x02, 0x03}

	var released [][]byte
	p := NewPooledPacket(data, addr, func(b []byte) { released = append(released, b) })
	assert.Equal(t, data, p.Data())
	assert.Equal(t, 3, p.Length())
	assert.Equal(t, addr, p.Addr())

	ReleasePacket(p)
	ReleasePacket(p)
	require.Len(t, released, 1, "released once")
	assert.True(t, p.(*pooledPacket).Released())
}

func TestPooledPacketNilData(t *testing.T) {
	p := NewPooledPacket(nil, nil, nil)
	assert.NotNil(t, p.Data())
	assert.Zero(t, p.Length())
	ReleasePacket(p)
}

func TestCopyPacket(t *testing.T) {
	src := []byte("datagram")
	allocs := 0
	p := CopyPacket(src, nil, func(n int) []byte { allocs++; return make([]byte, n) }, nil)
	src[0] = 'X'

	assert.Equal(t, "datagram", string(p.Data()))
	assert.Equal(t, 1, allocs)

	p = CopyPacket(src, nil, nil, nil)
	assert.Equal(t, "Xatagram", string(p.Data()))
}
