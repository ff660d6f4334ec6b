package kcp

import (
	"encoding/binary"

	"github.com/irctrakz/arqlink/pkg/pktpool"
)

// Wire layout, little endian, Overhead bytes:
//
//	0   conv u32
//	4   cmd  u8
//	5   frg  u8
//	6   wnd  u16
//	8   ts   u32
//	12  sn   u32
//	16  una  u32
//	20  len  u32
//	24  payload
type segment struct {
	conv uint32
	cmd  uint8
	frg  uint8
	wnd  uint16
	ts   uint32
	sn   uint32
	una  uint32
	data []byte

	// sender bookkeeping, never on the wire
	resendts uint32
	rto      uint32
	fastack  uint32
	xmit     uint32
}

// header is a decoded segment header without payload.
type header struct {
	conv   uint32
	cmd    uint8
	frg    uint8
	wnd    uint16
	ts     uint32
	sn     uint32
	una    uint32
	length uint32
}

func newSegment(size int) *segment {
	return &segment{data: pktpool.Get(size)}
}

func (s *segment) release() {
	if s.data != nil {
		pktpool.Release(s.data)
		s.data = nil
	}
}

// encode writes the header into p and returns the rest of p.
func (s *segment) encode(p []byte) []byte {
	binary.LittleEndian.PutUint32(p, s.conv)
	p[4] = s.cmd
	p[5] = s.frg
	binary.LittleEndian.PutUint16(p[6:], s.wnd)
	binary.LittleEndian.PutUint32(p[8:], s.ts)
	binary.LittleEndian.PutUint32(p[12:], s.sn)
	binary.LittleEndian.PutUint32(p[16:], s.una)
	binary.LittleEndian.PutUint32(p[20:], uint32(len(s.data)))
	return p[Overhead:]
}

// decodeHeader reads one header. p must hold at least Overhead bytes.
func decodeHeader(p []byte) header {
	return header{
		conv:   binary.LittleEndian.Uint32(p),
		cmd:    p[4],
		frg:    p[5],
		wnd:    binary.LittleEndian.Uint16(p[6:]),
		ts:     binary.LittleEndian.Uint32(p[8:]),
		sn:     binary.LittleEndian.Uint32(p[12:]),
		una:    binary.LittleEndian.Uint32(p[16:]),
		length: binary.LittleEndian.Uint32(p[20:]),
	}
}

// GetConv returns the conversation id of a raw datagram without parsing the
// rest of it, so one socket can demultiplex many connections.
func GetConv(p []byte) (uint32, error) {
	if len(p) < 4 {
		return 0, ErrTruncated
	}
	return binary.LittleEndian.Uint32(p), nil
}

func validCommand(cmd uint8) bool {
	switch cmd {
	case cmdPush, cmdAck, cmdWask, cmdWins:
		return true
	}
	return false
}

func commandName(cmd uint8) string {
	switch cmd {
	case cmdPush:
		return "push"
	case cmdAck:
		return "ack"
	case cmdWask:
		return "wask"
	case cmdWins:
		return "wins"
	}
	return "unknown"
}
