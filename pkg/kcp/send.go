package kcp

import (
	"github.com/sirupsen/logrus"

	"github.com/irctrakz/arqlink/pkg/pktpool"
)

// Send queues data for transmission and returns the number of bytes
// accepted. In message mode data becomes one message, split into fragments
// that the peer reassembles before Recv returns it. In stream mode data may
// be appended to the last unsent segment.
//
// Send either accepts all of data or none of it. It fails with
// ErrMessageTooLarge when data needs WndRcv or more fragments, with
// ErrWindowFull when the unsent queue is at its limit, and with ErrDeadLink
// once the link is dead.
func (k *KCP) Send(data []byte) (int, error) {
	if k.released {
		return 0, ErrReleased
	}
	if k.dead {
		return 0, ErrDeadLink
	}
	mss := int(k.mss)

	// Room left in the tail segment for stream coalescing.
	extend := 0
	var tail *segment
	if k.stream && k.sndQueue.Len() > 0 {
		tail = k.sndQueue.back()
		if len(tail.data) < mss {
			extend = mss - len(tail.data)
			if extend > len(data) {
				extend = len(data)
			}
		}
	}
	rest := len(data) - extend

	count := 0
	switch {
	case extend > 0 && rest == 0:
	case rest <= mss:
		count = 1
	default:
		count = (rest + mss - 1) / mss
	}
	if count >= WndRcv {
		return 0, ErrMessageTooLarge
	}
	if k.queueLimit > 0 && count > 0 && k.sndQueue.Len()+count > k.queueLimit {
		return 0, ErrWindowFull
	}

	if extend > 0 {
		n := len(tail.data)
		tail.data = pktpool.Grow(tail.data, n+extend)
		copy(tail.data[n:], data[:extend])
		tail.frg = 0
		data = data[extend:]
	}

	for i := 0; i < count; i++ {
		size := len(data)
		if size > mss {
			size = mss
		}
		s := newSegment(size)
		copy(s.data, data[:size])
		if !k.stream {
			s.frg = uint8(count - i - 1)
		}
		k.sndQueue.push(s)
		data = data[size:]
	}

	if k.canLog(LogSend) {
		k.log.WithFields(logrus.Fields{"bytes": extend + rest, "fragments": count}).Debug("send")
	}
	return extend + rest, nil
}
