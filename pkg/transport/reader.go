package transport

import (
	"errors"
	"net"
	"sync/atomic"

	"golang.org/x/net/ipv4"

	"github.com/irctrakz/arqlink/pkg/logging"
)

const maxDatagram = 65535

// readLoop reads datagrams until conn is closed, handing each to handle.
// The slice passed to handle is reused after it returns.
func readLoop(conn *net.UDPConn, batch batchConn, batchSize int, c *counters, done <-chan struct{}, handle func(data []byte, from *net.UDPAddr)) {
	if batch == nil || batchSize <= 1 {
		buf := make([]byte, maxDatagram)
		for {
			n, from, err := conn.ReadFromUDP(buf)
			if err != nil {
				if closing(err, done) {
					return
				}
				atomic.AddUint64(&c.errors, 1)
				logging.Debugf("transport: read: %v", err)
				continue
			}
			atomic.AddUint64(&c.packetsReceived, 1)
			atomic.AddUint64(&c.bytesReceived, uint64(n))
			handle(buf[:n], from)
		}
	}

	msgs := make([]ipv4.Message, batchSize)
	for i := range msgs {
		msgs[i].Buffers = [][]byte{make([]byte, maxDatagram)}
	}
	for {
		n, err := batch.ReadBatch(msgs, 0)
		if err != nil {
			if closing(err, done) {
				return
			}
			atomic.AddUint64(&c.errors, 1)
			logging.Debugf("transport: batch read: %v", err)
			continue
		}
		for i := 0; i < n; i++ {
			m := &msgs[i]
			from, ok := m.Addr.(*net.UDPAddr)
			if !ok {
				continue
			}
			atomic.AddUint64(&c.packetsReceived, 1)
			atomic.AddUint64(&c.bytesReceived, uint64(m.N))
			handle(m.Buffers[0][:m.N], from)
		}
	}
}

func closing(err error, done <-chan struct{}) bool {
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	select {
	case <-done:
		return true
	default:
		return false
	}
}
