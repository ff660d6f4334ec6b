package transport

import (
	"net"
	"sync"
	"sync/atomic"

	"golang.org/x/net/ipv4"

	"github.com/irctrakz/arqlink/pkg/core"
	"github.com/irctrakz/arqlink/pkg/logging"
)

// writer drains a bounded queue of outbound datagrams onto one socket.
// Engines enqueue from inside Flush, so enqueue never blocks: a full queue
// drops the datagram and the engine's retransmission recovers it.
type writer struct {
	conn      *net.UDPConn
	batch     batchConn
	queue     chan core.Addressed
	batchSize int
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	counters  *counters

	queued  uint64
	written uint64
	dropped uint64
}

func newWriter(conn *net.UDPConn, batch batchConn, queueCap, batchSize int, c *counters) *writer {
	if queueCap <= 0 {
		queueCap = 1024
	}
	if batchSize <= 0 {
		batchSize = 1
	}
	return &writer{
		conn:      conn,
		batch:     batch,
		queue:     make(chan core.Addressed, queueCap),
		batchSize: batchSize,
		stopCh:    make(chan struct{}),
		counters:  c,
	}
}

func (w *writer) start() {
	w.wg.Add(1)
	go w.run()
}

// stop ends the writer goroutine and releases whatever is still queued.
func (w *writer) stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.wg.Wait()
		for {
			select {
			case p := <-w.queue:
				core.ReleasePacket(p)
			default:
				return
			}
		}
	})
}

// enqueue queues p, reporting false when it was dropped.
func (w *writer) enqueue(p core.Addressed) bool {
	select {
	case <-w.stopCh:
		core.ReleasePacket(p)
		return false
	default:
	}
	select {
	case w.queue <- p:
		atomic.AddUint64(&w.queued, 1)
		return true
	default:
		atomic.AddUint64(&w.dropped, 1)
		atomic.AddUint64(&w.counters.outputDrops, 1)
		core.ReleasePacket(p)
		return false
	}
}

func (w *writer) run() {
	defer w.wg.Done()
	pending := make([]core.Addressed, 0, w.batchSize)
	msgs := make([]ipv4.Message, w.batchSize)
	for {
		select {
		case <-w.stopCh:
			return
		case p := <-w.queue:
			pending = append(pending[:0], p)
		gather:
			for len(pending) < w.batchSize {
				select {
				case p := <-w.queue:
					pending = append(pending, p)
				default:
					break gather
				}
			}
			w.write(pending, msgs)
			for i := range pending {
				core.ReleasePacket(pending[i])
				pending[i] = nil
			}
		}
	}
}

func (w *writer) write(pkts []core.Addressed, msgs []ipv4.Message) {
	sent := 0
	if w.batch != nil && len(pkts) > 1 {
		ms := msgs[:len(pkts)]
		for i, p := range pkts {
			ms[i].Buffers = [][]byte{p.Data()}
			ms[i].Addr = p.Addr()
			ms[i].N = 0
		}
		for sent < len(ms) {
			n, err := w.batch.WriteBatch(ms[sent:], 0)
			if err != nil {
				atomic.AddUint64(&w.counters.errors, 1)
				logging.Debugf("transport: batch write failed after %d of %d: %v", sent, len(ms), err)
				break
			}
			atomic.AddUint64(&w.counters.batches, 1)
			for _, m := range ms[sent : sent+n] {
				w.account(len(m.Buffers[0]))
			}
			sent += n
		}
		for i := range ms {
			ms[i].Buffers = nil
			ms[i].Addr = nil
		}
	}
	// Single datagrams and whatever the batch path could not send.
	for _, p := range pkts[sent:] {
		n, err := w.conn.WriteToUDP(p.Data(), p.Addr())
		if err != nil {
			atomic.AddUint64(&w.counters.errors, 1)
			logging.Debugf("transport: write to %v: %v", p.Addr(), err)
			continue
		}
		w.account(n)
	}
}

func (w *writer) account(n int) {
	atomic.AddUint64(&w.written, 1)
	atomic.AddUint64(&w.counters.packetsSent, 1)
	atomic.AddUint64(&w.counters.bytesSent, uint64(n))
}

func (w *writer) metrics() map[string]uint64 {
	return map[string]uint64{
		"queued":  atomic.LoadUint64(&w.queued),
		"written": atomic.LoadUint64(&w.written),
		"dropped": atomic.LoadUint64(&w.dropped),
		"batches": atomic.LoadUint64(&w.counters.batches),
		"backlog": uint64(len(w.queue)),
	}
}
