// Package kcp implements a reliable, ordered ARQ engine layered over an
// unreliable datagram channel.
//
// A KCP value manages exactly one connection. It never blocks, starts no
// goroutines and performs no I/O of its own: the owner feeds received
// datagrams to Input, moves application data through Send and Recv, and
// calls Update on a regular cadence (or when Check says so). Every datagram
// the engine produces is handed to the Output supplied at construction,
// synchronously from inside Update or Flush.
//
// A KCP is not safe for concurrent use. Output must not call back into the
// same KCP.
package kcp

import (
	"github.com/google/btree"
	"github.com/sirupsen/logrus"

	"github.com/irctrakz/arqlink/pkg/logging"
)

// Output receives every datagram the engine emits. p is only valid for the
// duration of the call; implementations that queue it must copy. Delivery is
// fire-and-forget: failures are the transport's to report.
type Output interface {
	Output(p []byte)
}

// OutputFunc adapts a function to Output.
type OutputFunc func(p []byte)

// Output calls f(p).
func (f OutputFunc) Output(p []byte) { f(p) }

type ackItem struct {
	sn uint32
	ts uint32
}

// KCP is the control block of one connection.
type KCP struct {
	conv, mtu, mss uint32
	dead           bool
	released       bool

	sndUna, sndNxt, rcvNxt uint32
	ssthresh               uint32
	rxRttval, rxSrtt       int32
	rxRto, rxMinrto        int32

	sndWnd, rcvWnd, rmtWnd, cwnd uint32
	incr                         uint32
	probe                        uint32
	tsProbe, probeWait           uint32

	current, interval, tsFlush uint32
	updated                    bool
	xmit                       uint32
	deadLink                   uint32

	nodelay    uint32
	fastresend uint32
	fastlimit  uint32
	nocwnd     bool
	stream     bool
	queueLimit int

	sndQueue segQueue
	sndBuf   segQueue
	rcvQueue segQueue
	rcvBuf   *btree.BTreeG[*segment]

	acklist []ackItem
	buffer  []byte
	output  Output

	logmask uint32
	log     *logrus.Entry

	counters counters
}

// New creates a control block for conversation conv. Both peers must use
// the same conv.
func New(conv uint32, out Output) *KCP {
	k := &KCP{
		conv:       conv,
		cwnd:       1,
		sndWnd:     WndSnd,
		rcvWnd:     WndRcv,
		rmtWnd:     WndRcv,
		rxRto:      rtoDefault,
		rxMinrto:   rtoMin,
		interval:   intervalDefault,
		tsFlush:    intervalDefault,
		ssthresh:   threshInit,
		fastlimit:  fastAckLimit,
		deadLink:   deadLinkDefault,
		queueLimit: DefaultQueueLimit,
		output:     out,
		log:        logging.ForConv(conv),
	}
	k.rcvBuf = btree.NewG[*segment](8, func(a, b *segment) bool {
		return timediff(a.sn, b.sn) < 0
	})
	k.setMTU(MTUDefault)
	k.incr = k.mss
	return k
}

// Release drops every queued and buffered segment. Later calls on k report
// ErrReleased.
func (k *KCP) Release() {
	if k.released {
		return
	}
	k.sndQueue.clear()
	k.sndBuf.clear()
	k.rcvQueue.clear()
	k.rcvBuf.Ascend(func(s *segment) bool {
		s.release()
		return true
	})
	k.rcvBuf.Clear(false)
	k.acklist = nil
	k.buffer = nil
	k.released = true
}

func (k *KCP) setMTU(mtu int) {
	k.mtu = uint32(mtu)
	k.mss = k.mtu - Overhead
	size := (mtu + Overhead) * 3
	// Segments queued before an mtu reduction keep their old size and are
	// sent alone in a datagram that may exceed the new mtu.
	if n := Overhead + k.largestSegment(); n > size {
		size = n
	}
	k.buffer = make([]byte, size)
}

// largestSegment is the biggest payload waiting in the send queue or buffer.
func (k *KCP) largestSegment() int {
	largest := 0
	for _, q := range []*segQueue{&k.sndQueue, &k.sndBuf} {
		for _, s := range q.items {
			if len(s.data) > largest {
				largest = len(s.data)
			}
		}
	}
	return largest
}

// SetMTU changes the datagram size. The segment size becomes mtu-Overhead.
func (k *KCP) SetMTU(mtu int) error {
	if mtu < 50 || mtu < Overhead {
		return ErrInvalidMTU
	}
	k.setMTU(mtu)
	return nil
}

// SetWindow sets the send and receive windows in segments. Non-positive
// values keep the current setting. The receive window never drops below
// WndRcv and never exceeds what the 16-bit wnd field can advertise.
func (k *KCP) SetWindow(sndwnd, rcvwnd int) {
	if sndwnd > 0 {
		k.sndWnd = uint32(sndwnd)
	}
	if rcvwnd > 0 {
		w := max32(uint32(rcvwnd), WndRcv)
		k.rcvWnd = min32(w, maxWnd)
	}
}

// SetNoDelay tunes latency behaviour. Negative arguments keep the current
// setting.
//
//	nodelay   0 normal RTO backoff, 1 gentle backoff and a 30ms RTO floor
//	interval  flush period in ms, clamped to [10, 5000]
//	resend    fast retransmit after this many skipping acks, 0 disables
//	nc        1 disables congestion window gating
func (k *KCP) SetNoDelay(nodelay, interval, resend, nc int) {
	if nodelay >= 0 {
		k.nodelay = uint32(nodelay)
		if nodelay != 0 {
			k.rxMinrto = rtoNoDelay
		} else {
			k.rxMinrto = rtoMin
		}
	}
	if interval >= 0 {
		if interval > 5000 {
			interval = 5000
		} else if interval < 10 {
			interval = 10
		}
		k.interval = uint32(interval)
	}
	if resend >= 0 {
		k.fastresend = uint32(resend)
	}
	if nc >= 0 {
		k.nocwnd = nc != 0
	}
}

// SetMinRTO overrides the retransmission timeout floor.
func (k *KCP) SetMinRTO(ms int) {
	if ms > 0 {
		k.rxMinrto = int32(ms)
	}
}

// SetDeadLink sets how many transmissions of one segment mark the link dead.
func (k *KCP) SetDeadLink(n int) {
	if n > 0 {
		k.deadLink = uint32(n)
	}
}

// SetStreamMode switches between message mode (default) and stream mode,
// where writes are coalesced and Recv returns whatever is contiguous.
func (k *KCP) SetStreamMode(on bool) { k.stream = on }

// SetFastLimit caps fast retransmissions of a segment by its transmission
// count; 0 removes the cap.
func (k *KCP) SetFastLimit(n int) {
	if n >= 0 {
		k.fastlimit = uint32(n)
	}
}

// SetQueueLimit bounds the unsent queue in segments; 0 removes the bound.
func (k *KCP) SetQueueLimit(n int) {
	if n >= 0 {
		k.queueLimit = n
	}
}

// SetLogMask selects which events are logged at debug level.
func (k *KCP) SetLogMask(mask uint32) { k.logmask = mask }

func (k *KCP) canLog(mask uint32) bool {
	return k.logmask&mask != 0 && logging.IsLevelEnabled(logging.DebugLevel)
}

// Conv returns the conversation id.
func (k *KCP) Conv() uint32 { return k.conv }

// MTU returns the datagram size.
func (k *KCP) MTU() int { return int(k.mtu) }

// MSS returns the maximum payload per segment.
func (k *KCP) MSS() int { return int(k.mss) }

// SndWnd returns the local send window.
func (k *KCP) SndWnd() int { return int(k.sndWnd) }

// RcvWnd returns the local receive window.
func (k *KCP) RcvWnd() int { return int(k.rcvWnd) }

// RmtWnd returns the window last advertised by the peer.
func (k *KCP) RmtWnd() int { return int(k.rmtWnd) }

// Cwnd returns the congestion window.
func (k *KCP) Cwnd() int { return int(k.cwnd) }

// MinRTO returns the retransmission timeout floor.
func (k *KCP) MinRTO() int { return int(k.rxMinrto) }

// Interval returns the flush period.
func (k *KCP) Interval() int { return int(k.interval) }

// WaitSnd is the number of segments queued or in flight.
func (k *KCP) WaitSnd() int { return k.sndBuf.Len() + k.sndQueue.Len() }

// Dead reports whether the dead-link threshold was crossed.
func (k *KCP) Dead() bool { return k.dead }

// wndUnused is the number of free receive-queue slots, the value advertised
// in every outgoing wnd field.
func (k *KCP) wndUnused() uint16 {
	if n := k.rcvQueue.Len(); n < int(k.rcvWnd) {
		return uint16(int(k.rcvWnd) - n)
	}
	return 0
}

// effectiveWindow is min(snd_wnd, rmt_wnd, cwnd), without cwnd when
// congestion control is off.
func (k *KCP) effectiveWindow() uint32 {
	w := min32(k.sndWnd, k.rmtWnd)
	if !k.nocwnd {
		w = min32(k.cwnd, w)
	}
	return w
}
