package kcp

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Input feeds one received datagram to the engine. A datagram may carry
// several concatenated segments.
//
// The whole datagram is validated before any segment is applied: a short
// header, a length running past the end, a foreign conv or an unknown
// command rejects it with no state change. Out-of-window and duplicate data
// segments are not errors; they are acknowledged or dropped silently.
func (k *KCP) Input(data []byte) error {
	if k.released {
		return ErrReleased
	}
	if k.dead {
		return ErrDeadLink
	}
	if err := k.validate(data); err != nil {
		k.counters.inErrors++
		if k.canLog(LogInput) {
			k.log.WithError(err).WithField("bytes", len(data)).Debug("input rejected")
		}
		return err
	}
	k.counters.inPackets++
	k.counters.inBytes += uint64(len(data))
	if k.canLog(LogInput) {
		k.log.WithField("bytes", len(data)).Debug("input")
	}

	prevUna := k.sndUna
	var maxack uint32
	acked := false

	for len(data) >= Overhead {
		h := decodeHeader(data)
		payload := data[Overhead : Overhead+int(h.length)]
		data = data[Overhead+int(h.length):]
		k.counters.inSegs++

		k.rmtWnd = uint32(h.wnd)
		k.parseUna(h.una)
		k.shrinkBuf()

		switch h.cmd {
		case cmdAck:
			if timediff(k.current, h.ts) >= 0 {
				k.updateAck(timediff(k.current, h.ts))
			}
			k.parseAck(h.sn)
			k.shrinkBuf()
			if !acked {
				acked = true
				maxack = h.sn
			} else if timediff(h.sn, maxack) > 0 {
				maxack = h.sn
			}
			if k.canLog(LogInAck) {
				k.log.WithFields(logrus.Fields{"sn": h.sn, "rtt": timediff(k.current, h.ts), "rto": k.rxRto}).Debug("input ack")
			}

		case cmdPush:
			if k.canLog(LogInData) {
				k.log.WithFields(logrus.Fields{"sn": h.sn, "ts": h.ts, "frg": h.frg, "len": h.length}).Debug("input push")
			}
			if timediff(h.sn, k.rcvNxt+k.rcvWnd) >= 0 {
				k.counters.dropWindow++
				break
			}
			k.ackPush(h.sn, h.ts)
			if timediff(h.sn, k.rcvNxt) < 0 {
				k.counters.dupSegs++
				break
			}
			s := newSegment(len(payload))
			copy(s.data, payload)
			s.conv, s.cmd, s.frg, s.wnd = h.conv, h.cmd, h.frg, h.wnd
			s.ts, s.sn, s.una = h.ts, h.sn, h.una
			k.insertRcvBuf(s)

		case cmdWask:
			// Answered with a WINS on the next flush.
			k.probe |= askTell
			if k.canLog(LogInProbe) {
				k.log.Debug("input probe")
			}

		case cmdWins:
			if k.canLog(LogInWins) {
				k.log.WithField("wnd", h.wnd).Debug("input wins")
			}
		}
	}

	if acked {
		k.parseFastack(maxack)
	}

	if timediff(k.sndUna, prevUna) > 0 && k.cwnd < k.rmtWnd {
		k.growCwnd()
	}
	return nil
}

// validate walks every segment header without touching state.
func (k *KCP) validate(data []byte) error {
	if len(data) < Overhead {
		return fmt.Errorf("%w: %d bytes", ErrTruncated, len(data))
	}
	for len(data) > 0 {
		if len(data) < Overhead {
			return fmt.Errorf("%w: %d trailing bytes", ErrTruncated, len(data))
		}
		h := decodeHeader(data)
		if h.conv != k.conv {
			return fmt.Errorf("%w: got %#x, want %#x", ErrConvMismatch, h.conv, k.conv)
		}
		if uint64(h.length) > uint64(len(data)-Overhead) {
			return fmt.Errorf("%w: length %d exceeds %d remaining", ErrTruncated, h.length, len(data)-Overhead)
		}
		if !validCommand(h.cmd) {
			return fmt.Errorf("%w: %d", ErrUnknownCommand, h.cmd)
		}
		data = data[Overhead+int(h.length):]
	}
	return nil
}

// parseUna drops every in-flight segment below the peer's cumulative ack.
func (k *KCP) parseUna(una uint32) {
	n := 0
	for _, s := range k.sndBuf.items {
		if timediff(una, s.sn) <= 0 {
			break
		}
		n++
	}
	for i := 0; i < n; i++ {
		k.sndBuf.popFront().release()
	}
}

// parseAck removes the one segment a selective ack names.
func (k *KCP) parseAck(sn uint32) {
	if timediff(sn, k.sndUna) < 0 || timediff(sn, k.sndNxt) >= 0 {
		return
	}
	for i, s := range k.sndBuf.items {
		if s.sn == sn {
			k.sndBuf.removeAt(i).release()
			return
		}
		if timediff(sn, s.sn) < 0 {
			return
		}
	}
}

// parseFastack counts, for every in-flight segment below maxack, one more
// ack that skipped it.
func (k *KCP) parseFastack(maxack uint32) {
	if timediff(maxack, k.sndUna) < 0 || timediff(maxack, k.sndNxt) >= 0 {
		return
	}
	for _, s := range k.sndBuf.items {
		if timediff(maxack, s.sn) < 0 {
			break
		}
		if s.sn != maxack {
			s.fastack++
		}
	}
}

// shrinkBuf recomputes snd_una from the head of the send buffer.
func (k *KCP) shrinkBuf() {
	if k.sndBuf.Len() > 0 {
		k.sndUna = k.sndBuf.front().sn
	} else {
		k.sndUna = k.sndNxt
	}
}

func (k *KCP) ackPush(sn, ts uint32) {
	k.acklist = append(k.acklist, ackItem{sn: sn, ts: ts})
}
