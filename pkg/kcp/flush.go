package kcp

import "github.com/sirupsen/logrus"

// Flush emits pending acks, window probes, new data and retransmissions.
// It does nothing before the first Update, and nothing once the link is
// dead. Update calls it on schedule; calling it directly pushes out data
// queued since the last tick without waiting for the interval.
func (k *KCP) Flush() {
	if !k.updated || k.dead || k.released {
		return
	}
	current := k.current
	buf := k.buffer
	ptr := 0

	emit := func() {
		if ptr == 0 {
			return
		}
		k.counters.outPackets++
		k.counters.outBytes += uint64(ptr)
		if k.canLog(LogOutput) {
			k.log.WithField("bytes", ptr).Debug("output")
		}
		k.output.Output(buf[:ptr])
		ptr = 0
	}
	reserve := func(n int) {
		if ptr+n > int(k.mtu) {
			emit()
		}
	}

	ctl := segment{
		conv: k.conv,
		cmd:  cmdAck,
		wnd:  k.wndUnused(),
		una:  k.rcvNxt,
	}

	for _, a := range k.acklist {
		reserve(Overhead)
		ctl.sn, ctl.ts = a.sn, a.ts
		ctl.encode(buf[ptr:])
		ptr += Overhead
		k.counters.outSegs++
		if k.canLog(LogOutAck) {
			k.log.WithFields(logrus.Fields{"sn": a.sn, "ts": a.ts}).Debug("output ack")
		}
	}
	k.acklist = k.acklist[:0]
	ctl.sn, ctl.ts = 0, 0

	k.updateProbe(current)
	if k.probe&askSend != 0 {
		ctl.cmd = cmdWask
		reserve(Overhead)
		ctl.encode(buf[ptr:])
		ptr += Overhead
		k.counters.outSegs++
		if k.canLog(LogOutProbe) {
			k.log.WithField("wait", k.probeWait).Debug("output probe")
		}
	}
	if k.probe&askTell != 0 {
		ctl.cmd = cmdWins
		reserve(Overhead)
		ctl.encode(buf[ptr:])
		ptr += Overhead
		k.counters.outSegs++
		if k.canLog(LogOutWins) {
			k.log.WithField("wnd", ctl.wnd).Debug("output wins")
		}
	}
	k.probe = 0

	window := k.effectiveWindow()

	for timediff(k.sndNxt, k.sndUna+window) < 0 && k.sndQueue.Len() > 0 {
		s := k.sndQueue.popFront()
		s.conv = k.conv
		s.cmd = cmdPush
		s.wnd = ctl.wnd
		s.ts = current
		s.sn = k.sndNxt
		s.una = k.rcvNxt
		s.resendts = current
		s.rto = uint32(k.rxRto)
		s.fastack = 0
		s.xmit = 0
		k.sndNxt++
		k.sndBuf.push(s)
	}

	resent := k.fastresend
	if resent == 0 {
		resent = 0xffffffff
	}
	var rtomin uint32
	if k.nodelay == 0 {
		rtomin = uint32(k.rxRto >> 3)
	}

	lost, change := false, false
	for _, s := range k.sndBuf.items {
		send := false
		switch {
		case s.xmit == 0:
			send = true
			s.xmit++
			s.rto = uint32(k.rxRto)
			s.resendts = current + s.rto + rtomin
		case timediff(current, s.resendts) >= 0:
			send = true
			s.xmit++
			k.xmit++
			switch {
			case k.nodelay == 0:
				s.rto += max32(s.rto, uint32(k.rxRto))
			case k.nodelay < 2:
				s.rto += s.rto / 2
			default:
				s.rto += uint32(k.rxRto) / 2
			}
			s.resendts = current + s.rto
			lost = true
			k.counters.retransSegs++
			k.counters.lostEvents++
		case s.fastack >= resent:
			if s.xmit <= k.fastlimit || k.fastlimit == 0 {
				send = true
				s.xmit++
				s.fastack = 0
				s.resendts = current + s.rto
				change = true
				k.counters.retransSegs++
				k.counters.fastRetrans++
			}
		}
		if !send {
			continue
		}

		s.ts = current
		s.wnd = ctl.wnd
		s.una = k.rcvNxt
		reserve(Overhead + len(s.data))
		rest := s.encode(buf[ptr:])
		copy(rest, s.data)
		ptr += Overhead + len(s.data)
		k.counters.outSegs++
		if k.canLog(LogOutData) {
			k.log.WithFields(logrus.Fields{"sn": s.sn, "frg": s.frg, "xmit": s.xmit, "rto": s.rto}).Debug("output push")
		}

		if s.xmit >= k.deadLink && !k.dead {
			k.dead = true
			k.log.WithFields(logrus.Fields{"sn": s.sn, "xmit": s.xmit}).Warn("dead link")
		}
	}
	emit()

	if change {
		k.onFastRetransmit(resent)
	}
	if lost {
		k.onTimeout(window)
	}
	k.floorCwnd()
}

// updateProbe runs the zero-window probe timer: the first wait is probeInit
// and each further wait grows by half, capped at probeLimit.
func (k *KCP) updateProbe(current uint32) {
	if k.rmtWnd != 0 {
		k.tsProbe = 0
		k.probeWait = 0
		return
	}
	if k.probeWait == 0 {
		k.probeWait = probeInit
		k.tsProbe = current + k.probeWait
		return
	}
	if timediff(current, k.tsProbe) >= 0 {
		if k.probeWait < probeInit {
			k.probeWait = probeInit
		}
		k.probeWait += k.probeWait / 2
		if k.probeWait > probeLimit {
			k.probeWait = probeLimit
		}
		k.tsProbe = current + k.probeWait
		k.probe |= askSend
	}
}
