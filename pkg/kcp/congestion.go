package kcp

// Congestion window, counted in segments. incr is the byte-granularity
// accumulator behind it: slow start adds one mss per advance of snd_una,
// congestion avoidance adds roughly mss*mss/incr, so cwnd grows by about
// one segment per round trip.

// growCwnd runs when snd_una advanced and cwnd is below the peer's window.
func (k *KCP) growCwnd() {
	mss := k.mss
	if k.cwnd < k.ssthresh {
		k.cwnd++
		k.incr += mss
	} else {
		if k.incr < mss {
			k.incr = mss
		}
		k.incr += mss*mss/k.incr + mss/16
		if (k.cwnd+1)*mss <= k.incr {
			k.cwnd = (k.incr + mss - 1) / mss
		}
	}
	if k.cwnd > k.rmtWnd {
		k.cwnd = k.rmtWnd
		k.incr = k.rmtWnd * mss
	}
}

// onFastRetransmit enters recovery: ssthresh is half of what is in flight
// and cwnd is inflated by the resend threshold.
func (k *KCP) onFastRetransmit(resent uint32) {
	inflight := k.sndNxt - k.sndUna
	k.ssthresh = inflight / 2
	if k.ssthresh < threshMin {
		k.ssthresh = threshMin
	}
	k.cwnd = k.ssthresh + resent
	k.incr = k.cwnd * k.mss
}

// onTimeout collapses cwnd to one segment. window is the effective window
// used by the flush that saw the loss.
func (k *KCP) onTimeout(window uint32) {
	k.ssthresh = window / 2
	if k.ssthresh < threshMin {
		k.ssthresh = threshMin
	}
	k.cwnd = 1
	k.incr = k.mss
}

func (k *KCP) floorCwnd() {
	if k.cwnd < 1 {
		k.cwnd = 1
		k.incr = k.mss
	}
}
