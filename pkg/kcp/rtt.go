package kcp

// updateAck folds one round-trip sample (ms) into srtt/rttval and derives
// rx_rto, clamped to [rx_minrto, rtoMax]. Samples are capped at rtoMax so a
// forged echo timestamp cannot overflow the averages.
func (k *KCP) updateAck(rtt int32) {
	k.counters.rttSamples++
	if rtt > rtoMax {
		rtt = rtoMax
	}
	if k.rxSrtt == 0 {
		k.rxSrtt = rtt
		k.rxRttval = rtt / 2
	} else {
		delta := rtt - k.rxSrtt
		if delta < 0 {
			delta = -delta
		}
		k.rxRttval = (3*k.rxRttval + delta) / 4
		k.rxSrtt = (7*k.rxSrtt + rtt) / 8
		if k.rxSrtt < 1 {
			k.rxSrtt = 1
		}
	}
	varTerm := 4 * k.rxRttval
	if iv := int32(k.interval); varTerm < iv {
		varTerm = iv
	}
	k.rxRto = bound(k.rxMinrto, k.rxSrtt+varTerm, rtoMax)
}
