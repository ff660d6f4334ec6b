package kcp

// Update advances the engine clock to now (ms, any epoch, wrapping) and
// flushes when the interval has elapsed. Calling it more often than needed
// is harmless.
func (k *KCP) Update(now uint32) {
	k.current = now
	if !k.updated {
		k.updated = true
		k.tsFlush = now
	}

	slap := timediff(now, k.tsFlush)
	if slap >= 10000 || slap < -10000 {
		k.tsFlush = now
		slap = 0
	}
	if slap >= 0 {
		k.tsFlush += k.interval
		if timediff(now, k.tsFlush) >= 0 {
			k.tsFlush = now + k.interval
		}
		k.Flush()
	}
}

// Check returns when Update next needs to run: now if something is already
// due, otherwise the earliest of the next flush, the earliest retransmit
// deadline and the probe deadline, never more than one interval ahead.
func (k *KCP) Check(now uint32) uint32 {
	if !k.updated {
		return now
	}
	tsFlush := k.tsFlush
	if d := timediff(now, tsFlush); d >= 10000 || d < -10000 {
		tsFlush = now
	}
	if timediff(now, tsFlush) >= 0 {
		return now
	}

	minimal := timediff(tsFlush, now)
	for _, s := range k.sndBuf.items {
		d := timediff(s.resendts, now)
		if d <= 0 {
			return now
		}
		if d < minimal {
			minimal = d
		}
	}
	if k.rmtWnd == 0 && k.probeWait != 0 {
		d := timediff(k.tsProbe, now)
		if d <= 0 {
			return now
		}
		if d < minimal {
			minimal = d
		}
	}
	if iv := int32(k.interval); minimal > iv {
		minimal = iv
	}
	return now + uint32(minimal)
}
