package kcp

// counters accumulate over the life of a control block.
type counters struct {
	outPackets  uint64
	outBytes    uint64
	inPackets   uint64
	inBytes     uint64
	inErrors    uint64
	outSegs     uint64
	inSegs      uint64
	retransSegs uint64
	fastRetrans uint64
	lostEvents  uint64
	dupSegs     uint64
	dropWindow  uint64
	rttSamples  uint64
}

// Stats is a point-in-time view of a control block.
type Stats struct {
	SndUna, SndNxt, RcvNxt uint32

	SndQueue, SndBuf, RcvQueue, RcvBuf int

	Cwnd, Ssthresh, RmtWnd uint32

	SRTT, RTTVar, RTO int32

	// Xmit counts timeout-driven retransmissions.
	Xmit uint32
	Dead bool

	OutPackets, OutBytes uint64
	InPackets, InBytes   uint64
	InErrors             uint64
	OutSegs, InSegs      uint64
	RetransSegs          uint64
	FastRetransSegs      uint64
	LostEvents           uint64
	DupSegs              uint64
	OutOfWindowSegs      uint64
	RTTSamples           uint64
}

// Stats returns a snapshot.
func (k *KCP) Stats() Stats {
	c := k.counters
	st := Stats{
		SndUna:          k.sndUna,
		SndNxt:          k.sndNxt,
		RcvNxt:          k.rcvNxt,
		SndQueue:        k.sndQueue.Len(),
		SndBuf:          k.sndBuf.Len(),
		RcvQueue:        k.rcvQueue.Len(),
		Cwnd:            k.cwnd,
		Ssthresh:        k.ssthresh,
		RmtWnd:          k.rmtWnd,
		SRTT:            k.rxSrtt,
		RTTVar:          k.rxRttval,
		RTO:             k.rxRto,
		Xmit:            k.xmit,
		Dead:            k.dead,
		OutPackets:      c.outPackets,
		OutBytes:        c.outBytes,
		InPackets:       c.inPackets,
		InBytes:         c.inBytes,
		InErrors:        c.inErrors,
		OutSegs:         c.outSegs,
		InSegs:          c.inSegs,
		RetransSegs:     c.retransSegs,
		FastRetransSegs: c.fastRetrans,
		LostEvents:      c.lostEvents,
		DupSegs:         c.dupSegs,
		OutOfWindowSegs: c.dropWindow,
		RTTSamples:      c.rttSamples,
	}
	if k.rcvBuf != nil {
		st.RcvBuf = k.rcvBuf.Len()
	}
	return st
}
