package kcp

// timediff is later-earlier in wraparound-aware 32-bit arithmetic. It is
// used for both sequence numbers and millisecond timestamps: a positive
// result means later is ahead of earlier.
func timediff(later, earlier uint32) int32 {
	return int32(later - earlier)
}

func min32(a, b uint32) uint32 {
	if a <= b {
		return a
	}
	return b
}

func max32(a, b uint32) uint32 {
	if a >= b {
		return a
	}
	return b
}

func bound(lower, middle, upper int32) int32 {
	if middle < lower {
		return lower
	}
	if middle > upper {
		return upper
	}
	return middle
}
