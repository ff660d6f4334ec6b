// Package pktpool hands out reusable byte buffers for segment payloads and
// datagrams. Pooling is opt-in via POOLING=1; without it Get allocates.
package pktpool

import (
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

// Tier capacities. A buffer is only returned to a pool when its capacity
// matches one of these exactly. Small holds one full segment at the default
// 1400-byte MTU.
const (
	Small  = 2048
	Medium = 4096
	Large  = 8192
	XL     = 16384
)

var tiers = [...]int{Small, Medium, Large, XL}

var pools [len(tiers)]sync.Pool

var enabled uint32

func init() {
	for i := range pools {
		size := tiers[i]
		pools[i].New = func() any {
			b := make([]byte, size)
			return &b
		}
	}
	v := strings.ToLower(strings.TrimSpace(os.Getenv("POOLING")))
	if v == "1" || v == "true" || v == "yes" || v == "on" {
		atomic.StoreUint32(&enabled, 1)
	}
}

// SetEnabled toggles pooling at runtime.
func SetEnabled(on bool) {
	var v uint32
	if on {
		v = 1
	}
	atomic.StoreUint32(&enabled, v)
}

// Enabled reports whether Get draws from the pools.
func Enabled() bool { return atomic.LoadUint32(&enabled) == 1 }

// tierFor is the smallest tier holding n bytes, or -1.
func tierFor(n int) int {
	for i, size := range tiers {
		if n <= size {
			return i
		}
	}
	return -1
}

// tierOf is the tier whose capacity is exactly c, or -1.
func tierOf(c int) int {
	for i, size := range tiers {
		if c == size {
			return i
		}
	}
	return -1
}

// Get returns a buffer of length n.
func Get(n int) []byte {
	if !Enabled() {
		return make([]byte, n)
	}
	i := tierFor(n)
	if i < 0 {
		return make([]byte, n)
	}
	return (*pools[i].Get().(*[]byte))[:n]
}

// Put returns b to its tier. Buffers of foreign capacity are dropped.
func Put(b []byte) {
	if i := tierOf(cap(b)); i >= 0 {
		bb := b[:cap(b)]
		pools[i].Put(&bb)
	}
}

// ShouldPut reports whether b originated from one of the pools.
func ShouldPut(b []byte) bool { return tierOf(cap(b)) >= 0 }

// Release returns b to the pools when pooling is on and b came from them.
func Release(b []byte) {
	if Enabled() && ShouldPut(b) {
		Put(b)
	}
}

// Grow returns b resized to n bytes, keeping its contents. It reslices in
// place when capacity allows, which is the common case for a stream-mode
// tail segment sitting in a Small buffer; otherwise it moves the data to a
// new buffer and releases b.
func Grow(b []byte, n int) []byte {
	if n <= cap(b) {
		return b[:n]
	}
	nb := Get(n)
	copy(nb, b)
	Release(b)
	return nb
}
