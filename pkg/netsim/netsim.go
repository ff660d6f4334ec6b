// Package netsim is a deterministic, virtual-time model of an unreliable
// datagram channel. It loses, duplicates, delays and reorders datagrams
// according to a seeded random source, so engine tests and the simulator
// are reproducible.
package netsim

import (
	"container/heap"
	"math/rand"
	"sync"
)

// Config describes one direction of a link.
type Config struct {
	Seed int64
	// LossRate is the probability in [0,1] that a datagram is dropped.
	LossRate float64
	// DropEvery drops every Nth datagram sent; 0 disables it.
	DropEvery int
	// DupRate is the probability that a surviving datagram is delivered twice.
	DupRate float64
	// Delay is the base one-way latency in ms.
	Delay uint32
	// Jitter adds a uniform [0, Jitter] ms to each datagram, which reorders them.
	Jitter uint32
	// Drop, when set, is consulted for every datagram before the random
	// model. Returning true drops it. n counts datagrams from 1.
	Drop func(n int, p []byte) bool
}

// Stats counts what a pipe did.
type Stats struct {
	Sent       int
	Dropped    int
	Duplicated int
	Delivered  int
}

type datagram struct {
	at   uint32
	seq  uint64
	data []byte
}

type queue []datagram

func (q queue) Len() int { return len(q) }
func (q queue) Less(i, j int) bool {
	if d := int32(q[i].at - q[j].at); d != 0 {
		return d < 0
	}
	return q[i].seq < q[j].seq
}
func (q queue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *queue) Push(x any)   { *q = append(*q, x.(datagram)) }
func (q *queue) Pop() any {
	old := *q
	d := old[len(old)-1]
	old[len(old)-1] = datagram{}
	*q = old[:len(old)-1]
	return d
}

// Pipe is one direction of a simulated link.
type Pipe struct {
	mu      sync.Mutex
	cfg     Config
	rng     *rand.Rand
	pending queue
	seq     uint64
	stats   Stats
}

// NewPipe returns an empty pipe.
func NewPipe(cfg Config) *Pipe {
	return &Pipe{cfg: cfg, rng: rand.New(rand.NewSource(cfg.Seed))}
}

// Send offers a datagram to the pipe at virtual time now. p is copied.
func (p *Pipe) Send(now uint32, data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.Sent++
	n := p.stats.Sent
	if p.cfg.Drop != nil && p.cfg.Drop(n, data) {
		p.stats.Dropped++
		return
	}
	if p.cfg.DropEvery > 0 && n%p.cfg.DropEvery == 0 {
		p.stats.Dropped++
		return
	}
	if p.cfg.LossRate > 0 && p.rng.Float64() < p.cfg.LossRate {
		p.stats.Dropped++
		return
	}
	p.enqueue(now, data)
	if p.cfg.DupRate > 0 && p.rng.Float64() < p.cfg.DupRate {
		p.stats.Duplicated++
		p.enqueue(now, data)
	}
}

func (p *Pipe) enqueue(now uint32, data []byte) {
	at := now + p.cfg.Delay
	if p.cfg.Jitter > 0 {
		at += uint32(p.rng.Int63n(int64(p.cfg.Jitter) + 1))
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	p.seq++
	heap.Push(&p.pending, datagram{at: at, seq: p.seq, data: buf})
}

// Deliver hands every datagram due at or before now to fn, earliest first,
// and returns how many it delivered. fn may call Send on any pipe.
func (p *Pipe) Deliver(now uint32, fn func(data []byte)) int {
	delivered := 0
	for {
		p.mu.Lock()
		if p.pending.Len() == 0 || int32(p.pending[0].at-now) > 0 {
			p.mu.Unlock()
			return delivered
		}
		d := heap.Pop(&p.pending).(datagram)
		p.stats.Delivered++
		p.mu.Unlock()

		fn(d.data)
		delivered++
	}
}

// InFlight is the number of datagrams not yet delivered.
func (p *Pipe) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending.Len()
}

// Stats returns the pipe's counters.
func (p *Pipe) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Link is a pair of pipes, AtoB and BtoA.
type Link struct {
	AtoB *Pipe
	BtoA *Pipe
}

// NewLink builds a link with independent models per direction. The second
// direction's seed is offset so the two do not drop in lockstep.
func NewLink(ab, ba Config) *Link {
	if ba.Seed == ab.Seed {
		ba.Seed = ab.Seed + 1
	}
	return &Link{AtoB: NewPipe(ab), BtoA: NewPipe(ba)}
}

// Symmetric builds a link whose directions share cfg apart from the seed.
func Symmetric(cfg Config) *Link { return NewLink(cfg, cfg) }
