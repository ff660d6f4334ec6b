package kcp

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/irctrakz/arqlink/pkg/netsim"
)

// pair is two engines joined by a simulated link, driven in virtual time.
type pair struct {
	t    *testing.T
	a, b *KCP
	link *netsim.Link
	now  uint32
}

func newPair(t *testing.T, ab, ba netsim.Config, configure func(k *KCP)) *pair {
	t.Helper()
	p := &pair{t: t, link: netsim.NewLink(ab, ba)}
	p.a = New(0x1, OutputFunc(func(d []byte) { p.link.AtoB.Send(p.now, d) }))
	p.b = New(0x1, OutputFunc(func(d []byte) { p.link.BtoA.Send(p.now, d) }))
	if configure != nil {
		configure(p.a)
		configure(p.b)
	}
	t.Cleanup(func() {
		p.a.Release()
		p.b.Release()
	})
	return p
}

func fast(k *KCP) {
	k.SetNoDelay(1, 10, 2, 1)
	k.SetWindow(128, 128)
}

// deliver feeds every due datagram to its receiver.
func (p *pair) deliver() {
	p.link.AtoB.Deliver(p.now, func(d []byte) { require.NoError(p.t, p.b.Input(d)) })
	p.link.BtoA.Deliver(p.now, func(d []byte) { require.NoError(p.t, p.a.Input(d)) })
}

// step advances the clock by ms, delivers and ticks both engines.
func (p *pair) step(ms uint32) {
	p.now += ms
	p.deliver()
	p.a.Update(p.now)
	p.b.Update(p.now)
}

// drain reads every ready message from k.
func drain(t *testing.T, k *KCP) [][]byte {
	t.Helper()
	var out [][]byte
	buf := make([]byte, 1<<20)
	for {
		n, err := k.Recv(buf)
		if err == ErrAgain {
			return out
		}
		require.NoError(t, err)
		out = append(out, append([]byte(nil), buf[:n]...))
	}
}

// transfer sends msgs from a to b and runs until b has all of them or the
// deadline (virtual ms) passes.
func (p *pair) transfer(msgs [][]byte, deadline uint32) [][]byte {
	p.t.Helper()
	pending := msgs
	var got [][]byte
	for p.now < deadline && len(got) < len(msgs) {
		for len(pending) > 0 {
			if _, err := p.a.Send(pending[0]); err != nil {
				require.ErrorIs(p.t, err, ErrWindowFull)
				break
			}
			pending = pending[1:]
		}
		p.step(1)
		got = append(got, drain(p.t, p.b)...)
	}
	return got
}

func messages(n int, size func(i int) int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		m := bytes.Repeat([]byte(fmt.Sprintf("%04d:", i)), size(i)/5+1)
		out[i] = m[:size(i)]
	}
	return out
}

// segments splits a datagram into decoded headers.
func segments(d []byte) []header {
	var hs []header
	for len(d) >= Overhead {
		h := decodeHeader(d)
		hs = append(hs, h)
		d = d[Overhead+int(h.length):]
	}
	return hs
}
