package kcp

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irctrakz/arqlink/pkg/netsim"
)

func TestDefaults(t *testing.T) {
	k := New(7, OutputFunc(func([]byte) {}))
	defer k.Release()

	assert.Equal(t, uint32(7), k.Conv())
	assert.Equal(t, 1400, k.MTU())
	assert.Equal(t, 1376, k.MSS())
	assert.Equal(t, 32, k.SndWnd())
	assert.Equal(t, 32, k.RcvWnd())
	assert.Equal(t, 32, k.RmtWnd())
	assert.Equal(t, 100, k.MinRTO())
	assert.Equal(t, 100, k.Interval())
	assert.Equal(t, 0, k.WaitSnd())
	assert.False(t, k.Dead())
}

func TestConfigure(t *testing.T) {
	k := New(1, OutputFunc(func([]byte) {}))
	defer k.Release()

	assert.ErrorIs(t, k.SetMTU(20), ErrInvalidMTU)
	require.NoError(t, k.SetMTU(500))
	assert.Equal(t, 476, k.MSS())

	k.SetWindow(64, 8)
	assert.Equal(t, 64, k.SndWnd())
	assert.Equal(t, WndRcv, k.RcvWnd(), "receive window has a floor")
	k.SetWindow(0, 1<<20)
	assert.Equal(t, 64, k.SndWnd())
	assert.Equal(t, 0xffff, k.RcvWnd())

	k.SetNoDelay(1, 1, 2, 1)
	assert.Equal(t, 10, k.Interval())
	assert.Equal(t, rtoNoDelay, k.MinRTO())
	k.SetNoDelay(-1, 9000, -1, -1)
	assert.Equal(t, 5000, k.Interval())
	assert.Equal(t, rtoNoDelay, k.MinRTO())
	k.SetNoDelay(0, -1, -1, -1)
	assert.Equal(t, rtoMin, k.MinRTO())

	k.SetMinRTO(50)
	assert.Equal(t, 50, k.MinRTO())
}

func TestLosslessDelivery(t *testing.T) {
	p := newPair(t, netsim.Config{Delay: 5}, netsim.Config{Delay: 5}, nil)
	msgs := messages(200, func(i int) int { return 1 + (i*37)%3000 })

	got := p.transfer(msgs, 120000)
	require.Len(t, got, len(msgs))
	for i := range msgs {
		assert.Equal(t, msgs[i], got[i], "message %d", i)
	}
	assert.Zero(t, p.a.Stats().RetransSegs)
}

func TestFiveThousandByteMessage(t *testing.T) {
	p := newPair(t, netsim.Config{}, netsim.Config{}, nil)
	msg := bytes.Repeat([]byte("0123456789"), 500)

	n, err := p.a.Send(msg)
	require.NoError(t, err)
	assert.Equal(t, 5000, n)
	require.Equal(t, 4, p.a.sndQueue.Len())
	for i, s := range p.a.sndQueue.items {
		assert.Equal(t, uint8(3-i), s.frg)
	}

	var size int
	for i := 0; i < 2000; i++ {
		p.step(1)
		if size, err = p.b.PeekSize(); err == nil {
			break
		}
	}
	require.NoError(t, err)
	assert.Equal(t, 5000, size)

	buf := make([]byte, 5000)
	n, err = p.b.Recv(buf)
	require.NoError(t, err)
	assert.Equal(t, msg, buf[:n])

	_, err = p.b.Recv(buf)
	assert.ErrorIs(t, err, ErrAgain)
}

func TestDropEveryNth(t *testing.T) {
	for _, every := range []int{3, 5, 7} {
		p := newPair(t, netsim.Config{Delay: 10, DropEvery: every}, netsim.Config{Delay: 10, DropEvery: every + 1}, fast)
		msgs := messages(300, func(i int) int { return 100 + (i*131)%4000 })

		got := p.transfer(msgs, 600000)
		require.Len(t, got, len(msgs), "drop every %d", every)
		for i := range msgs {
			require.Equal(t, msgs[i], got[i], "drop every %d, message %d", every, i)
		}
		assert.NotZero(t, p.a.Stats().RetransSegs)
	}
}

func TestDuplicateDelivery(t *testing.T) {
	p := newPair(t, netsim.Config{Delay: 3, DupRate: 1}, netsim.Config{Delay: 3, DupRate: 1}, nil)
	msgs := messages(100, func(i int) int { return 10 + i*29 })

	got := p.transfer(msgs, 120000)
	require.Len(t, got, len(msgs))
	for i := range msgs {
		assert.Equal(t, msgs[i], got[i])
	}

	p.step(1000)
	assert.Empty(t, drain(t, p.b))
	assert.NotZero(t, p.b.Stats().DupSegs)
}

func TestLossyReorderingLink(t *testing.T) {
	cfg := netsim.Config{Seed: 99, LossRate: 0.15, DupRate: 0.05, Delay: 20, Jitter: 40}
	p := newPair(t, cfg, cfg, fast)
	msgs := messages(500, func(i int) int { return 1 + (i*977)%6000 })

	got := p.transfer(msgs, 1200000)
	require.Len(t, got, len(msgs))
	for i := range msgs {
		require.Equal(t, msgs[i], got[i], "message %d", i)
	}
}

func TestStreamMode(t *testing.T) {
	stream := func(k *KCP) { k.SetStreamMode(true) }
	p := newPair(t, netsim.Config{Delay: 5, DropEvery: 5}, netsim.Config{Delay: 5}, stream)

	_, err := p.a.Send([]byte("abc"))
	require.NoError(t, err)
	_, err = p.a.Send([]byte("defg"))
	require.NoError(t, err)
	require.Equal(t, 1, p.a.sndQueue.Len(), "small writes coalesce")
	assert.Equal(t, "abcdefg", string(p.a.sndQueue.front().data))

	var want bytes.Buffer
	want.WriteString("abcdefg")
	for i := 0; i < 400; i++ {
		chunk := bytes.Repeat([]byte{byte('a' + i%26)}, 1+(i*53)%2000)
		want.Write(chunk)
		_, err := p.a.Send(chunk)
		require.NoError(t, err)
	}
	for _, s := range p.a.sndQueue.items {
		assert.Zero(t, s.frg)
		assert.LessOrEqual(t, len(s.data), p.a.MSS())
	}

	var got bytes.Buffer
	for p.now < 600000 && got.Len() < want.Len() {
		p.step(1)
		for _, m := range drain(t, p.b) {
			got.Write(m)
		}
	}
	assert.Equal(t, want.Bytes(), got.Bytes())
}

func TestFastRetransmitBeforeRTO(t *testing.T) {
	var (
		now         *uint32
		firstSent   uint32
		resentAt    uint32
		sn0Attempts int
	)
	isSN0 := func(d []byte) bool {
		for _, h := range segments(d) {
			if h.cmd == cmdPush && h.sn == 0 {
				return true
			}
		}
		return false
	}
	ab := netsim.Config{Delay: 20, Drop: func(_ int, d []byte) bool {
		if !isSN0(d) {
			return false
		}
		sn0Attempts++
		switch sn0Attempts {
		case 1:
			firstSent = *now
			return true
		case 2:
			resentAt = *now
		}
		return false
	}}
	conf := func(k *KCP) { k.SetNoDelay(1, 10, 2, 1) }
	p := newPair(t, ab, netsim.Config{Delay: 20}, conf)
	now = &p.now

	rtoAtSend := uint32(p.a.rxRto)
	msgs := messages(6, func(int) int { return 64 })
	var got [][]byte
	for p.now < 2000 && len(got) < len(msgs) {
		if p.now%10 == 0 && int(p.now/10) <= len(msgs) && p.now > 0 {
			_, err := p.a.Send(msgs[p.now/10-1])
			require.NoError(t, err)
		}
		p.step(1)
		got = append(got, drain(t, p.b)...)
	}

	require.Len(t, got, len(msgs))
	assert.Equal(t, msgs, got)
	require.GreaterOrEqual(t, sn0Attempts, 2)
	assert.Less(t, resentAt, firstSent+rtoAtSend, "fast retransmit fires before the rto deadline")
	assert.NotZero(t, p.a.Stats().FastRetransSegs)
}

func TestZeroWindowProbe(t *testing.T) {
	var (
		now   *uint32
		wasks []uint32
	)
	ab := netsim.Config{Delay: 5, Drop: func(_ int, d []byte) bool {
		for _, h := range segments(d) {
			if h.cmd == cmdWask {
				wasks = append(wasks, *now)
			}
		}
		return false
	}}
	nc := func(k *KCP) { k.SetNoDelay(0, 100, 0, 1) }
	p := newPair(t, ab, netsim.Config{Delay: 5}, nc)
	now = &p.now

	msgs := messages(80, func(int) int { return 100 })
	for _, m := range msgs {
		_, err := p.a.Send(m)
		require.NoError(t, err)
	}

	// b never reads, so its queue fills and it advertises a zero window.
	for p.now < 600000 {
		p.step(10)
	}
	require.Zero(t, p.a.RmtWnd())
	require.GreaterOrEqual(t, len(wasks), 5)

	want := uint32(probeInit)
	for i := 1; i < len(wasks); i++ {
		want += want / 2
		if want > probeLimit {
			want = probeLimit
		}
		gap := wasks[i] - wasks[i-1]
		assert.GreaterOrEqual(t, gap, want, "probe %d", i)
		assert.LessOrEqual(t, gap, want+200, "probe %d", i)
	}
	assert.LessOrEqual(t, wasks[len(wasks)-1]-wasks[len(wasks)-2], uint32(probeLimit+200))

	// Reading reopens the window and the rest of the data flows.
	var got [][]byte
	for p.now < 700000 && len(got) < len(msgs) {
		got = append(got, drain(t, p.b)...)
		p.step(10)
	}
	got = append(got, drain(t, p.b)...)
	require.Len(t, got, len(msgs))
	assert.Equal(t, msgs, got)
	assert.NotZero(t, p.a.RmtWnd())
}

func TestCheckDrivenMatchesEveryMillisecond(t *testing.T) {
	msgs := messages(150, func(i int) int { return 1 + (i*401)%5000 })
	cfg := netsim.Config{Seed: 5, Delay: 15, Jitter: 10, DropEvery: 9}

	every := newPair(t, cfg, cfg, fast)
	want := every.transfer(msgs, 600000)
	require.Len(t, want, len(msgs))

	p := newPair(t, cfg, cfg, fast)
	nextA, nextB := uint32(0), uint32(0)
	pending := msgs
	var got [][]byte
	for p.now < 600000 && len(got) < len(msgs) {
		for len(pending) > 0 {
			if _, err := p.a.Send(pending[0]); err != nil {
				break
			}
			pending = pending[1:]
		}
		p.now++
		p.deliver()
		if timediff(p.now, nextA) >= 0 {
			p.a.Update(p.now)
			next := p.a.Check(p.now)
			require.True(t, timediff(next, p.now) >= 0)
			require.LessOrEqual(t, timediff(next, p.now), int32(p.a.Interval()))
			nextA = next
		}
		if timediff(p.now, nextB) >= 0 {
			p.b.Update(p.now)
			nextB = p.b.Check(p.now)
		}
		got = append(got, drain(t, p.b)...)
	}
	require.Len(t, got, len(msgs))
	assert.Equal(t, want, got)
}

func TestWindowAndSequenceInvariants(t *testing.T) {
	cfg := netsim.Config{Seed: 11, LossRate: 0.1, Delay: 10, Jitter: 5}
	p := newPair(t, cfg, cfg, nil)
	msgs := messages(300, func(i int) int { return 1 + (i*211)%3000 })

	prevUna, prevRcv := p.a.sndUna, p.b.rcvNxt
	pending := msgs
	var got [][]byte
	for p.now < 900000 && len(got) < len(msgs) {
		for len(pending) > 0 {
			if _, err := p.a.Send(pending[0]); err != nil {
				break
			}
			pending = pending[1:]
		}
		p.now++
		p.deliver()

		window := p.a.effectiveWindow()
		before := uint32(timediff(p.a.sndNxt, p.a.sndUna))
		p.a.Update(p.now)
		p.b.Update(p.now)
		inflight := uint32(timediff(p.a.sndNxt, p.a.sndUna))
		require.LessOrEqual(t, inflight, max32(window, before))

		require.GreaterOrEqual(t, timediff(p.a.sndUna, prevUna), int32(0))
		require.GreaterOrEqual(t, timediff(p.b.rcvNxt, prevRcv), int32(0))
		prevUna, prevRcv = p.a.sndUna, p.b.rcvNxt

		got = append(got, drain(t, p.b)...)
	}
	require.Len(t, got, len(msgs))
}

func TestSequenceWraparound(t *testing.T) {
	p := newPair(t, netsim.Config{Delay: 2, DropEvery: 6}, netsim.Config{Delay: 2}, fast)
	start := uint32(0xffffffff - 40)
	p.a.sndUna, p.a.sndNxt = start, start
	p.b.rcvNxt = start

	msgs := messages(200, func(i int) int { return 1 + i%700 })
	got := p.transfer(msgs, 300000)
	require.Len(t, got, len(msgs))
	assert.Equal(t, msgs, got)
	assert.Less(t, p.a.sndUna, start, "snd_una wrapped")
	assert.Equal(t, p.a.sndNxt, p.b.rcvNxt)
}

func TestTimediff(t *testing.T) {
	assert.Equal(t, int32(1), timediff(0, 0xffffffff))
	assert.Equal(t, int32(-1), timediff(0xffffffff, 0))
	assert.Equal(t, int32(16), timediff(5, 0xfffffff5))
	assert.Equal(t, int32(0), timediff(42, 42))
}

func TestPeekSizeIncompleteMessage(t *testing.T) {
	k := New(1, OutputFunc(func([]byte) {}))
	defer k.Release()

	_, err := k.PeekSize()
	assert.ErrorIs(t, err, ErrAgain)

	// Two of three fragments.
	for sn, frg := range []uint8{2, 1} {
		s := newSegment(10)
		s.sn, s.frg = uint32(sn), frg
		k.insertRcvBuf(s)
	}
	assert.Equal(t, 2, k.rcvQueue.Len())
	_, err = k.PeekSize()
	assert.ErrorIs(t, err, ErrAgain)
	_, err = k.Recv(make([]byte, 100))
	assert.ErrorIs(t, err, ErrAgain)

	s := newSegment(5)
	s.sn = 2
	k.insertRcvBuf(s)
	n, err := k.PeekSize()
	require.NoError(t, err)
	assert.Equal(t, 25, n)
}

func TestRecvBufferTooSmall(t *testing.T) {
	p := newPair(t, netsim.Config{}, netsim.Config{}, nil)
	msg := bytes.Repeat([]byte("x"), 3000)
	_, err := p.a.Send(msg)
	require.NoError(t, err)
	for i := 0; i < 1000; i++ {
		p.step(1)
		if _, err := p.b.PeekSize(); err == nil {
			break
		}
	}

	_, err = p.b.Recv(make([]byte, 2999))
	assert.ErrorIs(t, err, ErrBufferTooSmall)
	n, err := p.b.PeekSize()
	require.NoError(t, err, "nothing consumed")
	assert.Equal(t, 3000, n)

	buf := make([]byte, 3000)
	n, err = p.b.Recv(buf)
	require.NoError(t, err)
	assert.Equal(t, msg, buf[:n])
}

func TestSendLimits(t *testing.T) {
	k := New(1, OutputFunc(func([]byte) {}))
	defer k.Release()

	_, err := k.Send(make([]byte, k.MSS()*WndRcv))
	assert.ErrorIs(t, err, ErrMessageTooLarge)
	assert.Zero(t, k.WaitSnd(), "rejected send queues nothing")

	n, err := k.Send(make([]byte, k.MSS()*(WndRcv-1)))
	require.NoError(t, err)
	assert.Equal(t, k.MSS()*(WndRcv-1), n)
	assert.Equal(t, WndRcv-1, k.WaitSnd())

	n, err = k.Send(nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, WndRcv, k.WaitSnd(), "empty message is one segment")
}

func TestQueueLimit(t *testing.T) {
	k := New(1, OutputFunc(func([]byte) {}))
	defer k.Release()
	k.SetQueueLimit(4)

	for i := 0; i < 4; i++ {
		_, err := k.Send([]byte("m"))
		require.NoError(t, err)
	}
	_, err := k.Send([]byte("m"))
	assert.ErrorIs(t, err, ErrWindowFull)
	_, err = k.Send(make([]byte, k.MSS()+1))
	assert.ErrorIs(t, err, ErrWindowFull)
	assert.Equal(t, 4, k.WaitSnd())

	k.SetQueueLimit(0)
	_, err = k.Send([]byte("m"))
	assert.NoError(t, err)
}

func TestInputRejectsMalformed(t *testing.T) {
	k := New(0xabc, OutputFunc(func([]byte) {}))
	defer k.Release()
	k.Update(0)

	push := func(conv uint32, cmd uint8, sn uint32, payload string) []byte {
		s := &segment{conv: conv, cmd: cmd, sn: sn, wnd: 32, data: []byte(payload)}
		out := make([]byte, Overhead+len(payload))
		copy(s.encode(out), payload)
		return out
	}
	valid := push(0xabc, cmdPush, 0, "hello")

	cases := []struct {
		name string
		data []byte
		err  error
	}{
		{"empty", nil, ErrTruncated},
		{"short header", valid[:Overhead-1], ErrTruncated},
		{"length past end", valid[:Overhead+2], ErrTruncated},
		{"conv mismatch", push(0xdef, cmdPush, 0, "hello"), ErrConvMismatch},
		{"unknown command", push(0xabc, 99, 0, "x"), ErrUnknownCommand},
		{"valid then short tail", append(append([]byte{}, valid...), 1, 2, 3), ErrTruncated},
		{"valid then foreign conv", append(append([]byte{}, valid...), push(0xdef, cmdAck, 0, "")...), ErrConvMismatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before := k.Stats()
			err := k.Input(tc.data)
			assert.ErrorIs(t, err, tc.err)

			after := k.Stats()
			assert.Equal(t, before.InErrors+1, after.InErrors)
			after.InErrors = before.InErrors
			assert.Equal(t, before, after, "no state change")
			assert.Empty(t, k.acklist)
		})
	}

	huge := push(0xabc, cmdPush, 0, "")
	huge[20], huge[21], huge[22], huge[23] = 0xff, 0xff, 0xff, 0xff
	assert.ErrorIs(t, k.Input(huge), ErrTruncated)

	require.NoError(t, k.Input(valid))
	assert.Len(t, k.acklist, 1)
	buf := make([]byte, 16)
	n, err := k.Recv(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
}

func TestInputOutOfWindow(t *testing.T) {
	k := New(1, OutputFunc(func([]byte) {}))
	defer k.Release()
	k.Update(0)

	s := &segment{conv: 1, cmd: cmdPush, sn: WndRcv + 5, wnd: 32, data: []byte("late")}
	d := make([]byte, Overhead+4)
	copy(s.encode(d), s.data)

	require.NoError(t, k.Input(d))
	assert.Empty(t, k.acklist, "beyond the window is not acked")
	assert.Equal(t, 0, k.Stats().RcvBuf)
	assert.Equal(t, uint64(1), k.Stats().OutOfWindowSegs)
}

func TestGetConv(t *testing.T) {
	conv, err := GetConv([]byte{0x44, 0x33, 0x22, 0x11, 0xff})
	require.NoError(t, err)
	assert.Equal(t, uint32(0x11223344), conv)

	_, err = GetConv([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestWaskAnsweredWithWins(t *testing.T) {
	var out [][]byte
	k := New(1, OutputFunc(func(d []byte) { out = append(out, append([]byte(nil), d...)) }))
	defer k.Release()
	k.Update(0)
	out = nil

	s := &segment{conv: 1, cmd: cmdWask, wnd: 32}
	d := make([]byte, Overhead)
	s.encode(d)
	require.NoError(t, k.Input(d))
	k.Flush()

	require.Len(t, out, 1)
	hs := segments(out[0])
	require.Len(t, hs, 1)
	assert.Equal(t, uint8(cmdWins), hs[0].cmd)
	assert.Equal(t, uint16(32), hs[0].wnd)
}

func TestAcksCoalesceIntoOneDatagram(t *testing.T) {
	var out [][]byte
	k := New(1, OutputFunc(func(d []byte) { out = append(out, append([]byte(nil), d...)) }))
	defer k.Release()
	k.Update(0)

	var dgram []byte
	for sn := uint32(0); sn < 10; sn++ {
		s := &segment{conv: 1, cmd: cmdPush, sn: sn, ts: sn, wnd: 32, data: []byte{byte(sn)}}
		d := make([]byte, Overhead+1)
		copy(s.encode(d), s.data)
		dgram = append(dgram, d...)
	}
	require.NoError(t, k.Input(dgram))
	k.Flush()

	require.Len(t, out, 1)
	hs := segments(out[0])
	require.Len(t, hs, 10)
	for i, h := range hs {
		assert.Equal(t, uint8(cmdAck), h.cmd)
		assert.Equal(t, uint32(i), h.sn)
		assert.Equal(t, uint32(i), h.ts)
		assert.Equal(t, uint32(10), h.una)
	}
}

func TestDatagramsRespectMTU(t *testing.T) {
	var sizes []int
	k := New(1, OutputFunc(func(d []byte) { sizes = append(sizes, len(d)) }))
	defer k.Release()
	require.NoError(t, k.SetMTU(300))
	k.SetNoDelay(0, 10, 0, 1)

	for i := 0; i < 20; i++ {
		_, err := k.Send(make([]byte, 100))
		require.NoError(t, err)
	}
	k.Update(0)
	require.NotEmpty(t, sizes)
	total := 0
	for _, n := range sizes {
		assert.LessOrEqual(t, n, 300)
		total += n
	}
	assert.Equal(t, 20*(Overhead+100), total)
	assert.Equal(t, 10, len(sizes), "two segments per datagram")
}

func TestDeadLink(t *testing.T) {
	var outputs int
	k := New(1, OutputFunc(func([]byte) { outputs++ }))
	defer k.Release()
	k.SetNoDelay(1, 10, 0, 1)
	k.SetDeadLink(3)

	_, err := k.Send([]byte("never acked"))
	require.NoError(t, err)

	now := uint32(0)
	for !k.Dead() && now < 60000 {
		k.Update(now)
		now += 10
	}
	require.True(t, k.Dead())
	assert.Equal(t, 3, outputs, "the datagram crossing the threshold is still sent")

	for i := 0; i < 100; i++ {
		k.Update(now)
		now += 10
	}
	assert.Equal(t, 3, outputs, "nothing is emitted once dead")

	_, err = k.Send([]byte("more"))
	assert.ErrorIs(t, err, ErrDeadLink)
	_, err = k.Recv(make([]byte, 10))
	assert.ErrorIs(t, err, ErrDeadLink)
	assert.ErrorIs(t, k.Input(make([]byte, Overhead)), ErrDeadLink)
	assert.True(t, k.Stats().Dead)
}

func TestRelease(t *testing.T) {
	k := New(1, OutputFunc(func([]byte) {}))
	_, err := k.Send([]byte("queued"))
	require.NoError(t, err)
	k.Release()
	k.Release()

	_, err = k.Send([]byte("x"))
	assert.ErrorIs(t, err, ErrReleased)
	_, err = k.Recv(make([]byte, 10))
	assert.ErrorIs(t, err, ErrReleased)
	assert.ErrorIs(t, k.Input(make([]byte, Overhead)), ErrReleased)
	assert.Zero(t, k.WaitSnd())
}

func TestCheckBeforeUpdate(t *testing.T) {
	k := New(1, OutputFunc(func([]byte) {}))
	defer k.Release()
	assert.Equal(t, uint32(1234), k.Check(1234))

	k.Update(1000)
	assert.Equal(t, uint32(1100), k.Check(1000))
	assert.Equal(t, uint32(1100), k.Check(1050))
	assert.Equal(t, uint32(1100), k.Check(1100))

	_, err := k.Send([]byte("x"))
	require.NoError(t, err)
	k.Update(1100)
	// first transmission at 1100, resend at 1100+rto+rto/8 is after the next flush
	assert.Equal(t, uint32(1200), k.Check(1100))
}

func TestMTUShrinkWithQueuedData(t *testing.T) {
	var sizes []int
	k := New(1, OutputFunc(func(d []byte) { sizes = append(sizes, len(d)) }))
	defer k.Release()
	k.SetNoDelay(1, 10, 2, 1)

	_, err := k.Send(make([]byte, k.MSS()))
	require.NoError(t, err)
	require.NoError(t, k.SetMTU(100))

	require.NotPanics(t, func() { k.Update(0) })
	require.Len(t, sizes, 1)
	assert.Equal(t, MTUDefault, sizes[0], "old segment goes out whole")

	_, err = k.Send(make([]byte, 200))
	require.NoError(t, err)
	sizes = nil
	k.Flush()
	require.Len(t, sizes, 3, "200 bytes at mss 76")
	for _, n := range sizes {
		assert.LessOrEqual(t, n, 100)
	}
}

func TestMTUShrinkMidTransfer(t *testing.T) {
	p := newPair(t, netsim.Config{Delay: 5}, netsim.Config{Delay: 5}, fast)
	msgs := messages(20, func(i int) int { return 2000 + i*50 })
	for _, m := range msgs {
		_, err := p.a.Send(m)
		require.NoError(t, err)
	}
	p.step(1)
	require.NoError(t, p.a.SetMTU(200))
	require.NoError(t, p.b.SetMTU(200))

	var got [][]byte
	for p.now < 60000 && len(got) < len(msgs) {
		p.step(1)
		got = append(got, drain(t, p.b)...)
	}
	require.Len(t, got, len(msgs))
	for i := range msgs {
		assert.Equal(t, msgs[i], got[i])
	}
}

func TestForgedAckTimestampKeepsEstimatorSane(t *testing.T) {
	k := New(1, OutputFunc(func([]byte) {}))
	defer k.Release()
	k.Update(0x7ffffff0)

	ack := &segment{conv: 1, cmd: cmdAck, wnd: 32, ts: 0}
	d := make([]byte, Overhead)
	ack.encode(d)
	for i := 0; i < 3; i++ {
		require.NoError(t, k.Input(d))
	}

	st := k.Stats()
	assert.Equal(t, uint64(3), st.RTTSamples)
	assert.Equal(t, int32(rtoMax), st.SRTT)
	assert.GreaterOrEqual(t, st.RTTVar, int32(0))
	assert.LessOrEqual(t, st.RTTVar, int32(rtoMax))
	assert.Equal(t, int32(rtoMax), st.RTO)
}

func TestDeadLinkFlushCompletes(t *testing.T) {
	var out [][]byte
	k := New(1, OutputFunc(func(d []byte) { out = append(out, append([]byte(nil), d...)) }))
	defer k.Release()
	k.SetNoDelay(1, 10, 0, 1)
	k.SetDeadLink(2)

	for _, m := range []string{"first", "second"} {
		_, err := k.Send([]byte(m))
		require.NoError(t, err)
	}
	for now := uint32(0); !k.Dead() && now < 60000; now += 10 {
		k.Update(now)
	}
	require.True(t, k.Dead())
	require.Len(t, out, 2)

	// sn 0 crosses the threshold first; sn 1 is still sent in that flush.
	last := segments(out[1])
	require.Len(t, last, 2)
	assert.Equal(t, uint32(0), last[0].sn)
	assert.Equal(t, uint32(1), last[1].sn)
}
