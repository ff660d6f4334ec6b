package main

import (
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/irctrakz/arqlink/pkg/core"
	"github.com/irctrakz/arqlink/pkg/kcp"
	"github.com/irctrakz/arqlink/pkg/logging"
	"github.com/irctrakz/arqlink/pkg/netsim"
	"github.com/irctrakz/arqlink/pkg/transport"
)

type options struct {
	mode     string
	count    int
	size     int
	loss     float64
	dup      float64
	delay    uint32
	jitter   uint32
	seed     int64
	wnd      int
	deadline uint32
}

type result struct {
	delivered int
	elapsed   uint32
	latencies []uint32
	sender    kcp.Stats
	receiver  kcp.Stats
	ab, ba    netsim.Stats
	ordered   bool
}

func main() {
	var opts options
	var delay, jitter, deadline uint
	flag.StringVar(&opts.mode, "mode", "fast", "engine mode preset (default, normal, fast)")
	flag.IntVar(&opts.count, "count", 1000, "messages to send")
	flag.IntVar(&opts.size, "size", 512, "message size (bytes, min 8)")
	flag.Float64Var(&opts.loss, "loss", 0.1, "per-datagram loss probability")
	flag.Float64Var(&opts.dup, "dup", 0, "per-datagram duplication probability")
	flag.UintVar(&delay, "delay", 30, "one-way delay (ms)")
	flag.UintVar(&jitter, "jitter", 10, "extra uniform delay (ms), reorders datagrams")
	flag.Int64Var(&opts.seed, "seed", 1, "random seed")
	flag.IntVar(&opts.wnd, "wnd", 128, "send and receive window (segments)")
	flag.UintVar(&deadline, "deadline", 600000, "virtual time limit (ms)")
	flag.Parse()
	opts.delay, opts.jitter, opts.deadline = uint32(delay), uint32(jitter), uint32(deadline)

	// Quieter logs by default
	logging.SetLevel(logging.WarnLevel)

	res, err := simulate(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "arqsim: %v\n", err)
		os.Exit(1)
	}
	report(opts, res)
	if res.delivered != opts.count || !res.ordered {
		os.Exit(2)
	}
}

// simulate sends opts.count messages from one engine to another across a
// lossy link, advancing virtual time in 1ms steps.
func simulate(opts options) (result, error) {
	if opts.size < 8 {
		opts.size = 8
	}
	cfg := core.DefaultEngineConfig()
	cfg.Mode = opts.mode
	cfg.SndWnd, cfg.RcvWnd = opts.wnd, opts.wnd

	link := netsim.NewLink(
		netsim.Config{Seed: opts.seed, LossRate: opts.loss, DupRate: opts.dup, Delay: opts.delay, Jitter: opts.jitter},
		netsim.Config{Seed: opts.seed + 1, LossRate: opts.loss, DupRate: opts.dup, Delay: opts.delay, Jitter: opts.jitter},
	)
	var now uint32
	a := kcp.New(0x5157, kcp.OutputFunc(func(p []byte) { link.AtoB.Send(now, p) }))
	b := kcp.New(0x5157, kcp.OutputFunc(func(p []byte) { link.BtoA.Send(now, p) }))
	defer a.Release()
	defer b.Release()
	for _, k := range []*kcp.KCP{a, b} {
		if err := transport.ApplyEngineConfig(k, cfg); err != nil {
			return result{}, err
		}
	}

	res := result{ordered: true}
	msg := make([]byte, opts.size)
	buf := make([]byte, opts.size+kcp.Overhead)
	sent := 0
	for now < opts.deadline && res.delivered < opts.count {
		for sent < opts.count {
			binary.BigEndian.PutUint32(msg[0:4], uint32(sent))
			binary.BigEndian.PutUint32(msg[4:8], now)
			if _, err := a.Send(msg); err != nil {
				if errors.Is(err, kcp.ErrWindowFull) {
					break
				}
				return res, err
			}
			sent++
		}

		now++
		link.AtoB.Deliver(now, func(p []byte) { _ = b.Input(p) })
		link.BtoA.Deliver(now, func(p []byte) { _ = a.Input(p) })
		a.Update(now)
		b.Update(now)

		for {
			n, err := b.Recv(buf)
			if err != nil {
				break
			}
			if n < 8 || binary.BigEndian.Uint32(buf[0:4]) != uint32(res.delivered) {
				res.ordered = false
			}
			res.latencies = append(res.latencies, now-binary.BigEndian.Uint32(buf[4:8]))
			res.delivered++
		}
		if a.Dead() {
			break
		}
	}

	res.elapsed = now
	res.sender = a.Stats()
	res.receiver = b.Stats()
	res.ab = link.AtoB.Stats()
	res.ba = link.BtoA.Stats()
	return res, nil
}

func percentile(sorted []uint32, p float64) uint32 {
	if len(sorted) == 0 {
		return 0
	}
	i := int(p * float64(len(sorted)-1))
	return sorted[i]
}

func report(opts options, res result) {
	lat := append([]uint32(nil), res.latencies...)
	sort.Slice(lat, func(i, j int) bool { return lat[i] < lat[j] })
	var sum uint64
	for _, v := range lat {
		sum += uint64(v)
	}
	avg := uint64(0)
	if len(lat) > 0 {
		avg = sum / uint64(len(lat))
	}

	fmt.Printf("Link: loss=%.2f dup=%.2f delay=%dms jitter=%dms seed=%d mode=%s wnd=%d\n",
		opts.loss, opts.dup, opts.delay, opts.jitter, opts.seed, opts.mode, opts.wnd)
	fmt.Printf("Delivered: %d/%d in %dms (ordered=%v dead=%v)\n",
		res.delivered, opts.count, res.elapsed, res.ordered, res.sender.Dead)
	fmt.Printf("Latency: avg=%dms p50=%dms p99=%dms max=%dms\n",
		avg, percentile(lat, 0.50), percentile(lat, 0.99), percentile(lat, 1))
	fmt.Printf("Sender: segs=%d retrans=%d fast=%d lost=%d srtt=%dms rto=%dms cwnd=%d\n",
		res.sender.OutSegs, res.sender.RetransSegs, res.sender.FastRetransSegs,
		res.sender.LostEvents, res.sender.SRTT, res.sender.RTO, res.sender.Cwnd)
	fmt.Printf("Receiver: segs=%d dup=%d oow=%d\n",
		res.receiver.InSegs, res.receiver.DupSegs, res.receiver.OutOfWindowSegs)
	fmt.Printf("Wire: a->b sent=%d dropped=%d dup=%d | b->a sent=%d dropped=%d dup=%d\n",
		res.ab.Sent, res.ab.Dropped, res.ab.Duplicated,
		res.ba.Sent, res.ba.Dropped, res.ba.Duplicated)

	if res.sender.OutSegs > 0 {
		fmt.Printf("Overhead: %.2f%% retransmitted\n",
			100*float64(res.sender.RetransSegs)/float64(res.sender.OutSegs))
	}
	if res.delivered != opts.count {
		fmt.Println("WARN: not every message was delivered before the deadline")
	}
}
