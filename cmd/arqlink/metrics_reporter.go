package main

import (
	"context"
	"encoding/json"
	"runtime"
	"strings"
	"time"

	"github.com/irctrakz/arqlink/pkg/logging"
	"github.com/irctrakz/arqlink/pkg/transport"
)

type metricsSnapshot struct {
	Timestamp string            `json:"ts"`
	Total     map[string]uint64 `json:"total"`
	Engine    map[string]uint64 `json:"engine"`
	Writer    map[string]uint64 `json:"writer,omitempty"`
	Active    uint64            `json:"active"`
	RT        map[string]uint64 `json:"rt"`
}

func runMetricsReporter(ctx context.Context, src metricsSource, every time.Duration, format string) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = "text"
	}
	r := &reporter{}

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		r.dump(src(), format)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// reporter keeps the previous cumulative retransmission count so each dump
// can show a per-interval delta.
type reporter struct {
	lastRetrans uint64
}

func (r *reporter) snapshot(dm transport.DetailedMetrics) metricsSnapshot {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	eng := map[string]uint64{}
	var inflight, queued uint64
	for _, s := range dm.Sessions {
		e := s.Engine
		eng["out_segs"] += e.OutSegs
		eng["in_segs"] += e.InSegs
		eng["retrans"] += e.RetransSegs
		eng["fast_retrans"] += e.FastRetransSegs
		eng["lost"] += e.LostEvents
		eng["dup"] += e.DupSegs
		eng["out_of_window"] += e.OutOfWindowSegs
		eng["rtt_samples"] += e.RTTSamples
		if e.Dead {
			eng["dead"]++
		}
		inflight += uint64(e.SndBuf)
		queued += uint64(e.SndQueue)
	}
	eng["inflight"] = inflight
	eng["queued"] = queued
	eng["retrans_delta"] = eng["retrans"] - r.lastRetrans
	r.lastRetrans = eng["retrans"]

	return metricsSnapshot{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Total: map[string]uint64{
			"sessions_created": dm.Total.SessionsCreated,
			"sessions_closed":  dm.Total.SessionsClosed,
			"pkts_sent":        dm.Total.PacketsSent,
			"pkts_recv":        dm.Total.PacketsReceived,
			"bytes_sent":       dm.Total.BytesSent,
			"bytes_recv":       dm.Total.BytesReceived,
			"out_drops":        dm.Total.OutputDrops,
			"in_rejects":       dm.Total.InputRejects,
			"errors":           dm.Total.Errors,
		},
		Engine: eng,
		Writer: dm.Writer,
		Active: dm.ActiveSessions,
		RT: map[string]uint64{
			"heap_alloc": ms.HeapAlloc,
			"heap_inuse": ms.HeapInuse,
			"sys":        ms.Sys,
			"num_gc":     uint64(ms.NumGC),
			"goroutines": uint64(runtime.NumGoroutine()),
		},
	}
}

func (r *reporter) dump(dm transport.DetailedMetrics, format string) {
	snap := r.snapshot(dm)
	switch format {
	case "json":
		b, _ := json.Marshal(snap)
		logging.Infof("metrics: %s", string(b))
	default:
		logging.Infof("metrics: ts=%s total: sent=%d/%d recv=%d/%d drops=%d rej=%d err=%d | sess: act=%d new=%d closed=%d dead=%d | arq: out=%d in=%d rtx=%d dR=%d fast=%d lost=%d dup=%d oow=%d infl=%d q=%d | rt: heap=%dMi inuse=%dMi gor=%d gc=%d",
			snap.Timestamp,
			snap.Total["pkts_sent"], snap.Total["bytes_sent"],
			snap.Total["pkts_recv"], snap.Total["bytes_recv"],
			snap.Total["out_drops"], snap.Total["in_rejects"], snap.Total["errors"],
			snap.Active, snap.Total["sessions_created"], snap.Total["sessions_closed"], snap.Engine["dead"],
			snap.Engine["out_segs"], snap.Engine["in_segs"],
			snap.Engine["retrans"], snap.Engine["retrans_delta"], snap.Engine["fast_retrans"],
			snap.Engine["lost"], snap.Engine["dup"], snap.Engine["out_of_window"],
			snap.Engine["inflight"], snap.Engine["queued"],
			snap.RT["heap_alloc"]>>20, snap.RT["heap_inuse"]>>20,
			snap.RT["goroutines"], snap.RT["num_gc"],
		)
	}
}
