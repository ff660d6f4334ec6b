package transport

import (
	"context"
	"fmt"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/irctrakz/arqlink/pkg/capture"
	"github.com/irctrakz/arqlink/pkg/core"
	"github.com/irctrakz/arqlink/pkg/kcp"
	"github.com/irctrakz/arqlink/pkg/logging"
)

type sessionKey struct {
	addr string
	conv uint32
}

// Listener serves many sessions over one UDP socket. Datagrams are routed
// by source address and conversation id; an unknown pair whose first
// datagram the engine accepts becomes a new session for Accept.
type Listener struct {
	cfg   Config
	conn  *net.UDPConn
	batch batchConn
	out   *writer
	pcap  *capture.Writer

	mu       sync.RWMutex
	sessions map[sessionKey]*Session

	acceptCh  chan *Session
	stopCh    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	counters counters
}

var _ core.Endpoint = (*Listener)(nil)

// Listen opens cfg.ListenAddr and starts serving.
func Listen(cfg Config) (*Listener, error) {
	cfg = cfg.withDefaults()
	laddr, err := net.ResolveUDPAddr("udp", cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", cfg.ListenAddr, err)
	}
	if _, err := core.ModePreset(cfg.Engine.Mode); err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP(udpNetwork(laddr.IP), laddr)
	if err != nil {
		return nil, fmt.Errorf("listen %v: %w", laddr, err)
	}
	setDSCP(conn, cfg.DSCP)

	l := &Listener{
		cfg:      cfg,
		conn:     conn,
		batch:    newBatchConn(conn),
		sessions: make(map[sessionKey]*Session),
		acceptCh: make(chan *Session, cfg.AcceptBacklog),
		stopCh:   make(chan struct{}),
	}
	if cfg.PcapPath != "" {
		if l.pcap, err = capture.Create(cfg.PcapPath); err != nil {
			conn.Close()
			return nil, err
		}
	}
	l.out = newWriter(conn, l.batch, cfg.QueueCap, cfg.BatchSize, &l.counters)
	l.out.start()

	l.wg.Add(2)
	go func() {
		defer l.wg.Done()
		readLoop(conn, l.batch, cfg.BatchSize, &l.counters, l.stopCh, l.dispatch)
	}()
	go l.reaper()

	logging.InfoWithFields(logrus.Fields{"addr": conn.LocalAddr().String(), "mode": cfg.Engine.Mode}, "listener started")
	return l, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr { return l.conn.LocalAddr() }

// stopped reports whether Close has begun.
func (l *Listener) stopped() bool {
	select {
	case <-l.stopCh:
		return true
	default:
		return false
	}
}

func (l *Listener) dispatch(data []byte, from *net.UDPAddr) {
	if l.stopped() {
		return
	}
	conv, err := kcp.GetConv(data)
	if err != nil {
		atomic.AddUint64(&l.counters.inputRejects, 1)
		return
	}
	key := sessionKey{addr: from.String(), conv: conv}

	l.mu.RLock()
	s := l.sessions[key]
	l.mu.RUnlock()
	if s != nil {
		if err := s.input(data); err != nil {
			atomic.AddUint64(&l.counters.inputRejects, 1)
			s.log.WithError(err).Debug("input rejected")
		}
		return
	}

	l.mu.RLock()
	full := l.cfg.MaxSessions > 0 && len(l.sessions) >= l.cfg.MaxSessions
	l.mu.RUnlock()
	if full {
		atomic.AddUint64(&l.counters.inputRejects, 1)
		logging.Debugf("transport: session cap reached, dropping %v conv %#x", from, conv)
		return
	}

	remote := &net.UDPAddr{IP: append(net.IP(nil), from.IP...), Port: from.Port, Zone: from.Zone}
	s, err = newSession(conv, remote, l.cfg.Engine, l.out, l.pcap)
	if err != nil {
		atomic.AddUint64(&l.counters.errors, 1)
		logging.Errorf("transport: new session: %v", err)
		return
	}
	if err := s.input(data); err != nil {
		// Garbage does not get a session.
		atomic.AddUint64(&l.counters.inputRejects, 1)
		s.kcp.Release()
		return
	}

	s.onClose = l.remove
	// Close snapshots sessions under l.mu after closing stopCh, so a session
	// registered here is either seen by that snapshot or never registered.
	l.mu.Lock()
	if l.stopped() {
		l.mu.Unlock()
		s.kcp.Release()
		return
	}
	l.sessions[key] = s
	s.start()
	l.mu.Unlock()
	atomic.AddUint64(&l.counters.sessionsCreated, 1)

	select {
	case l.acceptCh <- s:
		s.log.Info("session accepted")
	default:
		logging.Warnf("transport: accept backlog full, dropping %v conv %#x", from, conv)
		s.Close()
	}
}

// Accept waits for the next new session.
func (l *Listener) Accept(ctx context.Context) (*Session, error) {
	select {
	case s := <-l.acceptCh:
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.stopCh:
		return nil, ErrClosed
	}
}

func (l *Listener) remove(s *Session) {
	key := sessionKey{addr: s.remote.String(), conv: s.conv}
	l.mu.Lock()
	if l.sessions[key] == s {
		delete(l.sessions, key)
		atomic.AddUint64(&l.counters.sessionsClosed, 1)
	}
	l.mu.Unlock()
}

func (l *Listener) reaper() {
	defer l.wg.Done()
	period := l.cfg.IdleTimeout / 4
	if period < 10*time.Millisecond {
		period = 10 * time.Millisecond
	}
	if period > 10*time.Second {
		period = 10 * time.Second
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			deadline := time.Now().Add(-l.cfg.IdleTimeout)
			var expired []*Session
			l.mu.RLock()
			for _, s := range l.sessions {
				if s.idleSince().Before(deadline) || s.Dead() {
					expired = append(expired, s)
				}
			}
			l.mu.RUnlock()
			for _, s := range expired {
				s.log.Debug("session expired")
				s.Close()
			}
		}
	}
}

// Sessions returns the number of live sessions.
func (l *Listener) Sessions() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.sessions)
}

// Close stops the listener and every session it owns.
func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.stopCh)

		l.mu.RLock()
		all := make([]*Session, 0, len(l.sessions))
		for _, s := range l.sessions {
			all = append(all, s)
		}
		l.mu.RUnlock()
		for _, s := range all {
			s.Close()
		}
		// Sessions still waiting in the backlog were never handed out.
	drain:
		for {
			select {
			case s := <-l.acceptCh:
				s.Close()
			default:
				break drain
			}
		}

		l.out.stop()
		err = l.conn.Close()
		l.wg.Wait()
		if l.pcap != nil {
			l.pcap.Close()
		}
		logging.Infof("listener %v stopped", l.conn.LocalAddr())
	})
	return err
}

// Metrics returns endpoint totals.
func (l *Listener) Metrics() core.LinkMetrics { return l.counters.snapshot() }

// DetailedMetrics returns totals plus per-session engine state, ordered by
// remote address and conv.
func (l *Listener) DetailedMetrics() DetailedMetrics {
	l.mu.RLock()
	all := make([]*Session, 0, len(l.sessions))
	for _, s := range l.sessions {
		all = append(all, s)
	}
	l.mu.RUnlock()

	dm := DetailedMetrics{
		Total:          l.counters.snapshot(),
		ActiveSessions: uint64(len(all)),
		Writer:         l.out.metrics(),
	}
	for _, s := range all {
		dm.Sessions = append(dm.Sessions, SessionMetrics{Conv: s.conv, Remote: s.remote.String(), Engine: s.Stats()})
	}
	sort.Slice(dm.Sessions, func(i, j int) bool {
		if dm.Sessions[i].Remote != dm.Sessions[j].Remote {
			return dm.Sessions[i].Remote < dm.Sessions[j].Remote
		}
		return dm.Sessions[i].Conv < dm.Sessions[j].Conv
	})
	return dm
}
