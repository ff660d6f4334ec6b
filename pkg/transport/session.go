package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/irctrakz/arqlink/pkg/capture"
	"github.com/irctrakz/arqlink/pkg/core"
	"github.com/irctrakz/arqlink/pkg/kcp"
	"github.com/irctrakz/arqlink/pkg/logging"
	"github.com/irctrakz/arqlink/pkg/pktpool"
)

// ErrClosed is returned by operations on a closed session or listener.
var ErrClosed = errors.New("transport: closed")

// event is a broadcast signal: wait returns a channel closed by the next
// broadcast.
type event struct {
	mu sync.Mutex
	ch chan struct{}
}

func (e *event) wait() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ch == nil {
		e.ch = make(chan struct{})
	}
	return e.ch
}

func (e *event) broadcast() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ch != nil {
		close(e.ch)
		e.ch = nil
	}
}

// Session is one reliable connection. The engine behind it is guarded by a
// mutex; a goroutine drives Update at the times Check asks for.
type Session struct {
	mu     sync.Mutex
	kcp    *kcp.KCP
	conv   uint32
	remote *net.UDPAddr
	epoch  time.Time

	out  *writer
	pcap *capture.Writer
	log  *logrus.Entry

	readable event
	writable event
	kick     chan struct{}

	lastActive int64 // unix nanos
	drops      uint64
	// link is set for dialed sessions, which own their socket.
	link *counters

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	onClose   func(*Session)
}

func newSession(conv uint32, remote *net.UDPAddr, cfg core.EngineConfig, out *writer, pcap *capture.Writer) (*Session, error) {
	s := &Session{
		conv:   conv,
		remote: remote,
		epoch:  time.Now(),
		out:    out,
		pcap:   pcap,
		kick:   make(chan struct{}, 1),
		closed: make(chan struct{}),
		log:    logging.ForConv(conv).WithField("remote", remote.String()),
	}
	s.kcp = kcp.New(conv, kcp.OutputFunc(s.output))
	if err := ApplyEngineConfig(s.kcp, cfg); err != nil {
		s.kcp.Release()
		return nil, err
	}
	s.touch()
	return s, nil
}

func (s *Session) start() {
	s.wg.Add(1)
	go s.updater()
}

// now is the engine clock: milliseconds since the session started.
func (s *Session) now() uint32 {
	return uint32(time.Since(s.epoch) / time.Millisecond)
}

// output is the engine's sink. It runs under s.mu.
func (s *Session) output(p []byte) {
	if s.pcap != nil {
		if err := s.pcap.Write(capture.Outbound, p); err != nil {
			s.log.WithError(err).Debug("pcap write failed")
		}
	}
	pkt := core.CopyPacket(p, s.remote, pktpool.Get, pktpool.Release)
	if !s.out.enqueue(pkt) {
		atomic.AddUint64(&s.drops, 1)
	}
}

func (s *Session) updater() {
	defer s.wg.Done()
	timer := time.NewTimer(0)
	defer timer.Stop()
	deadLogged := false
	for {
		select {
		case <-s.closed:
			return
		case <-timer.C:
		case <-s.kick:
		}

		s.mu.Lock()
		now := s.now()
		s.kcp.Update(now)
		next := s.kcp.Check(now)
		dead := s.kcp.Dead()
		s.mu.Unlock()

		s.writable.broadcast()
		if dead {
			if !deadLogged {
				s.log.Warn("session link is dead")
				deadLogged = true
			}
			s.readable.broadcast()
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		delay := time.Duration(next-now) * time.Millisecond
		if delay < time.Millisecond {
			delay = time.Millisecond
		}
		timer.Reset(delay)
	}
}

func (s *Session) wake() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// input hands one datagram from the socket to the engine.
func (s *Session) input(data []byte) error {
	if s.pcap != nil {
		if err := s.pcap.Write(capture.Inbound, data); err != nil {
			s.log.WithError(err).Debug("pcap write failed")
		}
	}
	s.mu.Lock()
	err := s.kcp.Input(data)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.touch()
	s.readable.broadcast()
	s.writable.broadcast()
	return nil
}

// Send queues p as one message, waiting while the send queue is full. It
// returns the number of bytes accepted.
func (s *Session) Send(ctx context.Context, p []byte) (int, error) {
	for {
		s.mu.Lock()
		ch := s.writable.wait()
		n, err := s.kcp.Send(p)
		if err == nil {
			// Push it out now instead of waiting for the next tick.
			s.kcp.Update(s.now())
			s.kcp.Flush()
		}
		s.mu.Unlock()

		switch {
		case err == nil:
			s.wake()
			return n, nil
		case errors.Is(err, kcp.ErrReleased):
			return 0, ErrClosed
		case !errors.Is(err, kcp.ErrWindowFull):
			return 0, err
		}

		select {
		case <-ch:
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-s.closed:
			return 0, ErrClosed
		}
	}
}

// Recv waits for the next message and copies it into buf. Once the link is
// dead, buffered messages are still returned before kcp.ErrDeadLink.
func (s *Session) Recv(ctx context.Context, buf []byte) (int, error) {
	for {
		s.mu.Lock()
		ch := s.readable.wait()
		n, err := s.kcp.Recv(buf)
		s.mu.Unlock()

		switch {
		case err == nil:
			s.wake()
			return n, nil
		case errors.Is(err, kcp.ErrReleased):
			return 0, ErrClosed
		case !errors.Is(err, kcp.ErrAgain):
			return 0, err
		}

		select {
		case <-ch:
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-s.closed:
			return 0, ErrClosed
		}
	}
}

// Close stops the session and releases its engine.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.wg.Wait()
		s.mu.Lock()
		s.kcp.Flush()
		s.kcp.Release()
		s.mu.Unlock()
		s.readable.broadcast()
		s.writable.broadcast()
		if s.onClose != nil {
			s.onClose(s)
		}
		s.log.Debug("session closed")
	})
	return nil
}

// Conv returns the conversation id.
func (s *Session) Conv() uint32 { return s.conv }

// RemoteAddr returns the peer address.
func (s *Session) RemoteAddr() net.Addr { return s.remote }

// Dead reports whether the engine declared the link dead.
func (s *Session) Dead() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kcp.Dead()
}

// Stats returns the engine snapshot.
func (s *Session) Stats() kcp.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kcp.Stats()
}

// Metrics reports this session's traffic. A dialed session reports its
// socket; a listener session reports what its engine saw.
func (s *Session) Metrics() core.LinkMetrics {
	if s.link != nil {
		return s.link.snapshot()
	}
	st := s.Stats()
	return core.LinkMetrics{
		PacketsSent:     st.OutPackets,
		PacketsReceived: st.InPackets,
		BytesSent:       st.OutBytes,
		BytesReceived:   st.InBytes,
		OutputDrops:     atomic.LoadUint64(&s.drops),
		InputRejects:    st.InErrors,
	}
}

func (s *Session) touch() {
	atomic.StoreInt64(&s.lastActive, time.Now().UnixNano())
}

func (s *Session) idleSince() time.Time {
	return time.Unix(0, atomic.LoadInt64(&s.lastActive))
}
