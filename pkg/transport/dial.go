package transport

import (
	"fmt"
	"net"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/irctrakz/arqlink/pkg/capture"
	"github.com/irctrakz/arqlink/pkg/core"
	"github.com/irctrakz/arqlink/pkg/logging"
)

var _ core.Endpoint = (*Session)(nil)

// Dial opens a session with cfg.Conv to cfg.RemoteAddr over a socket of its
// own. Datagrams from any other source are ignored.
func Dial(cfg Config) (*Session, error) {
	cfg = cfg.withDefaults()
	raddr, err := net.ResolveUDPAddr("udp", cfg.RemoteAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", cfg.RemoteAddr, err)
	}
	var laddr *net.UDPAddr
	if cfg.ListenAddr != "" {
		if laddr, err = net.ResolveUDPAddr("udp", cfg.ListenAddr); err != nil {
			return nil, fmt.Errorf("resolve %q: %w", cfg.ListenAddr, err)
		}
	}
	conn, err := net.ListenUDP(udpNetwork(raddr.IP), laddr)
	if err != nil {
		return nil, fmt.Errorf("bind for %v: %w", raddr, err)
	}
	setDSCP(conn, cfg.DSCP)

	var pcap *capture.Writer
	if cfg.PcapPath != "" {
		if pcap, err = capture.Create(cfg.PcapPath); err != nil {
			conn.Close()
			return nil, err
		}
	}

	c := &counters{}
	batch := newBatchConn(conn)
	out := newWriter(conn, batch, cfg.QueueCap, cfg.BatchSize, c)
	s, err := newSession(cfg.Conv, raddr, cfg.Engine, out, pcap)
	if err != nil {
		conn.Close()
		if pcap != nil {
			pcap.Close()
		}
		return nil, err
	}

	done := make(chan struct{})
	readerDone := make(chan struct{})
	s.onClose = func(*Session) {
		atomic.AddUint64(&c.sessionsClosed, 1)
		close(done)
		out.stop()
		conn.Close()
		<-readerDone
		if pcap != nil {
			pcap.Close()
		}
	}

	out.start()
	go func() {
		defer close(readerDone)
		readLoop(conn, batch, cfg.BatchSize, c, done, func(data []byte, from *net.UDPAddr) {
			if !from.IP.Equal(raddr.IP) || from.Port != raddr.Port {
				return
			}
			if err := s.input(data); err != nil {
				atomic.AddUint64(&c.inputRejects, 1)
				s.log.WithError(err).Debug("input rejected")
			}
		})
	}()
	s.link = c
	atomic.AddUint64(&c.sessionsCreated, 1)
	s.start()

	logging.InfoWithFields(logrus.Fields{
		"conv":   fmt.Sprintf("%#x", cfg.Conv),
		"local":  conn.LocalAddr().String(),
		"remote": raddr.String(),
		"mode":   cfg.Engine.Mode,
	}, "session dialed")
	return s, nil
}
