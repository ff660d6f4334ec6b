package main

import (
	"context"
	"encoding/binary"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/irctrakz/arqlink/pkg/config"
	"github.com/irctrakz/arqlink/pkg/logging"
	"github.com/irctrakz/arqlink/pkg/transport"
)

func main() {
	var (
		cfgPath   = flag.String("config", "", "path to a .json/.yaml config file")
		mode      = flag.String("mode", "server", "server or client")
		pingEvery = flag.Duration("ping", time.Second, "client ping period")
		pingSize  = flag.Int("size", 64, "client ping size (bytes, min 16)")
		count     = flag.Int("count", 0, "client pings to send before exiting (0 = forever)")
	)
	flag.Parse()

	cfg := config.DefaultConfig()
	if *cfgPath != "" {
		if err := config.LoadFromFile(*cfgPath, cfg); err != nil {
			log.Fatalf("config: %v", err)
		}
	}
	config.LoadFromEnv(cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.ApplyLogging(); err != nil {
		log.Fatalf("logging: %v", err)
	}
	// DEBUG overrides the configured level
	dval := strings.ToLower(strings.TrimSpace(os.Getenv("DEBUG")))
	if dval == "1" || dval == "true" || dval == "yes" || dval == "on" {
		logging.SetLevel(logging.DebugLevel)
		logging.Infof("DEBUG enabled: verbose logging")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var src metricsSource
	switch *mode {
	case "server":
		l, err := transport.Listen(cfg.TransportSettings())
		if err != nil {
			log.Fatalf("listen: %v", err)
		}
		defer l.Close()
		logging.Infof("arqlink server listening on %s (mode=%s)", l.Addr(), cfg.Engine.Mode)
		src = listenerSource(l)
		go serve(ctx, l)
	case "client":
		s, err := transport.Dial(cfg.TransportSettings())
		if err != nil {
			log.Fatalf("dial: %v", err)
		}
		defer s.Close()
		src = sessionSource(s)
		go func() {
			ping(ctx, s, *pingEvery, *pingSize, *count)
			cancel()
		}()
	default:
		log.Fatalf("unknown -mode %q (want server or client)", *mode)
	}

	if cfg.Metrics.IntervalSec > 0 {
		go runMetricsReporter(ctx, src, time.Duration(cfg.Metrics.IntervalSec)*time.Second, cfg.Metrics.Format)
	}
	if cfg.Metrics.Addr != "" {
		go runHealthServer(ctx, cfg.Metrics.Addr, src)
	}

	<-ctx.Done()
}

// serve accepts sessions and echoes every message back to its sender.
func serve(ctx context.Context, l *transport.Listener) {
	for {
		s, err := l.Accept(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, transport.ErrClosed) {
				logging.Warnf("accept: %v", err)
			}
			return
		}
		go echo(ctx, s)
	}
}

func echo(ctx context.Context, s *transport.Session) {
	defer s.Close()
	buf := make([]byte, 64*1024)
	for {
		n, err := s.Recv(ctx, buf)
		if err != nil {
			logging.Debugf("session %#x from %s ended: %v", s.Conv(), s.RemoteAddr(), err)
			return
		}
		if _, err := s.Send(ctx, buf[:n]); err != nil {
			logging.Debugf("session %#x echo failed: %v", s.Conv(), err)
			return
		}
	}
}

// ping sends seq|unix-nanos probes and logs the round trip of each echo.
func ping(ctx context.Context, s *transport.Session, every time.Duration, size, count int) {
	if size < 16 {
		size = 16
	}
	msg := make([]byte, size)
	buf := make([]byte, 64*1024)
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for seq := uint64(1); count == 0 || seq <= uint64(count); seq++ {
		binary.BigEndian.PutUint64(msg[0:8], seq)
		binary.BigEndian.PutUint64(msg[8:16], uint64(time.Now().UnixNano()))
		if _, err := s.Send(ctx, msg); err != nil {
			logging.Errorf("ping %d: send: %v", seq, err)
			return
		}
		n, err := s.Recv(ctx, buf)
		if err != nil {
			logging.Errorf("ping %d: recv: %v", seq, err)
			return
		}
		if n < 16 {
			logging.Warnf("ping %d: short reply (%d bytes)", seq, n)
			continue
		}
		got := binary.BigEndian.Uint64(buf[0:8])
		sent := time.Unix(0, int64(binary.BigEndian.Uint64(buf[8:16])))
		st := s.Stats()
		logging.Infof("reply seq=%d bytes=%d rtt=%s srtt=%dms rto=%dms retrans=%d",
			got, n, time.Since(sent).Round(time.Microsecond), st.SRTT, st.RTO, st.RetransSegs)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
