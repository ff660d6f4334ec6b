// Package capture writes engine datagrams to a PCAP file for offline
// inspection. Records use LINKTYPE_USER0; each starts with one direction
// byte followed by the raw datagram as it appeared on the UDP socket.
package capture

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// LinkTypeUser0 is the PCAP link type carried in the global header.
const LinkTypeUser0 = 147

// Direction marks which way a datagram travelled.
type Direction byte

const (
	Inbound  Direction = 0
	Outbound Direction = 1
)

func (d Direction) String() string {
	if d == Outbound {
		return "out"
	}
	return "in"
}

// Writer appends records to a PCAP stream. It is safe for concurrent use.
type Writer struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
	now    func() time.Time
	rec    []byte
}

// NewWriter writes the global header to w and returns a Writer.
func NewWriter(w io.Writer) (*Writer, error) {
	// magic 0xa1b2c3d4, version 2.4, tz 0, sigfigs 0, snaplen 65535
	hdr := make([]byte, 24)
	binary.LittleEndian.PutUint32(hdr[0:4], 0xa1b2c3d4)
	binary.LittleEndian.PutUint16(hdr[4:6], 2)
	binary.LittleEndian.PutUint16(hdr[6:8], 4)
	binary.LittleEndian.PutUint32(hdr[16:20], 65535)
	binary.LittleEndian.PutUint32(hdr[20:24], LinkTypeUser0)
	if _, err := w.Write(hdr); err != nil {
		return nil, fmt.Errorf("write pcap header: %w", err)
	}
	return &Writer{w: w, now: time.Now}, nil
}

// Create opens path for writing and returns a Writer over it.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create pcap: %w", err)
	}
	cw, err := NewWriter(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	cw.closer = f
	return cw, nil
}

// Write appends one datagram.
func (c *Writer) Write(dir Direction, b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(b) + 1
	if cap(c.rec) < 16+n {
		c.rec = make([]byte, 16+n)
	}
	rec := c.rec[:16+n]
	// per-record header: ts_sec, ts_usec, incl_len, orig_len
	now := c.now()
	binary.LittleEndian.PutUint32(rec[0:4], uint32(now.Unix()))
	binary.LittleEndian.PutUint32(rec[4:8], uint32(now.Nanosecond()/1000))
	binary.LittleEndian.PutUint32(rec[8:12], uint32(n))
	binary.LittleEndian.PutUint32(rec[12:16], uint32(n))
	rec[16] = byte(dir)
	copy(rec[17:], b)
	_, err := c.w.Write(rec)
	return err
}

// Close closes the underlying file when the Writer owns one.
func (c *Writer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closer == nil {
		return nil
	}
	err := c.closer.Close()
	c.closer = nil
	return err
}
