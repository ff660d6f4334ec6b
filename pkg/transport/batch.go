package transport

import (
	"net"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/irctrakz/arqlink/pkg/logging"
)

// batchConn is the sendmmsg/recvmmsg surface shared by ipv4.PacketConn and
// ipv6.PacketConn; both use the same message type.
type batchConn interface {
	WriteBatch(ms []ipv4.Message, flags int) (int, error)
	ReadBatch(ms []ipv4.Message, flags int) (int, error)
}

var (
	_ batchConn = (*ipv4.PacketConn)(nil)
	_ batchConn = (*ipv6.PacketConn)(nil)
)

func isIPv4(conn *net.UDPConn) bool {
	la, ok := conn.LocalAddr().(*net.UDPAddr)
	return !ok || la.IP == nil || la.IP.To4() != nil
}

func newBatchConn(conn *net.UDPConn) batchConn {
	if isIPv4(conn) {
		return ipv4.NewPacketConn(conn)
	}
	return ipv6.NewPacketConn(conn)
}

// setDSCP marks the socket's outgoing datagrams.
func setDSCP(conn *net.UDPConn, dscp int) {
	if dscp <= 0 {
		return
	}
	var err error
	if isIPv4(conn) {
		err = ipv4.NewConn(conn).SetTOS(dscp << 2)
	} else {
		err = ipv6.NewConn(conn).SetTrafficClass(dscp << 2)
	}
	if err != nil {
		logging.Warnf("transport: could not set DSCP %d: %v", dscp, err)
	}
}

// udpNetwork picks udp4 or udp6 so the socket family matches the batch
// message encoding.
func udpNetwork(ip net.IP) string {
	if ip == nil || ip.To4() != nil {
		return "udp4"
	}
	return "udp6"
}
