package kcp

// Protocol constants. Times are milliseconds.
const (
	rtoNoDelay = 30    // minimum rto in nodelay mode
	rtoMin     = 100   // minimum rto otherwise
	rtoDefault = 200   // rto before the first RTT sample
	rtoMax     = 60000 // rto ceiling

	cmdPush = 81 // data
	cmdAck  = 82 // acknowledgment
	cmdWask = 83 // window probe request
	cmdWins = 84 // window size reply

	askSend = 1 // a WASK is owed to the peer
	askTell = 2 // a WINS is owed to the peer

	// WndSnd and WndRcv are the default windows in segments. WndRcv is also
	// the floor of any receive window so a peer can always reassemble a
	// message of fewer than WndRcv fragments.
	WndSnd = 32
	WndRcv = 32

	// MTUDefault is the default datagram size.
	MTUDefault = 1400

	// Overhead is the fixed segment header size.
	Overhead = 24

	intervalDefault = 100
	deadLinkDefault = 20
	threshInit      = 2
	threshMin       = 2
	fastAckLimit    = 5

	probeInit  = 7000   // first window probe after 7s
	probeLimit = 120000 // probe interval cap

	maxWnd = 0xffff // wnd field is 16 bits on the wire

	// DefaultQueueLimit bounds the number of unsent segments a connection
	// buffers before Send reports ErrWindowFull.
	DefaultQueueLimit = 1024
)

// Log mask bits accepted by SetLogMask.
const (
	LogOutput   = 1 << iota // every datagram handed to Output
	LogInput                // every datagram passed to Input
	LogSend                 // Send calls
	LogRecv                 // Recv calls
	LogInData               // received PUSH segments
	LogInAck                // received ACK segments
	LogInProbe              // received WASK segments
	LogInWins               // received WINS segments
	LogOutData              // emitted PUSH segments
	LogOutAck               // emitted ACK segments
	LogOutProbe             // emitted WASK segments
	LogOutWins              // emitted WINS segments
)
