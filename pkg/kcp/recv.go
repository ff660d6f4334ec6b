package kcp

import "github.com/sirupsen/logrus"

// PeekSize returns the length of the next complete message without
// consuming it, or ErrAgain when none is ready.
func (k *KCP) PeekSize() (int, error) {
	if k.released {
		return 0, ErrReleased
	}
	if k.rcvQueue.Len() == 0 {
		return 0, ErrAgain
	}
	first := k.rcvQueue.front()
	if first.frg == 0 {
		return len(first.data), nil
	}
	if k.rcvQueue.Len() < int(first.frg)+1 {
		return 0, ErrAgain
	}
	length := 0
	for _, s := range k.rcvQueue.items {
		length += len(s.data)
		if s.frg == 0 {
			break
		}
	}
	return length, nil
}

// Recv copies the next complete message into buf and returns its length.
// It fails with ErrAgain when no message is ready, ErrBufferTooSmall when
// buf cannot hold it (nothing is consumed), and ErrDeadLink once the link is
// dead and every delivered message has been read.
func (k *KCP) Recv(buf []byte) (int, error) {
	size, err := k.PeekSize()
	if err != nil {
		if err == ErrAgain && k.dead {
			return 0, ErrDeadLink
		}
		return 0, err
	}
	if size > len(buf) {
		return 0, ErrBufferTooSmall
	}

	wasFull := k.rcvQueue.Len() >= int(k.rcvWnd)

	n := 0
	for k.rcvQueue.Len() > 0 {
		s := k.rcvQueue.popFront()
		n += copy(buf[n:], s.data)
		last := s.frg == 0
		if k.canLog(LogRecv) {
			k.log.WithFields(logrus.Fields{"sn": s.sn, "frg": s.frg}).Debug("recv")
		}
		s.release()
		if last {
			break
		}
	}

	k.drainRcvBuf()

	// The queue was full, so the peer saw wnd 0. Tell it the window reopened.
	if wasFull && k.rcvQueue.Len() < int(k.rcvWnd) {
		k.probe |= askTell
	}
	return n, nil
}

// insertRcvBuf files a received segment by sn, discarding duplicates and
// anything outside [rcv_nxt, rcv_nxt+rcv_wnd), then moves whatever became
// contiguous to the receive queue.
func (k *KCP) insertRcvBuf(s *segment) {
	if timediff(s.sn, k.rcvNxt+k.rcvWnd) >= 0 || timediff(s.sn, k.rcvNxt) < 0 {
		k.counters.dropWindow++
		s.release()
		return
	}
	if k.rcvBuf.Has(s) {
		k.counters.dupSegs++
		s.release()
		return
	}
	k.rcvBuf.ReplaceOrInsert(s)
	k.drainRcvBuf()
}

// drainRcvBuf moves in-order segments to the receive queue while it has room.
func (k *KCP) drainRcvBuf() {
	for k.rcvQueue.Len() < int(k.rcvWnd) {
		s, ok := k.rcvBuf.Min()
		if !ok || s.sn != k.rcvNxt {
			return
		}
		k.rcvBuf.DeleteMin()
		k.rcvQueue.push(s)
		k.rcvNxt++
	}
}
