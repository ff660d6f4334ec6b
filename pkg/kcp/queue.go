package kcp

// segQueue is a slice-backed deque of segments.
type segQueue struct {
	items []*segment
}

func (q *segQueue) Len() int { return len(q.items) }

func (q *segQueue) push(s *segment) { q.items = append(q.items, s) }

func (q *segQueue) front() *segment { return q.items[0] }

func (q *segQueue) back() *segment { return q.items[len(q.items)-1] }

func (q *segQueue) popFront() *segment {
	s := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = q.items[:0:0]
	}
	return s
}

// removeAt deletes the i-th segment, keeping order.
func (q *segQueue) removeAt(i int) *segment {
	s := q.items[i]
	copy(q.items[i:], q.items[i+1:])
	q.items[len(q.items)-1] = nil
	q.items = q.items[:len(q.items)-1]
	return s
}

// clear releases every payload and empties the queue.
func (q *segQueue) clear() {
	for i, s := range q.items {
		s.release()
		q.items[i] = nil
	}
	q.items = nil
}
