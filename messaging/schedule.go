package messaging

import "container/heap"

// schedule holds the outstanding sends ordered by next-check time, together
// with the acknowledgement index. Both are always updated by the same
// method call; the messenger serialises those calls under its mutex.
//
// Deadlines are unix nanoseconds. Two requests never share a deadline:
// a colliding deadline is bumped by one nanosecond until it is free.
type schedule struct {
	queue requestQueue
	byDue map[int64]*Request
	index map[MessageID]int64
}

func newSchedule() *schedule {
	return &schedule{
		byDue: make(map[int64]*Request),
		index: make(map[MessageID]int64),
	}
}

func (s *schedule) len() int { return len(s.queue) }

func (s *schedule) contains(id MessageID) bool {
	_, ok := s.index[id]
	return ok
}

func (s *schedule) freeSlot(due int64) int64 {
	for {
		if _, taken := s.byDue[due]; !taken {
			return due
		}
		due++
	}
}

// insert adds r with the given deadline and returns the deadline actually
// used.
func (s *schedule) insert(r *Request, due int64) int64 {
	due = s.freeSlot(due)
	r.due = due
	heap.Push(&s.queue, r)
	s.byDue[due] = r
	s.index[r.id] = due
	return due
}

// remove drops the request for id, returning nil when it is not scheduled.
func (s *schedule) remove(id MessageID) *Request {
	due, ok := s.index[id]
	if !ok {
		return nil
	}
	r := s.byDue[due]
	heap.Remove(&s.queue, r.heapIndex)
	delete(s.byDue, due)
	delete(s.index, id)
	return r
}

// reschedule moves r to a new deadline.
func (s *schedule) reschedule(r *Request, due int64) int64 {
	delete(s.byDue, r.due)
	due = s.freeSlot(due)
	r.due = due
	heap.Fix(&s.queue, r.heapIndex)
	s.byDue[due] = r
	s.index[r.id] = due
	return due
}

// peek returns the request with the earliest deadline, or nil.
func (s *schedule) peek() *Request {
	if len(s.queue) == 0 {
		return nil
	}
	return s.queue[0]
}

// requestQueue implements heap.Interface over Request deadlines.
type requestQueue []*Request

func (q requestQueue) Len() int           { return len(q) }
func (q requestQueue) Less(i, j int) bool { return q[i].due < q[j].due }

func (q requestQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].heapIndex = i
	q[j].heapIndex = j
}

func (q *requestQueue) Push(x any) {
	r := x.(*Request)
	r.heapIndex = len(*q)
	*q = append(*q, r)
}

func (q *requestQueue) Pop() any {
	old := *q
	n := len(old)
	r := old[n-1]
	old[n-1] = nil
	r.heapIndex = -1
	*q = old[:n-1]
	return r
}
