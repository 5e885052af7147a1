package speaker

import "sync"

// Queue is the ingress FIFO between the network receiver and one engine.
// Enqueue may be called from any goroutine; TryDequeue only from the
// consumer. There is no capacity bound.
type Queue struct {
	mu      sync.Mutex
	packets []Packet
	wake    chan struct{}
}

func NewQueue() *Queue {
	return &Queue{wake: make(chan struct{}, 1)}
}

// Enqueue appends p and wakes a waiting consumer. A nil packet is ignored.
func (q *Queue) Enqueue(p *Packet) {
	if p == nil {
		return
	}

	q.mu.Lock()
	q.packets = append(q.packets, *p)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// TryDequeue pops the oldest packet without blocking.
func (q *Queue) TryDequeue() (Packet, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.packets) == 0 {
		return Packet{}, false
	}
	p := q.packets[0]
	q.packets[0] = Packet{}
	q.packets = q.packets[1:]
	if len(q.packets) == 0 {
		// Release the backing array once drained.
		q.packets = nil
	}
	return p, true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.packets)
}

// Wake is signalled after every Enqueue. Multiple enqueues between two
// receives collapse into one signal.
func (q *Queue) Wake() <-chan struct{} {
	return q.wake
}
