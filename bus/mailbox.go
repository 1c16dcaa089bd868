package bus

import (
	"container/heap"
	"context"
	"sync"

	"github.com/meshworks/actorbus/message"
)

// Mailbox is a bounded per-agent queue ordered by priority, FIFO within a
// priority. It has a single consumer: the owning agent's loop.
type Mailbox struct {
	mu       sync.Mutex
	items    itemHeap
	seq      uint64
	capacity int
	notify   chan struct{}
	closed   bool
}

// newMailbox creates a mailbox with the given capacity.
func newMailbox(capacity int) *Mailbox {
	return &Mailbox{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// Enqueue adds a message. Returns ErrMailboxClosed after Close, or
// ErrMailboxFull at capacity.
func (m *Mailbox) Enqueue(msg message.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrMailboxClosed
	}
	if len(m.items) >= m.capacity {
		return ErrMailboxFull
	}

	m.seq++
	heap.Push(&m.items, item{msg: msg, seq: m.seq})

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return nil
}

// Receive blocks until a message is available, the mailbox closes, or the
// context is done. Messages come out highest priority first, send order
// within a priority.
func (m *Mailbox) Receive(ctx context.Context) (message.Message, error) {
	for {
		m.mu.Lock()
		if len(m.items) > 0 {
			it := heap.Pop(&m.items).(item)
			m.mu.Unlock()
			return it.msg, nil
		}
		if m.closed {
			m.mu.Unlock()
			return message.Message{}, ErrMailboxClosed
		}
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return message.Message{}, ctx.Err()
		case <-m.notify:
		}
	}
}

// Len returns the number of queued messages.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Cap returns the mailbox capacity.
func (m *Mailbox) Cap() int {
	return m.capacity
}

// Close drops queued messages and wakes any blocked receiver.
func (m *Mailbox) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	m.items = nil
	close(m.notify)
}

// item pairs a message with its arrival sequence number.
type item struct {
	msg message.Message
	seq uint64
}

// itemHeap orders items by priority descending, then sequence ascending.
type itemHeap []item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].msg.Priority != h[j].msg.Priority {
		return h[i].msg.Priority > h[j].msg.Priority
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) {
	*h = append(*h, x.(item))
}

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}
