package broker

import "sync"

type pendingPublish struct {
	subject string
	data    []byte
}

// publishBuffer holds publishes accepted before the first broker connection.
// Bounded: adding past capacity evicts the oldest entry.
type publishBuffer struct {
	mu    sync.Mutex
	max   int
	items []pendingPublish
}

func newPublishBuffer(max int) *publishBuffer {
	return &publishBuffer{max: max}
}

// add appends an entry and returns the number of entries evicted to make room.
func (b *publishBuffer) add(subject string, data []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	evicted := 0
	for len(b.items) >= b.max {
		b.items = b.items[1:]
		evicted++
	}
	b.items = append(b.items, pendingPublish{subject: subject, data: data})
	return evicted
}

// drain returns all buffered entries in arrival order and empties the buffer.
func (b *publishBuffer) drain() []pendingPublish {
	b.mu.Lock()
	defer b.mu.Unlock()

	items := b.items
	b.items = nil
	return items
}

func (b *publishBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}
