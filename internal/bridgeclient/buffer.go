package bridgeclient

import "sync"

// outboundBuffer is the bounded, drop-oldest buffer of §3's "Bridge Client
// Outbound Buffer" invariant: size never exceeds limit, and dropped counts
// frames lost to overflow until the next successful drain.
type outboundBuffer struct {
	mu      sync.Mutex
	items   []interface{}
	limit   int
	dropped int
}

func newOutboundBuffer(limit int) *outboundBuffer {
	return &outboundBuffer{limit: limit}
}

// Push appends frame, dropping the oldest entry if the buffer is already at
// its limit.
func (b *outboundBuffer) Push(frame interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) >= b.limit {
		b.items = b.items[1:]
		b.dropped++
	}
	b.items = append(b.items, frame)
}

// Drain removes and returns every buffered frame in FIFO order along with
// the dropped count accumulated since the last drain, then resets dropped
// to zero.
func (b *outboundBuffer) Drain() ([]interface{}, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	items := b.items
	dropped := b.dropped
	b.items = nil
	b.dropped = 0
	return items, dropped
}
