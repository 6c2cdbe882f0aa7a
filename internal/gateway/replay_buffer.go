package gateway

import "sync"

type replayEntry struct {
	Seq  int64
	Data []byte
}

// ReplayBuffer keeps the most recent envelopes of one channel so that a
// reconnecting client can backfill what it missed.
type ReplayBuffer struct {
	mu      sync.RWMutex
	entries []replayEntry
	head    int // oldest entry once the buffer has wrapped
	size    int
}

// NewReplayBuffer creates a buffer holding at most capacity envelopes.
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = 500
	}
	return &ReplayBuffer{entries: make([]replayEntry, capacity)}
}

// Push stores a copy of data under seq, evicting the oldest entry when full.
func (rb *ReplayBuffer) Push(seq int64, data []byte) {
	e := replayEntry{Seq: seq, Data: append([]byte(nil), data...)}

	rb.mu.Lock()
	defer rb.mu.Unlock()
	n := len(rb.entries)
	if rb.size < n {
		rb.entries[(rb.head+rb.size)%n] = e
		rb.size++
		return
	}
	rb.entries[rb.head] = e
	rb.head = (rb.head + 1) % n
}

// Range returns entries with seq in [fromSeq, toSeq], oldest first.
func (rb *ReplayBuffer) Range(fromSeq, toSeq int64) []replayEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	var out []replayEntry
	n := len(rb.entries)
	for i := 0; i < rb.size; i++ {
		e := rb.entries[(rb.head+i)%n]
		if e.Seq >= fromSeq && e.Seq <= toSeq {
			out = append(out, e)
		}
	}
	return out
}

// After returns every entry newer than seq.
func (rb *ReplayBuffer) After(seq int64) []replayEntry {
	return rb.Range(seq+1, 1<<62)
}

// Len returns the number of buffered entries.
func (rb *ReplayBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.size
}
