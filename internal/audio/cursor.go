package audio

import "time"

// Cursor is the next free start position on the output audio timeline. It
// only ever moves forward, which is what guarantees streamed chunks play
// back-to-back in arrival order with no gap, no overlap, and no chunk
// scheduled in the past.
//
// Positions are offsets from the output context's epoch, not wall-clock
// times. The cursor has exactly one writer: the session controller's
// receive path.
type Cursor struct {
	next time.Duration
}

func NewCursor() *Cursor { return &Cursor{} }

// Schedule places a chunk of the given duration on the timeline. now is the
// current position of the output clock. The returned start is
// max(cursor, now); the cursor then advances past the chunk's end.
func (c *Cursor) Schedule(now, chunk time.Duration) (start time.Duration) {
	start = c.next
	if now > start {
		start = now
	}
	c.next = start + chunk
	return start
}

// Next exposes the current cursor position.
func (c *Cursor) Next() time.Duration { return c.next }

// Reset rewinds the timeline for session cleanup.
func (c *Cursor) Reset() { c.next = 0 }
