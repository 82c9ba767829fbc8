package access

import (
	"container/list"
)

// logBuffer is a FIFO of encoded chunks. With a non-zero limit the oldest
// chunks are dropped to make room.
type logBuffer struct {
	l     *list.List
	usage int64
	limit int64
}

func newLogBuffer(limit int64) *logBuffer {
	return &logBuffer{
		l:     list.New(),
		limit: limit,
	}
}

// Push appends bs and returns how many chunks were dropped.
func (b *logBuffer) Push(bs []byte) (dropped int) {
	size := int64(len(bs))

	if b.limit > 0 {
		if size > b.limit {
			return 1
		}
		for b.usage+size > b.limit && b.l.Len() > 0 {
			b.Pop()
			dropped++
		}
	}

	b.l.PushBack(bs)
	b.usage += size
	return dropped
}

func (b *logBuffer) Pop() []byte {
	e := b.l.Front()
	if e == nil {
		return nil
	}

	bs := b.l.Remove(e).([]byte)
	b.usage -= int64(len(bs))
	return bs
}

func (b *logBuffer) Len() int {
	return b.l.Len()
}
