package progress

import (
	"io"
	"sync"
)

// Reader wraps an io.Reader and reports every chunk read through it.
type Reader struct {
	Reader  io.Reader
	OnChunk func(chunk []byte, total int64)
	total   int64
}

func NewReader(r io.Reader, cb func(chunk []byte, total int64)) *Reader {
	return &Reader{Reader: r, OnChunk: cb}
}

func (pr *Reader) Read(p []byte) (int, error) {
	n, err := pr.Reader.Read(p)
	if n > 0 {
		pr.total += int64(n)
		if pr.OnChunk != nil {
			pr.OnChunk(p[:n], pr.total)
		}
	}

	return n, err
}

// Total returns the number of bytes read so far.
func (pr *Reader) Total() int64 {
	return pr.total
}

// Throttle decides when a progress report is due: every Interval bytes, and
// once when the 5% mark of a known total is crossed.
type Throttle struct {
	Interval int64

	mu         sync.Mutex
	lastReport int64
}

func NewThrottle(interval int64) *Throttle {
	return &Throttle{Interval: interval}
}

// Due reports whether written, out of total (-1 when unknown), should be
// reported. previous is the cumulative count before the latest chunk.
func (t *Throttle) Due(previous, written, total int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	crossedFivePercent := total > 0 && written*100/total >= 5 && previous*100/total < 5

	if written-t.lastReport >= t.Interval || crossedFivePercent {
		t.lastReport = written

		return true
	}

	return false
}
