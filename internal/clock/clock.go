// Package clock provides the millisecond time sources the kernel samples when a
// task is first scheduled and when a snapshot is taken.
package clock

import (
	"sync"
	"time"
)

// Clock reports the current kernel time in milliseconds.
type Clock interface {
	NowMillis() uint64
}

// Boot counts milliseconds since it was constructed, the same way a kernel
// timer counts from boot. It is monotonic.
type Boot struct {
	start time.Time
}

// NewBoot returns a Boot clock whose zero is the moment of the call.
func NewBoot() *Boot { return &Boot{start: time.Now()} }

func (b *Boot) NowMillis() uint64 {
	return uint64(time.Since(b.start).Milliseconds())
}

// Manual is a clock that only moves when told to. Safe for concurrent use.
type Manual struct {
	mu  sync.Mutex
	now uint64
}

// NewManual returns a Manual clock reading start.
func NewManual(start uint64) *Manual { return &Manual{now: start} }

func (m *Manual) NowMillis() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Set moves the clock to ms. Moving backwards is allowed; callers that do so
// get the saturated elapsed values documented on domain.Snapshot.
func (m *Manual) Set(ms uint64) {
	m.mu.Lock()
	m.now = ms
	m.mu.Unlock()
}

// Advance moves the clock forward by d, truncated to whole milliseconds.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now += uint64(d.Milliseconds())
	m.mu.Unlock()
}
