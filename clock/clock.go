package clock

import (
	"math"
	"time"

	"go.uber.org/atomic"
)

// Timestamp is a point on a replica's clock. Timestamps produced by one Clock
// are strictly increasing; timestamps from different replicas are compared as
// plain integers.
type Timestamp int64

// MaxTimestamp is the largest timestamp. Clocks that reach it stay there.
const MaxTimestamp = Timestamp(math.MaxInt64)

// Time interprets the timestamp as nanoseconds since the Unix epoch.
func (t Timestamp) Time() time.Time {
	return time.Unix(0, int64(t))
}

// Clock yields the timestamps recorded by local add and remove operations.
type Clock interface {
	Now() Timestamp
}

// Observer is implemented by clocks that advance past timestamps received
// from other replicas.
type Observer interface {
	Observe(ts Timestamp)
}

// Func adapts a plain function to the Clock interface.
type Func func() Timestamp

// Now calls f.
func (f Func) Now() Timestamp {
	return f()
}

// Hybrid reads the wall clock but never returns the same value twice, even
// when the wall clock stalls or steps backwards.
type Hybrid struct {
	last atomic.Int64
	wall func() time.Time
}

// NewHybrid creates a hybrid clock backed by time.Now.
func NewHybrid() *Hybrid {
	return NewHybridWithSource(time.Now)
}

// NewHybridWithSource creates a hybrid clock reading the given wall source.
func NewHybridWithSource(wall func() time.Time) *Hybrid {
	return &Hybrid{wall: wall}
}

// Now returns max(wall clock, last timestamp + 1), saturating at MaxTimestamp.
func (h *Hybrid) Now() Timestamp {
	for {
		last := h.last.Load()
		next := h.wall().UnixNano()
		if next <= last {
			next = tick(last)
		}
		if h.last.CAS(last, next) {
			return Timestamp(next)
		}
	}
}

// Observe makes every later call to Now return a value greater than ts, or
// MaxTimestamp once ts has reached it.
func (h *Hybrid) Observe(ts Timestamp) {
	observe(&h.last, ts)
}

// Logical is a counter clock: 1, 2, 3, ...
type Logical struct {
	counter atomic.Int64
}

// NewLogical creates a logical clock starting at zero.
func NewLogical() *Logical {
	return &Logical{}
}

// NewLogicalAt creates a logical clock whose first tick is start+1.
func NewLogicalAt(start Timestamp) *Logical {
	l := &Logical{}
	l.counter.Store(int64(start))
	return l
}

// Now increments the counter, saturating at MaxTimestamp.
func (l *Logical) Now() Timestamp {
	for {
		cur := l.counter.Load()
		next := tick(cur)
		if l.counter.CAS(cur, next) {
			return Timestamp(next)
		}
	}
}

// Observe advances the counter to ts if it is behind.
func (l *Logical) Observe(ts Timestamp) {
	observe(&l.counter, ts)
}

func tick(last int64) int64 {
	if last == math.MaxInt64 {
		return last
	}
	return last + 1
}

func observe(v *atomic.Int64, ts Timestamp) {
	for {
		cur := v.Load()
		if int64(ts) <= cur {
			return
		}
		if v.CAS(cur, int64(ts)) {
			return
		}
	}
}
