package task

import (
	"sync"
	"sync/atomic"
)

// Tracker hands out disjoint chunk indices in [0, max) to concurrent
// workers, allows a worker to finish or cancel its index, and recovers
// cancelled indices before allocating fresh ones.
type Tracker struct {
	max       int32
	confirmed atomic.Int32
	head      atomic.Int32

	mu        sync.Mutex
	cancelled []int32
}

// NewTracker builds a Tracker over max disjoint chunk indices.
func NewTracker(max int32) *Tracker {
	return &Tracker{max: max}
}

// Done reports whether confirmed+1 >= max, where confirmed is the highest
// index finished while no cancellation was queued. It does not wait for
// lower indices still in flight, and a one-chunk Tracker reports Done
// before its only index has been handed out.
func (t *Tracker) Done() bool {
	return t.confirmed.Load()+1 >= t.max
}

// Allocated reports whether every index has been handed out at least once
// and none are currently queued for retry.
func (t *Tracker) Allocated() bool {
	return t.head.Load() >= t.max && t.cancelledEmpty()
}

func (t *Tracker) cancelledEmpty() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.cancelled) == 0
}

func (t *Tracker) popCancelled() (int32, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.cancelled) == 0 {
		return 0, false
	}
	c := t.cancelled[0]
	t.cancelled = t.cancelled[1:]
	return c, true
}

func (t *Tracker) pushCancelled(chunk int32) {
	t.mu.Lock()
	t.cancelled = append(t.cancelled, chunk)
	t.mu.Unlock()
}

// Next returns a cancelled index if one is queued, otherwise atomically
// bumps head and returns that. It returns ok=false once every index has
// been allocated and none are queued for retry.
func (t *Tracker) Next() (g *Guard, ok bool) {
	if chunk, ok := t.popCancelled(); ok {
		return &Guard{tracker: t, chunk: chunk}, true
	}

	for {
		head := t.head.Load()
		min := t.confirmed.Load()
		target := head
		if min > head {
			target = min
		}
		if head == target || t.head.CompareAndSwap(head, target) {
			break
		}
	}

	head := t.head.Add(1) - 1
	if head < t.max {
		return &Guard{tracker: t, chunk: head}, true
	}
	return nil, false
}

// markDone advances confirmed to chunk, but only while no cancellation is
// outstanding: a pending cancellation means some index below chunk hasn't
// actually completed, so confirmed must not skip past it.
func (t *Tracker) markDone(chunk int32) {
	if !t.cancelledEmpty() {
		return
	}
	for {
		curr := t.confirmed.Load()
		target := curr
		if chunk > curr {
			target = chunk
		}
		if curr == target || t.confirmed.CompareAndSwap(curr, target) {
			return
		}
	}
}

// cancelChunk re-queues chunk for a future Next, unless it's above head
// (never allocated), which would indicate a caller error.
func (t *Tracker) cancelChunk(chunk int32) {
	if chunk < t.head.Load() {
		t.pushCancelled(chunk)
	}
}

// Guard is one leased chunk index. Exactly one of Finish or Cancel should
// be called; Release covers an abandoned guard by cancelling it, standing
// in for the cancel-on-drop behavior Go has no destructor to express —
// callers are expected to `defer guard.Release()` immediately after Next.
type Guard struct {
	tracker *Tracker
	chunk   int32
	done    bool
}

// Chunk returns the leased index.
func (g *Guard) Chunk() int32 { return g.chunk }

// Finish marks the chunk done.
func (g *Guard) Finish() {
	if g.done {
		return
	}
	g.done = true
	g.tracker.markDone(g.chunk)
}

// Cancel re-queues the chunk for another worker.
func (g *Guard) Cancel() {
	if g.done {
		return
	}
	g.done = true
	g.tracker.cancelChunk(g.chunk)
}

// Release cancels the guard if it wasn't already finished or cancelled.
func (g *Guard) Release() {
	if g.done {
		return
	}
	g.Cancel()
}
