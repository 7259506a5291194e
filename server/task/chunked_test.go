package task

import (
	"sync"
	"testing"
)

func TestTrackerAllocatesEachIndexOnce(t *testing.T) {
	tr := NewTracker(10)
	seen := map[int32]bool{}
	for i := 0; i < 10; i++ {
		g, ok := tr.Next()
		if !ok {
			t.Fatalf("Next() failed before exhausting range at i=%d", i)
		}
		if seen[g.Chunk()] {
			t.Fatalf("chunk %d allocated twice", g.Chunk())
		}
		seen[g.Chunk()] = true
		g.Finish()
	}
	if _, ok := tr.Next(); ok {
		t.Fatal("expected Next() to fail once every index is allocated")
	}
	if !tr.Done() {
		t.Fatal("expected Done() once every chunk finished")
	}
}

func TestTrackerCancelRequeuesAheadOfFreshAllocation(t *testing.T) {
	tr := NewTracker(3)
	g0, _ := tr.Next() // chunk 0
	g1, _ := tr.Next() // chunk 1
	g1.Cancel()

	g2, ok := tr.Next()
	if !ok {
		t.Fatal("expected a chunk to still be available")
	}
	if g2.Chunk() != 1 {
		t.Fatalf("expected the cancelled chunk 1 to be reissued before fresh chunk 2, got %d", g2.Chunk())
	}

	g3, ok := tr.Next()
	if !ok || g3.Chunk() != 2 {
		t.Fatalf("expected fresh chunk 2 after the requeue drained, got %d ok=%v", g3.Chunk(), ok)
	}

	g0.Finish()
	g2.Finish()
	g3.Finish()
	if !tr.Done() {
		t.Fatal("expected Done() once all three chunks finished")
	}
}

func TestTrackerDoneWaitsForOutstandingCancellation(t *testing.T) {
	tr := NewTracker(2)
	g0, _ := tr.Next()
	g1, _ := tr.Next()
	g1.Cancel()
	g0.Finish()

	if tr.Done() {
		t.Fatal("expected Done() false while chunk 1 is still queued for retry")
	}

	g1b, ok := tr.Next()
	if !ok || g1b.Chunk() != 1 {
		t.Fatalf("expected reissue of chunk 1, got %d ok=%v", g1b.Chunk(), ok)
	}
	g1b.Finish()
	if !tr.Done() {
		t.Fatal("expected Done() true once the retried chunk finished")
	}
}

func TestTrackerAllocatedReflectsQueueState(t *testing.T) {
	tr := NewTracker(2)
	g0, _ := tr.Next()
	if tr.Allocated() {
		t.Fatal("not every index has been handed out yet")
	}
	g1, _ := tr.Next()
	if !tr.Allocated() {
		t.Fatal("expected Allocated() once every index has been handed out and nothing is queued")
	}
	g1.Cancel()
	if tr.Allocated() {
		t.Fatal("expected Allocated() false while a cancellation is queued")
	}
	g0.Finish()
	g2, _ := tr.Next()
	g2.Finish()
}

func TestTrackerConcurrentAllocationCoversRangeExactlyOnce(t *testing.T) {
	const max = 200
	tr := NewTracker(max)
	var mu sync.Mutex
	seen := map[int32]int{}
	var wg sync.WaitGroup
	for w := 0; w < 16; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				g, ok := tr.Next()
				if !ok {
					return
				}
				mu.Lock()
				seen[g.Chunk()]++
				mu.Unlock()
				g.Finish()
			}
		}()
	}
	wg.Wait()
	if len(seen) != max {
		t.Fatalf("expected %d distinct chunks allocated, got %d", max, len(seen))
	}
	for c, n := range seen {
		if n != 1 {
			t.Fatalf("chunk %d allocated %d times", c, n)
		}
	}
}
