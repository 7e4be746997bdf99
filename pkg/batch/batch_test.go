package batch

import (
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu      sync.Mutex
	batches [][]int
}

func (r *recorder) flush(items []int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, items)
}

func (r *recorder) snapshot() [][]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]int(nil), r.batches...)
}

func TestBuffer_CoalescesWithinWindow(t *testing.T) {
	rec := &recorder{}
	b := New(50*time.Millisecond, 0, rec.flush)

	for i := 0; i < 5; i++ {
		b.Add(i)
	}

	time.Sleep(150 * time.Millisecond)

	batches := rec.snapshot()
	if len(batches) != 1 {
		t.Fatalf("got %d batches, want 1", len(batches))
	}
	if len(batches[0]) != 5 {
		t.Errorf("batch size = %d, want 5", len(batches[0]))
	}
}

func TestBuffer_NewWindowAfterFlush(t *testing.T) {
	rec := &recorder{}
	b := New(30*time.Millisecond, 0, rec.flush)

	b.Add(1)
	time.Sleep(100 * time.Millisecond)
	b.Add(2)
	time.Sleep(100 * time.Millisecond)

	batches := rec.snapshot()
	if len(batches) != 2 {
		t.Fatalf("got %d batches, want 2", len(batches))
	}
}

func TestBuffer_MaxItemsFlushesEarly(t *testing.T) {
	rec := &recorder{}
	b := New(time.Hour, 3, rec.flush)

	for i := 0; i < 3; i++ {
		b.Add(i)
	}

	batches := rec.snapshot()
	if len(batches) != 1 {
		t.Fatalf("got %d batches, want 1 (bound reached)", len(batches))
	}
	if len(batches[0]) != 3 {
		t.Errorf("batch size = %d, want 3", len(batches[0]))
	}
}

func TestBuffer_FlushEmptyIsNoop(t *testing.T) {
	rec := &recorder{}
	b := New(time.Hour, 0, rec.flush)

	b.Flush()

	if len(rec.snapshot()) != 0 {
		t.Error("flush of an empty buffer should not call the callback")
	}
}

func TestBuffer_CloseFlushesAndRejects(t *testing.T) {
	rec := &recorder{}
	b := New(time.Hour, 0, rec.flush)

	b.Add(1)
	b.Close()

	batches := rec.snapshot()
	if len(batches) != 1 || len(batches[0]) != 1 {
		t.Fatalf("batches after close = %v, want one batch of one", batches)
	}

	b.Add(2)
	time.Sleep(20 * time.Millisecond)
	if len(rec.snapshot()) != 1 {
		t.Error("Add after Close should be rejected")
	}
}
