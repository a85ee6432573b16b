package queue

import "testing"

func TestPendingDrainOrder(t *testing.T) {
	var p Pending[int]
	p.Push(1, 2)
	p.Push(3)

	got := p.DrainAll()
	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("unexpected drain order %v", got)
	}
	if p.Len() != 0 {
		t.Fatalf("queue must be empty after drain")
	}
	if p.DrainAll() != nil {
		t.Fatalf("empty drain must return nil")
	}
}

func TestPendingRequeueHead(t *testing.T) {
	var p Pending[int]
	p.Push(1, 2, 3)

	batch := p.DrainAll()
	p.Push(4, 5) // newer rows arrive while the flush is failing
	p.RequeueHead(batch)

	got := p.DrainAll()
	want := []int{1, 2, 3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("retry order broken at %d: %v", i, got)
		}
	}
}

func TestPendingRequeueEmptyBatch(t *testing.T) {
	var p Pending[int]
	p.Push(7)
	p.RequeueHead(nil)
	if p.Len() != 1 {
		t.Fatalf("empty requeue must not change the queue")
	}
}
