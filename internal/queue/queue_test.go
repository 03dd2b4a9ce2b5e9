package queue

import (
	"sync"
	"testing"
)

type testItem struct {
	ID   int
	Name string
}

func TestQueue_Empty(t *testing.T) {
	q := New[testItem]()
	if q.Len() != 0 {
		t.Errorf("expected length 0, got %d", q.Len())
	}
	if items := q.Drain(); len(items) != 0 {
		t.Errorf("expected nothing drained, got %v", items)
	}
}

func TestQueue_Clear(t *testing.T) {
	q := New[testItem]()
	q.Push(testItem{ID: 1}, testItem{ID: 2})
	q.Clear()
	if q.Len() != 0 {
		t.Errorf("expected empty queue, got %d", q.Len())
	}
}

func TestQueue_RequeueGoesFirst(t *testing.T) {
	q := New[testItem]()
	q.Push(testItem{ID: 1}, testItem{ID: 2})
	failed := q.Drain()

	q.Push(testItem{ID: 3})
	q.Requeue(failed)
	q.Requeue(nil)

	items := q.Drain()
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	for i, want := range []int{1, 2, 3} {
		if items[i].ID != want {
			t.Errorf("item %d: expected ID %d, got %d", i, want, items[i].ID)
		}
	}
}

func TestQueue_DrainKeepsOrder(t *testing.T) {
	q := New[testItem]()
	for i := 0; i < 5; i++ {
		q.Push(testItem{ID: i})
	}

	items := q.Drain()
	if len(items) != 5 {
		t.Fatalf("expected 5 items, got %d", len(items))
	}
	for i, it := range items {
		if it.ID != i {
			t.Errorf("item %d has ID %d", i, it.ID)
		}
	}

	q.Push(testItem{ID: 9})
	if items[0].ID != 0 {
		t.Error("push after drain must not touch the drained slice")
	}
	if q.Len() != 1 {
		t.Errorf("expected 1 item, got %d", q.Len())
	}
}

func TestQueue_ConcurrentPushDrain(t *testing.T) {
	q := New[int]()
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				q.Push(j)
			}
		}()
	}

	total := 0
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for {
		select {
		case <-done:
			total += len(q.Drain())
			if total != 1000 {
				t.Errorf("expected 1000 items, got %d", total)
			}
			return
		default:
			total += len(q.Drain())
		}
	}
}
