package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestDropOldestKeepsMostRecent(t *testing.T) {
	q := New[int](3)

	for i := 1; i <= 10; i++ {
		q.Push(i)
		if q.Len() > 3 {
			t.Fatalf("queue length %d exceeds capacity after push %d", q.Len(), i)
		}
	}

	var got []int
	for {
		v, ok := q.TryPop()
		if !ok {
			break
		}
		got = append(got, v)
	}
	want := []int{8, 9, 10}
	if len(got) != len(want) {
		t.Fatalf("drained %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("drained %v, want %v", got, want)
		}
	}
	if q.Drops() != 7 {
		t.Errorf("Drops() = %d, want 7", q.Drops())
	}
}

func TestPushReturnsEvicted(t *testing.T) {
	q := New[int](3)
	for i := 1; i <= 3; i++ {
		if _, dropped := q.Push(i); dropped {
			t.Fatalf("push %d dropped with room available", i)
		}
	}

	evicted, dropped := q.Push(4)
	if !dropped || evicted != 1 {
		t.Fatalf("Push(4) = (%d, %v), want (1, true)", evicted, dropped)
	}

	for _, want := range []int{2, 3, 4} {
		got, ok := q.TryPop()
		if !ok || got != want {
			t.Fatalf("TryPop() = (%d, %v), want (%d, true)", got, ok, want)
		}
	}
	if _, ok := q.TryPop(); ok {
		t.Error("TryPop() on empty queue returned an item")
	}
}

func TestUnboundedNeverDrops(t *testing.T) {
	q := New[int](0)
	for i := 0; i < 10000; i++ {
		if _, dropped := q.Push(i); dropped {
			t.Fatalf("unbounded queue dropped item %d", i)
		}
	}
	for i := 0; i < 10000; i++ {
		got, ok := q.TryPop()
		if !ok || got != i {
			t.Fatalf("TryPop() = (%d, %v), want (%d, true)", got, ok, i)
		}
	}
}

func TestConcurrentFIFOPerProducer(t *testing.T) {
	const producers = 4
	const perProducer = 2000

	type item struct {
		producer int
		seq      int
	}
	q := New[item](0)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push(item{producer: p, seq: i})
			}
		}(p)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	results := make(chan []item, 2)
	var consumers sync.WaitGroup
	var taken sync.Mutex
	total := 0
	for c := 0; c < 2; c++ {
		consumers.Add(1)
		go func() {
			defer consumers.Done()
			var got []item
			for {
				taken.Lock()
				if total == producers*perProducer {
					taken.Unlock()
					break
				}
				taken.Unlock()

				popCtx, popCancel := context.WithTimeout(ctx, 50*time.Millisecond)
				v, err := q.Pop(popCtx)
				popCancel()
				if err != nil {
					if ctx.Err() != nil {
						break
					}
					continue
				}
				taken.Lock()
				total++
				taken.Unlock()
				got = append(got, v)
			}
			results <- got
		}()
	}

	wg.Wait()
	consumers.Wait()
	close(results)

	seen := make(map[item]bool)
	for got := range results {
		last := make(map[int]int)
		for p := 0; p < producers; p++ {
			last[p] = -1
		}
		for _, v := range got {
			if seen[v] {
				t.Fatalf("item %+v delivered twice", v)
			}
			seen[v] = true
			if v.seq <= last[v.producer] {
				t.Fatalf("producer %d out of order: %d after %d", v.producer, v.seq, last[v.producer])
			}
			last[v.producer] = v.seq
		}
	}
	if len(seen) != producers*perProducer {
		t.Fatalf("delivered %d items, want %d", len(seen), producers*perProducer)
	}
}

func TestPopBlocksUntilPush(t *testing.T) {
	q := New[string](3)

	go func() {
		time.Sleep(20 * time.Millisecond)
		q.Push("frame")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	got, err := q.Pop(ctx)
	if err != nil {
		t.Fatalf("Pop() error = %v", err)
	}
	if got != "frame" {
		t.Errorf("Pop() = %q, want %q", got, "frame")
	}
}

func TestPopHonoursCancellation(t *testing.T) {
	q := New[int](1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := q.Pop(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Pop() error = %v, want DeadlineExceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Pop() returned after %v", elapsed)
	}
}

func TestClear(t *testing.T) {
	q := New[int](0)
	q.Push(1)
	q.Push(2)
	if n := q.Clear(); n != 2 {
		t.Errorf("Clear() = %d, want 2", n)
	}
	if q.Len() != 0 {
		t.Errorf("Len() = %d after Clear", q.Len())
	}
	q.Push(3)
	if v, ok := q.TryPop(); !ok || v != 3 {
		t.Errorf("TryPop() after Clear = (%d, %v)", v, ok)
	}
}
