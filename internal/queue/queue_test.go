package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMailbox_LatestValueWins(t *testing.T) {
	t.Parallel()
	m := NewMailbox[int]()

	if _, ok := m.Take(); ok {
		t.Fatal("Take on empty mailbox returned ok")
	}

	if m.Put(1) {
		t.Error("Put into empty mailbox reported an overwrite")
	}
	m.Put(2)
	if !m.Put(3) {
		t.Error("Put over an unread value reported no overwrite")
	}

	v, ok := m.Take()
	if !ok || v != 3 {
		t.Fatalf("Take = (%d, %v), want (3, true)", v, ok)
	}
	if _, ok := m.Take(); ok {
		t.Error("mailbox still full after Take")
	}
	if got := m.Overwritten(); got != 2 {
		t.Errorf("Overwritten = %d, want 2", got)
	}
}

func TestMailbox_WaitWakesOnPut(t *testing.T) {
	t.Parallel()
	m := NewMailbox[string]()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan string, 1)
	go func() {
		v, err := m.Wait(ctx)
		if err != nil {
			done <- "err: " + err.Error()
			return
		}
		done <- v
	}()

	time.Sleep(10 * time.Millisecond)
	m.Put("window")

	select {
	case got := <-done:
		if got != "window" {
			t.Errorf("Wait = %q, want %q", got, "window")
		}
	case <-time.After(time.Second):
		t.Fatal("Wait did not wake after Put")
	}
}

func TestMailbox_WaitHonoursContext(t *testing.T) {
	t.Parallel()
	m := NewMailbox[int]()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait err = %v, want context.Canceled", err)
	}
}

func TestRing_DropsOldest(t *testing.T) {
	t.Parallel()
	var hooks int
	r := NewRing(3, WithDropHook[int](func() { hooks++ }))

	for i := 1; i <= 5; i++ {
		r.Push(i)
	}
	if r.Len() != 3 {
		t.Fatalf("Len = %d, want 3", r.Len())
	}
	if r.Dropped() != 2 || hooks != 2 {
		t.Errorf("Dropped = %d hooks = %d, want 2/2", r.Dropped(), hooks)
	}
	for _, want := range []int{3, 4, 5} {
		v, ok := r.TryPop()
		if !ok || v != want {
			t.Errorf("TryPop = (%d, %v), want (%d, true)", v, ok, want)
		}
	}
	if _, ok := r.TryPop(); ok {
		t.Error("TryPop on drained ring returned ok")
	}
}

func TestRing_MinimumDepth(t *testing.T) {
	t.Parallel()
	r := NewRing[int](0)
	if r.Cap() != 1 {
		t.Errorf("Cap = %d, want 1", r.Cap())
	}
	if r.Push(1) {
		t.Error("first Push reported a drop")
	}
	if !r.Push(2) {
		t.Error("second Push did not report a drop")
	}
}

func TestRing_PopTimeout(t *testing.T) {
	t.Parallel()
	r := NewRing[int](2)
	ctx := context.Background()

	start := time.Now()
	_, ok, err := r.PopTimeout(ctx, 20*time.Millisecond)
	if err != nil || ok {
		t.Fatalf("PopTimeout on empty = (ok=%v, err=%v), want timeout", ok, err)
	}
	if time.Since(start) < 15*time.Millisecond {
		t.Error("PopTimeout returned before its timeout")
	}

	go func() {
		time.Sleep(5 * time.Millisecond)
		r.Push(7)
	}()
	v, ok, err := r.PopTimeout(ctx, time.Second)
	if err != nil || !ok || v != 7 {
		t.Errorf("PopTimeout = (%d, %v, %v), want (7, true, nil)", v, ok, err)
	}
}

func TestRing_ConcurrentProducersNeverBlock(t *testing.T) {
	t.Parallel()
	r := NewRing[int](4)
	var wg sync.WaitGroup
	for p := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 100 {
				r.Push(p*100 + i)
			}
		}()
	}
	wg.Wait()
	if r.Len() != 4 {
		t.Errorf("Len = %d, want 4", r.Len())
	}
	if r.Dropped() != 800-4 {
		t.Errorf("Dropped = %d, want %d", r.Dropped(), 800-4)
	}
}

func TestRing_PopBlocksUntilPush(t *testing.T) {
	t.Parallel()
	r := NewRing[int](1)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	go func() {
		time.Sleep(5 * time.Millisecond)
		r.Push(42)
	}()
	v, err := r.Pop(ctx)
	if err != nil || v != 42 {
		t.Errorf("Pop = (%d, %v), want (42, nil)", v, err)
	}
}
