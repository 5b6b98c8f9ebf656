package loop

import (
	"context"
	"sync"
	"testing"
	"time"
)

func startLoop(t *testing.T) *Loop {
	t.Helper()
	l := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go l.Run(ctx)
	return l
}

func TestLoopRunsTasksInOrder(t *testing.T) {
	t.Parallel()

	l := startLoop(t)
	var got []int
	for i := 0; i < 50; i++ {
		i := i
		if err := l.Post(func() { got = append(got, i) }); err != nil {
			t.Fatalf("Post failed: %v", err)
		}
	}
	if err := l.Do(context.Background(), func() {}); err != nil {
		t.Fatalf("Do failed: %v", err)
	}

	for i, v := range got {
		if v != i {
			t.Fatalf("task %d ran out of order (got %d)", i, v)
		}
	}
}

func TestLoopTasksNeverOverlap(t *testing.T) {
	t.Parallel()

	l := startLoop(t)
	var (
		mu      sync.Mutex
		running int
		overlap bool
		wg      sync.WaitGroup
	)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				_ = l.Do(context.Background(), func() {
					mu.Lock()
					running++
					if running > 1 {
						overlap = true
					}
					mu.Unlock()
					time.Sleep(10 * time.Microsecond)
					mu.Lock()
					running--
					mu.Unlock()
				})
			}
		}()
	}
	wg.Wait()
	if overlap {
		t.Fatal("tasks overlapped")
	}
}

func TestLoopSurvivesPanickingTask(t *testing.T) {
	t.Parallel()

	l := startLoop(t)
	_ = l.Do(context.Background(), func() { panic("boom") })

	ran := false
	if err := l.Do(context.Background(), func() { ran = true }); err != nil {
		t.Fatalf("Do after panic failed: %v", err)
	}
	if !ran {
		t.Fatal("expected task after panic to run")
	}
}

func TestLoopRejectsAfterStop(t *testing.T) {
	t.Parallel()

	l := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	if err := l.Post(func() {}); err != ErrStopped {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}
