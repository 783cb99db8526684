package eventloop

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestLoopRunsInOrder(t *testing.T) {
	l := New()
	var got []int
	for i := 0; i < 5; i++ {
		i := i
		l.Post(func() { got = append(got, i) })
	}
	l.Post(func() {
		// posted from inside the loop: runs after everything already queued
		l.Post(func() {
			got = append(got, 99)
			l.Stop()
		})
	})

	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	want := []int{0, 1, 2, 3, 4, 99}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("order (-want +got):\n%s", diff)
	}
}

func TestLoopPostFromOtherGoroutines(t *testing.T) {
	l := New()
	const n = 50
	var wg sync.WaitGroup
	count := 0
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			l.Post(func() {
				count++
				if count == n {
					l.Stop()
				}
			})
		}()
	}
	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	wg.Wait()
	if count != n {
		t.Fatalf("expected %d tasks, ran %d", n, count)
	}
}

func TestLoopContextCancel(t *testing.T) {
	l := New()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestLoopStopBeforeRun(t *testing.T) {
	l := New()
	ran := false
	l.Post(func() { ran = true })
	l.Stop()
	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if ran {
		t.Fatalf("task ran on a stopped loop")
	}
	if l.Pending() != 1 {
		t.Fatalf("expected queued task to remain, pending=%d", l.Pending())
	}
}

func TestLoopRunTwice(t *testing.T) {
	l := New()
	started := make(chan struct{})
	l.Post(func() { close(started) })
	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()
	<-started
	if err := l.Run(context.Background()); !errors.Is(err, ErrRunning) {
		t.Fatalf("expected ErrRunning, got %v", err)
	}
	l.Stop()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
}
