package loop

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestRunPreservesOrder(t *testing.T) {
	l := New()

	var got []int
	for i := 0; i < 100; i++ {
		i := i
		l.Post(func() { got = append(got, i) })
	}
	l.Post(l.Stop)

	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if len(got) != 100 {
		t.Fatalf("ran %d closures, want 100", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("closure %d ran at position %d", v, i)
		}
	}
}

func TestPostFromInsideClosure(t *testing.T) {
	l := New()

	var order []string
	l.Post(func() {
		order = append(order, "outer")
		l.Post(func() {
			order = append(order, "inner")
			l.Stop()
		})
		order = append(order, "outer-end")
	})

	if err := l.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	want := []string{"outer", "outer-end", "inner"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestConcurrentPosters(t *testing.T) {
	l := New()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- l.Run(ctx) }()

	const posters, each = 8, 50
	count := 0
	var wg sync.WaitGroup
	for p := 0; p < posters; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < each; i++ {
				if err := l.Do(ctx, func() { count++ }); err != nil {
					t.Errorf("Do failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	var final int
	if err := l.Do(ctx, func() { final = count }); err != nil {
		t.Fatal(err)
	}
	if final != posters*each {
		t.Errorf("count = %d, want %d", final, posters*each)
	}

	l.Stop()
	if err := <-runErr; err != nil {
		t.Errorf("Run returned %v", err)
	}
}

func TestPostAfterStop(t *testing.T) {
	l := New()
	l.Stop()
	l.Stop()

	if l.Post(func() {}) {
		t.Error("Post should report false after Stop")
	}
	if err := l.Do(context.Background(), func() {}); !errors.Is(err, ErrStopped) {
		t.Errorf("Do after Stop = %v, want ErrStopped", err)
	}
	select {
	case <-l.Done():
	default:
		t.Error("Done should be closed")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := l.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v, want context.Canceled", err)
	}
	if l.Post(func() {}) {
		t.Error("loop should be stopped after context cancel")
	}
}
