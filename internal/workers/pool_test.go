package workers

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

func TestPoolRunsAllTasks(t *testing.T) {
	p := New("test", 3, 4)
	p.Start(context.Background())
	defer p.Stop()

	var n atomic.Int64
	for i := 0; i < 50; i++ {
		if err := p.Submit(func(ctx context.Context) { n.Add(1) }); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	p.Wait()

	if got := n.Load(); got != 50 {
		t.Errorf("ran %d tasks, want 50", got)
	}
}

func TestPoolStopDrainsQueue(t *testing.T) {
	p := New("drain", 1, 10)
	var n atomic.Int64
	for i := 0; i < 5; i++ {
		if err := p.Submit(func(ctx context.Context) { n.Add(1) }); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	p.Start(context.Background())
	p.Stop()

	if got := n.Load(); got != 5 {
		t.Errorf("ran %d tasks, want 5", got)
	}
}

func TestSubmitAfterStop(t *testing.T) {
	p := New("closed", 1, 1)
	p.Start(context.Background())
	p.Stop()

	if err := p.Submit(func(ctx context.Context) {}); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Submit after Stop = %v, want ErrPoolClosed", err)
	}
	p.Stop()
}

func TestPanickingTaskDoesNotKillWorker(t *testing.T) {
	p := New("panic", 1, 2)
	p.Start(context.Background())
	defer p.Stop()

	var ran atomic.Bool
	_ = p.Submit(func(ctx context.Context) { panic("boom") })
	_ = p.Submit(func(ctx context.Context) { ran.Store(true) })
	p.Wait()

	if !ran.Load() {
		t.Error("task after panic did not run")
	}
}
