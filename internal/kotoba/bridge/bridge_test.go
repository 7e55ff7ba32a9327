package bridge

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSubmit_ReturnsValue(t *testing.T) {
	b := New(2, 4, nil)
	defer b.Close()

	got, err := Submit(context.Background(), b, time.Second, func(context.Context) (string, error) {
		return "done", nil
	})
	if err != nil || got != "done" {
		t.Fatalf("Submit = %q, %v", got, err)
	}

	wantErr := errors.New("task failed")
	_, err = Submit(context.Background(), b, time.Second, func(context.Context) (int, error) { return 0, wantErr })
	if !errors.Is(err, wantErr) {
		t.Errorf("Submit err = %v, want the task's error", err)
	}
}

func TestSubmit_TimeoutReleasesTask(t *testing.T) {
	b := New(1, 1, nil)
	released := make(chan struct{})

	_, err := Submit(context.Background(), b, 20*time.Millisecond, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		close(released)
		return 0, ctx.Err()
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Submit err = %v, want ErrTimeout", err)
	}
	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("task context was not cancelled")
	}
	b.Close()
}

func TestSubmit_CallerCancellation(t *testing.T) {
	b := New(1, 1, nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Submit(ctx, b, time.Second, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Submit err = %v, want ErrTimeout", err)
	}
}

func TestSubmit_AbandonedTaskIsSkipped(t *testing.T) {
	b := New(1, 1, nil)
	block := make(chan struct{})
	started := make(chan struct{})

	go func() {
		_, _ = Submit(context.Background(), b, time.Second, func(context.Context) (int, error) {
			close(started)
			<-block
			return 0, nil
		})
	}()
	<-started

	var ran atomic.Bool
	_, err := Submit(context.Background(), b, 20*time.Millisecond, func(context.Context) (int, error) {
		ran.Store(true)
		return 0, nil
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Submit err = %v, want ErrTimeout while the only worker is busy", err)
	}

	close(block)
	b.Close()
	if ran.Load() {
		t.Error("a task whose caller gave up was still executed")
	}
}

func TestSubmit_Panic(t *testing.T) {
	b := New(1, 0, nil)
	defer b.Close()

	_, err := Submit(context.Background(), b, time.Second, func(context.Context) (int, error) {
		panic("boom")
	})
	if err == nil || !strings.Contains(err.Error(), "panicked: boom") {
		t.Errorf("Submit err = %v, want recovered panic", err)
	}

	got, err := Submit(context.Background(), b, time.Second, func(context.Context) (int, error) { return 7, nil })
	if err != nil || got != 7 {
		t.Errorf("worker unusable after a panic: %d, %v", got, err)
	}
}

func TestSubmit_AfterClose(t *testing.T) {
	b := New(1, 0, nil)
	b.Close()
	b.Close()

	_, err := Submit(context.Background(), b, time.Second, func(context.Context) (int, error) { return 1, nil })
	if !errors.Is(err, ErrClosed) {
		t.Errorf("Submit err = %v, want ErrClosed", err)
	}
}
