package changelog

import (
	"context"
	"testing"
	"time"
)

func TestWaitForAppendWake(t *testing.T) {
	l := newTestLog(t)

	done := make(chan bool, 1)
	go func() {
		done <- l.WaitForAppend(context.Background(), 500*time.Millisecond)
	}()

	time.Sleep(50 * time.Millisecond)
	if _, err := l.Append(context.Background(), []AppendRecord{{Payload: []byte("x")}}); err != nil {
		t.Fatalf("append: %v", err)
	}

	select {
	case woke := <-done:
		if !woke {
			t.Fatalf("expected wake by append")
		}
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for waiter to wake")
	}
}

func TestWaitForAppendTimeout(t *testing.T) {
	l := newTestLog(t)
	if l.WaitForAppend(context.Background(), 50*time.Millisecond) {
		t.Fatalf("expected timeout")
	}
}

func TestWaitForAppendCancelled(t *testing.T) {
	l := newTestLog(t)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	if l.WaitForAppend(ctx, 0) {
		t.Fatalf("cancel must not report a wake")
	}
	if time.Since(start) > time.Second {
		t.Fatalf("cancel did not unblock promptly")
	}
}
