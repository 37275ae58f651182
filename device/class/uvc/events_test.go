package uvc

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestEventPoll(t *testing.T) {
	var g EventGroup
	g.Set(EventStream | EventVendor)

	if _, ok := g.Poll(EventStream|EventAbort, WaitAll, false); ok {
		t.Error("WaitAll matched with a bit missing")
	}
	got, ok := g.Poll(EventStream|EventAbort, WaitAny, false)
	if !ok || got != EventStream {
		t.Errorf("Poll(any) = %v, %t", got, ok)
	}
	if g.Get() != EventStream|EventVendor {
		t.Errorf("non-consuming poll lowered bits: %v", g.Get())
	}

	got, ok = g.Poll(EventVendor, WaitAll, true)
	if !ok || got != EventVendor {
		t.Errorf("Poll(consume) = %v, %t", got, ok)
	}
	if g.Get() != EventStream {
		t.Errorf("Get() = %v, want stream", g.Get())
	}
}

func TestEventWait(t *testing.T) {
	var g EventGroup
	done := make(chan Event, 1)
	go func() {
		got, err := g.Wait(context.Background(), EventVideoControl|EventVideoStream, WaitAny, true)
		if err != nil {
			t.Errorf("Wait() error = %v", err)
		}
		done <- got
	}()

	g.Set(EventButtonDown)
	select {
	case got := <-done:
		t.Fatalf("Wait() returned %v on an unrelated bit", got)
	case <-time.After(10 * time.Millisecond):
	}

	g.Set(EventVideoStream)
	if got := <-done; got != EventVideoStream {
		t.Errorf("Wait() = %v", got)
	}
	if g.Get() != EventButtonDown {
		t.Errorf("Get() = %v after consuming wait", g.Get())
	}
}

func TestEventWaitCancelled(t *testing.T) {
	var g EventGroup
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := g.Wait(ctx, EventStream, WaitAny, false); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait() error = %v, want %v", err, context.Canceled)
	}
}

func TestEventTransfer(t *testing.T) {
	var g EventGroup
	if g.Transfer(EventStream, EventAbort) {
		t.Fatal("Transfer() moved a lowered bit")
	}
	if g.Get() != 0 {
		t.Fatalf("Get() = %v", g.Get())
	}

	g.Set(EventStream | EventButtonUp)
	if !g.Transfer(EventStream, EventAbort) {
		t.Fatal("Transfer() = false")
	}
	if g.Get() != EventAbort|EventButtonUp {
		t.Errorf("Get() = %v", g.Get())
	}
}

func TestEventString(t *testing.T) {
	tests := []struct {
		event Event
		want  string
	}{
		{0, "none"},
		{EventStream, "stream"},
		{EventAbort | EventVendor, "abort|vendor"},
		{EventButtonDown | EventButtonUp, "button-down|button-up"},
	}
	for _, tt := range tests {
		if got := tt.event.String(); got != tt.want {
			t.Errorf("Event(%d).String() = %q, want %q", uint32(tt.event), got, tt.want)
		}
	}
}
