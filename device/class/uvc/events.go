package uvc

import (
	"context"
	"strings"
	"sync"
)

// Event is a set of event flags shared by the video and control contexts.
type Event uint32

// Event flags.
const (
	EventStream       Event = 1 << iota // start or keep streaming
	EventAbort                          // stop streaming
	EventVideoControl                   // class request for the control interface pending
	EventVideoStream                    // class request for the streaming interface pending
	EventButtonDown                     // button pressed
	EventButtonUp                       // button released
	EventVendor                         // vendor request pending
)

var eventNames = [...]string{"stream", "abort", "vc", "vs", "button-down", "button-up", "vendor"}

// String returns the flag names joined with '|'.
func (e Event) String() string {
	if e == 0 {
		return "none"
	}
	var names []string
	for i, name := range eventNames {
		if e&(1<<i) != 0 {
			names = append(names, name)
		}
	}
	return strings.Join(names, "|")
}

// WaitMode selects how Wait matches the requested mask.
type WaitMode uint8

// Wait modes.
const (
	WaitAny WaitMode = iota // any bit of the mask
	WaitAll                 // every bit of the mask
)

// EventGroup is a set of flags that goroutines can set, clear and wait on.
// The zero value is ready to use.
type EventGroup struct {
	mutex   sync.Mutex
	bits    Event
	changed chan struct{}
}

// broadcast wakes every waiter. Callers hold mutex.
func (g *EventGroup) broadcast() {
	if g.changed != nil {
		close(g.changed)
		g.changed = nil
	}
}

// Set raises bits.
func (g *EventGroup) Set(bits Event) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.bits |= bits
	g.broadcast()
}

// Clear lowers bits.
func (g *EventGroup) Clear(bits Event) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.bits &^= bits
}

// Transfer lowers from and, if any of its bits were raised, raises to in
// the same step. It reports whether the transfer happened.
func (g *EventGroup) Transfer(from, to Event) bool {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	if g.bits&from == 0 {
		return false
	}
	g.bits = g.bits&^from | to
	g.broadcast()
	return true
}

// Get returns the raised bits.
func (g *EventGroup) Get() Event {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	return g.bits
}

// match reports whether the group satisfies mask under mode, and lowers the
// matched bits when consume is set. Callers hold mutex.
func (g *EventGroup) match(mask Event, mode WaitMode, consume bool) (Event, bool) {
	got := g.bits & mask
	ok := got != 0
	if mode == WaitAll {
		ok = got == mask
	}
	if ok && consume {
		g.bits &^= got
	}
	return got, ok
}

// Poll checks the flags without blocking. It returns the matched bits and
// whether the condition held.
func (g *EventGroup) Poll(mask Event, mode WaitMode, consume bool) (Event, bool) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	return g.match(mask, mode, consume)
}

// Wait blocks until the flags satisfy mask under mode or ctx is done. With
// consume set, the matched bits are lowered before Wait returns.
func (g *EventGroup) Wait(ctx context.Context, mask Event, mode WaitMode, consume bool) (Event, error) {
	for {
		g.mutex.Lock()
		if got, ok := g.match(mask, mode, consume); ok {
			g.mutex.Unlock()
			return got, nil
		}
		if g.changed == nil {
			g.changed = make(chan struct{})
		}
		changed := g.changed
		g.mutex.Unlock()

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-changed:
		}
	}
}
