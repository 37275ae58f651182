package uvc

import (
	"sync/atomic"
)

// State is the lifecycle state of a streaming session.
type State uint32

// Session states.
const (
	StateIdle      State = iota // waiting for a commit
	StateStreaming              // moving frames
	StateAborting               // abort raised, cleanup pending
	StateDisabled               // host detached
	StateFatal                  // startup configuration failed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateAborting:
		return "aborting"
	case StateDisabled:
		return "disabled"
	case StateFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Session holds the bookkeeping shared by the video context and the
// interrupt-style callbacks: buffer counters, frame boundary flags and the
// lifecycle state. Callbacks only set flags and bump counters; the video
// context alone resets them.
type Session struct {
	produced atomic.Int64
	consumed atomic.Int64

	frameValid     atomic.Bool
	partialPending atomic.Bool
	backflow       atomic.Bool
	clearFeature   atomic.Bool
	started        atomic.Bool

	state atomic.Uint32

	frames         atomic.Uint64
	committed      atomic.Uint64
	commitFailures atomic.Uint64
	backflows      atomic.Uint64
}

// State returns the lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// SetState moves to state unconditionally.
func (s *Session) SetState(state State) { s.state.Store(uint32(state)) }

// Transition moves from one state to another and reports whether the
// session was in from.
func (s *Session) Transition(from, to State) bool {
	return s.state.CompareAndSwap(uint32(from), uint32(to))
}

// Settle moves the session to Idle from whatever live state it is in and
// returns the resulting state. Disabled and Fatal are kept.
func (s *Session) Settle() State {
	for {
		cur := State(s.state.Load())
		if cur == StateDisabled || cur == StateFatal {
			return cur
		}
		if s.state.CompareAndSwap(uint32(cur), uint32(StateIdle)) {
			return StateIdle
		}
	}
}

// Produced returns the buffers committed in the current frame.
func (s *Session) Produced() int64 { return s.produced.Load() }

// Consumed returns the buffers drained in the current frame.
func (s *Session) Consumed() int64 { return s.consumed.Load() }

// Committing counts a buffer about to be committed.
func (s *Session) Committing() {
	s.produced.Add(1)
}

// CommitFailed takes back the count of a commit that did not happen.
func (s *Session) CommitFailed() {
	s.produced.Add(-1)
	s.commitFailures.Add(1)
}

// Committed records a successful commit.
func (s *Session) Committed() {
	s.committed.Add(1)
}

// Consume records a buffer drained by the endpoint. The first one marks
// the stream as started.
func (s *Session) Consume() {
	s.consumed.Add(1)
	s.started.Store(true)
}

// Started reports whether the host has drained data since the last stop.
func (s *Session) Started() bool { return s.started.Load() }

// Stop clears the started mark.
func (s *Session) Stop() { s.started.Store(false) }

// MarkPartial records a partial buffer left in a socket at frame valid.
// It must precede the wrap up that releases the buffer and the FrameValid
// call for the same frame.
func (s *Session) MarkPartial() {
	s.partialPending.Store(true)
}

// FrameValid records the frame valid interrupt.
func (s *Session) FrameValid() {
	s.frameValid.Store(true)
}

// PartialReceived clears the pending partial buffer once it is taken.
func (s *Session) PartialReceived() {
	s.partialPending.Store(false)
}

// PartialPending reports whether a partial buffer is still in a socket.
func (s *Session) PartialPending() bool { return s.partialPending.Load() }

// FrameReady reports whether the frame is complete: frame valid was seen,
// no partial buffer is pending and every committed buffer was drained.
func (s *Session) FrameReady() bool {
	if !s.frameValid.Load() {
		return false
	}
	if s.partialPending.Load() {
		return false
	}
	return s.produced.Load() == s.consumed.Load()
}

// EndFrame resets the per-frame state after a complete frame.
func (s *Session) EndFrame() {
	s.produced.Store(0)
	s.consumed.Store(0)
	s.frameValid.Store(false)
	s.backflow.Store(false)
	s.frames.Add(1)
}

// Abort resets the per-frame state after an abort.
func (s *Session) Abort() {
	s.produced.Store(0)
	s.consumed.Store(0)
	s.frameValid.Store(false)
	s.partialPending.Store(false)
}

// Backflow records a backflow error and reports whether it is the first
// since the last complete frame.
func (s *Session) Backflow() bool {
	s.backflows.Add(1)
	return !s.backflow.Swap(true)
}

// BackflowSeen reports whether backflow occurred in the current frame.
func (s *Session) BackflowSeen() bool { return s.backflow.Load() }

// MarkClearFeature records that the host cleared the streaming endpoint.
func (s *Session) MarkClearFeature() { s.clearFeature.Store(true) }

// TakeClearFeature returns and clears the clear feature mark.
func (s *Session) TakeClearFeature() bool { return s.clearFeature.Swap(false) }

// Stats is a snapshot of session counters.
type Stats struct {
	State          State
	Mode           Mode
	Frames         uint64
	Committed      uint64
	CommitFailures uint64
	Backflows      uint64
}

// Stats returns a snapshot of the counters.
func (s *Session) Stats() Stats {
	return Stats{
		State:          s.State(),
		Frames:         s.frames.Load(),
		Committed:      s.committed.Load(),
		CommitFailures: s.commitFailures.Load(),
		Backflows:      s.backflows.Load(),
	}
}
