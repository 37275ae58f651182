// Package uvc implements a USB Video Class 1.0 function that streams frames
// from a parallel capture port.
//
// # Architecture
//
//   - [GPIFAdapter] loads, starts, restarts and disables the capture state
//     machine and forwards its frame valid interrupt
//   - [Pipeline] owns the one DMA channel, tagged with its [Mode]: video on
//     EP 0x83 with a 12-byte header, or analyser on EP 0x81 without one
//   - [Session] holds the produced and consumed counters, the frame
//     boundary flags and the [State]
//   - [ProbeTable] answers PROBE and COMMIT per link speed
//   - [PayloadHeaders] are the normal and end-of-frame headers whose frame
//     ID bits flip together once per frame
//   - [Function] is the class driver that ties them together
//
// # Execution contexts
//
// [Function.Run] starts two goroutines that share an [EventGroup]. The video
// context moves buffers while EventStream is raised and blocks on it
// otherwise. The control context answers class and vendor requests deferred
// by the setup path and forwards button edges to the sensor. Interrupt
// style callbacks (frame valid, consumer completion, port errors, bus
// events) only set flags and counters; a bus event also disables the
// capture machine before raising the abort.
//
// # Frames
//
// A frame ends when frame valid has fired, no partial buffer is left in a
// socket and every committed buffer has been drained. The video context
// then resets the counters, flips the frame ID in both headers, re-arms the
// channel and restarts the state machine.
//
// # Host side
//
// [ParsePayloadHeader] and [FrameAssembler] decode the stream the function
// produces. They are used by tests and by the bench binary.
package uvc
