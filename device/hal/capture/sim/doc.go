// Package sim simulates the capture side of the streaming pipeline: an image
// sensor clocking frames into the GPIF block, the waveform's frame valid
// interrupt and a manual DMA channel draining into a USB endpoint.
//
// A [Port] implements both [capture.GPIF] and [capture.DMA]. The sensor
// writes a deterministic byte pattern (see [Pattern]) so a host-side reader
// can verify every payload. Frames end the way the waveform ends them: a
// short last buffer is parked in its socket and the interrupt reports a
// partial state until the handler calls WrapUp; an exactly full last buffer
// raises a full state once every buffer has been handed out.
//
// After raising its interrupt the waveform idles until Switch or Start. Reset
// on the channel aborts the frame in progress and disarms the channel until
// SetTransfer.
//
// When the producer has no free buffer for longer than
// Config.BackflowThreshold it reports a backflow error on the socket through
// ChannelConfig.OnError and keeps waiting.
package sim
