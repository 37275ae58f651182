// Package capture defines the hardware contract of the image capture path:
// the GPIF state machine that samples the sensor's parallel bus, and the
// manual many-to-one DMA channel that moves captured buffers from the
// parallel port sockets to a USB IN endpoint.
//
// Buffers are owned by the producer side until Commit, then by the consumer
// side until the endpoint drains them, at which point ChannelConfig.OnConsume
// runs. A buffer handed out by GetBuffer must be committed before the next
// GetBuffer call.
//
// The waveform raises [EventInterrupt] at frame valid. The state reported
// with it tells whether the last buffer of the frame is partial and still in
// a socket ([StatePartialInSocket0], [StatePartialInSocket1]), in which case
// it must be forced out with [Channel.WrapUp], or was already full.
//
// A simulated implementation lives in package sim.
package capture
