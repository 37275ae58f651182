package uvc

import (
	"fmt"
	"sync"

	"github.com/ardnew/fx3uvc/device/hal/capture"
	"github.com/ardnew/fx3uvc/pkg"
)

// Mode selects which DMA channel layout the pipeline runs.
type Mode uint8

// Pipeline modes.
const (
	ModeNone     Mode = iota // no channel
	ModeVideo                // dual-socket channel to the video endpoint
	ModeAnalyser             // single-socket raw capture to the analyser endpoint
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeVideo:
		return "video"
	case ModeAnalyser:
		return "analyser"
	default:
		return "none"
	}
}

// Endpoint returns the IN endpoint the mode drains into. ModeNone reports
// the video endpoint.
func (m Mode) Endpoint() uint8 {
	if m == ModeAnalyser {
		return EndpointAnalyser
	}
	return EndpointVideo
}

// ChannelConfig returns the channel layout of the mode. Callbacks are left
// unset.
func (m Mode) ChannelConfig() capture.ChannelConfig {
	cfg := capture.ChannelConfig{
		Size:      BufferSize,
		Count:     BufferCount,
		Producers: []capture.Socket{capture.SocketPIB0, capture.SocketPIB1},
		Consumer:  m.Endpoint(),
	}
	switch m {
	case ModeAnalyser:
		cfg.Producers = cfg.Producers[:1]
		cfg.Footer = AnalyserFooterSize
	default:
		cfg.Header = VideoHeaderSize
		cfg.Footer = VideoFooterSize
	}
	return cfg
}

// Pipeline owns the one DMA channel of the function. The channel is tagged
// with its mode; moving to another mode destroys the old channel before the
// new one is created, so the two layouts never coexist.
type Pipeline struct {
	dma       capture.DMA
	onConsume func()
	onError   func(code uint16)

	mutex   sync.Mutex
	mode    Mode
	channel capture.Channel
}

// NewPipeline creates an empty pipeline. onConsume and onError are
// installed on every channel it creates.
func NewPipeline(dma capture.DMA, onConsume func(), onError func(code uint16)) *Pipeline {
	return &Pipeline{
		dma:       dma,
		onConsume: onConsume,
		onError:   onError,
	}
}

// Ensure returns a channel in mode, recreating it if the current channel
// runs another mode.
func (p *Pipeline) Ensure(mode Mode) (capture.Channel, error) {
	if mode == ModeNone {
		return nil, pkg.ErrInvalidParameter
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.channel != nil && p.mode == mode {
		return p.channel, nil
	}
	p.destroyLocked()

	cfg := mode.ChannelConfig()
	cfg.OnConsume = p.onConsume
	cfg.OnError = p.onError
	ch, err := p.dma.CreateChannel(cfg)
	if err != nil {
		return nil, fmt.Errorf("create %s channel: %w", mode, err)
	}
	p.channel = ch
	p.mode = mode
	pkg.LogDebug(pkg.ComponentDMA, "pipeline mode changed",
		"mode", mode.String(),
		"consumer", cfg.Consumer)
	return ch, nil
}

func (p *Pipeline) destroyLocked() {
	if p.channel == nil {
		return
	}
	if err := p.channel.Destroy(); err != nil {
		pkg.LogWarn(pkg.ComponentDMA, "destroy channel failed",
			"mode", p.mode.String(),
			"error", err)
	}
	p.channel = nil
	p.mode = ModeNone
}

// Channel returns the current channel, or nil.
func (p *Pipeline) Channel() capture.Channel {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.channel
}

// Mode returns the current mode.
func (p *Pipeline) Mode() Mode {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.mode
}

// Current returns the channel together with its mode.
func (p *Pipeline) Current() (capture.Channel, Mode) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.channel, p.mode
}

// Close destroys the channel.
func (p *Pipeline) Close() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.destroyLocked()
	return nil
}
