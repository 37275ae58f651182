package capture

import "testing"

func TestChannelConfigValidate(t *testing.T) {
	valid := ChannelConfig{
		Size:      16384,
		Count:     4,
		Producers: []Socket{SocketPIB0, SocketPIB1},
		Consumer:  0x83,
		Header:    12,
		Footer:    4,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if got := valid.PayloadSize(); got != 16368 {
		t.Errorf("PayloadSize() = %d, want 16368", got)
	}

	tests := []struct {
		name   string
		modify func(c *ChannelConfig)
	}{
		{"zero size", func(c *ChannelConfig) { c.Size = 0 }},
		{"zero count", func(c *ChannelConfig) { c.Count = 0 }},
		{"no producers", func(c *ChannelConfig) { c.Producers = nil }},
		{"OUT consumer", func(c *ChannelConfig) { c.Consumer = 0x03 }},
		{"no payload room", func(c *ChannelConfig) { c.Header = 16380 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.modify(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() accepted invalid config")
			}
		})
	}
}

func TestIsBackflow(t *testing.T) {
	tests := []struct {
		code uint16
		want bool
	}{
		{PIBErrorBackflow0, true},
		{PIBErrorBackflow1, true},
		{0x1004, false},
		{0, false},
	}
	for _, tt := range tests {
		if got := IsBackflow(tt.code); got != tt.want {
			t.Errorf("IsBackflow(0x%04X) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestGPIFEventString(t *testing.T) {
	if EventInterrupt.String() != "interrupt" {
		t.Errorf("EventInterrupt.String() = %q", EventInterrupt.String())
	}
	if got := GPIFEvent(9).String(); got != "GPIFEvent(9)" {
		t.Errorf("GPIFEvent(9).String() = %q", got)
	}
}
