package pkg

import (
	"errors"
	"fmt"
	"testing"
)

func TestSentinelErrorsDistinct(t *testing.T) {
	all := []error{
		ErrStall, ErrNAK, ErrTimeout, ErrCancelled, ErrProtocol, ErrNoDevice,
		ErrNotConfigured, ErrInvalidEndpoint, ErrInvalidState, ErrInvalidRequest,
		ErrBufferTooSmall, ErrNotSupported, ErrBusy, ErrNoMemory,
		ErrDescriptorTooShort, ErrDescriptorTypeMismatch,
		ErrSetupPacketTooShort, ErrAlreadyRunning, ErrNotRunning,
		ErrInvalidParameter, ErrReset, ErrSuspended, ErrNoBuffer,
		ErrChannelClosed, ErrGPIF, ErrFatalConfig,
	}
	for i, a := range all {
		for j, b := range all {
			if i != j && errors.Is(a, b) {
				t.Errorf("%v matches %v", a, b)
			}
		}
	}
}

func TestWrappedSentinel(t *testing.T) {
	err := fmt.Errorf("create video channel: %w", ErrFatalConfig)
	if !errors.Is(err, ErrFatalConfig) {
		t.Errorf("errors.Is(%v, ErrFatalConfig) = false", err)
	}
	if errors.Is(err, ErrGPIF) {
		t.Errorf("errors.Is(%v, ErrGPIF) = true", err)
	}
}
