package sddc

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidState reports an operation issued in the wrong lifecycle state.
	ErrInvalidState = errors.New("invalid device state")

	// ErrInvalidParameter reports a rejected argument. Nothing was written.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrNotSupported reports a feature the hardware model does not have.
	ErrNotSupported = errors.New("not supported by hardware")

	// ErrStreamingConfigured is returned by a second ConfigureStreaming call.
	ErrStreamingConfigured = errors.New("streaming already configured")

	// ErrNotConfigured is returned by streaming operations before ConfigureStreaming.
	ErrNotConfigured = errors.New("streaming not configured")

	// ErrClosed is returned by operations on a closed device.
	ErrClosed = errors.New("device closed")

	// ErrProtocol reports a malformed reply from the device.
	ErrProtocol = errors.New("protocol error")

	// ErrListFreed is returned when a DeviceList is used after Free.
	ErrListFreed = errors.New("device list already freed")
)

// OpError records a failed vendor command.
type OpError struct {
	Op  string
	Cmd Command
	Err error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Cmd, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }
