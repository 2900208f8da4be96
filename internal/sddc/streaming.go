package sddc

import (
	"context"
	"errors"
	"fmt"

	"github.com/rjboer/GoSDDC/internal/logging"
)

// FrameCallback receives each filled frame in completion order. The slice is
// only valid for the duration of the call.
type FrameCallback func(frame []byte)

// Streamer moves sample frames from the receiver to the host.
type Streamer interface {
	SetSampleRate(rate uint32)
	Start() error
	Stop() error
	ResetStatus() error
	ReadSync(buf []byte) (int, error)
}

// StreamerFactory builds the Streamer for an opened transport.
type StreamerFactory func(t Transport, frameSize, frameCount uint32, cb FrameCallback) (Streamer, error)

// SampleRate returns the ADC sample rate in Hz used by the next Start.
func (d *Device) SampleRate() float64 { return d.sampleRate }

// SetSampleRate stores the ADC sample rate. It takes effect on the next Start.
func (d *Device) SetSampleRate(hz float64) error {
	const op = "set sample rate"
	if d.closed {
		return d.fail(op, ErrClosed)
	}
	if !(hz > 0 && hz <= 0xffffffff) {
		return d.fail(op, fmt.Errorf("sample rate %g Hz: %w", hz, ErrInvalidParameter))
	}
	d.sampleRate = hz
	d.report()
	return nil
}

// ConfigureStreaming creates the Streamer. It can succeed only once per Device.
func (d *Device) ConfigureStreaming(frameSize, frameCount uint32, cb FrameCallback) error {
	const op = "configure streaming"
	if d.closed {
		return d.fail(op, ErrClosed)
	}
	if d.streamer != nil {
		return d.fail(op, ErrStreamingConfigured)
	}
	if d.newStreamer == nil {
		return d.fail(op, fmt.Errorf("no streamer factory: %w", ErrNotSupported))
	}
	if frameSize == 0 || frameCount == 0 {
		return d.fail(op, fmt.Errorf("frame size %d, count %d: %w", frameSize, frameCount, ErrInvalidParameter))
	}

	s, err := d.newStreamer(d.transport, frameSize, frameCount, cb)
	if err != nil {
		return d.fail(op, err)
	}
	d.streamer = s
	d.logger.Debug("streaming configured",
		logging.Field{Key: "frame_size", Value: frameSize},
		logging.Field{Key: "frame_count", Value: frameCount},
	)
	return nil
}

// HandleEvents pumps pending transport events once so queued transfer
// callbacks can run. Callers invoke it repeatedly while streaming.
func (d *Device) HandleEvents(ctx context.Context) error {
	const op = "handle events"
	if d.closed {
		return d.fail(op, ErrClosed)
	}
	if err := d.transport.HandleEvents(ctx); err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return err
		}
		return d.fail(op, err)
	}
	return nil
}

// ResetStatus clears the streamer's error and overflow state.
func (d *Device) ResetStatus() error {
	const op = "reset status"
	if d.closed {
		return d.fail(op, ErrClosed)
	}
	if d.streamer == nil {
		return d.fail(op, ErrNotConfigured)
	}
	if err := d.streamer.ResetStatus(); err != nil {
		return d.fail(op, err)
	}
	return nil
}

// ReadSync performs a blocking read of raw sample data.
func (d *Device) ReadSync(buf []byte) (int, error) {
	const op = "read sync"
	if d.closed {
		return 0, d.fail(op, ErrClosed)
	}
	if d.streamer == nil {
		return 0, d.fail(op, ErrNotConfigured)
	}
	n, err := d.streamer.ReadSync(buf)
	if err != nil {
		return n, d.fail(op, err)
	}
	return n, nil
}
