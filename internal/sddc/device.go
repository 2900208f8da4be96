// Package sddc drives the control plane of FX3 based direct-sampling SDR
// receivers (BBRF103, RX888, HF103 and relatives).
//
// A Device is opened from a Bus, probed for its hardware model, and then
// configured through vendor control requests and GPIO register writes. Sample
// transport is delegated to a Streamer created by ConfigureStreaming.
//
// A Device is not safe for concurrent use.
package sddc

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	"github.com/rjboer/GoSDDC/internal/logging"
)

// Default settings applied by Open.
const (
	DefaultSampleRate          = 64e6  // 64 Msps
	DefaultTunerFrequency      = 999e3 // MW broadcast
	DefaultFrequencyCorrection = 0.0
)

// Status is the streaming state of a Device.
type Status int

const (
	StatusReady Status = iota
	StatusStreaming
)

func (s Status) String() string {
	switch s {
	case StatusReady:
		return "ready"
	case StatusStreaming:
		return "streaming"
	default:
		return "unknown"
	}
}

// RFMode selects the HF (direct sampling) or VHF (tuner) signal path.
type RFMode int

const (
	HFMode RFMode = iota
	VHFMode
)

func (m RFMode) String() string {
	switch m {
	case HFMode:
		return "hf"
	case VHFMode:
		return "vhf"
	default:
		return "unknown"
	}
}

// Snapshot is a point-in-time copy of the device settings.
type Snapshot struct {
	Session             string  `json:"session"`
	Status              string  `json:"status"`
	Model               string  `json:"model"`
	Firmware            uint16  `json:"firmware"`
	RFMode              string  `json:"rfMode"`
	SampleRate          float64 `json:"sampleRate"`
	TunerFrequency      float64 `json:"tunerFrequency"`
	FrequencyCorrection float64 `json:"frequencyCorrection"`
	HFAttenuation       float64 `json:"hfAttenuation"`
	TunerAttenuation    float64 `json:"tunerAttenuation"`
}

// Reporter receives a Snapshot after every successful state change.
type Reporter interface {
	Report(Snapshot)
}

// Option customizes Open.
type Option func(*options)

type options struct {
	logger      logging.Logger
	reporter    Reporter
	newStreamer StreamerFactory
}

// WithLogger routes diagnostics to l instead of logging.Default().
func WithLogger(l logging.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithReporter publishes a Snapshot after each state change.
func WithReporter(r Reporter) Option {
	return func(o *options) { o.reporter = r }
}

// WithStreamerFactory sets the constructor used by ConfigureStreaming.
func WithStreamerFactory(f StreamerFactory) Option {
	return func(o *options) { o.newStreamer = f }
}

// Device is an opened receiver.
type Device struct {
	transport   Transport
	streamer    Streamer
	newStreamer StreamerFactory
	logger      logging.Logger
	reporter    Reporter
	session     string

	status   Status
	model    Model
	firmware uint16
	rfMode   RFMode
	caps     Capabilities

	sampleRate       float64
	tunerFrequency   float64
	freqCorrection   float64
	hfAttenuation    float64
	tunerAttenuation float64

	closed bool
}

// Open opens the receiver at index and probes its model and firmware.
// On any failure the transport is released and no Device is returned.
func Open(bus Bus, index int, opts ...Option) (*Device, error) {
	o := options{logger: logging.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	session := uuid.NewString()
	logger := o.logger.With(
		logging.Field{Key: "subsystem", Value: "sddc"},
		logging.Field{Key: "session", Value: session},
	)

	t, err := bus.Open(index)
	if err != nil {
		logger.Error("open transport failed", logging.Field{Key: "index", Value: index}, logging.Field{Key: "error", Value: err})
		return nil, fmt.Errorf("open device %d: %w", index, err)
	}

	var probe [4]byte
	n, err := t.Control(CmdTestFX3, 0, 0, probe[:])
	if err == nil && n < 3 {
		err = fmt.Errorf("short probe reply (%d bytes): %w", n, ErrProtocol)
	}
	if err != nil {
		logger.Error("probe failed", logging.Field{Key: "index", Value: index}, logging.Field{Key: "error", Value: err})
		if cerr := t.Close(); cerr != nil {
			logger.Warn("close after failed probe", logging.Field{Key: "error", Value: cerr})
		}
		return nil, &OpError{Op: "open", Cmd: CmdTestFX3, Err: err}
	}

	model := Model(probe[0])
	d := &Device{
		transport:      t,
		newStreamer:    o.newStreamer,
		reporter:       o.reporter,
		session:        session,
		status:         StatusReady,
		model:          model,
		firmware:       uint16(probe[1])<<8 | uint16(probe[2]),
		rfMode:         HFMode,
		caps:           CapabilitiesFor(model),
		sampleRate:     DefaultSampleRate,
		tunerFrequency: DefaultTunerFrequency,
		freqCorrection: DefaultFrequencyCorrection,
	}
	d.logger = logger.With(logging.Field{Key: "model", Value: model.String()})
	d.logger.Info("device opened",
		logging.Field{Key: "index", Value: index},
		logging.Field{Key: "firmware", Value: fmt.Sprintf("0x%04x", d.firmware)},
		logging.Field{Key: "clock_source", Value: d.caps.ClockSource},
		logging.Field{Key: "vhf_tuner", Value: d.caps.VHFTuner},
		logging.Field{Key: "hf_attenuator", Value: d.caps.HFAttenuator.String()},
	)
	d.report()
	return d, nil
}

// Close resets the hardware and releases the transport. A failed reset is
// logged and does not prevent the release.
func (d *Device) Close() error {
	if d.closed {
		return ErrClosed
	}
	d.closed = true

	if _, err := d.transport.Control(CmdResetFX3, 0, 0, nil); err != nil {
		d.logger.Warn("reset failed", logging.Field{Key: "error", Value: err})
	}
	if err := d.transport.Close(); err != nil {
		return d.fail("close", err)
	}
	d.logger.Info("device closed")
	return nil
}

// Status returns the streaming state.
func (d *Device) Status() Status { return d.status }

// Model returns the probed hardware model.
func (d *Device) Model() Model { return d.model }

// Firmware returns the probed firmware version.
func (d *Device) Firmware() uint16 { return d.firmware }

// Capabilities returns the capability record resolved at Open.
func (d *Device) Capabilities() Capabilities { return d.caps }

// Session returns the identifier attached to this Device's logs and traces.
func (d *Device) Session() string { return d.session }

// RFMode returns the selected signal path.
func (d *Device) RFMode() RFMode { return d.rfMode }

// SetRFMode selects the signal path. VHF requires a tuner.
func (d *Device) SetRFMode(mode RFMode) error {
	const op = "set rf mode"
	if d.closed {
		return d.fail(op, ErrClosed)
	}
	switch mode {
	case HFMode:
	case VHFMode:
		if !d.caps.VHFTuner {
			return d.fail(op, fmt.Errorf("no VHF/UHF tuner on %s: %w", d.model, ErrNotSupported))
		}
	default:
		return d.fail(op, fmt.Errorf("rf mode %d: %w", mode, ErrInvalidParameter))
	}
	d.rfMode = mode
	d.report()
	return nil
}

// TunerFrequency returns the last frequency the tuner accepted.
func (d *Device) TunerFrequency() float64 { return d.tunerFrequency }

// SetTunerFrequency tunes the VHF tuner. The stored frequency only changes
// when the device accepts the request.
func (d *Device) SetTunerFrequency(hz float64) error {
	const op = "set tuner frequency"
	if d.closed {
		return d.fail(op, ErrClosed)
	}
	if !(hz >= 0 && hz <= 0xffffffff) {
		return d.fail(op, fmt.Errorf("frequency %g Hz: %w", hz, ErrInvalidParameter))
	}

	payload := make([]byte, 4)
	binary.LittleEndian.PutUint32(payload, uint32(hz))
	if _, err := d.transport.Control(CmdR820T2Tune, 0, 0, payload); err != nil {
		return d.opFail(op, CmdR820T2Tune, err)
	}
	d.tunerFrequency = hz
	d.report()
	return nil
}

// Start brings up the receive pipeline and then starts the producer.
//
// Each step's failure aborts the sequence and leaves the status at Ready.
// Steps already issued are not undone.
func (d *Device) Start() error {
	const op = "start"
	if d.closed {
		return d.fail(op, ErrClosed)
	}
	if d.status != StatusReady {
		return d.fail(op, fmt.Errorf("status %s: %w", d.status, ErrInvalidState))
	}

	if d.caps.ClockSource {
		if err := d.programClock(op, d.sampleRate, d.tunerFrequency, d.freqCorrection); err != nil {
			return err
		}
	}
	if d.caps.VHFTuner {
		if _, err := d.transport.Control(CmdR820T2Stdby, 0, 0, nil); err != nil {
			return d.opFail(op, CmdR820T2Stdby, err)
		}
	}
	if err := d.SetHFAttenuation(0); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if d.caps.VHFTuner {
		if _, err := d.SetTunerAttenuation(0); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	if d.streamer != nil {
		d.streamer.SetSampleRate(uint32(d.sampleRate))
		if err := d.streamer.Start(); err != nil {
			return d.fail(op, fmt.Errorf("start streamer: %w", err))
		}
	}
	if _, err := d.transport.Control(CmdStartFX3, 0, 0, nil); err != nil {
		return d.opFail(op, CmdStartFX3, err)
	}

	d.status = StatusStreaming
	d.logger.Info("streaming started", logging.Field{Key: "sample_rate", Value: d.sampleRate})
	d.report()
	return nil
}

// Stop halts the producer and the streamer, then zeroes the clock outputs.
func (d *Device) Stop() error {
	const op = "stop"
	if d.closed {
		return d.fail(op, ErrClosed)
	}
	if d.status != StatusStreaming {
		return d.fail(op, fmt.Errorf("status %s: %w", d.status, ErrInvalidState))
	}

	if _, err := d.transport.Control(CmdStopFX3, 0, 0, nil); err != nil {
		return d.opFail(op, CmdStopFX3, err)
	}
	if d.streamer != nil {
		if err := d.streamer.Stop(); err != nil {
			return d.fail(op, fmt.Errorf("stop streamer: %w", err))
		}
	}
	// Zero frequencies disable the clock outputs on every model.
	if err := d.programClock(op, 0, 0, d.freqCorrection); err != nil {
		return err
	}

	d.status = StatusReady
	d.logger.Info("streaming stopped")
	d.report()
	return nil
}

// Snapshot returns the current settings.
func (d *Device) Snapshot() Snapshot {
	return Snapshot{
		Session:             d.session,
		Status:              d.status.String(),
		Model:               d.model.String(),
		Firmware:            d.firmware,
		RFMode:              d.rfMode.String(),
		SampleRate:          d.sampleRate,
		TunerFrequency:      d.tunerFrequency,
		FrequencyCorrection: d.freqCorrection,
		HFAttenuation:       d.hfAttenuation,
		TunerAttenuation:    d.tunerAttenuation,
	}
}

func (d *Device) report() {
	if d.reporter != nil {
		d.reporter.Report(d.Snapshot())
	}
}

// fail logs err and returns it wrapped with op.
func (d *Device) fail(op string, err error) error {
	return d.logged(op, fmt.Errorf("%s: %w", op, err))
}

// opFail logs and returns a failed vendor request.
func (d *Device) opFail(op string, cmd Command, err error) error {
	return d.logged(op, &OpError{Op: op, Cmd: cmd, Err: err})
}

func (d *Device) logged(op string, err error) error {
	d.logger.Error(op+" failed", logging.Field{Key: "error", Value: err})
	return err
}
