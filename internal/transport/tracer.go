package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/rjboer/GoSDDC/internal/logging"
	"github.com/rjboer/GoSDDC/internal/sddc"
)

// TraceEvent is one vendor request recorded by a Tracer.
type TraceEvent struct {
	Timestamp time.Time    `cbor:"1,keyasint"`
	Session   string       `cbor:"2,keyasint"`
	Seq       uint64       `cbor:"3,keyasint"`
	Cmd       sddc.Command `cbor:"4,keyasint"`
	Value     uint16       `cbor:"5,keyasint,omitempty"`
	Index     uint16       `cbor:"6,keyasint,omitempty"`
	Data      []byte       `cbor:"7,keyasint,omitempty"`
	N         int          `cbor:"8,keyasint"`
	Error     string       `cbor:"9,keyasint,omitempty"`
}

var (
	traceEncMode cbor.EncMode
	traceDecMode cbor.DecMode
)

func init() {
	var err error
	traceEncMode, err = cbor.EncOptions{
		Sort:        cbor.SortCanonical,
		IndefLength: cbor.IndefLengthForbidden,
		Time:        cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("trace encoder mode: %v", err))
	}
	traceDecMode, err = cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyQuiet,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("trace decoder mode: %v", err))
	}
}

// Tracer wraps a Transport and appends a CBOR TraceEvent to w for every
// vendor request, GPIO writes included. Encoding errors never fail the request.
type Tracer struct {
	sddc.Transport

	mu      sync.Mutex
	enc     *cbor.Encoder
	session string
	seq     uint64
	now     func() time.Time
	logger  logging.Logger
	broken  bool
}

// TracerOption customizes a Tracer.
type TracerOption func(*Tracer)

// WithTraceLogger sets where trace write failures are reported.
func WithTraceLogger(l logging.Logger) TracerOption {
	return func(tr *Tracer) {
		if l != nil {
			tr.logger = l
		}
	}
}

// NewTracer traces t into w under a fresh session id. A failed trace write
// never fails the request; the first one is logged as a warning.
func NewTracer(t sddc.Transport, w io.Writer, opts ...TracerOption) *Tracer {
	tr := &Tracer{
		Transport: t,
		enc:       traceEncMode.NewEncoder(w),
		session:   uuid.NewString(),
		now:       time.Now,
		logger:    logging.Default(),
	}
	for _, opt := range opts {
		opt(tr)
	}
	return tr
}

// Session returns the id stamped on every event.
func (tr *Tracer) Session() string { return tr.session }

func (tr *Tracer) Control(cmd sddc.Command, value, index uint16, data []byte) (int, error) {
	n, err := tr.Transport.Control(cmd, value, index, data)
	tr.record(cmd, value, index, data, n, err)
	return n, err
}

// The GPIO and I2C helpers of the wrapped transport bypass Control, so the
// register value is recorded here instead.
func (tr *Tracer) GPIOSet(pattern, mask uint16) error {
	return tr.gpio(tr.Transport.GPIOSet(pattern, mask))
}

func (tr *Tracer) GPIOOn(bits uint16) error     { return tr.gpio(tr.Transport.GPIOOn(bits)) }
func (tr *Tracer) GPIOOff(bits uint16) error    { return tr.gpio(tr.Transport.GPIOOff(bits)) }
func (tr *Tracer) GPIOToggle(bits uint16) error { return tr.gpio(tr.Transport.GPIOToggle(bits)) }

func (tr *Tracer) gpio(err error) error {
	reg, _ := tr.Transport.GPIOGet()
	tr.record(sddc.CmdGPIOFX3, reg, 0, nil, 0, err)
	return err
}

func (tr *Tracer) I2CWrite(addr, reg uint8, data []byte) error {
	err := tr.Transport.I2CWrite(addr, reg, data)
	tr.record(sddc.CmdI2CWriteFX3, uint16(addr), uint16(reg), data, len(data), err)
	return err
}

func (tr *Tracer) I2CRead(addr, reg uint8, data []byte) error {
	err := tr.Transport.I2CRead(addr, reg, data)
	tr.record(sddc.CmdI2CReadFX3, uint16(addr), uint16(reg), data, len(data), err)
	return err
}

// ReadBulk forwards to the wrapped transport when it streams. Bulk data is
// not traced.
func (tr *Tracer) ReadBulk(ctx context.Context, buf []byte) (int, error) {
	r, ok := tr.Transport.(interface {
		ReadBulk(context.Context, []byte) (int, error)
	})
	if !ok {
		return 0, fmt.Errorf("traced transport: bulk read: %w", sddc.ErrNotSupported)
	}
	return r.ReadBulk(ctx, buf)
}

func (tr *Tracer) record(cmd sddc.Command, value, index uint16, data []byte, n int, err error) {
	ev := TraceEvent{
		Cmd:   cmd,
		Value: value,
		Index: index,
		Data:  append([]byte(nil), data...),
		N:     n,
	}
	if err != nil {
		ev.Error = err.Error()
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.seq++
	ev.Seq = tr.seq
	ev.Session = tr.session
	ev.Timestamp = tr.now()
	if err := tr.enc.Encode(ev); err != nil && !tr.broken {
		tr.broken = true
		tr.logger.Warn("trace write failed",
			logging.Field{Key: "session", Value: tr.session},
			logging.Field{Key: "seq", Value: ev.Seq},
			logging.Field{Key: "error", Value: err},
		)
	}
}

// ReadTrace decodes every event in r.
func ReadTrace(r io.Reader) ([]TraceEvent, error) {
	dec := traceDecMode.NewDecoder(r)
	var events []TraceEvent
	for {
		var ev TraceEvent
		if err := dec.Decode(&ev); err != nil {
			if errors.Is(err, io.EOF) {
				return events, nil
			}
			return events, fmt.Errorf("decode trace event %d: %w", len(events)+1, err)
		}
		events = append(events, ev)
	}
}
