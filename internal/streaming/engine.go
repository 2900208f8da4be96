// Package streaming implements sddc.Streamer on top of a bulk IN endpoint.
//
// A reader goroutine fills a fixed ring of frame buffers and hands them to a
// dispatch goroutine over a channel; the dispatcher calls the frame callback
// in completion order and recycles the buffer. When every buffer is waiting
// on the dispatcher the reader drops the next transfer and counts an overflow.
package streaming

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rjboer/GoSDDC/internal/logging"
	"github.com/rjboer/GoSDDC/internal/sddc"
)

// BulkReader reads from the sample endpoint.
type BulkReader interface {
	ReadBulk(ctx context.Context, buf []byte) (int, error)
}

const (
	defaultReadTimeout = time.Second
	defaultMaxErrors   = 16
)

// Stats are cumulative counters since creation or the last ResetStatus.
type Stats struct {
	Frames    uint64 `json:"frames"`
	Bytes     uint64 `json:"bytes"`
	Overflows uint64 `json:"overflows"`
	Errors    uint64 `json:"errors"`
	LastError string `json:"lastError,omitempty"`
	// Stalled is set once the reader gave up after WithMaxErrors consecutive
	// failures. The engine still needs Stop.
	Stalled bool `json:"stalled,omitempty"`
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l logging.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithReadTimeout bounds each ReadSync call.
func WithReadTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.readTimeout = d
		}
	}
}

// WithMaxErrors stops the reader after n consecutive failed transfers.
func WithMaxErrors(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxErrors = n
		}
	}
}

// Engine is a ring-buffered bulk streamer.
type Engine struct {
	reader      BulkReader
	frameSize   int
	frameCount  int
	cb          sddc.FrameCallback
	logger      logging.Logger
	readTimeout time.Duration
	maxErrors   int

	mu      sync.Mutex
	rate    uint32
	running bool
	cancel  context.CancelFunc
	readWG  sync.WaitGroup
	dispWG  sync.WaitGroup
	ready   chan frame

	frames    atomic.Uint64
	bytes     atomic.Uint64
	overflows atomic.Uint64
	errors    atomic.Uint64
	lastErr   atomic.Pointer[string]
	stalled   atomic.Bool
}

type frame struct {
	buf []byte
	n   int
}

// New returns an Engine reading frameSize byte transfers into a ring of
// frameCount buffers. cb may be nil.
func New(r BulkReader, frameSize, frameCount uint32, cb sddc.FrameCallback, opts ...Option) (*Engine, error) {
	if r == nil {
		return nil, errors.New("streaming: nil bulk reader")
	}
	if frameSize == 0 || frameCount == 0 {
		return nil, fmt.Errorf("streaming: frame size %d, count %d: %w", frameSize, frameCount, sddc.ErrInvalidParameter)
	}
	e := &Engine{
		reader:      r,
		frameSize:   int(frameSize),
		frameCount:  int(frameCount),
		cb:          cb,
		logger:      logging.Default(),
		readTimeout: defaultReadTimeout,
		maxErrors:   defaultMaxErrors,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(logging.Field{Key: "subsystem", Value: "streaming"})
	return e, nil
}

// Factory adapts New to sddc.StreamerFactory. The transport handed to the
// factory must also implement BulkReader.
func Factory(opts ...Option) sddc.StreamerFactory {
	return func(t sddc.Transport, frameSize, frameCount uint32, cb sddc.FrameCallback) (sddc.Streamer, error) {
		r, ok := t.(BulkReader)
		if !ok {
			return nil, fmt.Errorf("streaming: transport %T has no bulk endpoint: %w", t, sddc.ErrNotSupported)
		}
		return New(r, frameSize, frameCount, cb, opts...)
	}
}

// SetSampleRate records the rate the device was started with.
func (e *Engine) SetSampleRate(rate uint32) {
	e.mu.Lock()
	e.rate = rate
	e.mu.Unlock()
}

// SampleRate returns the last rate given to SetSampleRate.
func (e *Engine) SampleRate() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rate
}

// Running reports whether the engine is between Start and Stop. A reader
// that gave up still counts; see Stats.Stalled.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Start launches the reader and dispatcher.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return fmt.Errorf("streaming: start: %w", sddc.ErrInvalidState)
	}

	free := make(chan []byte, e.frameCount)
	for i := 0; i < e.frameCount; i++ {
		free <- make([]byte, e.frameSize)
	}
	ready := make(chan frame, e.frameCount)
	ctx, cancel := context.WithCancel(context.Background())

	e.ready = ready
	e.cancel = cancel
	e.running = true
	e.stalled.Store(false)

	e.dispWG.Add(1)
	go e.dispatch(ready, free)
	e.readWG.Add(1)
	go e.read(ctx, ready, free)

	e.logger.Debug("streaming engine started",
		logging.Field{Key: "frame_size", Value: e.frameSize},
		logging.Field{Key: "frame_count", Value: e.frameCount},
		logging.Field{Key: "sample_rate", Value: e.rate},
	)
	return nil
}

// Stop cancels the reader and waits until every queued frame is delivered.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return fmt.Errorf("streaming: stop: %w", sddc.ErrInvalidState)
	}
	e.cancel()
	e.mu.Unlock()

	e.readWG.Wait()

	e.mu.Lock()
	close(e.ready)
	e.mu.Unlock()
	e.dispWG.Wait()

	e.mu.Lock()
	e.running = false
	e.cancel = nil
	e.ready = nil
	e.stalled.Store(false)
	e.mu.Unlock()

	e.logger.Debug("streaming engine stopped", logging.Field{Key: "frames", Value: e.frames.Load()})
	return nil
}

// ResetStatus clears the counters and the last error.
func (e *Engine) ResetStatus() error {
	e.frames.Store(0)
	e.bytes.Store(0)
	e.overflows.Store(0)
	e.errors.Store(0)
	e.lastErr.Store(nil)
	return nil
}

// ReadSync reads one transfer directly. It is rejected while streaming.
func (e *Engine) ReadSync(buf []byte) (int, error) {
	if e.Running() {
		return 0, fmt.Errorf("streaming: read sync while streaming: %w", sddc.ErrInvalidState)
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.readTimeout)
	defer cancel()
	n, err := e.reader.ReadBulk(ctx, buf)
	if err != nil {
		e.noteError(err)
		return n, fmt.Errorf("streaming: read sync: %w", err)
	}
	e.bytes.Add(uint64(n))
	return n, nil
}

// Stats returns the counters.
func (e *Engine) Stats() Stats {
	s := Stats{
		Frames:    e.frames.Load(),
		Bytes:     e.bytes.Load(),
		Overflows: e.overflows.Load(),
		Errors:    e.errors.Load(),
		Stalled:   e.stalled.Load(),
	}
	if p := e.lastErr.Load(); p != nil {
		s.LastError = *p
	}
	return s
}

func (e *Engine) read(ctx context.Context, ready chan<- frame, free chan []byte) {
	defer e.readWG.Done()

	scratch := make([]byte, e.frameSize)
	consecutive := 0
	for {
		if ctx.Err() != nil {
			return
		}

		buf, pooled := scratch, false
		select {
		case buf = <-free:
			pooled = true
		default:
		}

		n, err := e.reader.ReadBulk(ctx, buf)
		if err != nil {
			if pooled {
				free <- buf
			}
			if ctx.Err() != nil {
				return
			}
			e.noteError(err)
			consecutive++
			if consecutive >= e.maxErrors {
				e.stalled.Store(true)
				e.logger.Error("bulk reader giving up",
					logging.Field{Key: "consecutive_errors", Value: consecutive},
					logging.Field{Key: "error", Value: err},
				)
				return
			}
			e.logger.Warn("bulk read failed", logging.Field{Key: "error", Value: err})
			continue
		}
		consecutive = 0
		e.bytes.Add(uint64(n))

		if !pooled {
			e.overflows.Add(1)
			continue
		}
		ready <- frame{buf: buf, n: n}
	}
}

func (e *Engine) dispatch(ready <-chan frame, free chan<- []byte) {
	defer e.dispWG.Done()
	for f := range ready {
		if e.cb != nil {
			e.cb(f.buf[:f.n])
		}
		e.frames.Add(1)
		free <- f.buf
	}
}

func (e *Engine) noteError(err error) {
	e.errors.Add(1)
	msg := err.Error()
	e.lastErr.Store(&msg)
}
