package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rjboer/GoSDDC/internal/sddc"
)

// ErrTransportClosed is returned by a Mock after Close.
var ErrTransportClosed = errors.New("transport closed")

// Call is one vendor request seen by a Mock.
type Call struct {
	Cmd   sddc.Command
	Value uint16
	Index uint16
	Data  []byte
}

// Mock simulates an FX3 receiver. It answers the probe, keeps the GPIO
// register, and remembers what the clock generator, tuner and attenuators
// were last told. Every request is journaled, including failed ones.
type Mock struct {
	mu sync.Mutex

	model    sddc.Model
	firmware uint16
	probeLen int

	gpio       *GPIOShadow
	tunerIndex byte
	tunerFreq  uint32
	dat31      byte
	clockADC   uint32
	clockTuner uint32
	running    bool
	resets     int
	i2c        map[uint16][]byte

	calls     []Call
	failures  map[sddc.Command]error
	bulkErr   error
	bulkDelay time.Duration
	bulkSeq   byte
	closed    bool
}

// NewMock returns a simulated receiver reporting model and firmware.
func NewMock(model sddc.Model, firmware uint16) *Mock {
	m := &Mock{
		model:    model,
		firmware: firmware,
		probeLen: 4,
		i2c:      make(map[uint16][]byte),
		failures: make(map[sddc.Command]error),
	}
	m.gpio = NewGPIOShadow(0, m.controlLocked)
	return m
}

// FailOn makes every later request with cmd fail with err. A nil err clears it.
func (m *Mock) FailOn(cmd sddc.Command, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, cmd)
		return
	}
	m.failures[cmd] = err
}

// FailBulk makes ReadBulk fail with err. A nil err clears it.
func (m *Mock) FailBulk(err error) {
	m.mu.Lock()
	m.bulkErr = err
	m.mu.Unlock()
}

// SetBulkDelay paces ReadBulk to roughly one transfer per d.
func (m *Mock) SetBulkDelay(d time.Duration) {
	m.mu.Lock()
	m.bulkDelay = d
	m.mu.Unlock()
}

// SetProbeLength limits how many bytes the probe reply carries.
func (m *Mock) SetProbeLength(n int) {
	m.mu.Lock()
	m.probeLen = n
	m.mu.Unlock()
}

// Calls returns a copy of the request journal.
func (m *Mock) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// Commands returns the opcodes of the journal in order.
func (m *Mock) Commands() []sddc.Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]sddc.Command, len(m.calls))
	for i, c := range m.calls {
		out[i] = c.Cmd
	}
	return out
}

// ClearCalls empties the journal.
func (m *Mock) ClearCalls() {
	m.mu.Lock()
	m.calls = nil
	m.mu.Unlock()
}

// Register returns the simulated GPIO register.
func (m *Mock) Register() uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gpio.reg
}

// TunerIndex returns the last attenuation index written to the tuner.
func (m *Mock) TunerIndex() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int(m.tunerIndex)
}

// SetTunerIndex changes what R820T2GETATT reports.
func (m *Mock) SetTunerIndex(idx byte) {
	m.mu.Lock()
	m.tunerIndex = idx
	m.mu.Unlock()
}

// TunerFrequency returns the last frequency sent with R820T2TUNE.
func (m *Mock) TunerFrequency() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tunerFreq
}

// DAT31 returns the last byte written to the step attenuator.
func (m *Mock) DAT31() byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dat31
}

// Clock returns the last ADC and tuner reference words written to SI5351A.
func (m *Mock) Clock() (adc, tuner uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clockADC, m.clockTuner
}

// Running reports whether the producer was started and not stopped.
func (m *Mock) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Resets returns how many RESETFX3 requests succeeded.
func (m *Mock) Resets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resets
}

// Closed reports whether Close was called.
func (m *Mock) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Mock) Control(cmd sddc.Command, value, index uint16, data []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.controlLocked(cmd, value, index, data)
}

func (m *Mock) controlLocked(cmd sddc.Command, value, index uint16, data []byte) (int, error) {
	if m.closed {
		return 0, ErrTransportClosed
	}
	m.calls = append(m.calls, Call{Cmd: cmd, Value: value, Index: index, Data: append([]byte(nil), data...)})
	if err := m.failures[cmd]; err != nil {
		return 0, err
	}

	switch cmd {
	case sddc.CmdTestFX3:
		reply := []byte{byte(m.model), byte(m.firmware >> 8), byte(m.firmware), 0}
		n := copy(data, reply[:min(m.probeLen, len(reply))])
		return n, nil
	case sddc.CmdStartFX3:
		m.running = true
	case sddc.CmdStopFX3:
		m.running = false
	case sddc.CmdResetFX3:
		m.resets++
	case sddc.CmdSI5351A:
		if len(data) < 8 {
			return 0, fmt.Errorf("SI5351A payload %d bytes", len(data))
		}
		m.clockADC = binary.LittleEndian.Uint32(data[0:4])
		m.clockTuner = binary.LittleEndian.Uint32(data[4:8])
	case sddc.CmdR820T2Tune:
		if len(data) < 4 {
			return 0, fmt.Errorf("R820T2TUNE payload %d bytes", len(data))
		}
		m.tunerFreq = binary.LittleEndian.Uint32(data)
	case sddc.CmdR820T2SetAtt:
		if len(data) < 1 {
			return 0, errors.New("R820T2SETATT without payload")
		}
		m.tunerIndex = data[0]
	case sddc.CmdR820T2GetAtt:
		if len(data) < 1 {
			return 0, errors.New("R820T2GETATT without buffer")
		}
		data[0] = m.tunerIndex
		return 1, nil
	case sddc.CmdDAT31FX3:
		if len(data) < 1 {
			return 0, errors.New("DAT31FX3 without payload")
		}
		m.dat31 = data[0]
	case sddc.CmdI2CWriteFX3:
		m.i2c[value<<8|index&0xff] = append([]byte(nil), data...)
	case sddc.CmdI2CReadFX3:
		return copy(data, m.i2c[value<<8|index&0xff]), nil
	}
	return len(data), nil
}

func (m *Mock) GPIOGet() (uint16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrTransportClosed
	}
	return m.gpio.Get()
}

func (m *Mock) GPIOSet(pattern, mask uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gpio.Set(pattern, mask)
}

func (m *Mock) GPIOOn(bits uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gpio.On(bits)
}

func (m *Mock) GPIOOff(bits uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gpio.Off(bits)
}

func (m *Mock) GPIOToggle(bits uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gpio.Toggle(bits)
}

func (m *Mock) I2CWrite(addr, reg uint8, data []byte) error {
	return I2CWrite(m.Control, addr, reg, data)
}

func (m *Mock) I2CRead(addr, reg uint8, data []byte) error {
	return I2CRead(m.Control, addr, reg, data)
}

// HandleEvents has nothing to pump; it only honours cancellation.
func (m *Mock) HandleEvents(ctx context.Context) error {
	if m.Closed() {
		return ErrTransportClosed
	}
	return ctx.Err()
}

// ReadBulk fills buf with a running byte counter, standing in for samples.
func (m *Mock) ReadBulk(ctx context.Context, buf []byte) (int, error) {
	m.mu.Lock()
	delay, err, closed := m.bulkDelay, m.bulkErr, m.closed
	m.mu.Unlock()

	if closed {
		return 0, ErrTransportClosed
	}
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-timer.C:
		}
	} else if ctx.Err() != nil {
		return 0, ctx.Err()
	}
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range buf {
		buf[i] = m.bulkSeq
		m.bulkSeq++
	}
	return len(buf), nil
}

func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrTransportClosed
	}
	m.closed = true
	m.running = false
	return nil
}

func (m *Mock) reopen() {
	m.mu.Lock()
	m.closed = false
	m.mu.Unlock()
}

// MockBus is a Bus over a fixed set of simulated receivers.
type MockBus struct {
	mu      sync.Mutex
	infos   []sddc.DeviceInfo
	devices []*Mock
	listErr error
	openErr error
	frees   int
}

// NewMockBus returns an empty bus.
func NewMockBus() *MockBus { return &MockBus{} }

// Add attaches dev, described by info, at the next index.
func (b *MockBus) Add(info sddc.DeviceInfo, dev *Mock) *MockBus {
	b.mu.Lock()
	b.infos = append(b.infos, info)
	b.devices = append(b.devices, dev)
	b.mu.Unlock()
	return b
}

// FailList makes List and Count fail with err.
func (b *MockBus) FailList(err error) {
	b.mu.Lock()
	b.listErr = err
	b.mu.Unlock()
}

// FailOpen makes Open fail with err.
func (b *MockBus) FailOpen(err error) {
	b.mu.Lock()
	b.openErr = err
	b.mu.Unlock()
}

// Frees returns how many lists were released.
func (b *MockBus) Frees() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.frees
}

func (b *MockBus) Count() (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listErr != nil {
		return 0, b.listErr
	}
	return len(b.devices), nil
}

func (b *MockBus) List() (sddc.RawList, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listErr != nil {
		return nil, b.listErr
	}
	infos := make([]sddc.DeviceInfo, len(b.infos))
	copy(infos, b.infos)
	return &mockList{bus: b, infos: infos}, nil
}

func (b *MockBus) Open(index int) (sddc.Transport, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openErr != nil {
		return nil, b.openErr
	}
	if index < 0 || index >= len(b.devices) {
		return nil, fmt.Errorf("no device at index %d", index)
	}
	dev := b.devices[index]
	dev.reopen()
	return dev, nil
}

type mockList struct {
	bus   *MockBus
	infos []sddc.DeviceInfo
}

func (l *mockList) Infos() []sddc.DeviceInfo { return l.infos }

func (l *mockList) Free() error {
	l.bus.mu.Lock()
	l.bus.frees++
	l.bus.mu.Unlock()
	return nil
}
