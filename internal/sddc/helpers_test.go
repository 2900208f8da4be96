package sddc_test

import (
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rjboer/GoSDDC/internal/sddc"
	"github.com/rjboer/GoSDDC/internal/transport"
)

func openMock(t *testing.T, model sddc.Model, opts ...sddc.Option) (*sddc.Device, *transport.Mock) {
	t.Helper()
	m := transport.NewMock(model, 0x0104)
	bus := transport.NewMockBus().Add(sddc.DeviceInfo{Product: model.String()}, m)
	d, err := sddc.Open(bus, 0, opts...)
	require.NoError(t, err)
	m.ClearCalls()
	return d, m
}

type mockStreamer struct {
	mock.Mock
}

func (s *mockStreamer) SetSampleRate(rate uint32) { s.Called(rate) }
func (s *mockStreamer) Start() error              { return s.Called().Error(0) }
func (s *mockStreamer) Stop() error               { return s.Called().Error(0) }
func (s *mockStreamer) ResetStatus() error        { return s.Called().Error(0) }

func (s *mockStreamer) ReadSync(buf []byte) (int, error) {
	args := s.Called(buf)
	return args.Int(0), args.Error(1)
}

// factoryFor returns a StreamerFactory handing out s and counting its calls.
func factoryFor(s sddc.Streamer, calls *int) sddc.StreamerFactory {
	return func(sddc.Transport, uint32, uint32, sddc.FrameCallback) (sddc.Streamer, error) {
		*calls++
		return s, nil
	}
}

type reporterFunc func(sddc.Snapshot)

func (f reporterFunc) Report(s sddc.Snapshot) { f(s) }
