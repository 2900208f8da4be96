package sddc_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rjboer/GoSDDC/internal/logging"
	"github.com/rjboer/GoSDDC/internal/sddc"
	"github.com/rjboer/GoSDDC/internal/transport"
)

func TestOpenDefaults(t *testing.T) {
	d, _ := openMock(t, sddc.ModelRX888)

	assert.Equal(t, sddc.StatusReady, d.Status())
	assert.Equal(t, sddc.ModelRX888, d.Model())
	assert.Equal(t, uint16(0x0104), d.Firmware())
	assert.Equal(t, sddc.HFMode, d.RFMode())
	assert.Equal(t, sddc.DefaultSampleRate, d.SampleRate())
	assert.Equal(t, sddc.DefaultTunerFrequency, d.TunerFrequency())
	assert.Zero(t, d.FrequencyCorrection())
	assert.NotEmpty(t, d.Session())
	assert.Equal(t, sddc.CapabilitiesFor(sddc.ModelRX888), d.Capabilities())
}

func TestOpenProbeFailureReleasesTransport(t *testing.T) {
	m := transport.NewMock(sddc.ModelRX888, 0)
	m.FailOn(sddc.CmdTestFX3, assert.AnError)
	bus := transport.NewMockBus().Add(sddc.DeviceInfo{}, m)

	d, err := sddc.Open(bus, 0)
	assert.Nil(t, d)
	var opErr *sddc.OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, sddc.CmdTestFX3, opErr.Cmd)
	assert.ErrorIs(t, err, assert.AnError)
	assert.True(t, m.Closed())
}

func TestOpenShortProbe(t *testing.T) {
	m := transport.NewMock(sddc.ModelRX888, 0)
	m.SetProbeLength(2)
	bus := transport.NewMockBus().Add(sddc.DeviceInfo{}, m)

	d, err := sddc.Open(bus, 0)
	assert.Nil(t, d)
	assert.ErrorIs(t, err, sddc.ErrProtocol)
	assert.True(t, m.Closed())
}

func TestOpenTransportFailure(t *testing.T) {
	bus := transport.NewMockBus()
	d, err := sddc.Open(bus, 0)
	assert.Nil(t, d)
	assert.Error(t, err)

	bus.Add(sddc.DeviceInfo{}, transport.NewMock(sddc.ModelHF103, 0))
	bus.FailOpen(errors.New("busy"))
	_, err = sddc.Open(bus, 0)
	assert.ErrorContains(t, err, "busy")
}

func TestOpenLogsThroughInjectedLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(logging.Debug, logging.JSON, &buf)
	d, _ := openMock(t, sddc.ModelHF103, sddc.WithLogger(logger))

	assert.Contains(t, buf.String(), `"msg":"device opened"`)
	assert.Contains(t, buf.String(), d.Session())

	buf.Reset()
	_ = d.SetRFMode(sddc.VHFMode)
	assert.Contains(t, buf.String(), `"level":"ERROR"`)
	assert.Contains(t, buf.String(), "set rf mode failed")
}

func TestCloseResetsAndReleases(t *testing.T) {
	d, m := openMock(t, sddc.ModelRX888)

	require.NoError(t, d.Close())
	assert.Equal(t, []sddc.Command{sddc.CmdResetFX3}, m.Commands())
	assert.True(t, m.Closed())

	assert.ErrorIs(t, d.Close(), sddc.ErrClosed)
	assert.ErrorIs(t, d.Start(), sddc.ErrClosed)
	assert.ErrorIs(t, d.SetHFAttenuation(0), sddc.ErrClosed)
	assert.ErrorIs(t, d.LEDOn(sddc.LEDRed), sddc.ErrClosed)
}

func TestCloseIgnoresResetFailure(t *testing.T) {
	d, m := openMock(t, sddc.ModelRX888)
	m.FailOn(sddc.CmdResetFX3, assert.AnError)

	require.NoError(t, d.Close())
	assert.True(t, m.Closed())
}

func TestSetRFMode(t *testing.T) {
	d, _ := openMock(t, sddc.ModelRX888)
	require.NoError(t, d.SetRFMode(sddc.VHFMode))
	assert.Equal(t, sddc.VHFMode, d.RFMode())
	require.NoError(t, d.SetRFMode(sddc.HFMode))
	assert.ErrorIs(t, d.SetRFMode(sddc.RFMode(7)), sddc.ErrInvalidParameter)
	assert.Equal(t, sddc.HFMode, d.RFMode())
}

func TestSetRFModeVHFRequiresTuner(t *testing.T) {
	d, m := openMock(t, sddc.ModelHF103)
	assert.ErrorIs(t, d.SetRFMode(sddc.VHFMode), sddc.ErrNotSupported)
	assert.Equal(t, sddc.HFMode, d.RFMode())
	assert.Empty(t, m.Commands())
}

func TestSetTunerFrequency(t *testing.T) {
	d, m := openMock(t, sddc.ModelRX888)
	require.NoError(t, d.SetTunerFrequency(100e6))
	assert.Equal(t, uint32(100_000_000), m.TunerFrequency())
	assert.Equal(t, 100e6, d.TunerFrequency())

	m.FailOn(sddc.CmdR820T2Tune, assert.AnError)
	assert.Error(t, d.SetTunerFrequency(145e6))
	assert.Equal(t, 100e6, d.TunerFrequency())

	assert.ErrorIs(t, d.SetTunerFrequency(-1), sddc.ErrInvalidParameter)
}

func TestStartSequenceWithTuner(t *testing.T) {
	s := &mockStreamer{}
	var created int
	d, m := openMock(t, sddc.ModelRX888, sddc.WithStreamerFactory(factoryFor(s, &created)))
	require.NoError(t, d.ConfigureStreaming(131072, 16, nil))

	var issuedBeforeStreamer []sddc.Command
	s.On("SetSampleRate", uint32(64_000_000)).Once()
	s.On("Start").Run(func(mock.Arguments) { issuedBeforeStreamer = m.Commands() }).Return(nil).Once()

	require.NoError(t, d.Start())
	s.AssertExpectations(t)

	want := []sddc.Command{
		sddc.CmdSI5351A,
		sddc.CmdR820T2Stdby,
		sddc.CmdGPIOFX3,
		sddc.CmdR820T2SetAtt,
	}
	assert.Equal(t, want, issuedBeforeStreamer)
	assert.Equal(t, append(want, sddc.CmdStartFX3), m.Commands())

	adc, tuner := m.Clock()
	assert.Equal(t, uint32(64_000_000), adc)
	assert.Equal(t, uint32(999_000), tuner)
	assert.Equal(t, sddc.GPIOAttSel1, m.Register())
	assert.Zero(t, m.TunerIndex())
	assert.True(t, m.Running())
	assert.Equal(t, sddc.StatusStreaming, d.Status())
}

func TestStartSequenceHF103(t *testing.T) {
	d, m := openMock(t, sddc.ModelHF103)
	require.NoError(t, d.Start())
	assert.Equal(t, []sddc.Command{sddc.CmdDAT31FX3, sddc.CmdStartFX3}, m.Commands())
	assert.Equal(t, byte(62), m.DAT31())
}

func TestStartTwiceFails(t *testing.T) {
	d, m := openMock(t, sddc.ModelRX888)
	require.NoError(t, d.Start())
	m.ClearCalls()

	assert.ErrorIs(t, d.Start(), sddc.ErrInvalidState)
	assert.Empty(t, m.Commands())
	assert.Equal(t, sddc.StatusStreaming, d.Status())
}

func TestStartFailureLeavesReadyWithoutRollback(t *testing.T) {
	d, m := openMock(t, sddc.ModelRX888)
	m.FailOn(sddc.CmdStartFX3, assert.AnError)

	err := d.Start()
	var opErr *sddc.OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, sddc.CmdStartFX3, opErr.Cmd)
	assert.Equal(t, sddc.StatusReady, d.Status())

	adc, _ := m.Clock()
	assert.Equal(t, uint32(64_000_000), adc, "clock stays programmed")
}

func TestStartAbortsOnStreamerFailure(t *testing.T) {
	s := &mockStreamer{}
	var created int
	d, m := openMock(t, sddc.ModelHF103, sddc.WithStreamerFactory(factoryFor(s, &created)))
	require.NoError(t, d.ConfigureStreaming(1024, 4, nil))
	s.On("SetSampleRate", mock.Anything)
	s.On("Start").Return(assert.AnError)

	assert.ErrorIs(t, d.Start(), assert.AnError)
	assert.NotContains(t, m.Commands(), sddc.CmdStartFX3)
	assert.Equal(t, sddc.StatusReady, d.Status())
}

func TestStopSequence(t *testing.T) {
	s := &mockStreamer{}
	var created int
	d, m := openMock(t, sddc.ModelHF103, sddc.WithStreamerFactory(factoryFor(s, &created)))
	require.NoError(t, d.ConfigureStreaming(1024, 4, nil))
	s.On("SetSampleRate", mock.Anything)
	s.On("Start").Return(nil)
	require.NoError(t, d.Start())
	m.ClearCalls()

	var issuedBeforeStreamer []sddc.Command
	s.On("Stop").Run(func(mock.Arguments) { issuedBeforeStreamer = m.Commands() }).Return(nil).Once()
	require.NoError(t, d.Stop())

	assert.Equal(t, []sddc.Command{sddc.CmdStopFX3}, issuedBeforeStreamer)
	assert.Equal(t, []sddc.Command{sddc.CmdStopFX3, sddc.CmdSI5351A}, m.Commands())
	adc, tuner := m.Clock()
	assert.Zero(t, adc)
	assert.Zero(t, tuner)
	assert.False(t, m.Running())
	assert.Equal(t, sddc.StatusReady, d.Status())
}

func TestStopRequiresStreaming(t *testing.T) {
	d, m := openMock(t, sddc.ModelRX888)
	assert.ErrorIs(t, d.Stop(), sddc.ErrInvalidState)
	assert.Empty(t, m.Commands())
}

func TestStopFailureKeepsStreaming(t *testing.T) {
	d, m := openMock(t, sddc.ModelRX888)
	require.NoError(t, d.Start())
	m.FailOn(sddc.CmdStopFX3, assert.AnError)

	assert.Error(t, d.Stop())
	assert.Equal(t, sddc.StatusStreaming, d.Status())
}

func TestStartFailureAtEachStep(t *testing.T) {
	sequence := []sddc.Command{
		sddc.CmdSI5351A,
		sddc.CmdR820T2Stdby,
		sddc.CmdGPIOFX3,
		sddc.CmdR820T2SetAtt,
		sddc.CmdStartFX3,
	}
	for i, cmd := range sequence {
		t.Run(cmd.String(), func(t *testing.T) {
			d, m := openMock(t, sddc.ModelRX888)
			m.FailOn(cmd, assert.AnError)

			err := d.Start()
			var opErr *sddc.OpError
			require.ErrorAs(t, err, &opErr)
			assert.Equal(t, cmd, opErr.Cmd)
			assert.ErrorIs(t, err, assert.AnError)
			assert.Contains(t, err.Error(), "start")

			assert.Equal(t, sequence[:i+1], m.Commands())
			assert.False(t, m.Running())
			assert.Equal(t, sddc.StatusReady, d.Status())
		})
	}
}

func TestStopFailureAtEachStep(t *testing.T) {
	tests := []struct {
		name     string
		failCmd  sddc.Command
		failStop bool
		want     []sddc.Command
	}{
		{name: "STOPFX3", failCmd: sddc.CmdStopFX3, want: []sddc.Command{sddc.CmdStopFX3}},
		{name: "streamer", failStop: true, want: []sddc.Command{sddc.CmdStopFX3}},
		{name: "SI5351A", failCmd: sddc.CmdSI5351A, want: []sddc.Command{sddc.CmdStopFX3, sddc.CmdSI5351A}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &mockStreamer{}
			var created int
			d, m := openMock(t, sddc.ModelRX888, sddc.WithStreamerFactory(factoryFor(s, &created)))
			require.NoError(t, d.ConfigureStreaming(1024, 4, nil))
			s.On("SetSampleRate", mock.Anything)
			s.On("Start").Return(nil)
			require.NoError(t, d.Start())
			m.ClearCalls()

			var stopErr error
			if tt.failStop {
				stopErr = assert.AnError
			} else {
				m.FailOn(tt.failCmd, assert.AnError)
			}
			s.On("Stop").Return(stopErr)

			err := d.Stop()
			require.ErrorIs(t, err, assert.AnError)
			assert.Contains(t, err.Error(), "stop")
			if !tt.failStop {
				var opErr *sddc.OpError
				require.ErrorAs(t, err, &opErr)
				assert.Equal(t, tt.failCmd, opErr.Cmd)
				assert.Equal(t, "stop", opErr.Op)
			}
			if tt.failCmd == sddc.CmdStopFX3 {
				s.AssertNotCalled(t, "Stop")
			}
			assert.Equal(t, tt.want, m.Commands())
			assert.Equal(t, sddc.StatusStreaming, d.Status())
		})
	}
}

func TestStartStopPreservesIdentity(t *testing.T) {
	d, _ := openMock(t, sddc.ModelBBRF103)
	caps, model := d.Capabilities(), d.Model()

	for i := 0; i < 3; i++ {
		require.NoError(t, d.Start())
		require.NoError(t, d.Stop())
	}
	assert.Equal(t, caps, d.Capabilities())
	assert.Equal(t, model, d.Model())
	assert.Equal(t, sddc.StatusReady, d.Status())
}

func TestReporterReceivesSnapshots(t *testing.T) {
	var got []sddc.Snapshot
	d, _ := openMock(t, sddc.ModelRX888, sddc.WithReporter(reporterFunc(func(s sddc.Snapshot) {
		got = append(got, s)
	})))
	require.NotEmpty(t, got)
	assert.Equal(t, "ready", got[0].Status)

	require.NoError(t, d.SetSampleRate(32e6))
	require.NoError(t, d.Start())
	last := got[len(got)-1]
	assert.Equal(t, "streaming", last.Status)
	assert.Equal(t, "RX888", last.Model)
	assert.Equal(t, 32e6, last.SampleRate)
	assert.Equal(t, d.Session(), last.Session)
	assert.Equal(t, d.Snapshot(), last)
}
