package sddc_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rjboer/GoSDDC/internal/sddc"
)

func TestTunerAttenuationsTable(t *testing.T) {
	table := sddc.TunerAttenuations()
	require.Len(t, table, 29)
	assert.Equal(t, 0.0, table[0])
	assert.Equal(t, 49.6, table[28])

	table[0] = 99
	assert.Equal(t, 0.0, sddc.TunerAttenuations()[0])
}

func TestNearestTunerAttenuation(t *testing.T) {
	tests := []struct {
		dB   float64
		want int
	}{
		{-5, 0},
		{0, 0},
		{5.0, 4},
		{3.7, 4},
		{48.8, 27},
		{100, 28},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.dB), func(t *testing.T) {
			assert.Equal(t, tt.want, sddc.NearestTunerAttenuation(tt.dB))
		})
	}
}

// Midpoints between neighbouring table entries; the lower index wins.
var tunerAttenuationTies = []struct {
	dB   float64
	want int
}{
	{0.45, 0},
	{3.2, 3},
	{5.7, 4},
	{10.6, 6},
	{20.2, 11},
	{24.15, 13},
	{46.25, 26},
}

func TestNearestTunerAttenuationTies(t *testing.T) {
	table := sddc.TunerAttenuations()
	for _, tt := range tunerAttenuationTies {
		t.Run(fmt.Sprint(tt.dB), func(t *testing.T) {
			require.InDelta(t, dist(tt.dB, table[tt.want]), dist(tt.dB, table[tt.want+1]), 1e-12)
			assert.Equal(t, tt.want, sddc.NearestTunerAttenuation(tt.dB))
		})
	}
}

func TestSetTunerAttenuationTieKeepsLowerIndex(t *testing.T) {
	table := sddc.TunerAttenuations()
	for _, tt := range tunerAttenuationTies {
		t.Run(fmt.Sprint(tt.dB), func(t *testing.T) {
			d, m := openMock(t, sddc.ModelRX888)
			applied, err := d.SetTunerAttenuation(tt.dB)
			require.NoError(t, err)
			assert.Equal(t, table[tt.want], applied)
			assert.Equal(t, tt.want, m.TunerIndex())
		})
	}
}

func TestNearestTunerAttenuationIsClosest(t *testing.T) {
	table := sddc.TunerAttenuations()
	for dB := -2.0; dB <= 52; dB += 0.05 {
		idx := sddc.NearestTunerAttenuation(dB)
		best := dist(dB, table[idx])
		for j, v := range table {
			d := dist(dB, v)
			require.GreaterOrEqual(t, d, best, "dB=%g idx=%d j=%d", dB, idx, j)
			if d == best {
				require.LessOrEqual(t, idx, j, "tie must keep the lower index")
			}
		}
	}
}

func dist(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}

func TestSetTunerAttenuation(t *testing.T) {
	d, m := openMock(t, sddc.ModelRX888)

	applied, err := d.SetTunerAttenuation(5.0)
	require.NoError(t, err)
	assert.Equal(t, 3.7, applied)
	assert.Equal(t, 4, m.TunerIndex())
	assert.Equal(t, []sddc.Command{sddc.CmdR820T2SetAtt}, m.Commands())

	got, err := d.TunerAttenuation()
	require.NoError(t, err)
	assert.Equal(t, 3.7, got)
}

func TestTunerAttenuationRejectsBadIndex(t *testing.T) {
	d, m := openMock(t, sddc.ModelRX888)
	m.SetTunerIndex(29)

	_, err := d.TunerAttenuation()
	assert.ErrorIs(t, err, sddc.ErrProtocol)
}

func TestCoarseHFAttenuation(t *testing.T) {
	tests := []struct {
		dB   float64
		want uint16
	}{
		{0, sddc.GPIOAttSel1},
		{10, sddc.GPIOAttSel0 | sddc.GPIOAttSel1},
		{20, sddc.GPIOAttSel0},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.dB), func(t *testing.T) {
			d, m := openMock(t, sddc.ModelRX888)
			require.NoError(t, d.SetHFBias(true))
			require.NoError(t, d.SetHFAttenuation(tt.dB))
			assert.Equal(t, tt.want|sddc.GPIOBiasHF, m.Register())
			assert.Equal(t, tt.dB, d.HFAttenuation())
		})
	}
}

func TestCoarseHFAttenuationRejectsOtherValues(t *testing.T) {
	for _, dB := range []float64{25, 5, -10, 30, 10.5} {
		t.Run(fmt.Sprint(dB), func(t *testing.T) {
			d, m := openMock(t, sddc.ModelBBRF103)
			err := d.SetHFAttenuation(dB)
			assert.ErrorIs(t, err, sddc.ErrInvalidParameter)
			assert.Empty(t, m.Commands())
			assert.Zero(t, m.Register())
		})
	}
}

func TestFineHFAttenuation(t *testing.T) {
	tests := []struct {
		dB   float64
		want byte
	}{
		{0, 62},
		{15, 32},
		{15.7, 32},
		{31, 0},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.dB), func(t *testing.T) {
			d, m := openMock(t, sddc.ModelHF103)
			require.NoError(t, d.SetHFAttenuation(tt.dB))
			assert.Equal(t, tt.want, m.DAT31())
			assert.Equal(t, []sddc.Command{sddc.CmdDAT31FX3}, m.Commands())
		})
	}
}

func TestFineHFAttenuationRejectsOutOfRange(t *testing.T) {
	for _, dB := range []float64{-1, 31.5, 40} {
		d, m := openMock(t, sddc.ModelHF103)
		assert.ErrorIs(t, d.SetHFAttenuation(dB), sddc.ErrInvalidParameter, "dB=%g", dB)
		assert.Empty(t, m.Commands())
	}
}

func TestHFAttenuationWithoutAttenuatorIsNoop(t *testing.T) {
	d, m := openMock(t, sddc.ModelRX888R2)
	require.NoError(t, d.SetHFAttenuation(17))
	assert.Empty(t, m.Commands())
}

func TestHFAttenuationFailureKeepsValue(t *testing.T) {
	d, m := openMock(t, sddc.ModelHF103)
	require.NoError(t, d.SetHFAttenuation(10))
	m.FailOn(sddc.CmdDAT31FX3, assert.AnError)

	err := d.SetHFAttenuation(20)
	var opErr *sddc.OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, sddc.CmdDAT31FX3, opErr.Cmd)
	assert.Equal(t, 10.0, d.HFAttenuation())
}
