package sddc

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/rjboer/GoSDDC/internal/logging"
)

// tunerAttenuations holds the calibrated R820T2 attenuation steps in dB,
// indexed by the value written with R820T2SETATT.
var tunerAttenuations = [...]float64{
	0.0, 0.9, 1.4, 2.7, 3.7, 7.7, 8.7, 12.5, 14.4, 15.7, 16.6, 19.7, 20.7,
	22.9, 25.4, 28.0, 29.7, 32.8, 33.8, 36.4, 37.2, 38.6, 40.2, 42.1, 43.4,
	43.9, 44.5, 48.0, 49.6,
}

// TunerAttenuations returns a copy of the calibrated VHF tuner attenuation table.
func TunerAttenuations() []float64 {
	out := make([]float64, len(tunerAttenuations))
	copy(out, tunerAttenuations[:])
	return out
}

// NearestTunerAttenuation returns the table index closest to the requested
// attenuation. On equal distance the lower index wins.
func NearestTunerAttenuation(dB float64) int {
	dist := make([]float64, len(tunerAttenuations))
	for i, v := range tunerAttenuations {
		dist[i] = math.Abs(dB - v)
	}
	return floats.MinIdx(dist)
}

// coarseAttenuatorPattern maps the three coarse steps onto ATT_SEL0/ATT_SEL1.
var coarseAttenuatorPattern = map[float64]uint16{
	0:  GPIOAttSel1,
	10: GPIOAttSel0 | GPIOAttSel1,
	20: GPIOAttSel0,
}

// fineAttenuatorByte encodes a 0..31 dB request for the DAT31 step attenuator.
func fineAttenuatorByte(dB float64) (byte, error) {
	if !(dB >= 0 && dB <= 31) {
		return 0, fmt.Errorf("HF attenuation %g dB outside [0, 31]: %w", dB, ErrInvalidParameter)
	}
	return byte(31-int(math.Floor(dB))) << 1, nil
}

// HFAttenuation returns the last HF attenuation applied through SetHFAttenuation.
func (d *Device) HFAttenuation() float64 { return d.hfAttenuation }

// SetHFAttenuation programs the HF attenuator. Boards without one accept any
// value and do nothing.
func (d *Device) SetHFAttenuation(dB float64) error {
	const op = "set hf attenuation"
	if d.closed {
		return d.fail(op, ErrClosed)
	}

	switch d.caps.HFAttenuator {
	case AttenuatorNone:
		return nil
	case AttenuatorCoarse3:
		pattern, ok := coarseAttenuatorPattern[dB]
		if !ok {
			return d.fail(op, fmt.Errorf("HF attenuation %g dB not in {0, 10, 20}: %w", dB, ErrInvalidParameter))
		}
		if err := d.transport.GPIOSet(pattern, GPIOAttSel0|GPIOAttSel1); err != nil {
			return d.opFail(op, CmdGPIOFX3, err)
		}
	case AttenuatorFine32:
		b, err := fineAttenuatorByte(dB)
		if err != nil {
			return d.fail(op, err)
		}
		if _, err := d.transport.Control(CmdDAT31FX3, 0, 0, []byte{b}); err != nil {
			return d.opFail(op, CmdDAT31FX3, err)
		}
	default:
		return d.fail(op, fmt.Errorf("attenuator style %d: %w", d.caps.HFAttenuator, ErrNotSupported))
	}

	d.hfAttenuation = dB
	d.report()
	return nil
}

// SetTunerAttenuation selects the calibrated tuner attenuation closest to dB
// and returns the value actually applied.
func (d *Device) SetTunerAttenuation(dB float64) (float64, error) {
	const op = "set tuner attenuation"
	if d.closed {
		return 0, d.fail(op, ErrClosed)
	}

	idx := NearestTunerAttenuation(dB)
	if _, err := d.transport.Control(CmdR820T2SetAtt, 0, 0, []byte{byte(idx)}); err != nil {
		return 0, d.opFail(op, CmdR820T2SetAtt, err)
	}

	applied := tunerAttenuations[idx]
	d.tunerAttenuation = applied
	d.logger.Info("tuner attenuation set",
		logging.Field{Key: "requested_db", Value: dB},
		logging.Field{Key: "applied_db", Value: applied},
		logging.Field{Key: "index", Value: idx},
	)
	d.report()
	return applied, nil
}

// TunerAttenuation reads the attenuation index back from the tuner.
func (d *Device) TunerAttenuation() (float64, error) {
	const op = "tuner attenuation"
	if d.closed {
		return 0, d.fail(op, ErrClosed)
	}

	var buf [1]byte
	if _, err := d.transport.Control(CmdR820T2GetAtt, 0, 0, buf[:]); err != nil {
		return 0, d.opFail(op, CmdR820T2GetAtt, err)
	}
	idx := int(buf[0])
	if idx >= len(tunerAttenuations) {
		return 0, d.fail(op, fmt.Errorf("attenuation index %d: %w", idx, ErrProtocol))
	}
	return tunerAttenuations[idx], nil
}
