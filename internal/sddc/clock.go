package sddc

import (
	"encoding/binary"
	"math"
)

// CorrectedFrequency applies a parts-per-million correction to f and rounds
// the result to the 32-bit word expected by the clock generator.
func CorrectedFrequency(f, ppm float64) uint32 {
	v := math.Round(f + 1e-6*ppm*f)
	switch {
	case !(v > 0):
		return 0
	case v >= math.MaxUint32:
		return math.MaxUint32
	}
	return uint32(v)
}

// clockWords packs the ADC and tuner reference frequencies for SI5351A.
func clockWords(adc, tuner, ppm float64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], CorrectedFrequency(adc, ppm))
	binary.LittleEndian.PutUint32(buf[4:8], CorrectedFrequency(tuner, ppm))
	return buf
}

// programClock writes both clock generator outputs using the given correction.
// Zero frequencies turn the outputs off. Failures are logged and reported
// under op.
func (d *Device) programClock(op string, adc, tuner, ppm float64) error {
	if _, err := d.transport.Control(CmdSI5351A, 0, 0, clockWords(adc, tuner, ppm)); err != nil {
		return d.opFail(op, CmdSI5351A, err)
	}
	return nil
}

// FrequencyCorrection returns the stored correction in ppm.
func (d *Device) FrequencyCorrection() float64 { return d.freqCorrection }

// SetFrequencyCorrection stores a new correction. While streaming the clock
// generator is reprogrammed first; if that fails the old value is kept.
func (d *Device) SetFrequencyCorrection(ppm float64) error {
	const op = "set frequency correction"
	if d.closed {
		return d.fail(op, ErrClosed)
	}
	if d.status == StatusStreaming {
		if err := d.programClock(op, d.sampleRate, d.tunerFrequency, ppm); err != nil {
			return err
		}
	}
	d.freqCorrection = ppm
	d.report()
	return nil
}
