package telemetry

import (
	"github.com/rjboer/GoSDDC/internal/logging"
	"github.com/rjboer/GoSDDC/internal/sddc"
)

// StdoutReporter logs every device snapshot.
type StdoutReporter struct {
	logger logging.Logger
}

// NewStdoutReporter builds a stdout reporter with the provided logger.
func NewStdoutReporter(logger logging.Logger) StdoutReporter {
	if logger == nil {
		logger = logging.Default()
	}
	return StdoutReporter{logger: logger}
}

func (r StdoutReporter) Report(s sddc.Snapshot) {
	fields := []logging.Field{
		{Key: "subsystem", Value: "telemetry"},
		{Key: "status", Value: s.Status},
		{Key: "model", Value: s.Model},
		{Key: "rf_mode", Value: s.RFMode},
		{Key: "sample_rate", Value: s.SampleRate},
	}
	if s.RFMode == sddc.VHFMode.String() {
		fields = append(fields,
			logging.Field{Key: "tuner_frequency", Value: s.TunerFrequency},
			logging.Field{Key: "tuner_attenuation_db", Value: s.TunerAttenuation},
		)
	} else {
		fields = append(fields, logging.Field{Key: "hf_attenuation_db", Value: s.HFAttenuation})
	}
	if s.FrequencyCorrection != 0 {
		fields = append(fields, logging.Field{Key: "ppm", Value: s.FrequencyCorrection})
	}
	r.logger.Info("device state", fields...)
}
