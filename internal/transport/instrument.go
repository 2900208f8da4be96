package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rjboer/GoSDDC/internal/sddc"
)

// Metrics holds the transport collectors.
type Metrics struct {
	commands  *prometheus.CounterVec
	failures  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	gpio      prometheus.Counter
	bulkBytes prometheus.Counter
}

// NewMetrics registers the transport collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		commands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sddc",
			Name:      "commands_total",
			Help:      "Vendor requests issued, by opcode.",
		}, []string{"command"}),
		failures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sddc",
			Name:      "command_failures_total",
			Help:      "Vendor requests that failed, by opcode.",
		}, []string{"command"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sddc",
			Name:      "command_duration_seconds",
			Help:      "Vendor request round trip time.",
			Buckets:   []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1},
		}, []string{"command"}),
		gpio: f.NewCounter(prometheus.CounterOpts{
			Namespace: "sddc",
			Name:      "gpio_writes_total",
			Help:      "GPIO register updates.",
		}),
		bulkBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: "sddc",
			Name:      "bulk_bytes_total",
			Help:      "Sample bytes read from the bulk endpoint.",
		}),
	}
}

// Instrument wraps a Transport and counts what passes through it.
type Instrument struct {
	sddc.Transport
	m *Metrics
}

// NewInstrument instruments t with m.
func NewInstrument(t sddc.Transport, m *Metrics) *Instrument {
	return &Instrument{Transport: t, m: m}
}

func (in *Instrument) Control(cmd sddc.Command, value, index uint16, data []byte) (int, error) {
	start := time.Now()
	n, err := in.Transport.Control(cmd, value, index, data)
	in.observe(cmd, start, err)
	return n, err
}

func (in *Instrument) GPIOSet(pattern, mask uint16) error {
	return in.gpio(time.Now(), in.Transport.GPIOSet(pattern, mask))
}

func (in *Instrument) GPIOOn(bits uint16) error {
	return in.gpio(time.Now(), in.Transport.GPIOOn(bits))
}

func (in *Instrument) GPIOOff(bits uint16) error {
	return in.gpio(time.Now(), in.Transport.GPIOOff(bits))
}

func (in *Instrument) GPIOToggle(bits uint16) error {
	return in.gpio(time.Now(), in.Transport.GPIOToggle(bits))
}

func (in *Instrument) gpio(start time.Time, err error) error {
	in.observe(sddc.CmdGPIOFX3, start, err)
	if err == nil {
		in.m.gpio.Inc()
	}
	return err
}

func (in *Instrument) I2CWrite(addr, reg uint8, data []byte) error {
	start := time.Now()
	err := in.Transport.I2CWrite(addr, reg, data)
	in.observe(sddc.CmdI2CWriteFX3, start, err)
	return err
}

func (in *Instrument) I2CRead(addr, reg uint8, data []byte) error {
	start := time.Now()
	err := in.Transport.I2CRead(addr, reg, data)
	in.observe(sddc.CmdI2CReadFX3, start, err)
	return err
}

// ReadBulk forwards to the wrapped transport and counts the bytes read.
func (in *Instrument) ReadBulk(ctx context.Context, buf []byte) (int, error) {
	r, ok := in.Transport.(interface {
		ReadBulk(context.Context, []byte) (int, error)
	})
	if !ok {
		return 0, fmt.Errorf("instrumented transport: bulk read: %w", sddc.ErrNotSupported)
	}
	n, err := r.ReadBulk(ctx, buf)
	if n > 0 {
		in.m.bulkBytes.Add(float64(n))
	}
	return n, err
}

func (in *Instrument) observe(cmd sddc.Command, start time.Time, err error) {
	label := cmd.String()
	in.m.commands.WithLabelValues(label).Inc()
	in.m.latency.WithLabelValues(label).Observe(time.Since(start).Seconds())
	if err != nil {
		in.m.failures.WithLabelValues(label).Inc()
	}
}
