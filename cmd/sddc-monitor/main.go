// Command sddc-monitor streams from an FX3 receiver and serves its state
// over HTTP and mDNS.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/rjboer/GoSDDC/internal/config"
	"github.com/rjboer/GoSDDC/internal/logging"
	"github.com/rjboer/GoSDDC/internal/mdns"
	"github.com/rjboer/GoSDDC/internal/sddc"
	"github.com/rjboer/GoSDDC/internal/streaming"
	"github.com/rjboer/GoSDDC/internal/telemetry"
	"github.com/rjboer/GoSDDC/internal/transport"
	"github.com/rjboer/GoSDDC/internal/transport/libusb"
)

const eventInterval = 50 * time.Millisecond

func main() {
	path := config.Path(os.Args[1:], os.LookupEnv)
	persistent, err := config.LoadOrCreate(path)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	cfg, err := config.Parse("sddc-monitor", os.Args[1:], os.LookupEnv, persistent)
	if err != nil {
		log.Fatalf("parse config: %v", err)
	}
	if !cfg.List {
		if err := config.Save(path, cfg); err != nil {
			log.Fatalf("save config: %v", err)
		}
	}

	logger, err := cfg.Logger()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	logging.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, os.Stdout); err != nil {
		logger.Error("monitor failed", logging.Field{Key: "error", Value: err})
		os.Exit(1)
	}
}

// run drives one monitor session until ctx ends or cfg.Duration elapses.
func run(ctx context.Context, cfg config.Config, logger logging.Logger, out io.Writer) error {
	bus, closeBus, err := selectBackend(cfg, logger)
	if err != nil {
		return fmt.Errorf("select backend: %w", err)
	}
	defer closeBus()

	if cfg.List {
		return listDevices(bus, out)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	var decorators []transport.Decorator
	if cfg.Metrics {
		m := transport.NewMetrics(reg)
		decorators = append(decorators, func(t sddc.Transport) sddc.Transport { return transport.NewInstrument(t, m) })
	}
	if cfg.TraceFile != "" {
		f, err := os.Create(cfg.TraceFile)
		if err != nil {
			return fmt.Errorf("trace file: %w", err)
		}
		defer f.Close()
		decorators = append(decorators, func(t sddc.Transport) sddc.Transport {
			return transport.NewTracer(t, f, transport.WithTraceLogger(logger))
		})
	}
	bus = transport.WrapBus(bus, decorators...)

	hub := telemetry.NewHub(cfg.HistoryLimit)
	reporters := telemetry.MultiReporter{hub}
	if cfg.WebAddr == "" {
		reporters = append(reporters, telemetry.NewStdoutReporter(logger))
	}

	var engine *streaming.Engine
	factory := streaming.Factory(streaming.WithLogger(logger))
	dev, err := sddc.Open(bus, cfg.DeviceIndex,
		sddc.WithLogger(logger),
		sddc.WithReporter(reporters),
		sddc.WithStreamerFactory(func(t sddc.Transport, size, count uint32, cb sddc.FrameCallback) (sddc.Streamer, error) {
			s, err := factory(t, size, count, cb)
			if err != nil {
				return nil, err
			}
			engine = s.(*streaming.Engine)
			return s, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("open receiver %d: %w", cfg.DeviceIndex, err)
	}
	defer dev.Close()

	if err := configure(dev, cfg); err != nil {
		return err
	}

	var frames, bytes atomic.Uint64
	if err := dev.ConfigureStreaming(uint32(cfg.FrameSize), uint32(cfg.FrameCount), func(frame []byte) {
		frames.Add(1)
		bytes.Add(uint64(len(frame)))
	}); err != nil {
		return err
	}
	hub.SetStatsSource(engine.Stats)

	if cfg.WebAddr != "" {
		var gatherer prometheus.Gatherer
		if cfg.Metrics {
			gatherer = reg
		}
		go telemetry.NewWebServer(cfg.WebAddr, hub, gatherer, logger).Start(ctx)
		logger.Info("web interface", logging.Field{Key: "addr", Value: cfg.WebAddr})
	}

	if cfg.MDNS {
		adv, err := advertise(cfg.WebAddr, dev)
		if err != nil {
			logger.Warn("mdns advertise failed", logging.Field{Key: "error", Value: err})
		} else {
			defer adv.Shutdown()
		}
	}

	if err := dev.Start(); err != nil {
		return err
	}
	// Start reprograms both attenuators to 0 dB.
	if err := applyAttenuation(dev, cfg); err != nil {
		_ = dev.Stop()
		return err
	}
	if err := dev.LEDOn(sddc.LEDBlue); err != nil {
		logger.Warn("led on failed", logging.Field{Key: "error", Value: err})
	}

	began := time.Now()
	runErr := pump(ctx, dev, engine, cfg.Duration, logger)

	if err := dev.LEDOff(sddc.LEDBlue); err != nil {
		logger.Warn("led off failed", logging.Field{Key: "error", Value: err})
	}
	if err := dev.Stop(); err != nil {
		return err
	}

	elapsed := time.Since(began).Truncate(time.Millisecond)
	st := engine.Stats()
	fmt.Fprintf(out, "%s: %d frames, %d bytes in %s (%d overflows, %d errors)\n",
		dev.Model(), frames.Load(), bytes.Load(), elapsed, st.Overflows, st.Errors)
	return runErr
}

// pump services transport events until ctx ends or d elapses, logging the
// stream counters once a second.
func pump(ctx context.Context, dev *sddc.Device, engine *streaming.Engine, d time.Duration, logger logging.Logger) error {
	if d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	events := time.NewTicker(eventInterval)
	defer events.Stop()
	report := time.NewTicker(time.Second)
	defer report.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-events.C:
			if err := dev.HandleEvents(ctx); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return nil
				}
				return fmt.Errorf("handle events: %w", err)
			}
		case <-report.C:
			st := engine.Stats()
			logger.Info("stream",
				logging.Field{Key: "frames", Value: st.Frames},
				logging.Field{Key: "bytes", Value: st.Bytes},
				logging.Field{Key: "overflows", Value: st.Overflows},
				logging.Field{Key: "stalled", Value: st.Stalled},
			)
		}
	}
}

// configure applies the settings that survive Start.
func configure(dev *sddc.Device, cfg config.Config) error {
	mode, err := cfg.Mode()
	if err != nil {
		return err
	}
	caps := dev.Capabilities()

	if err := dev.SetSampleRate(cfg.SampleRate); err != nil {
		return err
	}
	if err := dev.SetFrequencyCorrection(cfg.PPM); err != nil {
		return err
	}
	if err := dev.SetRFMode(mode); err != nil {
		return err
	}
	if caps.VHFTuner {
		if err := dev.SetTunerFrequency(cfg.TunerFrequency); err != nil {
			return err
		}
		if err := dev.SetVHFBias(cfg.VHFBias); err != nil {
			return err
		}
	}
	if err := dev.SetHFBias(cfg.HFBias); err != nil {
		return err
	}
	if err := dev.SetADCDither(cfg.Dither); err != nil {
		return err
	}
	return dev.SetADCRandom(cfg.Random)
}

func applyAttenuation(dev *sddc.Device, cfg config.Config) error {
	if err := dev.SetHFAttenuation(cfg.HFAttenuation); err != nil {
		return err
	}
	if dev.Capabilities().VHFTuner {
		if _, err := dev.SetTunerAttenuation(cfg.TunerAttenuation); err != nil {
			return err
		}
	}
	return nil
}

func advertise(webAddr string, dev *sddc.Device) (*mdns.Advertiser, error) {
	_, portStr, err := net.SplitHostPort(webAddr)
	if err != nil {
		return nil, fmt.Errorf("web address %q: %w", webAddr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("web port %q: %w", portStr, err)
	}
	return mdns.Advertise(instanceName(dev), port, advertisedAttrs(dev))
}

func instanceName(dev *sddc.Device) string {
	session := dev.Session()
	if len(session) > 8 {
		session = session[:8]
	}
	return fmt.Sprintf("%s %s", dev.Model(), session)
}

func advertisedAttrs(dev *sddc.Device) map[string]string {
	return map[string]string{
		"model":    dev.Model().String(),
		"firmware": fmt.Sprintf("0x%04x", dev.Firmware()),
		"session":  dev.Session(),
		"path":     "/api/status",
	}
}

func listDevices(bus sddc.Bus, out io.Writer) error {
	list, err := sddc.Enumerate(bus)
	if err != nil {
		return err
	}
	defer list.Free()

	if list.Len() == 0 {
		fmt.Fprintln(out, "no receivers found")
		return nil
	}
	for i, info := range list.Infos() {
		fmt.Fprintf(out, "%d: %s %s serial=%s\n", i, info.Manufacturer, info.Product, info.SerialNumber)
	}
	return nil
}

// selectBackend returns the bus named by cfg.Backend and a func releasing it.
func selectBackend(cfg config.Config, logger logging.Logger) (sddc.Bus, func(), error) {
	switch cfg.Backend {
	case "mock":
		model, err := sddc.ParseModel(cfg.MockModel)
		if err != nil {
			return nil, nil, err
		}
		m := transport.NewMock(model, 0x0104)
		if cfg.SampleRate > 0 {
			// 16-bit real samples.
			m.SetBulkDelay(time.Duration(float64(cfg.FrameSize) / (2 * cfg.SampleRate) * float64(time.Second)))
		}
		bus := transport.NewMockBus().Add(sddc.DeviceInfo{
			Manufacturer: "Cypress",
			Product:      "FX3 " + model.String(),
			SerialNumber: "MOCK0001",
		}, m)
		return bus, func() {}, nil
	case "usb":
		bus := libusb.NewBus(libusb.WithLogger(logger))
		return bus, func() { _ = bus.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %s", cfg.Backend)
	}
}
