// Package config loads monitor settings from a YAML file, SDDC_* environment
// variables and command line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/rjboer/GoSDDC/internal/logging"
	"github.com/rjboer/GoSDDC/internal/sddc"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SDDC_"

// DefaultPath is the config file used when none is given.
const DefaultPath = "sddc.yaml"

// Config holds every monitor setting.
type Config struct {
	Backend     string `yaml:"backend"`
	DeviceIndex int    `yaml:"device_index"`
	MockModel   string `yaml:"mock_model"`

	SampleRate       float64 `yaml:"sample_rate"`
	TunerFrequency   float64 `yaml:"tuner_frequency"`
	PPM              float64 `yaml:"ppm"`
	RFMode           string  `yaml:"rf_mode"`
	HFAttenuation    float64 `yaml:"hf_attenuation"`
	TunerAttenuation float64 `yaml:"tuner_attenuation"`
	HFBias           bool    `yaml:"hf_bias"`
	VHFBias          bool    `yaml:"vhf_bias"`
	Dither           bool    `yaml:"dither"`
	Random           bool    `yaml:"random"`

	FrameSize  int `yaml:"frame_size"`
	FrameCount int `yaml:"frame_count"`

	WebAddr      string        `yaml:"web_addr"`
	HistoryLimit int           `yaml:"history_limit"`
	Metrics      bool          `yaml:"metrics"`
	MDNS         bool          `yaml:"mdns"`
	TraceFile    string        `yaml:"trace_file"`
	Duration     time.Duration `yaml:"duration"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// List only enumerates attached receivers. It is never persisted.
	List bool `yaml:"-"`
}

// Default returns the settings written to a fresh config file.
func Default() Config {
	return Config{
		Backend:        "mock",
		MockModel:      sddc.ModelRX888.String(),
		SampleRate:     sddc.DefaultSampleRate,
		TunerFrequency: sddc.DefaultTunerFrequency,
		RFMode:         sddc.HFMode.String(),
		FrameSize:      131072,
		FrameCount:     16,
		WebAddr:        ":8080",
		HistoryLimit:   500,
		Metrics:        true,
		MDNS:           false,
		LogLevel:       "info",
		LogFormat:      "text",
	}
}

// Path returns the config file named by --config or SDDC_CONFIG, ignoring
// every other flag.
func Path(args []string, lookup func(string) (string, bool)) string {
	fs := pflag.NewFlagSet("config", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.Usage = func() {}
	path := fs.String("config", envString(lookup, EnvPrefix+"CONFIG", DefaultPath), "")
	_ = fs.Parse(args)
	return *path
}

// Parse layers environment variables and flags over defaults.
func Parse(name string, args []string, lookup func(string) (string, bool), defaults Config) (Config, error) {
	cfg := Config{}
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SortFlags = false

	e := func(key string) string { return EnvPrefix + key }

	fs.String("config", DefaultPath, "Config file (YAML)")
	fs.BoolVarP(&cfg.List, "list", "l", false, "List attached receivers and exit")
	fs.StringVar(&cfg.Backend, "backend", envString(lookup, e("BACKEND"), defaults.Backend), "Receiver backend (mock|usb)")
	fs.IntVarP(&cfg.DeviceIndex, "device", "d", envInt(lookup, e("DEVICE"), defaults.DeviceIndex), "Receiver index")
	fs.StringVar(&cfg.MockModel, "mock-model", envString(lookup, e("MOCK_MODEL"), defaults.MockModel), "Model reported by the mock backend")

	fs.Float64VarP(&cfg.SampleRate, "sample-rate", "s", envFloat(lookup, e("SAMPLE_RATE"), defaults.SampleRate), "ADC sample rate in Hz")
	fs.Float64VarP(&cfg.TunerFrequency, "frequency", "f", envFloat(lookup, e("FREQUENCY"), defaults.TunerFrequency), "VHF tuner frequency in Hz")
	fs.Float64Var(&cfg.PPM, "ppm", envFloat(lookup, e("PPM"), defaults.PPM), "Clock correction in ppm")
	fs.StringVar(&cfg.RFMode, "rf-mode", envString(lookup, e("RF_MODE"), defaults.RFMode), "Signal path (hf|vhf)")
	fs.Float64Var(&cfg.HFAttenuation, "hf-att", envFloat(lookup, e("HF_ATT"), defaults.HFAttenuation), "HF attenuation in dB")
	fs.Float64Var(&cfg.TunerAttenuation, "tuner-att", envFloat(lookup, e("TUNER_ATT"), defaults.TunerAttenuation), "VHF tuner attenuation in dB")
	fs.BoolVar(&cfg.HFBias, "hf-bias", envBool(lookup, e("HF_BIAS"), defaults.HFBias), "Power the HF bias tee")
	fs.BoolVar(&cfg.VHFBias, "vhf-bias", envBool(lookup, e("VHF_BIAS"), defaults.VHFBias), "Power the VHF bias tee")
	fs.BoolVar(&cfg.Dither, "dither", envBool(lookup, e("DITHER"), defaults.Dither), "Enable ADC dither")
	fs.BoolVar(&cfg.Random, "random", envBool(lookup, e("RANDOM"), defaults.Random), "Enable ADC output randomization")

	fs.IntVar(&cfg.FrameSize, "frame-size", envInt(lookup, e("FRAME_SIZE"), defaults.FrameSize), "Bytes per bulk transfer")
	fs.IntVar(&cfg.FrameCount, "frame-count", envInt(lookup, e("FRAME_COUNT"), defaults.FrameCount), "Transfers in flight")

	fs.StringVar(&cfg.WebAddr, "web-addr", envString(lookup, e("WEB_ADDR"), defaults.WebAddr), "Telemetry listen address, empty to disable")
	fs.IntVar(&cfg.HistoryLimit, "history-limit", envInt(lookup, e("HISTORY_LIMIT"), defaults.HistoryLimit), "Snapshots kept in telemetry history")
	fs.BoolVar(&cfg.Metrics, "metrics", envBool(lookup, e("METRICS"), defaults.Metrics), "Serve Prometheus metrics on /metrics")
	fs.BoolVar(&cfg.MDNS, "mdns", envBool(lookup, e("MDNS"), defaults.MDNS), "Advertise the monitor over mDNS")
	fs.StringVar(&cfg.TraceFile, "trace", envString(lookup, e("TRACE"), defaults.TraceFile), "Append a CBOR trace of vendor requests to this file")
	fs.DurationVar(&cfg.Duration, "duration", envDuration(lookup, e("DURATION"), defaults.Duration), "Stop after this long (0 runs until interrupted)")

	fs.StringVar(&cfg.LogLevel, "log-level", envString(lookup, e("LOG_LEVEL"), defaults.LogLevel), "Log level (debug|info|warn|error)")
	fs.StringVar(&cfg.LogFormat, "log-format", envString(lookup, e("LOG_FORMAT"), defaults.LogFormat), "Log format (text|json)")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Validate checks the settings that do not depend on the hardware.
func (c Config) Validate() error {
	var errs []error
	switch c.Backend {
	case "mock":
		if _, err := sddc.ParseModel(c.MockModel); err != nil {
			errs = append(errs, fmt.Errorf("mock model: %w", err))
		}
	case "usb":
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}
	if _, err := c.Mode(); err != nil {
		errs = append(errs, err)
	}
	if c.DeviceIndex < 0 {
		errs = append(errs, fmt.Errorf("device index %d is negative", c.DeviceIndex))
	}
	if !(c.SampleRate > 0) {
		errs = append(errs, fmt.Errorf("sample rate %g must be positive", c.SampleRate))
	}
	if c.FrameSize <= 0 || c.FrameCount <= 0 {
		errs = append(errs, fmt.Errorf("frame size %d and count %d must be positive", c.FrameSize, c.FrameCount))
	}
	if c.Duration < 0 {
		errs = append(errs, fmt.Errorf("duration %s is negative", c.Duration))
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if _, err := logging.ParseFormat(c.LogFormat); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Mode returns the RF mode setting.
func (c Config) Mode() (sddc.RFMode, error) {
	switch c.RFMode {
	case sddc.HFMode.String():
		return sddc.HFMode, nil
	case sddc.VHFMode.String():
		return sddc.VHFMode, nil
	default:
		return 0, fmt.Errorf("unknown rf mode %q", c.RFMode)
	}
}

// Logger builds the logger described by LogLevel and LogFormat.
func (c Config) Logger() (logging.Logger, error) {
	level, err := logging.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(c.LogFormat)
	if err != nil {
		return nil, err
	}
	return logging.New(level, format, os.Stderr), nil
}

// LoadOrCreate reads path, writing Default to it first if it does not exist.
func LoadOrCreate(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := Default()
			if saveErr := Save(path, cfg); saveErr != nil {
				return Config{}, saveErr
			}
			return cfg, nil
		}
		return Config{}, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path as YAML.
func Save(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func envFloat(lookup func(string) (string, bool), key string, def float64) float64 {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return def
}

func envInt(lookup func(string) (string, bool), key string, def int) int {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func envBool(lookup func(string) (string, bool), key string, def bool) bool {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return def
}

func envDuration(lookup func(string) (string, bool), key string, def time.Duration) time.Duration {
	if val, ok := lookup(key); ok {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return def
}

func envString(lookup func(string) (string, bool), key, def string) string {
	if val, ok := lookup(key); ok {
		return val
	}
	return def
}
