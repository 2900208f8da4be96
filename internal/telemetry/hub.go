package telemetry

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rjboer/GoSDDC/internal/sddc"
	"github.com/rjboer/GoSDDC/internal/streaming"
)

// Config represents the runtime configuration exposed by the telemetry hub.
type Config struct {
	HistoryLimit int `json:"historyLimit"`
	LiveBuffer   int `json:"liveBuffer"`
}

const (
	minHistoryLimit = 1
	maxHistoryLimit = 10_000
	minLiveBuffer   = 1
	maxLiveBuffer   = 1024
)

func defaultConfig() Config {
	return Config{
		HistoryLimit: 500,
		LiveBuffer:   16,
	}
}

func validateConfig(cfg Config, base Config) (Config, error) {
	if base.HistoryLimit == 0 || base.LiveBuffer == 0 {
		base = defaultConfig()
	}
	if cfg.HistoryLimit == 0 {
		cfg.HistoryLimit = base.HistoryLimit
	}
	if cfg.LiveBuffer == 0 {
		cfg.LiveBuffer = base.LiveBuffer
	}

	if cfg.HistoryLimit < minHistoryLimit || cfg.HistoryLimit > maxHistoryLimit {
		return Config{}, fmt.Errorf("history limit must be between %d and %d", minHistoryLimit, maxHistoryLimit)
	}
	if cfg.LiveBuffer < minLiveBuffer || cfg.LiveBuffer > maxLiveBuffer {
		return Config{}, fmt.Errorf("live buffer must be between %d and %d", minLiveBuffer, maxLiveBuffer)
	}
	return cfg, nil
}

// Sample is one reported device state.
type Sample struct {
	Timestamp time.Time     `json:"timestamp"`
	Device    sddc.Snapshot `json:"device"`
}

// Status is the payload of /api/status.
type Status struct {
	Latest *Sample          `json:"latest,omitempty"`
	Stream *streaming.Stats `json:"stream,omitempty"`
}

// Hub collects device snapshots and fans them out to subscribers.
// It implements sddc.Reporter.
type Hub struct {
	mu           sync.RWMutex
	history      []Sample
	historyLimit int
	subscribers  map[chan Sample]struct{}
	config       Config
	stats        func() streaming.Stats
	now          func() time.Time
}

// NewHub builds a telemetry hub with the provided history limit.
func NewHub(historyLimit int) *Hub {
	cfg := defaultConfig()
	if historyLimit > 0 {
		cfg.HistoryLimit = historyLimit
	}
	cfg, err := validateConfig(cfg, defaultConfig())
	if err != nil {
		cfg = defaultConfig()
	}
	return &Hub{
		historyLimit: cfg.HistoryLimit,
		subscribers:  make(map[chan Sample]struct{}),
		config:       cfg,
		now:          time.Now,
	}
}

// SetStatsSource attaches the streaming counters reported by /api/status.
func (h *Hub) SetStatsSource(f func() streaming.Stats) {
	h.mu.Lock()
	h.stats = f
	h.mu.Unlock()
}

// Report records a device snapshot.
func (h *Hub) Report(s sddc.Snapshot) {
	h.mu.Lock()
	sample := Sample{Timestamp: h.now(), Device: s}
	h.history = append(h.history, sample)
	if len(h.history) > h.historyLimit {
		h.history = h.history[len(h.history)-h.historyLimit:]
	}
	for ch := range h.subscribers {
		select {
		case ch <- sample:
		default:
		}
	}
	h.mu.Unlock()
}

// History returns a copy of stored samples.
func (h *Hub) History() []Sample {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Sample, len(h.history))
	copy(out, h.history)
	return out
}

// Latest returns the newest sample.
func (h *Hub) Latest() (Sample, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.history) == 0 {
		return Sample{}, false
	}
	return h.history[len(h.history)-1], true
}

// Status combines the newest sample with the streaming counters.
func (h *Hub) Status() Status {
	var st Status
	if s, ok := h.Latest(); ok {
		st.Latest = &s
	}
	h.mu.RLock()
	stats := h.stats
	h.mu.RUnlock()
	if stats != nil {
		s := stats()
		st.Stream = &s
	}
	return st
}

// ConfigSnapshot returns the latest validated configuration.
func (h *Hub) ConfigSnapshot() Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config
}

// Subscribe registers a listener for live updates.
func (h *Hub) Subscribe() (chan Sample, func()) {
	h.mu.Lock()
	ch := make(chan Sample, h.config.LiveBuffer)
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subscribers, ch)
			close(ch)
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

// MultiReporter fans out snapshots to multiple destinations.
type MultiReporter []sddc.Reporter

// Report forwards s to each configured reporter.
func (m MultiReporter) Report(s sddc.Snapshot) {
	for _, r := range m {
		if r != nil {
			r.Report(s)
		}
	}
}

func (h *Hub) applyConfig(cfg Config) {
	h.config = cfg
	h.historyLimit = cfg.HistoryLimit
	if len(h.history) > h.historyLimit {
		h.history = h.history[len(h.history)-h.historyLimit:]
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Hub) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.Status())
}

func (h *Hub) handleHistory(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.History())
}

func (h *Hub) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.ConfigSnapshot())
}

func (h *Hub) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var incoming Config
	if err := json.NewDecoder(r.Body).Decode(&incoming); err != nil {
		http.Error(w, fmt.Sprintf("invalid config payload: %v", err), http.StatusBadRequest)
		return
	}

	h.mu.RLock()
	current := h.config
	h.mu.RUnlock()

	cfg, err := validateConfig(incoming, current)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	h.applyConfig(cfg)
	h.mu.Unlock()

	writeJSON(w, cfg)
}
