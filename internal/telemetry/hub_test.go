package telemetry

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rjboer/GoSDDC/internal/logging"
	"github.com/rjboer/GoSDDC/internal/sddc"
	"github.com/rjboer/GoSDDC/internal/streaming"
)

func snap(rate float64) sddc.Snapshot {
	return sddc.Snapshot{Session: "s1", Status: "ready", Model: "RX888", RFMode: "hf", SampleRate: rate}
}

func TestHubHistoryLimit(t *testing.T) {
	hub := NewHub(3)
	for i := 1; i <= 5; i++ {
		hub.Report(snap(float64(i)))
	}
	hist := hub.History()
	require.Len(t, hist, 3)
	assert.Equal(t, 3.0, hist[0].Device.SampleRate)
	assert.Equal(t, 5.0, hist[2].Device.SampleRate)

	latest, ok := hub.Latest()
	require.True(t, ok)
	assert.Equal(t, 5.0, latest.Device.SampleRate)
}

func TestHubSubscribe(t *testing.T) {
	hub := NewHub(10)
	ch, cancel := hub.Subscribe()
	hub.Report(snap(64e6))

	select {
	case s := <-ch:
		assert.Equal(t, 64e6, s.Device.SampleRate)
	case <-time.After(time.Second):
		t.Fatal("no sample delivered")
	}
	cancel()
	cancel()
	_, ok := <-ch
	assert.False(t, ok)
	hub.Report(snap(1))
}

func TestMultiReporter(t *testing.T) {
	a, b := NewHub(5), NewHub(5)
	MultiReporter{a, nil, b}.Report(snap(2))
	assert.Len(t, a.History(), 1)
	assert.Len(t, b.History(), 1)
}

func TestHandleStatus(t *testing.T) {
	hub := NewHub(5)
	h := NewHandler(hub, nil, nil)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{}`, rr.Body.String())

	hub.Report(snap(64e6))
	hub.SetStatsSource(func() streaming.Stats { return streaming.Stats{Frames: 7, Overflows: 1} })

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	var st Status
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&st))
	require.NotNil(t, st.Latest)
	require.NotNil(t, st.Stream)
	assert.Equal(t, "RX888", st.Latest.Device.Model)
	assert.Equal(t, uint64(7), st.Stream.Frames)
}

func TestHandleStatusReportsStalledStream(t *testing.T) {
	hub := NewHub(5)
	hub.SetStatsSource(func() streaming.Stats { return streaming.Stats{Errors: 3, Stalled: true} })

	rr := httptest.NewRecorder()
	NewHandler(hub, nil, nil).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"stalled":true`)
}

func TestHandleHistory(t *testing.T) {
	hub := NewHub(5)
	hub.Report(snap(1))
	hub.Report(snap(2))

	rr := httptest.NewRecorder()
	NewHandler(hub, nil, nil).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/history", nil))
	var hist []Sample
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&hist))
	assert.Len(t, hist, 2)
}

func TestHandleSetConfig(t *testing.T) {
	hub := NewHub(10)
	for i := 0; i < 5; i++ {
		hub.Report(snap(float64(i)))
	}
	h := NewHandler(hub, nil, nil)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/config/update", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/config/update", strings.NewReader(`{"historyLimit": 0, "liveBuffer": 5000}`)))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/config/update", strings.NewReader(`{bad`)))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/config/update", strings.NewReader(`{"historyLimit": 2}`)))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, Config{HistoryLimit: 2, LiveBuffer: 16}, hub.ConfigSnapshot())
	assert.Len(t, hub.History(), 2)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "sddc_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	rr := httptest.NewRecorder()
	NewHandler(NewHub(1), reg, nil).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "sddc_test_total 1")

	rr = httptest.NewRecorder()
	NewHandler(NewHub(1), nil, nil).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestLiveWebsocket(t *testing.T) {
	hub := NewHub(5)
	hub.Report(snap(1))
	srv := httptest.NewServer(NewHandler(hub, nil, logging.New(logging.Debug, logging.Text, io.Discard)))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/live"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var s Sample
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	require.NoError(t, conn.ReadJSON(&s))
	assert.Equal(t, 1.0, s.Device.SampleRate)

	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		return len(hub.subscribers) == 1
	}, 5*time.Second, 5*time.Millisecond)
	hub.Report(snap(2))
	require.NoError(t, conn.ReadJSON(&s))
	assert.Equal(t, 2.0, s.Device.SampleRate)
}

func TestStdoutReporter(t *testing.T) {
	var buf bytes.Buffer
	r := NewStdoutReporter(logging.New(logging.Info, logging.JSON, &buf))
	s := snap(64e6)
	s.RFMode = "vhf"
	s.TunerFrequency = 145e6
	s.FrequencyCorrection = 1.5
	r.Report(s)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "device state", entry["msg"])
	assert.Equal(t, 145e6, entry["tuner_frequency"])
	assert.Equal(t, 1.5, entry["ppm"])
	assert.NotContains(t, entry, "hf_attenuation_db")
}
