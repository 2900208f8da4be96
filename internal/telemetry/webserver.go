package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rjboer/GoSDDC/internal/logging"
)

// WebServer exposes device status, history, live updates and metrics over HTTP.
type WebServer struct {
	srv    *http.Server
	hub    *Hub
	logger logging.Logger
}

// NewWebServer builds the HTTP server. A nil gatherer leaves /metrics out.
func NewWebServer(addr string, hub *Hub, gatherer prometheus.Gatherer, logger logging.Logger) *WebServer {
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.With(logging.Field{Key: "subsystem", Value: "telemetry"})

	return &WebServer{
		hub:    hub,
		logger: logger,
		srv: &http.Server{
			Addr:              addr,
			Handler:           NewHandler(hub, gatherer, logger),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// NewHandler returns the route table served by WebServer.
func NewHandler(hub *Hub, gatherer prometheus.Gatherer, logger logging.Logger) http.Handler {
	if logger == nil {
		logger = logging.Default()
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", hub.handleStatus)
	mux.HandleFunc("/api/history", hub.handleHistory)
	mux.HandleFunc("/api/live", hub.handleLive(logger))
	mux.HandleFunc("/api/config", hub.handleGetConfig)
	mux.HandleFunc("/api/config/update", hub.handleSetConfig)
	if gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// Start begins listening and shuts down when the context is canceled.
func (w *WebServer) Start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := w.srv.Shutdown(shutdownCtx); err != nil {
			w.logger.Warn("web telemetry shutdown", logging.Field{Key: "error", Value: err})
		}
	}()

	w.logger.Info("web telemetry listening", logging.Field{Key: "addr", Value: w.srv.Addr})
	if err := w.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		w.logger.Error("web telemetry server error", logging.Field{Key: "error", Value: err})
	}
}
