// Package metrics wires Prometheus instrumentation through a private
// registry (never the global default, so
// tests can construct independent instances) exposing the gauges and
// counters the supervisor's components update as they run.
package metrics

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Set holds every metric the supervisor updates. Construct with New and
// pass the same instance to every component that reports.
type Set struct {
	registry *prometheus.Registry

	BroadcastsTracked  *prometheus.GaugeVec
	RecordingsActive   *prometheus.GaugeVec
	DownloaderRestarts *prometheus.CounterVec
	OracleRequests     *prometheus.CounterVec
	RoomReconnects     *prometheus.CounterVec
}

// New builds a Set backed by its own registry.
func New() *Set {
	reg := prometheus.NewRegistry()
	s := &Set{
		registry: reg,
		BroadcastsTracked: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "timelapsed_broadcasts_tracked",
			Help: "Number of broadcasts currently tracked, by channel.",
		}, []string{"channel"}),
		RecordingsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "timelapsed_recordings_active",
			Help: "Number of recordings currently in progress, by platform.",
		}, []string{"platform"}),
		DownloaderRestarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "timelapsed_downloader_restarts_total",
			Help: "Downloader restarts/rotations, by platform.",
		}, []string{"platform"}),
		OracleRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "timelapsed_oracle_requests_total",
			Help: "Heartbeat oracle calls, by outcome.",
		}, []string{"outcome"}),
		RoomReconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "timelapsed_room_reconnects_total",
			Help: "Room Watcher TCP reconnects, by room.",
		}, []string{"room"}),
	}
	reg.MustRegister(
		s.BroadcastsTracked,
		s.RecordingsActive,
		s.DownloaderRestarts,
		s.OracleRequests,
		s.RoomReconnects,
	)
	return s
}

// Handler returns the HTTP handler to mount at /metrics.
func (s *Set) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// Serve starts a minimal HTTP server exposing /metrics and blocks until
// ctx is cancelled.
func (s *Set) Serve(ctx context.Context, addr string) error {
	if addr == "" {
		<-ctx.Done()
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("metrics: shutdown: %v", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}
