package core

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/e7canasta/coop-sensor/internal/control"
	"github.com/e7canasta/coop-sensor/internal/coord"
	"github.com/e7canasta/coop-sensor/internal/sink"
	"github.com/e7canasta/coop-sensor/internal/types"
)

// HealthStatus represents the health state of the device
type HealthStatus struct {
	Status        string                         `json:"status"` // "healthy", "degraded", "unhealthy"
	Reason        string                         `json:"reason,omitempty"`
	UptimeSeconds int64                          `json:"uptime_seconds"`
	WorkersUp     int                            `json:"workers_up"`
	WorkersTotal  int                            `json:"workers_total"`
	Online        bool                           `json:"online"`
	SinkConnected bool                           `json:"sink_connected"`
	LiveStreaming bool                           `json:"live_streaming"`
	Camera        types.SourceStats              `json:"camera"`
	Mailbox       coord.MailboxStats             `json:"mailbox"`
	Control       control.Status                 `json:"control"`
	Workers       map[string]types.WorkerMetrics `json:"workers,omitempty"`
}

// HealthCheck returns the current health status of the device
func (s *Supervisor) HealthCheck() HealthStatus {
	s.mu.RLock()
	started, running := s.started, s.isRunning
	s.mu.RUnlock()

	status := HealthStatus{
		Status:        "healthy",
		Reason:        s.health.Reason(),
		WorkersTotal:  len(s.workers),
		Online:        s.online.IsSet(),
		LiveStreaming: s.live.IsSet(),
		Camera:        s.vision.SourceStats(),
		Mailbox:       s.snapshots.Stats(),
		Control:       s.control.Status(),
		Workers:       make(map[string]types.WorkerMetrics, len(s.workers)),
	}
	status.SinkConnected = true
	if m, ok := s.store.(*sink.MQTT); ok {
		_, _, status.SinkConnected = m.Stats()
	}
	if !started.IsZero() {
		status.UptimeSeconds = int64(time.Since(started).Seconds())
	}

	for _, w := range s.workers {
		m := w.Metrics()
		if m.Running {
			status.WorkersUp++
		}
		status.Workers[w.ID()] = m
	}

	switch {
	case !running || !s.health.Healthy() || status.WorkersUp < status.WorkersTotal:
		status.Status = "unhealthy"
	case !status.Online || !status.SinkConnected || status.Control.RemoteStale:
		status.Status = "degraded"
	}
	return status
}

// LivenessHandler handles /health endpoint (simple liveness check)
func (s *Supervisor) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()

	response := map[string]interface{}{
		"status": "alive",
		"uptime": int64(time.Since(started).Seconds()),
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

// ReadinessHandler handles /readiness endpoint.
// Returns 503 once the device is unhealthy; degraded is still ready.
func (s *Supervisor) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	health := s.HealthCheck()

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(health)
}

// MetricsHandler handles /metrics endpoint in Prometheus text format
func (s *Supervisor) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	health := s.HealthCheck()
	device := s.cfg.Device.DeviceID

	gauge := func(name string, v interface{}, labels ...string) {
		l := fmt.Sprintf("device=%q", device)
		for i := 0; i+1 < len(labels); i += 2 {
			l += fmt.Sprintf(",%s=%q", labels[i], labels[i+1])
		}
		fmt.Fprintf(w, "coop_%s{%s} %v\n", name, l, v)
	}

	w.WriteHeader(http.StatusOK)
	gauge("uptime_seconds", health.UptimeSeconds)
	gauge("healthy", boolGauge(health.Status != "unhealthy"))
	gauge("online", boolGauge(health.Online))
	gauge("live_streaming", boolGauge(health.LiveStreaming))
	gauge("camera_frames_total", health.Camera.FramesRead)
	gauge("camera_errors_total", health.Camera.Errors)
	gauge("mailbox_offered_total", health.Mailbox.Offered)
	gauge("mailbox_dropped_total", health.Mailbox.Dropped)
	if m, ok := s.store.(*sink.MQTT); ok {
		published, errs, _ := m.Stats()
		gauge("sink_published_total", published)
		gauge("sink_errors_total", errs)
	}
	if s.preview != nil {
		written, failed := s.preview.Stats()
		gauge("preview_written_total", written)
		gauge("preview_failed_total", failed)
	}
	gauge("feed_level_percent", health.Control.FeedLevel)
	gauge("water_level_percent", health.Control.WaterLevel)
	gauge("feed_dispensing", boolGauge(health.Control.Dispensing))
	gauge("water_refilling", boolGauge(health.Control.Refilling))

	ids := make([]string, 0, len(health.Workers))
	for id := range health.Workers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		m := health.Workers[id]
		gauge("worker_iterations_total", m.Iterations, "worker", id)
		gauge("worker_errors_total", m.Errors, "worker", id)
		gauge("worker_published_total", m.Published, "worker", id)
		gauge("worker_running", boolGauge(m.Running), "worker", id)
	}
}

func boolGauge(b bool) int {
	if b {
		return 1
	}
	return 0
}

// startHealthServer starts the HTTP health check server on the given port.
// It does not block.
func (s *Supervisor) startHealthServer(port string) {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.LivenessHandler)
	mux.HandleFunc("/readiness", s.ReadinessHandler)
	mux.HandleFunc("/metrics", s.MetricsHandler)

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.server = server

	s.log.Info("starting health check server",
		"port", port,
		"endpoints", []string{"/health", "/readiness", "/metrics"},
	)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("health check server failed", "error", err)
		}
	}()
}
