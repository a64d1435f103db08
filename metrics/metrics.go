// Package metrics – Prometheus metrics for the bridge.
//
// Exposed series:
//   - mt5_bridge_requests_total{action,outcome}  – handled requests (outcome: success|failure)
//   - mt5_bridge_jobs_total{status}              – jobs reaching a terminal status
//   - mt5_bridge_active_jobs                     – jobs currently running or queued
//   - mt5_bridge_batches_total                   – batch windows fetched
//   - mt5_bridge_extracted_records_total         – deal rows fetched
//   - mt5_bridge_heartbeat_failures_total        – failed liveness probes
//   - mt5_bridge_session_connected               – 1 when the terminal session is up
//
// These are registered in init() and served by Handler at /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	mtxRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mt5_bridge_requests_total",
			Help: "Requests handled by the dispatcher",
		},
		[]string{"action", "outcome"},
	)

	mtxJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mt5_bridge_jobs_total",
			Help: "Extraction jobs by terminal status",
		},
		[]string{"status"},
	)

	mtxActiveJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mt5_bridge_active_jobs",
			Help: "Extraction jobs running or waiting for a worker",
		},
	)

	mtxBatches = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mt5_bridge_batches_total",
			Help: "Batch windows fetched from the terminal",
		},
	)

	mtxRecords = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mt5_bridge_extracted_records_total",
			Help: "Deal rows fetched from the terminal",
		},
	)

	mtxHeartbeatFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mt5_bridge_heartbeat_failures_total",
			Help: "Heartbeat probes that found the session down",
		},
	)

	mtxSessionUp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mt5_bridge_session_connected",
			Help: "1 when the terminal session is connected",
		},
	)
)

func init() {
	prometheus.MustRegister(mtxRequests, mtxJobs, mtxActiveJobs)
	prometheus.MustRegister(mtxBatches, mtxRecords)
	prometheus.MustRegister(mtxHeartbeatFailures, mtxSessionUp)
}

func ObserveRequest(action string, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	mtxRequests.WithLabelValues(action, outcome).Inc()
}

func ObserveBatch(records int) {
	mtxBatches.Inc()
	mtxRecords.Add(float64(records))
}

func ObserveJobFinished(status string) { mtxJobs.WithLabelValues(status).Inc() }
func SetActiveJobs(n int)              { mtxActiveJobs.Set(float64(n)) }
func IncHeartbeatFailure()             { mtxHeartbeatFailures.Inc() }

func SetSessionConnected(up bool) {
	if up {
		mtxSessionUp.Set(1)
	} else {
		mtxSessionUp.Set(0)
	}
}

// Handler serves /metrics and a plain /healthz.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}
