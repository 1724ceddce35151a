package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"routerd/pkg/types"
)

var (
	decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "routerd",
			Subsystem: "engine",
			Name:      "decisions_total",
			Help:      "Routing decisions by selected tier",
		},
		[]string{"source"},
	)

	healthChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "routerd",
			Subsystem: "engine",
			Name:      "health_checks_total",
			Help:      "Health refresh outcomes",
		},
		[]string{"outcome"},
	)

	backendReachable = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "routerd",
			Subsystem: "engine",
			Name:      "backend_reachable",
			Help:      "1 when the last health check reached the backend",
		},
	)

	vramUsedRatio = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "routerd",
			Subsystem: "engine",
			Name:      "vram_used_ratio",
			Help:      "VRAM used over total from the last hardware probe",
		},
	)
)

func init() {
	prometheus.MustRegister(decisionsTotal, healthChecksTotal, backendReachable, vramUsedRatio)
}

func observeDecision(source types.Source) {
	decisionsTotal.WithLabelValues(string(source)).Inc()
}

func observeHealthCheck(reachable bool, gpu types.GPUReading) {
	if reachable {
		healthChecksTotal.WithLabelValues("ok").Inc()
		backendReachable.Set(1)
	} else {
		healthChecksTotal.WithLabelValues("failed").Inc()
		backendReachable.Set(0)
	}
	if gpu.VRAMUsedMB != nil && gpu.VRAMTotalMB != nil && *gpu.VRAMTotalMB > 0 {
		vramUsedRatio.Set(float64(*gpu.VRAMUsedMB) / float64(*gpu.VRAMTotalMB))
	}
}
