package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type collectors struct {
	apiLatency           *prometheus.HistogramVec
	liveSessions         prometheus.Gauge
	sessionDuration      prometheus.Histogram
	lifecycleTransitions *prometheus.CounterVec
	signals              *prometheus.CounterVec
	moderationBlocks     *prometheus.CounterVec
	violationReports     *prometheus.CounterVec
	policyDecisions      *prometheus.CounterVec
	realtimeConnections  prometheus.Gauge
	realtimeFrames       *prometheus.CounterVec
	realtimeFailures     *prometheus.CounterVec
	maintenanceRuns      *prometheus.CounterVec
	maintenanceDuration  *prometheus.HistogramVec
	maintenanceLastRun   *prometheus.GaugeVec
}

func newCollectors(namespace string) *collectors {
	buckets := prometheus.DefBuckets
	sessionBuckets := []float64{
		60, 300, 900, // short drop-ins
		1800, 2700, 3600,
		5400, 7200, 10800,
	}

	return &collectors{
		apiLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_latency_seconds",
				Help:      "API endpoint latency",
				Buckets:   buckets,
			},
			[]string{"method", "path", "status"},
		),
		liveSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "live_sessions",
				Help:      "Number of sessions currently live",
			},
		),
		sessionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "session_duration_seconds",
				Help:      "Observed live session lengths",
				Buckets:   sessionBuckets,
			},
		),
		lifecycleTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lifecycle_transitions_total",
				Help:      "Session status transitions",
			},
			[]string{"from", "to"},
		),
		signals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "signals_total",
				Help:      "Signaling bus messages by topic, direction and outcome",
			},
			[]string{"topic", "direction", "result"},
		),
		moderationBlocks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "moderation_blocks_total",
				Help:      "Outbound chat messages blocked by contact-info moderation",
			},
			[]string{"severity"},
		),
		violationReports: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "violation_reports_total",
				Help:      "Violation report deliveries by outcome",
			},
			[]string{"result"},
		),
		policyDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_decisions_total",
				Help:      "Classroom authorization decisions",
			},
			[]string{"action", "result"},
		),
		realtimeConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "realtime_connections",
				Help:      "Active room websocket connections",
			},
		),
		realtimeFrames: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "realtime_frames_total",
				Help:      "Frames relayed by the room hub",
			},
			[]string{"type"},
		),
		realtimeFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "realtime_failures_total",
				Help:      "Room relay failures",
			},
			[]string{"type"},
		),
		maintenanceRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "maintenance_runs_total",
				Help:      "Maintenance job executions",
			},
			[]string{"job", "result"},
		),
		maintenanceDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "maintenance_duration_seconds",
				Help:      "Maintenance job duration",
				Buckets:   buckets,
			},
			[]string{"job"},
		),
		maintenanceLastRun: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "maintenance_last_success_timestamp",
				Help:      "Timestamp of the last successful maintenance run (seconds since epoch)",
			},
			[]string{"job"},
		),
	}
}

func (c *collectors) all() []prometheus.Collector {
	return []prometheus.Collector{
		c.apiLatency,
		c.liveSessions,
		c.sessionDuration,
		c.lifecycleTransitions,
		c.signals,
		c.moderationBlocks,
		c.violationReports,
		c.policyDecisions,
		c.realtimeConnections,
		c.realtimeFrames,
		c.realtimeFailures,
		c.maintenanceRuns,
		c.maintenanceDuration,
		c.maintenanceLastRun,
	}
}

func observeDuration(observer prometheus.Observer, d time.Duration) {
	if observer == nil {
		return
	}
	if d < 0 {
		d = 0
	}
	observer.Observe(d.Seconds())
}
