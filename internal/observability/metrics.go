package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TriggersProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vigil",
		Name:      "triggers_processed_total",
		Help:      "Total number of camera triggers processed",
	}, []string{"camera_id", "outcome"})

	ProviderAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vigil",
		Name:      "provider_attempts_total",
		Help:      "Inference provider attempts by result",
	}, []string{"provider", "result"})

	ProviderCost = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vigil",
		Name:      "provider_cost_usd_total",
		Help:      "Estimated inference spend in USD",
	}, []string{"provider"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vigil",
		Name:      "stage_duration_seconds",
		Help:      "Duration of event pipeline stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"stage"})

	EntitiesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vigil",
		Name:      "entities_created_total",
		Help:      "Total number of new entities created by the resolver",
	})

	EntitiesMatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vigil",
		Name:      "entities_matched_total",
		Help:      "Entity matches by strength",
	}, []string{"strength"})

	RulesFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vigil",
		Name:      "rules_fired_total",
		Help:      "Alert rule firings",
	}, []string{"rule"})

	RulesSuppressed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vigil",
		Name:      "rules_suppressed_total",
		Help:      "Rule matches suppressed by cooldown",
	}, []string{"rule"})

	AnomalyScore = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vigil",
		Name:      "anomaly_score",
		Help:      "Distribution of event anomaly scores",
		Buckets:   prometheus.LinearBuckets(0, 10, 11),
	}, []string{"camera_id"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "vigil",
		Name:      "queue_depth",
		Help:      "Number of pending trigger tasks in queue",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vigil",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "vigil",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
