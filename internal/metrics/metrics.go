package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// AI service metrics for production monitoring
var (
	// Monitoring cycle metrics
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stackwatch_ai_cycles_total",
			Help: "Total number of monitoring cycles run",
		},
		[]string{"status"}, // status: completed/skipped/failed
	)

	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stackwatch_ai_cycle_duration_seconds",
			Help:    "Monitoring cycle duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1min
		},
	)

	ResourcesEvaluated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stackwatch_ai_resources_evaluated_total",
			Help: "Total number of per-resource evaluations across all cycles",
		},
	)

	ResourceEvaluationErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stackwatch_ai_resource_evaluation_errors_total",
			Help: "Total number of per-resource evaluation failures",
		},
	)

	// Detection metrics
	InsightsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stackwatch_ai_insights_emitted_total",
			Help: "Total number of insights emitted",
		},
		[]string{"category", "severity"},
	)

	InsightsSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stackwatch_ai_insights_suppressed_total",
			Help: "Total number of insights suppressed by the cooldown tracker",
		},
		[]string{"category"},
	)

	// Correlation metrics
	IncidentsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stackwatch_ai_incidents_created_total",
			Help: "Total number of incidents seeded from an uncorrelated insight",
		},
	)

	IncidentsAttached = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stackwatch_ai_incidents_attached_total",
			Help: "Total number of insights attached to an existing incident",
		},
		[]string{"correlation"}, // correlation: resource/similarity
	)

	IncidentsResolved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stackwatch_ai_incidents_resolved_total",
			Help: "Total number of incidents auto-resolved after going stale",
		},
	)

	// Investigation metrics
	InvestigationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stackwatch_ai_investigations_total",
			Help: "Total number of investigations by outcome",
		},
		[]string{"status"}, // status: complete/failed
	)

	InvestigationsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stackwatch_ai_investigations_dropped_total",
			Help: "Total number of investigation triggers dropped without starting",
		},
		[]string{"reason"}, // reason: concurrency/cooldown/disabled
	)

	InvestigationsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stackwatch_ai_investigations_in_flight",
			Help: "Current number of non-terminal investigations",
		},
	)

	InvestigationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stackwatch_ai_investigation_duration_seconds",
			Help:    "Investigation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17min
		},
	)

	// Remediation metrics
	ActionsProposed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stackwatch_ai_actions_proposed_total",
			Help: "Total number of remediation actions proposed",
		},
		[]string{"type"},
	)

	ActionTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stackwatch_ai_action_transitions_total",
			Help: "Total number of action status transitions",
		},
		[]string{"from", "to"},
	)

	ActionTransitionsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stackwatch_ai_action_transitions_rejected_total",
			Help: "Total number of action status transitions rejected as invalid",
		},
	)

	ActionExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stackwatch_ai_action_execution_duration_seconds",
			Help:    "Action execution duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1min
		},
		[]string{"type"},
	)

	// LLM metrics
	LLMRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stackwatch_ai_llm_requests_total",
			Help: "Total number of LLM API requests",
		},
		[]string{"provider", "model", "status"},
	)

	LLMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stackwatch_ai_llm_request_duration_seconds",
			Help:    "LLM request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1min
		},
		[]string{"provider", "model"},
	)

	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stackwatch_ai_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stackwatch_ai_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8), // 1ms to ~16s
		},
		[]string{"method", "path"},
	)

	RateLimitedRequests = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stackwatch_ai_rate_limited_requests_total",
			Help: "Total number of requests refused by the rate limiter",
		},
	)

	// WebSocket metrics
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stackwatch_ai_websocket_connections",
			Help: "Current number of active WebSocket connections",
		},
	)

	WebSocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stackwatch_ai_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // direction: inbound/outbound
	)

	WebSocketDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stackwatch_ai_websocket_drops_total",
			Help: "Total number of events dropped on slow WebSocket subscribers",
		},
	)
)
