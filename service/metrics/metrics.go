package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the swap pipeline.
// It is passed explicitly to every component that records metrics.
// All Record helpers are safe to call on a nil *Metrics.
type Metrics struct {
	// Solana RPC Metrics
	solanaRPCCallsTotal    *prometheus.CounterVec
	solanaRPCCallDuration  *prometheus.HistogramVec
	solanaRPCRateLimitHits *prometheus.CounterVec
	solanaRPCRetries       *prometheus.CounterVec

	// Backend API Metrics
	backendRequestsTotal   *prometheus.CounterVec
	backendRequestDuration *prometheus.HistogramVec
	backendRetries         *prometheus.CounterVec

	// Auth Metrics
	tokenRefreshesTotal *prometheus.CounterVec
	tokenWaitersTotal   *prometheus.CounterVec

	// Pipeline Metrics
	quotesTotal       *prometheus.CounterVec
	signaturesTotal   *prometheus.CounterVec
	submissionsTotal  *prometheus.CounterVec
	statusPollsTotal  *prometheus.CounterVec
	trackDuration     *prometheus.HistogramVec
	swapStageDuration *prometheus.HistogramVec

	// Workflow Metrics
	watchWorkflowDuration        *prometheus.HistogramVec
	watchWorkflowExecutionsTotal *prometheus.CounterVec
	watchActivityDuration        *prometheus.HistogramVec

	// Database Metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// Solana RPC Metrics
		solanaRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status", "endpoint"},
		),
		solanaRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "endpoint"},
		),
		solanaRPCRateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_rate_limit_hits_total",
				Help: "Total number of Solana RPC rate limit hits (429 errors)",
			},
			[]string{"endpoint"},
		),
		solanaRPCRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_retries_total",
				Help: "Total number of Solana RPC retry attempts",
			},
			[]string{"method", "reason"},
		),

		// Backend API Metrics
		backendRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backend_requests_total",
				Help: "Total number of swap backend requests by endpoint and status class",
			},
			[]string{"endpoint", "status"},
		),
		backendRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "backend_request_duration_seconds",
				Help:    "Duration of swap backend requests in seconds, retries included",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"endpoint"},
		),
		backendRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backend_retries_total",
				Help: "Total number of swap backend retry attempts",
			},
			[]string{"endpoint", "reason"},
		),

		// Auth Metrics
		tokenRefreshesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_token_refreshes_total",
				Help: "Total number of bearer token refreshes by outcome",
			},
			[]string{"outcome"},
		),
		tokenWaitersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_token_waiters_total",
				Help: "Total number of EnsureToken callers by how they were served",
			},
			[]string{"path"},
		),

		// Pipeline Metrics
		quotesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swap_quotes_total",
				Help: "Total number of quotes computed",
			},
			[]string{"status"},
		),
		signaturesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swap_signatures_total",
				Help: "Total number of transaction signing attempts by wire format",
			},
			[]string{"format", "status"},
		),
		submissionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swap_submissions_total",
				Help: "Total number of signed transaction submissions",
			},
			[]string{"status"},
		),
		statusPollsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swap_status_polls_total",
				Help: "Total number of trade status polls by observed status",
			},
			[]string{"status"},
		),
		trackDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "swap_track_duration_seconds",
				Help:    "Time spent watching a trade until it stopped",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"outcome"},
		),
		swapStageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "swap_stage_duration_seconds",
				Help:    "Duration of each swap pipeline stage in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
			},
			[]string{"stage", "status"},
		),

		// Workflow Metrics
		watchWorkflowDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "trade_watch_workflow_duration_seconds",
				Help:    "Duration of durable trade watch workflow execution in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 900},
			},
			[]string{"status"},
		),
		watchWorkflowExecutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trade_watch_workflow_executions_total",
				Help: "Total number of durable trade watch workflow executions",
			},
			[]string{"status"},
		),
		watchActivityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "trade_watch_activity_duration_seconds",
				Help:    "Duration of trade watch activities in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"activity"},
		),

		// Database Metrics
		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation", "table"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		// NATS Metrics
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"kind", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"kind"},
		),
	}
}

// Solana RPC metric helpers

// RecordRPCCall records a Solana RPC call with duration.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, duration float64) {
	if m == nil {
		return
	}
	m.solanaRPCCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.solanaRPCCallDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordRateLimitHit records a rate limit hit (429 error).
func (m *Metrics) RecordRateLimitHit(endpoint string) {
	if m == nil {
		return
	}
	m.solanaRPCRateLimitHits.WithLabelValues(endpoint).Inc()
}

// RecordRPCRetry records a retry attempt.
func (m *Metrics) RecordRPCRetry(method, reason string) {
	if m == nil {
		return
	}
	m.solanaRPCRetries.WithLabelValues(method, reason).Inc()
}

// Backend API metric helpers

// RecordBackendRequest records one logical backend call. statusCode is 0
// when no response was received.
func (m *Metrics) RecordBackendRequest(endpoint string, statusCode int, duration float64) {
	if m == nil {
		return
	}
	m.backendRequestsTotal.WithLabelValues(endpoint, statusCodeToString(statusCode)).Inc()
	m.backendRequestDuration.WithLabelValues(endpoint).Observe(duration)
}

// RecordBackendRetry records a retried backend attempt.
func (m *Metrics) RecordBackendRetry(endpoint, reason string) {
	if m == nil {
		return
	}
	m.backendRetries.WithLabelValues(endpoint, reason).Inc()
}

// Auth metric helpers

// RecordTokenRefresh records the outcome of one shared refresh
// ("success", "attestation_error", "exchange_error", "persist_error").
func (m *Metrics) RecordTokenRefresh(outcome string) {
	if m == nil {
		return
	}
	m.tokenRefreshesTotal.WithLabelValues(outcome).Inc()
}

// RecordTokenWaiter records how an EnsureToken call was served:
// "cached", "leader" or "coalesced".
func (m *Metrics) RecordTokenWaiter(path string) {
	if m == nil {
		return
	}
	m.tokenWaitersTotal.WithLabelValues(path).Inc()
}

// Pipeline metric helpers

func (m *Metrics) RecordQuote(status string) {
	if m == nil {
		return
	}
	m.quotesTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordSignature(format, status string) {
	if m == nil {
		return
	}
	m.signaturesTotal.WithLabelValues(format, status).Inc()
}

func (m *Metrics) RecordSubmission(status string) {
	if m == nil {
		return
	}
	m.submissionsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordStatusPoll(status string) {
	if m == nil {
		return
	}
	m.statusPollsTotal.WithLabelValues(status).Inc()
}

// RecordTrack records how long a trade was watched and how watching ended.
func (m *Metrics) RecordTrack(outcome string, duration float64) {
	if m == nil {
		return
	}
	m.trackDuration.WithLabelValues(outcome).Observe(duration)
}

// RecordSwapStage records the duration of one orchestrator stage.
func (m *Metrics) RecordSwapStage(stage string, duration float64, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.swapStageDuration.WithLabelValues(stage, status).Observe(duration)
}

// Workflow metric helpers

// RecordWorkflowDuration records workflow execution duration.
func (m *Metrics) RecordWorkflowDuration(status string, duration float64) {
	if m == nil {
		return
	}
	m.watchWorkflowDuration.WithLabelValues(status).Observe(duration)
	m.watchWorkflowExecutionsTotal.WithLabelValues(status).Inc()
}

// RecordActivityDuration records activity execution duration.
func (m *Metrics) RecordActivityDuration(activity string, duration float64) {
	if m == nil {
		return
	}
	m.watchActivityDuration.WithLabelValues(activity).Observe(duration)
}

// Database metric helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, status).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(kind, status string, duration float64) {
	if m == nil {
		return
	}
	m.natsMessagesPublished.WithLabelValues(kind, status).Inc()
	m.natsPublishDuration.WithLabelValues(kind).Observe(duration)
}

// Helper functions

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "none"
	}
}
