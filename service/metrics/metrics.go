package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// It is constructed once and passed to every component that records metrics.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Solana RPC Metrics
	solanaRPCCallsTotal    *prometheus.CounterVec
	solanaRPCCallDuration  *prometheus.HistogramVec
	solanaRPCRateLimitHits *prometheus.CounterVec
	solanaRPCRetries       *prometheus.CounterVec

	// Payment Metrics
	transfersBuiltTotal     *prometheus.CounterVec
	validationsTotal        *prometheus.CounterVec
	validationDuration      *prometheus.HistogramVec
	splitMismatchesTotal    *prometheus.CounterVec
	creditsAwardedTotal     prometheus.Counter
	lamportsCreditedTotal   prometheus.Counter
	duplicateClaimsTotal    *prometheus.CounterVec
	activeSignatureClaims   prometheus.Gauge
	settlementWorkflowTotal *prometheus.CounterVec

	// Database Metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP Metrics
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	sseActiveConnections *prometheus.GaugeVec
	sseEventsSent        *prometheus.CounterVec

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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
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
				Help: "Total number of Solana RPC retries by method and reason",
			},
			[]string{"method", "reason"},
		),

		transfersBuiltTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wishpay_transfers_built_total",
				Help: "Total number of unsigned split transfers built, by status",
			},
			[]string{"status"},
		),
		validationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wishpay_validations_total",
				Help: "Total number of transfer validations by outcome",
			},
			[]string{"outcome"},
		),
		validationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wishpay_validation_duration_seconds",
				Help:    "Duration of transfer validations in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
			},
			[]string{"outcome"},
		),
		splitMismatchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wishpay_split_mismatches_total",
				Help: "Total number of transfers whose split fell outside tolerance, by policy",
			},
			[]string{"policy"},
		),
		creditsAwardedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "wishpay_credits_awarded_total",
				Help: "Total number of wish credits awarded",
			},
		),
		lamportsCreditedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "wishpay_lamports_credited_total",
				Help: "Total lamports transferred by credited payments",
			},
		),
		duplicateClaimsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wishpay_duplicate_claims_total",
				Help: "Total number of rejected duplicate signature claims, by source",
			},
			[]string{"source"},
		),
		activeSignatureClaims: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "wishpay_active_signature_claims",
				Help: "Number of signatures currently held by the in-memory guard",
			},
		),
		settlementWorkflowTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wishpay_settlement_workflows_total",
				Help: "Total number of settlement workflow executions by status",
			},
			[]string{"status"},
		),

		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
			},
			[]string{"operation", "table"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations by type and status",
			},
			[]string{"operation", "table", "status"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 30.0},
			},
			[]string{"handler", "method", "status_code"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by handler, method, and status code",
			},
			[]string{"handler", "method", "status_code"},
		),
		sseActiveConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sse_active_connections",
				Help: "Number of active SSE connections by stream",
			},
			[]string{"stream"},
		),
		sseEventsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sse_events_sent_total",
				Help: "Total number of SSE events sent by stream and event type",
			},
			[]string{"stream", "event_type"},
		),

		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published by subject and status",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
			},
			[]string{"subject"},
		),
	}
}

// RecordRPCCall records a Solana RPC call with its duration and status.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, duration float64) {
	if m == nil {
		return
	}
	m.solanaRPCCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.solanaRPCCallDuration.WithLabelValues(method, endpoint).Observe(duration)
}

func (m *Metrics) RecordRateLimitHit(endpoint string) {
	if m == nil {
		return
	}
	m.solanaRPCRateLimitHits.WithLabelValues(endpoint).Inc()
}

func (m *Metrics) RecordRPCRetry(method, reason string) {
	if m == nil {
		return
	}
	m.solanaRPCRetries.WithLabelValues(method, reason).Inc()
}

// RecordTransferBuilt counts a build attempt. status is "success" or an error code.
func (m *Metrics) RecordTransferBuilt(status string) {
	if m == nil {
		return
	}
	m.transfersBuiltTotal.WithLabelValues(status).Inc()
}

// RecordValidation records the outcome and duration of one validate-and-credit request.
func (m *Metrics) RecordValidation(outcome string, duration float64) {
	if m == nil {
		return
	}
	m.validationsTotal.WithLabelValues(outcome).Inc()
	m.validationDuration.WithLabelValues(outcome).Observe(duration)
}

func (m *Metrics) RecordSplitMismatch(policy string) {
	if m == nil {
		return
	}
	m.splitMismatchesTotal.WithLabelValues(policy).Inc()
}

// RecordCredit records a successful credit award.
func (m *Metrics) RecordCredit(credits int64, lamports uint64) {
	if m == nil {
		return
	}
	m.creditsAwardedTotal.Add(float64(credits))
	m.lamportsCreditedTotal.Add(float64(lamports))
}

// RecordDuplicateClaim counts a rejected replay. source is "guard" or "store".
func (m *Metrics) RecordDuplicateClaim(source string) {
	if m == nil {
		return
	}
	m.duplicateClaimsTotal.WithLabelValues(source).Inc()
}

func (m *Metrics) SetActiveSignatureClaims(n int) {
	if m == nil {
		return
	}
	m.activeSignatureClaims.Set(float64(n))
}

func (m *Metrics) RecordSettlementWorkflow(status string) {
	if m == nil {
		return
	}
	m.settlementWorkflowTotal.WithLabelValues(status).Inc()
}

// RecordDBQuery records a database query with its duration and outcome.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, table, status).Inc()
}

// RecordHTTPRequest records an HTTP request with its duration and status.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	if m == nil {
		return
	}
	code := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, code).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, code).Inc()
}

func (m *Metrics) RecordSSEConnectionChange(stream string, delta float64) {
	if m == nil {
		return
	}
	m.sseActiveConnections.WithLabelValues(stream).Add(delta)
}

func (m *Metrics) RecordSSEEventSent(stream, eventType string) {
	if m == nil {
		return
	}
	m.sseEventsSent.WithLabelValues(stream, eventType).Inc()
}

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	if m == nil {
		return
	}
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

func statusCodeToString(code int) string {
	switch code {
	case 200:
		return "200"
	case 201:
		return "201"
	case 202:
		return "202"
	case 400:
		return "400"
	case 404:
		return "404"
	case 409:
		return "409"
	case 422:
		return "422"
	case 500:
		return "500"
	case 503:
		return "503"
	default:
		return strconv.Itoa(code)
	}
}
