package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Solana RPC metrics
	rpcCallsTotal        *prometheus.CounterVec
	rpcCallDuration      *prometheus.HistogramVec
	rpcSignaturesPerCall *prometheus.HistogramVec

	// Sync engine metrics
	transactionsFetchedTotal   *prometheus.CounterVec
	transactionsPersistedTotal *prometheus.CounterVec
	transactionsSkippedTotal   *prometheus.CounterVec
	spamFilteredTotal          *prometheus.CounterVec
	syncPassDuration           *prometheus.HistogramVec

	// Change detection / refresh metrics
	changeDetectionTotal      *prometheus.CounterVec
	refreshPhaseFailuresTotal *prometheus.CounterVec

	// Event publishing metrics
	eventsPublishedTotal *prometheus.CounterVec

	// HTTP metrics
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		rpcCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method, status and network",
			},
			[]string{"method", "status", "network"},
		),
		rpcCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "network"},
		),
		rpcSignaturesPerCall: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_signatures_per_call",
				Help:    "Number of signatures returned per getSignaturesForAddress call",
				Buckets: []float64{0, 1, 2, 5, 10, 20},
			},
			[]string{"network"},
		),

		transactionsFetchedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sync_transactions_fetched_total",
				Help: "Total number of new transactions fetched per sync pass",
			},
			[]string{"account_id"},
		),
		transactionsPersistedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sync_transactions_persisted_total",
				Help: "Total number of transactions persisted",
			},
			[]string{"account_id"},
		),
		transactionsSkippedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sync_transactions_skipped_total",
				Help: "Total number of transactions skipped during persistence",
			},
			[]string{"account_id", "reason"},
		),
		spamFilteredTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sync_spam_filtered_total",
				Help: "Total number of transactions excluded by the spam classifier",
			},
			[]string{"account_id"},
		),
		syncPassDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sync_pass_duration_seconds",
				Help:    "Duration of one account sync pass in seconds",
				Buckets: []float64{0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
			},
			[]string{"account_id"},
		),

		changeDetectionTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sync_change_detection_total",
				Help: "Change detection probe outcomes",
			},
			[]string{"result"},
		),
		refreshPhaseFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sync_refresh_phase_failures_total",
				Help: "Failures of the asset/transaction refresh phases",
			},
			[]string{"phase"},
		),

		eventsPublishedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_events_published_total",
				Help: "Total number of account-transactions-updated events published",
			},
			[]string{"status"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"method", "path"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
	}
}

// RecordRPCCall records one Solana RPC call.
func (m *Metrics) RecordRPCCall(method, status, network string, seconds float64) {
	m.rpcCallsTotal.WithLabelValues(method, status, network).Inc()
	m.rpcCallDuration.WithLabelValues(method, network).Observe(seconds)
}

// RecordSignaturesPerCall records how many signatures a listing returned.
func (m *Metrics) RecordSignaturesPerCall(network string, count float64) {
	m.rpcSignaturesPerCall.WithLabelValues(network).Observe(count)
}

// RecordTransactionsFetched records new transactions discovered for an account.
func (m *Metrics) RecordTransactionsFetched(accountID string, count int) {
	m.transactionsFetchedTotal.WithLabelValues(accountID).Add(float64(count))
}

// RecordTransactionsPersisted records transactions written to the store.
func (m *Metrics) RecordTransactionsPersisted(accountID string, count int) {
	m.transactionsPersistedTotal.WithLabelValues(accountID).Add(float64(count))
}

// RecordTransactionsSkipped records transactions skipped during persistence.
func (m *Metrics) RecordTransactionsSkipped(accountID, reason string, count int) {
	m.transactionsSkippedTotal.WithLabelValues(accountID, reason).Add(float64(count))
}

// RecordSpamFiltered records transactions excluded by the spam classifier.
func (m *Metrics) RecordSpamFiltered(accountID string, count int) {
	m.spamFilteredTotal.WithLabelValues(accountID).Add(float64(count))
}

// RecordSyncPassDuration records the duration of one account sync pass.
func (m *Metrics) RecordSyncPassDuration(accountID string, seconds float64) {
	m.syncPassDuration.WithLabelValues(accountID).Observe(seconds)
}

// RecordChangeDetection records one probe outcome (changed/unchanged/error).
func (m *Metrics) RecordChangeDetection(result string) {
	m.changeDetectionTotal.WithLabelValues(result).Inc()
}

// RecordRefreshPhaseFailure records a failed refresh phase (assets/transactions).
func (m *Metrics) RecordRefreshPhaseFailure(phase string) {
	m.refreshPhaseFailuresTotal.WithLabelValues(phase).Inc()
}

// RecordEventPublished records the outcome of a NATS publish.
func (m *Metrics) RecordEventPublished(status string, count int) {
	m.eventsPublishedTotal.WithLabelValues(status).Add(float64(count))
}

// RecordHTTPRequest records one served HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, seconds float64) {
	m.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.httpRequestDuration.WithLabelValues(method, path).Observe(seconds)
}
