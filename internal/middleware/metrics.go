package middleware

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Message metrics
	messagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "antispam_messages_received_total",
		Help: "Total number of messages received",
	}, []string{"chat_type"})

	decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "antispam_decisions_total",
		Help: "Total number of moderation decisions by outcome",
	}, []string{"outcome", "reason"})

	decisionsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "antispam_decisions_dropped_total",
		Help: "Total number of decisions abandoned after a storage failure",
	})

	// Command metrics
	commandsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "antispam_commands_executed_total",
		Help: "Total number of admin commands executed",
	}, []string{"command", "status"})

	// Classifier metrics
	classifierRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "antispam_classifier_request_duration_seconds",
		Help:    "Duration of classifier requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})

	classifierRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "antispam_classifier_requests_total",
		Help: "Total number of classifier requests",
	}, []string{"outcome"})

	// Rate limit metrics
	rateLimitExceeded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "antispam_classifier_rate_limited_total",
		Help: "Total number of classifier calls skipped by the per-chat rate limit",
	})

	// Storage metrics
	storageOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "antispam_storage_operations_total",
		Help: "Total number of storage operations",
	}, []string{"operation", "status"})

	storageOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "antispam_storage_operation_duration_seconds",
		Help:    "Duration of storage operations",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	// Enforcement metrics
	enforcementActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "antispam_enforcement_actions_total",
		Help: "Total number of restrictions and removals",
	}, []string{"action", "status"})

	// Matcher metrics
	matcherRebuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "antispam_matcher_rebuilds_total",
		Help: "Total number of keyword matcher compilations",
	}, []string{"degraded"})

	// Dispatcher metrics
	dispatchAdded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "antispam_dispatch_items_added_total",
		Help: "Total number of updates added to the dispatcher",
	})

	dispatchProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "antispam_dispatch_items_processed_total",
		Help: "Total number of updates processed by the dispatcher",
	})

	dispatchWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "antispam_dispatch_workers_active",
		Help: "Number of dispatcher workers",
	})
)

// Metrics provides methods to record metrics
type Metrics struct{}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordMessageReceived records a received message
func (m *Metrics) RecordMessageReceived(chatType string) {
	messagesReceived.WithLabelValues(chatType).Inc()
}

// RecordDecision records a moderation decision
func (m *Metrics) RecordDecision(outcome, reason string) {
	decisionsTotal.WithLabelValues(outcome, reason).Inc()
}

// RecordDecisionDropped records a decision abandoned on a storage failure
func (m *Metrics) RecordDecisionDropped() {
	decisionsDropped.Inc()
}

// RecordCommandExecuted records an executed command
func (m *Metrics) RecordCommandExecuted(command, status string) {
	commandsExecuted.WithLabelValues(command, status).Inc()
}

// RecordClassifierRequest records a classifier request
func (m *Metrics) RecordClassifierRequest(outcome string, duration time.Duration) {
	classifierRequestDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	classifierRequestsTotal.WithLabelValues(outcome).Inc()
}

// RecordRateLimitExceeded records a classifier call skipped by the rate limit
func (m *Metrics) RecordRateLimitExceeded() {
	rateLimitExceeded.Inc()
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(operation, status string, duration time.Duration) {
	storageOperations.WithLabelValues(operation, status).Inc()
	storageOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordEnforcement records a restriction or removal attempt
func (m *Metrics) RecordEnforcement(action, status string) {
	enforcementActions.WithLabelValues(action, status).Inc()
}

// RecordMatcherRebuild records a matcher compilation
func (m *Metrics) RecordMatcherRebuild(degraded bool) {
	label := "false"
	if degraded {
		label = "true"
	}
	matcherRebuilds.WithLabelValues(label).Inc()
}

// RecordDispatchAdded records an update queued for processing
func (m *Metrics) RecordDispatchAdded() {
	dispatchAdded.Inc()
}

// RecordDispatchProcessed records an update handled by a worker
func (m *Metrics) RecordDispatchProcessed() {
	dispatchProcessed.Inc()
}

// SetDispatchWorkers sets the number of dispatcher workers
func (m *Metrics) SetDispatchWorkers(count int) {
	dispatchWorkers.Set(float64(count))
}
