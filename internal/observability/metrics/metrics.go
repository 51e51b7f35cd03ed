package metrics

import (
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

const (
	metricPrefix = "backoffice_"

	resultSuccess = "success"
	resultError   = "error"
	resultPartial = "partial"
	resultNoop    = "noop"
)

var (
	registerOnce sync.Once

	historyAppendTotal   *prometheus.CounterVec
	historyAppendLatency *prometheus.HistogramVec
	historyAppendRetries prometheus.Counter

	commandResults *prometheus.CounterVec

	ledgerSyncTotal  *prometheus.CounterVec
	propagationTotal *prometheus.CounterVec

	overdueReclassified prometheus.Counter
	unknownStatuses     prometheus.Counter

	statementExportTotal   *prometheus.CounterVec
	statementExportLatency *prometheus.HistogramVec

	outboxPublishTotal    *prometheus.CounterVec
	outboxPublishLatency  *prometheus.HistogramVec
	outboxDispatchTotal   *prometheus.CounterVec
	outboxDispatchLatency *prometheus.HistogramVec
	outboxDispatchRecords *prometheus.CounterVec

	consumerLag *prometheus.GaugeVec

	httpRequests *prometheus.CounterVec
)

// Init registers metrics. When db is non-nil, outbox gauges read from it.
func Init(db *sql.DB, logger zerolog.Logger) {
	registerOnce.Do(func() {
		historyAppendTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "history_append_total",
				Help: "Total charge history appends by result",
			},
			[]string{"result"},
		)
		historyAppendLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "history_append_latency_seconds",
				Help:    "Charge history append latency in seconds, retries included",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		historyAppendRetries = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "history_append_retries_total",
				Help: "Total transaction conflict retries",
			},
		)

		commandResults = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "command_results_total",
				Help: "Total installment commands by command and result",
			},
			[]string{"command", "result"},
		)

		ledgerSyncTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ledger_sync_total",
				Help: "Total ledger synchronizations by operation and result",
			},
			[]string{"operation", "result"},
		)
		propagationTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "vendor_propagation_total",
				Help: "Total vendor account propagations by operation and result",
			},
			[]string{"operation", "result"},
		)

		overdueReclassified = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "overdue_reclassified_total",
				Help: "Total charges reclassified as overdue",
			},
		)
		unknownStatuses = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "unknown_status_total",
				Help: "Total reported statuses missing from the vocabulary",
			},
		)

		statementExportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "statement_export_total",
				Help: "Total statement export operations by format and result",
			},
			[]string{"format", "result"},
		)
		statementExportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "statement_export_latency_seconds",
				Help:    "Statement export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		outboxPublishTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "outbox_publish_total",
				Help: "Total outbox inserts by result",
			},
			[]string{"result"},
		)
		outboxPublishLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "outbox_publish_latency_seconds",
				Help:    "Outbox insert latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		outboxDispatchTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "outbox_dispatch_total",
				Help: "Total outbox dispatch runs by result",
			},
			[]string{"result"},
		)
		outboxDispatchLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "outbox_dispatch_latency_seconds",
				Help:    "Outbox dispatch run latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		outboxDispatchRecords = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "outbox_dispatch_records_total",
				Help: "Total outbox records handled by outcome",
			},
			[]string{"outcome"},
		)

		consumerLag = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "event_consumer_lag_seconds",
				Help: "Consumer processing lag in seconds",
			},
			[]string{"consumer"},
		)

		httpRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "http_requests_total",
				Help: "Total HTTP requests by method and status code",
			},
			[]string{"method", "code"},
		)

		prometheus.MustRegister(
			historyAppendTotal,
			historyAppendLatency,
			historyAppendRetries,
			commandResults,
			ledgerSyncTotal,
			propagationTotal,
			overdueReclassified,
			unknownStatuses,
			statementExportTotal,
			statementExportLatency,
			outboxPublishTotal,
			outboxPublishLatency,
			outboxDispatchTotal,
			outboxDispatchLatency,
			outboxDispatchRecords,
			consumerLag,
			httpRequests,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveHistoryAppend records an append outcome and its latency.
func ObserveHistoryAppend(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if historyAppendTotal != nil {
		historyAppendTotal.WithLabelValues(result).Inc()
	}
	if historyAppendLatency != nil {
		historyAppendLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncHistoryRetry counts one conflict retry.
func IncHistoryRetry() {
	if historyAppendRetries != nil {
		historyAppendRetries.Inc()
	}
}

// IncCommandResult counts a command outcome.
func IncCommandResult(command, result string) {
	if command == "" {
		command = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if commandResults != nil {
		commandResults.WithLabelValues(command, result).Inc()
	}
}

// IncLedgerSync counts a ledger synchronization.
func IncLedgerSync(operation, result string) {
	if operation == "" {
		operation = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if ledgerSyncTotal != nil {
		ledgerSyncTotal.WithLabelValues(operation, result).Inc()
	}
}

// IncPropagation counts a vendor account propagation.
func IncPropagation(operation, result string) {
	if operation == "" {
		operation = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if propagationTotal != nil {
		propagationTotal.WithLabelValues(operation, result).Inc()
	}
}

// IncOverdueReclassified counts one charge moved to overdue.
func IncOverdueReclassified() {
	if overdueReclassified != nil {
		overdueReclassified.Inc()
	}
}

// IncUnknownStatus counts one reported status outside the vocabulary.
func IncUnknownStatus() {
	if unknownStatuses != nil {
		unknownStatuses.Inc()
	}
}

// ObserveStatementExport records export latency and result.
func ObserveStatementExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if statementExportTotal != nil {
		statementExportTotal.WithLabelValues(format, result).Inc()
	}
	if statementExportLatency != nil {
		statementExportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// ObserveOutboxPublish records an outbox insert.
func ObserveOutboxPublish(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if outboxPublishTotal != nil {
		outboxPublishTotal.WithLabelValues(result).Inc()
	}
	if outboxPublishLatency != nil {
		outboxPublishLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// ObserveOutboxDispatch records a dispatch run.
func ObserveOutboxDispatch(result string, duration time.Duration, sent, failed, dlq int) {
	if result == "" {
		result = resultSuccess
	}
	if outboxDispatchTotal != nil {
		outboxDispatchTotal.WithLabelValues(result).Inc()
	}
	if outboxDispatchLatency != nil {
		outboxDispatchLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
	if outboxDispatchRecords != nil {
		outboxDispatchRecords.WithLabelValues("sent").Add(float64(sent))
		outboxDispatchRecords.WithLabelValues("failed").Add(float64(failed))
		outboxDispatchRecords.WithLabelValues("dlq").Add(float64(dlq))
	}
}

// ObserveConsumerLag sets consumer lag in seconds.
func ObserveConsumerLag(consumer string, lag time.Duration) {
	if consumer == "" {
		consumer = "unknown"
	}
	if lag < 0 {
		lag = 0
	}
	if consumerLag != nil {
		consumerLag.WithLabelValues(consumer).Set(lag.Seconds())
	}
}

// IncHTTPRequest counts one served request.
func IncHTTPRequest(method, code string) {
	if httpRequests != nil {
		httpRequests.WithLabelValues(method, code).Inc()
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
	ResultPartial = resultPartial
	ResultNoop    = resultNoop
)
