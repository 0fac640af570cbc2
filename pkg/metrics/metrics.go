package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Dispatch metrics
	DispatchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "smtp_relay_dispatch_total",
		Help: "Total number of send attempts grouped by path (relay/default) and result",
	}, []string{"path", "result"})
	MailSendSuccess = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "smtp_relay_mail_send_success_total",
		Help: "Total number of successful mail sends",
	}, []string{"host"})
	MailSendFailure = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "smtp_relay_mail_send_failure_total",
		Help: "Total number of failed mail sends",
	}, []string{"host"})

	// Pipeline metrics
	PipelineTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "smtp_relay_pipeline_transitions_total",
		Help: "Total number of pipeline state transitions grouped by the state entered",
	}, []string{"state"})
	// kind is one of matched, duplicate or independent.
	HostFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "smtp_relay_host_failures_total",
		Help: "Total number of failures reported by the host mail layer",
	}, []string{"kind"})

	// Delivery log metrics
	LogStorageErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "smtp_relay_log_storage_errors_total",
		Help: "Total number of failed delivery log operations",
	}, []string{"operation"})
	LogRecordsPruned = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "smtp_relay_log_records_pruned_total",
		Help: "Total number of delivery log records removed by retention",
	})

	// Audit metrics
	AuditEventsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "smtp_relay_audit_events_processed_total",
		Help: "Total number of audit events handed to the sinks",
	}, []string{"type"})
	AuditSinkErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "smtp_relay_audit_sink_errors_total",
		Help: "Total number of audit sink write failures",
	}, []string{"sink", "reason"})
	AuditEventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "smtp_relay_audit_events_dropped_total",
		Help: "Total number of audit events dropped because the queue was full",
	})
	AuditSinkConnected = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "smtp_relay_audit_sink_connected",
		Help: "Whether the audit sink's last write succeeded (1) or failed (0)",
	}, []string{"sink"})

	// API metrics
	RateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "smtp_relay_api_rate_limited_total",
		Help: "Total number of API requests rejected by the rate limiter",
	}, []string{"limiter"})

	SubmissionMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "smtp_relay_submission_messages_total",
		Help: "Total number of messages accepted by the SMTP submission listener",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(DispatchTotal)
	prometheus.MustRegister(MailSendSuccess)
	prometheus.MustRegister(MailSendFailure)
	prometheus.MustRegister(PipelineTransitions)
	prometheus.MustRegister(HostFailures)
	prometheus.MustRegister(LogStorageErrors)
	prometheus.MustRegister(LogRecordsPruned)
	prometheus.MustRegister(AuditEventsProcessed)
	prometheus.MustRegister(AuditSinkErrors)
	prometheus.MustRegister(AuditEventsDropped)
	prometheus.MustRegister(AuditSinkConnected)
	prometheus.MustRegister(RateLimited)
	prometheus.MustRegister(SubmissionMessages)
}

// MetricsHandler returns an http.Handler exposing Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
