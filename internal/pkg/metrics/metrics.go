// Package metrics defines and registers all custom Prometheus metrics for the
// user service. It is the single source of truth for metric names, labels and
// help strings.
//
// Metrics are registered with the default Prometheus registry at package
// initialisation and exposed on /metrics by the router.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "identity"

// ── Identity metrics ──────────────────────────────────────────────────────────

// OperationsTotal counts identity operations by outcome.
// Labels:
//   - operation: the use case (e.g. "register", "login", "confirm_email")
//   - result: "ok" or the error kind (e.g. "email_in_use", "throttled")
var OperationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "operations_total",
		Help:      "Total number of identity operations, by operation and result.",
	},
	[]string{"operation", "result"},
)

// OperationDuration measures how long an identity operation takes, hashing included.
// Label:
//   - operation: the use case
var OperationDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "operation_duration_seconds",
		Help:      "Duration of identity operations including password hashing.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"operation"},
)

// TokensIssuedTotal counts verification tokens issued.
// Label:
//   - type: "ACTIVATION" or "EMAIL_CHANGE"
var TokensIssuedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tokens_issued_total",
		Help:      "Total number of verification tokens issued, by type.",
	},
	[]string{"type"},
)

// SessionsIssuedTotal counts signed session credentials.
// Label:
//   - method: "password" or "ident_token"
var SessionsIssuedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_issued_total",
		Help:      "Total number of session credentials issued, by login method.",
	},
	[]string{"method"},
)

// ── Mail metrics ──────────────────────────────────────────────────────────────

// MailDeliveriesTotal counts mail delivery attempts.
// Labels:
//   - kind: "activation" or "email_change"
//   - result: "sent", "failed" or "dropped" (queue full)
var MailDeliveriesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "mail_deliveries_total",
		Help:      "Total number of notification mails, by kind and result.",
	},
	[]string{"kind", "result"},
)

// MailQueueDepth tracks the number of mails waiting in each dispatcher worker channel.
// Label:
//   - worker_id: numeric worker index
var MailQueueDepth = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "mail_queue_depth",
		Help:      "Current number of mails pending in each dispatcher worker channel.",
	},
	[]string{"worker_id"},
)
