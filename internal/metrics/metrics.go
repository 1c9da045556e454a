// Package metrics holds the Prometheus collectors exported by the engine.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sqlidb"

// Metrics is the set of engine counters. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	Transactions  *prometheus.CounterVec
	Requests      *prometheus.CounterVec
	Statements    *prometheus.CounterVec
	CursorFetches *prometheus.CounterVec
}

// New registers the engine counters on reg. A nil reg uses a fresh
// private registry so several engines can coexist in one process.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Metrics{
		Transactions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Finished transactions by mode and outcome",
		}, []string{"mode", "outcome"}),
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Finished requests by outcome",
		}, []string{"outcome"}),
		Statements: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sql_statements_total",
			Help:      "SQL statements executed against the backing store by kind",
		}, []string{"kind"}),
		CursorFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cursor_fetches_total",
			Help:      "Cursor steps by source (sql or prefetch buffer)",
		}, []string{"source"}),
	}
}

// TransactionFinished counts a committed or aborted transaction.
func (m *Metrics) TransactionFinished(mode, outcome string) {
	if m == nil {
		return
	}
	m.Transactions.WithLabelValues(mode, outcome).Inc()
}

// RequestFinished counts a request resolved with "success" or "error".
func (m *Metrics) RequestFinished(outcome string) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(outcome).Inc()
}

// Statement counts one SQL statement, labelled by its leading keyword.
func (m *Metrics) Statement(sql string) {
	if m == nil {
		return
	}
	m.Statements.WithLabelValues(StatementKind(sql)).Inc()
}

// CursorFetch counts one cursor step served from "sql" or "prefetch".
func (m *Metrics) CursorFetch(source string) {
	if m == nil {
		return
	}
	m.CursorFetches.WithLabelValues(source).Inc()
}

// StatementKind returns the lowercased leading keyword of a statement.
func StatementKind(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return "unknown"
	}
	return strings.ToLower(fields[0])
}
