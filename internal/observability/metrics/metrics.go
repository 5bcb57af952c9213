package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics holds the Prometheus collectors of the agent.
type Metrics struct {
	registry *prometheus.Registry

	Actions        *prometheus.CounterVec
	ActionLatency  *prometheus.HistogramVec
	Transactions   *prometheus.CounterVec
	Approvals      *prometheus.CounterVec
	IntentSources  *prometheus.CounterVec
	Tasks          *prometheus.CounterVec
	TaskRetries    prometheus.Counter
	LedgerFailures prometheus.Counter
}

// New creates a metrics set on its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Actions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nftagent_actions_total",
			Help: "Chat actions handled by name and outcome.",
		}, []string{"action", "outcome"}),
		ActionLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nftagent_action_duration_seconds",
			Help:    "Chat action latency in seconds, including chain confirmation.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 15, 30, 60, 120},
		}, []string{"action"}),
		Transactions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nftagent_transactions_total",
			Help: "Transactions sent to the chain by contract method and outcome.",
		}, []string{"method", "outcome"}),
		Approvals: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nftagent_marketplace_approvals_total",
			Help: "Automatic setApprovalForAll attempts by outcome.",
		}, []string{"outcome"}),
		IntentSources: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nftagent_intent_resolutions_total",
			Help: "How the action of a message was resolved: explicit, llm or keyword.",
		}, []string{"source"}),
		Tasks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nftagent_tasks_total",
			Help: "Queued chat tasks by final status.",
		}, []string{"status"}),
		TaskRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "nftagent_task_retries_total",
			Help: "Queued chat tasks re-enqueued after a retryable failure.",
		}),
		LedgerFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "nftagent_ledger_write_failures_total",
			Help: "Action records that could not be written to the ledger.",
		}),
	}
}

var defaultMetrics = New()

// Default returns the process wide metrics set.
func Default() *Metrics {
	return defaultMetrics
}

// ObserveAction records one handled action.
func (m *Metrics) ObserveAction(action string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	m.Actions.WithLabelValues(action, outcome(err)).Inc()
	m.ActionLatency.WithLabelValues(action).Observe(duration.Seconds())
}

// ObserveTransaction records a sent transaction.
func (m *Metrics) ObserveTransaction(method string, err error) {
	if m == nil {
		return
	}
	m.Transactions.WithLabelValues(method, outcome(err)).Inc()
}

// ObserveApproval records an automatic marketplace approval.
func (m *Metrics) ObserveApproval(err error) {
	if m == nil {
		return
	}
	m.Approvals.WithLabelValues(outcome(err)).Inc()
}

// ObserveIntent records how an intent was resolved.
func (m *Metrics) ObserveIntent(source string) {
	if m == nil {
		return
	}
	m.IntentSources.WithLabelValues(source).Inc()
}

// ObserveTask records a task reaching status.
func (m *Metrics) ObserveTask(status string) {
	if m == nil {
		return
	}
	m.Tasks.WithLabelValues(status).Inc()
}

// ObserveRetry records a re-enqueued task.
func (m *Metrics) ObserveRetry() {
	if m == nil {
		return
	}
	m.TaskRetries.Inc()
}

// ObserveLedgerFailure records a failed ledger write.
func (m *Metrics) ObserveLedgerFailure() {
	if m == nil {
		return
	}
	m.LedgerFailures.Inc()
}

// Gatherer exposes the underlying registry.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// Handler exposes the metrics in Prometheus text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func outcome(err error) string {
	if err != nil {
		return OutcomeFailure
	}
	return OutcomeSuccess
}

// StartServer launches a standalone HTTP server exposing the /metrics endpoint.
func StartServer(ctx context.Context, addr string, m *Metrics) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	if m == nil {
		m = Default()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
