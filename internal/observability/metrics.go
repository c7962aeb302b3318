package observability

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type moduleMetrics struct {
	backendCallsTotal   *prometheus.CounterVec
	backendCallDuration *prometheus.HistogramVec
	backendErrorsTotal  *prometheus.CounterVec

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec
	toolErrorsTotal       *prometheus.CounterVec

	sessionsTotal   prometheus.Counter
	stepsTotal      *prometheus.CounterVec
	verdictsTotal   *prometheus.CounterVec
	runsTotal       *prometheus.CounterVec
	imagesPruned    prometheus.Counter
	historyMessages prometheus.Gauge

	knowledgeTurnsTotal *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			backendCallsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "triad_backend_calls_total",
					Help: "Total backend calls by agent role and status.",
				},
				[]string{"role", "status"},
			),
			backendCallDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "triad_backend_call_duration_seconds",
					Help:    "Backend call duration in seconds by agent role.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"role"},
			),
			backendErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "triad_backend_errors_total",
					Help: "Total backend errors by agent role.",
				},
				[]string{"role"},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "triad_tool_execution_total",
					Help: "Total tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "triad_tool_execution_duration_seconds",
					Help:    "Tool execution duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			toolErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "triad_tool_errors_total",
					Help: "Total tool execution errors by tool.",
				},
				[]string{"tool"},
			),
			sessionsTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "triad_sessions_total",
					Help: "Total planning sessions started.",
				},
			),
			stepsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "triad_steps_total",
					Help: "Total worker steps by whether tools were called.",
				},
				[]string{"tool_calls"},
			),
			verdictsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "triad_qa_verdicts_total",
					Help: "Total QA verdicts by outcome (complete, incomplete, malformed).",
				},
				[]string{"outcome"},
			),
			runsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "triad_runs_total",
					Help: "Total runs by final status.",
				},
				[]string{"status"},
			),
			imagesPruned: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "triad_history_images_pruned_total",
					Help: "Total tool-result images removed from history.",
				},
			),
			historyMessages: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "triad_history_messages",
					Help: "Current number of messages in the run history.",
				},
			),
			knowledgeTurnsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "triad_knowledge_turns_total",
					Help: "Total knowledge exchange turns by speaker.",
				},
				[]string{"speaker"},
			),
		}

		prometheus.MustRegister(
			m.backendCallsTotal,
			m.backendCallDuration,
			m.backendErrorsTotal,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.toolErrorsTotal,
			m.sessionsTotal,
			m.stepsTotal,
			m.verdictsTotal,
			m.runsTotal,
			m.imagesPruned,
			m.historyMessages,
			m.knowledgeTurnsTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", MetricsHandler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("Metrics listener started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Metrics listener failed")
		}
	}()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func RecordBackendCall(role string, duration time.Duration, success bool) {
	m := getMetrics()
	m.backendCallsTotal.WithLabelValues(role, status(success)).Inc()
	m.backendCallDuration.WithLabelValues(role).Observe(duration.Seconds())
	if !success {
		m.backendErrorsTotal.WithLabelValues(role).Inc()
	}
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	m.toolExecutionTotal.WithLabelValues(tool, status(success)).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
	if !success {
		m.toolErrorsTotal.WithLabelValues(tool).Inc()
	}
}

func RecordSession() {
	getMetrics().sessionsTotal.Inc()
}

func RecordStep(madeToolCalls bool) {
	label := "false"
	if madeToolCalls {
		label = "true"
	}
	getMetrics().stepsTotal.WithLabelValues(label).Inc()
}

func RecordVerdict(outcome string) {
	getMetrics().verdictsTotal.WithLabelValues(outcome).Inc()
}

func RecordRun(status string) {
	getMetrics().runsTotal.WithLabelValues(status).Inc()
}

func RecordImagesPruned(count int) {
	if count <= 0 {
		return
	}
	getMetrics().imagesPruned.Add(float64(count))
}

func SetHistoryMessages(count int) {
	getMetrics().historyMessages.Set(float64(count))
}

func RecordKnowledgeTurn(speaker string) {
	getMetrics().knowledgeTurnsTotal.WithLabelValues(speaker).Inc()
}
