// Package metrics exports Prometheus counters and histograms for model
// calls, tool dispatches, scheduled task runs and inbound messages.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "steward"

// Recorder implements the loop recorder and the tool registry observer
// on a private Prometheus registry.
type Recorder struct {
	registry *prometheus.Registry

	modelRequests *prometheus.CounterVec
	modelTokens   *prometheus.CounterVec
	modelDuration *prometheus.HistogramVec
	loopRuns      *prometheus.CounterVec
	loopCalls     prometheus.Histogram
	toolCalls     *prometheus.CounterVec
	toolDuration  *prometheus.HistogramVec
	taskRuns      *prometheus.CounterVec
	messages      *prometheus.CounterVec
}

// New creates a Recorder. Go runtime and process collectors are
// registered alongside the application metrics.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,
		modelRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_requests_total",
			Help:      "Model completion requests by model and status.",
		}, []string{"model", "status"}),
		modelTokens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_tokens_total",
			Help:      "Tokens consumed by model and direction.",
		}, []string{"model", "type"}),
		modelDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_request_duration_seconds",
			Help:      "Duration of model completion requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"model"}),
		loopRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loop_runs_total",
			Help:      "Completed conversation loops by outcome.",
		}, []string{"outcome"}),
		loopCalls: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "loop_model_calls",
			Help:      "Model calls made per conversation loop.",
			Buckets:   []float64{1, 2, 3, 5, 8, 13},
		}),
		toolCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool dispatches by tool and status.",
		}, []string{"tool", "status"}),
		toolDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_duration_seconds",
			Help:      "Duration of tool handler executions.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		taskRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduled_task_runs_total",
			Help:      "Scheduled task executions by payload kind and status.",
		}, []string{"kind", "status"}),
		messages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Inbound messages handled by source and status.",
		}, []string{"source", "status"}),
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// ModelCall records one completion request.
func (r *Recorder) ModelCall(model string, d time.Duration, inputTokens, outputTokens int, err error) {
	r.modelRequests.WithLabelValues(model, status(err)).Inc()
	r.modelDuration.WithLabelValues(model).Observe(d.Seconds())
	if err == nil {
		r.modelTokens.WithLabelValues(model, "input").Add(float64(inputTokens))
		r.modelTokens.WithLabelValues(model, "output").Add(float64(outputTokens))
	}
}

// LoopFinished records the end of a conversation loop.
func (r *Recorder) LoopFinished(modelCalls int, forced bool) {
	outcome := "final"
	if forced {
		outcome = "forced"
	}
	r.loopRuns.WithLabelValues(outcome).Inc()
	r.loopCalls.Observe(float64(modelCalls))
}

// ToolExecuted records one tool dispatch.
func (r *Recorder) ToolExecuted(name string, d time.Duration, err error) {
	r.toolCalls.WithLabelValues(name, status(err)).Inc()
	r.toolDuration.WithLabelValues(name).Observe(d.Seconds())
}

// TaskExecuted records one scheduled task run.
func (r *Recorder) TaskExecuted(kind string, err error) {
	r.taskRuns.WithLabelValues(kind, status(err)).Inc()
}

// MessageHandled records one inbound message.
func (r *Recorder) MessageHandled(source string, err error) {
	r.messages.WithLabelValues(source, status(err)).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
