package genai

import (
	"time"

	"github.com/openai/openai-go"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	statusOK    = "ok"
	statusError = "error"
	statusEmpty = "empty"
)

var completionLatency = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "studypipe",
		Subsystem: "genai",
		Name:      "completion_latency_seconds",
		Help:      "Latency of LLM completions",
		Buckets:   []float64{0.25, 0.5, 1, 2, 3, 4, 5, 6, 8, 10, 15, 20, 30},
	},
	[]string{"model", "status"},
)

var tokensTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "studypipe",
		Subsystem: "genai",
		Name:      "tokens_total",
		Help:      "Tokens used by LLM completions",
	},
	[]string{"model", "type"}, // type: prompt, completion
)

func init() {
	prometheus.MustRegister(completionLatency, tokensTotal)
}

// RegisterMetrics registers the GenAI metrics with a custom registry.
func RegisterMetrics(reg prometheus.Registerer) {
	if reg == nil || reg == prometheus.DefaultRegisterer {
		return
	}
	reg.MustRegister(completionLatency, tokensTotal)
}

func observeCompletion(model, status string, elapsed time.Duration) {
	completionLatency.WithLabelValues(model, status).Observe(elapsed.Seconds())
}

func observeTokens(model string, usage openai.CompletionUsage) {
	if usage.PromptTokens > 0 {
		tokensTotal.WithLabelValues(model, "prompt").Add(float64(usage.PromptTokens))
	}
	if usage.CompletionTokens > 0 {
		tokensTotal.WithLabelValues(model, "completion").Add(float64(usage.CompletionTokens))
	}
}
