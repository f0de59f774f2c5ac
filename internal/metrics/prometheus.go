package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	UploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hrp_cv_uploads_total",
			Help: "CV uploads by result",
		},
		[]string{"result"},
	)

	TransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hrp_cv_extraction_transitions_total",
			Help: "Extraction status transitions",
		},
		[]string{"from", "to"},
	)

	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hrp_cv_stage_duration_seconds",
			Help:    "Duration of pipeline stages in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"stage"},
	)

	ImportOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hrp_cv_import_outcomes_total",
			Help: "Import attempts by outcome",
		},
		[]string{"outcome"},
	)

	ExtractionsByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hrp_cv_extractions",
			Help: "Extractions currently in each status",
		},
		[]string{"status"},
	)

	LLMCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hrp_llm_calls_total",
			Help: "LM calls by provider and status",
		},
		[]string{"provider", "status"},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hrp_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	LLMCost = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hrp_llm_cost_usd",
			Help: "Estimated LLM API cost in USD",
		},
		[]string{"model"},
	)

	UsageLogFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hrp_llm_usage_log_failures_total",
			Help: "Usage events that could not be persisted",
		},
	)

	DispatchQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hrp_cv_dispatch_queue_depth",
			Help: "Extractions waiting in the dispatch queue",
		},
	)

	DispatchDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hrp_cv_dispatch_dropped_total",
			Help: "Dispatches skipped because the pool was saturated",
		},
	)

	RetryWorkerActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hrp_cv_retry_worker_actions_total",
			Help: "Extractions picked up by the retry worker",
		},
		[]string{"action"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hrp_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hrp_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	GraphProjections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hrp_graph_projections_total",
			Help: "Skill graph projections by status",
		},
		[]string{"status"},
	)
)

var initOnce sync.Once

func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(UploadsTotal)
		prometheus.MustRegister(TransitionsTotal)
		prometheus.MustRegister(StageDuration)
		prometheus.MustRegister(ImportOutcomes)
		prometheus.MustRegister(ExtractionsByStatus)
		prometheus.MustRegister(LLMCalls)
		prometheus.MustRegister(LLMTokensUsed)
		prometheus.MustRegister(LLMCost)
		prometheus.MustRegister(UsageLogFailures)
		prometheus.MustRegister(DispatchQueueDepth)
		prometheus.MustRegister(DispatchDropped)
		prometheus.MustRegister(RetryWorkerActions)
		prometheus.MustRegister(CacheHits)
		prometheus.MustRegister(CacheMisses)
		prometheus.MustRegister(GraphProjections)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
