package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MessageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "audit_agent_message_duration_seconds",
			Help:    "End-to-end message handling duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"target"},
	)

	RoutingDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_agent_routing_decisions_total",
			Help: "Routing decisions by terminal state and label",
		},
		[]string{"state", "label"},
	)

	ClassifierConfidence = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "audit_agent_classifier_confidence",
			Help:    "Intent classifier confidence scores",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
		[]string{"label"},
	)

	ResolverResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_agent_resolver_results_total",
			Help: "Entity resolution outcomes by strategy and result kind",
		},
		[]string{"stage", "kind"},
	)

	LLMRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_agent_llm_requests_total",
			Help: "LLM chat completion requests",
		},
		[]string{"purpose", "status"},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_agent_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	CatalogRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_agent_catalog_refreshes_total",
			Help: "Catalog refresh attempts by outcome",
		},
		[]string{"outcome"},
	)

	CatalogSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "audit_agent_catalog_entries",
			Help: "Entries in the live catalog snapshot",
		},
		[]string{"kind"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_agent_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_agent_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	AuditExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_agent_audit_executions_total",
			Help: "Per-device audit executions by status",
		},
		[]string{"status"},
	)

	AuditExecutionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "audit_agent_audit_execution_seconds",
			Help:    "Per-device audit execution duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30},
		},
	)

	EngineerTasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_agent_engineer_tasks_total",
			Help: "Engineer work items by outcome",
		},
		[]string{"outcome"},
	)

	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "audit_agent_active_sessions",
			Help: "Conversation sessions currently held in memory",
		},
	)
)

var registerOnce sync.Once

func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(MessageDuration)
		prometheus.MustRegister(RoutingDecisions)
		prometheus.MustRegister(ClassifierConfidence)
		prometheus.MustRegister(ResolverResults)
		prometheus.MustRegister(LLMRequests)
		prometheus.MustRegister(LLMTokensUsed)
		prometheus.MustRegister(CatalogRefreshes)
		prometheus.MustRegister(CatalogSize)
		prometheus.MustRegister(CacheHits)
		prometheus.MustRegister(CacheMisses)
		prometheus.MustRegister(AuditExecutions)
		prometheus.MustRegister(AuditExecutionDuration)
		prometheus.MustRegister(EngineerTasks)
		prometheus.MustRegister(ActiveSessions)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
