package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name: "automod_skill_run_duration_sec",
	Help: "Total duration of automod skill sweep invocations",
})

var runErrorCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "automod_skill_run_errors",
	Help: "Number of automod skill sweeps which ended with an error",
})

var skillProcessCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "automod_skills_processed",
	Help: "Number of skills run through automod heuristics",
})

var skillSkipCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "automod_skills_skipped",
	Help: "Number of soft-deleted skills passed over by automod",
})

var newReportCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "automod_new_skill_reports",
	Help: "Number of new automod reports recorded, by source",
}, []string{"source"})

var classifierErrorCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "automod_classifier_errors",
	Help: "Number of failed classifier calls (skill treated as unflagged)",
})

var cursorPosition = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "automod_cursor_updated_at_ms",
	Help: "Last persisted automod cursor position (skill updatedAt, unix ms)",
})
