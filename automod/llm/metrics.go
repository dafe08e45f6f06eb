package llm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var classifyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name: "automod_llm_api_duration_sec",
	Help: "Duration of LLM classifier API calls",
})

var classifyCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "automod_llm_api_count",
	Help: "Number of LLM classifier API calls, by HTTP status code",
}, []string{"status"})

var classifyOutcome = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "automod_llm_outcomes",
	Help: "Number of LLM classifications, by outcome (flagged, unflagged, unparsed, skipped)",
}, []string{"outcome"})
