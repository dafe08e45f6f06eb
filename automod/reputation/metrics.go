package reputation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var lookupDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name: "automod_reputation_api_duration_sec",
	Help: "Duration of file reputation API calls",
})

var lookupCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "automod_reputation_lookups",
	Help: "Number of file reputation lookups, by resulting status",
}, []string{"status"})

var submitCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "automod_reputation_submissions",
	Help: "Number of bundle submissions, by outcome (known, uploaded, error)",
}, []string{"outcome"})
