package scanner

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var scanAPIDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name: "automod_scanner_api_duration_sec",
	Help: "Duration of security scanner API calls",
})

var scanAPICount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "automod_scanner_api_count",
	Help: "Number of security scanner API calls, by HTTP status code",
}, []string{"status"})

var scanVerdictCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "automod_scanner_verdicts",
	Help: "Number of scan results, by verdict (including synthesized failures)",
}, []string{"verdict"})

var scanFilesMissing = promauto.NewCounter(prometheus.CounterOpts{
	Name: "automod_scanner_files_missing",
	Help: "Number of skill files which could not be fetched for scanning",
})
