package gate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var gateDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "automod_gate_decisions",
	Help: "Number of publish-time quality decisions, by outcome",
}, []string{"decision"})

var staticVerdicts = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "automod_gate_static_verdicts",
	Help: "Number of static moderation scan verdicts for accepted submissions",
}, []string{"verdict"})
