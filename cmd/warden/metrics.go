package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var trustLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_trust_lookups",
	Help: "Number of skill trust lookups served, by resulting tier",
}, []string{"tier"})

var automodLoopRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_automod_loop_runs",
	Help: "Number of scheduled automod sweeps, by outcome",
}, []string{"status"})
