package governance

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var schedulerTicks = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "agora_governance_scheduler_ticks_total",
	Help: "epoch scheduler ticks, by outcome (ran, skipped)",
}, []string{"outcome"})

var governanceChanges = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "agora_governance_changes_total",
	Help: "committed governance changes, by audit action",
}, []string{"action"})
