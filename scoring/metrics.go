package scoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var scoringRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "agora_scoring_runs_total",
	Help: "scoring pipeline runs, by outcome",
}, []string{"outcome"})

var scoringRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "agora_scoring_run_duration_seconds",
	Help:    "wall-clock duration of completed scoring runs",
	Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
})

var postsScored = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "agora_scoring_posts_total",
	Help: "posts seen by the scoring pipeline, by result (scored, filtered, failed)",
}, []string{"result"})

var rowsCleaned = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "agora_cleanup_rows_deleted_total",
	Help: "rows removed by the maintenance cleaner, by table",
}, []string{"table"})
