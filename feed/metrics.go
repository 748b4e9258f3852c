package feed

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var skeletonRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "agora_feed_skeleton_requests_total",
	Help: "feed skeleton pages served, by page kind and outcome",
}, []string{"page", "outcome"})
