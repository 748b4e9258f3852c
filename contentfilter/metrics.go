package contentfilter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var contentRuleLoadFailures = promauto.NewCounter(prometheus.CounterOpts{
	Name: "agora_content_rule_load_failures_total",
	Help: "content rule lookups which fell back to no filtering",
})
