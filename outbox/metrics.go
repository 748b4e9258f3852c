package outbox

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "agora_outbox_deliveries_total",
	Help: "Outbox delivery attempts by outcome",
}, []string{"kind", "outcome"})

var pendingEvents = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "agora_outbox_pending",
	Help: "Undelivered outbox events seen by the last drain",
})

var renderFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "agora_outbox_render_fallbacks_total",
	Help: "Announcements rendered with the generic template after their own failed",
}, []string{"kind"})
