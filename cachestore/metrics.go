package cachestore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "agora_cachestore_lookups_total",
	Help: "cache lookups by backend, cache name, and result (hit, miss)",
}, []string{"backend", "name", "result"})

func observeLookup(backend, name string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookups.WithLabelValues(backend, name, result).Inc()
}

var loadFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "agora_cachestore_load_failures_total",
	Help: "read-through loads that returned an error, by cache name",
}, []string{"name"})
