package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	hitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skymirror_cache_hit_total",
		Help: "Entity cache reads that found the record locally.",
	}, []string{"kind"})

	missTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skymirror_cache_miss_total",
		Help: "Entity cache reads that found no local record.",
	}, []string{"kind"})

	putTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skymirror_cache_put_total",
		Help: "Entity records written to the local cache.",
	}, []string{"kind"})

	signalDropTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skymirror_signal_drop_total",
		Help: "Change-signal events dropped because a subscriber channel was full.",
	})
)
