package mutate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var rollbackTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "skymirror_mutation_rollback_total",
	Help: "Optimistic local mutations rolled back after a failed remote write.",
})
