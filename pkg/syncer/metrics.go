package syncer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pageTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skymirror_page_total",
		Help: "Page requests by cache classification (full, partial, miss).",
	}, []string{"class"})

	backfillFetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skymirror_backfill_fetch_total",
		Help: "Referenced entities fetched from the index during backfill.",
	}, []string{"kind"})
)
