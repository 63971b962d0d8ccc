package saves

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var calls = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "retroplay",
	Subsystem: "saves",
	Name:      "calls_total",
	Help:      "The number of save calls by the backend, operation and result.",
}, []string{"mode", "op", "result"})
