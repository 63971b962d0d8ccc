package emulator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	framesProduced = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "retroplay",
		Subsystem: "runtime",
		Name:      "frames_total",
		Help:      "The number of produced frames.",
	})
	inputs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "retroplay",
		Subsystem: "runtime",
		Name:      "inputs_total",
		Help:      "The number of button transitions by the result of the delivery.",
	}, []string{"result"})

	inputsDelivered = inputs.WithLabelValues("delivered")
	inputsDiscarded = inputs.WithLabelValues("discarded")
)
