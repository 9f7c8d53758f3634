package provision

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var transitionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "syncapp_provision_transitions_total",
		Help: "Provisioning FSM transitions by resulting status and step",
	},
	[]string{"status", "step"},
)

func recordTransition(status, step string) {
	transitionsTotal.WithLabelValues(status, step).Inc()
}
