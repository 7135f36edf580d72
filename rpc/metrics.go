package rpc

import "github.com/prometheus/client_golang/prometheus"

var operationCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "escrowd_rpc_operations_total",
		Help: "RPC operations processed, labelled by method and result.",
	},
	[]string{"method", "result"},
)

func init() {
	prometheus.MustRegister(operationCounter)
}

func observeOperation(method, result string) {
	operationCounter.WithLabelValues(method, result).Inc()
}
