package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(gatewayCallsLatencyMs) }

var gatewayCallsLatencyMs = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "payment_gateway_latency_ms",
		Help:    "Payment gateway call latency distribution in milliseconds.",
		Buckets: []float64{10, 25, 50, 100, 200, 400, 800, 1600, 3000, 5000},
	},
	[]string{"provider", "op", "success"},
)

// ObserveGateway records one provider call started at start.
func ObserveGateway(provider, op string, start time.Time, err error) {
	gatewayCallsLatencyMs.WithLabelValues(norm(provider), norm(op), strconv.FormatBool(err == nil)).
		Observe(float64(time.Since(start).Milliseconds()))
}
