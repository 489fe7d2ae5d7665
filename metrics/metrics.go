// Package metrics defines the instrumentation contract for payment
// operations, with no-op and Prometheus recorders.
package metrics

import "time"

// Recorder counts events and observes operation latencies. Labels carry at
// least the network the operation ran against.
type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}
