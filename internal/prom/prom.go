// Package prom holds the shared pieces of the module's prometheus instrumentation.
package prom

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace is the namespace of every metric exported by capsched.
const Namespace = "capsched"

// Time returns a function that, when called, observes the time elapsed since Time was called.
// Use it as `defer prom.Time(observer)()`.
func Time(o prometheus.Observer) func() {
	start := time.Now()
	return func() {
		o.Observe(time.Since(start).Seconds())
	}
}

// ErrCount increments c if *err is non-nil. Use it deferred with a named error result.
func ErrCount(c prometheus.Counter, err *error) {
	if err != nil && *err != nil {
		c.Inc()
	}
}
