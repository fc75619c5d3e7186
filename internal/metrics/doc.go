// Package metrics records how well a replica tracks its owner.
//
// Run metrics follow the Observe/Value/Reset pattern and summarize one
// simulated run. Collector exports live coordinator counters to Prometheus.
package metrics
