package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry holds the service collectors plus Go runtime and process metrics.
var Registry = prometheus.NewRegistry()

var (
	registerOnce sync.Once
	pending      = []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}
)

// register queues collectors from init funcs until MustRegister runs.
func register(cs ...prometheus.Collector) {
	pending = append(pending, cs...)
}

// MustRegister adds every queued collector to Registry. Later calls are no-ops.
func MustRegister() {
	registerOnce.Do(func() {
		Registry.MustRegister(pending...)
	})
}
