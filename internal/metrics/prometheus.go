package metrics

import (
	"net/http"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const prometheusNamespace = "chatthread"

// Collector exposes a Registry to Prometheus. Metrics are read from a
// snapshot on every scrape, so nothing has to be declared up front.
type Collector struct {
	registry *Registry
}

// NewCollector creates a collector over registry.
func NewCollector(registry *Registry) *Collector {
	return &Collector{registry: registry}
}

// Describe sends no descriptors, which registers the collector as unchecked.
func (c *Collector) Describe(chan<- *prometheus.Desc) {}

// Collect converts counters, gauges and timers into constant metrics.
// Timers become summaries in milliseconds.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.registry.GetAllMetrics()

	for _, m := range snap.Counters {
		c.emit(ch, m, prometheus.CounterValue)
	}
	for _, m := range snap.Gauges {
		c.emit(ch, m, prometheus.GaugeValue)
	}
	for _, t := range snap.Timers {
		names, values := splitLabels(t.Labels)
		desc := prometheus.NewDesc(prometheus.BuildFQName(prometheusNamespace, "", t.Name+"_milliseconds"),
			"Timer "+t.Name, names, nil)

		quantiles := map[float64]float64{}
		if t.Count >= minPercentileSamples {
			quantiles[0.95] = t.P95
			quantiles[0.99] = t.P99
		}
		metric, err := prometheus.NewConstSummary(desc, uint64(t.Count), t.Sum, quantiles, values...)
		if err != nil {
			continue
		}
		ch <- metric
	}
}

func (c *Collector) emit(ch chan<- prometheus.Metric, m Metric, valueType prometheus.ValueType) {
	names, values := splitLabels(m.Labels)
	help := m.Description
	if help == "" {
		help = m.Name
	}
	desc := prometheus.NewDesc(prometheus.BuildFQName(prometheusNamespace, "", m.Name), help, names, nil)
	metric, err := prometheus.NewConstMetric(desc, valueType, m.Value, values...)
	if err != nil {
		return
	}
	ch <- metric
}

func splitLabels(labels map[string]string) (names, values []string) {
	names = make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	sort.Strings(names)

	values = make([]string, len(names))
	for i, k := range names {
		values[i] = labels[k]
	}
	return names, values
}

// PrometheusHandler serves registry in the Prometheus text format.
func PrometheusHandler(registry *Registry) http.Handler {
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(NewCollector(registry))
	return promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{})
}
