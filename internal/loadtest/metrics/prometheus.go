package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "cepbench"

// Collector exposes an Engine's live counters to Prometheus.
//
// Values are read from the engine at scrape time, so the collector holds
// no state of its own.
type Collector struct {
	engine *Engine

	reqsDesc       *prometheus.Desc
	failedDesc     *prometheus.Desc
	bytesDesc      *prometheus.Desc
	iterationsDesc *prometheus.Desc
	checksDesc     *prometheus.Desc
	vusDesc        *prometheus.Desc
	durationDesc   *prometheus.Desc
}

// NewCollector creates a collector reading from the given engine.
func NewCollector(engine *Engine) *Collector {
	return &Collector{
		engine: engine,
		reqsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "http_reqs_total"),
			"Total HTTP requests issued by virtual users.",
			nil, nil,
		),
		failedDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "http_req_failed_total"),
			"HTTP requests that failed at transport level or returned status >= 400.",
			nil, nil,
		),
		bytesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "data_received_bytes_total"),
			"Response body bytes received.",
			nil, nil,
		),
		iterationsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "iterations_total"),
			"Completed scenario iterations.",
			nil, nil,
		),
		checksDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "checks_total"),
			"Evaluated checks by name and result.",
			[]string{"check", "result"}, nil,
		),
		vusDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "vus"),
			"Currently active virtual users.",
			nil, nil,
		),
		durationDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "http_req_duration_seconds"),
			"HTTP request duration quantiles over the whole run.",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.reqsDesc
	ch <- c.failedDesc
	ch <- c.bytesDesc
	ch <- c.iterationsDesc
	ch <- c.checksDesc
	ch <- c.vusDesc
	ch <- c.durationDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.engine.GetSnapshot()

	ch <- prometheus.MustNewConstMetric(c.reqsDesc, prometheus.CounterValue, float64(snap.TotalRequests))
	ch <- prometheus.MustNewConstMetric(c.failedDesc, prometheus.CounterValue, float64(snap.FailedRequests))
	ch <- prometheus.MustNewConstMetric(c.bytesDesc, prometheus.CounterValue, float64(snap.TotalBytes))
	ch <- prometheus.MustNewConstMetric(c.iterationsDesc, prometheus.CounterValue, float64(snap.Iterations))
	ch <- prometheus.MustNewConstMetric(c.vusDesc, prometheus.GaugeValue, float64(snap.ActiveVUs))

	for _, check := range c.engine.GetCheckStats() {
		ch <- prometheus.MustNewConstMetric(c.checksDesc, prometheus.CounterValue, float64(check.Passes), check.Name, "pass")
		ch <- prometheus.MustNewConstMetric(c.checksDesc, prometheus.CounterValue, float64(check.Fails), check.Name, "fail")
	}

	lat := snap.Latency
	ch <- prometheus.MustNewConstSummary(
		c.durationDesc,
		uint64(lat.Count),
		lat.Mean.Seconds()*float64(lat.Count),
		map[float64]float64{
			0.5:  lat.P50.Seconds(),
			0.9:  lat.P90.Seconds(),
			0.95: lat.P95.Seconds(),
			0.99: lat.P99.Seconds(),
		},
	)
}

var _ prometheus.Collector = (*Collector)(nil)
