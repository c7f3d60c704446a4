// Package metrics exposes the race, poll and audio counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/satindergrewal/nyanrace/internal/poll"
	"github.com/satindergrewal/nyanrace/internal/race"
	"github.com/satindergrewal/nyanrace/internal/scheduler"
)

const namespace = "nyanrace"

// Cycle results.
const (
	ResultUpdated = "updated"
	ResultStale   = "stale"
	ResultFailed  = "failed"
)

// Collector owns its registry so tests and multiple engines never collide.
type Collector struct {
	registry *prometheus.Registry

	pollCycles    *prometheus.CounterVec
	fetchAttempts *prometheus.CounterVec
	fetchOutcomes *prometheus.CounterVec
	signatures    *prometheus.GaugeVec
	position      *prometheus.GaugeVec
	leaderChanges prometheus.Counter
	toasts        prometheus.Counter
	measures      prometheus.Counter
	voices        prometheus.Gauge
	listeners     *prometheus.GaugeVec
	viewClients   prometheus.Gauge
}

// NewCollector creates a collector with Go runtime and process metrics registered.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Collector{
		registry: reg,
		pollCycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_cycles_total",
			Help:      "Poll cycles by result.",
		}, []string{"result"}),
		fetchAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_attempts_total",
			Help:      "HTTP attempts against the count source by outcome.",
		}, []string{"outcome"}),
		fetchOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_outcomes_total",
			Help:      "Per-entity poll outcomes (success, suppressed, failed).",
		}, []string{"entity", "kind"}),
		signatures: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "signatures",
			Help:      "Last known count per entity.",
		}, []string{"entity"}),
		position: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "position_percent",
			Help:      "Baseline track position per entity.",
		}, []string{"entity"}),
		leaderChanges: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leader_changes_total",
			Help:      "Times the leader changed hands.",
		}),
		toasts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "toasts_total",
			Help:      "User-facing notices pushed.",
		}),
		measures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audio",
			Name:      "measures_scheduled_total",
			Help:      "Measures queued by the look-ahead scheduler.",
		}),
		voices: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "audio",
			Name:      "active_voices",
			Help:      "Voices alive after the last scheduling pass.",
		}),
		listeners: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "listeners",
			Help:      "Connected soundtrack listeners by transport.",
		}, []string{"kind"}),
		viewClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "view_clients",
			Help:      "Connected view sockets.",
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordFetchAttempt matches fetch.Observer.
func (c *Collector) RecordFetchAttempt(_ string, _ int, ok bool) {
	outcome := "error"
	if ok {
		outcome = "ok"
	}
	c.fetchAttempts.WithLabelValues(outcome).Inc()
}

// RecordCycle matches poll.Observer.
func (c *Collector) RecordCycle(cy poll.Cycle) {
	result := ResultStale
	switch {
	case cy.Updated:
		result = ResultUpdated
	case cy.Notice != "":
		result = ResultFailed
	}
	c.pollCycles.WithLabelValues(result).Inc()

	for i, ent := range cy.Entities {
		if ent == nil {
			continue
		}
		c.fetchOutcomes.WithLabelValues(ent.Name, cy.Outcomes[i].Kind.String()).Inc()
		if cy.Outcomes[i].Usable() {
			c.signatures.WithLabelValues(ent.Name).Set(float64(cy.Outcomes[i].Count))
		}
	}
}

// RecordView records the baseline positions of a freshly built view.
func (c *Collector) RecordView(v race.View) {
	for _, e := range v.Entities {
		c.position.WithLabelValues(e.Name).Set(e.Baseline)
	}
}

// RecordLeaderChange counts a change of leader.
func (c *Collector) RecordLeaderChange() {
	c.leaderChanges.Inc()
}

// RecordToast counts a pushed notice.
func (c *Collector) RecordToast() {
	c.toasts.Inc()
}

// RecordPass matches the scheduler observer.
func (c *Collector) RecordPass(p scheduler.Pass) {
	c.measures.Add(float64(p.Measures))
	c.voices.Set(float64(p.Voices))
}

// ListenerDelta matches the broadcaster listener hook.
func (c *Collector) ListenerDelta(kind string, delta int) {
	c.listeners.WithLabelValues(kind).Add(float64(delta))
}

// SetViewClients matches the hub client-count hook.
func (c *Collector) SetViewClients(n int) {
	c.viewClients.Set(float64(n))
}
