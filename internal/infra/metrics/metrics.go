package metrics

import (
	"net/http"
	"time"

	"dccgate/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dccgate"

type Collector struct {
	registry      *prometheus.Registry
	verifications *prometheus.CounterVec
	reasons       *prometheus.CounterVec
	syncs         *prometheus.CounterVec
	syncDuration  *prometheus.HistogramVec
	revocationHit *prometheus.CounterVec
}

func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verifications_total",
			Help:      "Certificate verifications by technical, rule and revocation outcome.",
		}, []string{"technical", "rules", "revocation"}),
		reasons: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verification_reasons_total",
			Help:      "Failure reasons reported by certificate verifications.",
		}, []string{"reason"}),
		syncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_total",
			Help:      "Sync cycles by kind and result.",
		}, []string{"kind", "result"}),
		syncDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Sync cycle duration.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"kind"}),
		revocationHit: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "revocation_hits_total",
			Help:      "Revocation filter hits by hash type.",
		}, []string{"hash_type"}),
	}
	c.registry.MustRegister(
		c.verifications,
		c.reasons,
		c.syncs,
		c.syncDuration,
		c.revocationHit,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

func (c *Collector) ObserveVerification(state domain.ValidityState) {
	c.verifications.WithLabelValues(string(state.Technical), string(state.AllRules), string(state.Revocation)).Inc()
	for _, reason := range state.Reasons {
		c.reasons.WithLabelValues(reason).Inc()
	}
}

func (c *Collector) ObserveSync(kind string, err error, elapsed time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.syncs.WithLabelValues(kind, result).Inc()
	c.syncDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

func (c *Collector) ObserveRevocationHit(hashType domain.HashType) {
	c.revocationHit.WithLabelValues(string(hashType)).Inc()
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
