// Package metrics exposes Prometheus metrics for the generation pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what pipeline components report to.
type Recorder interface {
	RecordGeneration(outcome string)
	RecordRetry()
	RecordImage(provider string, verified bool)
	RecordQuotaDenied(window string)
	RecordBatch(duration time.Duration, succeeded, failed int)
	RecordCredentialStatus(status string)
}

// Collector is the Prometheus implementation of Recorder.
type Collector struct {
	generations      *prometheus.CounterVec
	retries          prometheus.Counter
	images           *prometheus.CounterVec
	quotaDenied      *prometheus.CounterVec
	batchLatency     prometheus.Histogram
	variantsFailed   prometheus.Counter
	credentialStatus *prometheus.CounterVec
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sparklio_generations_total",
			Help: "Variant generations by outcome.",
		}, []string{"outcome"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sparklio_provider_retries_total",
			Help: "Provider calls retried after a failure.",
		}),
		images: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sparklio_images_total",
			Help: "Images acquired by provider.",
		}, []string{"provider", "verified"}),
		quotaDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sparklio_quota_denied_total",
			Help: "Requests denied by the local quota governor.",
		}, []string{"window"}),
		batchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sparklio_batch_duration_seconds",
			Help:    "Wall time of a full generation request.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 60},
		}),
		variantsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sparklio_variants_failed_total",
			Help: "Variants dropped from otherwise successful batches.",
		}),
		credentialStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sparklio_credential_status_total",
			Help: "Credential status transitions.",
		}, []string{"status"}),
	}

	reg.MustRegister(
		c.generations,
		c.retries,
		c.images,
		c.quotaDenied,
		c.batchLatency,
		c.variantsFailed,
		c.credentialStatus,
	)
	return c
}

func (c *Collector) RecordGeneration(outcome string) {
	c.generations.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordRetry() {
	c.retries.Inc()
}

func (c *Collector) RecordImage(provider string, verified bool) {
	c.images.WithLabelValues(provider, strconv.FormatBool(verified)).Inc()
}

func (c *Collector) RecordQuotaDenied(window string) {
	c.quotaDenied.WithLabelValues(window).Inc()
}

func (c *Collector) RecordBatch(duration time.Duration, succeeded, failed int) {
	c.batchLatency.Observe(duration.Seconds())
	if succeeded > 0 && failed > 0 {
		c.variantsFailed.Add(float64(failed))
	}
}

func (c *Collector) RecordCredentialStatus(status string) {
	c.credentialStatus.WithLabelValues(status).Inc()
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordGeneration(string)             {}
func (Nop) RecordRetry()                        {}
func (Nop) RecordImage(string, bool)            {}
func (Nop) RecordQuotaDenied(string)            {}
func (Nop) RecordBatch(time.Duration, int, int) {}
func (Nop) RecordCredentialStatus(string)       {}

// OrNop returns r, or Nop when r is nil.
func OrNop(r Recorder) Recorder {
	if r == nil {
		return Nop{}
	}
	return r
}

// Handler returns the Prometheus scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
