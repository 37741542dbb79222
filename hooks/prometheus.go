package hooks

import (
	"github.com/go-kit/kit/metrics"
	kitprometheus "github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	LabelStep     = "step"
	LabelCategory = "category"
	LabelSource   = "source"
	LabelOutcome  = "outcome"
)

// PrometheusMetrics exports pipeline, resolution and sync observations.
type PrometheusMetrics struct {
	StepDuration metrics.Histogram
	StepErrors   metrics.Counter
	Throughput   metrics.Counter
	DecodedBytes metrics.Histogram
	Resolutions  metrics.Counter
	Syncs        metrics.Counter
}

// NewPrometheusMetrics registers the grsync collectors with reg.
func NewPrometheusMetrics(reg stdprometheus.Registerer) *PrometheusMetrics {
	stepDuration := stdprometheus.NewHistogramVec(stdprometheus.HistogramOpts{
		Namespace: "grsync",
		Subsystem: "transcode",
		Name:      "step_duration_seconds",
		Help:      "Duration of transcode pipeline steps, in seconds.",
		Buckets:   stdprometheus.DefBuckets,
	}, []string{LabelStep})
	stepErrors := stdprometheus.NewCounterVec(stdprometheus.CounterOpts{
		Namespace: "grsync",
		Subsystem: "transcode",
		Name:      "step_errors_total",
		Help:      "Failed transcode pipeline steps.",
	}, []string{LabelStep, LabelCategory})
	throughput := stdprometheus.NewCounterVec(stdprometheus.CounterOpts{
		Namespace: "grsync",
		Subsystem: "transcode",
		Name:      "bytes_total",
		Help:      "Bytes produced by transcode pipeline steps.",
	}, []string{})
	decoded := stdprometheus.NewHistogramVec(stdprometheus.HistogramOpts{
		Namespace: "grsync",
		Subsystem: "transcode",
		Name:      "decoded_bytes",
		Help:      "Estimated size of decoded pixel buffers, in bytes.",
		Buckets:   stdprometheus.ExponentialBuckets(64<<10, 4, 8),
	}, []string{})
	resolutions := stdprometheus.NewCounterVec(stdprometheus.CounterOpts{
		Namespace: "grsync",
		Subsystem: "resolver",
		Name:      "resolutions_total",
		Help:      "Avatar resolutions by source.",
	}, []string{LabelSource})
	syncs := stdprometheus.NewCounterVec(stdprometheus.CounterOpts{
		Namespace: "grsync",
		Subsystem: "sync",
		Name:      "syncs_total",
		Help:      "Synchronization attempts by outcome.",
	}, []string{LabelOutcome})
	reg.MustRegister(stepDuration, stepErrors, throughput, decoded, resolutions, syncs)

	return &PrometheusMetrics{
		StepDuration: kitprometheus.NewHistogram(stepDuration),
		StepErrors:   kitprometheus.NewCounter(stepErrors),
		Throughput:   kitprometheus.NewCounter(throughput),
		DecodedBytes: kitprometheus.NewHistogram(decoded),
		Resolutions:  kitprometheus.NewCounter(resolutions),
		Syncs:        kitprometheus.NewCounter(syncs),
	}
}

func (p *PrometheusMetrics) RecordProcessingTime(stepName string, d interface{ Seconds() float64 }) {
	p.StepDuration.With(LabelStep, stepName).Observe(d.Seconds())
}

func (p *PrometheusMetrics) RecordThroughput(bytes int64) {
	p.Throughput.Add(float64(bytes))
}

func (p *PrometheusMetrics) RecordMemory(bytes int64) {
	p.DecodedBytes.Observe(float64(bytes))
}

func (p *PrometheusMetrics) RecordError(stepName, category string) {
	p.StepErrors.With(LabelStep, stepName, LabelCategory, category).Add(1)
}

func (p *PrometheusMetrics) RecordResolution(source string) {
	p.Resolutions.With(LabelSource, source).Add(1)
}

func (p *PrometheusMetrics) RecordSync(outcome string) {
	p.Syncs.With(LabelOutcome, outcome).Add(1)
}
