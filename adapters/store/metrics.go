package store

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kit/kit/metrics"
	kitprometheus "github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	"github.com/Skryldev/grsync/core"
)

const (
	LabelMethod  = "method"
	LabelSuccess = "success"
)

type Metrics struct {
	RequestDuration metrics.Histogram
}

// NewMetrics registers the store duration histogram with reg.
func NewMetrics(reg stdprometheus.Registerer) Metrics {
	hv := stdprometheus.NewHistogramVec(stdprometheus.HistogramOpts{
		Namespace: "grsync",
		Subsystem: "store",
		Name:      "request_duration_seconds",
		Help:      "Cache store method duration in seconds.",
		Buckets:   stdprometheus.DefBuckets,
	}, []string{LabelMethod, LabelSuccess})
	reg.MustRegister(hv)
	return Metrics{RequestDuration: kitprometheus.NewHistogram(hv)}
}

type instrumented struct {
	s core.CacheStore
	m Metrics
}

// Instrument records the duration and success of every call to s.  Lookups
// that find nothing and inserts that lose a race count as failures.
func Instrument(s core.CacheStore, m Metrics) core.CacheStore {
	return &instrumented{s, m}
}

func (i *instrumented) observe(method string, begin time.Time, err error) {
	i.m.RequestDuration.With(
		LabelMethod, method,
		LabelSuccess, fmt.Sprint(err == nil),
	).Observe(time.Since(begin).Seconds())
}

func (i *instrumented) LookupEntry(ctx context.Context, identity string, ceiling core.Rating) (e *core.CacheEntry, err error) {
	defer func(begin time.Time) { i.observe("LookupEntry", begin, err) }(time.Now())
	return i.s.LookupEntry(ctx, identity, ceiling)
}

func (i *instrumented) InsertEntry(ctx context.Context, identity string, rating core.Rating) (err error) {
	defer func(begin time.Time) { i.observe("InsertEntry", begin, err) }(time.Now())
	return i.s.InsertEntry(ctx, identity, rating)
}

func (i *instrumented) TouchEntry(ctx context.Context, identity string, rating core.Rating, at time.Time) (err error) {
	defer func(begin time.Time) { i.observe("TouchEntry", begin, err) }(time.Now())
	return i.s.TouchEntry(ctx, identity, rating, at)
}

func (i *instrumented) LinkEntry(ctx context.Context, identity string, rating core.Rating, contentHash string, sizeHint int) (err error) {
	defer func(begin time.Time) { i.observe("LinkEntry", begin, err) }(time.Now())
	return i.s.LinkEntry(ctx, identity, rating, contentHash, sizeHint)
}

func (i *instrumented) LookupResource(ctx context.Context, contentHash string) (r *core.ResourceRecord, err error) {
	defer func(begin time.Time) { i.observe("LookupResource", begin, err) }(time.Now())
	return i.s.LookupResource(ctx, contentHash)
}

func (i *instrumented) InsertResource(ctx context.Context, rec core.ResourceRecord) (err error) {
	defer func(begin time.Time) { i.observe("InsertResource", begin, err) }(time.Now())
	return i.s.InsertResource(ctx, rec)
}

func (i *instrumented) Close() (err error) {
	defer func(begin time.Time) { i.observe("Close", begin, err) }(time.Now())
	return i.s.Close()
}
