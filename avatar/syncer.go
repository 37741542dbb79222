package avatar

import (
	"context"
	"time"

	"github.com/Skryldev/grsync/core"
	"github.com/Skryldev/grsync/transcode"
)

// Outcome is the terminal state of one synchronization.
type Outcome string

const (
	OutcomeFetchFailed     Outcome = "fetch_failed"
	OutcomeTranscodeFailed Outcome = "transcode_failed"
	OutcomeUnchanged       Outcome = "unchanged"
	OutcomeDeduplicated    Outcome = "deduplicated"
	OutcomeStored          Outcome = "stored"
	OutcomePersistFailed   Outcome = "persist_failed"
)

// SyncRequest names the entry to refresh.
type SyncRequest struct {
	Identity string
	// Rating is the tier requested from the provider.
	Rating core.Rating
	// EntryRating keys the row that is touched and linked.  On a cache
	// miss it is MaxRating while Rating is the requested ceiling.
	EntryRating core.Rating
	PriorHash   string
}

// SyncResult reports what a synchronization did.  Callers are free to
// discard it; nothing in it is a request failure.
type SyncResult struct {
	Outcome Outcome
	// Path is the storage path of the artifact now linked, if any.
	Path   string
	Digest string
	Err    error
}

// Ignored reports whether the sync produced no artifact to serve.
func (r SyncResult) Ignored() bool { return r.Path == "" }

// Transcoder converts provider bytes into the canonical encoding.
type Transcoder interface {
	Transcode(ctx context.Context, raw []byte) (*transcode.Result, error)
}

// SyncEngine runs fetch, transcode and persist for one entry.
type SyncEngine struct {
	store      core.CacheStore
	fetcher    core.Fetcher
	transcoder Transcoder
	addresser  *ContentAddresser
	clock      core.Clock
	size       int
	logger     core.Logger
	metrics    core.MetricsCollector
}

// SyncConfig wires a SyncEngine.  Clock, Logger and Metrics are optional.
type SyncConfig struct {
	Store      core.CacheStore
	Fetcher    core.Fetcher
	Transcoder Transcoder
	Addresser  *ContentAddresser
	Clock      core.Clock
	// Size is the pixel edge requested from the provider.
	Size    int
	Logger  core.Logger
	Metrics core.MetricsCollector
}

// NewSyncEngine returns a SyncEngine requesting Size pixels, 512 when unset.
func NewSyncEngine(cfg SyncConfig) *SyncEngine {
	e := &SyncEngine{
		store:      cfg.Store,
		fetcher:    cfg.Fetcher,
		transcoder: cfg.Transcoder,
		addresser:  cfg.Addresser,
		clock:      cfg.Clock,
		size:       cfg.Size,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
	}
	if e.clock == nil {
		e.clock = core.SystemClock{}
	}
	if e.logger == nil {
		e.logger = core.NopLogger{}
	}
	if e.size <= 0 {
		e.size = 512
	}
	return e
}

// Sync refreshes one entry.  The entry's last_synced_at is advanced before
// anything else, so a failing provider is asked at most once per freshness
// window.
func (e *SyncEngine) Sync(ctx context.Context, req SyncRequest) (res SyncResult) {
	begin := time.Now()
	e.logger.Info("sync avatar", "identity", req.Identity, "rating", req.Rating.Code())
	defer func() {
		e.report(req, res, time.Since(begin))
	}()

	if err := e.store.TouchEntry(ctx, req.Identity, req.EntryRating, e.clock.Now()); err != nil {
		e.logger.Warn("touch entry failed", "identity", req.Identity, "rating", req.EntryRating.Code(), "error", err)
	}

	fetched, err := e.fetcher.Fetch(ctx, req.Identity, req.Rating, e.size)
	if err != nil {
		return SyncResult{Outcome: OutcomeFetchFailed, Err: err}
	}

	out, err := e.transcoder.Transcode(ctx, fetched.Data)
	if err != nil {
		return SyncResult{Outcome: OutcomeTranscodeFailed, Err: err}
	}

	return e.addresser.Persist(ctx, PersistRequest{
		Identity:    req.Identity,
		EntryRating: req.EntryRating,
		Data:        out.Data,
		ContentType: out.Format.ContentType(),
		OriginURL:   fetched.URL,
		PriorHash:   req.PriorHash,
	})
}

func (e *SyncEngine) report(req SyncRequest, res SyncResult, d time.Duration) {
	if e.metrics != nil {
		e.metrics.RecordSync(string(res.Outcome))
	}
	fields := []interface{}{
		"identity", req.Identity,
		"rating", req.Rating.Code(),
		"outcome", res.Outcome,
		"duration", d,
	}
	switch res.Outcome {
	case OutcomeStored, OutcomeDeduplicated:
		e.logger.Info("sync complete", append(fields, "path", res.Path)...)
	case OutcomePersistFailed, OutcomeTranscodeFailed:
		e.logger.Warn("sync failed", append(fields, "error", res.Err)...)
	default:
		if res.Err != nil {
			fields = append(fields, "error", res.Err)
		}
		e.logger.Debug("sync produced no update", fields...)
	}
}
