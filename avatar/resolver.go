package avatar

import (
	"context"

	"github.com/Skryldev/grsync/core"
	apperrors "github.com/Skryldev/grsync/errors"
	"github.com/Skryldev/grsync/utils"
)

// Status classifies a Resolution for the transport layer.
type Status int

const (
	// StatusServed carries stored avatar bytes.
	StatusServed Status = iota
	// StatusFallback carries the default artifact.
	StatusFallback
	// StatusInvalid carries no bytes; Message explains the rejection.
	StatusInvalid
)

func (s Status) String() string {
	switch s {
	case StatusServed:
		return "served"
	case StatusFallback:
		return "fallback"
	case StatusInvalid:
		return "invalid"
	}
	return "unknown"
}

// Resolution sources, also used as metric labels.
const (
	SourceHit            = "hit"
	SourceRefreshedLater = "refreshed-later"
	SourceMissSynced     = "miss-synced"
	SourceDefault        = "default"
	SourceInvalid        = "invalid"
)

// Resolution is the answer to one avatar request.
type Resolution struct {
	Data        []byte
	ContentType string
	Status      Status
	Source      string
	Message     string
}

// Resolver is the entry point for avatar requests.
type Resolver struct {
	store    core.CacheStore
	sync     *SyncEngine
	loader   *ArtifactLoader
	policy   StalenessPolicy
	clock    core.Clock
	ext      string
	fallback []byte
	logger   core.Logger
	metrics  core.MetricsCollector
}

// ResolverConfig wires a Resolver.  Default falls back to DefaultArtifact.
type ResolverConfig struct {
	Store     core.CacheStore
	Sync      *SyncEngine
	Loader    *ArtifactLoader
	Policy    StalenessPolicy
	Clock     core.Clock
	Extension string
	Default   []byte
	Logger    core.Logger
	Metrics   core.MetricsCollector
}

// NewResolver returns a Resolver; Clock and Logger default when nil.
func NewResolver(cfg ResolverConfig) *Resolver {
	r := &Resolver{
		store:    cfg.Store,
		sync:     cfg.Sync,
		loader:   cfg.Loader,
		policy:   cfg.Policy,
		clock:    cfg.Clock,
		ext:      cfg.Extension,
		fallback: cfg.Default,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
	}
	if r.clock == nil {
		r.clock = core.SystemClock{}
	}
	if r.logger == nil {
		r.logger = core.NopLogger{}
	}
	if r.fallback == nil {
		r.fallback = DefaultArtifact
	}
	return r
}

// Resolve answers a request for rawID at the rating ceiling named by
// ratingCode.  It never fails: anything other than a malformed identity
// ends in stored bytes or the default artifact.
func (r *Resolver) Resolve(ctx context.Context, rawID, ratingCode string) Resolution {
	identity, err := core.ParseIdentity(rawID)
	if err != nil {
		r.record(SourceInvalid)
		return Resolution{Status: StatusInvalid, Source: SourceInvalid, Message: err.Error()}
	}
	ceiling := core.RatingFromCode(ratingCode)

	entry, err := r.store.LookupEntry(ctx, identity, ceiling)
	switch {
	case err == nil:
		return r.resolveHit(ctx, entry)
	case apperrors.Is(err, apperrors.ErrNotFound):
		return r.resolveMiss(ctx, identity, ceiling)
	default:
		r.logger.Error("cache lookup failed", "identity", identity, "error", err)
		return r.fallbackResolution()
	}
}

func (r *Resolver) resolveHit(ctx context.Context, entry *core.CacheEntry) Resolution {
	source := SourceHit
	if r.policy.IsStale(entry, r.clock.Now()) {
		// The refreshed artifact is for the next request; this one is
		// answered from the entry as it was read.
		_ = r.sync.Sync(ctx, SyncRequest{
			Identity:    entry.Identity,
			Rating:      entry.Rating,
			EntryRating: entry.Rating,
			PriorHash:   entry.ContentHash,
		})
		source = SourceRefreshedLater
	}

	if data, ok := r.loader.Load(ctx, entry.ArtifactPath(r.ext)); ok {
		return r.served(data, source)
	}
	return r.fallbackResolution()
}

func (r *Resolver) resolveMiss(ctx context.Context, identity string, ceiling core.Rating) Resolution {
	if err := r.store.InsertEntry(ctx, identity, core.MaxRating); err != nil {
		if !apperrors.Is(err, apperrors.ErrAlreadyExists) {
			r.logger.Error("cache insert failed", "identity", identity, "error", err)
			return r.fallbackResolution()
		}
		r.logger.Debug("entry created concurrently", "identity", identity)
	}

	// The new row is stored at MaxRating but the provider is asked for the
	// requested ceiling.
	res := r.sync.Sync(ctx, SyncRequest{
		Identity:    identity,
		Rating:      ceiling,
		EntryRating: core.MaxRating,
	})
	if res.Ignored() {
		return r.fallbackResolution()
	}
	if data, ok := r.loader.Load(ctx, res.Path); ok {
		return r.served(data, SourceMissSynced)
	}
	return r.fallbackResolution()
}

func (r *Resolver) served(data []byte, source string) Resolution {
	r.record(source)
	return Resolution{
		Data:        data,
		ContentType: utils.ContentType(data),
		Status:      StatusServed,
		Source:      source,
	}
}

func (r *Resolver) fallbackResolution() Resolution {
	r.record(SourceDefault)
	return Resolution{
		Data:        r.fallback,
		ContentType: utils.ContentType(r.fallback),
		Status:      StatusFallback,
		Source:      SourceDefault,
	}
}

func (r *Resolver) record(source string) {
	if r.metrics != nil {
		r.metrics.RecordResolution(source)
	}
}
