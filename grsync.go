// Package grsync wires the avatar service together: codec registry,
// transcoder, cache store, storage, provider fetcher, metrics and the HTTP
// server.
package grsync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	stdprometheus "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Skryldev/grsync/adapters/decoder"
	"github.com/Skryldev/grsync/adapters/encoder"
	"github.com/Skryldev/grsync/adapters/fetcher"
	"github.com/Skryldev/grsync/adapters/memcached"
	"github.com/Skryldev/grsync/adapters/storage"
	"github.com/Skryldev/grsync/adapters/store"
	"github.com/Skryldev/grsync/adapters/vips"
	"github.com/Skryldev/grsync/avatar"
	"github.com/Skryldev/grsync/config"
	"github.com/Skryldev/grsync/core"
	apperrors "github.com/Skryldev/grsync/errors"
	"github.com/Skryldev/grsync/hooks"
	"github.com/Skryldev/grsync/server"
	"github.com/Skryldev/grsync/transcode"
)

// Re-export the rating tiers for callers that only import the root.
const (
	RatingG  = core.RatingG
	RatingPG = core.RatingPG
	RatingR  = core.RatingR
	RatingX  = core.RatingX
)

// DefaultConfig returns the production defaults.
func DefaultConfig() config.Config { return config.Default() }

// Options overrides collaborators New would otherwise build from the
// config.  Zero values select the configured implementation.
type Options struct {
	Logger   core.Logger
	Registry *stdprometheus.Registry
	Clock    core.Clock
	Store    core.CacheStore
	Storage  core.StorageAdapter
	Fetcher  core.Fetcher
	Cache    core.ArtifactCache
}

// Service owns every long-lived dependency.  Close releases them.
type Service struct {
	cfg        config.Config
	logger     core.Logger
	registry   *stdprometheus.Registry
	codecs     *core.DefaultRegistry
	vips       *vips.Backend
	transcoder *transcode.Transcoder
	store      core.CacheStore
	storage    core.StorageAdapter
	metrics    *hooks.InMemoryMetrics
	engine     *avatar.SyncEngine
	resolver   *avatar.Resolver
	server     *server.Server
}

// New validates cfg and builds a ready Service.
func New(cfg config.Config, opts Options) (svc *Service, err error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	s := &Service{cfg: cfg, logger: opts.Logger, registry: opts.Registry}
	if s.logger == nil {
		s.logger = core.NopLogger{}
	}
	if s.registry == nil {
		s.registry = stdprometheus.NewRegistry()
		s.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()

	s.metrics = hooks.NewInMemoryMetrics()
	collector := hooks.MultiCollector{hooks.NewPrometheusMetrics(s.registry), s.metrics}

	s.codecs = NewCodecRegistry(cfg.Transcode.Quality)
	var geometry []core.Step
	if cfg.Transcode.UseVips {
		s.vips = vips.NewBackend(vips.BackendConfig{DefaultQuality: cfg.Transcode.Quality})
		vips.RegisterVipsBackend(s.codecs, s.vips)
		geometry = []core.Step{
			&vips.AutoRotateStep{},
			&vips.FitStep{Size: cfg.Fetch.AvatarSize},
			&vips.StripEXIFStep{},
		}
	}
	s.transcoder, err = transcode.New(s.codecs, transcode.Options{
		Size:          cfg.Fetch.AvatarSize,
		Output:        core.ParseFormat(cfg.Transcode.OutputFormat),
		Quality:       cfg.Transcode.Quality,
		Lossless:      cfg.Transcode.Lossless,
		MaxImageBytes: cfg.Transcode.MaxImageBytes,
		Geometry:      geometry,
	}, hooks.NewLoggingHook(s.logger), hooks.NewMetricsHook(collector))
	if err != nil {
		return nil, err
	}

	s.store = opts.Store
	if s.store == nil {
		cs, err := store.Open(cfg.DatabaseURL, s.logger)
		if err != nil {
			return nil, err
		}
		s.store = cs
	}
	s.store = store.Instrument(s.store, store.NewMetrics(s.registry))

	s.storage = opts.Storage
	if s.storage == nil {
		if s.storage, err = NewStorage(cfg); err != nil {
			return nil, err
		}
	}

	fetch := opts.Fetcher
	if fetch == nil {
		fetch = fetcher.New(fetcher.Config{
			BaseURL:       cfg.Fetch.BaseURL,
			UserAgent:     cfg.Fetch.UserAgent,
			Timeout:       cfg.Fetch.Timeout,
			RatePerSecond: cfg.Fetch.RatePerSecond,
			Burst:         cfg.Fetch.Burst,
			MaxBytes:      cfg.Transcode.MaxImageBytes,
			Logger:        s.logger,
		})
	}

	cache := opts.Cache
	if cache == nil && len(cfg.Memcached.Servers) > 0 {
		mc, err := memcached.New(memcached.Config{
			Servers: cfg.Memcached.Servers,
			Timeout: cfg.Memcached.Timeout,
			Logger:  s.logger,
		})
		if err != nil {
			return nil, apperrors.New(apperrors.CategoryConfig, "grsync.memcached", err)
		}
		cache = mc
	}

	ext := s.transcoder.Extension()
	s.engine = avatar.NewSyncEngine(avatar.SyncConfig{
		Store:      s.store,
		Fetcher:    fetch,
		Transcoder: s.transcoder,
		Addresser: avatar.NewContentAddresser(avatar.AddresserConfig{
			Store:     s.store,
			Storage:   s.storage,
			Bucket:    cfg.S3.Bucket,
			Extension: ext,
			SizeHint:  cfg.Fetch.AvatarSize,
			Logger:    s.logger,
		}),
		Clock:   opts.Clock,
		Size:    cfg.Fetch.AvatarSize,
		Logger:  s.logger,
		Metrics: collector,
	})
	s.resolver = avatar.NewResolver(avatar.ResolverConfig{
		Store:     s.store,
		Sync:      s.engine,
		Loader:    avatar.NewArtifactLoader(s.storage, cfg.S3.Bucket, cache, s.logger),
		Policy:    avatar.StalenessPolicy{MaxAge: cfg.Sync.StaleAfter},
		Clock:     opts.Clock,
		Extension: ext,
		Logger:    s.logger,
		Metrics:   collector,
	})
	s.server = server.New(s.resolver, server.Options{Registry: s.registry, Logger: s.logger})

	s.logger.Info("grsync ready",
		"database", redactScheme(cfg.DatabaseURL),
		"storage", cfg.Storage,
		"output", s.transcoder.Output(),
		"steps", s.transcoder.Steps(),
	)
	return s, nil
}

// NewCodecRegistry registers the stdlib decoders and the JPEG and PNG
// encoders.  libvips, when enabled, replaces them and adds AVIF.
func NewCodecRegistry(quality int) *core.DefaultRegistry {
	reg := core.NewRegistry()
	for f, d := range decoder.All() {
		reg.RegisterDecoder(f, d)
	}
	reg.RegisterEncoder(core.FormatJPEG, encoder.NewJPEG(quality))
	reg.RegisterEncoder(core.FormatPNG, encoder.NewPNG())
	return reg
}

// NewStorage builds the configured storage adapter.
func NewStorage(cfg config.Config) (core.StorageAdapter, error) {
	switch cfg.Storage {
	case config.StorageS3:
		client, err := storage.NewMinioClient(storage.MinioConfig{
			Endpoint:        cfg.S3.Endpoint,
			Region:          cfg.S3.Region,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			UseSSL:          cfg.S3.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		return storage.NewS3(client, cfg.S3.Bucket, cfg.S3.Prefix)
	default:
		return storage.NewLocal(cfg.Local.RootDir, os.FileMode(cfg.Local.Permissions))
	}
}

// Handler returns the HTTP handler serving avatars, /metrics and /healthz.
func (s *Service) Handler() http.Handler { return s.server }

// Resolver exposes the request resolver.
func (s *Service) Resolver() *avatar.Resolver { return s.resolver }

// SyncEngine exposes the synchronization engine.
func (s *Service) SyncEngine() *avatar.SyncEngine { return s.engine }

// Store exposes the instrumented cache store.
func (s *Service) Store() core.CacheStore { return s.store }

// Metrics returns a snapshot of in-process counters.
func (s *Service) Metrics() hooks.MetricsSnapshot { return s.metrics.Snapshot() }

// Stats returns transcoder counters.
func (s *Service) Stats() (processed, errors int64) { return s.transcoder.Stats() }

// Serve listens on the configured address until ctx is cancelled.
func (s *Service) Serve(ctx context.Context) error {
	err := s.server.ListenAndServe(ctx, s.cfg.ListenAddr, 10*time.Second)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve %s: %w", s.cfg.ListenAddr, err)
	}
	return nil
}

// Close releases the store and libvips.
func (s *Service) Close() error {
	var errs []error
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if s.vips != nil {
		s.vips.Shutdown()
	}
	return errors.Join(errs...)
}

func redactScheme(databaseURL string) string {
	scheme, err := config.DatabaseScheme(databaseURL)
	if err != nil {
		return "invalid"
	}
	return scheme
}
