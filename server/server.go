// Package server exposes the avatar resolver over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Skryldev/grsync/avatar"
	"github.com/Skryldev/grsync/core"
)

// Route names, also used as the route metric label.
const (
	RouteAvatar  = "avatar"
	RouteMetrics = "metrics"
	RouteHealth  = "healthz"
)

const defaultCacheMaxAge = time.Hour

// Resolver is the part of avatar.Resolver the handler needs.
type Resolver interface {
	Resolve(ctx context.Context, rawID, ratingCode string) avatar.Resolution
}

// Options configures a Server.  A nil Registry disables /metrics and the
// request histogram.
type Options struct {
	Registry    *stdprometheus.Registry
	Logger      core.Logger
	CacheMaxAge time.Duration
}

// Server routes avatar, metrics and health requests.
type Server struct {
	router      *mux.Router
	resolver    Resolver
	logger      core.Logger
	cacheMaxAge time.Duration
	duration    *stdprometheus.HistogramVec
}

// New registers the avatar, health and (with a Registry) metrics routes.
func New(resolver Resolver, opts Options) *Server {
	s := &Server{
		router:      mux.NewRouter(),
		resolver:    resolver,
		logger:      opts.Logger,
		cacheMaxAge: opts.CacheMaxAge,
	}
	if s.logger == nil {
		s.logger = core.NopLogger{}
	}
	if s.cacheMaxAge <= 0 {
		s.cacheMaxAge = defaultCacheMaxAge
	}

	if opts.Registry != nil {
		s.duration = stdprometheus.NewHistogramVec(stdprometheus.HistogramOpts{
			Namespace: "grsync",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   stdprometheus.DefBuckets,
		}, []string{"route", "status_code"})
		opts.Registry.MustRegister(s.duration)
		s.router.Handle("/metrics", promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{})).
			Methods(http.MethodGet).Name(RouteMetrics)
	}
	s.router.HandleFunc("/healthz", s.health).Methods(http.MethodGet).Name(RouteHealth)
	s.router.HandleFunc("/{id}", s.avatar).Methods(http.MethodGet, http.MethodHead).Name(RouteAvatar)
	if s.duration != nil {
		s.router.Use(s.instrument)
	}
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) avatar(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	res := s.resolver.Resolve(r.Context(), id, r.URL.Query().Get("r"))

	if res.Status == avatar.StatusInvalid {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = fmt.Fprintf(w, "invalid avatar id %q: %s\n", id, res.Message)
		return
	}

	h := w.Header()
	h.Set("Content-Type", res.ContentType)
	h.Set("Content-Length", strconv.Itoa(len(res.Data)))
	h.Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(s.cacheMaxAge.Seconds())))
	h.Set("X-Avatar-Source", res.Source)
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(res.Data); err != nil {
		s.logger.Debug("response write failed", "id", id, "error", err)
	}
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			route = cur.GetName()
		}
		defer func(begin time.Time) {
			s.duration.WithLabelValues(route, strconv.Itoa(rec.status)).Observe(time.Since(begin).Seconds())
		}(time.Now())
		next.ServeHTTP(rec, r)
	})
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully within shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      time.Minute,
		IdleTimeout:       15 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http server graceful shutdown failed", "error", err)
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("http server stopped")
	return nil
}
