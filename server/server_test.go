package server_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	stdprometheus "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skryldev/grsync/avatar"
	"github.com/Skryldev/grsync/server"
)

type stubResolver struct {
	res       avatar.Resolution
	gotID     string
	gotRating string
}

func (s *stubResolver) Resolve(_ context.Context, rawID, ratingCode string) avatar.Resolution {
	s.gotID, s.gotRating = rawID, ratingCode
	return s.res
}

func TestAvatarServed(t *testing.T) {
	stub := &stubResolver{res: avatar.Resolution{
		Data:        []byte("avif-bytes"),
		ContentType: "image/avif",
		Status:      avatar.StatusServed,
		Source:      avatar.SourceHit,
	}}
	srv := server.New(stub, server.Options{})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/0123456789abcdef0123456789abcdef?r=pg", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/avif", rec.Header().Get("Content-Type"))
	assert.Equal(t, "public, max-age=3600", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "10", rec.Header().Get("Content-Length"))
	assert.Equal(t, "avif-bytes", rec.Body.String())
	assert.Equal(t, "0123456789abcdef0123456789abcdef", stub.gotID)
	assert.Equal(t, "pg", stub.gotRating)
}

func TestAvatarFallbackIsOK(t *testing.T) {
	stub := &stubResolver{res: avatar.Resolution{
		Data:        avatar.DefaultArtifact,
		ContentType: "image/png",
		Status:      avatar.StatusFallback,
		Source:      avatar.SourceDefault,
	}}
	rec := httptest.NewRecorder()
	server.New(stub, server.Options{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ffffffffffffffffffffffffffffffff", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, avatar.DefaultArtifact, rec.Body.Bytes())
	assert.Equal(t, avatar.SourceDefault, rec.Header().Get("X-Avatar-Source"))
}

func TestAvatarInvalidIsBadRequest(t *testing.T) {
	stub := &stubResolver{res: avatar.Resolution{Status: avatar.StatusInvalid, Message: "identity must be 32 hexadecimal characters"}}
	rec := httptest.NewRecorder()
	server.New(stub, server.Options{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/not-a-valid-id", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "not-a-valid-id")
	assert.Empty(t, rec.Header().Get("Cache-Control"))
}

func TestHeadOmitsBody(t *testing.T) {
	stub := &stubResolver{res: avatar.Resolution{Data: []byte("png"), ContentType: "image/png", Status: avatar.StatusServed}}
	rec := httptest.NewRecorder()
	server.New(stub, server.Options{}).ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/0123456789abcdef0123456789abcdef", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "3", rec.Header().Get("Content-Length"))
	assert.Zero(t, rec.Body.Len())
}

func TestMethodNotAllowed(t *testing.T) {
	rec := httptest.NewRecorder()
	server.New(&stubResolver{}, server.Options{}).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/0123456789abcdef0123456789abcdef", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	reg := stdprometheus.NewRegistry()
	stub := &stubResolver{res: avatar.Resolution{Data: []byte("x"), ContentType: "image/png", Status: avatar.StatusServed}}
	ts := httptest.NewServer(server.New(stub, server.Options{Registry: reg}))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))

	resp, err = http.Get(ts.URL + "/0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	resp.Body.Close()

	n, err := testutil.GatherAndCount(reg, "grsync_http_request_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "healthz and avatar series")

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.True(t, strings.Contains(string(body), `grsync_http_request_duration_seconds_count{route="avatar",status_code="200"} 1`))
}
