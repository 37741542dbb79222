package avatar

import (
	"context"

	"github.com/Skryldev/grsync/core"
	"github.com/Skryldev/grsync/utils"
)

// ArtifactLoader reads stored artifacts, optionally through a byte cache.
type ArtifactLoader struct {
	storage core.StorageAdapter
	bucket  string
	cache   core.ArtifactCache
	logger  core.Logger
}

// NewArtifactLoader returns a loader over storage.  cache may be nil.
func NewArtifactLoader(storage core.StorageAdapter, bucket string, cache core.ArtifactCache, logger core.Logger) *ArtifactLoader {
	if logger == nil {
		logger = core.NopLogger{}
	}
	return &ArtifactLoader{storage: storage, bucket: bucket, cache: cache, logger: logger}
}

// Load returns the bytes stored at path.  A missing object or a read error
// reports false.
func (l *ArtifactLoader) Load(ctx context.Context, path string) ([]byte, bool) {
	if path == "" {
		return nil, false
	}
	if l.cache != nil {
		if data, ok := l.cache.Get(ctx, path); ok {
			return data, true
		}
	}

	rc, err := l.storage.Get(ctx, core.StorageKey{Bucket: l.bucket, Path: path})
	if err != nil {
		l.logger.Warn("artifact unavailable", "path", path, "error", err)
		return nil, false
	}
	defer rc.Close()

	data, err := utils.ReadAll(ctx, rc)
	if err != nil {
		l.logger.Warn("artifact read failed", "path", path, "error", err)
		return nil, false
	}
	if l.cache != nil {
		l.cache.Set(ctx, path, data)
	}
	return data, true
}
