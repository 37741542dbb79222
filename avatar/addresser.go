package avatar

import (
	"bytes"
	"context"

	"github.com/opencontainers/go-digest"

	"github.com/Skryldev/grsync/core"
	apperrors "github.com/Skryldev/grsync/errors"
)

// Digest returns the hex SHA-256 of data, the stem of its storage path.
func Digest(data []byte) string {
	return digest.FromBytes(data).Encoded()
}

// ContentAddresser stores encoded artifacts under their digest and links
// cache entries to the shared resource records.
type ContentAddresser struct {
	store    core.CacheStore
	storage  core.StorageAdapter
	bucket   string
	ext      string
	sizeHint int
	logger   core.Logger
}

// AddresserConfig configures a ContentAddresser.
type AddresserConfig struct {
	Store   core.CacheStore
	Storage core.StorageAdapter
	Bucket  string
	// Extension of the canonical encoding, e.g. "avif".
	Extension string
	// SizeHint is recorded on new resource records and linked entries.
	SizeHint int
	Logger   core.Logger
}

// NewContentAddresser returns a ContentAddresser over cfg's store and storage.
func NewContentAddresser(cfg AddresserConfig) *ContentAddresser {
	logger := cfg.Logger
	if logger == nil {
		logger = core.NopLogger{}
	}
	return &ContentAddresser{
		store:    cfg.Store,
		storage:  cfg.Storage,
		bucket:   cfg.Bucket,
		ext:      cfg.Extension,
		sizeHint: cfg.SizeHint,
		logger:   logger,
	}
}

// Extension is the file extension appended to digests.
func (a *ContentAddresser) Extension() string { return a.ext }

// PersistRequest is one encoded artifact destined for an entry.
type PersistRequest struct {
	Identity    string
	EntryRating core.Rating
	Data        []byte
	ContentType string
	OriginURL   string
	// PriorHash is the digest the entry already references, if any.
	PriorHash string
}

// Persist deduplicates req.Data against the resource table, writes it when
// new, and links the entry.  A concurrent insert of the same digest is a
// lost race: the entry is linked to the record that won.
func (a *ContentAddresser) Persist(ctx context.Context, req PersistRequest) SyncResult {
	hash := Digest(req.Data)
	if hash == req.PriorHash {
		return SyncResult{Outcome: OutcomeUnchanged, Digest: hash}
	}

	rec, err := a.store.LookupResource(ctx, hash)
	switch {
	case err == nil:
		path := rec.Path(a.ext)
		if err := a.store.LinkEntry(ctx, req.Identity, req.EntryRating, hash, a.sizeHint); err != nil {
			return SyncResult{Outcome: OutcomePersistFailed, Path: path, Digest: hash, Err: err}
		}
		return SyncResult{Outcome: OutcomeDeduplicated, Path: path, Digest: hash}
	case !apperrors.Is(err, apperrors.ErrNotFound):
		return SyncResult{Outcome: OutcomePersistFailed, Digest: hash, Err: err}
	}

	path := core.ContentPath(hash, a.ext)
	meta := map[string]string{"origin-url": req.OriginURL}
	if req.ContentType != "" {
		meta["content-type"] = req.ContentType
	}
	key := core.StorageKey{Bucket: a.bucket, Path: path}
	if err := a.storage.Put(ctx, key, bytes.NewReader(req.Data), meta); err != nil {
		return SyncResult{Outcome: OutcomePersistFailed, Digest: hash, Err: err}
	}

	err = a.store.InsertResource(ctx, core.ResourceRecord{
		ContentHash:  hash,
		ResourcePath: path,
		SizeHint:     a.sizeHint,
		OriginURL:    req.OriginURL,
	})
	if err != nil && !apperrors.Is(err, apperrors.ErrAlreadyExists) {
		return SyncResult{Outcome: OutcomePersistFailed, Path: path, Digest: hash, Err: err}
	}
	if err != nil {
		a.logger.Debug("resource inserted concurrently", "digest", hash)
	}

	if err := a.store.LinkEntry(ctx, req.Identity, req.EntryRating, hash, a.sizeHint); err != nil {
		return SyncResult{Outcome: OutcomePersistFailed, Path: path, Digest: hash, Err: err}
	}
	return SyncResult{Outcome: OutcomeStored, Path: path, Digest: hash}
}
