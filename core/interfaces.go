package core

import (
	"context"
	"io"
	"time"
)

// Decoder converts raw bytes / a reader into an in-memory ImageData.
// Implementations live in adapters/decoder/.
type Decoder interface {
	// Decode reads from r and returns a decoded ImageData.
	Decode(ctx context.Context, r io.Reader) (*ImageData, error)
	// CanDecode reports whether this decoder handles the given format hint.
	CanDecode(format Format) bool
}

// Encoder serialises an ImageData to bytes in a target format.
// Implementations live in adapters/encoder/.
type Encoder interface {
	Encode(ctx context.Context, img *ImageData, opts EncodeOptions) ([]byte, error)
	CanEncode(format Format) bool
}

// EncodeOptions carries format-specific encoding parameters.
type EncodeOptions struct {
	Quality    int  // 1-100; 0 = use encoder default
	Lossless   bool // WebP / PNG / AVIF lossless mode
	StripEXIF  bool
	Interlaced bool // progressive JPEG / interlaced PNG
}

// StorageAdapter persists encoded artifacts and retrieves them later.
// Implementations live in adapters/storage/.
type StorageAdapter interface {
	Put(ctx context.Context, key StorageKey, r io.Reader, meta map[string]string) error
	Get(ctx context.Context, key StorageKey) (io.ReadCloser, error)
	Delete(ctx context.Context, key StorageKey) error
	Exists(ctx context.Context, key StorageKey) (bool, error)
}

// CacheStore is the persistence boundary over the two relations of the
// avatar cache: per-identity cache entries and content-addressed resource
// records.  Implementations live in adapters/store/.
//
// Lookups that find nothing return an error satisfying
// errors.Is(err, apperrors.ErrNotFound).  Inserts that collide with an
// existing key return an error satisfying errors.Is(err,
// apperrors.ErrAlreadyExists); callers treat that as a lost race.
type CacheStore interface {
	// LookupEntry returns the entry for identity with the highest rating
	// not exceeding ceiling.
	LookupEntry(ctx context.Context, identity string, ceiling Rating) (*CacheEntry, error)
	// InsertEntry creates an empty entry for (identity, rating).
	InsertEntry(ctx context.Context, identity string, rating Rating) error
	// TouchEntry sets last_synced_at for (identity, rating).
	TouchEntry(ctx context.Context, identity string, rating Rating, at time.Time) error
	// LinkEntry points (identity, rating) at a resource record and clears
	// any explicit resource path so the path is derived from the digest.
	LinkEntry(ctx context.Context, identity string, rating Rating, contentHash string, sizeHint int) error

	LookupResource(ctx context.Context, contentHash string) (*ResourceRecord, error)
	InsertResource(ctx context.Context, rec ResourceRecord) error

	Close() error
}

// Fetcher retrieves a candidate avatar image from the remote provider.
type Fetcher interface {
	Fetch(ctx context.Context, identity string, rating Rating, size int) (*FetchResult, error)
}

// FetchResult is the raw response of a successful remote fetch.
type FetchResult struct {
	Data        []byte
	ContentType string
	URL         string
}

// ArtifactCache is an optional byte cache in front of the StorageAdapter.
// Stored artifacts are content addressed and never change, so entries need
// no invalidation.
type ArtifactCache interface {
	Get(ctx context.Context, path string) ([]byte, bool)
	Set(ctx context.Context, path string, data []byte)
}

// MetricsCollector receives performance observations from the pipeline and
// the resolver.
type MetricsCollector interface {
	RecordProcessingTime(stepName string, d interface{ Seconds() float64 })
	RecordThroughput(bytes int64)
	// RecordMemory observes the size of one decoded pixel buffer.
	RecordMemory(bytes int64)
	RecordError(stepName string, category string)
	RecordResolution(source string)
	RecordSync(outcome string)
}

// Logger is a minimal structured logging interface.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// Registry maps Format values to Decoder/Encoder implementations.
type Registry interface {
	DecoderFor(format Format) (Decoder, bool)
	EncoderFor(format Format) (Encoder, bool)
	RegisterDecoder(format Format, d Decoder)
	RegisterEncoder(format Format, e Encoder)
}

// Clock supplies the current time.  Production code uses SystemClock; tests
// pin it.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Debug(string, ...interface{}) {}
func (NopLogger) Info(string, ...interface{})  {}
func (NopLogger) Warn(string, ...interface{})  {}
func (NopLogger) Error(string, ...interface{}) {}
