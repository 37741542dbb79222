package core

import (
	"fmt"
	"strings"

	apperrors "github.com/Skryldev/grsync/errors"
)

// IdentityLength is the length of a valid identity fingerprint.
const IdentityLength = 32

// ParseIdentity validates raw as a 32 character hexadecimal fingerprint and
// returns its lowercase form.
func ParseIdentity(raw string) (string, error) {
	if len(raw) != IdentityLength {
		return "", apperrors.New(apperrors.CategoryValidation, "identity.parse",
			fmt.Errorf("%w: got %d characters", apperrors.ErrInvalidIdentity, len(raw)))
	}
	for i := 0; i < len(raw); i++ {
		if !isHex(raw[i]) {
			return "", apperrors.New(apperrors.CategoryValidation, "identity.parse",
				fmt.Errorf("%w: invalid character %q at %d", apperrors.ErrInvalidIdentity, raw[i], i))
		}
	}
	return strings.ToLower(raw), nil
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

// Rating is the content-restrictiveness tier, 0 (most restrictive) to 3.
type Rating int

const (
	RatingG  Rating = 0
	RatingPG Rating = 1
	RatingR  Rating = 2
	RatingX  Rating = 3

	// MaxRating is the least restrictive tier.  Entries created on a cache
	// miss are stored at this tier.
	MaxRating = RatingX
)

// ratingCodes is the fixed ordered (tier, code) table shared with the
// provider's query parameter.
var ratingCodes = [...]struct {
	rating Rating
	code   string
}{
	{RatingG, "g"},
	{RatingPG, "pg"},
	{RatingR, "r"},
	{RatingX, "x"},
}

// RatingFromCode maps a short code to its tier.  Unknown or empty codes map
// to the most restrictive tier.
func RatingFromCode(code string) Rating {
	for _, rc := range ratingCodes {
		if rc.code == code {
			return rc.rating
		}
	}
	return RatingG
}

// Code returns the provider code for r, falling back to "g" for out of
// range values.
func (r Rating) Code() string {
	for _, rc := range ratingCodes {
		if rc.rating == r {
			return rc.code
		}
	}
	return "g"
}

func (r Rating) String() string { return r.Code() }

// CacheEntry is one (identity, rating) row of the avatar cache.  Empty
// strings and zero sizes mean the optional column is absent.
type CacheEntry struct {
	Identity     string
	Rating       Rating
	ContentHash  string
	ResourcePath string
	SizeHint     int
	LastSyncedAt int64 // unix seconds of the last synchronization attempt
}

// ArtifactPath returns the storage-relative path of the entry's artifact:
// the explicit override when present, else the digest with ext appended.
// It returns "" when the entry has no content.
func (e *CacheEntry) ArtifactPath(ext string) string {
	if e.ResourcePath != "" {
		return e.ResourcePath
	}
	if e.ContentHash != "" {
		return ContentPath(e.ContentHash, ext)
	}
	return ""
}

// ResourceRecord is a deduplicated, content addressed artifact.
type ResourceRecord struct {
	ContentHash  string
	ResourcePath string
	SizeHint     int
	OriginURL    string
}

// Path returns the record's storage path, deriving it from the digest when
// the record carries none.
func (r *ResourceRecord) Path(ext string) string {
	if r.ResourcePath != "" {
		return r.ResourcePath
	}
	return ContentPath(r.ContentHash, ext)
}

// ContentPath is the canonical content-addressed path for a digest.
func ContentPath(contentHash, ext string) string {
	return contentHash + "." + ext
}
