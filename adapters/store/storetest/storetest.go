// Package storetest holds the behavioural suite every core.CacheStore
// implementation runs from its own tests.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skryldev/grsync/core"
	apperrors "github.com/Skryldev/grsync/errors"
)

// Factory returns a fresh, empty store.  The suite closes it.
type Factory func(t *testing.T) core.CacheStore

const (
	identityA = "0123456789abcdef0123456789abcdef"
	identityB = "fedcba9876543210fedcba9876543210"
	hashA     = "3f1b2c0e9d8a7b6c5d4e3f2a1b0c9d8e7f6a5b4c3d2e1f0a9b8c7d6e5f4a3b2c"
)

// Run executes every subtest against stores produced by open.
func Run(t *testing.T, open Factory) {
	t.Run("LookupMissing", func(t *testing.T) { testLookupMissing(t, open) })
	t.Run("InsertAndLookup", func(t *testing.T) { testInsertAndLookup(t, open) })
	t.Run("DuplicateEntry", func(t *testing.T) { testDuplicateEntry(t, open) })
	t.Run("CeilingSelection", func(t *testing.T) { testCeilingSelection(t, open) })
	t.Run("TouchAndLink", func(t *testing.T) { testTouchAndLink(t, open) })
	t.Run("Resources", func(t *testing.T) { testResources(t, open) })
	t.Run("ConcurrentInsert", func(t *testing.T) { testConcurrentInsert(t, open) })
}

func newStore(t *testing.T, open Factory) core.CacheStore {
	t.Helper()
	s := open(t)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testLookupMissing(t *testing.T, open Factory) {
	s := newStore(t, open)
	_, err := s.LookupEntry(context.Background(), identityA, core.MaxRating)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound), "got %v", err)
}

func testInsertAndLookup(t *testing.T, open Factory) {
	ctx := context.Background()
	s := newStore(t, open)

	require.NoError(t, s.InsertEntry(ctx, identityA, core.RatingX))

	entry, err := s.LookupEntry(ctx, identityA, core.RatingX)
	require.NoError(t, err)
	assert.Equal(t, identityA, entry.Identity)
	assert.Equal(t, core.RatingX, entry.Rating)
	assert.Empty(t, entry.ContentHash)
	assert.Empty(t, entry.ResourcePath)
	assert.Zero(t, entry.SizeHint)
	assert.Zero(t, entry.LastSyncedAt)

	_, err = s.LookupEntry(ctx, identityB, core.RatingX)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

func testDuplicateEntry(t *testing.T, open Factory) {
	ctx := context.Background()
	s := newStore(t, open)

	require.NoError(t, s.InsertEntry(ctx, identityA, core.RatingX))
	err := s.InsertEntry(ctx, identityA, core.RatingX)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrAlreadyExists), "got %v", err)

	// Same identity at another tier is a distinct key.
	assert.NoError(t, s.InsertEntry(ctx, identityA, core.RatingG))
}

func testCeilingSelection(t *testing.T, open Factory) {
	ctx := context.Background()
	s := newStore(t, open)

	require.NoError(t, s.InsertEntry(ctx, identityA, core.RatingG))
	require.NoError(t, s.InsertEntry(ctx, identityA, core.RatingR))

	tests := []struct {
		ceiling core.Rating
		want    core.Rating
	}{
		{core.RatingG, core.RatingG},
		{core.RatingPG, core.RatingG},
		{core.RatingR, core.RatingR},
		{core.RatingX, core.RatingR},
	}
	for _, tc := range tests {
		t.Run(tc.ceiling.String(), func(t *testing.T) {
			entry, err := s.LookupEntry(ctx, identityA, tc.ceiling)
			require.NoError(t, err)
			assert.Equal(t, tc.want, entry.Rating)
		})
	}
}

func testTouchAndLink(t *testing.T, open Factory) {
	ctx := context.Background()
	s := newStore(t, open)
	at := time.Unix(1_700_000_000, 0)

	require.NoError(t, s.InsertEntry(ctx, identityA, core.RatingX))
	require.NoError(t, s.TouchEntry(ctx, identityA, core.RatingX, at))
	require.NoError(t, s.LinkEntry(ctx, identityA, core.RatingX, hashA, 512))

	entry, err := s.LookupEntry(ctx, identityA, core.RatingX)
	require.NoError(t, err)
	assert.Equal(t, at.Unix(), entry.LastSyncedAt)
	assert.Equal(t, hashA, entry.ContentHash)
	assert.Empty(t, entry.ResourcePath)
	assert.Equal(t, 512, entry.SizeHint)

	// Touching a row that does not exist is not an error.
	assert.NoError(t, s.TouchEntry(ctx, identityB, core.RatingX, at))
}

func testResources(t *testing.T, open Factory) {
	ctx := context.Background()
	s := newStore(t, open)

	_, err := s.LookupResource(ctx, hashA)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound), "got %v", err)

	rec := core.ResourceRecord{
		ContentHash:  hashA,
		ResourcePath: hashA + ".avif",
		SizeHint:     512,
		OriginURL:    "https://gravatar.com/avatar/" + identityA + "?r=g&s=512&d=404",
	}
	require.NoError(t, s.InsertResource(ctx, rec))

	got, err := s.LookupResource(ctx, hashA)
	require.NoError(t, err)
	assert.Equal(t, rec, *got)

	err = s.InsertResource(ctx, rec)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrAlreadyExists), "got %v", err)
}

func testConcurrentInsert(t *testing.T, open Factory) {
	ctx := context.Background()
	s := newStore(t, open)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		failures  []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.InsertEntry(ctx, identityB, core.RatingX)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case apperrors.Is(err, apperrors.ErrAlreadyExists):
			default:
				failures = append(failures, err)
			}
		}()
	}
	wg.Wait()

	assert.Empty(t, failures, fmt.Sprint(failures))
	assert.Equal(t, 1, succeeded)
}
