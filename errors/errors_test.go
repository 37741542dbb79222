package errors_test

import (
	"fmt"
	"testing"

	apperrors "github.com/Skryldev/grsync/errors"
)

func TestWrapNil(t *testing.T) {
	if err := apperrors.Wrap(apperrors.CategoryStorage, "op", nil); err != nil {
		t.Errorf("Wrap(nil) = %v", err)
	}
}

func TestWrapPreservesSentinel(t *testing.T) {
	err := apperrors.Wrap(apperrors.CategoryDatabase, "store.insert", apperrors.ErrAlreadyExists)

	if !apperrors.Is(err, apperrors.ErrAlreadyExists) {
		t.Error("sentinel lost")
	}
	if !apperrors.IsCategory(err, apperrors.CategoryDatabase) || apperrors.IsCategory(err, apperrors.CategoryFetch) {
		t.Errorf("category = %q", apperrors.CategoryOf(err))
	}
	if got, want := err.Error(), "[database] store.insert: already exists"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestCategoryOfPlainError(t *testing.T) {
	if c := apperrors.CategoryOf(fmt.Errorf("plain")); c != "" {
		t.Errorf("CategoryOf(plain) = %q", c)
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"transient", apperrors.Transient("s3.put", fmt.Errorf("timeout")), true},
		{"wrapped transient", fmt.Errorf("outer: %w", apperrors.Transient("s3.get", fmt.Errorf("reset"))), true},
		{"permanent", apperrors.New(apperrors.CategoryDecode, "png.decode", apperrors.ErrEmptyInput), false},
		{"plain", fmt.Errorf("boom"), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := apperrors.IsRetryable(tc.err); got != tc.want {
				t.Errorf("IsRetryable = %v, want %v", got, tc.want)
			}
		})
	}
}
