package utils

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"testing"

	apperrors "github.com/Skryldev/grsync/errors"
)

func tinyPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func tinyGIF(t *testing.T) []byte {
	t.Helper()
	img := image.NewPaletted(image.Rect(0, 0, 2, 2), color.Palette{color.Black, color.White})
	var buf bytes.Buffer
	if err := gif.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode gif: %v", err)
	}
	return buf.Bytes()
}

// ── Format sniffing ───────────────────────────────────────────────────────────

func TestDetectFormat(t *testing.T) {
	avif := append([]byte{0, 0, 0, 0x1c}, []byte("ftypavif\x00\x00\x00\x00mif1")...)
	tests := []struct {
		name string
		data []byte
		want string
		ct   string
	}{
		{"png", tinyPNG(t), "png", "image/png"},
		{"gif", tinyGIF(t), "gif", "image/gif"},
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0, 0, 0x10}, "jpeg", "image/jpeg"},
		{"webp", []byte("RIFF\x00\x00\x00\x00WEBPVP8 "), "webp", "image/webp"},
		{"avif", avif, "avif", "image/avif"},
		{"short", []byte{0x89}, "unknown", "application/octet-stream"},
		{"text", []byte("hello there, not an image"), "unknown", "application/octet-stream"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := DetectFormat(tc.data); got != tc.want {
				t.Errorf("DetectFormat = %q, want %q", got, tc.want)
			}
			if got := ContentType(tc.data); got != tc.ct {
				t.Errorf("ContentType = %q, want %q", got, tc.ct)
			}
		})
	}
}

// ── Geometry ──────────────────────────────────────────────────────────────────

func TestScaleDimensions(t *testing.T) {
	tests := []struct {
		srcW, srcH, targetW, targetH int
		wantW, wantH                 int
	}{
		{800, 600, 400, 0, 400, 300},
		{800, 600, 0, 300, 400, 300},
		{800, 600, 200, 200, 200, 200},
		{800, 600, 0, 0, 800, 600},
		{1000, 1, 10, 0, 10, 1},
	}
	for _, tc := range tests {
		gotW, gotH := ScaleDimensions(tc.srcW, tc.srcH, tc.targetW, tc.targetH)
		if gotW != tc.wantW || gotH != tc.wantH {
			t.Errorf("ScaleDimensions(%d,%d,%d,%d) = %d,%d; want %d,%d",
				tc.srcW, tc.srcH, tc.targetW, tc.targetH, gotW, gotH, tc.wantW, tc.wantH)
		}
	}
}

func TestFitWithin(t *testing.T) {
	tests := []struct {
		srcW, srcH, bound int
		wantW, wantH      int
	}{
		{2048, 2048, 512, 512, 512},
		{1024, 512, 512, 512, 256},
		{300, 900, 512, 170, 512},
		{80, 80, 512, 80, 80},
		{800, 600, 0, 800, 600},
	}
	for _, tc := range tests {
		gotW, gotH := FitWithin(tc.srcW, tc.srcH, tc.bound)
		if gotW != tc.wantW || gotH != tc.wantH {
			t.Errorf("FitWithin(%d,%d,%d) = %d,%d; want %d,%d",
				tc.srcW, tc.srcH, tc.bound, gotW, gotH, tc.wantW, tc.wantH)
		}
	}
}

// ── Streaming ─────────────────────────────────────────────────────────────────

func TestLimitedReader(t *testing.T) {
	payload := bytes.Repeat([]byte{'a'}, 100)

	got, err := ReadAll(context.Background(), &LimitedReader{R: bytes.NewReader(payload), Max: 100})
	if err != nil {
		t.Fatalf("exact size: %v", err)
	}
	if len(got) != 100 {
		t.Errorf("exact size: read %d bytes, want 100", len(got))
	}

	_, err = ReadAll(context.Background(), &LimitedReader{R: bytes.NewReader(payload), Max: 99})
	if !errors.Is(err, apperrors.ErrTooLarge) {
		t.Errorf("over limit: got %v, want ErrTooLarge", err)
	}

	got, err = ReadAll(context.Background(), &LimitedReader{R: bytes.NewReader(payload)})
	if err != nil || len(got) != 100 {
		t.Errorf("unlimited: got %d bytes, err %v", len(got), err)
	}
}

func TestReadAll_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := ReadAll(ctx, bytes.NewReader([]byte("x"))); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}
