package transcode_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"strings"
	"sync"
	"testing"

	"github.com/Skryldev/grsync/adapters/decoder"
	"github.com/Skryldev/grsync/adapters/encoder"
	"github.com/Skryldev/grsync/core"
	apperrors "github.com/Skryldev/grsync/errors"
	"github.com/Skryldev/grsync/hooks"
	"github.com/Skryldev/grsync/transcode"
	"github.com/Skryldev/grsync/utils"
)

// ── Test helpers ──────────────────────────────────────────────────────────────

func newRedJPEG(t testing.TB, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 50, B: 50, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode test jpeg: %v", err)
	}
	return buf.Bytes()
}

func newBlueGIF(t testing.TB, w, h int) []byte {
	t.Helper()
	img := image.NewPaletted(image.Rect(0, 0, w, h), color.Palette{color.RGBA{B: 200, A: 255}})
	var buf bytes.Buffer
	if err := gif.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode test gif: %v", err)
	}
	return buf.Bytes()
}

// newHalfTransparentPNG is transparent on the left half and opaque red on
// the right.
func newHalfTransparentPNG(t testing.TB, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := w / 2; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: 220, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode test png: %v", err)
	}
	return buf.Bytes()
}

func newRegistry() *core.DefaultRegistry {
	reg := core.NewRegistry()
	for f, d := range decoder.All() {
		reg.RegisterDecoder(f, d)
	}
	reg.RegisterEncoder(core.FormatPNG, encoder.NewPNG())
	reg.RegisterEncoder(core.FormatJPEG, encoder.NewJPEG(85))
	return reg
}

func newTranscoder(t testing.TB, out core.Format, h ...core.Hook) *transcode.Transcoder {
	t.Helper()
	tr, err := transcode.New(newRegistry(), transcode.Options{Size: 512, Output: out, Quality: 80, MaxImageBytes: 1 << 20}, h...)
	if err != nil {
		t.Fatalf("transcode.New: %v", err)
	}
	return tr
}

// ── Unit tests ────────────────────────────────────────────────────────────────

func TestTranscode_JPEGToPNG(t *testing.T) {
	tr := newTranscoder(t, core.FormatPNG)
	res, err := tr.Transcode(context.Background(), newRedJPEG(t, 1024, 1024))
	if err != nil {
		t.Fatalf("Transcode: %v", err)
	}
	if res.Width != 512 || res.Height != 512 {
		t.Errorf("dimensions %dx%d, want 512x512", res.Width, res.Height)
	}
	if got := utils.DetectFormat(res.Data); got != "png" {
		t.Errorf("output sniffs as %s, want png", got)
	}
	if tr.Extension() != "png" {
		t.Errorf("Extension() = %s", tr.Extension())
	}
}

func TestTranscode_GIFToJPEG(t *testing.T) {
	tr := newTranscoder(t, core.FormatJPEG)
	res, err := tr.Transcode(context.Background(), newBlueGIF(t, 64, 64))
	if err != nil {
		t.Fatalf("Transcode: %v", err)
	}
	if res.Width != 64 {
		t.Errorf("small image resized to %d", res.Width)
	}
	if got := utils.DetectFormat(res.Data); got != "jpeg" {
		t.Errorf("output sniffs as %s, want jpeg", got)
	}
	if tr.Extension() != "jpg" {
		t.Errorf("Extension() = %s", tr.Extension())
	}
}

func TestTranscode_TransparentPNGToJPEG(t *testing.T) {
	tr := newTranscoder(t, core.FormatJPEG)
	res, err := tr.Transcode(context.Background(), newHalfTransparentPNG(t, 64, 64))
	if err != nil {
		t.Fatalf("Transcode: %v", err)
	}
	out, err := jpeg.Decode(bytes.NewReader(res.Data))
	if err != nil {
		t.Fatalf("output is not a jpeg: %v", err)
	}
	r, g, b, _ := out.At(4, 32).RGBA()
	if r>>8 < 240 || g>>8 < 240 || b>>8 < 240 {
		t.Errorf("transparent region = (%d,%d,%d), want white", r>>8, g>>8, b>>8)
	}
	r, g, b, _ = out.At(60, 32).RGBA()
	if r>>8 < 180 || g>>8 > 60 || b>>8 > 60 {
		t.Errorf("opaque region = (%d,%d,%d), want red", r>>8, g>>8, b>>8)
	}
}

func TestTranscode_Deterministic(t *testing.T) {
	tr := newTranscoder(t, core.FormatPNG)
	raw := newRedJPEG(t, 300, 300)
	a, err := tr.Transcode(context.Background(), raw)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	b, err := tr.Transcode(context.Background(), raw)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if !bytes.Equal(a.Data, b.Data) {
		t.Error("identical input produced different output bytes")
	}
}

func TestTranscode_Failures(t *testing.T) {
	tr := newTranscoder(t, core.FormatPNG)
	tests := []struct {
		name string
		raw  []byte
		want error
	}{
		{"empty", nil, apperrors.ErrEmptyInput},
		{"garbage", []byte("<html>not found</html>"), apperrors.ErrUnsupportedFormat},
		{"too large", bytes.Repeat([]byte{0xFF}, 2<<20), apperrors.ErrTooLarge},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tr.Transcode(context.Background(), tc.raw)
			if !errors.Is(err, tc.want) {
				t.Errorf("got %v, want %v", err, tc.want)
			}
		})
	}
	if _, errs := tr.Stats(); errs != int64(len(tests)) {
		t.Errorf("error count = %d, want %d", errs, len(tests))
	}
}

func TestTranscode_TruncatedImage(t *testing.T) {
	tr := newTranscoder(t, core.FormatPNG)
	raw := newRedJPEG(t, 100, 100)
	_, err := tr.Transcode(context.Background(), raw[:len(raw)/3])
	if !apperrors.IsCategory(err, apperrors.CategoryDecode) {
		t.Errorf("got %v, want decode error", err)
	}
}

func TestNew_UnregisteredOutput(t *testing.T) {
	_, err := transcode.New(newRegistry(), transcode.Options{Size: 512, Output: core.FormatAVIF})
	if !errors.Is(err, apperrors.ErrUnsupportedFormat) {
		t.Errorf("got %v, want ErrUnsupportedFormat", err)
	}
	if err != nil && !strings.Contains(err.Error(), "[jpeg png]") {
		t.Errorf("error %q does not list the available encoders", err)
	}
}

func TestTranscode_Hooks(t *testing.T) {
	m := hooks.NewInMemoryMetrics()
	tr := newTranscoder(t, core.FormatPNG, hooks.NewMetricsHook(m))
	if _, err := tr.Transcode(context.Background(), newRedJPEG(t, 600, 600)); err != nil {
		t.Fatalf("Transcode: %v", err)
	}
	snap := m.Snapshot()
	for _, step := range tr.Steps() {
		if snap.StepCalls[step] == 0 {
			t.Errorf("step %s was not recorded in metrics", step)
		}
	}
	if want := int64(600 * 600 * 4); snap.TotalDecodedB != want {
		t.Errorf("decoded bytes = %d, want %d", snap.TotalDecodedB, want)
	}
}

// ── Concurrency tests ─────────────────────────────────────────────────────────

func TestTranscode_ConcurrentSafety(t *testing.T) {
	tr := newTranscoder(t, core.FormatPNG)
	raw := newRedJPEG(t, 200, 200)

	const goroutines = 20
	var wg sync.WaitGroup
	errs := make([]error, goroutines)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, errs[idx] = tr.Transcode(context.Background(), raw)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("goroutine %d: %v", i, err)
		}
	}
	if processed, _ := tr.Stats(); processed != goroutines {
		t.Errorf("processed = %d, want %d", processed, goroutines)
	}
}

// ── Benchmarks ────────────────────────────────────────────────────────────────

func BenchmarkTranscode_Stdlib_2048(b *testing.B) {
	tr := newTranscoder(b, core.FormatPNG)
	raw := newRedJPEG(b, 2048, 2048)
	b.ReportAllocs()
	b.SetBytes(int64(len(raw)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := tr.Transcode(context.Background(), raw); err != nil {
			b.Fatal(err)
		}
	}
}
