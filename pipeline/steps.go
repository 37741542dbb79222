package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"

	xdraw "golang.org/x/image/draw"

	"github.com/Skryldev/grsync/core"
	apperrors "github.com/Skryldev/grsync/errors"
	"github.com/Skryldev/grsync/utils"
)

// ── Decode ────────────────────────────────────────────────────────────────────

// DecodeStep decodes raw bytes in img.Data into a pixel buffer.  The format
// is sniffed from the bytes when the caller did not supply one, so a
// provider's Content-Type header is never trusted.
type DecodeStep struct {
	Registry core.Registry
}

func (s *DecodeStep) Name() string { return core.StepDecode }

func (s *DecodeStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	if img.Image != nil {
		return img, nil // already decoded
	}
	if len(img.Data) == 0 {
		return nil, apperrors.New(apperrors.CategoryDecode, s.Name(), apperrors.ErrEmptyInput)
	}
	format := img.Format
	if format == "" || format == core.FormatUnknown {
		format = core.Format(utils.DetectFormat(img.Data))
	}
	dec, ok := s.Registry.DecoderFor(format)
	if !ok {
		return nil, apperrors.New(apperrors.CategoryDecode, s.Name(),
			fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, format))
	}

	decoded, err := dec.Decode(ctx, bytes.NewReader(img.Data))
	if err != nil {
		return nil, err
	}

	// Preserve the raw data bytes alongside the decoded representation.
	decoded.Data = img.Data
	decoded.OriginalSize = int64(len(img.Data))
	return decoded, nil
}

// ── Fit ───────────────────────────────────────────────────────────────────────

// FitStep shrinks the image so both sides fit within Size, preserving aspect
// ratio.  Images already inside the box are returned unchanged.
type FitStep struct {
	Size int
	// Resampler controls quality vs speed.  Defaults to draw.CatmullRom.
	Resampler xdraw.Interpolator
}

func (s *FitStep) Name() string { return "fit" }

func (s *FitStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}

	src, ok := img.Image.(image.Image)
	if !ok || src == nil {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(), apperrors.ErrEmptyInput)
	}

	srcB := src.Bounds()
	dstW, dstH := utils.FitWithin(srcB.Dx(), srcB.Dy(), s.Size)
	if dstW == srcB.Dx() && dstH == srcB.Dy() {
		return img, nil // nothing to do
	}
	if dstW <= 0 || dstH <= 0 {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(), apperrors.ErrInvalidDimensions)
	}

	sampler := s.Resampler
	if sampler == nil {
		sampler = xdraw.CatmullRom
	}

	dst := image.NewNRGBA(image.Rect(0, 0, dstW, dstH))
	sampler.Scale(dst, dst.Bounds(), src, srcB, xdraw.Src, nil)

	out := *img
	out.Image = dst
	out.Meta.Width = dstW
	out.Meta.Height = dstH
	return &out, nil
}

// ── Flatten ───────────────────────────────────────────────────────────────────

// FlattenStep composites the image over an opaque background.  It runs ahead
// of encoders without an alpha channel so transparent regions do not turn
// black.  Opaque images pass through.
type FlattenStep struct {
	Background color.Color // defaults to white
}

func (s *FlattenStep) Name() string { return "flatten" }

func (s *FlattenStep) Execute(_ context.Context, img *core.ImageData) (*core.ImageData, error) {
	src, ok := img.Image.(image.Image)
	if !ok || src == nil {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(), apperrors.ErrEmptyInput)
	}
	if !img.Meta.HasAlpha {
		return img, nil
	}
	bg := s.Background
	if bg == nil {
		bg = color.White
	}

	dst := image.NewRGBA(image.Rect(0, 0, src.Bounds().Dx(), src.Bounds().Dy()))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Over)

	out := *img
	out.Image = dst
	out.Meta.HasAlpha = false
	out.Meta.ColorSpace = core.ColorSpaceRGB
	return &out, nil
}

// ── EXIF strip ────────────────────────────────────────────────────────────────

// StripEXIFStep removes EXIF metadata from the ImageData.
type StripEXIFStep struct{}

func (s *StripEXIFStep) Name() string { return "strip_exif" }

func (s *StripEXIFStep) Execute(_ context.Context, img *core.ImageData) (*core.ImageData, error) {
	out := *img
	out.Meta.EXIF = nil
	out.Meta.HasEXIF = false
	out.Meta.Orientation = 0
	return &out, nil
}

// ── Format conversion ─────────────────────────────────────────────────────────

// FormatStep sets the target format for the subsequent encode step.
type FormatStep struct {
	Format core.Format
}

func (s *FormatStep) Name() string { return "format" }

func (s *FormatStep) Execute(_ context.Context, img *core.ImageData) (*core.ImageData, error) {
	out := *img
	out.Format = s.Format
	out.Meta.Format = s.Format
	return &out, nil
}

// ── Encode ────────────────────────────────────────────────────────────────────

// EncodeStep serialises the pixel buffer into encoded bytes using the registry.
type EncodeStep struct {
	Registry    core.Registry
	BaseOptions core.EncodeOptions
}

func (s *EncodeStep) Name() string { return "encode" }

func (s *EncodeStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	enc, ok := s.Registry.EncoderFor(img.Format)
	if !ok {
		return nil, apperrors.New(apperrors.CategoryEncode, s.Name(),
			fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, img.Format))
	}

	data, err := enc.Encode(ctx, img, s.BaseOptions)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, apperrors.New(apperrors.CategoryEncode, s.Name(), apperrors.ErrEmptyInput)
	}

	out := *img
	out.Data = data
	out.Meta.SizeBytes = int64(len(data))
	return &out, nil
}
