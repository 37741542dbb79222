package vips

import (
	"context"

	govips "github.com/davidbyttow/govips/v2/vips"

	"github.com/Skryldev/grsync/core"
	apperrors "github.com/Skryldev/grsync/errors"
	"github.com/Skryldev/grsync/utils"
)

// FitStep shrinks the image with vips_resize() (Lanczos3) so both sides fit
// within Size.  Images already inside the box pass through untouched.
type FitStep struct {
	Size int
}

func (s *FitStep) Name() string { return "vips.fit" }

func (s *FitStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	vi, err := asVips(img)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	dstW, dstH := utils.FitWithin(img.Meta.Width, img.Meta.Height, s.Size)
	if dstW == img.Meta.Width && dstH == img.Meta.Height {
		return img, nil
	}
	scale := float64(dstW) / float64(img.Meta.Width)
	if err := vi.ref.Resize(scale, govips.KernelLanczos3); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	out := *img
	out.Image = vi
	out.Meta.Width = vi.ref.Width()
	out.Meta.Height = vi.ref.Height()
	return &out, nil
}

// StripEXIFStep removes all EXIF/XMP/IPTC metadata in-place.
type StripEXIFStep struct{}

func (s *StripEXIFStep) Name() string { return "vips.strip_exif" }

func (s *StripEXIFStep) Execute(_ context.Context, img *core.ImageData) (*core.ImageData, error) {
	if vi, ok := img.Image.(*VipsImage); ok && vi != nil {
		if err := vi.ref.RemoveMetadata(); err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
		}
	}
	out := *img
	out.Meta.EXIF = nil
	out.Meta.HasEXIF = false
	out.Meta.Orientation = 0
	return &out, nil
}

// AutoRotateStep applies the EXIF orientation tag so stripping metadata
// does not leave the avatar sideways.
type AutoRotateStep struct{}

func (s *AutoRotateStep) Name() string { return "vips.auto_rotate" }

func (s *AutoRotateStep) Execute(_ context.Context, img *core.ImageData) (*core.ImageData, error) {
	vi, ok := img.Image.(*VipsImage)
	if !ok || vi == nil {
		return img, nil
	}
	if err := vi.ref.AutoRotate(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	out := *img
	out.Meta.Width = vi.ref.Width()
	out.Meta.Height = vi.ref.Height()
	out.Meta.Orientation = 0
	return &out, nil
}

var (
	_ core.Step = (*FitStep)(nil)
	_ core.Step = (*StripEXIFStep)(nil)
	_ core.Step = (*AutoRotateStep)(nil)
)
