// Package decoder provides format-specific image decoders built on the
// standard library and golang.org/x/image.
package decoder

import (
	"context"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"

	"golang.org/x/image/webp"

	"github.com/Skryldev/grsync/core"
	apperrors "github.com/Skryldev/grsync/errors"
)

type decodeFunc func(io.Reader) (image.Image, error)

// Std decodes a single format into an image.Image pixel buffer.
type Std struct {
	format core.Format
	op     string
	decode decodeFunc
}

// NewJPEG returns a JPEG decoder.
func NewJPEG() *Std { return &Std{format: core.FormatJPEG, op: "jpeg.decode", decode: jpeg.Decode} }

// NewPNG returns a PNG decoder.
func NewPNG() *Std { return &Std{format: core.FormatPNG, op: "png.decode", decode: png.Decode} }

// NewGIF returns a GIF decoder.  Animated input yields its first frame.
func NewGIF() *Std { return &Std{format: core.FormatGIF, op: "gif.decode", decode: gif.Decode} }

// NewWebP returns a WebP decoder.  golang.org/x/image/webp handles lossy and
// lossless still images but not animation.
func NewWebP() *Std { return &Std{format: core.FormatWebP, op: "webp.decode", decode: webp.Decode} }

// Format reports the format this decoder handles.
func (d *Std) Format() core.Format { return d.format }

func (d *Std) CanDecode(format core.Format) bool {
	return format == d.format
}

func (d *Std) Decode(ctx context.Context, r io.Reader) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, d.op, err)
	}

	img, err := d.decode(r)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, d.op, err)
	}

	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, apperrors.New(apperrors.CategoryDecode, d.op, apperrors.ErrInvalidDimensions)
	}
	meta := core.Metadata{
		Width:      bounds.Dx(),
		Height:     bounds.Dy(),
		Format:     d.format,
		ColorSpace: colorSpace(img),
		HasAlpha:   hasAlpha(img),
	}

	return &core.ImageData{
		Image:  img,
		Format: d.format,
		Meta:   meta,
	}, nil
}

// All returns one decoder per supported format, keyed by format.
func All() map[core.Format]core.Decoder {
	out := make(map[core.Format]core.Decoder, 4)
	for _, d := range []*Std{NewJPEG(), NewPNG(), NewGIF(), NewWebP()} {
		out[d.format] = d
	}
	return out
}

// colorSpace returns the colour space of an image.Image.
func colorSpace(img image.Image) core.ColorSpace {
	switch img.(type) {
	case *image.Gray, *image.Gray16:
		return core.ColorSpaceGray
	case *image.RGBA, *image.NRGBA, *image.RGBA64, *image.NRGBA64:
		return core.ColorSpaceRGBA
	case *image.CMYK:
		return core.ColorSpaceCMYK
	}
	return core.ColorSpaceRGB
}

func hasAlpha(img image.Image) bool {
	switch img.(type) {
	case *image.RGBA, *image.NRGBA, *image.RGBA64, *image.NRGBA64, *image.Paletted:
		return true
	}
	return false
}
