// Package transcode turns a provider image into the canonical stored
// encoding: decode, fit inside the avatar box, drop metadata, encode.
package transcode

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Skryldev/grsync/core"
	apperrors "github.com/Skryldev/grsync/errors"
	"github.com/Skryldev/grsync/pipeline"
)

// Options controls the canonical output.
type Options struct {
	Size          int         // bounding box edge in pixels
	Output        core.Format // canonical encoding
	Quality       int
	Lossless      bool
	MaxImageBytes int64 // 0 = no limit

	// Geometry replaces the default stdlib fit/strip steps, e.g. with the
	// libvips equivalents.  Nil selects the stdlib chain.
	Geometry []core.Step
}

// Result is a transcoded artifact.
type Result struct {
	Data     []byte
	Format   core.Format
	Width    int
	Height   int
	Duration time.Duration
	Timings  []pipeline.Timing
}

// Transcoder is safe for concurrent use.
type Transcoder struct {
	opts     Options
	pipeline *pipeline.Pipeline

	processedCount int64
	errorCount     int64
}

// New builds a Transcoder over reg.  It fails when no encoder is registered
// for the output format, so a misconfigured deployment stops at startup.
func New(reg core.Registry, opts Options, hooks ...core.Hook) (*Transcoder, error) {
	if opts.Size <= 0 {
		return nil, apperrors.New(apperrors.CategoryConfig, "transcode.new", apperrors.ErrInvalidDimensions)
	}
	if _, ok := reg.EncoderFor(opts.Output); !ok {
		err := fmt.Errorf("%w: no encoder for %s", apperrors.ErrUnsupportedFormat, opts.Output)
		if lister, ok := reg.(interface{ EncodableFormats() []core.Format }); ok {
			err = fmt.Errorf("%w (have %v)", err, lister.EncodableFormats())
		}
		return nil, apperrors.New(apperrors.CategoryConfig, "transcode.new", err)
	}

	geometry := opts.Geometry
	if geometry == nil {
		geometry = []core.Step{&pipeline.FitStep{Size: opts.Size}}
		if opts.Output == core.FormatJPEG {
			geometry = append(geometry, &pipeline.FlattenStep{})
		}
		geometry = append(geometry, &pipeline.StripEXIFStep{})
	}

	p := pipeline.New(&pipeline.DecodeStep{Registry: reg})
	p.Use(geometry...)
	p.Use(
		&pipeline.FormatStep{Format: opts.Output},
		&pipeline.EncodeStep{Registry: reg, BaseOptions: core.EncodeOptions{
			Quality:   opts.Quality,
			Lossless:  opts.Lossless,
			StripEXIF: true,
		}},
	)
	p.AddHook(hooks...)

	return &Transcoder{opts: opts, pipeline: p}, nil
}

// Transcode converts raw provider bytes into the canonical encoding.  Any
// failure (undecodable input, oversize input, encoder error) is returned as
// a decode, encode or pipeline category error.
func (t *Transcoder) Transcode(ctx context.Context, raw []byte) (*Result, error) {
	if len(raw) == 0 {
		atomic.AddInt64(&t.errorCount, 1)
		return nil, apperrors.New(apperrors.CategoryDecode, "transcode", apperrors.ErrEmptyInput)
	}
	if t.opts.MaxImageBytes > 0 && int64(len(raw)) > t.opts.MaxImageBytes {
		atomic.AddInt64(&t.errorCount, 1)
		return nil, apperrors.New(apperrors.CategoryDecode, "transcode", apperrors.ErrTooLarge)
	}

	start := time.Now()
	out, timings, err := t.pipeline.Run(ctx, &core.ImageData{
		Data:         raw,
		Format:       core.FormatUnknown,
		OriginalSize: int64(len(raw)),
	})
	if err != nil {
		atomic.AddInt64(&t.errorCount, 1)
		return nil, err
	}
	atomic.AddInt64(&t.processedCount, 1)

	return &Result{
		Data:     out.Data,
		Format:   out.Format,
		Width:    out.Meta.Width,
		Height:   out.Meta.Height,
		Duration: time.Since(start),
		Timings:  timings,
	}, nil
}

// Output returns the canonical format.
func (t *Transcoder) Output() core.Format { return t.opts.Output }

// Extension returns the file extension of stored artifacts.
func (t *Transcoder) Extension() string { return t.opts.Output.Extension() }

// Steps lists the pipeline step names in order.
func (t *Transcoder) Steps() []string { return t.pipeline.Steps() }

// Stats returns lightweight processing statistics.
func (t *Transcoder) Stats() (processed, errors int64) {
	return atomic.LoadInt64(&t.processedCount), atomic.LoadInt64(&t.errorCount)
}
