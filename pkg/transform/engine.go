// Package transform turns a source image into sized derivatives. Every
// operation is pure: the same bytes and options always encode to the same
// output, and nothing is written to disk.
package transform

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"time"

	"github.com/disintegration/imaging"

	"pictor/internal/apperr"
)

type Mode string

const (
	// ModeCrop scales and crops to exactly fill the target ("cover").
	ModeCrop Mode = "crop"
	// ModeResize shrinks preserving aspect ratio and never upscales.
	ModeResize Mode = "resize"
	// ModeFit scales preserving aspect ratio and letterboxes onto a canvas
	// of exactly the target size.
	ModeFit Mode = "fit"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeCrop, ModeResize, ModeFit:
		return m, nil
	case "":
		return ModeCrop, nil
	}
	return "", fmt.Errorf("unknown fit mode %q (want crop, resize or fit)", s)
}

// Options describes one derivative. A zero Width or Height means the axis
// is unspecified, which only resize accepts.
type Options struct {
	Name   string
	Width  int
	Height int
	Mode   Mode
	// Fill colours the fit letterbox. Nil is transparent, or white for
	// JPEG sources.
	Fill   color.Color
}

type Engine struct {
	Quality int
}

func New(quality int) *Engine {
	if quality < 1 || quality > 100 {
		quality = 85
	}
	return &Engine{Quality: quality}
}

// Timeout returns the deadline for transforming a source of size bytes.
func Timeout(base, perMB time.Duration, size int64) time.Duration {
	const mb = 1 << 20
	return base + time.Duration(float64(perMB)*float64(size)/mb)
}

// Transform decodes src and renders one derivative in the source format.
func (e *Engine) Transform(ctx context.Context, src []byte, opts Options) ([]byte, error) {
	if err := Validate(opts); err != nil {
		return nil, err
	}
	return run(ctx, opts.Name, func() ([]byte, error) {
		source, err := Decode(src)
		if err != nil {
			return nil, apperr.UnsupportedFormat(err)
		}
		return e.render(source, opts)
	})
}

// Render produces one derivative of an already decoded source.
func (e *Engine) Render(ctx context.Context, src *Source, opts Options) ([]byte, error) {
	if err := Validate(opts); err != nil {
		return nil, err
	}
	return run(ctx, opts.Name, func() ([]byte, error) {
		return e.render(src, opts)
	})
}

// Decode parses data under the deadline of ctx. name labels the timeout.
func (e *Engine) Decode(ctx context.Context, data []byte, name string) (*Source, error) {
	return run(ctx, name, func() (*Source, error) {
		src, err := Decode(data)
		if err != nil {
			return nil, apperr.UnsupportedFormat(err)
		}
		return src, nil
	})
}

// Downscale shrinks src by 1/factor on both axes, rounding each dimension.
func (e *Engine) Downscale(ctx context.Context, src *Source, factor int, name string) ([]byte, error) {
	if factor < 1 {
		return nil, apperr.InvalidDimensions(factor, factor, "downscale")
	}
	return run(ctx, name, func() ([]byte, error) {
		img := src.Image
		if factor > 1 {
			w := roundDiv(src.Width(), factor)
			h := roundDiv(src.Height(), factor)
			img = imaging.Resize(img, w, h, imaging.Lanczos)
		}
		return encode(img, src.Format, e.Quality)
	})
}

// Validate checks target dimensions against the mode.
func Validate(opts Options) error {
	if opts.Width < 0 || opts.Height < 0 {
		return apperr.InvalidDimensions(opts.Width, opts.Height, string(opts.Mode))
	}
	switch opts.Mode {
	case ModeCrop, ModeFit:
		if opts.Width == 0 || opts.Height == 0 {
			return apperr.InvalidDimensions(opts.Width, opts.Height, string(opts.Mode))
		}
	case ModeResize:
	default:
		return apperr.Validation("unknown fit mode %q", opts.Mode)
	}
	return nil
}

func (e *Engine) render(src *Source, opts Options) ([]byte, error) {
	if opts.Mode == ModeFit && opts.Fill == nil && src.Format == imaging.JPEG {
		opts.Fill = color.White
	}
	return encode(Apply(src.Image, opts), src.Format, e.Quality)
}

// Apply performs the geometry of opts on img. Options must be valid.
func Apply(img image.Image, opts Options) image.Image {
	switch opts.Mode {
	case ModeCrop:
		return imaging.Fill(img, opts.Width, opts.Height, imaging.Center, imaging.Lanczos)

	case ModeResize:
		w, h, ok := shrink(img.Bounds().Dx(), img.Bounds().Dy(), opts.Width, opts.Height)
		if !ok {
			return imaging.Clone(img)
		}
		return imaging.Resize(img, w, h, imaging.Lanczos)

	case ModeFit:
		sw, sh := img.Bounds().Dx(), img.Bounds().Dy()
		scale := math.Min(float64(opts.Width)/float64(sw), float64(opts.Height)/float64(sh))
		w := clamp(int(math.Round(float64(sw)*scale)), opts.Width)
		h := clamp(int(math.Round(float64(sh)*scale)), opts.Height)

		fill := opts.Fill
		if fill == nil {
			fill = color.Transparent
		}
		canvas := imaging.New(opts.Width, opts.Height, fill)
		return imaging.PasteCenter(canvas, imaging.Resize(img, w, h, imaging.Lanczos))
	}
	return img
}

// shrink returns the aspect preserving size of sw x sh bounded by tw x th,
// where a zero bound leaves the axis free. ok is false when no shrinking is
// needed.
func shrink(sw, sh, tw, th int) (w, h int, ok bool) {
	scale := 1.0
	if tw > 0 {
		scale = math.Min(scale, float64(tw)/float64(sw))
	}
	if th > 0 {
		scale = math.Min(scale, float64(th)/float64(sh))
	}
	if scale >= 1 {
		return sw, sh, false
	}

	w = int(math.Round(float64(sw) * scale))
	h = int(math.Round(float64(sh) * scale))
	if tw > 0 {
		w = clamp(w, tw)
	}
	if th > 0 {
		h = clamp(h, th)
	}
	return max(w, 1), max(h, 1), true
}

func clamp(v, limit int) int {
	if v > limit {
		return limit
	}
	if v < 1 {
		return 1
	}
	return v
}

func roundDiv(v, factor int) int {
	return max(int(math.Round(float64(v)/float64(factor))), 1)
}

// run executes fn and gives up waiting when ctx expires. The goroutine is
// left to finish on its own; its result is discarded.
func run[T any](ctx context.Context, name string, fn func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, contextError(name, err)
	}

	type result struct {
		data T
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := fn()
		done <- result{data, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			var valErr *apperr.ValidationError
			if errors.As(r.err, &valErr) {
				return zero, r.err
			}
			return zero, &apperr.TransformError{Derivative: name, Err: r.err}
		}
		return r.data, nil
	case <-ctx.Done():
		return zero, contextError(name, ctx.Err())
	}
}

func contextError(name string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.NewTimeout(name, err)
	}
	return &apperr.TransformError{Derivative: name, Err: err}
}
