// Package imaging recompresses images to fit a byte budget via an iterative
// downscale search.
package imaging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"

	"golang.org/x/image/draw"

	// Codecs the reducer accepts as input.
	_ "image/gif"
	_ "image/png"
)

// Search tuning. Each step shrinks pixel area by one third; the reference
// dimension picks a starting scale for very large inputs.
const (
	shrinkStep         = 0.81649658092 // sqrt(2/3)
	referenceDimension = 10000
	minScale           = 0.001
)

// ErrCannotFit is returned when the downscale search exhausts without
// producing an encoding within the byte budget.
var ErrCannotFit = errors.New("image cannot be reduced to fit the budget")

// Reducer recompresses images as JPEG at a fixed quality, shrinking
// resolution until the output fits the requested byte budget.
type Reducer struct {
	quality int
	logger  *slog.Logger
}

// NewReducer creates a reducer encoding at the given JPEG quality (1-100).
func NewReducer(log *slog.Logger, quality int) *Reducer {
	if log == nil {
		log = slog.Default()
	}
	if quality < 1 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	return &Reducer{
		quality: quality,
		logger:  log.With(slog.String("service", "imaging")),
	}
}

// Reduce returns an encoding of data no larger than maxBytes. Input that
// already fits is returned unchanged, never re-encoded. The input slice is
// not mutated; aspect ratio is preserved on every resize.
func (r *Reducer) Reduce(ctx context.Context, data []byte, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		return nil, fmt.Errorf("max bytes must be positive")
	}
	if int64(len(data)) <= maxBytes {
		return data, nil
	}

	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	bounds := src.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("degenerate image dimensions %dx%d", width, height)
	}

	// The reference dimension picks the starting scale for very large inputs;
	// upscaling can never shrink the encoding, so the scale is capped at 1.
	scale := 1.0
	if longer := max(width, height); longer > referenceDimension {
		scale = referenceDimension / float64(longer)
	}

	pixels := width * height
	attempts := 0
	for scale > minScale && pixels > 1 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		newWidth := int(float64(width) * scale)
		newHeight := int(float64(height) * scale)
		if newWidth < 1 || newHeight < 1 {
			break
		}
		encoded, err := r.encodeScaled(src, newWidth, newHeight)
		if err != nil {
			return nil, err
		}
		attempts++
		if int64(len(encoded)) <= maxBytes {
			r.logger.Debug("image reduced",
				slog.String("format", format),
				slog.Int("attempts", attempts),
				slog.Int("width", newWidth),
				slog.Int("height", newHeight),
				slog.Int("bytes", len(encoded)))
			return encoded, nil
		}
		scale *= shrinkStep
		pixels = newWidth * newHeight
	}
	return nil, fmt.Errorf("%w: %d attempts", ErrCannotFit, attempts)
}

func (r *Reducer) encodeScaled(src image.Image, width, height int) ([]byte, error) {
	scaled := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), src, src.Bounds(), draw.Src, nil)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: r.quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
