package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/sync/semaphore"
)

// Pipeline orchestrates one outbound delivery attempt: length probe, shape
// classification, budget check, and shape-appropriate reduction. Transcode
// work is gated through a bounded semaphore so concurrent deliveries cannot
// saturate the encoder.
type Pipeline struct {
	thresholds Thresholds
	images     ImageReducer
	videos     VideoTranscoder
	encodeSem  *semaphore.Weighted
	logger     *slog.Logger
}

// NewPipeline creates a delivery pipeline. workers caps concurrent
// transcoder invocations.
func NewPipeline(log *slog.Logger, thresholds Thresholds, images ImageReducer, videos VideoTranscoder, workers int) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	if workers <= 0 {
		workers = 1
	}
	return &Pipeline{
		thresholds: thresholds,
		images:     images,
		videos:     videos,
		encodeSem:  semaphore.NewWeighted(int64(workers)),
		logger:     log.With(slog.String("service", "delivery")),
	}
}

// Deliver takes a source stream and returns the payload and shape to
// transmit, or a *Failure describing why the attempt was abandoned. The
// input bytes are never mutated; a reduced delivery carries a fresh buffer.
func (p *Pipeline) Deliver(ctx context.Context, src Source) (Outcome, error) {
	shape := ClassifyMime(src.Mime)

	if src.DeclaredSize > p.thresholds.HardMaxBytes && !Reducible(shape) {
		return Outcome{}, &Failure{Shape: shape, Size: src.DeclaredSize, Err: ErrOversize}
	}

	// Streams of unknown length are probed up to the hard ceiling plus one
	// byte; crossing it aborts the read. A declared size above the ceiling
	// raises the read bound only for reducible shapes, which need the full
	// input to re-encode.
	readCeiling := p.thresholds.HardMaxBytes
	if Reducible(shape) && src.DeclaredSize > readCeiling {
		readCeiling = src.DeclaredSize
	}
	data, err := readBounded(src.Body, readCeiling)
	if err != nil {
		if err == errProbeExceeded {
			return Outcome{}, &Failure{Shape: shape, Size: readCeiling + 1, Err: ErrOversize}
		}
		return Outcome{}, fmt.Errorf("read source: %w", err)
	}
	size := int64(len(data))
	if size == 0 {
		return Outcome{}, &Failure{Shape: shape, Size: 0, Err: ErrEmptyPayload}
	}

	switch p.thresholds.Classify(shape, size) {
	case VerdictPass:
		return Outcome{
			Shape:      shape,
			Payload:    Payload{Bytes: data, Mime: NormalizeMime(src.Mime)},
			Streamable: shape == ShapeVideo,
		}, nil
	case VerdictReject:
		return Outcome{}, &Failure{Shape: shape, Size: size, Err: ErrOversize}
	}

	reduced, err := p.reduce(ctx, shape, data, src.Mime)
	if err == nil {
		return reduced, nil
	}
	p.logger.Warn("reduction failed",
		slog.String("shape", string(shape)),
		slog.Int64("size", size),
		slog.Any("error", err))

	// Generic document transport needs no size fit beyond the hard ceiling;
	// content that exceeds it with no successful reduction cannot go out.
	if size <= p.thresholds.HardMaxBytes {
		return Outcome{
			Shape:   ShapeDocument,
			Payload: Payload{Bytes: data, Mime: NormalizeMime(src.Mime)},
		}, nil
	}
	return Outcome{}, &Failure{Shape: shape, Size: size, Err: ErrReductionFailed}
}

func (p *Pipeline) reduce(ctx context.Context, shape Shape, data []byte, mime string) (Outcome, error) {
	switch shape {
	case ShapePhoto:
		if p.images == nil {
			return Outcome{}, fmt.Errorf("image reducer not configured")
		}
		reduced, err := p.images.Reduce(ctx, data, p.thresholds.PhotoMaxBytes)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{
			Shape:   ShapePhoto,
			Payload: Payload{Bytes: reduced, Mime: "image/jpeg"},
		}, nil
	case ShapeVideo, ShapeAnimation:
		if p.videos == nil {
			return Outcome{}, fmt.Errorf("video transcoder not configured")
		}
		if err := p.encodeSem.Acquire(ctx, 1); err != nil {
			return Outcome{}, fmt.Errorf("acquire encode slot: %w", err)
		}
		defer p.encodeSem.Release(1)
		reduced, err := p.videos.Transcode(ctx, data, MimeSubtype(mime), p.thresholds.HardMaxBytes)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{
			Shape:      shape,
			Payload:    Payload{Bytes: reduced, Mime: "video/mp4"},
			Streamable: shape == ShapeVideo,
		}, nil
	default:
		return Outcome{}, fmt.Errorf("shape %s has no reduction strategy", shape)
	}
}

var errProbeExceeded = fmt.Errorf("stream exceeds read ceiling")

// readBounded buffers at most max bytes from r, failing once max is crossed
// instead of buffering an unbounded stream.
func readBounded(r io.Reader, max int64) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("source body is required")
	}
	limited := &io.LimitedReader{R: r, N: max + 1}
	var buf bytes.Buffer
	n, err := buf.ReadFrom(limited)
	if err != nil {
		return nil, err
	}
	if n > max {
		return nil, errProbeExceeded
	}
	return buf.Bytes(), nil
}
