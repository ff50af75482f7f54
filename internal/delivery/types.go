// Package delivery implements the outbound content pipeline: it classifies a
// byte stream by MIME type, checks it against the transport size budgets,
// and applies a lossy reduction strategy when the budget is exceeded.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Shape is the outbound content category. It determines which transport call
// and which reduction strategy apply.
type Shape string

const (
	ShapeVideo     Shape = "video"
	ShapeAnimation Shape = "animation"
	ShapePhoto     Shape = "photo"
	ShapeAudio     Shape = "audio"
	ShapeDocument  Shape = "document"
)

// Source describes an inbound byte stream of possibly unknown length.
// DeclaredSize is the transport-reported length; zero means unknown and
// triggers a bounded streaming probe.
type Source struct {
	Body         io.Reader
	Mime         string
	DeclaredSize int64
}

// Payload is the final byte buffer selected for transmission.
type Payload struct {
	Bytes []byte
	Mime  string
}

// Size returns the payload length in bytes.
func (p Payload) Size() int64 { return int64(len(p.Bytes)) }

// Outcome is a successful delivery decision: the chosen shape, the payload
// to transmit, and whether the transport may advertise it as streamable.
type Outcome struct {
	Shape      Shape
	Payload    Payload
	Streamable bool
}

// Sentinel failure reasons surfaced through Failure.
var (
	ErrEmptyPayload    = errors.New("content is empty")
	ErrOversize        = errors.New("content exceeds transport ceiling")
	ErrReductionFailed = errors.New("no reduction tier met the size budget")
)

// Failure reports an abandoned delivery attempt with the classified shape
// and the measured (or declared) size.
type Failure struct {
	Shape Shape
	Size  int64
	Err   error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("delivery failed: shape %s, %d bytes: %v", f.Shape, f.Size, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// ImageReducer recompresses an image until it fits maxBytes.
type ImageReducer interface {
	Reduce(ctx context.Context, data []byte, maxBytes int64) ([]byte, error)
}

// VideoTranscoder re-encodes a video until it fits maxBytes. formatHint is
// the container subtype of the input (e.g. "mp4", "quicktime", "gif").
type VideoTranscoder interface {
	Transcode(ctx context.Context, data []byte, formatHint string, maxBytes int64) ([]byte, error)
}

// ClassifyMime maps a declared MIME type to a transmission shape. Animated
// GIF transport is animation, not a still image; unknown or missing types
// fall back to the generic document shape.
func ClassifyMime(mime string) Shape {
	mime = NormalizeMime(mime)
	switch {
	case mime == "image/gif":
		return ShapeAnimation
	case strings.HasPrefix(mime, "video/"):
		return ShapeVideo
	case strings.HasPrefix(mime, "image/"):
		return ShapePhoto
	case mime == "audio/mp3" || mime == "audio/mpeg" || mime == "audio/m4a":
		return ShapeAudio
	default:
		return ShapeDocument
	}
}

// NormalizeMime lowercases a MIME type and strips parameters.
func NormalizeMime(raw string) string {
	mime := strings.ToLower(strings.TrimSpace(raw))
	if idx := strings.Index(mime, ";"); idx >= 0 {
		mime = strings.TrimSpace(mime[:idx])
	}
	return mime
}

// MimeSubtype returns the part after the slash, e.g. "quicktime" for
// "video/quicktime". Used as the transcoder input format hint.
func MimeSubtype(mime string) string {
	mime = NormalizeMime(mime)
	if idx := strings.LastIndex(mime, "/"); idx >= 0 {
		return mime[idx+1:]
	}
	return mime
}
