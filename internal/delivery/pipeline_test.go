package delivery

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
)

type stubReducer struct {
	output []byte
	err    error
	calls  int
}

func (s *stubReducer) Reduce(_ context.Context, _ []byte, _ int64) ([]byte, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.output, nil
}

type stubTranscoder struct {
	output []byte
	err    error
	calls  int
	hints  []string
}

func (s *stubTranscoder) Transcode(_ context.Context, _ []byte, hint string, _ int64) ([]byte, error) {
	s.calls++
	s.hints = append(s.hints, hint)
	if s.err != nil {
		return nil, s.err
	}
	return s.output, nil
}

func testThresholds() Thresholds {
	return Thresholds{HardMaxBytes: 50_000_000, PhotoMaxBytes: 10_000_000}
}

func payloadOf(size int) []byte {
	return bytes.Repeat([]byte{0xAB}, size)
}

func newTestPipeline(images ImageReducer, videos VideoTranscoder) *Pipeline {
	return NewPipeline(nil, testThresholds(), images, videos, 2)
}

func TestDeliverPassUnchanged(t *testing.T) {
	t.Parallel()

	transcoder := &stubTranscoder{}
	pipeline := newTestPipeline(&stubReducer{}, transcoder)
	data := payloadOf(1024)

	for _, mime := range []string{"video/mp4", "image/gif", "audio/mp3", "application/zip"} {
		outcome, err := pipeline.Deliver(context.Background(), Source{
			Body:         bytes.NewReader(data),
			Mime:         mime,
			DeclaredSize: int64(len(data)),
		})
		if err != nil {
			t.Fatalf("mime %s: expected no error, got %v", mime, err)
		}
		if !bytes.Equal(outcome.Payload.Bytes, data) {
			t.Fatalf("mime %s: payload not byte-identical", mime)
		}
	}
	if transcoder.calls != 0 {
		t.Fatalf("expected no transcode calls, got %d", transcoder.calls)
	}
}

func TestDeliverVideoReduced(t *testing.T) {
	t.Parallel()

	// 60MB quicktime against a 50MB ceiling; the transcoder lands at 48MB.
	transcoder := &stubTranscoder{output: payloadOf(48_000_000)}
	pipeline := newTestPipeline(&stubReducer{}, transcoder)
	data := payloadOf(60_000_000)

	outcome, err := pipeline.Deliver(context.Background(), Source{
		Body:         bytes.NewReader(data),
		Mime:         "video/quicktime",
		DeclaredSize: int64(len(data)),
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if outcome.Shape != ShapeVideo {
		t.Fatalf("unexpected shape: %s", outcome.Shape)
	}
	if outcome.Payload.Size() != 48_000_000 {
		t.Fatalf("unexpected payload size: %d", outcome.Payload.Size())
	}
	if outcome.Payload.Mime != "video/mp4" {
		t.Fatalf("unexpected mime: %s", outcome.Payload.Mime)
	}
	if !outcome.Streamable {
		t.Fatalf("expected streamable outcome")
	}
	if transcoder.hints[0] != "quicktime" {
		t.Fatalf("unexpected format hint: %s", transcoder.hints[0])
	}
}

func TestDeliverPhotoReduced(t *testing.T) {
	t.Parallel()

	// 12MB png against a 10MB photo ceiling; the reducer lands at 9.8MB.
	reducer := &stubReducer{output: payloadOf(9_800_000)}
	pipeline := newTestPipeline(reducer, &stubTranscoder{})
	data := payloadOf(12_000_000)

	outcome, err := pipeline.Deliver(context.Background(), Source{
		Body:         bytes.NewReader(data),
		Mime:         "image/png",
		DeclaredSize: int64(len(data)),
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if outcome.Shape != ShapePhoto {
		t.Fatalf("unexpected shape: %s", outcome.Shape)
	}
	if outcome.Payload.Size() != 9_800_000 {
		t.Fatalf("unexpected payload size: %d", outcome.Payload.Size())
	}
	if outcome.Payload.Mime != "image/jpeg" {
		t.Fatalf("unexpected mime: %s", outcome.Payload.Mime)
	}
}

func TestDeliverPhotoFallsBackToDocument(t *testing.T) {
	t.Parallel()

	reducer := &stubReducer{err: errors.New("cannot fit")}
	pipeline := newTestPipeline(reducer, &stubTranscoder{})
	data := payloadOf(12_000_000)

	outcome, err := pipeline.Deliver(context.Background(), Source{
		Body:         bytes.NewReader(data),
		Mime:         "image/png",
		DeclaredSize: int64(len(data)),
	})
	if err != nil {
		t.Fatalf("expected document fallback, got %v", err)
	}
	if outcome.Shape != ShapeDocument {
		t.Fatalf("unexpected shape: %s", outcome.Shape)
	}
	if !bytes.Equal(outcome.Payload.Bytes, data) {
		t.Fatalf("fallback payload must be the original bytes")
	}
}

func TestDeliverOversizeReductionFailureIsTerminal(t *testing.T) {
	t.Parallel()

	transcoder := &stubTranscoder{err: errors.New("presets exhausted")}
	pipeline := newTestPipeline(&stubReducer{}, transcoder)
	data := payloadOf(60_000_000)

	_, err := pipeline.Deliver(context.Background(), Source{
		Body:         bytes.NewReader(data),
		Mime:         "video/webm",
		DeclaredSize: int64(len(data)),
	})
	var failure *Failure
	if !errors.As(err, &failure) {
		t.Fatalf("expected *Failure, got %v", err)
	}
	if !errors.Is(err, ErrReductionFailed) {
		t.Fatalf("expected ErrReductionFailed, got %v", err)
	}
	if failure.Shape != ShapeVideo {
		t.Fatalf("unexpected failing shape: %s", failure.Shape)
	}
}

func TestDeliverRejectsOversizeDocument(t *testing.T) {
	t.Parallel()

	pipeline := newTestPipeline(&stubReducer{}, &stubTranscoder{})
	_, err := pipeline.Deliver(context.Background(), Source{
		Body:         bytes.NewReader(payloadOf(1)),
		Mime:         "application/zip",
		DeclaredSize: 70_000_000,
	})
	var failure *Failure
	if !errors.As(err, &failure) {
		t.Fatalf("expected *Failure, got %v", err)
	}
	if !errors.Is(err, ErrOversize) {
		t.Fatalf("expected ErrOversize, got %v", err)
	}
	if failure.Shape != ShapeDocument {
		t.Fatalf("unexpected shape: %s", failure.Shape)
	}
}

func TestDeliverRejectsEmptyPayload(t *testing.T) {
	t.Parallel()

	pipeline := newTestPipeline(&stubReducer{}, &stubTranscoder{})
	for _, mime := range []string{"image/png", "video/mp4", ""} {
		_, err := pipeline.Deliver(context.Background(), Source{
			Body: bytes.NewReader(nil),
			Mime: mime,
		})
		if !errors.Is(err, ErrEmptyPayload) {
			t.Fatalf("mime %q: expected ErrEmptyPayload, got %v", mime, err)
		}
		if errors.Is(err, ErrOversize) {
			t.Fatalf("mime %q: empty payload must not report oversize", mime)
		}
	}
}

func TestDeliverProbesUnknownLength(t *testing.T) {
	t.Parallel()

	pipeline := NewPipeline(nil, Thresholds{HardMaxBytes: 100, PhotoMaxBytes: 50}, &stubReducer{}, &stubTranscoder{}, 1)

	// Within ceiling: the probe buffers and the payload passes.
	outcome, err := pipeline.Deliver(context.Background(), Source{
		Body: bytes.NewReader(payloadOf(80)),
		Mime: "application/pdf",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if outcome.Payload.Size() != 80 {
		t.Fatalf("unexpected measured size: %d", outcome.Payload.Size())
	}

	// Over ceiling: the probe aborts without draining the stream.
	endless := io.MultiReader(bytes.NewReader(payloadOf(200)), neverEnding{})
	_, err = pipeline.Deliver(context.Background(), Source{
		Body: endless,
		Mime: "application/pdf",
	})
	if !errors.Is(err, ErrOversize) {
		t.Fatalf("expected ErrOversize, got %v", err)
	}
}

func TestDeliverUnknownMimeSkipsReduction(t *testing.T) {
	t.Parallel()

	reducer := &stubReducer{}
	transcoder := &stubTranscoder{}
	pipeline := newTestPipeline(reducer, transcoder)

	outcome, err := pipeline.Deliver(context.Background(), Source{
		Body:         bytes.NewReader(payloadOf(10)),
		Mime:         "",
		DeclaredSize: 10,
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if outcome.Shape != ShapeDocument {
		t.Fatalf("unexpected shape: %s", outcome.Shape)
	}
	if reducer.calls != 0 || transcoder.calls != 0 {
		t.Fatalf("no reduction expected for unknown mime")
	}
}

// neverEnding simulates an unbounded stream.
type neverEnding struct{}

func (neverEnding) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0xCD
	}
	return len(p), nil
}
