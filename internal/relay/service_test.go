package relay

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/mediakeep/mediakeep/internal/caption"
	"github.com/mediakeep/mediakeep/internal/delivery"
	"github.com/mediakeep/mediakeep/internal/hydrus"
)

type sentItem struct {
	shape      delivery.Shape
	filename   string
	data       []byte
	streamable bool
}

type fakeTransport struct {
	texts []string
	sends []sentItem
}

func (f *fakeTransport) SendText(_ context.Context, _ ChatRef, text string) error {
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeTransport) SendVideo(_ context.Context, _ ChatRef, data []byte, filename string, streamable bool) error {
	f.sends = append(f.sends, sentItem{delivery.ShapeVideo, filename, data, streamable})
	return nil
}

func (f *fakeTransport) SendAnimation(_ context.Context, _ ChatRef, data []byte, filename string) error {
	f.sends = append(f.sends, sentItem{shape: delivery.ShapeAnimation, filename: filename, data: data})
	return nil
}

func (f *fakeTransport) SendPhoto(_ context.Context, _ ChatRef, data []byte, filename string) error {
	f.sends = append(f.sends, sentItem{shape: delivery.ShapePhoto, filename: filename, data: data})
	return nil
}

func (f *fakeTransport) SendAudio(_ context.Context, _ ChatRef, data []byte, filename string) error {
	f.sends = append(f.sends, sentItem{shape: delivery.ShapeAudio, filename: filename, data: data})
	return nil
}

func (f *fakeTransport) SendDocument(_ context.Context, _ ChatRef, data []byte, filename string) error {
	f.sends = append(f.sends, sentItem{shape: delivery.ShapeDocument, filename: filename, data: data})
	return nil
}

type storedFile struct {
	mime string
	data []byte
}

type fakeStore struct {
	imports       []hydrus.ImportInput
	importResults []hydrus.ImportResult
	importErr     error
	files         map[string]storedFile
}

func (f *fakeStore) Import(_ context.Context, input hydrus.ImportInput) ([]hydrus.ImportResult, error) {
	f.imports = append(f.imports, input)
	if f.importErr != nil {
		return nil, f.importErr
	}
	return f.importResults, nil
}

func (f *fakeStore) GetFile(_ context.Context, hash string) (hydrus.FetchedFile, error) {
	file, ok := f.files[hash]
	if !ok {
		return hydrus.FetchedFile{}, errors.New("no such file")
	}
	return hydrus.FetchedFile{
		Body:         io.NopCloser(bytes.NewReader(file.data)),
		Mime:         file.mime,
		DeclaredSize: int64(len(file.data)),
	}, nil
}

type fakeDownloader struct {
	data []byte
	err  error
}

func (f *fakeDownloader) Download(context.Context, string) ([]byte, error) {
	return f.data, f.err
}

type fakeSearch struct {
	sources []string
	err     error
	calls   int
}

func (f *fakeSearch) Sources(context.Context, []byte) ([]string, error) {
	f.calls++
	return f.sources, f.err
}

type fakeDeliverer struct {
	failures map[string]error
}

// Deliver passes the buffered bytes through with the shape the MIME type
// classifies to, mirroring the real pipeline's pass verdict.
func (f *fakeDeliverer) Deliver(_ context.Context, src delivery.Source) (delivery.Outcome, error) {
	data, err := io.ReadAll(src.Body)
	if err != nil {
		return delivery.Outcome{}, err
	}
	if ferr, ok := f.failures[src.Mime]; ok {
		return delivery.Outcome{}, ferr
	}
	shape := delivery.ClassifyMime(src.Mime)
	return delivery.Outcome{
		Shape:      shape,
		Payload:    delivery.Payload{Bytes: data, Mime: src.Mime},
		Streamable: shape == delivery.ShapeVideo,
	}, nil
}

func allKinds() []string {
	return []string{"photo", "video", "animation", "video_note", "audio", "voice", "document", "text"}
}

func newTestService(transport *fakeTransport, store *fakeStore, files *fakeDownloader, search Search, deliverer Deliverer, kinds []string) *Service {
	return NewService(nil, transport, store, files, search, deliverer, kinds)
}

func TestHandleDisabledKindReplies(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{}
	store := &fakeStore{}
	service := newTestService(transport, store, &fakeDownloader{}, nil, &fakeDeliverer{}, []string{"photo"})

	err := service.Handle(context.Background(), Inbound{Kind: KindVideo})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(transport.texts) != 1 || !strings.Contains(transport.texts[0], "Disabled in config") {
		t.Fatalf("unexpected replies: %#v", transport.texts)
	}
	if len(store.imports) != 0 {
		t.Fatalf("disabled kind must not import")
	}
}

func TestHandlePhotoImportsWithTagsAndSources(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{}
	store := &fakeStore{importResults: []hydrus.ImportResult{
		{Status: hydrus.ImportStatusSuccess, Hash: "abcdef0123456789"},
	}}
	search := &fakeSearch{sources: []string{"https://example.com/source", "https://example.com/post"}}
	service := newTestService(transport, store, &fakeDownloader{data: []byte("jpeg-bytes")}, search, &fakeDeliverer{}, allKinds())

	msg := Inbound{
		Kind: KindPhoto,
		Text: "#red_panda https://example.com/post",
		Spans: []caption.Span{
			{Type: caption.SpanURL, Offset: 11, Length: 24},
		},
		File: &FileRef{ID: "file-1", Mime: "image/jpeg"},
	}
	if err := service.Handle(context.Background(), msg); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if len(store.imports) != 1 {
		t.Fatalf("expected one import, got %d", len(store.imports))
	}
	input := store.imports[0]
	if string(input.Payload) != "jpeg-bytes" {
		t.Fatalf("unexpected payload: %q", input.Payload)
	}
	if len(input.Tags) != 1 || input.Tags[0] != "red panda" {
		t.Fatalf("unexpected tags: %#v", input.Tags)
	}
	// Caption link first, then the lookup source not already present.
	want := []string{"https://example.com/post", "https://example.com/source"}
	if len(input.URLs) != len(want) {
		t.Fatalf("unexpected urls: %#v", input.URLs)
	}
	for i := range want {
		if input.URLs[i] != want[i] {
			t.Fatalf("urls[%d] = %q, want %q", i, input.URLs[i], want[i])
		}
	}

	if len(transport.texts) != 1 {
		t.Fatalf("expected one reply, got %#v", transport.texts)
	}
	reply := transport.texts[0]
	for _, want := range []string{"Type: photo.", "imported: abcdef012345", "10 B"} {
		if !strings.Contains(reply, want) {
			t.Fatalf("reply missing %q:\n%s", want, reply)
		}
	}
}

func TestHandlePhotoSearchFailureDoesNotBlockImport(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{}
	store := &fakeStore{importResults: []hydrus.ImportResult{{Status: hydrus.ImportStatusSuccess, Hash: "aa"}}}
	search := &fakeSearch{err: errors.New("saucenao short-term quota exhausted")}
	service := newTestService(transport, store, &fakeDownloader{data: []byte("jpeg")}, search, &fakeDeliverer{}, allKinds())

	msg := Inbound{Kind: KindPhoto, File: &FileRef{ID: "file-1", Mime: "image/jpeg"}}
	if err := service.Handle(context.Background(), msg); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if search.calls != 1 {
		t.Fatalf("expected search attempt")
	}
	if len(store.imports) != 1 || len(store.imports[0].URLs) != 0 {
		t.Fatalf("expected import without lookup urls, got %#v", store.imports)
	}
}

func TestHandleAudioAddsTitleAndArtistTags(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{}
	store := &fakeStore{importResults: []hydrus.ImportResult{{Status: hydrus.ImportStatusSuccess, Hash: "aa"}}}
	service := newTestService(transport, store, &fakeDownloader{data: []byte("mp3")}, nil, &fakeDeliverer{}, allKinds())

	msg := Inbound{
		Kind:      KindAudio,
		Text:      "#favorite",
		File:      &FileRef{ID: "file-1", Mime: "audio/mpeg"},
		Title:     "Some Song",
		Performer: "Some Band",
	}
	if err := service.Handle(context.Background(), msg); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	tags := store.imports[0].Tags
	want := []string{"favorite", "title:Some Song", "artist:Some Band"}
	if len(tags) != len(want) {
		t.Fatalf("tags = %#v, want %#v", tags, want)
	}
	for i := range want {
		if tags[i] != want[i] {
			t.Fatalf("tags[%d] = %q, want %q", i, tags[i], want[i])
		}
	}
}

func TestHandleMediaImportFailureReplies(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{}
	store := &fakeStore{importErr: errors.New("store down")}
	service := newTestService(transport, store, &fakeDownloader{data: []byte("jpeg")}, nil, &fakeDeliverer{}, allKinds())

	msg := Inbound{Kind: KindPhoto, File: &FileRef{ID: "file-1", Mime: "image/jpeg"}}
	err := service.Handle(context.Background(), msg)
	if err == nil {
		t.Fatalf("expected error")
	}
	if len(transport.texts) != 1 || !strings.Contains(transport.texts[0], "Import failed") {
		t.Fatalf("unexpected replies: %#v", transport.texts)
	}
}

func TestHandleTextWithoutLinks(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{}
	store := &fakeStore{}
	service := newTestService(transport, store, &fakeDownloader{}, nil, &fakeDeliverer{}, allKinds())

	if err := service.Handle(context.Background(), Inbound{Kind: KindText, Text: "just words"}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(store.imports) != 0 {
		t.Fatalf("expected no import without links")
	}
	if len(transport.texts) != 1 || !strings.Contains(transport.texts[0], "No links to import") {
		t.Fatalf("unexpected replies: %#v", transport.texts)
	}
}

func TestHandleTextImportsAndReposts(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{}
	store := &fakeStore{
		importResults: []hydrus.ImportResult{
			{Status: hydrus.ImportStatusSuccess, Hash: "hash-video-000"},
			{Status: hydrus.ImportStatusAlreadyInDatabase, Hash: "hash-photo-000"},
		},
		files: map[string]storedFile{
			"hash-video-000": {mime: "video/mp4", data: []byte("mp4-bytes")},
			"hash-photo-000": {mime: "image/png", data: []byte("png-bytes")},
		},
	}
	service := newTestService(transport, store, &fakeDownloader{}, nil, &fakeDeliverer{}, allKinds())

	text := "#tag https://example.com/a"
	msg := Inbound{
		Kind:  KindText,
		Text:  text,
		Spans: []caption.Span{{Type: caption.SpanURL, Offset: 5, Length: 21}},
	}
	if err := service.Handle(context.Background(), msg); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if len(store.imports) != 1 {
		t.Fatalf("expected one import, got %d", len(store.imports))
	}
	if len(store.imports[0].Payload) != 0 {
		t.Fatalf("text import must not carry a payload")
	}

	if len(transport.sends) != 2 {
		t.Fatalf("expected 2 reposts, got %d", len(transport.sends))
	}
	if transport.sends[0].shape != delivery.ShapeVideo || !transport.sends[0].streamable {
		t.Fatalf("unexpected first repost: %#v", transport.sends[0])
	}
	if transport.sends[1].shape != delivery.ShapePhoto {
		t.Fatalf("unexpected second repost: %#v", transport.sends[1])
	}
	if transport.sends[0].filename != "hash-video-0" {
		t.Fatalf("unexpected filename %q", transport.sends[0].filename)
	}
}

func TestHandleTextRepostFailureGetsNotice(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{}
	store := &fakeStore{
		importResults: []hydrus.ImportResult{
			{Status: hydrus.ImportStatusSuccess, Hash: "hash-huge-0000"},
			{Status: hydrus.ImportStatusSuccess, Hash: "hash-fine-0000"},
		},
		files: map[string]storedFile{
			"hash-huge-0000": {mime: "application/zip", data: []byte("zip-bytes")},
			"hash-fine-0000": {mime: "image/png", data: []byte("png-bytes")},
		},
	}
	deliverer := &fakeDeliverer{failures: map[string]error{
		"application/zip": &delivery.Failure{
			Shape: delivery.ShapeDocument,
			Size:  70_000_000,
			Err:   delivery.ErrOversize,
		},
	}}
	service := newTestService(transport, store, &fakeDownloader{}, nil, deliverer, allKinds())

	msg := Inbound{
		Kind:  KindText,
		Text:  "https://example.com/a",
		Spans: []caption.Span{{Type: caption.SpanURL, Offset: 0, Length: 21}},
	}
	if err := service.Handle(context.Background(), msg); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	// One failed artifact does not block the next.
	if len(transport.sends) != 1 || transport.sends[0].shape != delivery.ShapePhoto {
		t.Fatalf("unexpected reposts: %#v", transport.sends)
	}
	var notice string
	for _, text := range transport.texts {
		if strings.Contains(text, "hash-huge-00") {
			notice = text
		}
	}
	if notice == "" || !strings.Contains(notice, "exceeds the transport limit") {
		t.Fatalf("missing oversize notice, replies: %#v", transport.texts)
	}
}

func TestHandleMediaDownloadFailureReplies(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{}
	store := &fakeStore{}
	service := newTestService(transport, store, &fakeDownloader{err: errors.New("transport gone")}, nil, &fakeDeliverer{}, allKinds())

	msg := Inbound{Kind: KindDocument, File: &FileRef{ID: "file-1", Mime: "application/pdf"}}
	if err := service.Handle(context.Background(), msg); err == nil {
		t.Fatalf("expected error")
	}
	if len(transport.texts) != 1 || !strings.Contains(transport.texts[0], "Could not fetch") {
		t.Fatalf("unexpected replies: %#v", transport.texts)
	}
}
