// Package relay orchestrates one inbound chat message end to end: metadata
// extraction, store import, confirmation replies, and re-posting stored
// artifacts through the outbound delivery pipeline.
package relay

import (
	"context"

	"github.com/mediakeep/mediakeep/internal/caption"
	"github.com/mediakeep/mediakeep/internal/delivery"
	"github.com/mediakeep/mediakeep/internal/hydrus"
)

// Kind is the inbound content category reported by the chat transport. The
// values double as the config names for the enable list.
type Kind string

const (
	KindPhoto     Kind = "photo"
	KindVideo     Kind = "video"
	KindAnimation Kind = "animation"
	KindVideoNote Kind = "video_note"
	KindAudio     Kind = "audio"
	KindVoice     Kind = "voice"
	KindDocument  Kind = "document"
	KindText      Kind = "text"
)

// ChatRef addresses the reply target: the chat and the message being
// replied to.
type ChatRef struct {
	ChatID  int64
	ReplyTo int
}

// FileRef identifies a downloadable attachment.
type FileRef struct {
	ID       string
	UniqueID string
	Mime     string
	Size     int64
}

// Inbound is one normalized chat message.
type Inbound struct {
	Chat  ChatRef
	Kind  Kind
	Text  string
	Spans []caption.Span
	File  *FileRef
	// Audio metadata, when the transport reports it.
	Title     string
	Performer string
}

// Transport sends replies and content back to the chat.
type Transport interface {
	SendText(ctx context.Context, chat ChatRef, text string) error
	SendVideo(ctx context.Context, chat ChatRef, data []byte, filename string, streamable bool) error
	SendAnimation(ctx context.Context, chat ChatRef, data []byte, filename string) error
	SendPhoto(ctx context.Context, chat ChatRef, data []byte, filename string) error
	SendAudio(ctx context.Context, chat ChatRef, data []byte, filename string) error
	SendDocument(ctx context.Context, chat ChatRef, data []byte, filename string) error
}

// Downloader fetches an attachment's bytes from the chat transport.
type Downloader interface {
	Download(ctx context.Context, fileID string) ([]byte, error)
}

// Store persists content and streams stored artifacts back by hash.
type Store interface {
	Import(ctx context.Context, input hydrus.ImportInput) ([]hydrus.ImportResult, error)
	GetFile(ctx context.Context, hash string) (hydrus.FetchedFile, error)
}

// Search finds source page URLs for an image.
type Search interface {
	Sources(ctx context.Context, data []byte) ([]string, error)
}

// Deliverer selects the outbound shape and payload for a byte stream.
type Deliverer interface {
	Deliver(ctx context.Context, src delivery.Source) (delivery.Outcome, error)
}
