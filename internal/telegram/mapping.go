package telegram

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/mediakeep/mediakeep/internal/caption"
	"github.com/mediakeep/mediakeep/internal/relay"
)

// mapInbound normalizes one chat message for the relay. The second return is
// false for messages carrying nothing the relay handles.
func mapInbound(msg *tgbotapi.Message) (relay.Inbound, bool) {
	if msg == nil || msg.Chat == nil {
		return relay.Inbound{}, false
	}
	inbound := relay.Inbound{
		Chat: relay.ChatRef{
			ChatID:  msg.Chat.ID,
			ReplyTo: msg.MessageID,
		},
	}
	if msg.Caption != "" {
		inbound.Text = msg.Caption
		inbound.Spans = mapSpans(msg.CaptionEntities)
	} else {
		inbound.Text = msg.Text
		inbound.Spans = mapSpans(msg.Entities)
	}

	switch {
	case len(msg.Photo) > 0:
		photo := pickPhoto(msg.Photo)
		inbound.Kind = relay.KindPhoto
		inbound.File = &relay.FileRef{
			ID:       photo.FileID,
			UniqueID: photo.FileUniqueID,
			Mime:     "image/jpeg",
			Size:     int64(photo.FileSize),
		}
	case msg.Video != nil:
		inbound.Kind = relay.KindVideo
		inbound.File = &relay.FileRef{
			ID:       msg.Video.FileID,
			UniqueID: msg.Video.FileUniqueID,
			Mime:     msg.Video.MimeType,
			Size:     int64(msg.Video.FileSize),
		}
	case msg.Animation != nil:
		inbound.Kind = relay.KindAnimation
		inbound.File = &relay.FileRef{
			ID:       msg.Animation.FileID,
			UniqueID: msg.Animation.FileUniqueID,
			Mime:     msg.Animation.MimeType,
			Size:     int64(msg.Animation.FileSize),
		}
	case msg.VideoNote != nil:
		inbound.Kind = relay.KindVideoNote
		inbound.File = &relay.FileRef{
			ID:       msg.VideoNote.FileID,
			UniqueID: msg.VideoNote.FileUniqueID,
			Mime:     "video/mp4",
			Size:     int64(msg.VideoNote.FileSize),
		}
	case msg.Audio != nil:
		inbound.Kind = relay.KindAudio
		inbound.File = &relay.FileRef{
			ID:       msg.Audio.FileID,
			UniqueID: msg.Audio.FileUniqueID,
			Mime:     msg.Audio.MimeType,
			Size:     int64(msg.Audio.FileSize),
		}
		inbound.Title = msg.Audio.Title
		inbound.Performer = msg.Audio.Performer
	case msg.Voice != nil:
		inbound.Kind = relay.KindVoice
		inbound.File = &relay.FileRef{
			ID:       msg.Voice.FileID,
			UniqueID: msg.Voice.FileUniqueID,
			Mime:     msg.Voice.MimeType,
			Size:     int64(msg.Voice.FileSize),
		}
	case msg.Document != nil:
		inbound.Kind = relay.KindDocument
		inbound.File = &relay.FileRef{
			ID:       msg.Document.FileID,
			UniqueID: msg.Document.FileUniqueID,
			Mime:     msg.Document.MimeType,
			Size:     int64(msg.Document.FileSize),
		}
	case msg.Text != "":
		inbound.Kind = relay.KindText
	default:
		return relay.Inbound{}, false
	}
	return inbound, true
}

func mapSpans(entities []tgbotapi.MessageEntity) []caption.Span {
	if len(entities) == 0 {
		return nil
	}
	spans := make([]caption.Span, 0, len(entities))
	for _, entity := range entities {
		spans = append(spans, caption.Span{
			Type:   entity.Type,
			Offset: entity.Offset,
			Length: entity.Length,
			URL:    entity.URL,
		})
	}
	return spans
}

// pickPhoto selects the largest rendition of a photo. The transport lists
// several downscaled sizes; the last one is usually the original, but byte
// size is the authoritative tiebreak.
func pickPhoto(items []tgbotapi.PhotoSize) tgbotapi.PhotoSize {
	if len(items) == 0 {
		return tgbotapi.PhotoSize{}
	}
	best := items[0]
	for _, item := range items[1:] {
		if item.FileSize > best.FileSize {
			best = item
			continue
		}
		if item.FileSize == best.FileSize && item.Width*item.Height > best.Width*best.Height {
			best = item
		}
	}
	return best
}
