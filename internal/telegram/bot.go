// Package telegram adapts the Telegram Bot API to the relay: long-poll
// update intake with an admin allow-list, attachment downloads, and outbound
// sends of byte payloads.
package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/mediakeep/mediakeep/internal/relay"
)

const pollTimeoutSeconds = 30

// Handler processes one normalized inbound message.
type Handler interface {
	Handle(ctx context.Context, msg relay.Inbound) error
}

// Bot is the chat-side of the relay. It implements relay.Transport and
// relay.Downloader.
type Bot struct {
	api    *tgbotapi.BotAPI
	admins map[int64]struct{}
	http   *http.Client
	logger *slog.Logger
}

// New authenticates against the Bot API. adminIDs is the allow-list of user
// IDs whose messages are processed; everyone else is ignored silently.
func New(log *slog.Logger, token string, adminIDs []int64) (*Bot, error) {
	if log == nil {
		log = slog.Default()
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	admins := make(map[int64]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = struct{}{}
	}
	return &Bot{
		api:    api,
		admins: admins,
		http:   &http.Client{Timeout: 5 * time.Minute},
		logger: log.With(slog.String("service", "telegram")),
	}, nil
}

// Username returns the authenticated bot account name.
func (b *Bot) Username() string {
	return b.api.Self.UserName
}

// Run consumes updates until ctx is cancelled. Each allowed message is
// handled on its own goroutine.
func (b *Bot) Run(ctx context.Context, handler Handler) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = pollTimeoutSeconds
	updates := b.api.GetUpdatesChan(updateConfig)
	b.logger.Info("update intake started", slog.String("username", b.Username()))

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("update intake stopped")
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				b.logger.Info("updates channel closed")
				return nil
			}
			if update.Message == nil {
				continue
			}
			if !b.allowed(update.Message) {
				continue
			}
			inbound, ok := mapInbound(update.Message)
			if !ok {
				b.logger.Warn("unhandled message",
					slog.Int("message_id", update.Message.MessageID))
				continue
			}
			b.logger.Info("inbound received",
				slog.String("kind", string(inbound.Kind)),
				slog.Int64("chat_id", inbound.Chat.ChatID))
			go func() {
				if err := handler.Handle(ctx, inbound); err != nil {
					b.logger.Error("handle inbound failed",
						slog.String("kind", string(inbound.Kind)),
						slog.Any("error", err))
				}
			}()
		}
	}
}

func (b *Bot) allowed(msg *tgbotapi.Message) bool {
	if msg.From == nil {
		return false
	}
	_, ok := b.admins[msg.From.ID]
	return ok
}

// Download fetches an attachment's bytes by file ID.
func (b *Bot) Download(ctx context.Context, fileID string) ([]byte, error) {
	url, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("resolve file url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read file body: %w", err)
	}
	return data, nil
}

// SendText replies with plain text.
func (b *Bot) SendText(_ context.Context, chat relay.ChatRef, text string) error {
	message := tgbotapi.NewMessage(chat.ChatID, text)
	if chat.ReplyTo > 0 {
		message.ReplyToMessageID = chat.ReplyTo
	}
	_, err := b.api.Send(message)
	return err
}

// SendVideo replies with an inline video; streamable advertises progressive
// playback to clients.
func (b *Bot) SendVideo(_ context.Context, chat relay.ChatRef, data []byte, filename string, streamable bool) error {
	video := tgbotapi.NewVideo(chat.ChatID, fileBytes(filename, data))
	video.SupportsStreaming = streamable
	if chat.ReplyTo > 0 {
		video.ReplyToMessageID = chat.ReplyTo
	}
	_, err := b.api.Send(video)
	return err
}

// SendAnimation replies with an inline animation.
func (b *Bot) SendAnimation(_ context.Context, chat relay.ChatRef, data []byte, filename string) error {
	animation := tgbotapi.NewAnimation(chat.ChatID, fileBytes(filename, data))
	if chat.ReplyTo > 0 {
		animation.ReplyToMessageID = chat.ReplyTo
	}
	_, err := b.api.Send(animation)
	return err
}

// SendPhoto replies with an inline photo.
func (b *Bot) SendPhoto(_ context.Context, chat relay.ChatRef, data []byte, filename string) error {
	photo := tgbotapi.NewPhoto(chat.ChatID, fileBytes(filename, data))
	if chat.ReplyTo > 0 {
		photo.ReplyToMessageID = chat.ReplyTo
	}
	_, err := b.api.Send(photo)
	return err
}

// SendAudio replies with an inline audio track.
func (b *Bot) SendAudio(_ context.Context, chat relay.ChatRef, data []byte, filename string) error {
	audio := tgbotapi.NewAudio(chat.ChatID, fileBytes(filename, data))
	if chat.ReplyTo > 0 {
		audio.ReplyToMessageID = chat.ReplyTo
	}
	_, err := b.api.Send(audio)
	return err
}

// SendDocument replies with a generic file.
func (b *Bot) SendDocument(_ context.Context, chat relay.ChatRef, data []byte, filename string) error {
	document := tgbotapi.NewDocument(chat.ChatID, fileBytes(filename, data))
	if chat.ReplyTo > 0 {
		document.ReplyToMessageID = chat.ReplyTo
	}
	_, err := b.api.Send(document)
	return err
}

func fileBytes(filename string, data []byte) tgbotapi.FileBytes {
	if filename == "" {
		filename = "file"
	}
	return tgbotapi.FileBytes{Name: filename, Bytes: data}
}
