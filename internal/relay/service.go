package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/mediakeep/mediakeep/internal/caption"
	"github.com/mediakeep/mediakeep/internal/delivery"
	"github.com/mediakeep/mediakeep/internal/hydrus"
)

// Service handles inbound messages one at a time. Steps within a message run
// in strict order; the transport may run one Handle per message concurrently.
type Service struct {
	transport Transport
	store     Store
	files     Downloader
	search    Search
	pipeline  Deliverer
	enabled   map[Kind]struct{}
	logger    *slog.Logger
}

// NewService creates the relay. search may be nil to disable reverse image
// lookup; enabledKinds lists the content kinds accepted from the chat.
func NewService(
	log *slog.Logger,
	transport Transport,
	store Store,
	files Downloader,
	search Search,
	pipeline Deliverer,
	enabledKinds []string,
) *Service {
	if log == nil {
		log = slog.Default()
	}
	enabled := make(map[Kind]struct{}, len(enabledKinds))
	for _, kind := range enabledKinds {
		enabled[Kind(strings.TrimSpace(strings.ToLower(kind)))] = struct{}{}
	}
	return &Service{
		transport: transport,
		store:     store,
		files:     files,
		search:    search,
		pipeline:  pipeline,
		enabled:   enabled,
		logger:    log.With(slog.String("service", "relay")),
	}
}

// Handle processes one inbound message end to end.
func (s *Service) Handle(ctx context.Context, msg Inbound) error {
	log := s.logger.With(
		slog.String("handling", uuid.NewString()),
		slog.String("kind", string(msg.Kind)))

	if _, ok := s.enabled[msg.Kind]; !ok {
		log.Info("content kind disabled")
		return s.reply(ctx, msg.Chat, fmt.Sprintf("Type: %s.\nDisabled in config.", msg.Kind))
	}

	tags := caption.Tags(msg.Text)
	urls := caption.URLs(msg.Text, msg.Spans)

	if msg.Kind == KindText {
		return s.handleText(ctx, log, msg, tags, urls)
	}
	return s.handleMedia(ctx, log, msg, tags, urls)
}

func (s *Service) handleMedia(ctx context.Context, log *slog.Logger, msg Inbound, tags, urls []string) error {
	if msg.File == nil {
		return fmt.Errorf("message of kind %s has no attachment", msg.Kind)
	}

	data, err := s.files.Download(ctx, msg.File.ID)
	if err != nil {
		if rerr := s.reply(ctx, msg.Chat, "Could not fetch the attachment."); rerr != nil {
			log.Error("failure reply not sent", slog.Any("error", rerr))
		}
		return fmt.Errorf("download attachment: %w", err)
	}
	log.Debug("attachment downloaded", slog.Int("bytes", len(data)))

	if msg.Kind == KindAudio || msg.Kind == KindVoice {
		if msg.Title != "" {
			tags = append(tags, "title:"+msg.Title)
		}
		if msg.Performer != "" {
			tags = append(tags, "artist:"+msg.Performer)
		}
	}

	// A photo with no caption links may still have known source pages.
	if msg.Kind == KindPhoto && s.search != nil {
		sources, err := s.search.Sources(ctx, data)
		if err != nil {
			log.Warn("source lookup skipped", slog.Any("error", err))
		} else {
			urls = mergeURLs(urls, sources)
		}
	}

	results, err := s.store.Import(ctx, hydrus.ImportInput{
		Payload: data,
		URLs:    urls,
		Tags:    tags,
	})
	if err != nil {
		if rerr := s.reply(ctx, msg.Chat, fmt.Sprintf("Type: %s.\nImport failed.", msg.Kind)); rerr != nil {
			log.Error("failure reply not sent", slog.Any("error", rerr))
		}
		return fmt.Errorf("import content: %w", err)
	}

	return s.reply(ctx, msg.Chat, confirmation(msg.Kind, results, int64(len(data))))
}

func (s *Service) handleText(ctx context.Context, log *slog.Logger, msg Inbound, tags, urls []string) error {
	if len(urls) == 0 {
		log.Info("text message carries no links")
		return s.reply(ctx, msg.Chat, "Type: text.\nNo links to import.")
	}

	results, err := s.store.Import(ctx, hydrus.ImportInput{URLs: urls, Tags: tags})
	if err != nil {
		if rerr := s.reply(ctx, msg.Chat, "Type: text.\nImport failed."); rerr != nil {
			log.Error("failure reply not sent", slog.Any("error", rerr))
		}
		return fmt.Errorf("import urls: %w", err)
	}

	if err := s.reply(ctx, msg.Chat, confirmation(KindText, results, 0)); err != nil {
		return err
	}

	// Re-post everything that landed in the store. One failed artifact gets
	// its own notice and does not block the rest.
	for _, result := range results {
		if result.Hash == "" {
			continue
		}
		if err := s.repost(ctx, msg.Chat, result.Hash); err != nil {
			log.Warn("repost failed",
				slog.String("hash", result.Hash),
				slog.Any("error", err))
			if rerr := s.reply(ctx, msg.Chat, repostFailureNotice(result.Hash, err)); rerr != nil {
				log.Error("failure reply not sent", slog.Any("error", rerr))
			}
		}
	}
	return nil
}

// repost streams one stored artifact back out through the delivery pipeline.
func (s *Service) repost(ctx context.Context, chat ChatRef, hash string) error {
	fetched, err := s.store.GetFile(ctx, hash)
	if err != nil {
		return fmt.Errorf("fetch from store: %w", err)
	}
	defer fetched.Body.Close()

	outcome, err := s.pipeline.Deliver(ctx, delivery.Source{
		Body:         fetched.Body,
		Mime:         fetched.Mime,
		DeclaredSize: fetched.DeclaredSize,
	})
	if err != nil {
		return err
	}

	data := outcome.Payload.Bytes
	filename := shortHash(hash)
	switch outcome.Shape {
	case delivery.ShapeVideo:
		return s.transport.SendVideo(ctx, chat, data, filename, outcome.Streamable)
	case delivery.ShapeAnimation:
		return s.transport.SendAnimation(ctx, chat, data, filename)
	case delivery.ShapePhoto:
		return s.transport.SendPhoto(ctx, chat, data, filename)
	case delivery.ShapeAudio:
		return s.transport.SendAudio(ctx, chat, data, filename)
	default:
		return s.transport.SendDocument(ctx, chat, data, filename)
	}
}

func (s *Service) reply(ctx context.Context, chat ChatRef, text string) error {
	s.logger.Info("reply sent", slog.String("text", text))
	return s.transport.SendText(ctx, chat, text)
}

// confirmation renders the import reply: content type, one status line per
// imported file, and the downloaded size when known.
func confirmation(kind Kind, results []hydrus.ImportResult, size int64) string {
	lines := []string{fmt.Sprintf("Type: %s.", kind)}
	if len(results) == 0 {
		lines = append(lines, "Nothing imported.")
	}
	for _, result := range results {
		line := result.Status.String()
		if result.Hash != "" {
			line += ": " + shortHash(result.Hash)
		}
		lines = append(lines, line)
		if result.Note != "" {
			lines = append(lines, result.Note)
		}
	}
	if size > 0 {
		lines = append(lines, humanize.IBytes(uint64(size)))
	}
	return strings.Join(lines, "\n")
}

func repostFailureNotice(hash string, err error) string {
	var failure *delivery.Failure
	if errors.As(err, &failure) {
		reason := "could not be sent"
		switch {
		case errors.Is(failure.Err, delivery.ErrOversize):
			reason = "exceeds the transport limit"
		case errors.Is(failure.Err, delivery.ErrReductionFailed):
			reason = "could not be reduced to fit"
		case errors.Is(failure.Err, delivery.ErrEmptyPayload):
			reason = "is empty"
		}
		return fmt.Sprintf("File %s %s (%s, %s).",
			shortHash(hash), reason, failure.Shape, humanize.IBytes(uint64(max(failure.Size, 0))))
	}
	return fmt.Sprintf("File %s could not be sent.", shortHash(hash))
}

func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}

// mergeURLs appends extras not already present, preserving order.
func mergeURLs(urls, extras []string) []string {
	seen := make(map[string]struct{}, len(urls))
	for _, url := range urls {
		seen[url] = struct{}{}
	}
	for _, url := range extras {
		if _, dup := seen[url]; dup {
			continue
		}
		seen[url] = struct{}{}
		urls = append(urls, url)
	}
	return urls
}
