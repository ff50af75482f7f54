package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/mediakeep/mediakeep/internal/config"
	"github.com/mediakeep/mediakeep/internal/delivery"
	"github.com/mediakeep/mediakeep/internal/ffmpeg"
	"github.com/mediakeep/mediakeep/internal/hydrus"
	"github.com/mediakeep/mediakeep/internal/imaging"
	"github.com/mediakeep/mediakeep/internal/logger"
	"github.com/mediakeep/mediakeep/internal/relay"
	"github.com/mediakeep/mediakeep/internal/saucenao"
	"github.com/mediakeep/mediakeep/internal/telegram"
	"github.com/mediakeep/mediakeep/internal/tempdir"
	"github.com/mediakeep/mediakeep/internal/version"
)

func provideConfig() (config.Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) (*slog.Logger, error) {
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.Path); err != nil {
		return nil, err
	}
	return logger.L, nil
}

func provideStore(log *slog.Logger, cfg config.Config) (*hydrus.Client, error) {
	return hydrus.NewClient(
		log,
		cfg.Hydrus.APIURL,
		cfg.Hydrus.AccessKey,
		cfg.Hydrus.TagsNamespace,
		cfg.Hydrus.DestinationPage,
		cfg.Hydrus.Timeout(),
	)
}

// provideSearch wires reverse image lookup only when an API key is set.
func provideSearch(log *slog.Logger, cfg config.Config) (relay.Search, error) {
	if strings.TrimSpace(cfg.SauceNAO.APIKey) == "" {
		log.Info("reverse image search disabled")
		return nil, nil
	}
	return saucenao.NewClient(log, cfg.SauceNAO.APIKey, cfg.SauceNAO.MinSimilarity)
}

func provideTranscoder(log *slog.Logger, cfg config.Config) *ffmpeg.Transcoder {
	presets := ffmpeg.DefaultPresets()
	if len(cfg.Delivery.VideoPresets) > 0 {
		presets = make([]ffmpeg.Preset, 0, len(cfg.Delivery.VideoPresets))
		for _, preset := range cfg.Delivery.VideoPresets {
			presets = append(presets, ffmpeg.Preset{Name: preset.Name, Args: preset.Args})
		}
	}
	return ffmpeg.NewTranscoder(log, presets, cfg.Delivery.EncodeTimeout())
}

func provideReducer(log *slog.Logger, cfg config.Config) *imaging.Reducer {
	return imaging.NewReducer(log, cfg.Delivery.ImageQuality)
}

func providePipeline(log *slog.Logger, cfg config.Config, reducer *imaging.Reducer, transcoder *ffmpeg.Transcoder) *delivery.Pipeline {
	thresholds := delivery.Thresholds{
		HardMaxBytes:  cfg.Delivery.HardMaxBytes,
		PhotoMaxBytes: cfg.Delivery.PhotoMaxBytes,
	}
	return delivery.NewPipeline(log, thresholds, reducer, transcoder, cfg.Delivery.WorkerPoolSize)
}

func provideBot(log *slog.Logger, cfg config.Config) (*telegram.Bot, error) {
	return telegram.New(log, cfg.Telegram.BotToken, cfg.Telegram.AdminIDs)
}

func provideRelay(log *slog.Logger, cfg config.Config, bot *telegram.Bot, store *hydrus.Client, search relay.Search, pipeline *delivery.Pipeline) *relay.Service {
	return relay.NewService(log, bot, store, bot, search, pipeline, cfg.Telegram.ContentKinds)
}

func start(
	lc fx.Lifecycle,
	shutdowner fx.Shutdowner,
	log *slog.Logger,
	cfg config.Config,
	bot *telegram.Bot,
	store *hydrus.Client,
	service *relay.Service,
) {
	fmt.Printf("Starting mediakeep %s\n", version.GetInfo())

	runCtx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := tempdir.Prepare(cfg.Temp.Path); err != nil {
				return fmt.Errorf("prepare temp dir: %w", err)
			}
			if err := store.VerifyAccessKey(ctx); err != nil {
				return fmt.Errorf("verify store access: %w", err)
			}
			go func() {
				if err := bot.Run(runCtx, service); err != nil {
					log.Error("bot stopped", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			return nil
		},
	})
}

func main() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,

			provideStore,
			provideSearch,
			provideTranscoder,
			provideReducer,
			providePipeline,
			provideBot,
			provideRelay,
		),
		fx.Invoke(
			start,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}
