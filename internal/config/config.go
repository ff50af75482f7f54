// Package config loads and exposes application configuration (TOML).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Default configuration values used when a field is missing in TOML.
const (
	DefaultConfigPath           = "config.toml"
	DefaultHydrusURL            = "http://127.0.0.1:45869"
	DefaultTagsNamespace        = "my tags"
	DefaultTempPath             = "temp"
	DefaultHardMaxBytes         = 50_000_000
	DefaultPhotoMaxBytes        = 10_000_000
	DefaultImageQuality         = 85
	DefaultWorkerPoolSize       = 2
	DefaultEncodeTimeoutSeconds = 300
	DefaultMinSimilarity        = 80
)

// Config is the root application configuration loaded from TOML.
type Config struct {
	Log      LogConfig      `toml:"log"`
	Telegram TelegramConfig `toml:"telegram"`
	Hydrus   HydrusConfig   `toml:"hydrus"`
	SauceNAO SauceNAOConfig `toml:"saucenao"`
	Delivery DeliveryConfig `toml:"delivery"`
	Temp     TempConfig     `toml:"temp"`
}

// LogConfig holds logging level, format, and an optional mirror file path.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	Path   string `toml:"path"`
}

// TelegramConfig holds the bot token, the admin allow-list, and the enabled
// inbound content kinds (photo, video, animation, video_note, audio, voice,
// document, text).
type TelegramConfig struct {
	BotToken     string   `toml:"bot_token"`
	AdminIDs     []int64  `toml:"admin_ids"`
	ContentKinds []string `toml:"content_kinds"`
}

// HydrusConfig holds the content store endpoint and import destination.
type HydrusConfig struct {
	APIURL          string `toml:"api_url"`
	AccessKey       string `toml:"access_key"`
	TagsNamespace   string `toml:"tags_namespace"`
	DestinationPage string `toml:"destination_page"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
}

// SauceNAOConfig holds the reverse image search credentials. An empty API key
// disables source lookup.
type SauceNAOConfig struct {
	APIKey        string  `toml:"api_key"`
	MinSimilarity float64 `toml:"min_similarity"`
}

// DeliveryConfig holds the outbound size budgets and reduction tuning.
type DeliveryConfig struct {
	HardMaxBytes         int64          `toml:"hard_max_bytes"`
	PhotoMaxBytes        int64          `toml:"photo_max_bytes"`
	ImageQuality         int            `toml:"image_quality"`
	WorkerPoolSize       int            `toml:"worker_pool_size"`
	EncodeTimeoutSeconds int            `toml:"encode_timeout_seconds"`
	VideoPresets         []PresetConfig `toml:"video_presets"`
}

// PresetConfig is one ordered video quality tier: an encoder name and its
// ffmpeg output arguments.
type PresetConfig struct {
	Name string   `toml:"name"`
	Args []string `toml:"args"`
}

// TempConfig holds the scratch directory used for spooled downloads.
type TempConfig struct {
	Path string `toml:"path"`
}

// EncodeTimeout returns the per-preset encoder deadline as a duration.
func (c DeliveryConfig) EncodeTimeout() time.Duration {
	seconds := c.EncodeTimeoutSeconds
	if seconds <= 0 {
		seconds = DefaultEncodeTimeoutSeconds
	}
	return time.Duration(seconds) * time.Second
}

// Timeout returns the store request deadline as a duration.
func (c HydrusConfig) Timeout() time.Duration {
	seconds := c.TimeoutSeconds
	if seconds <= 0 {
		seconds = 60
	}
	return time.Duration(seconds) * time.Second
}

// Load reads and parses the TOML config file at path and applies default
// values for missing fields.
func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Telegram: TelegramConfig{
			ContentKinds: []string{"photo", "video", "animation", "video_note", "audio", "voice", "document", "text"},
		},
		Hydrus: HydrusConfig{
			APIURL:        DefaultHydrusURL,
			TagsNamespace: DefaultTagsNamespace,
		},
		SauceNAO: SauceNAOConfig{
			MinSimilarity: DefaultMinSimilarity,
		},
		Delivery: DeliveryConfig{
			HardMaxBytes:         DefaultHardMaxBytes,
			PhotoMaxBytes:        DefaultPhotoMaxBytes,
			ImageQuality:         DefaultImageQuality,
			WorkerPoolSize:       DefaultWorkerPoolSize,
			EncodeTimeoutSeconds: DefaultEncodeTimeoutSeconds,
		},
		Temp: TempConfig{
			Path: DefaultTempPath,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if strings.TrimSpace(c.Telegram.BotToken) == "" {
		return fmt.Errorf("telegram bot_token is required")
	}
	if len(c.Telegram.AdminIDs) == 0 {
		return fmt.Errorf("telegram admin_ids is required")
	}
	if c.Delivery.HardMaxBytes <= 0 {
		return fmt.Errorf("delivery hard_max_bytes must be positive")
	}
	if c.Delivery.PhotoMaxBytes <= 0 || c.Delivery.PhotoMaxBytes > c.Delivery.HardMaxBytes {
		return fmt.Errorf("delivery photo_max_bytes must be positive and not exceed hard_max_bytes")
	}
	if c.Delivery.ImageQuality < 1 || c.Delivery.ImageQuality > 100 {
		return fmt.Errorf("delivery image_quality must be in 1..100")
	}
	if c.Delivery.WorkerPoolSize <= 0 {
		return fmt.Errorf("delivery worker_pool_size must be positive")
	}
	return nil
}
