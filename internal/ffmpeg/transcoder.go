// Package ffmpeg re-encodes video through an external encoder process,
// walking an ordered list of codec presets until one fits the byte budget.
package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// Preset is one quality tier: an encoder name and its ffmpeg output
// arguments. Presets are tried strictly in order.
type Preset struct {
	Name string
	Args []string
}

// DefaultPresets returns the standard tier order: fast software encode,
// hardware-accelerated encode, then the slower high-efficiency software
// encode.
func DefaultPresets() []Preset {
	return []Preset{
		{Name: "x264", Args: []string{"-c:v", "h264"}},
		{Name: "x265-gpu", Args: []string{"-c:v", "hevc_nvenc", "-preset", "p7", "-tune", "hq", "-cq:v", "25"}},
		{Name: "x265", Args: []string{"-c:v", "libx265", "-preset", "medium", "-x265-params", "crf=25"}},
	}
}

// ErrPresetsExhausted is returned when every preset either failed or
// produced output over the byte budget.
var ErrPresetsExhausted = errors.New("no encoder preset met the size budget")

// Runner executes one encoder invocation. Tests substitute a stub so no
// ffmpeg binary is needed.
type Runner interface {
	Run(ctx context.Context, args []string, stdin []byte) ([]byte, error)
}

// Transcoder converts arbitrary video input to fragmented MP4 under a byte
// budget. Each preset runs as an isolated subprocess with a wall-clock
// deadline; a crashed or hung encoder counts as that preset failing.
type Transcoder struct {
	presets []Preset
	runner  Runner
	timeout time.Duration
	logger  *slog.Logger
}

// NewTranscoder creates a transcoder invoking the ffmpeg binary on PATH.
func NewTranscoder(log *slog.Logger, presets []Preset, timeout time.Duration) *Transcoder {
	return newTranscoder(log, presets, timeout, &execRunner{binary: "ffmpeg"})
}

// NewTranscoderWithRunner creates a transcoder with a custom runner.
func NewTranscoderWithRunner(log *slog.Logger, presets []Preset, timeout time.Duration, runner Runner) *Transcoder {
	return newTranscoder(log, presets, timeout, runner)
}

func newTranscoder(log *slog.Logger, presets []Preset, timeout time.Duration, runner Runner) *Transcoder {
	if log == nil {
		log = slog.Default()
	}
	if len(presets) == 0 {
		presets = DefaultPresets()
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Transcoder{
		presets: presets,
		runner:  runner,
		timeout: timeout,
		logger:  log.With(slog.String("service", "ffmpeg")),
	}
}

// Transcode returns an MP4 encoding of data no larger than maxBytes.
// Input already in an MP4 container and within budget is returned
// unchanged. Every preset is tried at most once; the first output within
// budget wins.
func (t *Transcoder) Transcode(ctx context.Context, data []byte, formatHint string, maxBytes int64) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("video payload is empty")
	}
	if maxBytes <= 0 {
		return nil, fmt.Errorf("max bytes must be positive")
	}
	hint := strings.ToLower(strings.TrimSpace(formatHint))
	if hint == "mp4" && int64(len(data)) <= maxBytes {
		return data, nil
	}

	for _, preset := range t.presets {
		output, err := t.runPreset(ctx, preset, hint, data)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			t.logger.Warn("encoder preset failed",
				slog.String("preset", preset.Name),
				slog.Any("error", err))
			continue
		}
		if int64(len(output)) <= maxBytes {
			t.logger.Debug("encoded within budget",
				slog.String("preset", preset.Name),
				slog.Int("bytes", len(output)))
			return output, nil
		}
		t.logger.Debug("preset output over budget",
			slog.String("preset", preset.Name),
			slog.Int("bytes", len(output)),
			slog.Int64("budget", maxBytes))
	}
	return nil, ErrPresetsExhausted
}

func (t *Transcoder) runPreset(ctx context.Context, preset Preset, hint string, data []byte) ([]byte, error) {
	runCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.runner.Run(runCtx, buildArgs(preset, hint), data)
}

// buildArgs assembles the full ffmpeg argument list for one invocation.
// Output is fragmented MP4 so the container is valid when captured from a
// pipe, which cannot seek back to write a trailer.
func buildArgs(preset Preset, hint string) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-nostats"}
	if hint != "" {
		args = append(args, "-f", hint)
	}
	args = append(args, "-i", "pipe:0")
	args = append(args, preset.Args...)
	args = append(args, "-f", "mp4", "-movflags", "frag_keyframe+empty_moov", "pipe:1")
	return args
}

// execRunner invokes the encoder binary, streaming input over stdin and
// capturing encoded output from stdout.
type execRunner struct {
	binary string
}

func (r *execRunner) Run(ctx context.Context, args []string, stdin []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, r.binary, args...)
	cmd.Stdin = bytes.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Give the process a short grace period after cancellation before it is
	// killed outright.
	cmd.WaitDelay = 5 * time.Second
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return nil, fmt.Errorf("%s: %w: %s", r.binary, err, detail)
		}
		return nil, fmt.Errorf("%s: %w", r.binary, err)
	}
	return stdout.Bytes(), nil
}
