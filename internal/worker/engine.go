package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"aura/internal/media/ffprobe"
	"aura/internal/protocol"
)

// Result is the transcript of one file.
type Result struct {
	Text            string    `json:"text"`
	DurationSeconds float64   `json:"duration_seconds"`
	Confidence      float64   `json:"confidence"`
	Segments        []Segment `json:"segments,omitempty"`
}

// Segment is a timed span of a transcript.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// ProgressFunc reports percent complete and realtime factor for the current
// file.
type ProgressFunc func(percent, rtfx float64)

// Engine transcribes single files.
type Engine interface {
	Name() string
	Capabilities() protocol.Capabilities
	Transcribe(ctx context.Context, path string, progress ProgressFunc) (Result, error)
}

// Loader is implemented by engines that need a warm-up before the first file.
type Loader interface {
	Load(ctx context.Context) error
}

// InputPlaceholder is replaced by the audio path in ExecEngine commands.
const InputPlaceholder = "{input}"

// ExecEngine runs an external command per file and uses its stdout as the
// transcript.
type ExecEngine struct {
	Command       string
	Model         string
	FFprobeBinary string
	Timeout       time.Duration
}

func (e *ExecEngine) Name() string { return "aura-exec" }

func (e *ExecEngine) Capabilities() protocol.Capabilities {
	no := false
	one := 1
	return protocol.Capabilities{
		SupportedModels:    []string{e.modelName()},
		SupportedFormats:   []string{"mp3", "wav", "m4a", "flac", "ogg", "aac", "aiff", "wma"},
		ConcurrentFiles:    &one,
		WordTimestamps:     &no,
		SpeakerDiarization: &no,
		LanguageDetection:  &no,
		Translation:        &no,
		Languages:          []string{},
	}
}

func (e *ExecEngine) modelName() string {
	if m := strings.TrimSpace(e.Model); m != "" {
		return m
	}
	return "default"
}

// Load checks that the command resolves.
func (e *ExecEngine) Load(context.Context) error {
	fields := strings.Fields(e.Command)
	if len(fields) == 0 {
		return errors.New("no transcription command configured (use --exec)")
	}
	if _, err := exec.LookPath(fields[0]); err != nil {
		return fmt.Errorf("transcription command %q not found: %w", fields[0], err)
	}
	return nil
}

func (e *ExecEngine) Transcribe(ctx context.Context, path string, progress ProgressFunc) (Result, error) {
	fields := strings.Fields(e.Command)
	if len(fields) == 0 {
		return Result{}, errors.New("no transcription command configured")
	}
	args := make([]string, 0, len(fields))
	replaced := false
	for _, f := range fields[1:] {
		if strings.Contains(f, InputPlaceholder) {
			f = strings.ReplaceAll(f, InputPlaceholder, path)
			replaced = true
		}
		args = append(args, f)
	}
	if !replaced {
		args = append(args, path)
	}

	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	duration := e.duration(ctx, path)
	if progress != nil {
		progress(0, 0)
	}
	started := time.Now()
	cmd := exec.CommandContext(ctx, fields[0], args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return Result{}, fmt.Errorf("%s: %w: %s", fields[0], err, detail)
		}
		return Result{}, fmt.Errorf("%s: %w", fields[0], err)
	}
	if progress != nil {
		progress(100, rtfx(duration, time.Since(started).Seconds()))
	}
	return Result{
		Text:            strings.TrimSpace(stdout.String()),
		DurationSeconds: duration,
	}, nil
}

func (e *ExecEngine) duration(ctx context.Context, path string) float64 {
	binary := strings.TrimSpace(e.FFprobeBinary)
	if binary == "" || !ffprobe.Available(binary) {
		return 0
	}
	result, err := ffprobe.Inspect(ctx, binary, path)
	if err != nil {
		return 0
	}
	return result.DurationSeconds()
}

func rtfx(duration, processing float64) float64 {
	if duration <= 0 || processing <= 0 {
		return 0
	}
	return duration / processing
}
