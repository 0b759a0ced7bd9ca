package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"aura/internal/fileutil"
	"aura/internal/logging"
	"aura/internal/manifest"
	"aura/internal/protocol"
)

type outcome int

const (
	outcomeDone outcome = iota
	outcomeSkipped
	outcomeFailed
)

type transcriptJSON struct {
	File string `json:"file"`
	Result
}

// process runs one file through the engine, retrying up to MaxRetries times
// after the first failure.
func (r *Runner) process(ctx context.Context, index, total int, t task, outputDir string, settings manifest.Settings) (outcome, protocol.Failure) {
	_ = r.emitter.FileStarted(index, total, t.path, t.relative)

	base := outputBase(outputDir, t.path, t.relative)
	out := protocol.Output{}
	if wantsTXT(settings.OutputFormat) {
		out.TXT = base + ".txt"
	}
	if wantsJSON(settings.OutputFormat) {
		out.JSON = base + ".json"
	}

	if info, err := os.Stat(t.path); err != nil || !info.Mode().IsRegular() {
		msg := fmt.Sprintf("input not found: %s", t.path)
		_ = r.emitter.FileFailed(index, t.path, msg, 0)
		return outcomeFailed, protocol.Failure{File: t.path, Error: msg}
	}
	if !settings.Overwrite && outputsExist(out) {
		_ = r.emitter.FileSkipped(index, t.path, "output exists", &out)
		return outcomeSkipped, protocol.Failure{}
	}
	if settings.DryRun {
		_ = r.emitter.FileSkipped(index, t.path, "dry run", nil)
		return outcomeSkipped, protocol.Failure{}
	}

	attempts := 1 + max(settings.MaxRetries, 0)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			_ = r.emitter.FileRetry(index, t.path, attempt, lastErr.Error())
		}
		started := r.now()
		result, err := r.engine.Transcribe(ctx, t.path, func(percent, rtfx float64) {
			_ = r.emitter.FileProgress(index, t.path, percent, rtfx)
		})
		if err == nil {
			err = writeOutputs(out, t.path, result)
		}
		if err == nil {
			processing := r.now().Sub(started).Seconds()
			_ = r.emitter.FileDone(protocol.FileDoneEvent{
				Index:             index,
				File:              t.path,
				DurationSeconds:   result.DurationSeconds,
				ProcessingSeconds: processing,
				RTFx:              rtfx(result.DurationSeconds, processing),
				Confidence:        result.Confidence,
				Output:            out,
			})
			return outcomeDone, protocol.Failure{}
		}
		lastErr = err
		r.logger.Debug("transcription attempt failed", logging.Args(logging.FileAttrs(t.path, index,
			logging.Int("attempt", attempt),
			logging.Error(err),
		)...)...)
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			attempts = attempt
			break
		}
	}
	msg := lastErr.Error()
	_ = r.emitter.FileFailed(index, t.path, msg, attempts)
	return outcomeFailed, protocol.Failure{File: t.path, Error: msg}
}

func outputsExist(out protocol.Output) bool {
	for _, p := range []string{out.TXT, out.JSON} {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return out.TXT != "" || out.JSON != ""
}

func writeOutputs(out protocol.Output, source string, result Result) error {
	for _, p := range []string{out.TXT, out.JSON} {
		if p == "" {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	if out.TXT != "" {
		text := strings.TrimSpace(result.Text) + "\n"
		if err := fileutil.WriteAtomic(out.TXT, []byte(text), 0o644); err != nil {
			return fmt.Errorf("write transcript: %w", err)
		}
	}
	if out.JSON != "" {
		data, err := json.MarshalIndent(transcriptJSON{File: source, Result: result}, "", "  ")
		if err != nil {
			return fmt.Errorf("encode transcript: %w", err)
		}
		if err := fileutil.WriteAtomic(out.JSON, data, 0o644); err != nil {
			return fmt.Errorf("write transcript json: %w", err)
		}
	}
	return nil
}
