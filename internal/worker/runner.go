package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"aura/internal/deps"
	"aura/internal/fileutil"
	"aura/internal/logging"
	"aura/internal/manifest"
	"aura/internal/protocol"
)

// Summary is the run total reported in the summary event.
type Summary struct {
	SessionID       string             `json:"session_id"`
	Total           int                `json:"total"`
	Processed       int                `json:"processed"`
	Skipped         int                `json:"skipped"`
	Failed          int                `json:"failed"`
	DurationSeconds float64            `json:"duration_seconds"`
	Failures        []protocol.Failure `json:"failures"`
}

// ExitCode maps the summary to the process exit code.
func (s Summary) ExitCode() int {
	if s.Failed > 0 {
		return ExitPartial
	}
	return ExitSuccess
}

type task struct {
	path     string
	relative string
}

// Runner drives an Engine over a batch and narrates it through an Emitter.
type Runner struct {
	engine        Engine
	emitter       *protocol.Emitter
	logger        *slog.Logger
	ffprobeBinary string
	now           func() time.Time
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithFFprobe sets the ffprobe binary used to report ffmpeg availability.
func WithFFprobe(binary string) RunnerOption {
	return func(r *Runner) { r.ffprobeBinary = binary }
}

// WithRunnerClock overrides the clock used for durations.
func WithRunnerClock(now func() time.Time) RunnerOption {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRunner builds a runner emitting to emitter.
func NewRunner(engine Engine, emitter *protocol.Emitter, logger *slog.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{
		engine:  engine,
		emitter: emitter,
		logger:  logging.NewComponentLogger(logger, "worker"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run transcribes in. A returned error means the run aborted after emitting
// fatal_error; per-file failures are reported in the summary instead.
func (r *Runner) Run(ctx context.Context, in Input) (Summary, error) {
	started := r.now()
	if err := in.Validate(); err != nil {
		return Summary{}, r.fatal(err)
	}

	settings := in.Settings
	outputDir := in.OutputDir
	sessionID := in.SessionID
	model := in.Model
	var tasks []task

	if in.ManifestPath != "" {
		session, err := manifest.Load(in.ManifestPath)
		if err != nil {
			_ = r.emitter.ManifestValidationError(err.Error())
			return Summary{}, r.fatal(fmt.Errorf("manifest unreadable: %w", err))
		}
		if err := validateManifest(session); err != nil {
			_ = r.emitter.ManifestValidationError(err.Error())
			return Summary{}, r.fatal(err)
		}
		settings = session.Settings
		if outputDir == "" {
			outputDir = session.OutputDir
		}
		if sessionID == "" {
			sessionID = session.SessionID
		}
		if model == "" {
			model = session.Model
		}
		for _, f := range session.Files {
			tasks = append(tasks, task{path: f.Path, relative: f.Relative})
		}
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if model == "" {
		model = "default"
	}

	if err := r.emitter.Start(sessionID, r.engine.Name(), model); err != nil {
		return Summary{}, err
	}
	ff := deps.CheckFFmpeg(r.ffprobeBinary)
	_ = r.emitter.FFmpegStatus(ff.Available, ffmpegPath(ff))

	if in.ManifestPath != "" {
		_ = r.emitter.ManifestLoaded(len(tasks), in.ManifestPath)
	} else {
		var err error
		tasks, err = collect(in, settings)
		if err != nil {
			return Summary{}, r.fatal(err)
		}
	}
	_ = r.emitter.Scanned(len(tasks))

	if outputDir == "" {
		return Summary{}, r.fatal(errors.New("output directory is required"))
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return Summary{}, r.fatal(fmt.Errorf("create output directory: %w", err))
	}

	if loader, ok := r.engine.(Loader); ok {
		if err := loader.Load(ctx); err != nil {
			return Summary{}, r.fatal(fmt.Errorf("failed to load models: %w", err))
		}
	}
	_ = r.emitter.ModelsLoaded()

	summary := Summary{SessionID: sessionID, Total: len(tasks), Failures: []protocol.Failure{}}
	for i, t := range tasks {
		if err := ctx.Err(); err != nil {
			break
		}
		outcome, failure := r.process(ctx, i, len(tasks), t, outputDir, settings)
		switch outcome {
		case outcomeDone:
			summary.Processed++
		case outcomeSkipped:
			summary.Skipped++
		case outcomeFailed:
			summary.Failed++
			summary.Failures = append(summary.Failures, failure)
		}
	}
	summary.DurationSeconds = r.now().Sub(started).Seconds()

	if err := r.emitter.Summary(summary.Total, summary.Processed, summary.Skipped, summary.Failed, summary.DurationSeconds, summary.Failures); err != nil {
		return summary, err
	}
	if in.ReportPath != "" {
		r.writeReport(in.ReportPath, summary)
	}
	return summary, nil
}

func ffmpegPath(s deps.Status) string {
	if s.Available {
		return s.Command
	}
	return ""
}

func validateManifest(s manifest.Session) error {
	if len(s.Files) == 0 {
		return errors.New("manifest lists no files")
	}
	for i, f := range s.Files {
		if strings.TrimSpace(f.Path) == "" {
			return fmt.Errorf("manifest file %d has an empty path", i)
		}
	}
	return nil
}

func (r *Runner) fatal(err error) error {
	_ = r.emitter.FatalError(err.Error())
	logging.ErrorWithContext(r.logger, "worker aborted", "worker_fatal", logging.Error(err))
	return err
}

// collect expands Files or Dir into tasks filtered by the configured
// extensions.
func collect(in Input, settings manifest.Settings) ([]task, error) {
	exts := settings.Extensions
	if len(exts) == 0 {
		exts = manifest.DefaultSettings().Extensions
	}
	supported := func(p string) bool {
		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(p), "."))
		return slices.Contains(exts, ext)
	}

	if len(in.Files) > 0 {
		tasks := make([]task, 0, len(in.Files))
		for _, f := range in.Files {
			abs, err := filepath.Abs(f)
			if err != nil {
				return nil, fmt.Errorf("resolve %s: %w", f, err)
			}
			tasks = append(tasks, task{path: abs, relative: filepath.Base(abs)})
		}
		return tasks, nil
	}

	root, err := filepath.Abs(in.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", in.Dir, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("input directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("input directory: %s is not a directory", root)
	}
	var tasks []task
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if p != root && !settings.Recursive {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !supported(p) {
			return nil
		}
		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			rel = filepath.Base(p)
		}
		tasks = append(tasks, task{path: p, relative: rel})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

func (r *Runner) writeReport(path string, summary Summary) {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err == nil {
		err = fileutil.WriteAtomic(path, data, 0o644)
	}
	if err != nil {
		_ = r.emitter.ReportWriteFailed(path, err.Error())
		return
	}
	_ = r.emitter.ReportWritten(path)
}
