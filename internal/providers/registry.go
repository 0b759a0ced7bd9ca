package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"aura/internal/logging"
	"aura/internal/protocol"
)

// Runner executes a capabilities command and returns its stdout. A non-zero exit
// is an error.
type Runner interface {
	Output(ctx context.Context, cmd Command) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Output(ctx context.Context, cmd Command) ([]byte, error) {
	c := exec.CommandContext(ctx, cmd.Program, cmd.Args...)
	c.Stderr = io.Discard
	return c.Output()
}

// Registry discovers and resolves providers.
type Registry struct {
	settings Settings
	runner   Runner
	logger   *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithRunner replaces the process runner used for capability checks.
func WithRunner(r Runner) Option {
	return func(reg *Registry) {
		if r != nil {
			reg.runner = r
		}
	}
}

// NewRegistry constructs a provider registry.
func NewRegistry(settings Settings, logger *slog.Logger, opts ...Option) *Registry {
	reg := &Registry{
		settings: settings,
		runner:   execRunner{},
		logger:   logging.NewComponentLogger(logger, "providers"),
	}
	for _, opt := range opts {
		opt(reg)
	}
	return reg
}

type pythonWorker struct {
	pkg        string
	entryPoint string
	dir        string
}

var pythonWorkers = map[string]pythonWorker{
	WhisperOpenAIID: {pkg: "whisper-batch", entryPoint: "whisper_batch", dir: "whisper-batch"},
	FasterWhisperID: {pkg: "faster-whisper-batch", entryPoint: "faster_whisper_batch", dir: "faster-whisper-batch"},
}

func (r *Registry) pythonRuntime(id string) Runtime {
	w := pythonWorkers[id]
	rt := Runtime{
		Type:       RuntimePythonUV,
		UVBinary:   r.settings.uvBinary(),
		Package:    w.pkg,
		EntryPoint: w.entryPoint,
	}
	if root := strings.TrimSpace(r.settings.WorkersRoot); root != "" {
		dir := filepath.Join(root, w.dir)
		if _, err := os.Stat(filepath.Join(dir, "pyproject.toml")); err == nil {
			rt.ProjectDir = dir
		}
	}
	return rt
}

// Known returns every provider with availability unknown.
func (r *Registry) Known() []Provider {
	return []Provider{
		{
			ID:   CoreMLID,
			Name: "CoreML Local",
			Runtime: Runtime{
				Type:       RuntimeNative,
				BinaryPath: r.settings.CoreMLBinary,
				ModelDir:   r.settings.ModelsRoot,
			},
		},
		{ID: WhisperOpenAIID, Name: "Whisper (OpenAI)", Runtime: r.pythonRuntime(WhisperOpenAIID)},
		{ID: FasterWhisperID, Name: "Faster Whisper", Runtime: r.pythonRuntime(FasterWhisperID)},
		{
			ID:   ExecID,
			Name: "Aura Exec",
			Runtime: Runtime{
				Type:        RuntimeGoWorker,
				BinaryPath:  r.settings.WorkerBinary,
				ExecCommand: r.settings.WorkerCommand,
			},
		},
	}
}

// Discover checks every known provider concurrently. Unavailable providers
// carry install instructions; available ones carry their capabilities when
// the worker reports them.
func (r *Registry) Discover(ctx context.Context) []Provider {
	providers := r.Known()
	uvAvailable := lookPath(r.settings.uvBinary())

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i := range providers {
		p := &providers[i]
		g.Go(func() error {
			if p.Runtime.Type == RuntimePythonUV && !uvAvailable {
				p.InstallInstructions = installInstructions(p.Runtime, false)
				return nil
			}
			caps, ok := r.check(gctx, p.Runtime)
			p.Available = ok
			if !ok {
				p.InstallInstructions = installInstructions(p.Runtime, uvAvailable)
				return nil
			}
			p.Capabilities = caps
			if caps == nil {
				r.logger.Warn("provider capabilities unavailable",
					logging.String(logging.FieldProvider, p.ID),
					logging.String(logging.FieldImpact, "capabilities hidden in provider listings"),
				)
			}
			return nil
		})
	}
	_ = g.Wait()
	return providers
}

// Resolve validates model and returns the runtime for provider id. When
// availability checks are enabled an unavailable provider yields
// ErrUnavailable.
func (r *Registry) Resolve(ctx context.Context, id, model string) (Runtime, error) {
	normalized := NormalizeID(id)
	validated, err := ValidateModel(model)
	if err != nil {
		return Runtime{}, err
	}

	var rt Runtime
	switch normalized {
	case CoreMLID:
		rt = Runtime{
			Type:       RuntimeNative,
			BinaryPath: r.settings.CoreMLBinary,
			ModelDir:   CoreMLModelDir(r.settings.ModelsRoot, validated),
		}
	case WhisperOpenAIID, FasterWhisperID:
		rt = r.pythonRuntime(normalized)
	case ExecID:
		rt = Runtime{
			Type:        RuntimeGoWorker,
			BinaryPath:  r.settings.WorkerBinary,
			Model:       validated,
			ExecCommand: r.settings.WorkerCommand,
		}
	default:
		return Runtime{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if r.settings.CheckAvailability {
		if _, ok := r.check(ctx, rt); !ok {
			return Runtime{}, fmt.Errorf("%w: %s", ErrUnavailable, id)
		}
	}
	return rt, nil
}

// check runs the capabilities command. Native and Go workers must print valid
// capabilities JSON to count as available; Python workers only need to exit
// cleanly.
func (r *Registry) check(ctx context.Context, rt Runtime) (*protocol.Capabilities, bool) {
	if rt.Type != RuntimePythonUV && !isExecutableFile(rt.BinaryPath) {
		return nil, false
	}
	ctx, cancel := context.WithTimeout(ctx, r.settings.capabilityTimeout())
	defer cancel()
	out, err := r.runner.Output(ctx, rt.CapabilitiesCommand())
	if err != nil {
		return nil, false
	}
	caps, err := ParseCapabilities(out)
	if err != nil {
		return nil, rt.Type == RuntimePythonUV
	}
	return caps, true
}

// ParseCapabilities decodes a worker's --capabilities output. Both
// snake_case and camelCase keys are accepted.
func ParseCapabilities(data []byte) (*protocol.Capabilities, error) {
	var caps protocol.Capabilities
	if err := json.Unmarshal(data, &caps); err != nil {
		return nil, fmt.Errorf("parse capabilities: %w", err)
	}
	var camel struct {
		SupportedModels    []string `json:"supportedModels"`
		SupportedFormats   []string `json:"supportedFormats"`
		MaxFileSize        *int64   `json:"maxFileSize"`
		ConcurrentFiles    *int     `json:"concurrentFiles"`
		WordTimestamps     *bool    `json:"wordTimestamps"`
		SpeakerDiarization *bool    `json:"speakerDiarization"`
		LanguageDetection  *bool    `json:"languageDetection"`
	}
	_ = json.Unmarshal(data, &camel)
	if caps.SupportedModels == nil {
		caps.SupportedModels = camel.SupportedModels
	}
	if caps.SupportedFormats == nil {
		caps.SupportedFormats = camel.SupportedFormats
	}
	if caps.MaxFileSize == nil {
		caps.MaxFileSize = camel.MaxFileSize
	}
	if caps.ConcurrentFiles == nil {
		caps.ConcurrentFiles = camel.ConcurrentFiles
	}
	if caps.WordTimestamps == nil {
		caps.WordTimestamps = camel.WordTimestamps
	}
	if caps.SpeakerDiarization == nil {
		caps.SpeakerDiarization = camel.SpeakerDiarization
	}
	if caps.LanguageDetection == nil {
		caps.LanguageDetection = camel.LanguageDetection
	}
	return &caps, nil
}

func installInstructions(rt Runtime, uvAvailable bool) string {
	switch rt.Type {
	case RuntimeNative:
		return "Build the Swift worker with `cd swift-worker && swift build -c release`, then retry."
	case RuntimePythonUV:
		if !uvAvailable {
			return fmt.Sprintf("Install uv (%s) and then run provider setup for `%s`.", uvInstallURL, rt.Package)
		}
		return fmt.Sprintf("Install or fix the `%s` runtime so `%s` succeeds.", rt.Package, rt.CapabilitiesCommand())
	case RuntimeGoWorker:
		return "Install the reference worker with `go install aura/cmd/aura-worker@latest` or set providers.worker_binary."
	}
	return ""
}

func lookPath(binary string) bool {
	_, err := exec.LookPath(binary)
	return err == nil
}

func isExecutableFile(path string) bool {
	path = strings.TrimSpace(path)
	if path == "" {
		return false
	}
	resolved, err := exec.LookPath(path)
	if err != nil {
		return false
	}
	info, err := os.Stat(resolved)
	return err == nil && !info.IsDir() && info.Mode().Perm()&0o111 != 0
}
