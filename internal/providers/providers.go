package providers

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"aura/internal/config"
	"aura/internal/protocol"
)

// Provider identifiers.
const (
	CoreMLID        = "coreml-local"
	LegacyCoreMLID  = "parakeet-coreml"
	WhisperOpenAIID = "whisper-openai"
	FasterWhisperID = "faster-whisper"
	ExecID          = "aura-exec"
)

const (
	coreMLV3Folder = "parakeet-tdt-0.6b-v3-coreml"
	coreMLV2Folder = "parakeet-tdt-0.6b-v2-coreml"
	uvInstallURL   = "https://docs.astral.sh/uv/getting-started/installation/"
)

// Sentinel errors returned by Resolve.
var (
	ErrNotFound     = errors.New("provider not found")
	ErrUnavailable  = errors.New("provider is unavailable")
	ErrInvalidModel = errors.New("invalid model value")
)

// RuntimeType discriminates Runtime variants.
type RuntimeType string

const (
	RuntimeNative   RuntimeType = "SwiftNative"
	RuntimePythonUV RuntimeType = "PythonUv"
	RuntimeGoWorker RuntimeType = "GoWorker"
)

// Runtime describes how a provider's worker is started.
type Runtime struct {
	Type RuntimeType `json:"type"`

	// Native and Go worker runtimes.
	BinaryPath string `json:"binaryPath,omitempty"`
	ModelDir   string `json:"modelDir,omitempty"`

	// Python runtimes.
	UVBinary   string `json:"uvBinary,omitempty"`
	Package    string `json:"package,omitempty"`
	EntryPoint string `json:"entryPoint,omitempty"`
	ProjectDir string `json:"projectDir,omitempty"`

	// Go worker runtime.
	Model       string `json:"model,omitempty"`
	ExecCommand string `json:"execCommand,omitempty"`
}

// Provider is a discovered transcription engine.
type Provider struct {
	ID                  string                 `json:"id"`
	Name                string                 `json:"name"`
	Runtime             Runtime                `json:"runtime"`
	Available           bool                   `json:"available"`
	Capabilities        *protocol.Capabilities `json:"capabilities,omitempty"`
	InstallInstructions string                 `json:"installInstructions,omitempty"`
}

// Settings configure provider discovery.
type Settings struct {
	CoreMLBinary      string
	ModelsRoot        string
	UVBinary          string
	WorkerBinary      string
	WorkerCommand     string
	WorkersRoot       string
	CheckAvailability bool
	CapabilityTimeout time.Duration
}

// SettingsFromConfig reads the [providers] config section.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		CoreMLBinary:      cfg.Providers.CoreMLBinary,
		ModelsRoot:        cfg.Providers.ModelsRoot,
		UVBinary:          cfg.Providers.UVBinary,
		WorkerBinary:      cfg.Providers.WorkerBinary,
		WorkerCommand:     cfg.Providers.WorkerCommand,
		WorkersRoot:       "workers",
		CheckAvailability: cfg.Providers.CheckAvailability,
		CapabilityTimeout: cfg.CapabilityTimeout(),
	}
}

func (s Settings) capabilityTimeout() time.Duration {
	if s.CapabilityTimeout <= 0 {
		return 5 * time.Second
	}
	return s.CapabilityTimeout
}

func (s Settings) uvBinary() string {
	if strings.TrimSpace(s.UVBinary) == "" {
		return "uv"
	}
	return s.UVBinary
}

// NormalizeID maps legacy provider ids to their current form.
func NormalizeID(id string) string {
	id = strings.TrimSpace(id)
	if id == LegacyCoreMLID {
		return CoreMLID
	}
	return id
}

// ValidateModel rejects empty models and anything that could escape the
// models root.
func ValidateModel(model string) (string, error) {
	trimmed := strings.TrimSpace(model)
	if trimmed == "" || strings.Contains(trimmed, "..") || strings.ContainsAny(trimmed, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidModel, model)
	}
	return trimmed, nil
}

// CoreMLModelDir maps v2/v3 aliases to their managed folder names below root.
func CoreMLModelDir(root, model string) string {
	folder := model
	switch strings.ToLower(strings.TrimSpace(model)) {
	case "v3", coreMLV3Folder:
		folder = coreMLV3Folder
	case "v2", coreMLV2Folder:
		folder = coreMLV2Folder
	}
	return filepath.Join(root, folder)
}

// Command is a resolved worker invocation.
type Command struct {
	Program string
	Args    []string
}

// String renders the command for logs.
func (c Command) String() string {
	return strings.Join(append([]string{c.Program}, c.Args...), " ")
}

// LaunchCommand returns the worker invocation for a manifest run.
func (r Runtime) LaunchCommand(manifestPath, outputDir string) (Command, error) {
	var cmd Command
	switch r.Type {
	case RuntimeNative:
		cmd = Command{Program: r.BinaryPath}
		cmd.Args = append(cmd.Args, "--model-dir", r.ModelDir, "--model-version", modelVersionFromDir(r.ModelDir))
	case RuntimePythonUV:
		cmd = Command{Program: r.UVBinary, Args: uvArgs(r.ProjectDir, r.Package, r.EntryPoint)}
	case RuntimeGoWorker:
		cmd = Command{Program: r.BinaryPath}
		if r.Model != "" {
			cmd.Args = append(cmd.Args, "--model", r.Model)
		}
		if r.ExecCommand != "" {
			cmd.Args = append(cmd.Args, "--exec", r.ExecCommand)
		}
	default:
		return Command{}, fmt.Errorf("runtime %q does not support local worker launching", r.Type)
	}
	cmd.Args = append(cmd.Args, "--manifest", manifestPath, "--output-dir", outputDir)
	return cmd, nil
}

// CapabilitiesCommand returns the invocation that prints worker capabilities.
func (r Runtime) CapabilitiesCommand() Command {
	switch r.Type {
	case RuntimePythonUV:
		return Command{Program: r.UVBinary, Args: append(uvArgs(r.ProjectDir, r.Package, r.EntryPoint), "--capabilities")}
	default:
		return Command{Program: r.BinaryPath, Args: []string{"--capabilities"}}
	}
}

func modelVersionFromDir(dir string) string {
	if strings.Contains(strings.ToLower(dir), "v2") {
		return "v2"
	}
	return "v3"
}

func uvArgs(projectDir, pkg, entryPoint string) []string {
	if projectDir != "" {
		return []string{"--directory", projectDir, "run", entryPoint}
	}
	return []string{"run", "--package", pkg, entryPoint}
}
