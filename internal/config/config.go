package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	StateDir    string `toml:"state_dir"`
	SessionsDir string `toml:"sessions_dir"`
	OutputDir   string `toml:"output_dir"`
}

// Providers contains transcription engine discovery settings.
type Providers struct {
	CoreMLBinary             string `toml:"coreml_binary"`
	ModelsRoot               string `toml:"models_root"`
	UVBinary                 string `toml:"uv_binary"`
	WorkerBinary             string `toml:"worker_binary"`
	WorkerCommand            string `toml:"worker_command"`
	FFprobeBinary            string `toml:"ffprobe_binary"`
	CapabilityTimeoutSeconds int    `toml:"capability_timeout_seconds"`
	CheckAvailability        bool   `toml:"check_availability"`
}

// Transcription contains the default per-run settings written into session manifests.
type Transcription struct {
	OutputFormat   string   `toml:"output_format"`
	Recursive      bool     `toml:"recursive"`
	Overwrite      bool     `toml:"overwrite"`
	MaxRetries     int      `toml:"max_retries"`
	Extensions     []string `toml:"extensions"`
	FFmpegFallback bool     `toml:"ffmpeg_fallback"`
	DryRun         bool     `toml:"dry_run"`
}

// Queue contains reconciliation engine and run control settings.
type Queue struct {
	PersistDebounceMS  int `toml:"persist_debounce_ms"`
	StopTimeoutSeconds int `toml:"stop_timeout_seconds"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	OnComplete     bool   `toml:"on_complete"`
	OnError        bool   `toml:"on_error"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Metrics contains the optional Prometheus endpoint configuration.
type Metrics struct {
	Listen string `toml:"listen"`
}

// Config encapsulates all configuration values for aura.
//
// Configuration sections by subsystem:
//   - Paths: state database, session manifests, transcript output
//   - Providers: worker binaries, model root, capability probing
//   - Transcription: default run settings
//   - Queue: persistence debounce and stop timeout
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
//   - Metrics: Prometheus listen address
type Config struct {
	Paths         Paths         `toml:"paths"`
	Providers     Providers     `toml:"providers"`
	Transcription Transcription `toml:"transcription"`
	Queue         Queue         `toml:"queue"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
	Metrics       Metrics       `toml:"metrics"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/aura/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		info, err := os.Stat(expanded)
		if err != nil {
			if os.IsNotExist(err) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		if info.IsDir() {
			return "", false, fmt.Errorf("config path %q is a directory", expanded)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("aura.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the state and session directories. The output
// directory is created on a best-effort basis because runs create it again
// before launching a worker.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.SessionsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if strings.TrimSpace(c.Paths.OutputDir) != "" {
		_ = os.MkdirAll(c.Paths.OutputDir, 0o755)
	}
	return nil
}

// DatabasePath returns the SQLite database holding queue state and session history.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.StateDir, "aura.db")
}

// LockPath returns the run lock file guarding single active runs.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "run.lock")
}

// PersistDebounce returns the queue persistence debounce window.
func (c *Config) PersistDebounce() time.Duration {
	return time.Duration(c.Queue.PersistDebounceMS) * time.Millisecond
}

// StopTimeout returns how long a stopped worker gets before it is killed.
func (c *Config) StopTimeout() time.Duration {
	return time.Duration(c.Queue.StopTimeoutSeconds) * time.Second
}

// CapabilityTimeout returns the deadline for a worker capabilities check.
func (c *Config) CapabilityTimeout() time.Duration {
	return time.Duration(c.Providers.CapabilityTimeoutSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the effective configuration as TOML.
func (c *Config) Encode() (string, error) {
	var b strings.Builder
	encoder := toml.NewEncoder(&b)
	if err := encoder.Encode(c); err != nil {
		return "", fmt.Errorf("encode config: %w", err)
	}
	return b.String(), nil
}
