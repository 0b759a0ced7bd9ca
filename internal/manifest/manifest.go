// Package manifest reads and writes session manifests, the per-run input
// file handed to a transcription worker.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"aura/internal/config"
	"aura/internal/fileutil"
	"aura/internal/queue"
)

// CreatedAtLayout is the RFC 3339 millisecond layout used for CreatedAt.
const CreatedAtLayout = "2006-01-02T15:04:05.000Z"

const defaultFileStatus = "queued"

// Settings are the per-run transcription options.
type Settings struct {
	OutputFormat         string   `json:"outputFormat" yaml:"outputFormat"`
	Recursive            bool     `json:"recursive" yaml:"recursive"`
	Overwrite            bool     `json:"overwrite" yaml:"overwrite"`
	MaxRetries           int      `json:"maxRetries" yaml:"maxRetries"`
	Extensions           []string `json:"extensions" yaml:"extensions"`
	FFmpegFallback       bool     `json:"ffmpegFallback" yaml:"ffmpegFallback"`
	DryRun               bool     `json:"dryRun" yaml:"dryRun"`
	NotificationsEnabled bool     `json:"notificationsEnabled" yaml:"notificationsEnabled"`
	NotifyOnComplete     bool     `json:"notifyOnComplete" yaml:"notifyOnComplete"`
	NotifyOnError        bool     `json:"notifyOnError" yaml:"notifyOnError"`
}

// DefaultSettings mirrors the defaults applied to fields absent from a manifest.
func DefaultSettings() Settings {
	return Settings{
		OutputFormat:         "both",
		Recursive:            true,
		MaxRetries:           1,
		Extensions:           []string{"mp3", "wav", "m4a"},
		FFmpegFallback:       true,
		NotificationsEnabled: true,
		NotifyOnComplete:     true,
		NotifyOnError:        true,
	}
}

// SettingsFromConfig builds run settings from the [transcription] and
// [notifications] config sections.
func SettingsFromConfig(cfg *config.Config) Settings {
	s := DefaultSettings()
	if cfg == nil {
		return s
	}
	t := cfg.Transcription
	s.OutputFormat = t.OutputFormat
	s.Recursive = t.Recursive
	s.Overwrite = t.Overwrite
	s.MaxRetries = t.MaxRetries
	s.Extensions = append([]string(nil), t.Extensions...)
	s.FFmpegFallback = t.FFmpegFallback
	s.DryRun = t.DryRun
	s.NotificationsEnabled = cfg.Notifications.NtfyTopic != ""
	s.NotifyOnComplete = cfg.Notifications.OnComplete
	s.NotifyOnError = cfg.Notifications.OnError
	return s
}

// UnmarshalJSON applies DefaultSettings to omitted fields.
func (s *Settings) UnmarshalJSON(data []byte) error {
	type plain Settings
	out := plain(DefaultSettings())
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	*s = Settings(out)
	return nil
}

// UnmarshalYAML applies DefaultSettings to omitted fields.
func (s *Settings) UnmarshalYAML(node *yaml.Node) error {
	type plain Settings
	out := plain(DefaultSettings())
	if err := node.Decode(&out); err != nil {
		return err
	}
	*s = Settings(out)
	return nil
}

// FileEntry is one input file of a session.
type FileEntry struct {
	ID     string `json:"id" yaml:"id"`
	Path   string `json:"path" yaml:"path"`
	Status string `json:"status" yaml:"status"`
	// Relative is the caller's relative path, used to mirror input layout
	// in the output directory. Workers sanitize it before use.
	Relative string `json:"relative,omitempty" yaml:"relative,omitempty"`
}

// Session is the manifest consumed by a worker via --manifest.
type Session struct {
	SessionID string      `json:"sessionId" yaml:"sessionId"`
	CreatedAt string      `json:"createdAt" yaml:"createdAt"`
	Provider  string      `json:"provider" yaml:"provider"`
	Model     string      `json:"model" yaml:"model"`
	OutputDir string      `json:"outputDir" yaml:"outputDir"`
	Settings  Settings    `json:"settings" yaml:"settings"`
	Files     []FileEntry `json:"files" yaml:"files"`
}

// CreatedTime parses CreatedAt, falling back to now when it is malformed.
func (s Session) CreatedTime() time.Time {
	if ts, err := time.Parse(time.RFC3339Nano, s.CreatedAt); err == nil {
		return ts
	}
	return time.Now().UTC()
}

// Generate writes a new manifest for items into dir and returns the session
// id and manifest path. The file is written atomically.
func Generate(dir, provider, model, outputDir string, items []queue.Item, settings Settings) (string, string, error) {
	session := Session{
		SessionID: uuid.NewString(),
		CreatedAt: time.Now().UTC().Format(CreatedAtLayout),
		Provider:  provider,
		Model:     model,
		OutputDir: outputDir,
		Settings:  settings,
		Files:     make([]FileEntry, 0, len(items)),
	}
	for _, it := range items {
		status := strings.TrimSpace(string(it.Status))
		if status == "" {
			status = defaultFileStatus
		}
		session.Files = append(session.Files, FileEntry{
			ID:       it.ID,
			Path:     it.Path,
			Status:   status,
			Relative: it.RelativePath,
		})
	}
	path, err := Write(dir, session)
	if err != nil {
		return "", "", err
	}
	return session.SessionID, path, nil
}

// Write stores session as <dir>/<sessionId>.json.
func Write(dir string, session Session) (string, error) {
	if strings.TrimSpace(session.SessionID) == "" {
		return "", errors.New("write manifest: session id is empty")
	}
	payload, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return "", fmt.Errorf("serialize session manifest: %w", err)
	}
	path := filepath.Join(dir, session.SessionID+".json")
	if err := fileutil.WriteAtomic(path, payload, 0o644); err != nil {
		return "", fmt.Errorf("write session manifest: %w", err)
	}
	return path, nil
}

// Load reads a manifest. Files ending in .yaml or .yml are parsed as YAML,
// everything else as JSON.
func Load(path string) (Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Session{}, fmt.Errorf("read session manifest %s: %w", path, err)
	}
	var session Session
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &session)
	default:
		err = json.Unmarshal(data, &session)
	}
	if err != nil {
		return Session{}, fmt.Errorf("parse session manifest %s: %w", path, err)
	}
	for i := range session.Files {
		if strings.TrimSpace(session.Files[i].Status) == "" {
			session.Files[i].Status = defaultFileStatus
		}
	}
	return session, nil
}

// LogPath returns the session log kept next to a manifest.
func LogPath(manifestPath string) string {
	return strings.TrimSuffix(manifestPath, filepath.Ext(manifestPath)) + ".log"
}

// Cleanup removes a manifest. A missing file is not an error.
func Cleanup(path string) error {
	if err := fileutil.RemoveIfExists(path); err != nil {
		return fmt.Errorf("remove manifest %s: %w", path, err)
	}
	return nil
}
