package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeProviders(); err != nil {
		return err
	}
	c.normalizeTranscription()
	c.normalizeQueue()
	c.normalizeNotifications()
	c.normalizeLogging()
	c.Metrics.Listen = strings.TrimSpace(c.Metrics.Listen)
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.SessionsDir) == "" {
		c.Paths.SessionsDir = defaultSessionsDir
	}
	if c.Paths.SessionsDir, err = expandPath(c.Paths.SessionsDir); err != nil {
		return fmt.Errorf("paths.sessions_dir: %w", err)
	}
	if c.Paths.OutputDir, err = expandPath(strings.TrimSpace(c.Paths.OutputDir)); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeProviders() error {
	var err error
	p := &c.Providers
	if p.ModelsRoot, err = expandPath(strings.TrimSpace(p.ModelsRoot)); err != nil {
		return fmt.Errorf("providers.models_root: %w", err)
	}
	p.CoreMLBinary = strings.TrimSpace(p.CoreMLBinary)
	if strings.HasPrefix(p.CoreMLBinary, "~") {
		if p.CoreMLBinary, err = expandPath(p.CoreMLBinary); err != nil {
			return fmt.Errorf("providers.coreml_binary: %w", err)
		}
	}
	p.UVBinary = strings.TrimSpace(p.UVBinary)
	if p.UVBinary == "" {
		p.UVBinary = defaultUVBinary
	}
	p.WorkerBinary = strings.TrimSpace(p.WorkerBinary)
	if p.WorkerBinary == "" {
		p.WorkerBinary = defaultWorkerBinary
	}
	p.WorkerCommand = strings.TrimSpace(p.WorkerCommand)
	p.FFprobeBinary = strings.TrimSpace(p.FFprobeBinary)
	if p.FFprobeBinary == "" {
		p.FFprobeBinary = defaultFFprobeBinary
	}
	if p.CapabilityTimeoutSeconds <= 0 {
		p.CapabilityTimeoutSeconds = defaultCapabilityTimeoutSeconds
	}
	return nil
}

func (c *Config) normalizeTranscription() {
	t := &c.Transcription
	t.OutputFormat = strings.ToLower(strings.TrimSpace(t.OutputFormat))
	if t.OutputFormat == "" {
		t.OutputFormat = defaultOutputFormat
	}
	if t.MaxRetries < 0 {
		t.MaxRetries = 0
	}
	exts := make([]string, 0, len(t.Extensions))
	seen := make(map[string]struct{}, len(t.Extensions))
	for _, ext := range t.Extensions {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext == "" {
			continue
		}
		if _, ok := seen[ext]; ok {
			continue
		}
		seen[ext] = struct{}{}
		exts = append(exts, ext)
	}
	if len(exts) == 0 {
		exts = append(exts, defaultExtensions...)
	}
	t.Extensions = exts
}

func (c *Config) normalizeQueue() {
	if c.Queue.PersistDebounceMS <= 0 {
		c.Queue.PersistDebounceMS = defaultPersistDebounceMS
	}
	if c.Queue.StopTimeoutSeconds <= 0 {
		c.Queue.StopTimeoutSeconds = defaultStopTimeoutSeconds
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("AURA_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
