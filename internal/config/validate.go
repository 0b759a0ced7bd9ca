package config

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateTranscription(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if c.Queue.PersistDebounceMS > 60_000 {
		return errors.New("queue.persist_debounce_ms must not exceed 60000")
	}
	return nil
}

func (c *Config) validateTranscription() error {
	switch c.Transcription.OutputFormat {
	case "txt", "text", "json", "both":
	default:
		return fmt.Errorf("transcription.output_format: unsupported value %q (expected txt, json, or both)", c.Transcription.OutputFormat)
	}
	if c.Transcription.MaxRetries > 10 {
		return errors.New("transcription.max_retries must be between 0 and 10")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json", "auto":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

// CheckWritable reports whether dir exists and is writable by the current user.
func CheckWritable(dir string) error {
	if err := unix.Access(dir, unix.W_OK|unix.X_OK); err != nil {
		return fmt.Errorf("directory %q is not writable: %w", dir, err)
	}
	return nil
}
