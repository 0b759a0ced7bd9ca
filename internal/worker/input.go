package worker

import (
	"errors"
	"path/filepath"
	"strings"

	"aura/internal/manifest"
)

// Exit codes reported by the worker process.
const (
	ExitSuccess = 0
	ExitFatal   = 1
	ExitPartial = 2
)

// Input selects what a run transcribes. Exactly one of Files/Dir or
// ManifestPath must be set.
type Input struct {
	Files        []string
	Dir          string
	ManifestPath string

	OutputDir  string
	Model      string
	SessionID  string
	ReportPath string
	Settings   manifest.Settings
}

// Validate checks that the input names exactly one source.
func (in Input) Validate() error {
	direct := len(in.Files) > 0 || strings.TrimSpace(in.Dir) != ""
	fromManifest := strings.TrimSpace(in.ManifestPath) != ""
	switch {
	case direct && fromManifest:
		return errors.New("use either files/dir or --manifest, not both")
	case !direct && !fromManifest:
		return errors.New("no input: pass files, --dir, or --manifest")
	case len(in.Files) > 0 && strings.TrimSpace(in.Dir) != "":
		return errors.New("use either files or --dir, not both")
	}
	if !fromManifest && strings.TrimSpace(in.OutputDir) == "" {
		return errors.New("--output-dir is required")
	}
	return nil
}

// sanitizeRelative drops absolute prefixes and parent segments so outputs
// stay under the output directory. It returns "" when nothing usable remains.
func sanitizeRelative(rel string) string {
	rel = strings.ReplaceAll(strings.TrimSpace(rel), "\\", "/")
	var parts []string
	for _, seg := range strings.Split(rel, "/") {
		if seg == "" || seg == "." || seg == ".." {
			continue
		}
		parts = append(parts, seg)
	}
	if len(parts) == 0 {
		return ""
	}
	return filepath.Join(parts...)
}

// outputBase returns the output path without extension for a source file.
func outputBase(outputDir, source, relative string) string {
	rel := sanitizeRelative(relative)
	if rel == "" {
		rel = filepath.Base(source)
	}
	return filepath.Join(outputDir, strings.TrimSuffix(rel, filepath.Ext(rel)))
}

func wantsTXT(format string) bool {
	switch strings.ToLower(format) {
	case "json":
		return false
	default:
		return true
	}
}

func wantsJSON(format string) bool {
	switch strings.ToLower(format) {
	case "json", "both":
		return true
	default:
		return false
	}
}
