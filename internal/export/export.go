// Package export reads transcripts and bundles completed ones into a zip
// archive or a folder.
package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"

	"aura/internal/fileutil"
	"aura/internal/queue"
)

// ErrNothingToExport is returned when no completed item has a transcript.
var ErrNothingToExport = errors.New("no completed transcript files available for export")

// Format selects the export container.
type Format string

const (
	FormatZip    Format = "zip"
	FormatFolder Format = "folder"
)

// Naming selects how exported files are named.
type Naming string

const (
	NamingPreserve  Naming = "preserve"
	NamingTimestamp Naming = "timestamp"
	NamingNumbered  Naming = "numbered"
)

// Options controls Export.
type Options struct {
	Format            Format `json:"format"`
	Naming            Naming `json:"naming"`
	IncludeMetadata   bool   `json:"includeMetadata"`
	PreserveStructure bool   `json:"preserveStructure"`
}

// DefaultOptions returns zip export with preserved names and metadata.
func DefaultOptions() Options {
	return Options{Format: FormatZip, Naming: NamingPreserve, IncludeMetadata: true}
}

// ParseFormat validates a format flag value.
func ParseFormat(value string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(value))); f {
	case FormatZip, FormatFolder:
		return f, nil
	case "":
		return FormatZip, nil
	default:
		return "", fmt.Errorf("unsupported export format %q (expected zip or folder)", value)
	}
}

// ParseNaming validates a naming flag value.
func ParseNaming(value string) (Naming, error) {
	switch n := Naming(strings.ToLower(strings.TrimSpace(value))); n {
	case NamingPreserve, NamingTimestamp, NamingNumbered:
		return n, nil
	case "":
		return NamingPreserve, nil
	default:
		return "", fmt.Errorf("unsupported naming %q (expected preserve, timestamp, or numbered)", value)
	}
}

// Metadata is written as metadata.json next to the exported files.
type Metadata struct {
	ExportedAt     string          `json:"exportedAt"`
	TotalItems     int             `json:"totalItems"`
	CompletedItems int             `json:"completedItems"`
	FailedItems    int             `json:"failedItems"`
	ExportedFiles  int             `json:"exportedFiles"`
	Entries        []MetadataEntry `json:"entries"`
}

// MetadataEntry maps one source transcript to its exported name.
type MetadataEntry struct {
	ItemID       string `json:"itemId"`
	SourcePath   string `json:"sourcePath"`
	ExportedPath string `json:"exportedPath"`
}

type prepared struct {
	source string
	name   string
	itemID string
}

var now = time.Now

// ReadTranscript returns the contents of a transcript file.
func ReadTranscript(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", errors.New("transcript path is empty")
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("transcript file not found: %s", p)
	}
	if err != nil {
		return "", fmt.Errorf("read transcript %s: %w", p, err)
	}
	return string(data), nil
}

// CopyTranscript copies a transcript to dst, creating parent directories.
func CopyTranscript(src, dst string) error {
	src = strings.TrimSpace(src)
	dst = strings.TrimSpace(dst)
	if src == "" || dst == "" {
		return errors.New("source and destination are required")
	}
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("transcript file not found: %s", src)
	}
	return fileutil.CopyFile(src, dst)
}

// Export writes the transcripts of completed items to destination and
// returns the destination path.
func Export(items []queue.Item, destination string, opts Options) (string, error) {
	destination = strings.TrimSpace(destination)
	if destination == "" {
		return "", errors.New("export destination is empty")
	}
	if opts.Format == "" {
		opts.Format = FormatZip
	}
	if opts.Naming == "" {
		opts.Naming = NamingPreserve
	}

	files, err := collect(items, opts)
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", ErrNothingToExport
	}

	var meta *Metadata
	if opts.IncludeMetadata {
		m := buildMetadata(items, files)
		meta = &m
	}

	switch opts.Format {
	case FormatZip:
		err = writeZip(destination, files, meta)
	case FormatFolder:
		err = writeFolder(destination, files, meta)
	default:
		err = fmt.Errorf("unsupported export format %q", opts.Format)
	}
	if err != nil {
		return "", err
	}
	return destination, nil
}

func collect(items []queue.Item, opts Options) ([]prepared, error) {
	var (
		out      []prepared
		used     = make(map[string]struct{})
		sequence = 1
		stamp    = now().UTC().Format("20060102T150405Z")
	)
	for _, item := range items {
		if item.Status != queue.StatusCompleted {
			continue
		}
		var sources []string
		for _, candidate := range []string{item.TranscriptPath, item.JSONPath} {
			if c := strings.TrimSpace(candidate); c != "" {
				sources = append(sources, c)
			}
		}
		parent := ""
		if opts.PreserveStructure {
			parent = sanitizeParent(item.RelativePath)
		}
		for _, src := range sources {
			if _, err := os.Stat(src); err != nil {
				return nil, fmt.Errorf("transcript file not found: %s", src)
			}
			name := exportName(filepath.Base(src), opts.Naming, sequence, stamp)
			sequence++
			out = append(out, prepared{
				source: src,
				name:   dedupe(path.Join(parent, name), used),
				itemID: item.ID,
			})
		}
	}
	return out, nil
}

func exportName(base string, naming Naming, sequence int, stamp string) string {
	switch naming {
	case NamingTimestamp:
		return stamp + "_" + base
	case NamingNumbered:
		return fmt.Sprintf("%04d_%s", sequence, base)
	default:
		return base
	}
}

// sanitizeParent keeps only the normal segments of the relative path's
// directory so exports never escape the destination.
func sanitizeParent(relative string) string {
	relative = strings.ReplaceAll(strings.TrimSpace(relative), "\\", "/")
	if relative == "" {
		return ""
	}
	var segments []string
	for _, seg := range strings.Split(path.Dir(relative), "/") {
		if seg == "" || seg == "." || seg == ".." {
			continue
		}
		segments = append(segments, seg)
	}
	return strings.Join(segments, "/")
}

func splitName(name string) (string, string) {
	if i := strings.LastIndex(name, "."); i > 0 && i < len(name)-1 {
		return name[:i], name[i+1:]
	}
	return name, ""
}

func dedupe(candidate string, used map[string]struct{}) string {
	if _, taken := used[candidate]; !taken {
		used[candidate] = struct{}{}
		return candidate
	}
	dir, file := path.Split(candidate)
	stem, ext := splitName(file)
	for i := 2; ; i++ {
		next := fmt.Sprintf("%s-%d", stem, i)
		if ext != "" {
			next += "." + ext
		}
		next = dir + next
		if _, taken := used[next]; !taken {
			used[next] = struct{}{}
			return next
		}
	}
}

func buildMetadata(items []queue.Item, files []prepared) Metadata {
	meta := Metadata{
		ExportedAt:    now().UTC().Format(time.RFC3339),
		TotalItems:    len(items),
		ExportedFiles: len(files),
		Entries:       make([]MetadataEntry, 0, len(files)),
	}
	for _, item := range items {
		switch item.Status {
		case queue.StatusCompleted:
			meta.CompletedItems++
		case queue.StatusError:
			meta.FailedItems++
		}
	}
	for _, f := range files {
		meta.Entries = append(meta.Entries, MetadataEntry{ItemID: f.itemID, SourcePath: f.source, ExportedPath: f.name})
	}
	return meta
}

func writeZip(destination string, files []prepared, meta *Metadata) (err error) {
	if dir := filepath.Dir(destination); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create export directory %s: %w", dir, err)
		}
	}
	out, err := os.Create(destination)
	if err != nil {
		return fmt.Errorf("create archive %s: %w", destination, err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close archive %s: %w", destination, cerr)
		}
	}()

	zw := zip.NewWriter(out)
	for _, f := range files {
		data, err := os.ReadFile(f.source)
		if err != nil {
			return fmt.Errorf("read transcript %s: %w", f.source, err)
		}
		w, err := zw.Create(f.name)
		if err != nil {
			return fmt.Errorf("add archive entry %s: %w", f.name, err)
		}
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("write archive entry %s: %w", f.name, err)
		}
	}
	if meta != nil {
		payload, err := json.MarshalIndent(meta, "", "  ")
		if err != nil {
			return fmt.Errorf("encode export metadata: %w", err)
		}
		w, err := zw.Create("metadata.json")
		if err != nil {
			return fmt.Errorf("add metadata.json to archive: %w", err)
		}
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("write metadata.json to archive: %w", err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalize archive %s: %w", destination, err)
	}
	return nil
}

func writeFolder(destination string, files []prepared, meta *Metadata) error {
	if err := os.MkdirAll(destination, 0o755); err != nil {
		return fmt.Errorf("create export destination %s: %w", destination, err)
	}
	for _, f := range files {
		target := filepath.Join(destination, filepath.FromSlash(f.name))
		if err := fileutil.CopyFileVerified(f.source, target); err != nil {
			return fmt.Errorf("copy transcript %s -> %s: %w", f.source, target, err)
		}
	}
	if meta != nil {
		payload, err := json.MarshalIndent(meta, "", "  ")
		if err != nil {
			return fmt.Errorf("encode export metadata: %w", err)
		}
		if err := fileutil.WriteAtomic(filepath.Join(destination, "metadata.json"), payload, 0o644); err != nil {
			return fmt.Errorf("write metadata file: %w", err)
		}
	}
	return nil
}
