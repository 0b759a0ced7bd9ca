// Package scan turns filesystem paths into queue items.
package scan

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"aura/internal/logging"
	"aura/internal/media/ffprobe"
	"aura/internal/queue"
)

// SupportedExtensions lists the audio formats accepted by scans.
var SupportedExtensions = []string{"mp3", "wav", "m4a", "flac", "ogg", "aac", "aiff", "wma"}

const (
	progressStep     = 50
	progressInterval = 100 * time.Millisecond
	metadataTimeout  = 10 * time.Second
)

// Progress reports directory walk state.
type Progress struct {
	Found       int    `json:"found"`
	Scanned     int    `json:"scanned"`
	CurrentPath string `json:"currentPath"`
}

// MetadataReader extracts audio metadata for a file.
type MetadataReader func(ctx context.Context, path string) (ffprobe.Audio, bool)

// Scanner builds queue items from files and directories.
type Scanner struct {
	logger       *slog.Logger
	readMetadata MetadataReader
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithMetadataReader overrides metadata extraction. A nil reader disables it.
func WithMetadataReader(p MetadataReader) Option {
	return func(s *Scanner) { s.readMetadata = p }
}

// New returns a Scanner that reads metadata with ffprobeBinary when it is
// installed and skips metadata otherwise.
func New(ffprobeBinary string, logger *slog.Logger, opts ...Option) *Scanner {
	s := &Scanner{logger: logging.NewComponentLogger(logger, "scan")}
	var (
		once      sync.Once
		available bool
	)
	s.readMetadata = func(ctx context.Context, path string) (ffprobe.Audio, bool) {
		once.Do(func() { available = ffprobe.Available(ffprobeBinary) })
		if !available {
			return ffprobe.Audio{}, false
		}
		ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
		defer cancel()
		result, err := ffprobe.Inspect(ctx, ffprobeBinary, path)
		if err != nil {
			s.logger.Debug("ffprobe failed", logging.String(logging.FieldFile, path), logging.Error(err))
			return ffprobe.Audio{}, false
		}
		if n := result.AudioStreamCount(); n > 1 {
			s.logger.Debug("multiple audio streams, using the first",
				logging.String(logging.FieldFile, path),
				logging.Int("streams", n),
			)
		}
		return result.Audio()
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IsSupported reports whether path has a supported audio extension.
func IsSupported(path string) bool {
	_, err := extension(path)
	return err == nil
}

func extension(path string) (string, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if ext == "" {
		return "", fmt.Errorf("missing file extension: %s", path)
	}
	if !slices.Contains(SupportedExtensions, ext) {
		return "", fmt.Errorf("unsupported audio format %q: %s", ext, path)
	}
	return ext, nil
}

// Files builds an item for every path. Any missing, non-regular, or
// unsupported path fails the whole call.
func (s *Scanner) Files(ctx context.Context, paths []string) ([]queue.Item, error) {
	return s.files(ctx, "", paths)
}

// FilesIn is Files with relative paths computed against root.
func (s *Scanner) FilesIn(ctx context.Context, root string, paths []string) ([]queue.Item, error) {
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	return s.files(ctx, root, paths)
}

func (s *Scanner) files(ctx context.Context, root string, paths []string) ([]queue.Item, error) {
	items := make([]queue.Item, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		item, err := s.item(ctx, root, path)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *Scanner) item(ctx context.Context, root, path string) (queue.Item, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return queue.Item{}, fmt.Errorf("path not found: %s", path)
	}
	if err != nil {
		return queue.Item{}, fmt.Errorf("read file metadata for %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return queue.Item{}, fmt.Errorf("path is not a file: %s", path)
	}
	format, err := extension(path)
	if err != nil {
		return queue.Item{}, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	item := queue.Item{
		Path:   abs,
		Name:   filepath.Base(abs),
		Size:   info.Size(),
		Format: format,
		Status: queue.StatusIdle,
	}
	if root != "" {
		if rel, err := filepath.Rel(root, abs); err == nil {
			item.RelativePath = filepath.ToSlash(rel)
		}
	}
	if s.readMetadata != nil {
		if audio, ok := s.readMetadata(ctx, abs); ok {
			if audio.DurationSeconds > 0 {
				d := audio.DurationSeconds
				item.Duration = &d
			}
			meta := queue.AudioMetadata{
				Codec:      audio.Codec,
				Bitrate:    audio.Bitrate,
				SampleRate: audio.SampleRate,
				Channels:   audio.Channels,
			}
			if meta != (queue.AudioMetadata{}) {
				item.Metadata = &meta
			}
		}
	}
	return item, nil
}

// Directory walks root for supported files and returns their items.
// progress, when non-nil, is called every 50 files or 100ms and once at the
// end.
func (s *Scanner) Directory(ctx context.Context, root string, recursive bool, progress func(Progress)) ([]queue.Item, error) {
	info, err := os.Stat(root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("directory not found: %s", root)
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("path is not a directory: %s", root)
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", root, err)
	}

	var (
		state      Progress
		discovered []string
		started    = time.Now()
		lastEmit   = started
	)
	walkErr := filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			s.logger.Warn("scan entry skipped", logging.String(logging.FieldFile, path), logging.Error(err))
			if d != nil && d.IsDir() && path != absRoot {
				return fs.SkipDir
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if path != absRoot && !recursive {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		state.Scanned++
		state.CurrentPath = path
		if IsSupported(path) {
			state.Found++
			discovered = append(discovered, path)
		}
		if progress != nil && (state.Scanned%progressStep == 0 || time.Since(lastEmit) >= progressInterval) {
			progress(state)
			lastEmit = time.Now()
		}
		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}
	if progress != nil {
		state.CurrentPath = absRoot
		progress(state)
	}
	s.logger.Debug("directory scanned",
		logging.String(logging.FieldFile, absRoot),
		logging.Int("scanned", state.Scanned),
		logging.Int("found", state.Found),
		logging.Duration("elapsed", time.Since(started)),
	)
	return s.files(ctx, absRoot, discovered)
}
