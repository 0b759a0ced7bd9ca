package deps

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// CheckFFmpeg reports the FFmpeg binary used for decode fallback. An ffmpeg
// installed next to the configured ffprobe wins over one found on PATH so
// both tools come from the same build.
func CheckFFmpeg(ffprobeCommand string) Status {
	result := Status{
		Name:        "FFmpeg",
		Description: "Decode fallback for unsupported containers",
		Optional:    true,
	}

	ffprobeBinary := strings.TrimSpace(ffprobeCommand)
	if ffprobeBinary != "" {
		if resolved, err := exec.LookPath(ffprobeBinary); err == nil {
			candidate := siblingBinary(resolved, "ffmpeg")
			if info, statErr := os.Stat(candidate); statErr == nil && isExecutable(info) {
				result.Command = candidate
				result.Available = true
				return result
			}
		}
	}

	ffmpegName := "ffmpeg"
	if ffmpegPath, err := exec.LookPath(ffmpegName); err == nil {
		result.Command = ffmpegPath
		result.Available = true
		return result
	}

	result.Command = ffmpegName
	result.Available = false
	result.Detail = fmt.Sprintf("binary %q not found", ffmpegName)
	return result
}

func siblingBinary(path, name string) string {
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	return filepath.Join(filepath.Dir(path), name)
}

func isExecutable(info os.FileInfo) bool {
	if info == nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}
