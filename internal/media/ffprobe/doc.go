// Package ffprobe provides a typed wrapper around ffprobe JSON output for
// audio inputs.
//
// Inspect runs ffprobe and decodes its streams and format sections; the
// Result helpers pick out the values aura records per queue item (duration,
// codec, bitrate, sample rate, channel count). Available reports whether an
// ffprobe binary can be found so callers can skip metadata gracefully.
package ffprobe
