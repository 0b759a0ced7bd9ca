// Package providers knows which transcription engines aura can launch.
//
// Each provider maps to a Runtime describing how its worker process starts:
// a native binary (coreml-local), a Python package run through uv
// (whisper-openai, faster-whisper), or the Go reference worker (aura-exec).
// Registry.Discover reports availability and capabilities for display;
// Registry.Resolve validates a provider/model pair and returns the Runtime
// whose LaunchCommand the launcher executes.
package providers
