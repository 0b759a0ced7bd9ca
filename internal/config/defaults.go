package config

const (
	defaultStateDir                 = "~/.aura"
	defaultSessionsDir              = "~/.aura/sessions"
	defaultOutputDir                = "~/Transcripts"
	defaultModelsRoot               = "~/Library/Application Support/FluidAudio/Models"
	defaultCoreMLBinary             = "swift-worker/.build/release/coreml-batch"
	defaultUVBinary                 = "uv"
	defaultWorkerBinary             = "aura-worker"
	defaultFFprobeBinary            = "ffprobe"
	defaultCapabilityTimeoutSeconds = 5
	defaultOutputFormat             = "both"
	defaultMaxRetries               = 1
	defaultPersistDebounceMS        = 500
	defaultStopTimeoutSeconds       = 5
	defaultNotifyRequestTimeout     = 10
	defaultLogFormat                = "console"
	defaultLogLevel                 = "info"
)

var defaultExtensions = []string{"mp3", "wav", "m4a"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir:    defaultStateDir,
			SessionsDir: defaultSessionsDir,
			OutputDir:   defaultOutputDir,
		},
		Providers: Providers{
			CoreMLBinary:             defaultCoreMLBinary,
			ModelsRoot:               defaultModelsRoot,
			UVBinary:                 defaultUVBinary,
			WorkerBinary:             defaultWorkerBinary,
			FFprobeBinary:            defaultFFprobeBinary,
			CapabilityTimeoutSeconds: defaultCapabilityTimeoutSeconds,
			CheckAvailability:        true,
		},
		Transcription: Transcription{
			OutputFormat:   defaultOutputFormat,
			Recursive:      true,
			MaxRetries:     defaultMaxRetries,
			Extensions:     append([]string(nil), defaultExtensions...),
			FFmpegFallback: true,
		},
		Queue: Queue{
			PersistDebounceMS:  defaultPersistDebounceMS,
			StopTimeoutSeconds: defaultStopTimeoutSeconds,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			OnComplete:     true,
			OnError:        true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
