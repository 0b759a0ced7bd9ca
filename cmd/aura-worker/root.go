package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"aura/internal/logging"
	"aura/internal/manifest"
	"aura/internal/protocol"
	"aura/internal/worker"
)

type workerFlags struct {
	manifestPath string
	dir          string
	outputDir    string
	model        string
	execCommand  string
	format       string
	retries      int
	overwrite    bool
	recursive    bool
	dryRun       bool
	extensions   []string
	reportPath   string
	sessionID    string
	ffprobe      string
	timeout      time.Duration
	capabilities bool
	logLevel     string
}

func newRootCommand() *cobra.Command {
	var f workerFlags

	cmd := &cobra.Command{
		Use:           "aura-worker [files...]",
		Short:         "Reference transcription worker for aura",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine := &worker.ExecEngine{
				Command:       f.execCommand,
				Model:         f.model,
				FFprobeBinary: f.ffprobe,
				Timeout:       f.timeout,
			}
			if f.capabilities {
				enc := json.NewEncoder(cmd.OutOrStdout())
				return enc.Encode(engine.Capabilities())
			}

			logger, err := logging.New(logging.Options{Level: f.logLevel, Format: "json", OutputPaths: []string{"stderr"}})
			if err != nil {
				return err
			}

			format := strings.ToLower(strings.TrimSpace(f.format))
			switch format {
			case "txt", "text", "json", "both":
			default:
				return fmt.Errorf("unsupported --format %q (expected txt, json, or both)", f.format)
			}

			settings := manifest.DefaultSettings()
			settings.OutputFormat = format
			settings.MaxRetries = f.retries
			settings.Overwrite = f.overwrite
			settings.Recursive = f.recursive
			settings.DryRun = f.dryRun
			if len(f.extensions) > 0 {
				settings.Extensions = f.extensions
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			emitter := protocol.NewEmitter(cmd.OutOrStdout())
			runner := worker.NewRunner(engine, emitter, logger, worker.WithFFprobe(f.ffprobe))
			summary, err := runner.Run(ctx, worker.Input{
				Files:        args,
				Dir:          f.dir,
				ManifestPath: f.manifestPath,
				OutputDir:    f.outputDir,
				Model:        f.model,
				SessionID:    f.sessionID,
				ReportPath:   f.reportPath,
				Settings:     settings,
			})
			if err != nil {
				logger.Error("run aborted", logging.Error(err))
				return &exitCodeError{code: worker.ExitFatal}
			}
			if code := summary.ExitCode(); code != worker.ExitSuccess {
				return &exitCodeError{code: code}
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.manifestPath, "manifest", "", "Session manifest (JSON or YAML) listing the files to transcribe")
	flags.StringVar(&f.dir, "dir", "", "Directory to scan for audio files")
	flags.StringVar(&f.outputDir, "output-dir", "", "Transcript output directory")
	flags.StringVar(&f.model, "model", "", "Model name reported in events")
	flags.StringVar(&f.execCommand, "exec", os.Getenv("AURA_WORKER_COMMAND"), "Transcription command; {input} is replaced with the audio path")
	flags.StringVar(&f.format, "format", "both", "Output format: txt, json, or both")
	flags.IntVar(&f.retries, "retries", 1, "Retries per file after the first failure")
	flags.BoolVar(&f.overwrite, "overwrite", false, "Overwrite existing transcripts")
	flags.BoolVar(&f.recursive, "recursive", true, "Descend into subdirectories with --dir")
	flags.BoolVar(&f.dryRun, "dry-run", false, "Skip every file without transcribing")
	flags.StringSliceVar(&f.extensions, "ext", nil, "Extensions collected with --dir")
	flags.StringVar(&f.reportPath, "report", "", "Write a JSON run report to this path")
	flags.StringVar(&f.sessionID, "session-id", "", "Session id reported in the start event")
	flags.StringVar(&f.ffprobe, "ffprobe", "ffprobe", "ffprobe binary used for durations")
	flags.DurationVar(&f.timeout, "timeout", 0, "Per-file transcription timeout")
	flags.BoolVar(&f.capabilities, "capabilities", false, "Print capabilities JSON and exit")
	flags.StringVar(&f.logLevel, "log-level", "info", "Log level for stderr logs")
	return cmd
}
