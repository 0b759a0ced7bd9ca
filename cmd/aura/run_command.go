package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"aura/internal/history"
	"aura/internal/launcher"
	"aura/internal/manifest"
	"aura/internal/notifications"
	"aura/internal/providers"
	"aura/internal/queue"
)

type runOptions struct {
	provider  string
	model     string
	outputDir string
	format    string
	retries   int
	overwrite bool
	dryRun    bool
	selected  bool
	quiet     bool
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run [item...]",
		Short: "Transcribe queued files with a provider",
		Long: "Transcribe idle queue items. Items can be named by id, id prefix, or queue position; " +
			"with none given, the selection (--selected) or every idle item is used.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app) error {
				return runTranscription(cmd, a, opts, args)
			})
		},
	}

	cmd.Flags().StringVarP(&opts.provider, "provider", "p", providers.ExecID, "Provider id")
	cmd.Flags().StringVarP(&opts.model, "model", "m", "default", "Model name passed to the provider")
	cmd.Flags().StringVarP(&opts.outputDir, "output", "o", "", "Transcript output directory (defaults to paths.output_dir)")
	cmd.Flags().StringVar(&opts.format, "format", "", "Output format: txt, json, or both")
	cmd.Flags().IntVar(&opts.retries, "retries", -1, "Retries per file (defaults to transcription.max_retries)")
	cmd.Flags().BoolVar(&opts.overwrite, "overwrite", false, "Overwrite existing transcripts")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Report what would run without transcribing")
	cmd.Flags().BoolVar(&opts.selected, "selected", false, "Transcribe the current selection")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "Only print the final summary")
	return cmd
}

func runTranscription(cmd *cobra.Command, a *app, opts runOptions, args []string) error {
	settings, err := runSettings(cmd, a, opts)
	if err != nil {
		return err
	}

	var ids []string
	switch {
	case len(args) > 0:
		if ids, err = resolveItemRefs(a.engine.Items(), args); err != nil {
			return err
		}
	case opts.selected:
		if ids = a.engine.Selection(); len(ids) == 0 {
			return errors.New("selection is empty; use `aura queue select` first")
		}
	}

	sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	a.serveMetrics(sigCtx)

	l := launcher.New(a.cfg, a.engine, a.registry, a.logger,
		launcher.WithArchiver(a.history),
		launcher.WithDecodeErrorHook(a.metrics.DecodeError),
	)

	printer := newProgressPrinter(cmd.OutOrStdout(), a.engine.Items())
	if !opts.quiet {
		unsubscribe := a.engine.Subscribe(printer.observe)
		defer unsubscribe()
	}

	sessionID, err := l.Start(sigCtx, launcher.StartRequest{
		Provider:  opts.provider,
		Model:     opts.model,
		OutputDir: opts.outputDir,
		ItemIDs:   ids,
		Settings:  &settings,
	})
	if err != nil {
		return err
	}
	printer.printf("Session %s started\n", sessionID)

	result, err := l.Wait(sigCtx)
	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(cmd.ErrOrStderr(), "Stopping worker...")
		if stopErr := l.Stop(sessionID); stopErr != nil && !errors.Is(stopErr, launcher.ErrNoActiveRun) {
			return stopErr
		}
		result, err = l.Wait(context.Background())
	}
	if err != nil {
		return err
	}

	printRunResult(cmd.OutOrStdout(), result)
	if result.Status == history.StatusCancelled || result.ExitCode == 0 {
		return nil
	}
	return &exitCodeError{code: result.ExitCode}
}

func runSettings(cmd *cobra.Command, a *app, opts runOptions) (manifest.Settings, error) {
	settings := manifest.SettingsFromConfig(a.cfg)
	flags := cmd.Flags()
	if flags.Changed("format") {
		format := strings.ToLower(strings.TrimSpace(opts.format))
		switch format {
		case "txt", "text", "json", "both":
			settings.OutputFormat = format
		default:
			return settings, fmt.Errorf("unsupported output format %q (expected txt, json, or both)", opts.format)
		}
	}
	if flags.Changed("retries") {
		if opts.retries < 0 || opts.retries > 10 {
			return settings, errors.New("--retries must be between 0 and 10")
		}
		settings.MaxRetries = opts.retries
	}
	if flags.Changed("overwrite") {
		settings.Overwrite = opts.overwrite
	}
	if flags.Changed("dry-run") {
		settings.DryRun = opts.dryRun
	}
	return settings, nil
}

// progressPrinter reports item transitions as the engine reconciles worker
// events. Listeners may fire from the launcher's reader goroutine.
type progressPrinter struct {
	mu   sync.Mutex
	out  io.Writer
	seen map[string]queue.Status
}

func newProgressPrinter(out io.Writer, items []queue.Item) *progressPrinter {
	p := &progressPrinter{out: out, seen: make(map[string]queue.Status, len(items))}
	for _, it := range items {
		p.seen[it.ID] = it.Status
	}
	return p
}

func (p *progressPrinter) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}

func (p *progressPrinter) observe(snap queue.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, it := range snap.Items {
		prev, known := p.seen[it.ID]
		p.seen[it.ID] = it.Status
		if !known || prev == it.Status {
			continue
		}
		switch it.Status {
		case queue.StatusProcessing:
			fmt.Fprintf(p.out, "  > %s\n", it.Name)
		case queue.StatusCompleted:
			fmt.Fprintf(p.out, "  ✓ %s -> %s\n", it.Name, baseName(firstNonEmpty(it.TranscriptPath, it.JSONPath)))
		case queue.StatusError:
			fmt.Fprintf(p.out, "  ✗ %s: %s\n", it.Name, it.Error)
		}
	}
}

func printRunResult(out io.Writer, result launcher.Result) {
	rec := result.Record
	fmt.Fprintf(out, "Session %s %s (exit %d)\n", result.SessionID, result.Status, result.ExitCode)
	if rec.ID == "" {
		return
	}
	fmt.Fprintf(out, "%d processed, %d skipped, %d failed of %d in %s\n",
		rec.Processed, rec.Skipped, rec.Failed, rec.Total,
		notifications.FormatDuration(rec.DurationSeconds))
	if rec.OutputDir != "" {
		fmt.Fprintf(out, "Output: %s\n", rec.OutputDir)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
