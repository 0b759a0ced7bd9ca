package launcher

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"aura/internal/config"
	"aura/internal/fileutil"
	"aura/internal/history"
	"aura/internal/logging"
	"aura/internal/manifest"
	"aura/internal/notifications"
	"aura/internal/protocol"
	"aura/internal/providers"
	"aura/internal/queue"
	"aura/internal/store"
)

// Sentinel errors for run control.
var (
	ErrSessionActive   = errors.New("a transcription session is already running")
	ErrSessionMismatch = errors.New("session id does not match the active run")
	ErrNoFiles         = errors.New("no files to transcribe")
	ErrNoActiveRun     = errors.New("no transcription run has been started")
)

const notifyTimeout = 15 * time.Second

// Resolver maps a provider and model to a worker runtime.
type Resolver interface {
	Resolve(ctx context.Context, id, model string) (providers.Runtime, error)
}

// Archiver records finished runs.
type Archiver interface {
	Archive(ctx context.Context, in history.Archive) (store.Session, error)
}

// StartRequest describes a run.
type StartRequest struct {
	Provider  string
	Model     string
	OutputDir string
	// ItemIDs selects the items to transcribe; empty means every idle item.
	ItemIDs []string
	// Settings overrides the configured transcription defaults.
	Settings *manifest.Settings
}

// Result is the outcome of a finished run.
type Result struct {
	SessionID string
	ExitCode  int
	Status    string
	Record    store.Session
}

// Launcher runs at most one worker at a time.
type Launcher struct {
	engine      *queue.Engine
	resolver    Resolver
	archiver    Archiver
	notifier    notifications.Service
	logger      *slog.Logger
	sampler     *logging.ProgressSampler
	onDecodeErr func(protocol.ErrorKind)

	lockPath    string
	sessionsDir string
	outputDir   string
	stopTimeout time.Duration
	logLevel    string
	settings    manifest.Settings

	mu     sync.Mutex
	active *run
	last   *Result
}

type run struct {
	sessionID    string
	manifestPath string
	manifest     manifest.Session
	outputDir    string
	itemIDs      []string
	cmd          *exec.Cmd
	lock         *flock.Flock
	logger       *slog.Logger
	closeLog     func() error
	stopped      atomic.Bool
	done         chan struct{}
	result       Result

	mu       sync.Mutex
	outcomes map[string]queue.FileOutcome
}

// Option configures a Launcher.
type Option func(*Launcher)

// WithArchiver records finished runs in history.
func WithArchiver(a Archiver) Option {
	return func(l *Launcher) { l.archiver = a }
}

// WithNotifier overrides the notification service.
func WithNotifier(n notifications.Service) Option {
	return func(l *Launcher) {
		if n != nil {
			l.notifier = n
		}
	}
}

// WithDecodeErrorHook is called for every rejected stdout line.
func WithDecodeErrorHook(fn func(protocol.ErrorKind)) Option {
	return func(l *Launcher) { l.onDecodeErr = fn }
}

// New builds a launcher from configuration.
func New(cfg *config.Config, engine *queue.Engine, resolver Resolver, logger *slog.Logger, opts ...Option) *Launcher {
	l := &Launcher{
		engine:      engine,
		resolver:    resolver,
		notifier:    notifications.NewService(cfg),
		logger:      logging.NewComponentLogger(logger, "launcher"),
		sampler:     logging.NewProgressSampler(10),
		lockPath:    cfg.LockPath(),
		sessionsDir: cfg.Paths.SessionsDir,
		outputDir:   cfg.Paths.OutputDir,
		stopTimeout: cfg.StopTimeout(),
		logLevel:    cfg.Logging.Level,
		settings:    manifest.SettingsFromConfig(cfg),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ActiveSession returns the id of the running session, if any.
func (l *Launcher) ActiveSession() (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active == nil {
		return "", false
	}
	return l.active.sessionID, true
}

// Start launches a worker for the requested items and returns the session id.
func (l *Launcher) Start(ctx context.Context, req StartRequest) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active != nil {
		return "", ErrSessionActive
	}

	items, err := l.selectItems(req.ItemIDs)
	if err != nil {
		return "", err
	}

	outputDir := strings.TrimSpace(req.OutputDir)
	if outputDir == "" {
		outputDir = l.outputDir
	}
	if outputDir == "" {
		return "", errors.New("output directory is required")
	}
	if outputDir, err = config.ExpandPath(outputDir); err != nil {
		return "", fmt.Errorf("output directory: %w", err)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	runtime, err := l.resolver.Resolve(ctx, req.Provider, req.Model)
	if err != nil {
		return "", err
	}

	lock := flock.New(l.lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return "", fmt.Errorf("acquire run lock: %w", err)
	}
	if !locked {
		return "", ErrSessionActive
	}

	settings := l.settings
	if req.Settings != nil {
		settings = *req.Settings
	}
	provider := providers.NormalizeID(req.Provider)
	model := strings.TrimSpace(req.Model)
	for i := range items {
		items[i].Status = queue.StatusQueued
	}
	sessionID, manifestPath, err := manifest.Generate(l.sessionsDir, provider, model, outputDir, items, settings)
	if err != nil {
		_ = lock.Unlock()
		return "", err
	}
	session, err := manifest.Load(manifestPath)
	if err != nil {
		_ = manifest.Cleanup(manifestPath)
		_ = lock.Unlock()
		return "", err
	}

	runLogger, closeLog := l.sessionLogger(sessionID, manifestPath)
	runLogger = runLogger.With(logging.Args(logging.RunAttrs(provider, model)...)...)
	abort := func() {
		_ = closeLog()
		_ = manifest.Cleanup(manifestPath)
		_ = fileutil.RemoveIfExists(manifest.LogPath(manifestPath))
		_ = lock.Unlock()
	}

	command, err := runtime.LaunchCommand(manifestPath, outputDir)
	if err != nil {
		abort()
		return "", err
	}
	cmd := exec.Command(command.Program, command.Args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		abort()
		return "", fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		abort()
		return "", fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		abort()
		return "", fmt.Errorf("start worker %s: %w", command.Program, err)
	}

	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	r := &run{
		sessionID:    sessionID,
		manifestPath: manifestPath,
		manifest:     session,
		outputDir:    outputDir,
		itemIDs:      ids,
		cmd:          cmd,
		lock:         lock,
		logger:       runLogger,
		closeLog:     closeLog,
		done:         make(chan struct{}),
		outcomes:     make(map[string]queue.FileOutcome),
	}
	l.active = r
	l.engine.BeginRun(sessionID, provider, model, ids...)

	runLogger.Info("worker started",
		logging.Int("files", len(items)),
		logging.String("command", command.String()),
	)

	go l.supervise(r, stdout, stderr)
	return sessionID, nil
}

// sessionLogger tees the launcher's logs for one run into a JSON log next to
// the manifest. Without the file the run still logs to the main logger.
func (l *Launcher) sessionLogger(sessionID, manifestPath string) (*slog.Logger, func() error) {
	logger := logging.WithSession(l.logger, sessionID)
	handler, closeFn, err := logging.NewSessionFileHandler(manifest.LogPath(manifestPath), l.logLevel)
	if err != nil {
		logging.WarnWithContext(logger, "session log unavailable", "session_log_open",
			logging.Error(err),
			logging.String(logging.FieldImpact, "run is only logged to the main log"),
		)
		return logger, func() error { return nil }
	}
	return logging.TeeLogger(logger, logging.WithSession(slog.New(handler), sessionID).Handler()), closeFn
}

func (l *Launcher) selectItems(ids []string) ([]queue.Item, error) {
	var items []queue.Item
	if len(ids) == 0 {
		items = l.engine.IdleItems()
	} else {
		for _, id := range ids {
			it, ok := l.engine.ItemByID(id)
			if !ok {
				return nil, fmt.Errorf("unknown item %q", id)
			}
			items = append(items, it)
		}
	}
	if len(items) == 0 {
		return nil, ErrNoFiles
	}
	return items, nil
}

func (l *Launcher) supervise(r *run, stdout, stderr io.Reader) {
	logger := r.logger

	var g errgroup.Group
	g.Go(func() error { return l.readEvents(r, stdout, logger) })
	g.Go(func() error { return forwardStderr(stderr, logger) })
	if err := g.Wait(); err != nil {
		logger.Warn("worker stream ended with error", logging.Error(err))
	}

	exitCode := 0
	if err := r.cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			logger.Warn("worker wait failed", logging.Error(err))
		}
	}
	if state := r.cmd.ProcessState; state != nil {
		exitCode = state.ExitCode()
	}

	cancelled := r.stopped.Load()
	if cancelled {
		l.engine.CancelRun(r.itemIDs...)
	} else {
		l.engine.FinishRun(exitCode)
	}
	l.finish(r, exitCode, cancelled, logger)
}

func (l *Launcher) readEvents(r *run, stdout io.Reader, logger *slog.Logger) error {
	scanner := protocol.NewScanner(stdout, protocol.Lenient)
	for scanner.Next() {
		if lerr := scanner.LineError(); lerr != nil {
			if l.onDecodeErr != nil {
				l.onDecodeErr(lerr.Kind)
			}
			logger.Warn("worker emitted invalid event",
				logging.Int(logging.FieldLine, lerr.Line),
				logging.String("kind", string(lerr.Kind)),
				logging.String("field", lerr.Field),
				logging.String("reason", lerr.Reason),
			)
			continue
		}
		ev := scanner.Event()
		if path, outcome, ok := queue.OutcomeOf(ev); ok {
			r.mu.Lock()
			r.outcomes[path] = outcome
			r.mu.Unlock()
			l.sampler.Forget(path)
		}
		l.logEvent(ev, logger)
		l.engine.Apply(ev)
	}
	if err := scanner.Err(); err != nil {
		// Keep the pipe empty so the worker can still exit.
		_, _ = io.Copy(io.Discard, stdout)
		return err
	}
	return nil
}

func (l *Launcher) logEvent(ev protocol.Event, logger *slog.Logger) {
	switch ev := ev.(type) {
	case *protocol.FileProgressEvent:
		if l.sampler.ShouldLog(ev.File, ev.Progress) {
			logger.Debug("file progress", logging.Args(logging.FileAttrs(ev.File, ev.Index,
				logging.Int("percent", int(ev.Progress)),
			)...)...)
		}
	case *protocol.FileDoneEvent:
		logger.Info("file transcribed", logging.Args(logging.FileAttrs(ev.File, ev.Index,
			logging.Float64("audio_seconds", ev.DurationSeconds),
			logging.Float64("rtfx", ev.RTFx),
		)...)...)
	case *protocol.FileFailedEvent:
		logging.WarnWithContext(logger, "file failed", "file_failed",
			logging.FileAttrs(ev.File, ev.Index, logging.String("error", ev.Error))...,
		)
	case *protocol.FatalErrorEvent:
		logging.ErrorWithContext(logger, "worker reported fatal error", "worker_fatal",
			logging.String("error", ev.Error),
		)
	case *protocol.UnknownEvent:
		logger.Debug("unknown worker event", logging.String(logging.FieldEventType, string(ev.Type())))
	default:
		logger.Debug("worker event", logging.String(logging.FieldEventType, string(protocol.TypeOf(ev))))
	}
}

func forwardStderr(stderr io.Reader, logger *slog.Logger) error {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 4096), protocol.MaxLineBytes)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		logger.Debug("worker stderr", logging.String("line", line))
	}
	if err := scanner.Err(); err != nil {
		_, _ = io.Copy(io.Discard, stderr)
		return err
	}
	return nil
}

func (l *Launcher) finish(r *run, exitCode int, cancelled bool, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(logging.ContextWithSession(context.Background(), r.sessionID), notifyTimeout)
	defer cancel()

	status := history.StatusForExit(exitCode, cancelled)
	snapshot := l.engine.Run()
	summary := history.SummaryFromRun(snapshot)

	r.mu.Lock()
	outcomes := make(map[string]queue.FileOutcome, len(r.outcomes))
	for k, v := range r.outcomes {
		outcomes[k] = v
	}
	r.mu.Unlock()

	result := Result{SessionID: r.sessionID, ExitCode: exitCode, Status: status}
	if l.archiver != nil {
		record, err := l.archiver.Archive(ctx, history.Archive{
			ManifestPath: r.manifestPath,
			Manifest:     &r.manifest,
			Summary:      summary,
			ExitCode:     exitCode,
			Status:       status,
			Outcomes:     outcomes,
		})
		if err != nil {
			logging.WarnWithContext(logger, "failed to archive session", "history_archive",
				logging.Error(err),
				logging.String(logging.FieldImpact, "session missing from history"),
			)
		} else {
			result.Record = record
		}
	}

	if !cancelled {
		var err error
		if status == history.StatusCompleted {
			var rs *notifications.RunSummary
			if summary != nil {
				rs = &notifications.RunSummary{Processed: summary.Processed, Failed: summary.Failed, DurationSeconds: summary.DurationSeconds}
			}
			err = l.notifier.NotifyRunCompleted(ctx, rs, r.outputDir)
		} else {
			err = l.notifier.NotifyRunFailed(ctx, exitCode, snapshot.Fatal)
		}
		if err != nil {
			logger.Warn("notification failed", logging.Error(err))
		}
	}

	if err := l.engine.Flush(ctx); err != nil {
		logger.Warn("queue flush failed", logging.Error(err))
	}
	if err := r.lock.Unlock(); err != nil {
		logger.Warn("failed to release run lock", logging.Error(err))
	}

	logger.Info("worker finished",
		logging.Int("exit_code", exitCode),
		logging.String("status", status),
	)

	if err := r.closeLog(); err != nil {
		l.logger.Warn("failed to close session log", logging.Error(err))
	}

	l.mu.Lock()
	r.result = result
	l.last = &result
	if l.active == r {
		l.active = nil
	}
	l.mu.Unlock()
	close(r.done)
}

// Stop asks the active worker to terminate. An empty sessionID matches any
// run. The worker gets the configured timeout after SIGTERM before it is
// killed; events it emits meanwhile are still applied.
func (l *Launcher) Stop(sessionID string) error {
	l.mu.Lock()
	r := l.active
	l.mu.Unlock()
	if r == nil {
		return nil
	}
	if id := strings.TrimSpace(sessionID); id != "" && id != r.sessionID {
		return ErrSessionMismatch
	}
	if !r.stopped.CompareAndSwap(false, true) {
		return nil
	}

	pid := r.cmd.Process.Pid
	l.logger.Info("stopping worker", logging.String(logging.FieldSessionID, r.sessionID), logging.Int("pid", pid))
	if err := signalGroup(pid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("signal worker: %w", err)
	}

	go func() {
		timer := time.NewTimer(l.stopTimeout)
		defer timer.Stop()
		select {
		case <-r.done:
		case <-timer.C:
			l.logger.Warn("worker ignored SIGTERM, killing", logging.String(logging.FieldSessionID, r.sessionID))
			_ = signalGroup(pid, unix.SIGKILL)
		}
	}()
	return nil
}

// signalGroup signals the worker's process group so interpreters launched
// through uv go down with it.
func signalGroup(pid int, sig unix.Signal) error {
	if err := unix.Kill(-pid, sig); err == nil {
		return nil
	}
	return unix.Kill(pid, sig)
}

// Wait blocks until the active run finishes and returns its result. With no
// active run it returns the most recent result.
func (l *Launcher) Wait(ctx context.Context) (Result, error) {
	l.mu.Lock()
	r := l.active
	last := l.last
	l.mu.Unlock()
	if r == nil {
		if last == nil {
			return Result{}, ErrNoActiveRun
		}
		return *last, nil
	}
	select {
	case <-r.done:
		l.mu.Lock()
		defer l.mu.Unlock()
		return r.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
