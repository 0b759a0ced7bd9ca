package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"aura/internal/config"
	"aura/internal/history"
	"aura/internal/logging"
	"aura/internal/metrics"
	"aura/internal/providers"
	"aura/internal/queue"
	"aura/internal/scan"
	"aura/internal/store"
)

const flushTimeout = 5 * time.Second

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// app bundles the host services a command works against. The queue engine
// is rehydrated from the state database on open and flushed on close.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Store
	engine   *queue.Engine
	metrics  *metrics.Metrics
	registry *providers.Registry
	scanner  *scan.Scanner
	history  *history.Service
}

func (c *commandContext) openApp(ctx context.Context) (*app, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(cfg)
	if err != nil {
		return nil, err
	}
	m := metrics.New()
	engine := queue.New(
		queue.WithLogger(logger),
		queue.WithStorage(st.QueueState()),
		queue.WithDebounce(cfg.PersistDebounce()),
		queue.WithObserver(m),
	)
	engine.Rehydrate(ctx)
	restoreSelection(ctx, st, engine, logger)

	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		engine:   engine,
		metrics:  m,
		registry: providers.NewRegistry(providers.SettingsFromConfig(cfg), logger),
		scanner:  scan.New(cfg.Providers.FFprobeBinary, logger),
		history:  history.NewService(st, logger),
	}, nil
}

func (a *app) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	flushErr := a.engine.Flush(ctx)
	a.engine.Close()
	selErr := saveSelection(ctx, a.store, a.engine)
	return errors.Join(flushErr, selErr, a.store.Close())
}

// The engine treats selection as runtime state, so the CLI carries it between
// invocations in its own blob.
func restoreSelection(ctx context.Context, st *store.Store, engine *queue.Engine, logger *slog.Logger) {
	data, err := st.Blob(store.SelectionKey).Load(ctx)
	if err != nil || len(data) == 0 {
		return
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		logger.Warn("discarding unreadable selection", logging.Error(err))
		return
	}
	engine.SetSelection(ids...)
}

func saveSelection(ctx context.Context, st *store.Store, engine *queue.Engine) error {
	ids := engine.Selection()
	if ids == nil {
		ids = []string{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return st.Blob(store.SelectionKey).Save(ctx, data)
}

// withApp opens the host services for the duration of fn.
func (c *commandContext) withApp(cmd *cobra.Command, fn func(*app) error) (err error) {
	a, err := c.openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.close(); err == nil {
			err = closeErr
		}
	}()
	return fn(a)
}

// serveMetrics exposes the Prometheus endpoint when [metrics] listen is set.
func (a *app) serveMetrics(ctx context.Context) {
	addr := strings.TrimSpace(a.cfg.Metrics.Listen)
	if addr == "" {
		return
	}
	go func() {
		if err := a.metrics.Serve(ctx, addr, a.logger); err != nil {
			a.logger.Warn("metrics endpoint stopped",
				logging.Error(err),
				logging.String(logging.FieldEventType, "metrics_serve_failed"),
				logging.String(logging.FieldImpact, "queue metrics are not exported"),
			)
		}
	}()
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}

func msDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
