// Package app wires the trap ingestion pipeline's components together and
// manages their lifecycle: load configuration, open the tailed log files,
// build the storm guard, locker, filter engine, forwarder and persister, and
// hand them to a Dispatcher.
//
// Pipeline:
//
//	LogTailer(s) → Dispatcher → TrapParser → FilterEngine → Forwarder
//	                                               ↓
//	                                           Persister
//
// StormGuard and SourceLocker gate admission inside the Dispatcher's
// per-tick producer pass, before a line ever reaches a worker.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nyan-/snmptrapd/pkg/trapd/config"
	"github.com/nyan-/snmptrapd/pkg/trapd/dispatcher"
	"github.com/nyan-/snmptrapd/pkg/trapd/filter"
	"github.com/nyan-/snmptrapd/pkg/trapd/lock"
	"github.com/nyan-/snmptrapd/pkg/trapd/metrics"
	"github.com/nyan-/snmptrapd/pkg/trapd/storm"
	"github.com/nyan-/snmptrapd/pkg/trapd/store"
	"github.com/nyan-/snmptrapd/pkg/trapd/tailer"
	"github.com/nyan-/snmptrapd/snmp/forward"
	"github.com/nyan-/snmptrapd/snmp/parser"
)

// Config holds the top-level settings for the daemon application.
// Zero-value fields fall back to documented defaults.
type Config struct {
	// SettingsPath is the YAML settings file passed to config.Load.
	SettingsPath string

	// FilterGroupsDir is the directory config.LoadFilterGroups walks. Empty
	// disables filtering entirely (no groups, nothing ever matches).
	FilterGroupsDir string

	// AdminAddr serves /metrics. Empty disables the admin server.
	AdminAddr string

	// Store and Evaluator are the persistence collaborators. Both default
	// to in-process reference implementations when nil.
	Store     store.TrapStore
	Evaluator store.AlertEvaluator

	// PrometheusRegisterer receives the metrics Registry's collectors.
	// Defaults to prometheus.DefaultRegisterer.
	PrometheusRegisterer prometheus.Registerer

	// PrometheusGatherer backs the admin /metrics handler. Defaults to
	// prometheus.DefaultGatherer.
	PrometheusGatherer prometheus.Gatherer
}

func (c *Config) withDefaults() {
	if c.Store == nil {
		c.Store = store.NewMemStore()
	}
	if c.Evaluator == nil {
		c.Evaluator = store.NoopAlertEvaluator{}
	}
	if c.PrometheusRegisterer == nil {
		c.PrometheusRegisterer = prometheus.DefaultRegisterer
	}
	if c.PrometheusGatherer == nil {
		c.PrometheusGatherer = prometheus.DefaultGatherer
	}
}

// App orchestrates the full trap ingestion pipeline. Create one with New,
// start it with Start, and stop it with Stop (or cancel the context).
type App struct {
	cfg    Config
	logger *slog.Logger

	settings config.Settings

	primary   *tailer.Tailer
	secondary *tailer.Tailer

	stormGuard *storm.Guard
	locker     *lock.Locker
	filterEng  *filter.Engine
	forwarder  *forward.Forwarder
	persister  *store.Persister
	metricsReg *metrics.Registry

	dispatcher *dispatcher.Dispatcher
	admin      *http.Server

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs an App. It does not start anything — call Start for that.
func New(cfg Config, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	cfg.withDefaults()
	return &App{
		cfg:    cfg,
		logger: logger,
	}
}

// Start loads configuration, opens the tailed log files, constructs every
// pipeline component, and launches the Dispatcher's producer loop plus the
// optional admin HTTP server. It returns an error if configuration loading
// or opening the primary log file fails — both are fatal, matching the
// daemon's historical behavior of refusing to start without its log.
//
// The caller must eventually call Stop to release resources.
func (a *App) Start(ctx context.Context) error {
	// 1. Load settings.
	a.logger.Info("app: loading configuration", "path", a.cfg.SettingsPath)
	settings, err := config.Load(a.cfg.SettingsPath)
	if err != nil {
		return fmt.Errorf("app: load settings: %w", err)
	}
	a.settings = settings

	// 2. Load filter groups (non-fatal: missing dir just means no filters).
	groups, err := config.LoadFilterGroups(a.cfg.FilterGroupsDir, a.logger)
	if err != nil {
		return fmt.Errorf("app: load filter groups: %w", err)
	}
	a.filterEng = filter.New(groups, a.logger)
	a.logger.Info("app: filter groups loaded", "groups", a.filterEng.GroupCount())

	// 3. Open the tailed log files.
	a.primary, err = tailer.Open(settings.SNMPLogfile, a.logger)
	if err != nil {
		return fmt.Errorf("app: open primary log: %w", err)
	}
	sources := []tailer.Source{a.primary}
	if settings.SNMPExtlog != "" {
		a.secondary, err = tailer.Open(settings.SNMPExtlog, a.logger)
		if err != nil {
			a.logger.Error("app: secondary log unavailable — continuing with primary only",
				"path", settings.SNMPExtlog, "error", err.Error())
		} else {
			sources = append(sources, a.secondary)
		}
	}

	// 4. Build the remaining components (reverse pipeline order: metrics →
	// persister → forwarder → locker → storm guard).
	a.metricsReg = metrics.New(a.cfg.PrometheusRegisterer)

	a.persister = store.New(a.cfg.Store, a.cfg.Evaluator, a.logger, a.metricsReg)

	if settings.SNMPForwardTrap {
		a.forwarder = forward.New(forward.Config{
			Enabled:                    true,
			Target:                     settings.SNMPForwardIP,
			Port:                       uint16(settings.SNMPForwardPort),
			Version:                    forward.Version(settings.SNMPForwardVersion),
			Community:                  settings.SNMPForwardCommunity,
			V3Username:                 settings.SNMPForwardV3User,
			V3AuthenticationProtocol:   settings.SNMPForwardV3AuthProto,
			V3AuthenticationPassphrase: settings.SNMPForwardV3AuthPass,
			V3PrivacyProtocol:          settings.SNMPForwardV3PrivProto,
			V3PrivacyPassphrase:        settings.SNMPForwardV3PrivPass,
		}, a.logger)
	}

	a.locker = lock.New(settings.SNMPConsoleLock)
	a.stormGuard = storm.New(storm.Config{
		WindowSeconds:        settings.SNMPStormTimeout,
		Threshold:            settings.SNMPStormProtection,
		SilencePeriodSeconds: settings.SNMPStormSilencePeriod,
	}, a.logger, a.metricsReg)

	// 5. Create a cancellable context for the dispatcher.
	pipeCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	// 6. Build and start the Dispatcher.
	a.dispatcher = dispatcher.New(
		dispatcher.Config{
			Tick:      settings.TickPeriod(),
			Threads:   settings.Threads(),
			LockMode:  settings.SNMPConsoleLock,
			ParseOpts: parser.Options{UsePDUAddress: settings.SNMPPDUAddress},
			Delay:     time.Duration(settings.SNMPDelay) * time.Second,
		},
		sources,
		a.stormGuard,
		a.locker,
		a.filterEng,
		a.forwarder,
		a.persister,
		a.logger,
		a.metricsReg,
	)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.dispatcher.Run(pipeCtx)
	}()

	// 7. Start the admin server, if configured.
	if a.cfg.AdminAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(a.cfg.PrometheusGatherer))
		a.admin = &http.Server{Addr: a.cfg.AdminAddr, Handler: mux}
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := a.admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				a.logger.Error("app: admin server error", "error", err.Error())
			}
		}()
		a.logger.Info("app: admin server listening", "addr", a.cfg.AdminAddr)
	}

	a.logger.Info("app: pipeline running",
		"log", settings.SNMPLogfile,
		"tick", settings.TickPeriod(),
		"threads", settings.Threads(),
		"lock_mode", settings.SNMPConsoleLock,
		"storm_protection", settings.SNMPStormProtection,
		"forward", settings.SNMPForwardTrap,
	)
	return nil
}

// Stop performs a graceful shutdown.
//
// Shutdown order:
//  1. Cancel the pipeline context (stops the dispatcher's producer loop and
//     drains its worker pool).
//  2. Shut down the admin HTTP server.
//  3. Wait for both goroutines to return.
//  4. Checkpoint and close the tailed log files.
func (a *App) Stop() {
	a.logger.Info("app: shutting down")

	if a.cancel != nil {
		a.cancel()
	}

	if a.admin != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.admin.Shutdown(ctx); err != nil {
			a.logger.Error("app: admin server shutdown error", "error", err.Error())
		}
	}

	a.wg.Wait()

	for _, t := range []*tailer.Tailer{a.primary, a.secondary} {
		if t == nil {
			continue
		}
		if err := t.Checkpoint(); err != nil {
			a.logger.Error("app: checkpoint failed", "error", err.Error())
		}
		if err := t.Close(); err != nil {
			a.logger.Error("app: close log failed", "error", err.Error())
		}
	}

	a.logger.Info("app: shutdown complete")
}

// Reload re-reads the filter group directory and swaps the running
// Dispatcher over to a freshly built filter engine. Unlike the original
// daemon (which required a full restart to pick up new groups), this is
// safe to call at any time: the Dispatcher loads its filter engine
// pointer atomically on every trap it consumes.
func (a *App) Reload() error {
	a.logger.Info("app: reloading filter groups")
	groups, err := config.LoadFilterGroups(a.cfg.FilterGroupsDir, a.logger)
	if err != nil {
		return fmt.Errorf("app: reload filter groups: %w", err)
	}
	a.filterEng = filter.New(groups, a.logger)
	a.dispatcher.SetFilterEngine(a.filterEng)
	a.logger.Info("app: filter groups reloaded", "groups", a.filterEng.GroupCount())
	return nil
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
