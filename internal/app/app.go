// Package app assembles the process: configuration, logging, storage, the
// bridge clients, the scheduler, the event listener, the plan and the
// health server, and runs them under one supervisor until a signal or a
// fatal error.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"hueplan/internal/config"
	"hueplan/internal/eventbus"
	"hueplan/internal/geo"
	"hueplan/internal/health"
	"hueplan/internal/hue"
	"hueplan/internal/listener"
	"hueplan/internal/plan"
	"hueplan/internal/runtime/supervisor"
	"hueplan/internal/schedule"
	"hueplan/internal/storage"
	"hueplan/pkg/logx"
)

// connectTimeout bounds the initial bridge reachability checks.
const connectTimeout = 15 * time.Second

type App struct {
	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger
}

// New loads the configuration and builds the logging service. Everything
// else is wired in Run, so a failed start leaves nothing behind.
func New(cfgPath string) (*App, error) {
	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "config"))
	cfgm := config.NewManager(cfgPath, bootLog)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File != "",
			Path:    cfg.Logging.File,
		},
	})
	return &App{cfgm: cfgm, logs: logs, log: log}, nil
}

// Run blocks until ctx is cancelled or a component fails fatally.
func (a *App) Run(ctx context.Context) error {
	defer a.logs.Close()
	cfg := a.cfgm.Get()

	loc, err := cfg.TimeLocation()
	if err != nil {
		return err
	}

	storeCfg := storage.Config{Driver: "memory"}
	if cfg.Storage != nil {
		storeCfg = storage.Config{Driver: cfg.Storage.Driver, Path: cfg.Storage.Path}
	}
	store, err := storage.Open(storeCfg, a.log.With(logx.String("comp", "storage")))
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			a.log.Warn("storage close failed", logx.Err(err))
		}
	}()

	clientCfg := hue.ClientConfig{
		Addr:        cfg.Bridge.Addr,
		AccessToken: cfg.Bridge.AccessToken,
		RatePerSec:  cfg.Bridge.RatePerSec,
		Burst:       cfg.Bridge.Burst,
		Timeout:     cfg.Bridge.Timeout(),
	}
	bridge := hue.NewClient(clientCfg, a.log.With(logx.String("comp", "hue.v1")))
	bridgeV2 := hue.NewClientV2(clientCfg, a.log.With(logx.String("comp", "hue.v2")))

	cctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := bridge.Connect(cctx); err != nil {
		return fmt.Errorf("bridge v1 unreachable: %w", err)
	}
	if err := bridgeV2.Connect(cctx); err != nil {
		return fmt.Errorf("bridge v2 unreachable: %w", err)
	}
	a.log.Info("bridge connected", logx.String("addr", cfg.Bridge.Addr))

	bus := eventbus.New()
	retryMax, retryBase := cfg.Scheduler.Retry()
	sched := schedule.New(loc, a.log.With(logx.String("comp", "scheduler")),
		schedule.WithBus(bus),
		schedule.WithRetry(schedule.RetryOptions{MaxRetries: retryMax, BaseBackoff: retryBase}),
	)
	lst := listener.New(bridgeV2, bus, a.log.With(logx.String("comp", "listener")))

	var geoLoc *geo.Location
	if cfg.Location != nil {
		geoLoc = &geo.Location{
			Latitude:  cfg.Location.Latitude,
			Longitude: cfg.Location.Longitude,
			Loc:       loc,
			Log:       a.log.With(logx.String("comp", "geo")),
		}
	}

	pc := &plan.Context{
		Scheduler: sched,
		Listener:  lst,
		Bridge:    bridge,
		BridgeV2:  bridgeV2,
		Store:     store,
		Bus:       bus,
		Location:  geoLoc,
		Log:       a.log.With(logx.String("comp", "plan")),
	}
	p, err := plan.Load(cfg.Plan.Path)
	if err != nil {
		return err
	}
	if err := plan.Apply(ctx, pc, p); err != nil {
		return err
	}

	sup := supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(),
	)

	sup.Go("scheduler", func(ctx context.Context) error {
		err := sched.Run(ctx, schedule.RunOptions{
			ExitOnEmpty:    cfg.Scheduler.ExitOnEmpty,
			AutoUnschedule: cfg.Scheduler.AutoUnschedule,
		})
		if err == nil {
			// Either the schedule drained with ExitOnEmpty set or we are
			// shutting down; both end the process.
			sup.Cancel()
		}
		return err
	})
	sup.Go("listener", lst.Run)
	sup.Go("config.watch", a.cfgm.Watch)
	sup.Go("config.apply", func(ctx context.Context) error {
		return a.followConfig(ctx)
	})

	if cfg.Plan.Reload {
		planLog := a.log.With(logx.String("comp", "plan.watch"))
		sup.GoRestart("plan.watch", func(ctx context.Context) error {
			return config.WatchFile(ctx, cfg.Plan.Path, planLog, func() {
				a.reloadPlan(ctx, pc, cfg.Plan.Path)
			})
		})
	}

	if cfg.Health != nil && cfg.Health.Enabled {
		hs := health.New(*cfg.Health, sched, sup, a.log.With(logx.String("comp", "health")))
		sup.Go("health", hs.Run)
	}

	a.notifyReady(sched)
	defer func() {
		_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	}()

	err = sup.Wait(context.Background())
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// followConfig applies hot-reloadable settings from config updates. Only
// logging changes take effect live; anything else needs a restart and is
// logged as such.
func (a *App) followConfig(ctx context.Context) error {
	updates := a.cfgm.Subscribe(1)
	defer a.cfgm.Unsubscribe(updates)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cfg, ok := <-updates:
			if !ok {
				return nil
			}
			a.logs.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File != "",
					Path:    cfg.Logging.File,
				},
			})
			a.log.Info("logging settings applied; other config changes need a restart")
		}
	}
}

// reloadPlan swaps in the plan file's current content: handlers and
// schedule are reset, then the new plan is applied. A plan that fails to
// load or apply is logged and skipped; the previous registrations are only
// dropped once the new plan parsed.
func (a *App) reloadPlan(ctx context.Context, pc *plan.Context, path string) {
	log := a.log.With(logx.String("comp", "plan.watch"))
	p, err := plan.Load(path)
	if err != nil {
		log.Error("plan reload rejected", logx.String("path", path), logx.Err(err))
		return
	}
	pc.Listener.ResetHandlers()
	pc.Scheduler.Reset()
	if err := plan.Apply(ctx, pc, p); err != nil {
		log.Error("plan re-apply failed", logx.Err(err))
		return
	}
	log.Info("plan reloaded", logx.String("path", path))
}

// notifyReady tells systemd the service is up and, when a watchdog is
// armed, keeps it fed through a periodic scheduler task so a wedged
// scheduler loop also trips the watchdog.
func (a *App) notifyReady(sched *schedule.Scheduler) {
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	} else if ok {
		a.log.Debug("systemd notified ready")
	}

	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	sched.Periodic(func(ctx context.Context) error {
		_, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		return err
	}, interval/2, schedule.TaskOptions{Alias: "systemd_watchdog", Tags: []string{"system"}})
	a.log.Info("systemd watchdog armed", logx.Duration("interval", interval))
}
