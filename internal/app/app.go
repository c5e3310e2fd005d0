package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"capsuled/internal/capsule"
	"capsuled/internal/clock"
	"capsuled/internal/config"
	"capsuled/internal/delivery"
	"capsuled/internal/eventbus"
	"capsuled/internal/mailer"
	"capsuled/internal/observability/pprof"
	"capsuled/internal/opsalert"
	rtsup "capsuled/internal/runtime/supervisor"
	"capsuled/internal/storage"
	"capsuled/internal/task/engine"
	"capsuled/internal/task/scheduler"
	logx "capsuled/pkg/logx"
)

// ErrNoMailCredentials is returned by delivery operations when mail
// credentials are not configured.
var ErrNoMailCredentials = errors.New("mail credentials not configured (set EMAIL_USER and EMAIL_PASS)")

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log    logx.Logger
	logs   *logx.Service
	alerts *opsalert.Sender
	bus    eventbus.Bus
	store  storage.Store
	clock  *clock.Zoned

	engine *engine.Service
	sched  *scheduler.Service
	pprof  *pprof.Service

	// nil when mail credentials are missing
	mail     *mailer.Mailer
	delivery *delivery.Service
}

// NewApp loads the config and wires every component without starting
// background work. CLI commands use the returned App directly.
func NewApp(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load(ctx)
	if err != nil {
		return nil, err
	}
	return build(cfgm, cfg)
}

func build(cfgm *config.ConfigManager, cfg *config.Config) (*App, error) {
	var alerts *opsalert.Sender
	if strings.TrimSpace(cfg.Telegram.Token) != "" {
		s, err := opsalert.New(mapAlertConfig(cfg))
		if err != nil {
			return nil, fmt.Errorf("telegram alerts: %w", err)
		}
		alerts = s
	}
	var logSvc *logx.Service
	var log logx.Logger
	if alerts != nil {
		logSvc, log = logx.New(mapLogConfig(cfg), alerts)
	} else {
		logSvc, log = logx.New(mapLogConfig(cfg), nil)
	}
	cfgm.SetLogger(log)
	appLog := log.With(logx.String("comp", "app"))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log)
	if err != nil {
		return nil, err
	}
	appLog.Info("storage opened", logx.String("driver", sc.Driver))

	clk, err := clock.New(cfg.Scheduler.Timezone)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	bus := eventbus.New()
	engCfg, err := mapTaskEngineConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	engineSvc := engine.New(engCfg, log, bus)
	schedSvc := scheduler.New(mapSchedulerConfig(cfg), engineSvc, log, bus)

	a := &App{
		cfgm:   cfgm,
		log:    appLog,
		logs:   logSvc,
		alerts: alerts,
		bus:    bus,
		store:  store,
		clock:  clk,
		engine: engineSvc,
		sched:  schedSvc,
	}
	a.pprof = pprof.New(mapPprofConfig(cfg), a.status, log)

	if cfg.Mail.HasCredentials() {
		mc, err := mapMailConfig(cfg)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		m, err := mailer.New(mc, log)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("mailer: %w", err)
		}
		a.mail = m
		core := delivery.NewScheduler(store, m, mapDeliveryConfig(cfg), log, bus)
		a.delivery = delivery.NewService(core, clk, schedSvc, log, bus)
	}

	cfgm.SetValidator(a.validate)
	return a, nil
}

// validate runs on every reload before the new config is committed.
func (a *App) validate(_ context.Context, cfg *config.Config) error {
	if err := a.sched.ValidateSchedule(cfg.Scheduler.Interval); err != nil {
		return fmt.Errorf("scheduler.interval: %w", err)
	}
	if cfg.Mail.HasCredentials() {
		mc, err := mapMailConfig(cfg)
		if err != nil {
			return err
		}
		if _, err := mailer.New(mc, logx.Nop()); err != nil {
			return fmt.Errorf("mail: %w", err)
		}
	}
	return nil
}

func (a *App) Store() storage.Store { return a.store }
func (a *App) Clock() *clock.Zoned  { return a.clock }
func (a *App) Logger() logx.Logger  { return a.log }

// Done is closed when the app supervisor context is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// ScanOnce runs one scan cycle outside the scheduler.
func (a *App) ScanOnce(ctx context.Context) (delivery.CycleReport, error) {
	if a.delivery == nil {
		return delivery.CycleReport{}, ErrNoMailCredentials
	}
	return a.delivery.RunOnce(ctx)
}

// Due lists capsules the next cycle would select.
func (a *App) Due(ctx context.Context) (capsule.Date, []capsule.Capsule, error) {
	today, err := a.clock.Today()
	if err != nil {
		return "", nil, err
	}
	cs, err := a.store.QueryDue(ctx, today)
	return today, cs, err
}

// VerifyMail checks the SMTP relay and credentials.
func (a *App) VerifyMail(ctx context.Context) error {
	if a.mail == nil {
		return ErrNoMailCredentials
	}
	return a.mail.Verify(ctx)
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	run := a.sup.Context()

	if a.engine.Enabled() {
		a.engine.Start(run)
	}
	if a.delivery == nil {
		a.log.Warn("mail credentials missing; delivery scheduler not started", logx.String("hint", "set EMAIL_USER and EMAIL_PASS"))
	} else {
		// Matches the startup check operators rely on; a failure is not fatal
		// because the relay may come back before the first due capsule.
		a.sup.Go0("mail.verify", func(c context.Context) {
			vctx, cancel := context.WithTimeout(c, 30*time.Second)
			defer cancel()
			if err := a.mail.Verify(vctx); err != nil {
				a.log.Error("smtp verify failed", logx.Err(err))
				return
			}
			a.log.Info("smtp ready")
		})
		if err := a.delivery.Start(run); err != nil {
			return fmt.Errorf("delivery: %w", err)
		}
	}
	if a.sched.Enabled() {
		a.sched.Start(run)
	}
	if a.pprof.Enabled() {
		a.pprof.Start(run)
	}

	a.startEventLog()
	a.startConfigReload()
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	a.startWatchdog()

	notifyReady(a.log)
	a.log.Info("app started", logx.Int("pid", os.Getpid()), logx.String("tz", a.clock.Location().String()))
	return nil
}

func (a *App) startEventLog() {
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})
}

// status is the /status document on the debug server.
func (a *App) status(context.Context) any {
	doc := map[string]any{
		"time":       a.clock.Now(),
		"scheduler":  a.sched.Snapshot(),
		"taskengine": a.engine.Snapshot(),
		"events":     map[string]uint64{"dropped": a.bus.Dropped()},
	}
	if a.delivery != nil {
		doc["delivery"] = a.delivery.Snapshot()
	}
	if a.sup != nil {
		doc["supervisor"] = a.sup.Snapshot()
	}
	return doc
}

// engineDrainTimeout bounds the wait for an in-flight scan during Stop.
const engineDrainTimeout = delivery.CommitTimeout + 2*time.Second

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.Close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	notifyStopping(a.log)
	a.sup.Cancel()

	// Scheduler first so no new cycle is queued while the engine drains.
	a.step(ctx, "scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "delivery", time.Second, func(c context.Context) error {
		if a.delivery != nil {
			a.delivery.Stop(c)
		}
		return nil
	})
	// The engine step outlasts a detached MarkSent so the store closes after it.
	a.step(ctx, "taskengine", engineDrainTimeout, func(c context.Context) error { a.engine.Stop(c); return nil })
	a.step(ctx, "pprof", time.Second, func(c context.Context) error { a.pprof.Stop(c); return nil })
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	return a.logs.Close()
}

// Close releases resources of an App that was never started.
func (a *App) Close() error {
	err := a.store.Close()
	if cerr := a.logs.Close(); err == nil {
		err = cerr
	}
	return err
}

// step runs one shutdown step bounded by max, never extending ctx. A step
// that overruns is logged and left behind.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
	}
}
