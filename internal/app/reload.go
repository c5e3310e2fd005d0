package app

import (
	"context"
	"strings"

	"capsuled/internal/config"
	logx "capsuled/pkg/logx"
)

// startConfigReload applies published configs to the running components.
// Bursts coalesce: only the newest pending config is applied.
func (a *App) startConfigReload() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, last, next)
				last = next
			}
		}
	})
}

func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	for _, s := range config.RequiresRestart(prev, next) {
		a.log.Warn("config section changed; restart required for it to take effect", logx.String("section", s))
	}

	if a.alerts != nil {
		a.alerts.SetTarget(next.Logging.Telegram.ChatID, next.Logging.Telegram.ThreadID)
	}
	a.logs.Apply(mapLogConfig(next))

	if err := a.clock.SetZone(next.Scheduler.Timezone); err != nil {
		a.log.Warn("invalid timezone; keeping previous", logx.Err(err))
	}

	// Triggers stop before the engine and start after it.
	applyEngine := func() {
		if engCfg, err := mapTaskEngineConfig(next); err != nil {
			a.log.Warn("invalid task_engine config; keeping previous", logx.Err(err))
		} else {
			a.engine.Apply(ctx, engCfg)
		}
	}
	if next.Scheduler.IsEnabled() {
		applyEngine()
		a.sched.Apply(ctx, mapSchedulerConfig(next))
	} else {
		a.sched.Apply(ctx, mapSchedulerConfig(next))
		applyEngine()
	}

	if a.delivery != nil {
		if err := a.delivery.Apply(mapDeliveryConfig(next)); err != nil {
			a.log.Warn("delivery config rejected; keeping previous schedule", logx.Err(err))
		}
	}
	a.pprof.Reconfigure(ctx, mapPprofConfig(next))

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
