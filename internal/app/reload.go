package app

import (
	"context"
	"strings"

	"postbot/internal/config"
	"postbot/internal/task/scheduler"
	logx "postbot/pkg/logx"
)

// reloadLoop applies published configs. Bursts collapse to the newest one.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
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
			if next == nil {
				continue
			}
			a.applyConfig(ctx, last, next)
			last = next
		}
	}
}

// applyConfig pushes a validated config into the live components. Settings
// listed in Change.Restart are logged and otherwise ignored.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	ch := config.SummarizeConfigChange(prev, next)
	if ch.Empty() {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if len(ch.Restart) > 0 {
		a.log.Warn("some changes need a restart", logx.Strings("settings", ch.Restart))
	}

	a.logs.SetTelegramTarget(logChat(next), next.Logging.Telegram.ThreadID)
	a.logs.Apply(mapLogConfig(next))

	a.cmdm.SetOwners(next.Telegram.OwnerUserIDs)
	a.notif.SetOwners(next.Telegram.OwnerUserIDs)

	// validate already ran every mapping; errors here are not expected
	if target, err := mapChannel(next); err == nil {
		a.pub.SetTarget(target)
	}
	if tz, err := mapTimezone(next); err == nil {
		a.sched.Apply(scheduler.Config{Timezone: tz})
	}
	if pc, err := mapPlannerConfig(next); err == nil {
		if err := a.planner.SetConfig(pc); err != nil {
			a.log.Warn("planner config rejected", logx.Err(err))
		}
	}
	if ac, err := mapAutoConfig(next); err == nil {
		if err := a.auto.Apply(ac); err != nil {
			a.log.Warn("autopost config rejected", logx.Err(err))
		}
	}
	if bc, err := mapBotConfig(next); err == nil {
		if err := a.bot.Apply(bc); err != nil {
			a.log.Warn("command config rejected", logx.Err(err))
		} else {
			a.cmdm.SetCommands(a.bot.Commands())
		}
	}
	if nc, err := mapNotifierConfig(next); err == nil {
		a.notif.Apply(nc)
	}
	if mc, err := mapMetricsConfig(next); err == nil {
		a.http.Reconfigure(ctx, mc)
	}

	a.log.Info("config reloaded", append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Attrs...)...)
}
