package config

import (
	"reflect"
	"strings"

	logx "postbot/pkg/logx"
)

// Change describes a reload: changed sections, safe log attrs (never tokens)
// and the changed settings that only take effect after a restart.
type Change struct {
	Sections []string
	Attrs    []logx.Field
	Restart  []string
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

func SummarizeConfigChange(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change
	add := func(section string, attrs ...logx.Field) {
		ch.Sections = append(ch.Sections, section)
		ch.Attrs = append(ch.Attrs, attrs...)
	}

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Token != nt.Token {
		ch.Restart = append(ch.Restart, "telegram.token")
	}
	if strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) {
		ch.Restart = append(ch.Restart, "telegram.poll_timeout")
	}
	if ot.Token != nt.Token ||
		!reflect.DeepEqual(ot.OwnerUserIDs, nt.OwnerUserIDs) ||
		strings.TrimSpace(ot.Channel) != strings.TrimSpace(nt.Channel) ||
		ot.ChannelThreadID != nt.ChannelThreadID ||
		strings.TrimSpace(ot.GroupLog) != strings.TrimSpace(nt.GroupLog) ||
		strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) {
		add("telegram",
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
			logx.String("telegram.channel", strings.TrimSpace(nt.Channel)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(nt.GroupLog) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		add("logging",
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if strings.TrimSpace(oldCfg.Queue.Path) != strings.TrimSpace(newCfg.Queue.Path) {
		add("queue", logx.String("queue.path", strings.TrimSpace(newCfg.Queue.Path)))
		ch.Restart = append(ch.Restart, "queue.path")
	}

	if oldCfg.Autopost != newCfg.Autopost {
		a := newCfg.Autopost
		add("autopost",
			logx.String("autopost.timezone", a.Timezone),
			logx.String("autopost.plan_at", a.PlanAt),
			logx.String("autopost.window", a.WindowStart+"-"+a.WindowEnd),
			logx.Int("autopost.count_min", a.CountMin),
			logx.Int("autopost.count_max", a.CountMax),
		)
	}

	if oldCfg.Commands != newCfg.Commands {
		add("commands")
	}

	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		attrs := []logx.Field{logx.Bool("notifier.set", newCfg.Notifier != nil)}
		if newCfg.Notifier != nil {
			attrs = append(attrs, logx.Int("notifier.rate_per_sec", newCfg.Notifier.RatePerSec))
		}
		add("notifier", attrs...)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		driver := ""
		if newCfg.Storage != nil {
			driver = newCfg.Storage.Driver
		}
		add("storage", logx.String("storage.driver", driver))
		ch.Restart = append(ch.Restart, "storage")
	}

	if nm := newCfg.Metrics; oldCfg.Metrics != nm {
		add("metrics",
			logx.Bool("metrics.enabled", nm.Enabled),
			logx.String("metrics.addr", strings.TrimSpace(nm.Addr)),
			logx.Bool("metrics.token_set", strings.TrimSpace(nm.Token) != ""),
		)
	}
	return ch
}
