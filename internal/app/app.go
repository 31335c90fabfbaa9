// Package app wires the bot together and owns its lifecycle.
package app

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/afero"

	"postbot/internal/bot"
	"postbot/internal/config"
	"postbot/internal/eventbus"
	"postbot/internal/notifier"
	"postbot/internal/observability/metrics"
	"postbot/internal/planner"
	"postbot/internal/queue"
	"postbot/internal/release"
	rtsup "postbot/internal/runtime/supervisor"
	"postbot/internal/storage"
	"postbot/internal/task/scheduler"
	kit "postbot/internal/transport"
	telegram "postbot/internal/transport/telegram/adapter"
	"postbot/internal/transport/telegram/router"
	logx "postbot/pkg/logx"
)

type StopReason string

const (
	StopSignal     StopReason = "signal"
	StopFatalError StopReason = "fatal_error"
	StopAppStop    StopReason = "app_stop"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter  kit.Adapter
	sched    *scheduler.Service
	notif    *notifier.Service
	queue    *queue.Store
	planner  *planner.Planner
	pub      *release.ChannelPublisher
	registry *release.Registry
	auto     *release.AutoScheduler
	bot      *bot.Bot
	cmdm     *router.CommandManager

	metrics *metrics.Metrics
	http    *metrics.Server

	updates chan kit.Update
}

// statusView is the /status payload.
type statusView struct {
	release.Report
	Scheduler scheduler.Snapshot     `json:"scheduler"`
	Notices   []notifier.HistoryItem `json:"notices"`
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath, logx.Nop())
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, defaultPollTimeout)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, PollTimeout: pollTimeout},
		logx.NewConsole("info").With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	// the log chat must be set before the Telegram sink is enabled
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Telegram.Enabled = false
	logSvc, root := logx.New(bootCfg, ad)
	logSvc.SetTelegramTarget(logChat(cfg), cfg.Logging.Telegram.ThreadID)
	logSvc.Apply(logCfg)
	log := root.With(logx.String("comp", "app"))
	cfgm.SetLogger(root)

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, root.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("audit storage enabled", logx.String("driver", sc.Driver))
	}

	q, err := queue.Open(afero.NewOsFs(), cfg.Queue.Path, queue.WithLogger(root.With(logx.String("comp", "queue"))))
	if err != nil {
		return nil, err
	}

	tz, _ := mapTimezone(cfg)
	sched := scheduler.New(scheduler.Config{Timezone: tz}, root.With(logx.String("comp", "scheduler")))

	ncfg, _ := mapNotifierConfig(cfg)
	notif := notifier.New(ncfg, ad, root.With(logx.String("comp", "notifier")))
	notif.SetOwners(cfg.Telegram.OwnerUserIDs)

	pcfg, _ := mapPlannerConfig(cfg)
	seed := cfg.Autopost.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	pl, err := planner.New(pcfg, rand.New(rand.NewSource(seed)))
	if err != nil {
		return nil, err
	}

	target, _ := mapChannel(cfg)
	pub := release.NewChannelPublisher(ad, target)

	opts := []release.PipelineOption{
		release.WithBus(bus),
		release.WithLogger(root.With(logx.String("comp", "release"))),
	}
	if store != nil {
		opts = append(opts, release.WithAuditor(store))
	}
	pipe := release.NewPipeline(q, pub, notif, opts...)

	autoCfg, _ := mapAutoConfig(cfg)
	registry := release.NewRegistry(sched, root.With(logx.String("comp", "registry")))
	deps := release.AutoDeps{
		Scheduler: sched,
		Planner:   pl,
		Registry:  registry,
		Pipeline:  pipe,
		Queue:     q,
		Notifier:  notif,
		Bus:       bus,
		Logger:    root,
	}
	if store != nil {
		deps.Auditor = store
	}
	auto := release.NewAutoScheduler(autoCfg, deps)
	status := release.NewStatusReporter(auto, q)

	botCfg, _ := mapBotConfig(cfg)
	bdeps := bot.Deps{
		Queue:    q,
		Pipeline: pipe,
		Auto:     auto,
		Status:   status,
		Bus:      bus,
		Logger:   root,
	}
	if store != nil {
		bdeps.Audit = store
	}
	b, err := bot.New(botCfg, bdeps)
	if err != nil {
		return nil, err
	}

	cmdm := router.NewCommandManager(root.With(logx.String("comp", "commands")), ad, cfg.Telegram.OwnerUserIDs)
	cmdm.SetCommands(b.Commands())
	cmdm.SetMediaHandler(b.HandleMedia)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg, metrics.Sources{QueueLen: q.Len, PendingJobs: registry.Len, BusDropped: bus.Dropped})
	mcfg, _ := mapMetricsConfig(cfg)
	srv := metrics.NewServer(mcfg, reg, func() any {
		return statusView{Report: status.Report(), Scheduler: sched.Snapshot(), Notices: notif.History()}
	}, root)

	return &App{
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		adapter:  ad,
		sched:    sched,
		notif:    notif,
		queue:    q,
		planner:  pl,
		pub:      pub,
		registry: registry,
		auto:     auto,
		bot:      b,
		cmdm:     cmdm,
		metrics:  m,
		http:     srv,
		updates:  make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app context ends (stop or fatal error).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validate(cfg) })

	a.sched.Start(a.sup.Context())
	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.sup.Go("command.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})
	a.sup.Go("metrics.consume", func(c context.Context) error {
		return a.metrics.Consume(c, a.bus, a.log.With(logx.String("comp", "metrics")))
	})
	a.http.Start(a.sup.Context())
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) { a.reloadLoop(c, sub) })
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("started",
		logx.Int("queue", a.queue.Len()),
		logx.String("queue_path", a.queue.Path()),
		logx.String("timezone", a.sched.Location().String()),
		logx.Bool("audit", a.store != nil),
		logx.Bool("metrics", a.http.Enabled()),
	)
	return nil
}

// Stop shuts components down in dependency order. Scheduled releases already
// running finish their batch within the scheduler step.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	a.step(ctx, "scheduler", 20*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "metrics", time.Second, func(c context.Context) error { a.http.Stop(c); return nil })
	a.step(ctx, "adapter", 2*time.Second, a.adapter.Stop)
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)
	if a.store != nil {
		a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })
	}

	a.log.Info("stopped")
	return a.logs.Close()
}

// step runs one shutdown step bounded by max and by the caller's deadline.
// A step that overruns is logged and left behind.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	sctx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(sctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-sctx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
	}
}
