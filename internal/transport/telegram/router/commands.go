package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	rtsup "postbot/internal/runtime/supervisor"
	kit "postbot/internal/transport"
	logx "postbot/pkg/logx"
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

// MediaHandlerFunc receives media sent by an owner outside of any command.
type MediaHandlerFunc func(ctx context.Context, req *Request, m kit.Media) error

type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	Args    []string
	ReqID   string

	Adapter kit.Adapter
	Logger  logx.Logger
}

// Reply sends plain text back to the chat the request came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true})
	return err
}

func (r *Request) logger(fallback logx.Logger) logx.Logger {
	if r == nil || r.Logger.IsZero() {
		return fallback
	}
	return r.Logger
}

// CommandManager routes owner updates to commands and the media handler.
// Updates from anyone not in the owner list are dropped without a reply.
type CommandManager struct {
	mu     sync.RWMutex
	cmds   map[string]Command
	alias  map[string]string
	media  MediaHandlerFunc
	owners []int64

	log     logx.Logger
	adapter kit.Adapter
	workers int

	runMu sync.Mutex
	sup   *rtsup.Supervisor

	jobs chan func()
}

func NewCommandManager(log logx.Logger, adapter kit.Adapter, owners []int64) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	workers := runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}
	return &CommandManager{
		cmds:    map[string]Command{},
		alias:   map[string]string{},
		owners:  append([]int64(nil), owners...),
		log:     log,
		adapter: adapter,
		workers: workers,
		jobs:    make(chan func(), 256),
	}
}

// SetOwners updates the owner list. Safe to call during hot-reload.
func (m *CommandManager) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	m.mu.Lock()
	m.owners = cp
	m.mu.Unlock()
}

func (m *CommandManager) ownersSnapshot() []int64 {
	m.mu.RLock()
	cp := append([]int64(nil), m.owners...)
	m.mu.RUnlock()
	return cp
}

func (m *CommandManager) SetMediaHandler(h MediaHandlerFunc) {
	m.mu.Lock()
	m.media = h
	m.mu.Unlock()
}

// SetCommands replaces the command registry. /help is always added.
func (m *CommandManager) SetCommands(cmds []Command) {
	helper := Command{
		Name:        "help",
		Aliases:     []string{"h"},
		Description: "show this help",
		Usage:       "/help",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, m.helpText())
		},
	}
	cmds = append(cmds, helper)

	reg := make(map[string]Command, len(cmds))
	alias := map[string]string{}
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		reg[name] = c
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" || strings.Contains(a, " ") {
				continue
			}
			alias[a] = name
		}
	}

	m.mu.Lock()
	m.cmds = reg
	m.alias = alias
	m.mu.Unlock()

	m.runMu.Lock()
	sup := m.sup
	m.runMu.Unlock()
	if sup != nil {
		m.publishMenu(sup)
	}
}

// Commands returns the registered commands sorted by name.
func (m *CommandManager) Commands() []Command {
	m.mu.RLock()
	out := make([]Command, 0, len(m.cmds))
	for _, c := range m.cmds {
		out = append(out, c)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *CommandManager) lookup(word string) (Command, bool) {
	word = strings.ToLower(word)
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.cmds[word]; ok {
		return c, true
	}
	if name, ok := m.alias[word]; ok {
		c, ok := m.cmds[name]
		return c, ok
	}
	return Command{}, false
}

// publishMenu pushes the command list to the Telegram menu when the adapter supports it.
func (m *CommandManager) publishMenu(sup *rtsup.Supervisor) {
	up, ok := m.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return
	}
	cmds := m.Commands()
	menu := make([]kit.BotCommand, 0, len(cmds))
	for _, c := range cmds {
		menu = append(menu, kit.BotCommand{Command: c.Name, Description: c.Description})
	}
	sup.Go0("telegram.menu.update", func(ctx context.Context) {
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := up.UpdateMenuCommands(cctx, menu); err != nil {
			m.log.Warn("menu update failed", logx.Err(err))
		}
	})
}

// tryEnqueue is a panic-safe enqueue helper (handles the jobs channel being closed).
func (m *CommandManager) tryEnqueue(fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

// DispatchLoop consumes updates until ctx is done or updates is closed.
// Handlers run on a bounded worker pool.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(m.log.With(logx.String("comp", "telegram.router"))),
		rtsup.WithCancelOnError(false),
	)
	m.runMu.Lock()
	m.sup = sup
	m.runMu.Unlock()

	m.log.Info("command dispatcher started", logx.Int("workers", m.workers), logx.Int("job_queue_cap", cap(m.jobs)))
	m.publishMenu(sup)

	for i := 0; i < m.workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-m.jobs:
					if !ok {
						return nil
					}
					func() {
						defer func() {
							if r := recover(); r != nil {
								m.log.Error("panic in command job", logx.Int("worker", idx), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}

	defer func() {
		m.runMu.Lock()
		m.sup = nil
		m.runMu.Unlock()
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.routeUpdate(ctx, up)
		}
	}
}

func (m *CommandManager) routeUpdate(root context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	if !isOwner(msg.FromID, m.ownersSnapshot()) {
		m.log.Debug("ignoring update from non-owner",
			logx.Int64("from_id", msg.FromID),
			logx.String("from_username", msg.FromUsername),
			logx.String("kind", string(up.Kind)),
		)
		return
	}
	switch up.Kind {
	case kit.UpdateMedia:
		m.routeMedia(root, up)
	case kit.UpdateMessage:
		m.routeMessage(root, up)
	}
}

func (m *CommandManager) newRequest(up kit.Update, command string, args []string) *Request {
	msg := up.Message
	rid := newReqID()
	return &Request{
		Update:  up,
		Chat:    kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		FromID:  msg.FromID,
		Command: command,
		Args:    args,
		ReqID:   rid,
		Adapter: m.adapter,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", command),
		),
	}
}

func (m *CommandManager) routeMedia(root context.Context, up kit.Update) {
	if up.Message.Media == nil {
		return
	}
	m.mu.RLock()
	h := m.media
	m.mu.RUnlock()
	if h == nil {
		return
	}
	media := *up.Message.Media
	req := m.newRequest(up, "media", nil)
	final := Chain(
		func(ctx context.Context, r *Request) error { return h(ctx, r, media) },
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
	)
	m.dispatch(root, req, final)
}

func (m *CommandManager) routeMessage(root context.Context, up kit.Update) {
	text := strings.TrimSpace(up.Message.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}
	parts := tokenizeCommandLine(text)
	if len(parts) == 0 {
		return
	}
	word := commandWord(parts[0])
	args := parts[1:]

	cmd, ok := m.lookup(word)
	if !ok {
		chat := kit.ChatTarget{ChatID: up.Message.ChatID, ThreadID: up.Message.ThreadID}
		_, _ = m.adapter.SendText(root, chat, "unknown command, try /help", nil)
		return
	}

	req := m.newRequest(up, cmd.Name, args)
	final := Chain(
		cmd.Handle,
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWTimeout(cmd.Timeout),
	)
	m.dispatch(root, req, final)
}

func (m *CommandManager) dispatch(root context.Context, req *Request, h HandlerFunc) {
	if !m.tryEnqueue(func() { _ = h(root, req) }) {
		_, _ = m.adapter.SendText(root, req.Chat, "busy, try again", nil)
	}
}

func isOwner(id int64, owners []int64) bool {
	for _, o := range owners {
		if o == id {
			return true
		}
	}
	return false
}
