package adapter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "postbot/internal/runtime/supervisor"
	kit "postbot/internal/transport"
	logx "postbot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	out     atomic.Value // chan<- kit.Update
	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	// updates dropped because the dispatcher was slower than the poll loop;
	// reported periodically instead of per update
	droppedUpdates atomic.Uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, bot: b}
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) registerHandlers() {
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		if m := c.Message(); m != nil {
			a.forward(kit.UpdateMessage, m, nil)
		}
		return nil
	})

	media := func(c tele.Context) error {
		m := c.Message()
		if m == nil {
			return nil
		}
		if md := mediaFromMessage(m); md != nil {
			a.forward(kit.UpdateMedia, m, md)
		}
		return nil
	}
	for _, ev := range []string{tele.OnPhoto, tele.OnVideo, tele.OnAnimation, tele.OnDocument} {
		a.bot.Handle(ev, media)
	}
}

func (a *Adapter) forward(kind kit.UpdateKind, m *tele.Message, md *kit.Media) {
	msg := &kit.Message{
		ID:       m.ID,
		ThreadID: m.ThreadID,
		Text:     m.Text,
		Media:    md,
	}
	if m.Chat != nil {
		msg.ChatID = m.Chat.ID
	}
	if m.Sender != nil {
		msg.FromID = m.Sender.ID
		msg.FromUsername = m.Sender.Username
	}
	out, _ := a.out.Load().(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- kit.Update{Kind: kind, Message: msg}:
	default:
		a.droppedUpdates.Add(1)
	}
}

// mediaFromMessage extracts the re-sendable file of a message. Animations are
// checked before documents because Telegram attaches both for GIFs.
func mediaFromMessage(m *tele.Message) *kit.Media {
	switch {
	case m.Photo != nil:
		return &kit.Media{Kind: kit.MediaPhoto, FileID: m.Photo.FileID, UniqueID: m.Photo.UniqueID, Caption: m.Caption}
	case m.Video != nil:
		return &kit.Media{Kind: kit.MediaVideo, FileID: m.Video.FileID, UniqueID: m.Video.UniqueID, Caption: m.Caption}
	case m.Animation != nil:
		return &kit.Media{Kind: kit.MediaAnimation, FileID: m.Animation.FileID, UniqueID: m.Animation.UniqueID, Caption: m.Caption}
	case m.Document != nil:
		return &kit.Media{Kind: kit.MediaDocument, FileID: m.Document.FileID, UniqueID: m.Document.UniqueID, Caption: m.Caption}
	default:
		return nil
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "telegram.adapter"))),
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				a.reportDropped(cap(out))
				return
			case <-ticker.C:
				a.reportDropped(cap(out))
			}
		}
	})

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})

	// telebot's Start blocks until Stop; restart it if it ever returns early.
	sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
		return nil
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

func (a *Adapter) reportDropped(capacity int) {
	if n := a.droppedUpdates.Swap(0); n > 0 {
		a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", capacity))
	}
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	a.log.Info("stopping")
	sup.Cancel()

	// never let a pending getUpdates long-poll stall shutdown
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		a.log.Debug("telegram stopped with supervisor error", logx.Err(err))
	}
	return nil
}

// usernameRecipient addresses public chats (channels) by @username.
type usernameRecipient string

func (u usernameRecipient) Recipient() string { return string(u) }

func recipient(to kit.ChatTarget) (tele.Recipient, error) {
	if u := strings.TrimSpace(to.Username); u != "" {
		if !strings.HasPrefix(u, "@") {
			u = "@" + u
		}
		return usernameRecipient(u), nil
	}
	if to.ChatID == 0 {
		return nil, errors.New("empty chat target")
	}
	return tele.ChatID(to.ChatID), nil
}

func sendOptions(to kit.ChatTarget, opt *kit.SendOptions) *tele.SendOptions {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	return &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
		DisableNotification:   opt.Silent,
		ThreadID:              to.ThreadID,
	}
}

func ctxErr(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

const telegramTextLimit = 4000

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	rcpt, err := recipient(to)
	if err != nil {
		return kit.MessageRef{}, err
	}
	so := sendOptions(to, opt)

	var first kit.MessageRef
	for i, chunk := range splitText(text, telegramTextLimit) {
		if err := ctxErr(ctx); err != nil {
			return first, err
		}
		msg, err := a.bot.Send(rcpt, chunk, so)
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: msg.Chat.ID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

func (a *Adapter) SendMedia(ctx context.Context, to kit.ChatTarget, m kit.Media, opt *kit.SendOptions) (kit.MessageRef, error) {
	if err := ctxErr(ctx); err != nil {
		return kit.MessageRef{}, err
	}
	rcpt, err := recipient(to)
	if err != nil {
		return kit.MessageRef{}, err
	}
	if strings.TrimSpace(m.FileID) == "" {
		return kit.MessageRef{}, errors.New("media file id is empty")
	}

	file := tele.File{FileID: m.FileID}
	var what tele.Sendable
	switch m.Kind {
	case kit.MediaPhoto, "":
		what = &tele.Photo{File: file, Caption: m.Caption}
	case kit.MediaVideo:
		what = &tele.Video{File: file, Caption: m.Caption}
	case kit.MediaAnimation:
		what = &tele.Animation{File: file, Caption: m.Caption}
	case kit.MediaDocument:
		what = &tele.Document{File: file, Caption: m.Caption}
	default:
		return kit.MessageRef{}, fmt.Errorf("unsupported media kind %q", m.Kind)
	}

	msg, err := a.bot.Send(rcpt, what, sendOptions(to, opt))
	if err != nil {
		return kit.MessageRef{}, err
	}
	return kit.MessageRef{ChatID: msg.Chat.ID, ThreadID: to.ThreadID, MessageID: msg.ID}, nil
}

// UpdateMenuCommands publishes the command list to Telegram's menu (setMyCommands).
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	list := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		d := c.Description
		if d == "" {
			d = c.Command
		}
		list = append(list, tele.Command{Text: c.Command, Description: d})
	}
	if err := a.bot.SetCommands(list); err != nil {
		return err
	}
	a.log.Info("menu commands updated", logx.Int("count", len(list)))
	return nil
}

// splitText splits long messages on newline boundaries where possible.
func splitText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	var out []string
	for start := 0; start < len(rs); {
		end := start + limit
		if end >= len(rs) {
			out = append(out, strings.TrimRight(string(rs[start:]), "\n"))
			break
		}
		for i := end - 1; i > start+limit/3; i-- {
			if rs[i] == '\n' {
				end = i + 1
				break
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
	}
	return out
}
