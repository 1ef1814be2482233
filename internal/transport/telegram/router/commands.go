package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	rtsup "chgkbot/internal/runtime/supervisor"
	kit "chgkbot/internal/transport"
	logx "chgkbot/pkg/logx"
)

const (
	replyUnknownCommand = "Неизвестная команда. Попробуйте /help"
	replyBusy           = "Бот занят, попробуйте ещё раз чуть позже"
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	// Hidden commands are routed but not shown in the menu or help.
	Hidden  bool
	Timeout time.Duration
	Handle  HandlerFunc
}

type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	// Text is the full message text, including the command word.
	Text  string
	Args  []string
	ReqID string

	Adapter kit.Adapter
	Logger  logx.Logger
}

// Reply sends plain text back to the originating chat.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true})
	return err
}

// ReplyHTML sends HTML-formatted text back to the originating chat.
func (r *Request) ReplyHTML(ctx context.Context, text string) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
	return err
}

type CommandManager struct {
	mu      sync.RWMutex
	cmds    map[string]Command
	ordered []Command
	log     logx.Logger
	adapter kit.Adapter
	workers int
	jobs    chan func()
	running atomic.Bool
}

func NewCommandManager(log logx.Logger, adapter kit.Adapter, workers int) *CommandManager {
	if workers <= 0 {
		workers = max(2, runtime.NumCPU())
	}
	return &CommandManager{
		cmds:    map[string]Command{},
		log:     log,
		adapter: adapter,
		workers: workers,
		jobs:    make(chan func(), 256),
	}
}

// SetCommands replaces the registry and refreshes the Telegram menu in the
// background when the adapter supports it.
func (m *CommandManager) SetCommands(ctx context.Context, cmds []Command) {
	byName := map[string]Command{}
	ordered := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		byName[name] = c
		ordered = append(ordered, c)
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a != "" {
				if _, exists := byName[a]; !exists {
					byName[a] = c
				}
			}
		}
	}

	m.mu.Lock()
	m.cmds = byName
	m.ordered = ordered
	m.mu.Unlock()

	if up, ok := m.adapter.(kit.CommandMenuUpdater); ok {
		menu := buildMenu(ordered)
		go func() {
			cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(cctx, menu); err != nil {
				m.log.Warn("menu update failed", logx.Err(err))
			}
		}()
	}
}

// Commands returns the visible commands in registration order.
func (m *CommandManager) Commands() []Command {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Command, 0, len(m.ordered))
	for _, c := range m.ordered {
		if !c.Hidden {
			out = append(out, c)
		}
	}
	return out
}

// DispatchLoop routes updates to a bounded worker pool until ctx is done or
// updates is closed.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx, rtsup.WithLogger(m.log))
	m.running.Store(true)
	m.log.Info("command dispatcher started", logx.Int("workers", m.workers), logx.Int("job_queue_cap", cap(m.jobs)))

	for i := 0; i < m.workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-m.jobs:
					m.runJob(idx, job)
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}

	defer func() {
		m.running.Store(false)
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
			m.route(ctx, up)
		}
	}
}

func (m *CommandManager) runJob(worker int, job func()) {
	if job == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in command job", logx.Int("worker", worker), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	job()
}

func (m *CommandManager) route(ctx context.Context, up kit.Update) {
	if up.Kind != kit.UpdateMessage || up.Message == nil {
		return
	}
	msg := up.Message
	word, args, ok := parseCommand(msg.Text)
	if !ok {
		return
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	m.mu.RLock()
	cmd, found := m.cmds[word]
	m.mu.RUnlock()
	if !found {
		_, _ = m.adapter.SendText(ctx, chat, replyUnknownCommand, nil)
		return
	}

	rid := newReqID()
	req := &Request{
		Update:  up,
		Chat:    chat,
		FromID:  msg.FromID,
		Command: cmd.Name,
		Text:    strings.TrimSpace(msg.Text),
		Args:    args,
		ReqID:   rid,
		Adapter: m.adapter,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
	}

	final := Chain(
		cmd.Handle,
		MWPanicRecover(),
		MWRequestLog(),
		MWTimeout(cmd.Timeout),
	)
	if !m.tryEnqueue(func() { _ = final(ctx, req) }) {
		_, _ = m.adapter.SendText(ctx, chat, replyBusy, nil)
	}
}

func (m *CommandManager) tryEnqueue(fn func()) bool {
	if !m.running.Load() {
		return false
	}
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

// parseCommand extracts the lower-cased command word (without "/" and
// "@botname") and whitespace-separated arguments.
func parseCommand(text string) (string, []string, bool) {
	parts := strings.Fields(strings.TrimSpace(text))
	if len(parts) == 0 || !strings.HasPrefix(parts[0], "/") {
		return "", nil, false
	}
	word := strings.TrimPrefix(parts[0], "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	if word == "" {
		return "", nil, false
	}
	return strings.ToLower(word), parts[1:], true
}

var ridSeq uint64

func newReqID() string {
	n := atomic.AddUint64(&ridSeq, 1)
	return strconv.FormatInt(time.Now().UnixNano(), 36) + "-" + strconv.FormatUint(n, 36)
}
