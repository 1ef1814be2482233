// Package transporttest provides an in-memory kit.Adapter for tests.
package transporttest

import (
	"context"
	"sync"

	kit "chgkbot/internal/transport"
)

type Sent struct {
	To   kit.ChatTarget
	Text string
	Opt  kit.SendOptions
}

// Recorder records outgoing messages. FailChats makes sends to those chats
// fail with the mapped error.
type Recorder struct {
	mu        sync.Mutex
	sent      []Sent
	typing    []kit.ChatTarget
	menu      []kit.BotCommand
	FailChats map[int64]error
	notify    chan struct{}
}

func NewRecorder() *Recorder {
	return &Recorder{FailChats: map[int64]error{}, notify: make(chan struct{}, 1024)}
}

func (r *Recorder) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (r *Recorder) Stop(ctx context.Context) error                       { return nil }

func (r *Recorder) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	r.mu.Lock()
	if err, ok := r.FailChats[to.ChatID]; ok {
		r.mu.Unlock()
		return kit.MessageRef{}, err
	}
	var o kit.SendOptions
	if opt != nil {
		o = *opt
	}
	r.sent = append(r.sent, Sent{To: to, Text: text, Opt: o})
	n := len(r.sent)
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: n}, nil
}

func (r *Recorder) SendTyping(ctx context.Context, to kit.ChatTarget) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.typing = append(r.typing, to)
	return nil
}

func (r *Recorder) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.menu = append([]kit.BotCommand(nil), cmds...)
	return nil
}

// Sent returns a copy of all recorded messages.
func (r *Recorder) Sent() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sent(nil), r.sent...)
}

// SentTo returns the texts sent to chatID, in order.
func (r *Recorder) SentTo(chatID int64) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, s := range r.sent {
		if s.To.ChatID == chatID {
			out = append(out, s.Text)
		}
	}
	return out
}

func (r *Recorder) Typing() []kit.ChatTarget {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]kit.ChatTarget(nil), r.typing...)
}

func (r *Recorder) Menu() []kit.BotCommand {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]kit.BotCommand(nil), r.menu...)
}

// WaitSent blocks until at least n messages were recorded or ctx is done.
func (r *Recorder) WaitSent(ctx context.Context, n int) bool {
	for {
		r.mu.Lock()
		got := len(r.sent)
		r.mu.Unlock()
		if got >= n {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-r.notify:
		}
	}
}
