// Package eventbus fans poll and delivery events out to in-process
// subscribers (logging, health, tests).
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the bot.
const (
	TypePollTick     = "poll.tick"
	TypeChatFailed   = "poll.chat_failed"
	TypeNotifySent   = "notifier.sent"
	TypeNotifyFailed = "notifier.failed"
	TypeHealthReport = "health.report"
)

// Event is a small in-memory signal. Publish never blocks; a subscriber whose
// buffer is full misses the event.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// TickData is the payload of TypePollTick.
type TickData struct {
	Chats    int           `json:"chats"`
	Failed   int           `json:"failed"`
	Messages int           `json:"messages"`
	Duration time.Duration `json:"duration"`
}

// ChatFailedData is the payload of TypeChatFailed.
type ChatFailedData struct {
	ChatID int64  `json:"chat_id"`
	Error  string `json:"error"`
}

// DeliveryData is the payload of the notifier events.
type DeliveryData struct {
	ChatID   int64  `json:"chat_id"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fan-out bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// A concurrent unsubscribe may close ch.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// Publish is a nil-safe shorthand used by components with an optional bus.
func Publish(b Bus, typ string, data any) {
	if b == nil {
		return
	}
	b.Publish(Event{Type: typ, Time: time.Now(), Data: data})
}
