package notifier

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"

	"chgkbot/internal/eventbus"
	kit "chgkbot/internal/transport"
	"chgkbot/internal/transport/transporttest"
	logx "chgkbot/pkg/logx"
)

// flaky fails the first n sends with err.
type flaky struct {
	*transporttest.Recorder
	mu    sync.Mutex
	n     int
	err   error
	calls int
}

func (f *flaky) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.n
	f.mu.Unlock()
	if fail {
		return kit.MessageRef{}, f.err
	}
	return f.Recorder.SendText(ctx, to, text, opt)
}

func fastConfig() Config {
	return Config{RatePerSec: 1000, RetryMax: 2, RetryBase: time.Millisecond, RetryMaxDelay: 5 * time.Millisecond}
}

func TestSend_RetriesTransientFailures(t *testing.T) {
	ad := &flaky{Recorder: transporttest.NewRecorder(), n: 2, err: errors.New("502")}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()
	s := New(fastConfig(), ad, bus, logx.Nop())

	if err := s.Send(context.Background(), 7, "привет"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := ad.SentTo(7); len(got) != 1 || got[0] != "привет" {
		t.Fatalf("sent %v", got)
	}
	e := <-events
	if e.Type != eventbus.TypeNotifySent || e.Data.(eventbus.DeliveryData).Attempts != 3 {
		t.Fatalf("unexpected event %+v", e)
	}
	if h := s.History(); len(h) != 1 || h[0].ChatID != 7 {
		t.Fatalf("history %+v", h)
	}
}

func TestSend_GivesUpAfterRetryMax(t *testing.T) {
	ad := &flaky{Recorder: transporttest.NewRecorder(), n: 10, err: errors.New("502")}
	s := New(fastConfig(), ad, nil, logx.Nop())

	if err := s.Send(context.Background(), 7, "x"); err == nil {
		t.Fatalf("expected error")
	}
	if ad.calls != 3 {
		t.Fatalf("calls=%d, want 3", ad.calls)
	}
}

func TestSend_UnavailableChatIsNotRetried(t *testing.T) {
	rec := transporttest.NewRecorder()
	rec.FailChats[7] = errors.Mark(errors.New("bot was blocked"), kit.ErrChatUnavailable)
	ad := &flaky{Recorder: rec}
	s := New(fastConfig(), ad, nil, logx.Nop())

	err := s.Send(context.Background(), 7, "x")
	if !errors.Is(err, kit.ErrChatUnavailable) {
		t.Fatalf("want ErrChatUnavailable, got %v", err)
	}
	if ad.calls != 1 {
		t.Fatalf("calls=%d, want 1", ad.calls)
	}
}

func TestSend_EmptyTextIsNoop(t *testing.T) {
	rec := transporttest.NewRecorder()
	s := New(fastConfig(), rec, nil, logx.Nop())
	if err := s.Send(context.Background(), 7, ""); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(rec.Sent()) != 0 {
		t.Fatalf("nothing must be sent")
	}
}

func TestRetryDelay_Capped(t *testing.T) {
	cfg := Config{RetryBase: time.Second, RetryMaxDelay: 3 * time.Second}
	for attempt := 1; attempt <= 6; attempt++ {
		if d := retryDelay(cfg, attempt); d <= 0 || d > cfg.RetryMaxDelay {
			t.Fatalf("attempt %d: delay %s out of range", attempt, d)
		}
	}
}
