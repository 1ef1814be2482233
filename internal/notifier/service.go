package notifier

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"

	"chgkbot/internal/eventbus"
	kit "chgkbot/internal/transport"
	logx "chgkbot/pkg/logx"
)

const historyCap = 100

// Service is safe for concurrent use.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	adapter kit.Adapter
	bus     eventbus.Bus
	log     logx.Logger

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, adapter kit.Adapter, bus eventbus.Bus, log logx.Logger) *Service {
	s := &Service{adapter: adapter, bus: bus, log: log}
	s.Apply(cfg)
	return s
}

// Apply swaps the rate and retry policy at runtime.
func (s *Service) Apply(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	s.mu.Lock()
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	s.mu.Unlock()
}

// Send delivers text to chatID. Errors marked kit.ErrChatUnavailable are
// returned on the first attempt.
func (s *Service) Send(ctx context.Context, chatID int64, text string) error {
	if text == "" {
		return nil
	}
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	s.mu.Unlock()

	to := kit.ChatTarget{ChatID: chatID}
	maxAttempts := 1 + cfg.RetryMax

	var lastErr error
	attempt := 1
	for ; attempt <= maxAttempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return errors.Wrap(err, "notifier: rate limit wait")
		}
		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		_, err := s.adapter.SendText(callCtx, to, text, &kit.SendOptions{DisablePreview: true})
		cancel()
		if err == nil {
			s.appendHistory(chatID, text)
			eventbus.Publish(s.bus, eventbus.TypeNotifySent, eventbus.DeliveryData{ChatID: chatID, Attempts: attempt})
			return nil
		}
		lastErr = err
		s.log.Debug("notify send failed", logx.Int64("chat_id", chatID), logx.Int("attempt", attempt), logx.Int("max", maxAttempts), logx.Err(err))

		if errors.Is(err, kit.ErrChatUnavailable) || ctx.Err() != nil || attempt >= maxAttempts {
			break
		}
		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			lastErr = errors.CombineErrors(lastErr, ctx.Err())
			attempt = maxAttempts
		}
	}

	eventbus.Publish(s.bus, eventbus.TypeNotifyFailed, eventbus.DeliveryData{ChatID: chatID, Attempts: min(attempt, maxAttempts), Error: lastErr.Error()})
	return errors.Wrapf(lastErr, "notify chat %d", chatID)
}

// History returns recently delivered messages, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) appendHistory(chatID int64, text string) {
	s.hmu.Lock()
	s.history = append(s.history, HistoryItem{At: time.Now(), ChatID: chatID, Text: text})
	if len(s.history) > historyCap {
		s.history = s.history[len(s.history)-historyCap:]
	}
	s.hmu.Unlock()
}

// retryDelay is the pause before attempt+1: base*2^(attempt-1) with
// 0.7..1.3 jitter, capped at RetryMaxDelay.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	j := 0.7 + rand.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	return d
}
