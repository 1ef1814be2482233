package notifier

import "time"

type Config struct {
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	// SendTimeout bounds a single delivery attempt.
	SendTimeout time.Duration
}

type HistoryItem struct {
	At     time.Time
	ChatID int64
	Text   string
}
