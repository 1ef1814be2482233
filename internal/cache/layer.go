package cache

import (
	"strconv"
	"time"
)

const DefaultSnapshotMaxEntries = 1 << 16

type LayerConfig struct {
	ShortTTL    time.Duration
	LongTTL     time.Duration
	CooldownTTL time.Duration
	MaxEntries  int
	// SnapshotMaxEntries bounds the snapshot tier; MaxEntries does not apply to it.
	SnapshotMaxEntries int
}

// Layer bundles the caches used across one process:
//   - Short memoizes provider calls within a poll cycle.
//   - Long memoizes slow-changing data.
//   - Snapshots keeps per-chat city snapshots for LongTTL.
//   - Cooldown marks chats that were just sent a rating update.
type Layer struct {
	Short     *TTL
	Long      *TTL
	Snapshots *TTL
	Cooldown  *TTL
}

func NewLayer(cfg LayerConfig, opts ...Option) *Layer {
	if cfg.ShortTTL <= 0 {
		cfg.ShortTTL = 5 * time.Minute
	}
	if cfg.LongTTL <= 0 {
		cfg.LongTTL = 24 * time.Hour
	}
	if cfg.CooldownTTL <= 0 {
		cfg.CooldownTTL = 24 * time.Hour
	}
	if cfg.SnapshotMaxEntries <= 0 {
		cfg.SnapshotMaxEntries = DefaultSnapshotMaxEntries
	}
	snapOpts := append(append([]Option(nil), opts...), WithMaxEntries(cfg.SnapshotMaxEntries))
	if cfg.MaxEntries > 0 {
		opts = append([]Option{WithMaxEntries(cfg.MaxEntries)}, opts...)
	}
	return &Layer{
		Short:     NewTTL("short", cfg.ShortTTL, opts...),
		Long:      NewTTL("long", cfg.LongTTL, opts...),
		Snapshots: NewTTL("snapshots", cfg.LongTTL, snapOpts...),
		Cooldown:  NewTTL("cooldown", cfg.CooldownTTL, opts...),
	}
}

func cooldownKey(chatID int64) string { return "chat:" + strconv.FormatInt(chatID, 10) }

// InCooldown reports whether chatID got a rating notification within the
// cooldown window.
func (l *Layer) InCooldown(chatID int64) bool {
	_, ok := l.Cooldown.Get(cooldownKey(chatID))
	return ok
}

func (l *Layer) StartCooldown(chatID int64) {
	l.Cooldown.Set(cooldownKey(chatID), true)
}

func (l *Layer) ClearCooldown(chatID int64) {
	l.Cooldown.Delete(cooldownKey(chatID))
}

// Purge drops expired entries from every tier.
func (l *Layer) Purge() int {
	return l.Short.Purge() + l.Long.Purge() + l.Snapshots.Purge() + l.Cooldown.Purge()
}
