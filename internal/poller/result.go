package poller

import (
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"chgkbot/internal/domain"
	"chgkbot/internal/tracker"
)

const (
	headerRatingUpdated   = "Рейтинг обновлён:"
	headerRatingUnchanged = "Рейтинг не изменился:"
)

// ChatResult summarizes one chat's pass.
type ChatResult struct {
	ChatID      int64
	Forced      bool
	Teams       int
	Cities      int
	Tournaments int
	Messages    int

	RatingChanged   bool
	CooldownSkipped bool

	// Soft holds per-entity failures the chat continued past.
	Soft []error
	// Err is set when the chat was abandoned; it is marked ErrPoisonedChat.
	Err      error
	Duration time.Duration
}

type TickResult struct {
	Chats    []ChatResult
	Duration time.Duration
}

func (t TickResult) Failed() int {
	n := 0
	for _, c := range t.Chats {
		if c.Err != nil {
			n++
		}
	}
	return n
}

func (t TickResult) Messages() int {
	n := 0
	for _, c := range t.Chats {
		n += c.Messages
	}
	return n
}

type TeamFailure struct {
	Team domain.TeamSubscription
	Err  error
}

// RatingReport is the consolidated rating listing of one chat.
type RatingReport struct {
	Forced   bool
	Changes  []tracker.RatingChange
	Failures []TeamFailure
}

func (r RatingReport) Significant() bool {
	for _, c := range r.Changes {
		if c.Significant {
			return true
		}
	}
	return false
}

// Text renders the listing: teams by rating descending, then failed teams.
// It is empty when there is nothing to list.
func (r RatingReport) Text() string {
	if len(r.Changes) == 0 && len(r.Failures) == 0 {
		return ""
	}
	changes := append([]tracker.RatingChange(nil), r.Changes...)
	sort.SliceStable(changes, func(i, j int) bool { return changes[i].New.Value > changes[j].New.Value })

	var b strings.Builder
	if r.Significant() || !r.Forced {
		b.WriteString(headerRatingUpdated)
	} else {
		b.WriteString(headerRatingUnchanged)
	}
	for _, c := range changes {
		b.WriteString("\n" + c.Team.TeamName + ": " + c.New.String())
	}
	for _, f := range r.Failures {
		b.WriteString("\n" + f.Team.TeamName + ": Ошибка: " + failureText(f.Err))
	}
	return b.String()
}

func failureText(err error) string {
	switch {
	case domain.IsUserFacing(err):
		return err.Error()
	case errors.Is(err, domain.ErrProviderFetch):
		return "рейтинг временно недоступен"
	default:
		return "внутренняя ошибка"
	}
}
