// Package bot implements the chat commands: subscriptions, /update and the
// small service commands.
package bot

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"chgkbot/internal/domain"
	"chgkbot/internal/poller"
	"chgkbot/internal/tracker"
	"chgkbot/internal/transport/telegram/router"
	logx "chgkbot/pkg/logx"
)

// Store is the subscription part of the state store.
type Store interface {
	AddTeamSubscription(ctx context.Context, sub domain.TeamSubscription) error
	RemoveTeamSubscription(ctx context.Context, chatID, teamID int64) error
	ListTeamSubscriptions(ctx context.Context, chatID int64) ([]domain.TeamSubscription, error)
	AddCitySubscription(ctx context.Context, sub domain.CitySubscription) error
	RemoveCitySubscription(ctx context.Context, chatID, cityID int64) error
	ListCitySubscriptions(ctx context.Context, chatID int64) ([]domain.CitySubscription, error)
}

type Provider interface {
	FetchTeamInfo(ctx context.Context, teamID int64) (domain.Team, error)
	FetchCitySnapshot(ctx context.Context, cityID int64) (domain.CitySnapshot, error)
}

// Runner is the part of the poller the commands drive.
type Runner interface {
	RunChat(ctx context.Context, chatID int64, force bool) poller.ChatResult
	RefreshRatings(ctx context.Context, chatID int64, opts tracker.RatingOptions) (poller.RatingReport, error)
}

// Cities primes and forgets per-chat city snapshots.
type Cities interface {
	Check(ctx context.Context, chatID int64, city domain.CitySubscription, force bool) (tracker.CityReport, error)
	Forget(chatID, cityID int64)
}

// Cooldowns is the rating notification gate of the cache layer.
type Cooldowns interface {
	ClearCooldown(chatID int64)
}

type Deps struct {
	Store     Store
	Provider  Provider
	Runner    Runner
	Cities    Cities
	Cooldowns Cooldowns
	Log       logx.Logger
}

type Handlers struct {
	store     Store
	provider  Provider
	runner    Runner
	cities    Cities
	cooldowns Cooldowns
	log       logx.Logger
}

func New(d Deps) *Handlers {
	return &Handlers{
		store:     d.Store,
		provider:  d.Provider,
		runner:    d.Runner,
		cities:    d.Cities,
		cooldowns: d.Cooldowns,
		log:       d.Log,
	}
}

var intArgRe = regexp.MustCompile(`^/\S+\s+(\d+)`)

// parseID extracts the numeric argument of "/cmd 123".
func parseID(text, usage string) (int64, error) {
	m := intArgRe.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return 0, domain.UserError(domain.ErrUserInput, "Неверный формат сообщения. Должно быть: %s", usage)
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.UserError(domain.ErrUserInput, "Неверный формат сообщения. Должно быть: %s", usage)
	}
	return id, nil
}

// Commands returns the command table in menu order.
func (h *Handlers) Commands() []router.Command {
	return []router.Command{
		{
			Name:        "follow",
			Description: "подписаться на рейтинг команды",
			Usage:       "/follow TEAM_ID",
			Timeout:     time.Minute,
			Handle:      h.follow,
		},
		{
			Name:        "unfollow",
			Description: "отписаться от команды",
			Usage:       "/unfollow TEAM_ID",
			Timeout:     10 * time.Second,
			Handle:      h.unfollow,
		},
		{
			Name:        "follow_city",
			Description: "следить за синхронами города",
			Usage:       "/follow_city CITY_ID",
			Timeout:     time.Minute,
			Handle:      h.followCity,
		},
		{
			Name:        "unfollow_city",
			Description: "перестать следить за городом",
			Usage:       "/unfollow_city CITY_ID",
			Timeout:     10 * time.Second,
			Handle:      h.unfollowCity,
		},
		{
			Name:        "subscriptions",
			Description: "список подписок",
			Timeout:     10 * time.Second,
			Handle:      h.subscriptions,
		},
		{
			Name:        "update",
			Description: "проверить всё прямо сейчас",
			Timeout:     5 * time.Minute,
			Handle:      h.update,
		},
		{
			Name:        "ping",
			Description: "проверка связи",
			Handle:      h.ping,
		},
		{
			Name:        "help",
			Aliases:     []string{"start"},
			Description: "список команд",
			Handle:      h.help,
		},
	}
}

// replyError answers with the user-facing text of err, or a generic line.
// Non-user errors are returned so the request log records them.
func replyError(ctx context.Context, req *router.Request, err error) error {
	switch {
	case errors.Is(err, domain.ErrUserInput):
		_ = req.Reply(ctx, err.Error())
		return nil
	case errors.Is(err, domain.ErrNotFound):
		_ = req.Reply(ctx, "Ошибка: "+err.Error())
		return nil
	case errors.Is(err, domain.ErrProviderFetch):
		_ = req.Reply(ctx, "Ошибка: сайт рейтинга недоступен, попробуйте позже")
	default:
		_ = req.Reply(ctx, "Ошибка: внутренняя ошибка, попробуйте позже")
	}
	return err
}
