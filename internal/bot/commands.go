package bot

import (
	"context"
	"fmt"
	"strings"

	"chgkbot/internal/domain"
	"chgkbot/internal/tracker"
	"chgkbot/internal/transport/telegram/router"
	logx "chgkbot/pkg/logx"
)

const replyNoSubscriptions = "Нет подписок"

func (h *Handlers) ping(ctx context.Context, req *router.Request) error {
	return req.Reply(ctx, "PONG")
}

func (h *Handlers) help(ctx context.Context, req *router.Request) error {
	names := make([]string, 0, 8)
	for _, c := range h.Commands() {
		if c.Hidden || c.Name == "help" {
			continue
		}
		names = append(names, "/"+c.Name)
	}
	return req.Reply(ctx, "Доступные команды: "+strings.Join(names, ", "))
}

func (h *Handlers) follow(ctx context.Context, req *router.Request) error {
	teamID, err := parseID(req.Text, "/follow TEAM_ID")
	if err != nil {
		return replyError(ctx, req, err)
	}
	if err := req.Adapter.SendTyping(ctx, req.Chat); err != nil {
		req.Logger.Debug("typing failed", logx.Err(err))
	}

	team, err := h.provider.FetchTeamInfo(ctx, teamID)
	if err != nil {
		return replyError(ctx, req, err)
	}
	sub := domain.TeamSubscription{ChatID: req.Chat.ChatID, TeamID: team.ID, TeamName: team.Name}
	if err := h.store.AddTeamSubscription(ctx, sub); err != nil {
		return replyError(ctx, req, err)
	}
	req.Logger.Info("team followed", logx.Int64("team_id", team.ID))
	if err := req.Reply(ctx, fmt.Sprintf("Вы подписались на обновления рейтинга команды %s (%d)", team.Name, team.ID)); err != nil {
		return err
	}

	rep, err := h.runner.RefreshRatings(ctx, req.Chat.ChatID, tracker.RatingOptions{ForceReport: true, ForcePersist: true})
	if err != nil {
		return replyError(ctx, req, err)
	}
	if text := rep.Text(); text != "" {
		return req.Reply(ctx, text)
	}
	return nil
}

func (h *Handlers) unfollow(ctx context.Context, req *router.Request) error {
	teamID, err := parseID(req.Text, "/unfollow TEAM_ID")
	if err != nil {
		return replyError(ctx, req, err)
	}
	if err := h.store.RemoveTeamSubscription(ctx, req.Chat.ChatID, teamID); err != nil {
		return replyError(ctx, req, err)
	}
	req.Logger.Info("team unfollowed", logx.Int64("team_id", teamID))
	h.clearCooldownIfNoTeams(ctx, req)
	return req.Reply(ctx, fmt.Sprintf("Вы отменили подписку на команду #%d", teamID))
}

// clearCooldownIfNoTeams lets a chat that dropped its last team get the
// next rating listing right after following again.
func (h *Handlers) clearCooldownIfNoTeams(ctx context.Context, req *router.Request) {
	if h.cooldowns == nil {
		return
	}
	teams, err := h.store.ListTeamSubscriptions(ctx, req.Chat.ChatID)
	if err != nil {
		req.Logger.Warn("list teams after unfollow failed", logx.Err(err))
		return
	}
	if len(teams) == 0 {
		h.cooldowns.ClearCooldown(req.Chat.ChatID)
	}
}

func (h *Handlers) followCity(ctx context.Context, req *router.Request) error {
	cityID, err := parseID(req.Text, "/follow_city CITY_ID")
	if err != nil {
		return replyError(ctx, req, err)
	}
	if err := req.Adapter.SendTyping(ctx, req.Chat); err != nil {
		req.Logger.Debug("typing failed", logx.Err(err))
	}

	snap, err := h.provider.FetchCitySnapshot(ctx, cityID)
	if err != nil {
		return replyError(ctx, req, err)
	}
	sub := domain.CitySubscription{ChatID: req.Chat.ChatID, CityID: cityID, CityName: snap.CityName}
	if err := h.store.AddCitySubscription(ctx, sub); err != nil {
		return replyError(ctx, req, err)
	}
	// The first check stores the snapshot; later ticks report only growth.
	if _, err := h.cities.Check(ctx, req.Chat.ChatID, sub, false); err != nil {
		req.Logger.Warn("city prime failed", logx.Int64("city_id", cityID), logx.Err(err))
	}
	req.Logger.Info("city followed", logx.Int64("city_id", cityID))
	return req.Reply(ctx, fmt.Sprintf("Вы подписались на синхроны города %s (%d)", snap.CityName, cityID))
}

func (h *Handlers) unfollowCity(ctx context.Context, req *router.Request) error {
	cityID, err := parseID(req.Text, "/unfollow_city CITY_ID")
	if err != nil {
		return replyError(ctx, req, err)
	}
	if err := h.store.RemoveCitySubscription(ctx, req.Chat.ChatID, cityID); err != nil {
		return replyError(ctx, req, err)
	}
	h.cities.Forget(req.Chat.ChatID, cityID)
	req.Logger.Info("city unfollowed", logx.Int64("city_id", cityID))
	return req.Reply(ctx, fmt.Sprintf("Вы отменили подписку на город #%d", cityID))
}

func (h *Handlers) subscriptions(ctx context.Context, req *router.Request) error {
	teams, err := h.store.ListTeamSubscriptions(ctx, req.Chat.ChatID)
	if err != nil {
		return replyError(ctx, req, err)
	}
	cities, err := h.store.ListCitySubscriptions(ctx, req.Chat.ChatID)
	if err != nil {
		return replyError(ctx, req, err)
	}
	return req.Reply(ctx, formatSubscriptions(teams, cities))
}

func formatSubscriptions(teams []domain.TeamSubscription, cities []domain.CitySubscription) string {
	if len(teams) == 0 && len(cities) == 0 {
		return replyNoSubscriptions
	}
	parts := make([]string, 0, 2)
	switch len(teams) {
	case 0:
	case 1:
		parts = append(parts, "Вы подписаны на обновления команды "+teams[0].String())
	default:
		lines := make([]string, len(teams))
		for i, t := range teams {
			lines[i] = t.String()
		}
		parts = append(parts, "Вы подписаны на обновления команд:\n"+strings.Join(lines, "\n"))
	}
	if len(cities) > 0 {
		lines := make([]string, len(cities))
		for i, c := range cities {
			lines[i] = c.String()
		}
		parts = append(parts, "Города:\n"+strings.Join(lines, "\n"))
	}
	return strings.Join(parts, "\n\n")
}

func (h *Handlers) update(ctx context.Context, req *router.Request) error {
	chatID := req.Chat.ChatID
	teams, err := h.store.ListTeamSubscriptions(ctx, chatID)
	if err != nil {
		return replyError(ctx, req, err)
	}
	cities, err := h.store.ListCitySubscriptions(ctx, chatID)
	if err != nil {
		return replyError(ctx, req, err)
	}
	if len(teams) == 0 && len(cities) == 0 {
		return req.Reply(ctx, replyNoSubscriptions)
	}
	if err := req.Adapter.SendTyping(ctx, req.Chat); err != nil {
		req.Logger.Debug("typing failed", logx.Err(err))
	}

	res := h.runner.RunChat(ctx, chatID, true)
	req.Logger.Info("forced update done",
		logx.Int("messages", res.Messages),
		logx.Int("soft_errors", len(res.Soft)),
		logx.Duration("took", res.Duration),
	)
	if res.Err != nil {
		return replyError(ctx, req, res.Err)
	}
	return nil
}
