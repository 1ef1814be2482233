package tracker

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"chgkbot/internal/cache"
	"chgkbot/internal/domain"
	logx "chgkbot/pkg/logx"
)

// signupZone is the zone sign-up times are shown in.
var signupZone = time.FixedZone("MSK", 3*60*60)

// CityReport is the outcome of one city check. Text is empty when nothing
// needs to be sent.
type CityReport struct {
	City domain.CitySubscription
	// Tournaments lists the tournaments rendered into Text, ascending.
	Tournaments []int64
	// Primed is set when the snapshot was stored without reporting.
	Primed bool
	Text   string
}

type CityTracker struct {
	provider  Provider
	snapshots *cache.TTL
	log       logx.Logger
}

// NewCityTracker keeps the previous snapshot of every (chat, city) in
// snapshots, normally the layer's snapshot tier.
func NewCityTracker(p Provider, snapshots *cache.TTL, log logx.Logger) *CityTracker {
	return &CityTracker{provider: p, snapshots: snapshots, log: log}
}

func snapshotKey(chatID, cityID int64) string {
	return "city:" + strconv.FormatInt(chatID, 10) + ":" + strconv.FormatInt(cityID, 10)
}

// Check reports tournaments that are new to the city or gained sign-ups
// since the previous check for this chat. Forced checks render every
// tournament. The stored snapshot is always replaced.
func (t *CityTracker) Check(ctx context.Context, chatID int64, city domain.CitySubscription, force bool) (CityReport, error) {
	out := CityReport{City: city}

	snap, err := t.provider.FetchCitySnapshot(ctx, city.CityID)
	if err != nil {
		return out, err
	}
	if snap.CityName != "" {
		out.City.CityName = snap.CityName
	}

	key := snapshotKey(chatID, city.CityID)
	prev, hadPrev := cache.Lookup[domain.CitySnapshot](t.snapshots, key)
	t.snapshots.Set(key, snap)

	if !hadPrev && !force {
		out.Primed = true
		return out, nil
	}

	ids := make([]int64, 0, len(snap.Applications))
	for tid := range snap.Applications {
		if force || snap.Count(tid) > prev.Count(tid) {
			ids = append(ids, tid)
		}
	}
	if len(ids) == 0 {
		return out, nil
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out.Tournaments = ids

	blocks := make([]string, 0, len(ids))
	for _, tid := range ids {
		blocks = append(blocks, t.renderBlock(ctx, tid, snap.Applications[tid]))
	}
	out.Text = out.City.CityName + ":\n" + strings.Join(blocks, "\n\n")
	return out, nil
}

// Forget drops the stored snapshot, so the next check primes again.
func (t *CityTracker) Forget(chatID, cityID int64) {
	t.snapshots.Delete(snapshotKey(chatID, cityID))
}

func (t *CityTracker) renderBlock(ctx context.Context, tournamentID int64, apps []domain.SyncApplication) string {
	var b strings.Builder
	name := ""
	if len(apps) > 0 {
		name = apps[0].TournamentName
	}
	if name == "" {
		name = "Турнир #" + strconv.FormatInt(tournamentID, 10)
	}
	b.WriteString(name)

	editors, err := t.provider.FetchEditors(ctx, tournamentID)
	if err != nil {
		t.log.Warn("editors fetch failed", logx.Int64("tournament_id", tournamentID), logx.Err(err))
	} else if len(editors) > 0 {
		b.WriteString("\nРедакторы: " + strings.Join(editors, ", "))
	}

	for _, a := range apps {
		b.WriteString("\n")
		if !a.SubmittedAt.IsZero() {
			b.WriteString(a.SubmittedAt.In(signupZone).Format("02.01 15:04") + ": ")
		}
		b.WriteString("ведущий " + orDash(a.Leader) + ", представитель " + orDash(a.Delegate))
	}
	return b.String()
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "—"
	}
	return s
}
