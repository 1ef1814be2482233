package storage

import (
	"context"
	"database/sql"
	"embed"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"chgkbot/internal/domain"
	logx "chgkbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type Config struct {
	Path        string
	BusyTimeout time.Duration
}

// SQLite implements the tracker and bot store interfaces. Every operation is
// a single statement or a short transaction over one connection, so
// concurrent callers are serialized by database/sql.
type SQLite struct {
	db  *sqlx.DB
	log logx.Logger
	now func() time.Time
}

func Open(ctx context.Context, cfg Config, log logx.Logger) (*SQLite, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage: path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.Wrap(err, "storage: create dir")
		}
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "storage: open")
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	for _, pragma := range []string{
		"PRAGMA busy_timeout = " + strconv.FormatInt(busy.Milliseconds(), 10),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			log.Warn("sqlite pragma failed", logx.String("pragma", pragma), logx.Err(err))
		}
	}

	s := &SQLite{db: db, log: log, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info("store opened", logx.String("path", path))
	return s, nil
}

func (s *SQLite) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return errors.Wrap(err, "storage: read migrations")
	}
	if _, err := s.db.ExecContext(ctx, string(b)); err != nil {
		return errors.Wrap(err, "storage: migrate")
	}
	return nil
}

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks that the database answers.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) stamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

func (s *SQLite) AddTeamSubscription(ctx context.Context, sub domain.TeamSubscription) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO team_subscriptions(chat_id, team_id, team_name, created_at)
		 VALUES(?,?,?,?)
		 ON CONFLICT(chat_id, team_id) DO NOTHING`,
		sub.ChatID, sub.TeamID, sub.TeamName, s.stamp(),
	)
	if err != nil {
		return errors.Wrap(err, "storage: add team subscription")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.UserError(domain.ErrAlreadySubscribed, "Вы уже подписаны на обновления команды %s", sub)
	}
	return nil
}

// RemoveTeamSubscription also drops the team's rating baseline for the chat.
func (s *SQLite) RemoveTeamSubscription(ctx context.Context, chatID, teamID int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "storage: begin")
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM team_subscriptions WHERE chat_id = ? AND team_id = ?`, chatID, teamID)
	if err != nil {
		return errors.Wrap(err, "storage: remove team subscription")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.UserError(domain.ErrNotSubscribed, "Вы не подписаны на обновления команды #%d", teamID)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM rating_baselines WHERE chat_id = ? AND team_id = ?`, chatID, teamID); err != nil {
		return errors.Wrap(err, "storage: remove rating baseline")
	}
	return errors.Wrap(tx.Commit(), "storage: commit")
}

func (s *SQLite) ListTeamSubscriptions(ctx context.Context, chatID int64) ([]domain.TeamSubscription, error) {
	var out []domain.TeamSubscription
	err := s.db.SelectContext(ctx, &out,
		`SELECT chat_id, team_id, team_name FROM team_subscriptions WHERE chat_id = ? ORDER BY team_id`, chatID)
	if err != nil {
		return nil, errors.Wrap(err, "storage: list team subscriptions")
	}
	return out, nil
}

func (s *SQLite) AddCitySubscription(ctx context.Context, sub domain.CitySubscription) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO city_subscriptions(chat_id, city_id, city_name, created_at)
		 VALUES(?,?,?,?)
		 ON CONFLICT(chat_id, city_id) DO NOTHING`,
		sub.ChatID, sub.CityID, sub.CityName, s.stamp(),
	)
	if err != nil {
		return errors.Wrap(err, "storage: add city subscription")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.UserError(domain.ErrAlreadySubscribed, "Вы уже подписаны на обновления города %s", sub)
	}
	return nil
}

func (s *SQLite) RemoveCitySubscription(ctx context.Context, chatID, cityID int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM city_subscriptions WHERE chat_id = ? AND city_id = ?`, chatID, cityID)
	if err != nil {
		return errors.Wrap(err, "storage: remove city subscription")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.UserError(domain.ErrNotSubscribed, "Вы не подписаны на обновления города #%d", cityID)
	}
	return nil
}

func (s *SQLite) ListCitySubscriptions(ctx context.Context, chatID int64) ([]domain.CitySubscription, error) {
	var out []domain.CitySubscription
	err := s.db.SelectContext(ctx, &out,
		`SELECT chat_id, city_id, city_name FROM city_subscriptions WHERE chat_id = ? ORDER BY city_id`, chatID)
	if err != nil {
		return nil, errors.Wrap(err, "storage: list city subscriptions")
	}
	return out, nil
}

type baselineRow struct {
	Value    int     `db:"value"`
	Position float64 `db:"position"`
	Release  int     `db:"release"`
}

// GetRatingBaseline returns ok=false when no baseline was stored yet.
func (s *SQLite) GetRatingBaseline(ctx context.Context, chatID, teamID int64) (domain.Rating, bool, error) {
	var row baselineRow
	err := s.db.GetContext(ctx, &row,
		`SELECT value, position, release FROM rating_baselines WHERE chat_id = ? AND team_id = ?`, chatID, teamID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Rating{}, false, nil
	}
	if err != nil {
		return domain.Rating{}, false, errors.Wrap(err, "storage: get rating baseline")
	}
	return domain.Rating{Value: row.Value, Position: row.Position, Release: row.Release}, true, nil
}

func (s *SQLite) SetRatingBaseline(ctx context.Context, chatID, teamID int64, r domain.Rating) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rating_baselines(chat_id, team_id, value, position, release, updated_at)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(chat_id, team_id) DO UPDATE SET
		   value = excluded.value,
		   position = excluded.position,
		   release = excluded.release,
		   updated_at = excluded.updated_at`,
		chatID, teamID, r.Value, r.Position, r.Release, s.stamp(),
	)
	return errors.Wrap(err, "storage: set rating baseline")
}

// GetTournamentStatus returns StatusUnknown, false when nothing was stored.
func (s *SQLite) GetTournamentStatus(ctx context.Context, chatID, tournamentID int64) (domain.TournamentStatus, bool, error) {
	var st int
	err := s.db.GetContext(ctx, &st,
		`SELECT status FROM tournament_statuses WHERE chat_id = ? AND tournament_id = ?`, chatID, tournamentID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.StatusUnknown, false, nil
	}
	if err != nil {
		return domain.StatusUnknown, false, errors.Wrap(err, "storage: get tournament status")
	}
	return domain.TournamentStatus(st), true, nil
}

// SetTournamentStatus stores status unless a higher one is already present.
// It reports whether the row changed.
func (s *SQLite) SetTournamentStatus(ctx context.Context, chatID, tournamentID int64, status domain.TournamentStatus) (bool, error) {
	if !status.Valid() {
		return false, errors.Newf("storage: invalid tournament status %d", int(status))
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tournament_statuses(chat_id, tournament_id, status, updated_at)
		 VALUES(?,?,?,?)
		 ON CONFLICT(chat_id, tournament_id) DO UPDATE SET
		   status = excluded.status,
		   updated_at = excluded.updated_at
		 WHERE excluded.status > tournament_statuses.status`,
		chatID, tournamentID, int(status), s.stamp(),
	)
	if err != nil {
		return false, errors.Wrap(err, "storage: set tournament status")
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListChatIDsWithSubscriptions returns every chat that follows at least one
// team or city.
func (s *SQLite) ListChatIDsWithSubscriptions(ctx context.Context) ([]int64, error) {
	var out []int64
	err := s.db.SelectContext(ctx, &out,
		`SELECT chat_id FROM team_subscriptions
		 UNION
		 SELECT chat_id FROM city_subscriptions
		 ORDER BY chat_id`)
	if err != nil {
		return nil, errors.Wrap(err, "storage: list chats")
	}
	return out, nil
}

// Counts summarizes the store for the startup self-check.
type Counts struct {
	Chats  int `db:"chats"`
	Teams  int `db:"teams"`
	Cities int `db:"cities"`
}

func (s *SQLite) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := s.db.GetContext(ctx, &c,
		`SELECT
		   (SELECT COUNT(*) FROM (SELECT chat_id FROM team_subscriptions UNION SELECT chat_id FROM city_subscriptions)) AS chats,
		   (SELECT COUNT(*) FROM team_subscriptions) AS teams,
		   (SELECT COUNT(*) FROM city_subscriptions) AS cities`)
	return c, errors.Wrap(err, "storage: counts")
}
