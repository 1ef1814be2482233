package provider

import (
	"strconv"
	"strings"
	"time"

	sonic "github.com/bytedance/sonic"
	"github.com/cockroachdb/errors"
)

// The API is inconsistent about quoting numbers; flexInt and flexFloat
// accept both 12 and "12". Empty strings and null decode to zero.

type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s, err := scalarString(b)
	if err != nil || s == "" {
		*f = 0
		return err
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		fl, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return errors.Wrapf(err, "parse int %q", s)
		}
		n = int64(fl)
	}
	*f = flexInt(n)
	return nil
}

type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s, err := scalarString(b)
	if err != nil || s == "" {
		*f = 0
		return err
	}
	v, err := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
	if err != nil {
		return errors.Wrapf(err, "parse float %q", s)
	}
	*f = flexFloat(v)
	return nil
}

func scalarString(b []byte) (string, error) {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return "", nil
	}
	if strings.HasPrefix(s, `"`) {
		var out string
		if err := sonic.Unmarshal(b, &out); err != nil {
			return "", err
		}
		return strings.TrimSpace(out), nil
	}
	return s, nil
}

type teamDTO struct {
	ID   flexInt `json:"idteam"`
	Name string  `json:"name"`
	Town string  `json:"town"`
}

type ratingDTO struct {
	Release  flexInt   `json:"idrelease"`
	Rating   flexInt   `json:"rating"`
	Position flexFloat `json:"rating_position"`
}

type lastTournamentsDTO struct {
	Tournaments []flexInt `json:"tournaments"`
}

type tournamentDTO struct {
	ID        flexInt `json:"idtournament"`
	Name      string  `json:"name"`
	TypeName  string  `json:"type_name"`
	DateStart string  `json:"date_start"`
	DateEnd   string  `json:"date_end"`
}

type resultDTO struct {
	Position string `json:"position"`
}

// resultDTO.Position may arrive as a number, so decode it through flexFloat
// and keep the textual form for placeholder detection.
func (r *resultDTO) UnmarshalJSON(b []byte) error {
	var raw struct {
		Position any `json:"position"`
	}
	if err := sonic.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch v := raw.Position.(type) {
	case nil:
		r.Position = ""
	case string:
		r.Position = strings.TrimSpace(v)
	case float64:
		r.Position = strconv.FormatFloat(v, 'f', -1, 64)
	default:
		r.Position = strings.TrimSpace(toString(v))
	}
	return nil
}

type reviewDTO struct {
	Status string `json:"status"`
}

type editorDTO struct {
	Name       string `json:"name"`
	Patronymic string `json:"patronymic"`
	Surname    string `json:"surname"`
}

type townDTO struct {
	Name string `json:"name"`
}

type syncRequestDTO struct {
	TournamentID   flexInt `json:"idtournament"`
	TournamentName string  `json:"tournament_name"`
	Representative string  `json:"representative"`
	Narrator       string  `json:"narrator"`
	IssuedAt       string  `json:"issued_at"`
}

// siteZone is the fixed offset the site publishes local times in (MSK).
var siteZone = time.FixedZone("MSK", 3*60*60)

var siteTimeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	time.RFC3339,
}

func parseSiteTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty time")
	}
	for _, layout := range siteTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, siteZone); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.Newf("unrecognized time %q", s)
}

func toString(v any) string {
	b, err := sonic.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
