package domain

import (
	"math"
	"strconv"
	"strings"
)

// FormatFloat prints f without trailing zeros: 12.50 -> "12.5", 3.0 -> "3".
func FormatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// String renders "1521 (+21), место 12.5 (▲2)". Deltas are shown only when
// set and non-zero.
func (r Rating) String() string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(r.Value))
	if r.ValueDelta != nil && *r.ValueDelta != 0 {
		b.WriteString(" (")
		if *r.ValueDelta > 0 {
			b.WriteByte('+')
		}
		b.WriteString(strconv.Itoa(*r.ValueDelta))
		b.WriteByte(')')
	}
	b.WriteString(", место ")
	b.WriteString(FormatFloat(r.Position))
	if r.PositionDelta != nil && *r.PositionDelta != 0 {
		d := *r.PositionDelta
		arrow := "▲"
		if d < 0 {
			arrow = "▼"
		}
		b.WriteString(" (" + arrow + FormatFloat(math.Abs(d)) + ")")
	}
	return b.String()
}

func (t TeamSubscription) String() string {
	return t.TeamName + " (#" + strconv.FormatInt(t.TeamID, 10) + ")"
}

func (c CitySubscription) String() string {
	return c.CityName + " (#" + strconv.FormatInt(c.CityID, 10) + ")"
}
