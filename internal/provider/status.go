package provider

import (
	"strings"
	"time"

	"chgkbot/internal/domain"
)

// ReviewSignal summarizes a controversials or appeals listing.
type ReviewSignal int

const (
	// ReviewNone means nothing was filed.
	ReviewNone ReviewSignal = iota
	// ReviewPending means at least one item is still new.
	ReviewPending
	// ReviewResolved means items exist and none is new.
	ReviewResolved
)

func (r ReviewSignal) String() string {
	switch r {
	case ReviewPending:
		return "pending"
	case ReviewResolved:
		return "resolved"
	default:
		return "none"
	}
}

// Signals are the inputs to ComputeStatus.
type Signals struct {
	Now   time.Time
	Start time.Time
	End   time.Time

	ResultsOpen    bool
	Controversials ReviewSignal
	Appeals        ReviewSignal
}

// ComputeStatus derives a tournament's lifecycle stage from the clock and the
// published signals.
func ComputeStatus(s Signals) domain.TournamentStatus {
	switch {
	case s.Now.Before(s.Start):
		return domain.StatusNotStarted
	case s.Now.Before(s.End):
		return domain.StatusRunning
	case !s.ResultsOpen:
		return domain.StatusRunning
	case s.Controversials != ReviewResolved:
		return domain.StatusResultsOpen
	case s.Appeals != ReviewResolved:
		return domain.StatusControversialsDone
	default:
		return domain.StatusAppealsDone
	}
}

// ResultsPublished reports whether most result rows carry a real position.
// Until results open the site lists placeholders ("", "0" or "9999").
func ResultsPublished(positions []string) bool {
	if len(positions) == 0 {
		return false
	}
	placed := 0
	for _, p := range positions {
		if !isPlaceholderPosition(p) {
			placed++
		}
	}
	return placed*2 > len(positions)
}

func isPlaceholderPosition(p string) bool {
	switch strings.TrimSpace(p) {
	case "", "0", "9999", "0.0", "9999.0":
		return true
	}
	return false
}

// ReviewFromStatuses maps raw review statuses to a ReviewSignal.
func ReviewFromStatuses(statuses []string) ReviewSignal {
	if len(statuses) == 0 {
		return ReviewNone
	}
	for _, s := range statuses {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "n", "new":
			return ReviewPending
		}
	}
	return ReviewResolved
}
