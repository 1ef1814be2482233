package domain

import (
	"strconv"

	"github.com/cockroachdb/errors"
)

// TournamentStatus is a lifecycle stage. Stages are totally ordered and a
// stored stage never moves backwards.
type TournamentStatus int

const (
	StatusUnknown TournamentStatus = iota
	StatusNotStarted
	StatusRunning
	StatusResultsOpen
	StatusControversialsDone
	StatusAppealsDone
	StatusLongGone
)

var statusNames = map[TournamentStatus]string{
	StatusUnknown:            "UNKNOWN",
	StatusNotStarted:         "NOT_STARTED",
	StatusRunning:            "RUNNING",
	StatusResultsOpen:        "RESULTS_OPEN",
	StatusControversialsDone: "CONTROVERSIALS_DONE",
	StatusAppealsDone:        "APPEALS_DONE",
	StatusLongGone:           "LONG_GONE",
}

var statusLabels = map[TournamentStatus]string{
	StatusNotStarted:         "ещё не начался",
	StatusRunning:            "идёт",
	StatusResultsOpen:        "результаты открыты",
	StatusControversialsDone: "спорные рассмотрены",
	StatusAppealsDone:        "апелляции рассмотрены",
	StatusLongGone:           "давно завершён",
}

// transitions lists, for every stage, the stages it may be replaced with.
// Staying put is always allowed.
var transitions = map[TournamentStatus][]TournamentStatus{
	StatusUnknown:            {StatusNotStarted, StatusRunning, StatusResultsOpen, StatusControversialsDone, StatusAppealsDone, StatusLongGone},
	StatusNotStarted:         {StatusRunning, StatusResultsOpen, StatusControversialsDone, StatusAppealsDone, StatusLongGone},
	StatusRunning:            {StatusResultsOpen, StatusControversialsDone, StatusAppealsDone, StatusLongGone},
	StatusResultsOpen:        {StatusControversialsDone, StatusAppealsDone, StatusLongGone},
	StatusControversialsDone: {StatusAppealsDone, StatusLongGone},
	StatusAppealsDone:        {StatusLongGone},
	StatusLongGone:           {},
}

func (s TournamentStatus) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return "STATUS(" + strconv.Itoa(int(s)) + ")"
}

// Label is the user-facing name of the stage.
func (s TournamentStatus) Label() string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return s.String()
}

func (s TournamentStatus) Valid() bool {
	return s > StatusUnknown && s <= StatusLongGone
}

// Important stages are the ones users are notified about.
func (s TournamentStatus) Important() bool {
	switch s {
	case StatusResultsOpen, StatusControversialsDone, StatusAppealsDone:
		return true
	}
	return false
}

// CanTransition reports whether a stored stage from may be replaced by to.
func CanTransition(from, to TournamentStatus) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckTransition returns ErrStatusRegression when to would downgrade from.
func CheckTransition(from, to TournamentStatus) error {
	if !to.Valid() {
		return errors.Newf("invalid tournament status %d", int(to))
	}
	if !CanTransition(from, to) {
		return errors.Mark(errors.Newf("tournament status %s -> %s", from, to), ErrStatusRegression)
	}
	return nil
}

func MaxStatus(a, b TournamentStatus) TournamentStatus {
	if a > b {
		return a
	}
	return b
}
