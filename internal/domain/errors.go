package domain

import "github.com/cockroachdb/errors"

// Error kinds. Wrap with errors.Mark so callers can test with errors.Is.
var (
	ErrUserInput     = errors.New("invalid input")
	ErrNotFound      = errors.New("not found")
	ErrProviderFetch = errors.New("provider fetch failed")
	ErrPoisonedChat  = errors.New("chat processing failed")

	// Sub-kinds of ErrNotFound. UserError adds the parent mark.
	ErrRatingNotFound    = errors.New("team rating not found")
	ErrAlreadySubscribed = errors.New("already subscribed")
	ErrNotSubscribed     = errors.New("not subscribed")

	ErrStatusRegression = errors.New("tournament status regression")
)

// parentKind returns the broader kind a sub-kind belongs to, or nil.
func parentKind(kind error) error {
	switch kind {
	case ErrRatingNotFound, ErrAlreadySubscribed, ErrNotSubscribed:
		return ErrNotFound
	}
	return nil
}

// MarkKind marks err with kind and with the kind's parent, if any.
func MarkKind(err, kind error) error {
	if err == nil {
		return nil
	}
	err = errors.Mark(err, kind)
	if parent := parentKind(kind); parent != nil {
		err = errors.Mark(err, parent)
	}
	return err
}

// UserError builds an error whose message is shown to the chat as is.
func UserError(kind error, format string, args ...any) error {
	return MarkKind(errors.Newf(format, args...), kind)
}

// IsUserFacing reports whether err carries a message meant for the chat.
func IsUserFacing(err error) bool {
	return errors.IsAny(err, ErrUserInput, ErrNotFound)
}
