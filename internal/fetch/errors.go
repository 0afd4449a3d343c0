package fetch

import (
	"errors"
	"fmt"

	"opowatch-engine/internal/domain"
)

// ErrNoSummary means the gazette simply was not published for that date
// (weekends, holidays). Permanent, but not a data-quality problem.
var ErrNoSummary = errors.New("no summary published for date")

type Kind int

const (
	Transient Kind = iota // network error, 5xx, 429: worth retrying
	Permanent             // 4xx, absent document: retrying cannot help
)

func (k Kind) String() string {
	if k == Transient {
		return "transient"
	}
	return "permanent"
}

// Error wraps a fetch failure with enough context to decide on retry.
type Error struct {
	Kind Kind
	Date domain.Date
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetch %s (%s): %v", e.Date, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsTransient reports whether err is a fetch error worth retrying.
func IsTransient(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == Transient
}
