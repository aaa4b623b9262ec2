package trigrate

import "fmt"

// ErrInvalidQuery is a selection predicate that could not be evaluated. No
// rate is produced for the file.
type ErrInvalidQuery struct {
	Query string
	Err   error
}

func (e *ErrInvalidQuery) Error() string {
	return fmt.Sprintf("invalid query %q: %v", e.Query, e.Err)
}

func (e *ErrInvalidQuery) Unwrap() error { return e.Err }

type ErrMissingColumn struct {
	Column string
}

func (e *ErrMissingColumn) Error() string {
	return fmt.Sprintf("column %q is not in the feature table", e.Column)
}

// ErrLiveTime is returned when the dead time correction leaves no live time.
type ErrLiveTime struct {
	LiveTime float64
}

func (e *ErrLiveTime) Error() string {
	return fmt.Sprintf("non positive effective live time %g s", e.LiveTime)
}
