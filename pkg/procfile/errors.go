package procfile

import "fmt"

type ErrWrite struct {
	Filename string
	Err      error
}

func (e *ErrWrite) Error() string {
	return fmt.Sprintf("error writing processed file %s: %s", e.Filename, e.Err)
}

func (e *ErrWrite) Unwrap() error { return e.Err }

type ErrRead struct {
	Filename string
	Err      error
}

func (e *ErrRead) Error() string {
	return fmt.Sprintf("error reading processed file %s: %s", e.Filename, e.Err)
}

func (e *ErrRead) Unwrap() error { return e.Err }
