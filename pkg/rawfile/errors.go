package rawfile

import "fmt"

type ErrOpenFile struct {
	Filename string
	Err      error
}

func (e *ErrOpenFile) Error() string {
	return fmt.Sprintf("error opening file %s: %s", e.Filename, e.Err)
}

func (e *ErrOpenFile) Unwrap() error { return e.Err }

// ErrMissing is a tree, group or branch the event file should have but does
// not. The file cannot be processed.
type ErrMissing struct {
	Filename string
	Section  string
	Name     string
}

func (e *ErrMissing) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("%s: missing %s", e.Filename, e.Section)
	}
	return fmt.Sprintf("%s: missing %q in %s", e.Filename, e.Name, e.Section)
}

type ErrUnsupported struct {
	Filename string
}

func (e *ErrUnsupported) Error() string {
	return fmt.Sprintf("%s: unsupported event file format", e.Filename)
}
