package daqproc

import "fmt"

// ErrRunConfig is a run directory without exactly one usable DAQ
// configuration. The directory is not processed.
type ErrRunConfig struct {
	Dir   string
	Found []string
	Err   error
}

func (e *ErrRunConfig) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("run directory %s: DAQ configuration: %v", e.Dir, e.Err)
	}
	return fmt.Sprintf("run directory %s: found %d json files %q, exactly one non hidden DAQ configuration is required",
		e.Dir, len(e.Found), e.Found)
}

func (e *ErrRunConfig) Unwrap() error { return e.Err }

// ErrIntegrity is an archive copy whose size differs from the source. The
// source is kept and the copy left for inspection.
type ErrIntegrity struct {
	Src     string
	Dst     string
	SrcSize int64
	DstSize int64
}

func (e *ErrIntegrity) Error() string {
	return fmt.Sprintf("archive of %s to %s failed the size check: %d bytes copied, %d expected",
		e.Src, e.Dst, e.DstSize, e.SrcSize)
}

type ErrOpenFile struct {
	Filename string
	Err      error
}

func (e *ErrOpenFile) Error() string {
	return fmt.Sprintf("error opening file %q: %v", e.Filename, e.Err)
}

func (e *ErrOpenFile) Unwrap() error { return e.Err }
