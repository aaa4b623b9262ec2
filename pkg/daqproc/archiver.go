package daqproc

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/gator-daq/gatorproc/pkg/logging"
)

// Archiver copies files to the archive, checks the copy and optionally
// removes the original.
type Archiver struct {
	logger logging.Logger
	copy   func(src, dst string) error
}

func NewArchiver(logger logging.Logger) *Archiver {
	return &Archiver{logger: logger, copy: copyFile}
}

func (a *Archiver) Archive(src string, dst string, move bool) error {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return &ErrOpenFile{Filename: src, Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("creating archive directory: %w", err)
	}
	if err := a.copy(src, dst); err != nil {
		return fmt.Errorf("copying %s to %s: %w", src, dst, err)
	}

	dstInfo, err := os.Stat(dst)
	if err != nil {
		return fmt.Errorf("checking archived copy: %w", err)
	}
	if dstInfo.Size() != srcInfo.Size() {
		return &ErrIntegrity{Src: src, Dst: dst, SrcSize: srcInfo.Size(), DstSize: dstInfo.Size()}
	}
	a.logger.Info(fmt.Sprintf("archived %s to %s (%s)", src, dst, humanize.Bytes(uint64(srcInfo.Size()))), "archive")

	if !move {
		return nil
	}
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("removing archived file %s: %w", src, err)
	}
	a.logger.Debug(fmt.Sprintf("removed %s from the staging area", src), "archive")
	return nil
}

// copyFile copies the content, the permissions and the modification time.
func copyFile(src string, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	if err := os.Chmod(dst, info.Mode().Perm()); err != nil {
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}
