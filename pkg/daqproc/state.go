package daqproc

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const stateFilePrefix = ".proc_state"

type TrigRateState struct {
	ProcTimestamp int64   `json:"proc_timestamp"`
	TrigTimestamp int64   `json:"trig_timestamp"`
	TrigRate      float64 `json:"trig_rate"`
	RateErr       float64 `json:"rate_err"`
}

type FileState struct {
	ProcTimestamp int64          `json:"proc_timestamp"`
	TrigRate      *TrigRateState `json:"TrigRate,omitempty"`
}

// RunState records, per file name, what was already done in a run
// directory. Entries are never removed: a file missing from disk but present
// here was archived.
type RunState map[string]*FileState

// StatePath is the state file of a run directory:
// <runDir>/.proc_state_<run name>.json
func StatePath(runDir string) string {
	name := filepath.Base(filepath.Clean(runDir))
	return filepath.Join(runDir, fmt.Sprintf("%s_%s.json", stateFilePrefix, name))
}

// LoadRunState returns an empty state when the file does not exist. When it
// exists but cannot be read or decoded the empty state comes with the error.
func LoadRunState(path string) (RunState, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return RunState{}, nil
	}
	if err != nil {
		return RunState{}, &ErrOpenFile{Filename: path, Err: err}
	}
	state := RunState{}
	if err := json.Unmarshal(data, &state); err != nil {
		return RunState{}, fmt.Errorf("decoding state file %s: %w", path, err)
	}
	for name, entry := range state {
		if entry == nil {
			delete(state, name)
		}
	}
	return state, nil
}

// Save replaces the state file through a temporary file in the same
// directory.
func (s RunState) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temporary state file: %w", err)
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replacing state file: %w", err)
	}
	return nil
}
