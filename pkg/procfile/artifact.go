// Package procfile persists the outcome of processing one event file: the
// feature table together with the settings and metadata needed to use it
// without the raw file.
package procfile

import (
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"

	"github.com/gator-daq/gatorproc/pkg/rawfile"
	"github.com/gator-daq/gatorproc/pkg/wfs"
)

const Ext = ".h5"

type Artifact struct {
	// DaqSettings is the run configuration written by the DAQ.
	DaqSettings json.RawMessage
	// ProcSettings is the processing configuration used.
	ProcSettings json.RawMessage
	WfsLength    int
	Table        *wfs.FeatureTable
	// Metadata is nil when the event file had none.
	Metadata   *rawfile.Metadata
	SourceFile string
}

type Store interface {
	Save(path string, a *Artifact) error
	Load(path string) (*Artifact, error)
}

// Path returns where the artifact of the event file named filename lives in
// procDir: the full file name with the artifact extension appended, so event
// files differing only by extension get distinct artifacts.
func Path(procDir string, filename string) string {
	return filepath.Join(procDir, filepath.Base(filename)+Ext)
}

// WfsLength extracts boards[0].WfsLen from a DAQ run configuration.
func WfsLength(daqSettings []byte) (int, error) {
	var cfg struct {
		Boards []struct {
			WfsLen *json.Number `json:"WfsLen"`
		} `json:"boards"`
	}
	if err := json.Unmarshal(daqSettings, &cfg); err != nil {
		return 0, fmt.Errorf("decoding DAQ settings: %w", err)
	}
	if len(cfg.Boards) == 0 || cfg.Boards[0].WfsLen == nil {
		return 0, fmt.Errorf("DAQ settings have no boards[0].WfsLen")
	}
	f, err := cfg.Boards[0].WfsLen.Float64()
	if err != nil || f != math.Trunc(f) || f < 0 {
		return 0, fmt.Errorf("DAQ settings boards[0].WfsLen %q is not a sample count", cfg.Boards[0].WfsLen.String())
	}
	return int(f), nil
}
