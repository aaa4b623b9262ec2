// Package rawfile reads the event files written by the DAQ: per channel
// waveforms, per event counters and the acquisition metadata.
package rawfile

import (
	"fmt"
	"math"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/gator-daq/gatorproc/pkg/wfs"
)

// Metadata describes the acquisition of one file. FileRunTime is in seconds
// and SampFreq in samples per second.
type Metadata struct {
	StartUnixTime int64   `json:"StartUnixTime"`
	StopUnixTime  int64   `json:"StopUnixTime"`
	FileRunTime   float64 `json:"FileRunTime"`
	SampFreq      float64 `json:"SampFreq"`
}

type Reader interface {
	// ReadEvents loads the waveforms of the given channels and the per event
	// scalar columns.
	ReadEvents(channels []string) (*wfs.RawData, error)
	ReadMetadata() (Metadata, error)
	Close() error
}

// Opener is the signature of Open, so callers can substitute their own.
type Opener func(path string) (Reader, error)

// Open picks the reader from the file extension. Digitizer 0 is read.
func Open(path string) (Reader, error) {
	return OpenDigitizer(path, 0)
}

func OpenDigitizer(path string, digitizer int) (Reader, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".h5", ".hdf5":
		return openHDF5(path, digitizer)
	case ".root":
		return openROOT(path, digitizer)
	}
	return nil, &ErrUnsupported{Filename: path}
}

func treeName(digitizer int) string { return fmt.Sprintf("dig_%d", digitizer) }

func evCounterName(digitizer int) string { return fmt.Sprintf("EvCounter_%d", digitizer) }

func timeTrigTagName(digitizer int) string { return fmt.Sprintf("TimeTrigTag_%d", digitizer) }

func sampFreqName(digitizer int) string { return fmt.Sprintf("SampFreq_%d", digitizer) }

// toFloat64s flattens a numeric value, array or slice (or a pointer to one of
// them) into float64s.
func toFloat64s(v any) ([]float64, error) {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, fmt.Errorf("nil value")
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Array, reflect.Slice:
		out := make([]float64, rv.Len())
		for i := range out {
			f, err := scalar(rv.Index(i))
			if err != nil {
				return nil, err
			}
			out[i] = f
		}
		return out, nil
	}
	f, err := scalar(rv)
	if err != nil {
		return nil, err
	}
	return []float64{f}, nil
}

func scalar(rv reflect.Value) (float64, error) {
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	case reflect.Bool:
		if rv.Bool() {
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("unexpected non numeric type %s", rv.Type())
}

func metadataFrom(values map[string]float64, digitizer int) Metadata {
	return Metadata{
		StartUnixTime: int64(math.Trunc(values["StartUnixTime"])),
		StopUnixTime:  int64(math.Trunc(values["StopUnixTime"])),
		FileRunTime:   values["FileRunTime"],
		SampFreq:      values[sampFreqName(digitizer)],
	}
}

func metadataNames(digitizer int) []string {
	return []string{"StartUnixTime", "StopUnixTime", "FileRunTime", sampFreqName(digitizer)}
}
