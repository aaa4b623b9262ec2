package rawfile

import (
	"errors"
	"fmt"

	hdf5 "github.com/jmbenlloch/go-hdf5"

	"github.com/gator-daq/gatorproc/pkg/wfs"
)

// hdf5Reader reads the HDF5 layout of the DAQ: a dig_<n> group holding one
// (events, samples) dataset per channel plus the 1-D counters, and a metadata
// group of single element datasets.
type hdf5Reader struct {
	filename  string
	digitizer int
	file      *hdf5.File
}

func openHDF5(path string, digitizer int) (*hdf5Reader, error) {
	f, err := hdf5.OpenFile(path, hdf5.F_ACC_RDONLY)
	if err != nil {
		return nil, &ErrOpenFile{Filename: path, Err: err}
	}
	return &hdf5Reader{filename: path, digitizer: digitizer, file: f}, nil
}

func (r *hdf5Reader) ReadEvents(channels []string) (*wfs.RawData, error) {
	group, err := r.file.OpenGroup(treeName(r.digitizer))
	if err != nil {
		return nil, &ErrMissing{Filename: r.filename, Section: "event data", Name: treeName(r.digitizer)}
	}
	defer group.Close()

	raw := &wfs.RawData{Channels: make(map[string]*wfs.Batch, len(channels))}
	for _, ch := range channels {
		data, dims, err := readDataset(group, ch)
		if err != nil {
			return nil, r.missing(treeName(r.digitizer), ch, err)
		}
		if len(dims) != 2 {
			return nil, fmt.Errorf("%s: dataset %s has %d dimensions, expected 2", r.filename, ch, len(dims))
		}
		b := &wfs.Batch{NEvents: int(dims[0]), NSamples: int(dims[1]), Data: data}
		if len(raw.Channels) > 0 && b.NEvents != raw.NEvents {
			return nil, fmt.Errorf("%s: channel %s has %d events, expected %d", r.filename, ch, b.NEvents, raw.NEvents)
		}
		raw.NEvents = b.NEvents
		raw.Channels[ch] = b
	}

	scalars := []struct {
		name string
		dst  *[]float64
	}{
		{"RunTime", &raw.RunTime},
		{evCounterName(r.digitizer), &raw.EvCounter},
		{timeTrigTagName(r.digitizer), &raw.TimeTrigTag},
	}
	for _, s := range scalars {
		data, _, err := readDataset(group, s.name)
		if err != nil {
			return nil, r.missing(treeName(r.digitizer), s.name, err)
		}
		if len(channels) == 0 {
			raw.NEvents = len(data)
		}
		if len(data) != raw.NEvents {
			return nil, fmt.Errorf("%s: %s has %d entries, expected %d", r.filename, s.name, len(data), raw.NEvents)
		}
		*s.dst = data
	}
	return raw, nil
}

func (r *hdf5Reader) ReadMetadata() (Metadata, error) {
	group, err := r.file.OpenGroup("metadata")
	if err != nil {
		return Metadata{}, &ErrMissing{Filename: r.filename, Section: "metadata"}
	}
	defer group.Close()

	values := make(map[string]float64)
	for _, name := range metadataNames(r.digitizer) {
		data, _, err := readDataset(group, name)
		if err != nil {
			return Metadata{}, r.missing("metadata", name, err)
		}
		if len(data) == 0 {
			return Metadata{}, &ErrMissing{Filename: r.filename, Section: "metadata", Name: name}
		}
		values[name] = data[0]
	}
	return metadataFrom(values, r.digitizer), nil
}

func (r *hdf5Reader) Close() error {
	return r.file.Close()
}

func (r *hdf5Reader) missing(section string, name string, err error) error {
	var missing *ErrMissing
	if errors.As(err, &missing) {
		missing.Filename = r.filename
		missing.Section = section
		return missing
	}
	return fmt.Errorf("%s: reading %s/%s: %w", r.filename, section, name, err)
}

// readDataset reads a whole dataset converting the values to float64.
func readDataset(group *hdf5.Group, name string) ([]float64, []uint, error) {
	dset, err := group.OpenDataset(name)
	if err != nil {
		return nil, nil, &ErrMissing{Name: name}
	}
	defer dset.Close()

	space := dset.Space()
	defer space.Close()
	dims, _, err := space.SimpleExtentDims()
	if err != nil {
		return nil, nil, err
	}
	data := make([]float64, space.SimpleExtentNPoints())
	if len(data) == 0 {
		return data, dims, nil
	}
	if err := dset.Read(&data); err != nil {
		return nil, nil, err
	}
	return data, dims, nil
}
