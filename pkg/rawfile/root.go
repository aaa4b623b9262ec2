package rawfile

import (
	"fmt"

	"go-hep.org/x/hep/groot"
	"go-hep.org/x/hep/groot/rtree"

	"github.com/gator-daq/gatorproc/pkg/wfs"
)

// rootReader reads the ROOT layout of the DAQ: a dig_<n> tree with one branch
// per channel (fixed or variable length arrays) and the counters, and a
// metadata tree with a single entry.
type rootReader struct {
	filename  string
	digitizer int
	file      *groot.File
}

func openROOT(path string, digitizer int) (*rootReader, error) {
	f, err := groot.Open(path)
	if err != nil {
		return nil, &ErrOpenFile{Filename: path, Err: err}
	}
	return &rootReader{filename: path, digitizer: digitizer, file: f}, nil
}

func (r *rootReader) tree(name string) (rtree.Tree, error) {
	obj, err := r.file.Get(name)
	if err != nil {
		return nil, &ErrMissing{Filename: r.filename, Section: "trees", Name: name}
	}
	tree, ok := obj.(rtree.Tree)
	if !ok {
		return nil, fmt.Errorf("%s: %s is a %s, not a tree", r.filename, name, obj.Class())
	}
	return tree, nil
}

// readBranches reads every entry of the named branches and calls fn with the
// values of each entry, flattened to float64.
func (r *rootReader) readBranches(tree rtree.Tree, names []string, fn func(entry int64, values map[string][]float64) error) error {
	available := make(map[string]rtree.ReadVar)
	for _, rv := range rtree.NewReadVars(tree) {
		available[rv.Name] = rv
	}
	rvars := make([]rtree.ReadVar, 0, len(names))
	for _, name := range names {
		rv, ok := available[name]
		if !ok {
			return &ErrMissing{Filename: r.filename, Section: tree.Name(), Name: name}
		}
		rvars = append(rvars, rv)
	}

	reader, err := rtree.NewReader(tree, rvars)
	if err != nil {
		return fmt.Errorf("%s: creating reader for %s: %w", r.filename, tree.Name(), err)
	}
	defer reader.Close()

	return reader.Read(func(ctx rtree.RCtx) error {
		values := make(map[string][]float64, len(rvars))
		for _, rv := range rvars {
			v, err := toFloat64s(rv.Value)
			if err != nil {
				return fmt.Errorf("branch %s: %w", rv.Name, err)
			}
			values[rv.Name] = v
		}
		return fn(ctx.Entry, values)
	})
}

func (r *rootReader) ReadEvents(channels []string) (*wfs.RawData, error) {
	tree, err := r.tree(treeName(r.digitizer))
	if err != nil {
		return nil, err
	}
	evCounter := evCounterName(r.digitizer)
	ttt := timeTrigTagName(r.digitizer)
	names := append([]string{"RunTime", evCounter, ttt}, channels...)

	n := int(tree.Entries())
	raw := &wfs.RawData{
		NEvents:     n,
		Channels:    make(map[string]*wfs.Batch, len(channels)),
		RunTime:     make([]float64, 0, n),
		EvCounter:   make([]float64, 0, n),
		TimeTrigTag: make([]float64, 0, n),
	}
	err = r.readBranches(tree, names, func(entry int64, values map[string][]float64) error {
		raw.RunTime = append(raw.RunTime, values["RunTime"][0])
		raw.EvCounter = append(raw.EvCounter, values[evCounter][0])
		raw.TimeTrigTag = append(raw.TimeTrigTag, values[ttt][0])
		for _, ch := range channels {
			samples := values[ch]
			b, ok := raw.Channels[ch]
			if !ok {
				b = &wfs.Batch{NSamples: len(samples), Data: make([]float64, 0, n*len(samples))}
				raw.Channels[ch] = b
			}
			if len(samples) != b.NSamples {
				return fmt.Errorf("%s: entry %d of %s has %d samples, expected %d", r.filename, entry, ch, len(samples), b.NSamples)
			}
			b.Data = append(b.Data, samples...)
			b.NEvents++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, ch := range channels {
		if _, ok := raw.Channels[ch]; !ok {
			raw.Channels[ch] = &wfs.Batch{}
		}
	}
	return raw, nil
}

func (r *rootReader) ReadMetadata() (Metadata, error) {
	tree, err := r.tree("metadata")
	if err != nil {
		return Metadata{}, err
	}
	if tree.Entries() < 1 {
		return Metadata{}, &ErrMissing{Filename: r.filename, Section: "metadata", Name: "entry"}
	}
	values := make(map[string]float64)
	err = r.readBranches(tree, metadataNames(r.digitizer), func(entry int64, v map[string][]float64) error {
		if entry > 0 {
			return nil
		}
		for name, x := range v {
			if len(x) > 0 {
				values[name] = x[0]
			}
		}
		return nil
	})
	if err != nil {
		return Metadata{}, err
	}
	return metadataFrom(values, r.digitizer), nil
}

func (r *rootReader) Close() error {
	return r.file.Close()
}
