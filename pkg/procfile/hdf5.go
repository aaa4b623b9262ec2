package procfile

import (
	"errors"
	"fmt"

	hdf5 "github.com/jmbenlloch/go-hdf5"

	"github.com/gator-daq/gatorproc/pkg/rawfile"
	"github.com/gator-daq/gatorproc/pkg/wfs"
)

const STRLEN = 64

type columnHDF5 struct {
	Name  [STRLEN]byte
	Dtype [16]byte
}

type infoHDF5 struct {
	WfsLength     int64
	StartUnixTime int64
	StopUnixTime  int64
	FileRunTime   float64
	SampFreq      float64
	HasMetadata   int8
}

func convertToHdf5String(s string) [STRLEN]byte {
	var byteArray [STRLEN]byte
	copy(byteArray[:], s)
	return byteArray
}

func convertDtype(t wfs.ColumnType) [16]byte {
	var byteArray [16]byte
	copy(byteArray[:], t)
	return byteArray
}

func hdf5String(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// HDF5Store writes one HDF5 file per artifact:
//
//	/Data/Arr               float64 (rows, cols), chunked and deflated
//	/Data/Cols              compound {Name, Dtype}, one per column
//	/Settings/DaqSettings   JSON bytes
//	/Settings/ProcSettings  JSON bytes
//	/Settings/Info          compound row, see infoHDF5
//	/Settings/SourceFile    bytes
type HDF5Store struct {
	CompressionLevel int
}

type writer struct {
	file     *hdf5.File
	groups   []*hdf5.Group
	datasets []*hdf5.Dataset
	level    int
}

func (w *writer) createGroup(name string) (*hdf5.Group, error) {
	g, err := w.file.CreateGroup(name)
	if err != nil {
		return nil, fmt.Errorf("creating group %s: %w", name, err)
	}
	w.groups = append(w.groups, g)
	return g, nil
}

func (w *writer) createDataset(group *hdf5.Group, name string, dtype *hdf5.Datatype, dims []uint, chunks []uint) (*hdf5.Dataset, error) {
	space, err := hdf5.CreateSimpleDataspace(dims, nil)
	if err != nil {
		return nil, err
	}
	defer space.Close()

	var dset *hdf5.Dataset
	if chunks != nil {
		plist, err := hdf5.NewPropList(hdf5.P_DATASET_CREATE)
		if err != nil {
			return nil, err
		}
		defer plist.Close()
		if err := plist.SetChunk(chunks); err != nil {
			return nil, err
		}
		if err := plist.SetDeflate(w.level); err != nil {
			return nil, err
		}
		dset, err = group.CreateDatasetWith(name, dtype, space, plist)
		if err != nil {
			return nil, fmt.Errorf("creating dataset %s: %w", name, err)
		}
	} else {
		dset, err = group.CreateDataset(name, dtype, space)
		if err != nil {
			return nil, fmt.Errorf("creating dataset %s: %w", name, err)
		}
	}
	w.datasets = append(w.datasets, dset)
	return dset, nil
}

func writeTable[T any](w *writer, group *hdf5.Group, name string, rows []T) error {
	var zero T
	dtype, err := hdf5.NewDatatypeFromValue(zero)
	if err != nil {
		return err
	}
	dset, err := w.createDataset(group, name, dtype, []uint{uint(len(rows))}, nil)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	return dset.Write(&rows)
}

func writeBytes(w *writer, group *hdf5.Group, name string, data []byte) error {
	dset, err := w.createDataset(group, name, hdf5.T_NATIVE_UINT8, []uint{uint(len(data))}, nil)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return dset.Write(&data)
}

func (w *writer) Close() error {
	var errs []error
	for _, d := range w.datasets {
		if err := d.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing dataset: %w", err))
		}
	}
	for _, g := range w.groups {
		if err := g.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing group: %w", err))
		}
	}
	if err := w.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("error closing file: %w", err))
	}
	return errors.Join(errs...)
}

func (s *HDF5Store) Save(path string, a *Artifact) (err error) {
	f, err := hdf5.CreateFile(path, hdf5.F_ACC_TRUNC)
	if err != nil {
		return &ErrWrite{Filename: path, Err: err}
	}
	w := &writer{file: f, level: s.CompressionLevel}
	defer func() {
		if cerr := w.Close(); cerr != nil && err == nil {
			err = &ErrWrite{Filename: path, Err: cerr}
		}
	}()

	if err := s.writeData(w, a.Table); err != nil {
		return &ErrWrite{Filename: path, Err: err}
	}
	if err := s.writeSettings(w, a); err != nil {
		return &ErrWrite{Filename: path, Err: err}
	}
	return nil
}

func (s *HDF5Store) writeData(w *writer, table *wfs.FeatureTable) error {
	group, err := w.createGroup("Data")
	if err != nil {
		return err
	}
	if table == nil {
		table = wfs.NewFeatureTable(0)
	}

	cols := make([]columnHDF5, table.NCols())
	for i, name := range table.Columns() {
		if len(name) > STRLEN {
			return fmt.Errorf("column name %q is longer than %d bytes", name, STRLEN)
		}
		cols[i] = columnHDF5{
			Name:  convertToHdf5String(name),
			Dtype: convertDtype(table.Types()[i]),
		}
	}
	if err := writeTable(w, group, "Cols", cols); err != nil {
		return err
	}

	rows, ncols := uint(table.NRows()), uint(table.NCols())
	var chunks []uint
	if rows > 0 && ncols > 0 {
		chunks = []uint{min(rows, 4096), ncols}
	}
	arr, err := w.createDataset(group, "Arr", hdf5.T_NATIVE_DOUBLE, []uint{rows, ncols}, chunks)
	if err != nil {
		return err
	}
	if rows == 0 || ncols == 0 {
		return nil
	}
	matrix := table.Matrix()
	return arr.Write(&matrix)
}

func (s *HDF5Store) writeSettings(w *writer, a *Artifact) error {
	group, err := w.createGroup("Settings")
	if err != nil {
		return err
	}
	if err := writeBytes(w, group, "DaqSettings", a.DaqSettings); err != nil {
		return err
	}
	if err := writeBytes(w, group, "ProcSettings", a.ProcSettings); err != nil {
		return err
	}
	if err := writeBytes(w, group, "SourceFile", []byte(a.SourceFile)); err != nil {
		return err
	}
	info := infoHDF5{WfsLength: int64(a.WfsLength)}
	if a.Metadata != nil {
		info.StartUnixTime = a.Metadata.StartUnixTime
		info.StopUnixTime = a.Metadata.StopUnixTime
		info.FileRunTime = a.Metadata.FileRunTime
		info.SampFreq = a.Metadata.SampFreq
		info.HasMetadata = 1
	}
	return writeTable(w, group, "Info", []infoHDF5{info})
}

func readAll[T any](group *hdf5.Group, name string) ([]T, []uint, error) {
	dset, err := group.OpenDataset(name)
	if err != nil {
		return nil, nil, fmt.Errorf("opening dataset %s: %w", name, err)
	}
	defer dset.Close()

	space := dset.Space()
	defer space.Close()
	dims, _, err := space.SimpleExtentDims()
	if err != nil {
		return nil, nil, err
	}
	data := make([]T, space.SimpleExtentNPoints())
	if len(data) == 0 {
		return data, dims, nil
	}
	if err := dset.Read(&data); err != nil {
		return nil, nil, fmt.Errorf("reading dataset %s: %w", name, err)
	}
	return data, dims, nil
}

func (s *HDF5Store) Load(path string) (*Artifact, error) {
	f, err := hdf5.OpenFile(path, hdf5.F_ACC_RDONLY)
	if err != nil {
		return nil, &ErrRead{Filename: path, Err: err}
	}
	defer f.Close()

	a := &Artifact{}
	if err := loadData(f, a); err != nil {
		return nil, &ErrRead{Filename: path, Err: err}
	}
	if err := loadSettings(f, a); err != nil {
		return nil, &ErrRead{Filename: path, Err: err}
	}
	return a, nil
}

func loadData(f *hdf5.File, a *Artifact) error {
	group, err := f.OpenGroup("Data")
	if err != nil {
		return fmt.Errorf("opening group Data: %w", err)
	}
	defer group.Close()

	cols, _, err := readAll[columnHDF5](group, "Cols")
	if err != nil {
		return err
	}
	arr, dims, err := readAll[float64](group, "Arr")
	if err != nil {
		return err
	}
	if len(dims) != 2 || int(dims[1]) != len(cols) {
		return fmt.Errorf("Data/Arr has shape %v for %d columns", dims, len(cols))
	}

	names := make([]string, len(cols))
	types := make([]wfs.ColumnType, len(cols))
	for i, c := range cols {
		names[i] = hdf5String(c.Name[:])
		types[i], err = wfs.ParseColumnType(hdf5String(c.Dtype[:]))
		if err != nil {
			return fmt.Errorf("column %s: %w", names[i], err)
		}
	}
	if len(cols) == 0 {
		a.Table = wfs.NewFeatureTable(int(dims[0]))
		return nil
	}
	a.Table, err = wfs.FromMatrix(names, types, arr)
	return err
}

func loadSettings(f *hdf5.File, a *Artifact) error {
	group, err := f.OpenGroup("Settings")
	if err != nil {
		return fmt.Errorf("opening group Settings: %w", err)
	}
	defer group.Close()

	daq, _, err := readAll[uint8](group, "DaqSettings")
	if err != nil {
		return err
	}
	proc, _, err := readAll[uint8](group, "ProcSettings")
	if err != nil {
		return err
	}
	src, _, err := readAll[uint8](group, "SourceFile")
	if err != nil {
		return err
	}
	info, _, err := readAll[infoHDF5](group, "Info")
	if err != nil {
		return err
	}
	if len(info) != 1 {
		return fmt.Errorf("Settings/Info has %d rows", len(info))
	}

	a.DaqSettings = daq
	a.ProcSettings = proc
	a.SourceFile = string(src)
	a.WfsLength = int(info[0].WfsLength)
	if info[0].HasMetadata != 0 {
		a.Metadata = &rawfile.Metadata{
			StartUnixTime: info[0].StartUnixTime,
			StopUnixTime:  info[0].StopUnixTime,
			FileRunTime:   info[0].FileRunTime,
			SampFreq:      info[0].SampFreq,
		}
	}
	return nil
}
