package wfs

import (
	"fmt"
	"math"
)

type ColumnType string

const (
	Float64 ColumnType = "float64"
	Float32 ColumnType = "float32"
	Int64   ColumnType = "int64"
	Uint32  ColumnType = "uint32"
	Bool    ColumnType = "bool"
)

func ParseColumnType(s string) (ColumnType, error) {
	switch ColumnType(s) {
	case Float64, Float32, Int64, Uint32, Bool:
		return ColumnType(s), nil
	}
	return "", fmt.Errorf("unknown column type %q", s)
}

// coerce rounds v to what the type can hold, so that a table rebuilt from
// its float64 matrix is identical to the original.
func (t ColumnType) coerce(v float64) float64 {
	switch t {
	case Float32:
		return float64(float32(v))
	case Int64:
		return math.Trunc(v)
	case Uint32:
		return float64(uint32(v))
	case Bool:
		if v != 0 && !math.IsNaN(v) {
			return 1
		}
		return 0
	}
	return v
}

type Column struct {
	Name   string
	Type   ColumnType
	Values []float64
}

// FeatureTable has one row per event. Columns are only ever appended.
type FeatureTable struct {
	nRows int
	cols  []*Column
	index map[string]int
}

func NewFeatureTable(nRows int) *FeatureTable {
	return &FeatureTable{nRows: nRows, index: make(map[string]int)}
}

func (t *FeatureTable) NRows() int { return t.nRows }

func (t *FeatureTable) NCols() int { return len(t.cols) }

// Add appends a column. The values are copied.
func (t *FeatureTable) Add(name string, typ ColumnType, values []float64) error {
	if _, ok := t.index[name]; ok {
		return &ErrColumnExists{Column: name}
	}
	if len(values) != t.nRows {
		return fmt.Errorf("column %q has %d values, the table has %d rows", name, len(values), t.nRows)
	}
	col := &Column{Name: name, Type: typ, Values: make([]float64, len(values))}
	for i, v := range values {
		col.Values[i] = typ.coerce(v)
	}
	t.index[name] = len(t.cols)
	t.cols = append(t.cols, col)
	return nil
}

func (t *FeatureTable) AddInts(name string, values []int) error {
	fv := make([]float64, len(values))
	for i, v := range values {
		fv[i] = float64(v)
	}
	return t.Add(name, Int64, fv)
}

func (t *FeatureTable) AddBools(name string, values []bool) error {
	fv := make([]float64, len(values))
	for i, v := range values {
		if v {
			fv[i] = 1
		}
	}
	return t.Add(name, Bool, fv)
}

func (t *FeatureTable) Column(name string) (*Column, bool) {
	i, ok := t.index[name]
	if !ok {
		return nil, false
	}
	return t.cols[i], true
}

func (t *FeatureTable) Has(name string) bool {
	_, ok := t.index[name]
	return ok
}

func (t *FeatureTable) Columns() []string {
	names := make([]string, len(t.cols))
	for i, c := range t.cols {
		names[i] = c.Name
	}
	return names
}

func (t *FeatureTable) Types() []ColumnType {
	types := make([]ColumnType, len(t.cols))
	for i, c := range t.cols {
		types[i] = c.Type
	}
	return types
}

// Matrix returns the values row-major, NRows x NCols.
func (t *FeatureTable) Matrix() []float64 {
	nCols := len(t.cols)
	arr := make([]float64, t.nRows*nCols)
	for j, c := range t.cols {
		for i, v := range c.Values {
			arr[i*nCols+j] = v
		}
	}
	return arr
}

// FromMatrix rebuilds a table from its persisted (columns, types, values)
// triple.
func FromMatrix(cols []string, types []ColumnType, arr []float64) (*FeatureTable, error) {
	if len(cols) != len(types) {
		return nil, fmt.Errorf("%d column names but %d column types", len(cols), len(types))
	}
	if len(cols) == 0 {
		if len(arr) != 0 {
			return nil, fmt.Errorf("%d values for a table without columns", len(arr))
		}
		return NewFeatureTable(0), nil
	}
	if len(arr)%len(cols) != 0 {
		return nil, fmt.Errorf("%d values do not fill %d columns", len(arr), len(cols))
	}
	nRows := len(arr) / len(cols)
	t := NewFeatureTable(nRows)
	values := make([]float64, nRows)
	for j, name := range cols {
		for i := range values {
			values[i] = arr[i*len(cols)+j]
		}
		if err := t.Add(name, types[j], values); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Select returns a new table holding the given rows, in order.
func (t *FeatureTable) Select(rows []int) *FeatureTable {
	out := NewFeatureTable(len(rows))
	for _, c := range t.cols {
		values := make([]float64, len(rows))
		for i, r := range rows {
			values[i] = c.Values[r]
		}
		out.index[c.Name] = len(out.cols)
		out.cols = append(out.cols, &Column{Name: c.Name, Type: c.Type, Values: values})
	}
	return out
}

// Concat stacks tables with the same columns, in the same order and of the
// same types, into a new table.
func Concat(tables ...*FeatureTable) (*FeatureTable, error) {
	if len(tables) == 0 {
		return NewFeatureTable(0), nil
	}
	first := tables[0]
	nRows := 0
	for i, t := range tables {
		if len(t.cols) != len(first.cols) {
			return nil, fmt.Errorf("table %d has %d columns, table 0 has %d", i, len(t.cols), len(first.cols))
		}
		for j, c := range t.cols {
			if c.Name != first.cols[j].Name || c.Type != first.cols[j].Type {
				return nil, fmt.Errorf("table %d column %d is %s %s, table 0 has %s %s",
					i, j, c.Name, c.Type, first.cols[j].Name, first.cols[j].Type)
			}
		}
		nRows += t.nRows
	}

	out := NewFeatureTable(nRows)
	for j, c := range first.cols {
		values := make([]float64, 0, nRows)
		for _, t := range tables {
			values = append(values, t.cols[j].Values...)
		}
		out.index[c.Name] = len(out.cols)
		out.cols = append(out.cols, &Column{Name: c.Name, Type: c.Type, Values: values})
	}
	return out, nil
}
