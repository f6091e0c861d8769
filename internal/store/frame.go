package store

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"gpbench/internal/errors"
)

// Labels is one axis of a Frame: an ordered set of possibly multi-level keys.
// Names holds one name per level; every key has exactly len(Names) parts.
type Labels struct {
	Names []string
	Keys  [][]string
}

// SingleLevel builds a one-level Labels axis
func SingleLevel(name string, keys ...string) Labels {
	wrapped := make([][]string, len(keys))
	for i, k := range keys {
		wrapped[i] = []string{k}
	}
	return Labels{Names: []string{name}, Keys: wrapped}
}

// TwoLevel builds a two-level Labels axis from (first, second) pairs
func TwoLevel(names [2]string, keys ...[2]string) Labels {
	wrapped := make([][]string, len(keys))
	for i, k := range keys {
		wrapped[i] = []string{k[0], k[1]}
	}
	return Labels{Names: []string{names[0], names[1]}, Keys: wrapped}
}

// RangeIndex builds a one-level Labels axis of 0..n-1, pandas-style
func RangeIndex(n int) Labels {
	keys := make([][]string, n)
	for i := range keys {
		keys[i] = []string{fmt.Sprintf("%d", i)}
	}
	return Labels{Names: []string{""}, Keys: keys}
}

// Levels returns the number of label levels
func (l Labels) Levels() int {
	return len(l.Names)
}

// Len returns the number of keys
func (l Labels) Len() int {
	return len(l.Keys)
}

// Clone returns a deep copy
func (l Labels) Clone() Labels {
	names := append([]string(nil), l.Names...)
	keys := make([][]string, len(l.Keys))
	for i, k := range l.Keys {
		keys[i] = append([]string(nil), k...)
	}
	return Labels{Names: names, Keys: keys}
}

// Equal reports whether two axes carry identical names and keys
func (l Labels) Equal(other Labels) bool {
	if len(l.Names) != len(other.Names) || len(l.Keys) != len(other.Keys) {
		return false
	}
	for i := range l.Names {
		if l.Names[i] != other.Names[i] {
			return false
		}
	}
	for i := range l.Keys {
		if len(l.Keys[i]) != len(other.Keys[i]) {
			return false
		}
		for j := range l.Keys[i] {
			if l.Keys[i][j] != other.Keys[i][j] {
				return false
			}
		}
	}
	return true
}

// Frame is an in-memory table: a row index, a column header (either possibly
// multi-level) and a dense numeric cell matrix. Provenance tags attached
// during aggregation live in index levels, so cells stay numeric throughout.
type Frame struct {
	Index   Labels
	Columns Labels
	Values  *mat.Dense
}

// NewFrame validates axis lengths against the value matrix
func NewFrame(index, columns Labels, values *mat.Dense) (Frame, error) {
	r, c := values.Dims()
	if index.Len() != r || columns.Len() != c {
		return Frame{}, errors.ShapeMismatch(fmt.Sprintf(
			"frame axes (%d rows, %d cols) do not match values (%d x %d)",
			index.Len(), columns.Len(), r, c))
	}
	return Frame{Index: index, Columns: columns, Values: values}, nil
}

// FrameOf builds a Frame from a row-major slice with a default range index
// and single-level column names. Intended for defaults and tests.
func FrameOf(columns []string, rows ...[]float64) Frame {
	c := len(columns)
	r := len(rows)
	values := mat.NewDense(maxInt(r, 1), maxInt(c, 1), nil)
	for i, row := range rows {
		for j := 0; j < c && j < len(row); j++ {
			values.Set(i, j, row[j])
		}
	}
	if r == 0 {
		r = 1
	}
	return Frame{
		Index:   RangeIndex(r),
		Columns: SingleLevel("", columns...),
		Values:  values,
	}
}

// Zeros builds an r x c zero Frame with range index and empty column names
func Zeros(r, c int) Frame {
	names := make([]string, c)
	for j := range names {
		names[j] = fmt.Sprintf("%d", j)
	}
	return Frame{
		Index:   RangeIndex(r),
		Columns: SingleLevel("", names...),
		Values:  mat.NewDense(r, c, nil),
	}
}

// Shape returns (rows, cols)
func (f Frame) Shape() (int, int) {
	if f.Values == nil {
		return 0, 0
	}
	return f.Values.Dims()
}

// Clone returns a deep copy
func (f Frame) Clone() Frame {
	clone := Frame{Index: f.Index.Clone(), Columns: f.Columns.Clone()}
	if f.Values != nil {
		clone.Values = mat.DenseCopyOf(f.Values)
	}
	return clone
}

// At returns the cell at (i, j)
func (f Frame) At(i, j int) float64 {
	return f.Values.At(i, j)
}

// ColumnsWhere returns the positions of columns whose first-level key equals
// the given group, e.g. "Input" or "Output".
func (f Frame) ColumnsWhere(group string) []int {
	var cols []int
	for j, key := range f.Columns.Keys {
		if len(key) > 0 && key[0] == group {
			cols = append(cols, j)
		}
	}
	return cols
}

// SelectColumns returns a new Frame holding only the given column positions
func (f Frame) SelectColumns(cols []int) Frame {
	r, _ := f.Shape()
	values := mat.NewDense(maxInt(r, 1), maxInt(len(cols), 1), nil)
	keys := make([][]string, len(cols))
	for out, j := range cols {
		keys[out] = append([]string(nil), f.Columns.Keys[j]...)
		for i := 0; i < r; i++ {
			values.Set(i, out, f.Values.At(i, j))
		}
	}
	return Frame{
		Index:   f.Index.Clone(),
		Columns: Labels{Names: append([]string(nil), f.Columns.Names...), Keys: keys},
		Values:  values,
	}
}

// SelectRows returns a new Frame holding only the given row positions
func (f Frame) SelectRows(rows []int) Frame {
	_, c := f.Shape()
	values := mat.NewDense(maxInt(len(rows), 1), maxInt(c, 1), nil)
	keys := make([][]string, len(rows))
	for out, i := range rows {
		keys[out] = append([]string(nil), f.Index.Keys[i]...)
		for j := 0; j < c; j++ {
			values.Set(out, j, f.Values.At(i, j))
		}
	}
	return Frame{
		Index:   Labels{Names: append([]string(nil), f.Index.Names...), Keys: keys},
		Columns: f.Columns.Clone(),
		Values:  values,
	}
}

// WithIndexLevels prepends constant index levels, used by aggregation to tag
// every row of a fragment with its provenance (model name, GSA kind, ...).
func (f Frame) WithIndexLevels(names, values []string) Frame {
	tagged := f.Clone()
	tagged.Index.Names = append(append([]string(nil), names...), tagged.Index.Names...)
	for i, key := range tagged.Index.Keys {
		tagged.Index.Keys[i] = append(append([]string(nil), values...), key...)
	}
	return tagged
}

// ConcatRows appends frames row-wise. Every frame must share the first
// frame's column structure and index depth.
func ConcatRows(frames ...Frame) (Frame, error) {
	if len(frames) == 0 {
		return Frame{}, errors.InvalidInput("nothing to concatenate")
	}
	first := frames[0]
	_, c := first.Shape()
	total := 0
	for _, f := range frames {
		if !f.Columns.Equal(first.Columns) {
			return Frame{}, errors.ShapeMismatch("cannot concatenate frames with differing columns")
		}
		if f.Index.Levels() != first.Index.Levels() {
			return Frame{}, errors.ShapeMismatch("cannot concatenate frames with differing index depth")
		}
		r, _ := f.Shape()
		total += r
	}
	values := mat.NewDense(total, c, nil)
	keys := make([][]string, 0, total)
	row := 0
	for _, f := range frames {
		r, _ := f.Shape()
		for i := 0; i < r; i++ {
			keys = append(keys, append([]string(nil), f.Index.Keys[i]...))
			for j := 0; j < c; j++ {
				values.Set(row, j, f.Values.At(i, j))
			}
			row++
		}
	}
	return Frame{
		Index:   Labels{Names: append([]string(nil), first.Index.Names...), Keys: keys},
		Columns: first.Columns.Clone(),
		Values:  values,
	}, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
