package store

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"gpbench/internal/errors"
)

// ReadOptions controls how a table file is parsed. Zero-valued fields take
// the documented defaults: one header row, the first column as index.
type ReadOptions struct {
	HeaderRows   int
	IndexColumns int
}

func (o ReadOptions) orDefault() ReadOptions {
	if o.HeaderRows == 0 {
		o.HeaderRows = 1
	}
	if o.IndexColumns == 0 {
		o.IndexColumns = 1
	}
	return o
}

// WriteOptions controls how a table file is serialized. The zero value writes
// a full round trip of index and header.
type WriteOptions struct {
	OmitIndex bool
}

// DataTable is one Frame persisted as one delimited text file. The file
// always reflects the in-memory frame after any mutating call returns.
type DataTable struct {
	path  string
	frame Frame
	read  ReadOptions
	write WriteOptions
}

// OpenTable reads an existing table file. A missing file is a
// MISSING_ARTIFACT error.
func OpenTable(path string, opts ReadOptions) (*DataTable, error) {
	path = TableFile.Normalize(path)
	frame, err := readFrame(path, opts.orDefault())
	if err != nil {
		return nil, err
	}
	return &DataTable{path: path, frame: frame, read: opts.orDefault()}, nil
}

// NewTable stores frame at path, overwriting any existing file
func NewTable(path string, frame Frame, opts WriteOptions) (*DataTable, error) {
	path, err := TableFile.Create(path)
	if err != nil {
		return nil, err
	}
	t := &DataTable{path: path, frame: frame.Clone(), read: ReadOptions{}.orDefault(), write: opts}
	if err := t.Rewrite(); err != nil {
		return nil, err
	}
	return t, nil
}

// CopyTable stores src's frame at dst, overwriting
func CopyTable(src *DataTable, dst string) (*DataTable, error) {
	return NewTable(dst, src.frame, src.write)
}

// DeleteTable removes the table file at path, tolerating absence
func DeleteTable(path string) error {
	return TableFile.Delete(path)
}

// Path returns the file backing this table
func (t *DataTable) Path() string {
	return t.path
}

// Frame returns the in-memory table. Mutations through the returned pointer
// must be followed by Rewrite to preserve the persistence invariant.
func (t *DataTable) Frame() *Frame {
	return &t.frame
}

// Update replaces the frame and rewrites the file
func (t *DataTable) Update(frame Frame) error {
	t.frame = frame.Clone()
	return t.Rewrite()
}

// Rewrite persists the current frame, overwriting the file
func (t *DataTable) Rewrite() error {
	return writeFrame(t.path, t.frame, t.write)
}

// BroadcastTo replicates the stored matrix to (rows, cols). Each current
// dimension must be 1 or equal to its target. When diagonal is true and
// rows > 1, off-diagonal entries of the result are zeroed. The result is
// persisted before returning.
func (t *DataTable) BroadcastTo(rows, cols int, diagonal bool) error {
	r, c := t.frame.Shape()
	if (r != rows && r != 1) || (c != cols && c != 1) {
		return errors.ShapeMismatch(fmt.Sprintf(
			"%s has shape (%d, %d) which cannot be broadcast to (%d, %d)", t.path, r, c, rows, cols))
	}
	values := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		si := i
		if r == 1 {
			si = 0
		}
		for j := 0; j < cols; j++ {
			sj := j
			if c == 1 {
				sj = 0
			}
			v := t.frame.Values.At(si, sj)
			if diagonal && rows > 1 && i != j {
				v = 0
			}
			values.Set(i, j, v)
		}
	}
	t.frame = Frame{
		Index:   broadcastAxis(t.frame.Index, rows),
		Columns: broadcastAxis(t.frame.Columns, cols),
		Values:  values,
	}
	return t.Rewrite()
}

// broadcastAxis keeps labels for an unchanged axis and falls back to a range
// axis when the axis grows.
func broadcastAxis(labels Labels, target int) Labels {
	if labels.Len() == target {
		return labels.Clone()
	}
	return RangeIndex(target)
}

func writeFrame(path string, f Frame, opts WriteOptions) error {
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", path)
	}
	defer file.Close()
	w := csv.NewWriter(file)

	rows, cols := f.Shape()
	indexDepth := f.Index.Levels()
	if opts.OmitIndex {
		indexDepth = 0
	}
	headerDepth := f.Columns.Levels()

	for level := 0; level < headerDepth; level++ {
		record := make([]string, 0, indexDepth+cols)
		for d := 0; d < indexDepth; d++ {
			// Index level names ride on the last header row.
			if level == headerDepth-1 {
				record = append(record, f.Index.Names[d])
			} else {
				record = append(record, "")
			}
		}
		for j := 0; j < cols; j++ {
			record = append(record, f.Columns.Keys[j][level])
		}
		if err := w.Write(record); err != nil {
			return errors.Wrapf(err, "failed to write header of %s", path)
		}
	}
	for i := 0; i < rows; i++ {
		record := make([]string, 0, indexDepth+cols)
		for d := 0; d < indexDepth; d++ {
			record = append(record, f.Index.Keys[i][d])
		}
		for j := 0; j < cols; j++ {
			record = append(record, strconv.FormatFloat(f.Values.At(i, j), 'g', -1, 64))
		}
		if err := w.Write(record); err != nil {
			return errors.Wrapf(err, "failed to write row %d of %s", i, path)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return errors.Wrapf(err, "failed to flush %s", path)
	}
	return nil
}

func readFrame(path string, opts ReadOptions) (Frame, error) {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return Frame{}, errors.MissingArtifact(path, "")
	}
	if err != nil {
		return Frame{}, errors.Wrapf(err, "failed to open %s", path)
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return Frame{}, errors.Wrapf(err, "failed to parse %s", path)
	}
	h, d := opts.HeaderRows, opts.IndexColumns
	if len(records) < h {
		return Frame{}, errors.ShapeMismatch(fmt.Sprintf(
			"%s has %d rows, fewer than the %d header rows expected", path, len(records), h))
	}
	width := len(records[0])
	if width < d {
		return Frame{}, errors.ShapeMismatch(fmt.Sprintf(
			"%s has %d columns, fewer than the %d index columns expected", path, width, d))
	}
	cols := width - d

	columns := Labels{Names: make([]string, h), Keys: make([][]string, cols)}
	for j := 0; j < cols; j++ {
		key := make([]string, h)
		for level := 0; level < h; level++ {
			key[level] = records[level][d+j]
		}
		columns.Keys[j] = key
	}
	indexNames := make([]string, d)
	copy(indexNames, records[h-1][:d])

	body := records[h:]
	rows := len(body)
	values := mat.NewDense(maxInt(rows, 1), maxInt(cols, 1), nil)
	index := Labels{Names: indexNames, Keys: make([][]string, rows)}
	for i, record := range body {
		if len(record) != width {
			return Frame{}, errors.ShapeMismatch(fmt.Sprintf(
				"%s row %d has %d fields, expected %d", path, i, len(record), width))
		}
		index.Keys[i] = append([]string(nil), record[:d]...)
		for j := 0; j < cols; j++ {
			v, err := strconv.ParseFloat(record[d+j], 64)
			if err != nil {
				return Frame{}, errors.Wrapf(err, "%s row %d column %d is not numeric", path, i, j)
			}
			values.Set(i, j, v)
		}
	}
	return Frame{Index: index, Columns: columns, Values: values}, nil
}
