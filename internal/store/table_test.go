package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"gpbench/internal/errors"
)

func TestTable_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	frame := Frame{
		Index: SingleLevel("row", "a", "b"),
		Columns: TwoLevel([2]string{"", ""},
			[2]string{"Input", "X.0"}, [2]string{"Output", "Y.0"}),
		Values: mat.NewDense(2, 2, []float64{1.5, -2, 0.25, 1e-9}),
	}
	_, err := NewTable(filepath.Join(dir, "data"), frame, WriteOptions{})
	require.NoError(t, err)

	reopened, err := OpenTable(filepath.Join(dir, "data"), ReadOptions{HeaderRows: 2, IndexColumns: 1})
	require.NoError(t, err)

	got := reopened.Frame()
	assert.True(t, got.Index.Equal(frame.Index), "index %v != %v", got.Index, frame.Index)
	assert.True(t, got.Columns.Equal(frame.Columns))
	assert.InDelta(t, 1e-9, got.At(1, 1), 0)
}

func TestOpenTable_MissingFile(t *testing.T) {
	_, err := OpenTable(filepath.Join(t.TempDir(), "absent"), ReadOptions{})
	require.Error(t, err)
	assert.Equal(t, errors.CodeMissingArtifact, errors.GetCode(err))
}

func TestTable_Update(t *testing.T) {
	dir := t.TempDir()
	table, err := NewTable(filepath.Join(dir, "data"), FrameOf([]string{"v"}, []float64{1}), WriteOptions{})
	require.NoError(t, err)

	updated := FrameOf([]string{"v"}, []float64{2}, []float64{3})
	require.NoError(t, table.Update(updated))

	reopened, err := OpenTable(filepath.Join(dir, "data"), ReadOptions{})
	require.NoError(t, err)
	rows, _ := reopened.Frame().Shape()
	assert.Equal(t, 2, rows)
	assert.Equal(t, 3.0, reopened.Frame().At(1, 0))
}

func TestBroadcastTo_ScalarToMatrix(t *testing.T) {
	dir := t.TempDir()
	table, err := NewTable(filepath.Join(dir, "scale"), FrameOf([]string{"v"}, []float64{2.5}), WriteOptions{})
	require.NoError(t, err)

	require.NoError(t, table.BroadcastTo(3, 2, false))
	got := table.Frame()
	r, c := got.Shape()
	require.Equal(t, 3, r)
	require.Equal(t, 2, c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			assert.Equal(t, 2.5, got.At(i, j))
		}
	}

	// The broadcast result is durable.
	reopened, err := OpenTable(filepath.Join(dir, "scale"), ReadOptions{})
	require.NoError(t, err)
	rr, rc := reopened.Frame().Shape()
	assert.Equal(t, 3, rr)
	assert.Equal(t, 2, rc)
}

func TestBroadcastTo_Diagonal(t *testing.T) {
	dir := t.TempDir()
	table, err := NewTable(filepath.Join(dir, "noise"), FrameOf([]string{"v"}, []float64{0.1}), WriteOptions{})
	require.NoError(t, err)

	require.NoError(t, table.BroadcastTo(3, 3, true))
	got := table.Frame()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := 0.0
			if i == j {
				want = 0.1
			}
			assert.Equal(t, want, got.At(i, j), "at (%d,%d)", i, j)
		}
	}
}

func TestBroadcastTo_RejectsIncompatibleShape(t *testing.T) {
	dir := t.TempDir()
	table, err := NewTable(filepath.Join(dir, "bad"),
		FrameOf([]string{"a", "b"}, []float64{1, 2}, []float64{3, 4}), WriteOptions{})
	require.NoError(t, err)

	err = table.BroadcastTo(3, 2, false)
	require.Error(t, err)
	assert.Equal(t, errors.CodeShapeMismatch, errors.GetCode(err))
}
