package repo

import (
	"fmt"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/mat"

	"gpbench/internal/errors"
	"gpbench/internal/store"
)

// Fold table names
const (
	tableData        = "data"
	tableTest        = "test"
	tableNorm        = "normalization"
	tableRotation    = "rotation"
	tableRotationInv = "rotation_inverse"
)

// Fold is one partition of a Repository's rows: a normalized train table, a
// normalized test table, the fold-local normalization parameters, and the
// cumulative input rotation with its inverse stored alongside.
type Fold struct {
	k     int
	model *store.Model
}

func foldSchema(m int, dataDefault store.Frame) store.Schema {
	twoLevel := store.ReadOptions{HeaderRows: 2, IndexColumns: 1}
	return store.MustSchema(
		store.TableSpec{Name: tableData, Default: dataDefault, Read: twoLevel},
		store.TableSpec{Name: tableTest, Default: dataDefault, Read: twoLevel},
		store.TableSpec{Name: tableNorm, Default: dataDefault, Read: twoLevel},
		store.TableSpec{Name: tableRotation, Default: identityFrame(m)},
		store.TableSpec{Name: tableRotationInv, Default: identityFrame(m)},
	)
}

func identityFrame(m int) store.Frame {
	values := mat.NewDense(m, m, nil)
	names := make([]string, m)
	for i := 0; i < m; i++ {
		values.Set(i, i, 1)
		names[i] = fmt.Sprintf("%d", i)
	}
	return store.Frame{
		Index:   store.SingleLevel("", names...),
		Columns: store.SingleLevel("", names...),
		Values:  values,
	}
}

// createFold normalizes train/test row selections of sample with parameters
// computed from the train rows only, and stores the fold folder.
func createFold(repoFolder string, k int, sample *store.Frame, train, test []int) (*Fold, error) {
	trainFrame := sample.SelectRows(train)
	testFrame := sample.SelectRows(test)

	norm, err := normalizationOf(trainFrame)
	if err != nil {
		return nil, err
	}
	applyNormalization(&trainFrame, norm)
	applyNormalization(&testFrame, norm)

	m := len(sample.ColumnsWhere(GroupInput))
	model, err := store.CreateModel(FoldFolder(repoFolder, k), foldSchema(m, trainFrame),
		map[string]any{"k": k, "N_train": len(train), "N_test": len(test)}, nil,
		map[string]store.Frame{
			tableData: trainFrame,
			tableTest: testFrame,
			tableNorm: norm,
		})
	if err != nil {
		return nil, err
	}
	return &Fold{k: k, model: model}, nil
}

// OpenFold reads fold k of the repository at folder. m is the repository's
// input dimension, fixing the rotation table defaults.
func OpenFold(repoFolder string, k int, m int) (*Fold, error) {
	model, err := store.OpenModel(FoldFolder(repoFolder, k), foldSchema(m, store.Zeros(1, 2)), nil)
	if err != nil {
		return nil, err
	}
	return &Fold{k: k, model: model}, nil
}

// K returns the fold index
func (f *Fold) K() int {
	return f.k
}

// Folder returns the fold folder
func (f *Fold) Folder() string {
	return f.model.Path()
}

// Data returns the normalized training table
func (f *Fold) Data() *store.Frame {
	return f.model.Data().Frame(tableData)
}

// TestData returns the normalized test table
func (f *Fold) TestData() *store.Frame {
	return f.model.Data().Frame(tableTest)
}

// Normalization returns the mean/std table computed from this fold's
// training rows
func (f *Fold) Normalization() *store.Frame {
	return f.model.Data().Frame(tableNorm)
}

// Rotation returns the cumulative input rotation
func (f *Fold) Rotation() *store.Frame {
	return f.model.Data().Frame(tableRotation)
}

// RotationInverse returns the cumulative inverse rotation
func (f *Fold) RotationInverse() *store.Frame {
	return f.model.Data().Frame(tableRotationInv)
}

// X returns the input block of the training table
func (f *Fold) X() *mat.Dense {
	return columnBlock(f.Data(), GroupInput)
}

// Y returns the output block of the training table
func (f *Fold) Y() *mat.Dense {
	return columnBlock(f.Data(), GroupOutput)
}

// TestX returns the input block of the test table
func (f *Fold) TestX() *mat.Dense {
	return columnBlock(f.TestData(), GroupInput)
}

// TestY returns the output block of the test table
func (f *Fold) TestY() *mat.Dense {
	return columnBlock(f.TestData(), GroupOutput)
}

// Rotate applies rotation to the input columns of the train and test tables,
// accumulates it into the stored rotation, and stores the accumulated inverse
// alongside. All four tables are rewritten before returning.
func (f *Fold) Rotate(rotation *mat.Dense) error {
	if rotation == nil {
		return nil
	}
	m := len(f.Data().ColumnsWhere(GroupInput))
	if r, c := rotation.Dims(); r != m || c != m {
		return errors.ShapeMismatch(fmt.Sprintf(
			"rotation is %dx%d but fold %d has %d inputs", r, c, f.k, m))
	}
	var inverse mat.Dense
	if err := inverse.Inverse(rotation); err != nil {
		return errors.Wrapf(err, "rotation of fold %d is singular", f.k)
	}

	data := f.Data().Clone()
	test := f.TestData().Clone()
	rotateInputs(&data, rotation)
	rotateInputs(&test, rotation)

	accumulated := f.Rotation().Clone()
	var product mat.Dense
	product.Mul(accumulated.Values, rotation)
	accumulated.Values = &product

	accumulatedInv := f.RotationInverse().Clone()
	var invProduct mat.Dense
	invProduct.Mul(&inverse, accumulatedInv.Values)
	accumulatedInv.Values = &invProduct

	return f.model.Data().Update(map[string]store.Frame{
		tableData:        data,
		tableTest:        test,
		tableRotation:    accumulated,
		tableRotationInv: accumulatedInv,
	})
}

// UndoFrom exactly inverts the forward rotation-then-normalization for any
// frame written through it: inputs are mapped back through the stored inverse
// rotation, then every column is de-normalized with this fold's parameters.
func (f *Fold) UndoFrom(frame store.Frame) (store.Frame, error) {
	undone := frame.Clone()
	norm := f.Normalization()
	if !undone.Columns.Equal(norm.Columns) {
		return store.Frame{}, errors.ShapeMismatch(
			"frame columns do not match this fold's normalization")
	}
	rotateInputs(&undone, f.RotationInverse().Values)
	rows, cols := undone.Shape()
	for j := 0; j < cols; j++ {
		mean, sd := norm.At(0, j), norm.At(1, j)
		for i := 0; i < rows; i++ {
			undone.Values.Set(i, j, undone.At(i, j)*sd+mean)
		}
	}
	return undone, nil
}

// normalizationOf computes per-column mean and standard deviation from the
// given (training) rows only. A zero deviation column keeps scale 1 so the
// transform stays invertible.
func normalizationOf(frame store.Frame) (store.Frame, error) {
	rows, cols := frame.Shape()
	values := mat.NewDense(2, cols, nil)
	column := make([]float64, rows)
	for j := 0; j < cols; j++ {
		for i := 0; i < rows; i++ {
			column[i] = frame.At(i, j)
		}
		mean, err := stats.Mean(column)
		if err != nil {
			return store.Frame{}, errors.Wrapf(err, "failed to compute mean of column %d", j)
		}
		sd, err := stats.StandardDeviation(column)
		if err != nil {
			return store.Frame{}, errors.Wrapf(err, "failed to compute deviation of column %d", j)
		}
		if sd == 0 {
			sd = 1
		}
		values.Set(0, j, mean)
		values.Set(1, j, sd)
	}
	return store.Frame{
		Index:   store.SingleLevel("", "mean", "std"),
		Columns: frame.Columns.Clone(),
		Values:  values,
	}, nil
}

// applyNormalization standardizes every column of frame in place
func applyNormalization(frame *store.Frame, norm store.Frame) {
	rows, cols := frame.Shape()
	for j := 0; j < cols; j++ {
		mean, sd := norm.At(0, j), norm.At(1, j)
		for i := 0; i < rows; i++ {
			frame.Values.Set(i, j, (frame.At(i, j)-mean)/sd)
		}
	}
}

// rotateInputs replaces the Input block X of frame with X * rotation
func rotateInputs(frame *store.Frame, rotation mat.Matrix) {
	inputs := frame.ColumnsWhere(GroupInput)
	if len(inputs) == 0 {
		return
	}
	x := columnBlock(frame, GroupInput)
	var rotated mat.Dense
	rotated.Mul(x, rotation)
	rows, _ := frame.Shape()
	for out, j := range inputs {
		for i := 0; i < rows; i++ {
			frame.Values.Set(i, j, rotated.At(i, out))
		}
	}
}

// columnBlock copies one column group of frame into a dense matrix
func columnBlock(frame *store.Frame, group string) *mat.Dense {
	cols := frame.ColumnsWhere(group)
	rows, _ := frame.Shape()
	block := mat.NewDense(maxOf(rows, 1), maxOf(len(cols), 1), nil)
	for out, j := range cols {
		for i := 0; i < rows; i++ {
			block.Set(i, out, frame.At(i, j))
		}
	}
	return block
}

func maxOf(a, b int) int {
	if a > b {
		return a
	}
	return b
}
