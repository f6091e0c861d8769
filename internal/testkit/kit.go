// Package testkit provides deterministic fixtures shared by the package
// tests: synthetic sample frames and ready-made repositories.
package testkit

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"gpbench/internal/repo"
	"gpbench/internal/store"
)

// TestKit provides testing utilities and fixtures
type TestKit struct {
	rng *rand.Rand
}

// NewTestKit creates a new test kit instance with a fixed seed
func NewTestKit(seed int64) *TestKit {
	return &TestKit{rng: rand.New(rand.NewSource(seed))}
}

// SampleFrame builds an n-row frame with m Input and l Output columns. The
// outputs are smooth functions of the inputs plus small noise, so regression
// fixtures have signal to find.
func (k *TestKit) SampleFrame(n, m, l int) store.Frame {
	keys := make([][2]string, 0, m+l)
	for j := 0; j < m; j++ {
		keys = append(keys, [2]string{repo.GroupInput, fmt.Sprintf("X.%d", j)})
	}
	for j := 0; j < l; j++ {
		keys = append(keys, [2]string{repo.GroupOutput, fmt.Sprintf("Y.%d", j)})
	}
	values := mat.NewDense(n, m+l, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < m; j++ {
			values.Set(i, j, k.rng.Float64())
		}
		for j := 0; j < l; j++ {
			signal := math.Sin(2 * math.Pi * values.At(i, j%m))
			values.Set(i, m+j, signal+0.01*k.rng.NormFloat64())
		}
	}
	return store.Frame{
		Index:   store.RangeIndex(n),
		Columns: store.TwoLevel([2]string{"", ""}, keys...),
		Values:  values,
	}
}

// CreateRepository stores a synthetic sample as a Repository at folder
func (k *TestKit) CreateRepository(folder string, n, m, l int) (*repo.Repository, error) {
	return repo.CreateRepository(folder, k.SampleFrame(n, m, l), 42)
}

// CreateFoldedRepository stores a synthetic Repository already split into
// folds per the signed-K convention.
func (k *TestKit) CreateFoldedRepository(folder string, n, m, l, signedK int) (*repo.Repository, error) {
	r, err := k.CreateRepository(folder, n, m, l)
	if err != nil {
		return nil, err
	}
	if err := r.IntoKFolds(signedK); err != nil {
		return nil, err
	}
	return r, nil
}

// FramesAlmostEqual reports whether two frames share labels and values to
// within tolerance.
func FramesAlmostEqual(a, b store.Frame, tolerance float64) bool {
	if !a.Index.Equal(b.Index) || !a.Columns.Equal(b.Columns) {
		return false
	}
	ar, ac := a.Shape()
	br, bc := b.Shape()
	if ar != br || ac != bc {
		return false
	}
	for i := 0; i < ar; i++ {
		for j := 0; j < ac; j++ {
			if math.Abs(a.At(i, j)-b.At(i, j)) > tolerance {
				return false
			}
		}
	}
	return true
}

// MatricesAlmostEqual reports whether two matrices agree to within tolerance
func MatricesAlmostEqual(a, b mat.Matrix, tolerance float64) bool {
	ar, ac := a.Dims()
	br, bc := b.Dims()
	if ar != br || ac != bc {
		return false
	}
	for i := 0; i < ar; i++ {
		for j := 0; j < ac; j++ {
			if math.Abs(a.At(i, j)-b.At(i, j)) > tolerance {
				return false
			}
		}
	}
	return true
}
