// Package sample generates synthetic benchmark datasets: a design of
// experiments over the unit hypercube, a vector of named test functions, and
// Gaussian noise, stored as a new Repository.
package sample

import (
	"fmt"
	"math"
	"math/rand"
	"strings"

	"gonum.org/v1/gonum/mat"

	"gpbench/internal/errors"
	"gpbench/internal/repo"
	"gpbench/internal/store"
)

// DOE is a design of experiments: n points in [0,1)^m
type DOE func(rng *rand.Rand, n, m int) *mat.Dense

// LatinHypercube draws one point per stratum of each dimension, with the
// strata independently permuted per dimension.
func LatinHypercube(rng *rand.Rand, n, m int) *mat.Dense {
	points := mat.NewDense(n, m, nil)
	for j := 0; j < m; j++ {
		perm := rng.Perm(n)
		for i := 0; i < n; i++ {
			points.Set(i, j, (float64(perm[i])+rng.Float64())/float64(n))
		}
	}
	return points
}

// Uniform draws every coordinate independently
func Uniform(rng *rand.Rand, n, m int) *mat.Dense {
	points := mat.NewDense(n, m, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < m; j++ {
			points.Set(i, j, rng.Float64())
		}
	}
	return points
}

// Function is one named scalar test function on the unit hypercube. Every
// function accepts any input dimension, using the coordinates it needs.
type Function struct {
	Name  string
	Apply func(x []float64) float64
}

// Vector is an ordered set of test functions, one output column each
type Vector []Function

// Names returns the function names in order
func (v Vector) Names() []string {
	names := make([]string, len(v))
	for i, f := range v {
		names[i] = f.Name
	}
	return names
}

// Sin1 is a single-frequency sine of the first coordinate
var Sin1 = Function{
	Name: "sin.1",
	Apply: func(x []float64) float64 {
		return math.Sin(2 * math.Pi * x[0])
	},
}

// Ishigami is the classic GSA benchmark function, mapped to [0,1]^M
var Ishigami = Function{
	Name: "ishigami",
	Apply: func(x []float64) float64 {
		z := make([]float64, 3)
		for i := 0; i < 3; i++ {
			v := 0.5
			if i < len(x) {
				v = x[i]
			}
			z[i] = math.Pi * (2*v - 1)
		}
		return math.Sin(z[0]) + 7*math.Sin(z[1])*math.Sin(z[1]) + 0.1*math.Pow(z[2], 4)*math.Sin(z[0])
	},
}

// SobolG is Sobol's G function with decaying coefficients
var SobolG = Function{
	Name: "sobol_g",
	Apply: func(x []float64) float64 {
		product := 1.0
		for i, v := range x {
			a := float64(i) / 2
			product *= (math.Abs(4*v-2) + a) / (1 + a)
		}
		return product
	},
}

// NoiseVariance builds the L x L noise covariance for a given noise-to-signal
// magnitude. Covariant noise correlates outputs; determined noise uses a
// fixed matrix while the alternative draws a random positive-definite one.
func NoiseVariance(rng *rand.Rand, l int, magnitude float64, covariant, determined bool) *mat.Dense {
	variance := mat.NewDense(l, l, nil)
	scale := magnitude * magnitude
	switch {
	case !covariant:
		for i := 0; i < l; i++ {
			variance.Set(i, i, scale)
		}
	case determined:
		// Half shared, half independent across outputs.
		for i := 0; i < l; i++ {
			for j := 0; j < l; j++ {
				v := 0.5
				if i == j {
					v = 1
				}
				variance.Set(i, j, scale*v)
			}
		}
	default:
		seedMatrix := mat.NewDense(l, l, nil)
		for i := 0; i < l; i++ {
			for j := 0; j < l; j++ {
				seedMatrix.Set(i, j, rng.Float64())
			}
		}
		variance.Mul(seedMatrix, seedMatrix.T())
		variance.Scale(scale, variance)
	}
	return variance
}

// RandomRotation draws a random orthogonal m x m matrix by Gram-Schmidt on a
// Gaussian matrix.
func RandomRotation(rng *rand.Rand, m int) *mat.Dense {
	rotation := mat.NewDense(m, m, nil)
	for j := 0; j < m; j++ {
		column := make([]float64, m)
		for i := range column {
			column[i] = rng.NormFloat64()
		}
		for prev := 0; prev < j; prev++ {
			dot := 0.0
			for i := 0; i < m; i++ {
				dot += column[i] * rotation.At(i, prev)
			}
			for i := 0; i < m; i++ {
				column[i] -= dot * rotation.At(i, prev)
			}
		}
		length := 0.0
		for _, v := range column {
			length += v * v
		}
		length = math.Sqrt(length)
		for i := 0; i < m; i++ {
			rotation.Set(i, j, column[i]/length)
		}
	}
	return rotation
}

// FolderName composes the repository folder name for one sweep point:
// <functions>.<M>.<noise>.<N>, with an optional suffix.
func FolderName(functions Vector, m int, noiseMagnitude float64, n int, suffix string) string {
	name := strings.Join(functions.Names(), ".") + fmt.Sprintf(".%d.%.3f.%d", m, noiseMagnitude, n)
	if suffix != "" {
		name += "." + suffix
	}
	return name
}

// Synthesize samples the function vector over a DOE, standardizes each output
// and adds Gaussian noise with the given covariance, then stores the result
// as a new Repository at folder.
func Synthesize(folder string, doe DOE, functions Vector, n, m int, noiseVariance *mat.Dense,
	seed int64) (*repo.Repository, error) {
	if len(functions) == 0 {
		return nil, errors.InvalidInput("a sample needs at least one test function")
	}
	l := len(functions)
	if r, c := noiseVariance.Dims(); r != l || c != l {
		return nil, errors.ShapeMismatch(fmt.Sprintf(
			"noise variance is %dx%d but the function vector has %d outputs", r, c, l))
	}
	rng := rand.New(rand.NewSource(seed))
	inputs := doe(rng, n, m)

	outputs := mat.NewDense(n, l, nil)
	point := make([]float64, m)
	for i := 0; i < n; i++ {
		mat.Row(point, i, inputs)
		for j, f := range functions {
			outputs.Set(i, j, f.Apply(point))
		}
	}
	standardizeColumns(outputs)
	if err := addNoise(rng, outputs, noiseVariance); err != nil {
		return nil, err
	}

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
			values.Set(i, j, inputs.At(i, j))
		}
		for j := 0; j < l; j++ {
			values.Set(i, m+j, outputs.At(i, j))
		}
	}
	frame := store.Frame{
		Index:   store.RangeIndex(n),
		Columns: store.TwoLevel([2]string{"", ""}, keys...),
		Values:  values,
	}
	return repo.CreateRepository(folder, frame, seed)
}

// standardizeColumns maps every column to zero mean and unit deviation, so
// the noise magnitude reads directly as a noise-to-signal ratio.
func standardizeColumns(m *mat.Dense) {
	rows, cols := m.Dims()
	for j := 0; j < cols; j++ {
		sum, sumSq := 0.0, 0.0
		for i := 0; i < rows; i++ {
			v := m.At(i, j)
			sum += v
			sumSq += v * v
		}
		mean := sum / float64(rows)
		sd := math.Sqrt(sumSq/float64(rows) - mean*mean)
		if sd == 0 {
			sd = 1
		}
		for i := 0; i < rows; i++ {
			m.Set(i, j, (m.At(i, j)-mean)/sd)
		}
	}
}

// addNoise adds correlated Gaussian noise drawn from the given covariance
func addNoise(rng *rand.Rand, outputs *mat.Dense, variance *mat.Dense) error {
	rows, l := outputs.Dims()
	sym := mat.NewSymDense(l, nil)
	for i := 0; i < l; i++ {
		for j := 0; j < l; j++ {
			sym.SetSym(i, j, (variance.At(i, j)+variance.At(j, i))/2)
		}
	}
	var chol mat.Cholesky
	if !chol.Factorize(sym) {
		return errors.ShapeMismatch("noise variance is not positive definite")
	}
	var lower mat.TriDense
	chol.LTo(&lower)
	draw := mat.NewVecDense(l, nil)
	noise := mat.NewVecDense(l, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < l; j++ {
			draw.SetVec(j, rng.NormFloat64())
		}
		noise.MulVec(&lower, draw)
		for j := 0; j < l; j++ {
			outputs.Set(i, j, outputs.At(i, j)+noise.AtVec(j))
		}
	}
	return nil
}
