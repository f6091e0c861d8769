// Package gsa implements global sensitivity analysis of a calibrated GPR:
// Monte Carlo Sobol indices of the posterior mean, stored per kind as a Model
// folder nested under the regression model.
package gsa

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"path/filepath"

	"gonum.org/v1/gonum/mat"

	"gpbench/internal"
	"gpbench/internal/errors"
	"gpbench/internal/gpr"
	"gpbench/internal/store"
)

// Kind selects the Sobol index family to estimate
type Kind string

// The supported index kinds. Closed indices are cumulative: row entry i is
// the closed index of inputs {0..i}.
const (
	KindFirstOrder Kind = "first_order"
	KindClosed     Kind = "closed"
	KindTotal      Kind = "total"
)

// Kinds returns every supported kind in conventional order
func Kinds() []Kind {
	return []Kind{KindFirstOrder, KindClosed, KindTotal}
}

// Result table names
const (
	tableS = "S"
	tableV = "V"
	tableT = "T"
	tableW = "W"
)

// errorChunks is the number of Monte Carlo blocks used for error estimation
const errorChunks = 10

// Options tunes one sensitivity analysis
type Options struct {
	Samples         int
	Seed            int64
	ErrorCalculated bool
}

func (o Options) withDefaults() Options {
	if o.Samples <= 0 {
		o.Samples = 2048
	}
	return o
}

// GSA is one stored sensitivity analysis of one model
type GSA struct {
	kind  Kind
	model *store.Model
	log   *internal.Logger
}

// Folder returns the analysis folder of one kind under a model folder
func Folder(modelFolder string, kind Kind) string {
	return filepath.Join(modelFolder, "gsa", string(kind))
}

func schema(m, l int, errorCalculated bool) store.Schema {
	specs := []store.TableSpec{
		{Name: tableS, Default: indexFrame(m, l)},
		{Name: tableV, Default: varianceFrame(l)},
	}
	if errorCalculated {
		specs = append(specs,
			store.TableSpec{Name: tableT, Default: indexFrame(m, l)},
			store.TableSpec{Name: tableW, Default: indexFrame(m, l)},
		)
	}
	return store.MustSchema(specs...)
}

func indexFrame(m, l int) store.Frame {
	inputs := make([]string, m)
	for d := range inputs {
		inputs[d] = fmt.Sprintf("X.%d", d)
	}
	return store.Frame{
		Index:   store.SingleLevel("", outputNames(l)...),
		Columns: store.SingleLevel("", inputs...),
		Values:  mat.NewDense(l, m, nil),
	}
}

func varianceFrame(l int) store.Frame {
	return store.Frame{
		Index:   store.SingleLevel("", outputNames(l)...),
		Columns: store.SingleLevel("", "V"),
		Values:  mat.NewDense(l, 1, nil),
	}
}

func outputNames(l int) []string {
	names := make([]string, l)
	for j := range names {
		names[j] = fmt.Sprintf("Y.%d", j)
	}
	return names
}

// Run estimates the given kind of Sobol indices of g's posterior mean and
// stores them as a new analysis folder, overwriting any previous one.
func Run(ctx context.Context, g *gpr.GPR, kind Kind, opts Options) (*GSA, error) {
	opts = opts.withDefaults()
	predictor, err := g.Predictor()
	if err != nil {
		return nil, err
	}
	m, l := predictor.Dims()
	internal.DefaultLogger.Info("running %s GSA of %s: samples=%d", kind, g.Folder(), opts.Samples)

	estimate, err := estimate(ctx, predictor, kind, opts)
	if err != nil {
		return nil, err
	}

	tables := map[string]store.Frame{
		tableS: frameOf(estimate.indices, indexFrame(m, l)),
		tableV: frameOf(estimate.variance, varianceFrame(l)),
	}
	if opts.ErrorCalculated {
		tables[tableT] = frameOf(estimate.stdError, indexFrame(m, l))
		tables[tableW] = frameOf(estimate.estimatorVar, indexFrame(m, l))
	}
	model, err := store.CreateModel(Folder(g.Folder(), kind), schema(m, l, opts.ErrorCalculated),
		map[string]any{
			"kind":             string(kind),
			"samples":          opts.Samples,
			"error_calculated": opts.ErrorCalculated,
		}, nil, tables)
	if err != nil {
		return nil, err
	}
	return &GSA{kind: kind, model: model, log: internal.DefaultLogger}, nil
}

// Open reads a stored analysis. m and l are the analyzed model's dimensions.
func Open(modelFolder string, kind Kind, m, l int, errorCalculated bool) (*GSA, error) {
	model, err := store.OpenModel(Folder(modelFolder, kind), schema(m, l, errorCalculated), nil)
	if err != nil {
		return nil, err
	}
	return &GSA{kind: kind, model: model, log: internal.DefaultLogger}, nil
}

// Kind returns the stored index kind
func (a *GSA) Kind() Kind {
	return a.kind
}

// Folder returns the analysis folder
func (a *GSA) Folder() string {
	return a.model.Path()
}

// S returns the L x M Sobol index table
func (a *GSA) S() *store.Frame {
	return a.model.Data().Frame(tableS)
}

// V returns the L x 1 total output variance table
func (a *GSA) V() *store.Frame {
	return a.model.Data().Frame(tableV)
}

// frameOf copies values into a labelled template
func frameOf(values *mat.Dense, template store.Frame) store.Frame {
	frame := template.Clone()
	frame.Values = mat.DenseCopyOf(values)
	return frame
}

// estimateResult carries the Monte Carlo estimates before labelling
type estimateResult struct {
	indices      *mat.Dense // L x M
	variance     *mat.Dense // L x 1
	stdError     *mat.Dense // L x M
	estimatorVar *mat.Dense // L x M
}

// estimate runs the Saltelli pick-and-freeze scheme. Inputs are sampled
// standard normal, matching the normalized and rotated space the model was
// fitted in.
func estimate(ctx context.Context, predictor *gpr.Predictor, kind Kind, opts Options) (*estimateResult, error) {
	m, l := predictor.Dims()
	rng := rand.New(rand.NewSource(opts.Seed))

	a := sampleNormal(rng, opts.Samples, m)
	b := sampleNormal(rng, opts.Samples, m)
	fA := predictor.Mean(a)
	fB := predictor.Mean(b)
	variance := totalVariance(fA, fB)

	result := &estimateResult{
		indices:      mat.NewDense(l, m, nil),
		variance:     mat.NewDense(l, 1, nil),
		stdError:     mat.NewDense(l, m, nil),
		estimatorVar: mat.NewDense(l, m, nil),
	}
	for j := 0; j < l; j++ {
		result.variance.Set(j, 0, variance[j])
	}

	mixed := mat.NewDense(opts.Samples, m, nil)
	for d := 0; d < m; d++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// Freeze the complement of the probed input set.
		mixed.Copy(a)
		switch kind {
		case KindClosed:
			for i := 0; i < opts.Samples; i++ {
				for c := 0; c <= d; c++ {
					mixed.Set(i, c, b.At(i, c))
				}
			}
		case KindFirstOrder, KindTotal:
			for i := 0; i < opts.Samples; i++ {
				mixed.Set(i, d, b.At(i, d))
			}
		default:
			return nil, errors.InvalidInput(fmt.Sprintf("unknown GSA kind %q", kind))
		}
		fMixed := predictor.Mean(mixed)

		for j := 0; j < l; j++ {
			pointwise := pointwiseEstimates(kind, fA, fB, fMixed, j, variance[j])
			result.indices.Set(j, d, meanOf(pointwise))
			if opts.ErrorCalculated {
				estimatorVar, stdError := chunkError(pointwise)
				result.estimatorVar.Set(j, d, estimatorVar)
				result.stdError.Set(j, d, stdError)
			}
		}
	}
	return result, nil
}

func sampleNormal(rng *rand.Rand, rows, cols int) *mat.Dense {
	sample := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			sample.Set(i, j, rng.NormFloat64())
		}
	}
	return sample
}

// totalVariance pools both base samples per output
func totalVariance(fA, fB *mat.Dense) []float64 {
	rows, l := fA.Dims()
	variance := make([]float64, l)
	for j := 0; j < l; j++ {
		sum, sumSq := 0.0, 0.0
		for i := 0; i < rows; i++ {
			for _, v := range [2]float64{fA.At(i, j), fB.At(i, j)} {
				sum += v
				sumSq += v * v
			}
		}
		n := float64(2 * rows)
		mean := sum / n
		variance[j] = sumSq/n - mean*mean
	}
	return variance
}

// pointwiseEstimates returns the per-sample estimator terms whose mean is the
// index, enabling block-wise error estimation from the same evaluations.
func pointwiseEstimates(kind Kind, fA, fB, fMixed *mat.Dense, output int, variance float64) []float64 {
	rows, _ := fA.Dims()
	terms := make([]float64, rows)
	if variance == 0 {
		return terms
	}
	for i := 0; i < rows; i++ {
		switch kind {
		case KindTotal:
			diff := fA.At(i, output) - fMixed.At(i, output)
			terms[i] = diff * diff / (2 * variance)
		default:
			// First-order and closed share the estimator; only the set of
			// swapped input columns differs.
			terms[i] = fB.At(i, output) * (fMixed.At(i, output) - fA.At(i, output)) / variance
		}
	}
	return terms
}

func meanOf(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// chunkError splits the estimator terms into blocks and reports the variance
// of the block means plus the standard error of their grand mean.
func chunkError(terms []float64) (estimatorVar, stdError float64) {
	chunks := errorChunks
	if len(terms) < chunks {
		chunks = len(terms)
	}
	size := len(terms) / chunks
	means := make([]float64, chunks)
	for c := 0; c < chunks; c++ {
		end := (c + 1) * size
		if c == chunks-1 {
			end = len(terms)
		}
		means[c] = meanOf(terms[c*size : end])
	}
	grand := meanOf(means)
	for _, v := range means {
		estimatorVar += (v - grand) * (v - grand)
	}
	estimatorVar /= float64(chunks)
	return estimatorVar, math.Sqrt(estimatorVar / float64(chunks))
}
