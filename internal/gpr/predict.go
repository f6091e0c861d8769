package gpr

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"gpbench/internal/errors"
)

// outputParams are the fitted hyperparameters of one independent output
type outputParams struct {
	lengthscales []float64
	signal       float64
	noise        float64
	logMarginal  float64
}

// Predictor evaluates the posterior of a fitted GPR at new input points. It
// holds the per-output Cholesky factors in memory, so one Predictor amortizes
// the O(n^3) factorization over many prediction batches.
type Predictor struct {
	x       *mat.Dense
	outputs []outputPredictor
}

type outputPredictor struct {
	params outputParams
	alpha  *mat.VecDense
	chol   *mat.Cholesky
}

// newPredictor factorizes the training covariance of every output
func newPredictor(x, y *mat.Dense, params []outputParams) (*Predictor, error) {
	n, _ := x.Dims()
	p := &Predictor{x: x, outputs: make([]outputPredictor, len(params))}
	for j, param := range params {
		cov := trainingCovariance(x, param)
		chol := &mat.Cholesky{}
		if !chol.Factorize(cov) {
			return nil, errors.ShapeMismatch("training covariance is not positive definite")
		}
		yj := mat.NewVecDense(n, nil)
		for i := 0; i < n; i++ {
			yj.SetVec(i, y.At(i, j))
		}
		alpha := mat.NewVecDense(n, nil)
		if err := chol.SolveVecTo(alpha, yj); err != nil {
			return nil, errors.Wrap(err, "failed to solve for the posterior weights")
		}
		p.outputs[j] = outputPredictor{params: param, alpha: alpha, chol: chol}
	}
	return p, nil
}

// Dims returns the input and output dimensions of the predictor
func (p *Predictor) Dims() (m, l int) {
	_, m = p.x.Dims()
	return m, len(p.outputs)
}

// Mean returns the posterior mean at the given points, one output per column
func (p *Predictor) Mean(points *mat.Dense) *mat.Dense {
	mean, _ := p.evaluate(points, false)
	return mean
}

// MeanAndSD returns the posterior mean and pointwise standard deviation
func (p *Predictor) MeanAndSD(points *mat.Dense) (mean, sd *mat.Dense) {
	return p.evaluate(points, true)
}

func (p *Predictor) evaluate(points *mat.Dense, withSD bool) (mean, sd *mat.Dense) {
	rows, cols := points.Dims()
	n, _ := p.x.Dims()
	l := len(p.outputs)
	mean = mat.NewDense(rows, l, nil)
	if withSD {
		sd = mat.NewDense(rows, l, nil)
	}
	cross := mat.NewVecDense(n, nil)
	point := make([]float64, cols)
	for i := 0; i < rows; i++ {
		mat.Row(point, i, points)
		for j, out := range p.outputs {
			for t := 0; t < n; t++ {
				cross.SetVec(t, rbf(point, p.x.RawRowView(t), out.params))
			}
			mean.Set(i, j, mat.Dot(cross, out.alpha))
			if !withSD {
				continue
			}
			solved := mat.NewVecDense(n, nil)
			if err := out.chol.SolveVecTo(solved, cross); err != nil {
				sd.Set(i, j, math.NaN())
				continue
			}
			variance := out.params.signal + out.params.noise - mat.Dot(cross, solved)
			if variance < 0 {
				variance = 0
			}
			sd.Set(i, j, math.Sqrt(variance))
		}
	}
	return mean, sd
}

// rbf is the ARD squared-exponential kernel between two input points
func rbf(a, b []float64, params outputParams) float64 {
	exponent := 0.0
	for d := range a {
		diff := (a[d] - b[d]) / params.lengthscales[d]
		exponent += diff * diff
	}
	return params.signal * math.Exp(-exponent/2)
}

// trainingCovariance builds the noisy covariance of the training inputs
func trainingCovariance(x *mat.Dense, params outputParams) *mat.SymDense {
	const jitter = 1e-10
	n, _ := x.Dims()
	cov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for t := i; t < n; t++ {
			v := rbf(x.RawRowView(i), x.RawRowView(t), params)
			if i == t {
				v += params.noise + jitter
			}
			cov.SetSym(i, t, v)
		}
	}
	return cov
}

// Predictor rebuilds the posterior evaluator from the stored hyperparameters
// and the fold's training data. The model must have been calibrated.
func (g *GPR) Predictor() (*Predictor, error) {
	if !g.Calibrated() {
		return nil, errors.CalibrationFailed(g.opts.Name,
			errors.InvalidInput("model has not been calibrated"))
	}
	x, y := g.fold.X(), g.fold.Y()
	_, m := x.Dims()
	_, l := y.Dims()

	lengths := g.Lengthscales()
	if r, c := lengths.Shape(); r != l || c != m {
		return nil, shapeError(tableLengthscale, r, c, l, m)
	}
	signal := g.KernelVariance()
	if r, c := signal.Shape(); r != 1 || c != l {
		return nil, shapeError(tableVariance, r, c, 1, l)
	}
	noise := g.NoiseVariance()
	if r, c := noise.Shape(); r != l || c != l {
		return nil, shapeError(likelihoodFolder+"/"+tableVariance, r, c, l, l)
	}

	params := make([]outputParams, l)
	for j := 0; j < l; j++ {
		scales := make([]float64, m)
		for d := 0; d < m; d++ {
			scales[d] = lengths.At(j, d)
		}
		params[j] = outputParams{
			lengthscales: scales,
			signal:       signal.At(0, j),
			noise:        noise.At(j, j),
		}
	}
	return newPredictor(x, y, params)
}
