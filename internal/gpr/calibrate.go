package gpr

import (
	"context"
	"math"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/mat"

	"gpbench/internal/errors"
	"gpbench/internal/store"
)

// Calibrate fits the kernel and likelihood hyperparameters of every output by
// maximizing the log marginal likelihood with a shrinking coordinate search,
// then predicts the fold's test set and rewrites every parameter and result
// table. A failed calibration leaves the stored Meta reporting calibrated
// false.
func (g *GPR) Calibrate(ctx context.Context) error {
	x, y := g.fold.X(), g.fold.Y()
	n, m := x.Dims()
	_, l := y.Dims()
	g.log.Info("calibrating %s on fold %d: N=%d M=%d L=%d", g.opts.Name, g.fold.K(), n, m, l)

	// Parameter tables span their full shape from here on, whatever scalar
	// or row defaults they were created with.
	if table, ok := g.kernel.Table(tableLengthscale); ok {
		if err := table.BroadcastTo(l, m, false); err != nil {
			return err
		}
	}

	distances := dimSquaredDistances(x)
	params := make([]outputParams, l)
	yj := make([]float64, n)
	for j := 0; j < l; j++ {
		for i := 0; i < n; i++ {
			yj[i] = y.At(i, j)
		}
		fitted, err := g.fitOutput(ctx, distances, yj)
		if err != nil {
			return errors.CalibrationFailed(g.opts.Name,
				errors.Wrapf(err, "output %d of fold %d", j, g.fold.K()))
		}
		params[j] = fitted
		g.log.Debug("output %d: lengthscale=%.4g signal=%.4g noise=%.4g lml=%.4g",
			j, fitted.lengthscales[0], fitted.signal, fitted.noise, fitted.logMarginal)
	}

	predictor, err := newPredictor(x, y, params)
	if err != nil {
		return errors.CalibrationFailed(g.opts.Name, err)
	}
	if err := g.storeParameters(params); err != nil {
		return err
	}
	if err := g.storeTestResults(predictor); err != nil {
		return err
	}
	total := 0.0
	for _, p := range params {
		total += p.logMarginal
	}
	return g.model.Meta().Update(map[string]any{"calibrated": true, "log_marginal": total})
}

// fitOutput searches the log-parameter space of one output: per-dimension
// log lengthscales (one shared coordinate when isotropic), log signal and log
// noise, with a shrinking coordinate search.
func (g *GPR) fitOutput(ctx context.Context, distances []*mat.Dense, y []float64) (outputParams, error) {
	m := len(distances)
	scaleCoords := m
	if g.opts.Isotropic {
		scaleCoords = 1
	}
	point := make([]float64, scaleCoords+2)
	point[scaleCoords+1] = math.Log(g.opts.InitialNoise)
	best, ok := logMarginalAt(distances, y, point, scaleCoords)
	if !ok {
		return outputParams{}, errors.InvalidInput("initial covariance is not positive definite")
	}

	step := 0.5
	for iter := 0; iter < g.opts.MaxIterations && step >= 1e-3; iter++ {
		if err := ctx.Err(); err != nil {
			return outputParams{}, err
		}
		improved := false
		for coord := 0; coord < len(point); coord++ {
			for _, delta := range [2]float64{step, -step} {
				candidate := append([]float64(nil), point...)
				candidate[coord] += delta
				value, valid := logMarginalAt(distances, y, candidate, scaleCoords)
				if valid && value > best {
					best, point = value, candidate
					improved = true
				}
			}
		}
		if !improved {
			step /= 2
		}
	}
	scales := make([]float64, m)
	for d := range scales {
		coord := 0
		if scaleCoords > 1 {
			coord = d
		}
		scales[d] = math.Exp(point[coord])
	}
	return outputParams{
		lengthscales: scales,
		signal:       math.Exp(point[scaleCoords]),
		noise:        math.Exp(point[scaleCoords+1]),
		logMarginal:  best,
	}, nil
}

// logMarginalAt evaluates the log marginal likelihood at one point of the
// log-parameter space. A non-positive-definite covariance yields ok false.
func logMarginalAt(distances []*mat.Dense, y []float64, point []float64, scaleCoords int) (float64, bool) {
	const jitter = 1e-10
	m := len(distances)
	weights := make([]float64, m)
	for d := 0; d < m; d++ {
		coord := 0
		if scaleCoords > 1 {
			coord = d
		}
		lengthscale := math.Exp(point[coord])
		weights[d] = 1 / (2 * lengthscale * lengthscale)
	}
	signal := math.Exp(point[scaleCoords])
	noise := math.Exp(point[scaleCoords+1])

	n := len(y)
	cov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for t := i; t < n; t++ {
			exponent := 0.0
			for d := 0; d < m; d++ {
				exponent += distances[d].At(i, t) * weights[d]
			}
			v := signal * math.Exp(-exponent)
			if i == t {
				v += noise + jitter
			}
			cov.SetSym(i, t, v)
		}
	}
	var chol mat.Cholesky
	if !chol.Factorize(cov) {
		return 0, false
	}
	target := mat.NewVecDense(n, y)
	alpha := mat.NewVecDense(n, nil)
	if err := chol.SolveVecTo(alpha, target); err != nil {
		return 0, false
	}
	return -mat.Dot(target, alpha)/2 - chol.LogDet()/2 - float64(n)/2*math.Log(2*math.Pi), true
}

// dimSquaredDistances precomputes one pairwise squared-distance matrix per
// input dimension, shared by every likelihood evaluation of the search.
func dimSquaredDistances(x *mat.Dense) []*mat.Dense {
	n, m := x.Dims()
	distances := make([]*mat.Dense, m)
	for d := 0; d < m; d++ {
		dist := mat.NewDense(n, n, nil)
		for i := 0; i < n; i++ {
			for t := i + 1; t < n; t++ {
				diff := x.At(i, d) - x.At(t, d)
				dist.Set(i, t, diff*diff)
				dist.Set(t, i, diff*diff)
			}
		}
		distances[d] = dist
	}
	return distances
}

// storeParameters rewrites the kernel and likelihood databases from the fits
func (g *GPR) storeParameters(params []outputParams) error {
	l := len(params)
	m := len(params[0].lengthscales)

	lengths := g.Lengthscales().Clone()
	signal := g.KernelVariance().Clone()
	noise := g.NoiseVariance().Clone()
	logMarginal := g.likelihood.Frame(tableLogMarginal).Clone()

	total := 0.0
	for j, p := range params {
		for d := 0; d < m; d++ {
			lengths.Values.Set(j, d, p.lengthscales[d])
		}
		signal.Values.Set(0, j, p.signal)
		for t := 0; t < l; t++ {
			v := 0.0
			if t == j {
				v = p.noise
			}
			noise.Values.Set(j, t, v)
		}
		total += p.logMarginal
	}
	logMarginal.Values.Set(0, 0, total)

	if err := g.kernel.Update(map[string]store.Frame{
		tableVariance:    signal,
		tableLengthscale: lengths,
	}); err != nil {
		return err
	}
	return g.likelihood.Update(map[string]store.Frame{
		tableVariance:    noise,
		tableLogMarginal: logMarginal,
	})
}

// storeTestResults predicts the fold's held-out rows and rewrites the test
// and test_summary tables.
func (g *GPR) storeTestResults(predictor *Predictor) error {
	testX, testY := g.fold.TestX(), g.fold.TestY()
	rows, _ := testX.Dims()
	_, l := testY.Dims()
	mean, sd := predictor.MeanAndSD(testX)

	test := testDefault(l)
	test.Index = store.RangeIndex(rows)
	test.Values = mat.NewDense(rows, 4*l, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < l; j++ {
			observed := testY.At(i, j)
			predicted := mean.At(i, j)
			test.Values.Set(i, j, observed)
			test.Values.Set(i, l+j, predicted)
			test.Values.Set(i, 2*l+j, sd.At(i, j))
			test.Values.Set(i, 3*l+j, predicted-observed)
		}
	}

	summary := summaryDefault(l)
	for j := 0; j < l; j++ {
		observed := make([]float64, rows)
		squared := make([]float64, rows)
		absolute := make([]float64, rows)
		for i := 0; i < rows; i++ {
			observed[i] = testY.At(i, j)
			e := mean.At(i, j) - observed[i]
			squared[i] = e * e
			absolute[i] = math.Abs(e)
		}
		mse, err := stats.Mean(squared)
		if err != nil {
			return errors.Wrap(err, "failed to summarize squared errors")
		}
		mae, err := stats.Mean(absolute)
		if err != nil {
			return errors.Wrap(err, "failed to summarize absolute errors")
		}
		variance, err := stats.PopulationVariance(observed)
		if err != nil {
			return errors.Wrap(err, "failed to compute observed variance")
		}
		r2 := math.NaN()
		if variance > 0 {
			r2 = 1 - mse/variance
		}
		summary.Values.Set(0, j, math.Sqrt(mse))
		summary.Values.Set(1, j, mae)
		summary.Values.Set(2, j, r2)
	}

	return g.model.Data().Update(map[string]store.Frame{
		tableTest:        test,
		tableTestSummary: summary,
	})
}

var _ store.Calibrator = (*GPR)(nil)
