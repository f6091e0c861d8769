// Package gpr implements Gaussian process regression with an RBF-ARD kernel.
// Each GPR is a Model folder nested under a Fold, with its kernel and
// likelihood parameters stored as nested DataBases, so every fitted state is
// recoverable from the folder tree alone.
package gpr

import (
	"context"
	"fmt"
	"path/filepath"

	"gonum.org/v1/gonum/mat"

	"gpbench/internal"
	"gpbench/internal/errors"
	"gpbench/internal/repo"
	"gpbench/internal/store"
)

// Table names of a GPR model and its parameter sub-databases
const (
	tableTest        = "test"
	tableTestSummary = "test_summary"
	tableVariance    = "variance"
	tableLogMarginal = "log_marginal"
	tableLengthscale = "lengthscales"

	likelihoodFolder = "likelihood"
	kernelFolder     = "kernel"
)

// Summary row labels of the test_summary table
const (
	RowRMSE = "RMSE"
	RowMAE  = "MAE"
	RowR2   = "R2"
)

// ModelName composes the conventional model folder name for one variant
func ModelName(variant int) string {
	return fmt.Sprintf("gpr.%d", variant)
}

// Options selects the kernel family and the optimizer budget
type Options struct {
	Name          string
	Isotropic     bool
	MaxIterations int
	InitialNoise  float64
}

func (o Options) withDefaults() Options {
	if o.Name == "" {
		o.Name = ModelName(0)
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = 40
	}
	if o.InitialNoise <= 0 {
		o.InitialNoise = 0.05
	}
	return o
}

// GPR is one Gaussian process regressor fitted to one fold's training data
type GPR struct {
	fold       *repo.Fold
	model      *store.Model
	likelihood *store.DataBase
	kernel     *store.DataBase
	opts       Options
	log        *internal.Logger
}

func modelSchema(l int) store.Schema {
	twoLevel := store.ReadOptions{HeaderRows: 2, IndexColumns: 1}
	return store.MustSchema(
		store.TableSpec{Name: tableTest, Default: testDefault(l), Read: twoLevel},
		store.TableSpec{Name: tableTestSummary, Default: summaryDefault(l), Read: twoLevel},
	)
}

func likelihoodSchema(l int, initialNoise float64) store.Schema {
	variance := store.Zeros(l, l)
	for j := 0; j < l; j++ {
		variance.Values.Set(j, j, initialNoise)
	}
	return store.MustSchema(
		store.TableSpec{Name: tableVariance, Default: variance},
		store.TableSpec{Name: tableLogMarginal, Default: store.Zeros(1, 1)},
	)
}

func kernelSchema(l int) store.Schema {
	variance := store.Zeros(1, l)
	for j := 0; j < l; j++ {
		variance.Values.Set(0, j, 1)
	}
	lengthscales := store.Zeros(1, 1)
	lengthscales.Values.Set(0, 0, 1)
	return store.MustSchema(
		store.TableSpec{Name: tableVariance, Default: variance},
		store.TableSpec{Name: tableLengthscale, Default: lengthscales},
	)
}

func testDefault(l int) store.Frame {
	keys := make([][2]string, 0, 4*l)
	for _, group := range []string{"Observe", "Mean", "SD", "Error"} {
		for j := 0; j < l; j++ {
			keys = append(keys, [2]string{group, fmt.Sprintf("Y.%d", j)})
		}
	}
	return store.Frame{
		Index:   store.RangeIndex(1),
		Columns: store.TwoLevel([2]string{"", ""}, keys...),
		Values:  mat.NewDense(1, 4*l, nil),
	}
}

func summaryDefault(l int) store.Frame {
	keys := make([][2]string, l)
	for j := 0; j < l; j++ {
		keys[j] = [2]string{"Summary", fmt.Sprintf("Y.%d", j)}
	}
	return store.Frame{
		Index:   store.SingleLevel("", RowRMSE, RowMAE, RowR2),
		Columns: store.TwoLevel([2]string{"", ""}, keys...),
		Values:  mat.NewDense(3, l, nil),
	}
}

// Create stores a fresh, uncalibrated GPR under fold's folder, overwriting
// any previous model of the same name.
func Create(fold *repo.Fold, opts Options) (*GPR, error) {
	opts = opts.withDefaults()
	_, l := fold.Y().Dims()
	_, m := fold.X().Dims()
	path := filepath.Join(fold.Folder(), opts.Name)

	model, err := store.CreateModel(path, modelSchema(l), map[string]any{
		"name":       opts.Name,
		"fold":       fold.K(),
		"M":          m,
		"L":          l,
		"isotropic":  opts.Isotropic,
		"calibrated": false,
	}, nil, nil)
	if err != nil {
		return nil, err
	}
	likelihood, err := store.CreateDataBase(
		filepath.Join(path, likelihoodFolder), likelihoodSchema(l, opts.InitialNoise), nil)
	if err != nil {
		return nil, err
	}
	kernel, err := store.CreateDataBase(filepath.Join(path, kernelFolder), kernelSchema(l), nil)
	if err != nil {
		return nil, err
	}
	return &GPR{
		fold:       fold,
		model:      model,
		likelihood: likelihood,
		kernel:     kernel,
		opts:       opts,
		log:        internal.DefaultLogger,
	}, nil
}

// Open reads an existing GPR of the given name under fold's folder
func Open(fold *repo.Fold, name string) (*GPR, error) {
	opts := Options{Name: name}.withDefaults()
	_, l := fold.Y().Dims()
	path := filepath.Join(fold.Folder(), opts.Name)

	model, err := store.OpenModel(path, modelSchema(l), nil)
	if err != nil {
		return nil, err
	}
	likelihood, err := store.OpenDataBase(
		filepath.Join(path, likelihoodFolder), likelihoodSchema(l, opts.InitialNoise), nil)
	if err != nil {
		return nil, err
	}
	kernel, err := store.OpenDataBase(filepath.Join(path, kernelFolder), kernelSchema(l), nil)
	if err != nil {
		return nil, err
	}
	if isotropic, ok := model.Meta().Get("isotropic"); ok {
		opts.Isotropic, _ = isotropic.(bool)
	}
	return &GPR{
		fold:       fold,
		model:      model,
		likelihood: likelihood,
		kernel:     kernel,
		opts:       opts,
		log:        internal.DefaultLogger,
	}, nil
}

// Name returns the model folder name
func (g *GPR) Name() string {
	return g.opts.Name
}

// Folder returns the model folder
func (g *GPR) Folder() string {
	return g.model.Path()
}

// Fold returns the fold this model is fitted to
func (g *GPR) Fold() *repo.Fold {
	return g.fold
}

// Meta returns the model's metadata record
func (g *GPR) Meta() *store.Meta {
	return g.model.Meta()
}

// Calibrated reports whether a calibration has completed and been stored
func (g *GPR) Calibrated() bool {
	if v, ok := g.model.Meta().Get("calibrated"); ok {
		if b, isBool := v.(bool); isBool {
			return b
		}
	}
	return false
}

// NoiseVariance returns the stored L x L likelihood noise covariance
func (g *GPR) NoiseVariance() *store.Frame {
	return g.likelihood.Frame(tableVariance)
}

// LogMarginal returns the stored total log marginal likelihood
func (g *GPR) LogMarginal() float64 {
	return g.likelihood.Frame(tableLogMarginal).At(0, 0)
}

// KernelVariance returns the stored 1 x L kernel signal variances
func (g *GPR) KernelVariance() *store.Frame {
	return g.kernel.Frame(tableVariance)
}

// Lengthscales returns the stored L x M kernel lengthscales
func (g *GPR) Lengthscales() *store.Frame {
	return g.kernel.Frame(tableLengthscale)
}

// TestSummary returns the stored prediction-quality summary
func (g *GPR) TestSummary() *store.Frame {
	return g.model.Data().Frame(tableTestSummary)
}

// Run creates and calibrates one GPR on fold in a single call. A failed
// calibration removes the half-written model folder, so no default tables
// survive to be mistaken for results.
func Run(ctx context.Context, fold *repo.Fold, opts Options) (*GPR, error) {
	g, err := Create(fold, opts)
	if err != nil {
		return nil, err
	}
	if err := g.Calibrate(ctx); err != nil {
		if deleteErr := store.Folder.Delete(g.Folder()); deleteErr != nil {
			g.log.Warn("failed to remove %s after failed calibration: %v", g.Folder(), deleteErr)
		}
		return nil, err
	}
	return g, nil
}

func shapeError(table string, r, c, wantR, wantC int) error {
	return errors.ShapeMismatch(fmt.Sprintf(
		"%s table is %dx%d, want %dx%d", table, r, c, wantR, wantC))
}
