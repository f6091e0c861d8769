// Package sweep drives the full benchmark: for every point of the
// noise x dimension x sample-size x rotation grid it synthesizes a
// Repository, partitions it into folds, fits one GPR per fold, runs the
// sensitivity analyses, and aggregates results bottom-up into per-repository
// and whole-root summary tables.
package sweep

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"gpbench/internal"
	"gpbench/internal/collect"
	"gpbench/internal/errors"
	"gpbench/internal/gpr"
	"gpbench/internal/gsa"
	"gpbench/internal/repo"
	"gpbench/internal/sample"
	"gpbench/internal/store"
)

// Config describes one complete benchmark run
type Config struct {
	Root            string
	Functions       sample.Vector
	Folds           int // signed: negative reserves a held-out test fold
	InputDims       []int
	SampleSizes     []int
	NoiseMagnitudes []float64
	Rotations       int // random input rotations per point, besides none
	NoiseCovariant  bool
	NoiseDetermined bool
	GPR             gpr.Options
	GSAKinds        []gsa.Kind
	GSASamples      int
	ErrorCalculated bool
	IgnoreMissing   bool
	Parallel        int // concurrent fold calibrations per repository
	ExcelFile       string
	Seed            int64
}

func (c Config) withDefaults() Config {
	if len(c.Functions) == 0 {
		c.Functions = sample.Vector{sample.Ishigami}
	}
	if c.Folds == 0 {
		c.Folds = -2
	}
	if len(c.InputDims) == 0 {
		c.InputDims = []int{5}
	}
	if len(c.SampleSizes) == 0 {
		c.SampleSizes = []int{200}
	}
	if len(c.NoiseMagnitudes) == 0 {
		c.NoiseMagnitudes = []float64{0.1}
	}
	if c.GSAKinds == nil {
		c.GSAKinds = gsa.Kinds()
	}
	if c.Parallel < 1 {
		c.Parallel = 1
	}
	return c
}

// Index depths of aggregated tables grow by one tag level per pass
var (
	modelTables = []collect.Table{
		{Name: "test", Read: store.ReadOptions{HeaderRows: 2, IndexColumns: 1}},
		{Name: "test_summary", Read: store.ReadOptions{HeaderRows: 2, IndexColumns: 1}},
	}
	repoModelTables = []collect.Table{
		{Name: "test", Read: store.ReadOptions{HeaderRows: 2, IndexColumns: 2}},
		{Name: "test_summary", Read: store.ReadOptions{HeaderRows: 2, IndexColumns: 2}},
	}
	rootModelTables = []collect.Table{
		{Name: "test", Read: store.ReadOptions{HeaderRows: 2, IndexColumns: 3}},
		{Name: "test_summary", Read: store.ReadOptions{HeaderRows: 2, IndexColumns: 3}},
	}
)

func parameterTables(depth int) []collect.Table {
	read := store.ReadOptions{HeaderRows: 1, IndexColumns: depth}
	return []collect.Table{
		{Name: "variance", Read: read},
		{Name: "log_marginal", Read: read},
	}
}

func kernelTables(depth int) []collect.Table {
	read := store.ReadOptions{HeaderRows: 1, IndexColumns: depth}
	return []collect.Table{
		{Name: "variance", Read: read},
		{Name: "lengthscales", Read: read},
	}
}

func gsaTables(depth int) []collect.Table {
	read := store.ReadOptions{HeaderRows: 1, IndexColumns: depth}
	return []collect.Table{
		{Name: "S", Read: read},
		{Name: "V", Read: read},
		{Name: "T", Read: read},
		{Name: "W", Read: read},
	}
}

// Driver runs one benchmark sweep
type Driver struct {
	cfg Config
	log *internal.Logger
}

// New builds a Driver, filling unset Config fields with benchmark defaults
func New(cfg Config) *Driver {
	return &Driver{cfg: cfg.withDefaults(), log: internal.DefaultLogger}
}

// Run executes the whole sweep. Each grid point is processed fully before the
// next; per-point failures abort unless IgnoreMissing lets the aggregation
// passes skip what the failure left absent.
func (d *Driver) Run(ctx context.Context) error {
	cfg := d.cfg
	root, err := store.Folder.Create(cfg.Root)
	if err != nil {
		return err
	}
	manifest, err := store.NewMeta(store.MetaPath(root), map[string]any{
		"run_id":           uuid.NewString(),
		"started":          time.Now().UTC().Format(time.RFC3339),
		"K":                cfg.Folds,
		"input_dims":       cfg.InputDims,
		"sample_sizes":     cfg.SampleSizes,
		"noise_magnitudes": cfg.NoiseMagnitudes,
		"rotations":        cfg.Rotations,
		"functions":        cfg.Functions.Names(),
		"finished":         "",
	})
	if err != nil {
		return err
	}

	var gprSources, gsaSources []collect.Source
	point := 0
	for _, noise := range cfg.NoiseMagnitudes {
		for _, m := range cfg.InputDims {
			for _, n := range cfg.SampleSizes {
				for rot := 0; rot <= cfg.Rotations; rot++ {
					if err := ctx.Err(); err != nil {
						return err
					}
					point++
					r, err := d.runPoint(ctx, root, noise, m, n, rot, cfg.Seed+int64(point))
					if err != nil {
						return err
					}
					tags := []collect.Tag{
						{Name: "noise", Value: fmt.Sprintf("%.3f", noise)},
						{Name: "M", Value: strconv.Itoa(m)},
						{Name: "N", Value: strconv.Itoa(n)},
						{Name: "rotation", Value: strconv.Itoa(rot)},
					}
					gprSources = append(gprSources,
						collect.Source{Folder: filepath.Join(r.Folder(), "gpr"), Tags: tags})
					gsaSources = append(gsaSources,
						collect.Source{Folder: filepath.Join(r.Folder(), "gsa"), Tags: tags})
				}
			}
		}
	}

	if err := d.aggregateRoot(root, gprSources, gsaSources); err != nil {
		return err
	}
	if cfg.ExcelFile != "" {
		if err := d.export(root); err != nil {
			return err
		}
	}
	return manifest.Update(map[string]any{
		"finished": time.Now().UTC().Format(time.RFC3339),
	})
}

// runPoint synthesizes, partitions, fits, analyzes and aggregates one grid
// point, returning its Repository.
func (d *Driver) runPoint(ctx context.Context, root string, noise float64, m, n, rot int, seed int64) (*repo.Repository, error) {
	cfg := d.cfg
	suffix := ""
	if rot > 0 {
		suffix = "rom." + strconv.Itoa(rot)
	}
	folder := filepath.Join(root, sample.FolderName(cfg.Functions, m, noise, n, suffix))
	d.log.Info("sweep point %s", folder)

	variance := sample.NoiseVariance(seededRand(seed), len(cfg.Functions), noise,
		cfg.NoiseCovariant, cfg.NoiseDetermined)
	r, err := sample.Synthesize(folder, sample.LatinHypercube, cfg.Functions, n, m, variance, seed)
	if err != nil {
		return nil, err
	}
	if err := r.IntoKFolds(cfg.Folds); err != nil {
		return nil, err
	}
	if rot > 0 {
		if err := r.RotateFolds(sample.RandomRotation(seededRand(seed+1), m)); err != nil {
			return nil, err
		}
	}

	folds, err := r.Folds()
	if err != nil {
		return nil, err
	}
	models, err := d.calibrateFolds(ctx, folds)
	if err != nil {
		return nil, err
	}
	for _, model := range models {
		for _, kind := range cfg.GSAKinds {
			if _, err := gsa.Run(ctx, model, kind, gsa.Options{
				Samples:         cfg.GSASamples,
				Seed:            seed,
				ErrorCalculated: cfg.ErrorCalculated,
			}); err != nil {
				if cfg.IgnoreMissing {
					d.log.Warn("skipping %s GSA of %s: %v", kind, model.Folder(), err)
					continue
				}
				return nil, err
			}
		}
	}
	if err := d.aggregateRepository(r, models); err != nil {
		return nil, err
	}
	return r, nil
}

// calibrateFolds fits one GPR per fold, Parallel folds at a time. Fold
// folders are disjoint, so concurrent calibrations never share files.
func (d *Driver) calibrateFolds(ctx context.Context, folds []*repo.Fold) ([]*gpr.GPR, error) {
	cfg := d.cfg
	models := make([]*gpr.GPR, len(folds))
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(cfg.Parallel)
	for i, fold := range folds {
		group.Go(func() error {
			model, err := gpr.Run(ctx, fold, cfg.GPR)
			if err != nil {
				if cfg.IgnoreMissing && errors.IsCode(err, errors.CodeCalibrationFailed) {
					d.log.Warn("skipping fold %d: %v", fold.K(), err)
					return nil
				}
				return errors.Wrapf(err, "fold %d", fold.K())
			}
			models[i] = model
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	calibrated := models[:0]
	for _, model := range models {
		if model != nil {
			calibrated = append(calibrated, model)
		}
	}
	return calibrated, nil
}

// aggregateRepository merges fold-level results into the repository's gpr and
// gsa summary folders, in two passes: calibrated models into one per-model
// folder, then models into the repository summary. Folds whose calibration
// failed have no model and contribute nothing.
func (d *Driver) aggregateRepository(r *repo.Repository, models []*gpr.GPR) error {
	cfg := d.cfg
	modelName := cfg.GPR.Name
	if modelName == "" {
		modelName = gpr.ModelName(0)
	}

	foldSources := make([]collect.Source, len(models))
	for i, model := range models {
		foldSources[i] = collect.Source{
			Folder: model.Folder(),
			Tags:   []collect.Tag{{Name: "fold", Value: strconv.Itoa(model.Fold().K())}},
		}
	}
	modelFolder := filepath.Join(r.Folder(), modelName)
	if err := collect.New(modelTables, foldSources, cfg.IgnoreMissing).
		FromFolders(modelFolder, true); err != nil {
		return err
	}
	for _, sub := range []struct {
		name   string
		tables []collect.Table
	}{
		{"likelihood", parameterTables(1)},
		{"kernel", kernelTables(1)},
	} {
		sources := subSources(foldSources, sub.name)
		if err := collect.New(sub.tables, sources, cfg.IgnoreMissing).
			FromFolders(filepath.Join(modelFolder, sub.name), true); err != nil {
			return err
		}
	}
	for _, kind := range cfg.GSAKinds {
		sources := subSources(foldSources, filepath.Join("gsa", string(kind)))
		if err := collect.New(gsaTables(1), sources, true).
			FromFolders(filepath.Join(modelFolder, "gsa", string(kind)), true); err != nil {
			return err
		}
	}

	modelSources := []collect.Source{{
		Folder: modelFolder,
		Tags:   []collect.Tag{{Name: "model", Value: modelName}},
	}}
	if err := collect.New(repoModelTables, modelSources, cfg.IgnoreMissing).
		FromFolders(filepath.Join(r.Folder(), "gpr"), true); err != nil {
		return err
	}
	for _, sub := range []struct {
		name   string
		tables []collect.Table
	}{
		{"likelihood", parameterTables(2)},
		{"kernel", kernelTables(2)},
	} {
		sources := subSources(modelSources, sub.name)
		if err := collect.New(sub.tables, sources, cfg.IgnoreMissing).
			FromFolders(filepath.Join(r.Folder(), "gpr", sub.name), true); err != nil {
			return err
		}
	}
	gsaSources := make([]collect.Source, 0, len(cfg.GSAKinds))
	for _, kind := range cfg.GSAKinds {
		gsaSources = append(gsaSources, collect.Source{
			Folder: filepath.Join(modelFolder, "gsa", string(kind)),
			Tags: []collect.Tag{
				{Name: "model", Value: modelName},
				{Name: "kind", Value: string(kind)},
			},
		})
	}
	return collect.New(gsaTables(2), gsaSources, true).
		FromFolders(filepath.Join(r.Folder(), "gsa"), true)
}

// aggregateRoot merges every repository's summaries into the root folders
func (d *Driver) aggregateRoot(root string, gprSources, gsaSources []collect.Source) error {
	cfg := d.cfg
	if err := collect.New(rootModelTables, gprSources, cfg.IgnoreMissing).
		FromFolders(filepath.Join(root, "gpr"), true); err != nil {
		return err
	}
	for _, sub := range []struct {
		name   string
		tables []collect.Table
	}{
		{"likelihood", parameterTables(3)},
		{"kernel", kernelTables(3)},
	} {
		sources := subSources(gprSources, sub.name)
		if err := collect.New(sub.tables, sources, cfg.IgnoreMissing).
			FromFolders(filepath.Join(root, "gpr", sub.name), true); err != nil {
			return err
		}
	}
	// The repository pass tagged GSA rows with both model and kind, so its
	// output carries one more index level than the GPR summaries.
	return collect.New(gsaTables(4), gsaSources, true).
		FromFolders(filepath.Join(root, "gsa"), true)
}

// export writes the root summary tables into one workbook
func (d *Driver) export(root string) error {
	depth := 3 + 4 // model, fold, original index, plus the four sweep tags
	tables := []collect.Table{
		{Name: "test_summary", Read: store.ReadOptions{HeaderRows: 2, IndexColumns: depth}},
	}
	return collect.ExportWorkbook(filepath.Join(root, "gpr"), tables, d.cfg.ExcelFile)
}

// subSources rebases sources onto one sub-folder, keeping their tags
func subSources(sources []collect.Source, sub string) []collect.Source {
	rebased := make([]collect.Source, len(sources))
	for i, source := range sources {
		rebased[i] = collect.Source{Folder: filepath.Join(source.Folder, sub), Tags: source.Tags}
	}
	return rebased
}

func seededRand(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}
