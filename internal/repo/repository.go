// Package repo implements the sampling/partitioning layer: a Repository is
// the root DataBase for one sampled dataset, split into K folds each carrying
// its own fold-local normalization and an optional input-basis rotation.
package repo

import (
	"fmt"
	"math/rand"
	"path/filepath"

	"gonum.org/v1/gonum/mat"

	"gpbench/internal/errors"
	"gpbench/internal/store"
)

// Column group names of every sample table
const (
	GroupInput  = "Input"
	GroupOutput = "Output"
)

// FoldPlan is the internal form of the fold-count convention: an unsigned
// count of cross-validation folds plus an explicit flag reserving one extra
// held-out test fold at index Count.
type FoldPlan struct {
	Count       int
	ReserveTest bool
}

// PlanFromSignedK translates the signed convention used at the external
// boundary: positive K holds out no test fold, negative K reserves one.
func PlanFromSignedK(k int) (FoldPlan, error) {
	if k == 0 {
		return FoldPlan{}, errors.InvalidInput("fold count K must be non-zero")
	}
	if k < 0 {
		return FoldPlan{Count: -k, ReserveTest: true}, nil
	}
	return FoldPlan{Count: k, ReserveTest: false}, nil
}

// SignedK translates back to the signed boundary convention
func (p FoldPlan) SignedK() int {
	if p.ReserveTest {
		return -p.Count
	}
	return p.Count
}

// Folds returns the number of fold folders the plan produces. The designated
// held-out fold, when reserved, is fold index Count.
func (p FoldPlan) Folds() int {
	if p.ReserveTest {
		return p.Count + 1
	}
	return p.Count
}

// sampleSchema declares the single full-sample table of a Repository
func sampleSchema(def store.Frame) store.Schema {
	return store.MustSchema(store.TableSpec{
		Name:    "data",
		Default: def,
		Read:    store.ReadOptions{HeaderRows: 2, IndexColumns: 1},
	})
}

// Repository is one sampled dataset: the full-sample DataBase plus Meta at
// the repository folder, and fold subfolders fold.<k> once partitioned.
type Repository struct {
	folder string
	meta   *store.Meta
	db     *store.DataBase
	plan   FoldPlan
	seed   int64
}

// FoldFolder returns the folder of fold k under a repository folder
func FoldFolder(folder string, k int) string {
	return filepath.Join(folder, fmt.Sprintf("fold.%d", k))
}

// CreateRepository stores sample as a new Repository at folder, overwriting.
// The shuffle seed makes later fold partitions reproducible.
func CreateRepository(folder string, sample store.Frame, seed int64) (*Repository, error) {
	m := len(sample.ColumnsWhere(GroupInput))
	l := len(sample.ColumnsWhere(GroupOutput))
	if m == 0 || l == 0 {
		return nil, errors.InvalidInput("a repository sample needs Input and Output column groups")
	}
	rows, _ := sample.Shape()
	meta, err := store.NewMeta(store.MetaPath(folder), map[string]any{
		"K":                 0,
		"reserve_test_fold": false,
		"M":                 m,
		"L":                 l,
		"N":                 rows,
		"seed":              seed,
	})
	if err != nil {
		return nil, err
	}
	db, err := store.CreateDataBase(folder, sampleSchema(sample), map[string]store.Frame{"data": sample})
	if err != nil {
		return nil, err
	}
	return &Repository{folder: db.Path(), meta: meta, db: db, seed: seed}, nil
}

// OpenRepository reads an existing Repository
func OpenRepository(folder string) (*Repository, error) {
	meta, err := store.OpenMeta(store.MetaPath(folder))
	if err != nil {
		if errors.IsCode(err, errors.CodeMissingArtifact) {
			return nil, errors.Wrapf(err,
				"Repository %q is missing its meta: did you mean CreateRepository(%q, ...)?", folder, folder)
		}
		return nil, err
	}
	db, err := store.OpenDataBase(folder, sampleSchema(store.Zeros(1, 2)), nil)
	if err != nil {
		return nil, err
	}
	r := &Repository{folder: db.Path(), meta: meta, db: db}
	r.plan.Count = metaInt(meta, "K")
	r.plan.ReserveTest = metaBool(meta, "reserve_test_fold")
	r.seed = int64(metaInt(meta, "seed"))
	return r, nil
}

// Folder returns the repository folder
func (r *Repository) Folder() string {
	return r.folder
}

// Data returns the full sample table
func (r *Repository) Data() *store.Frame {
	return r.db.Frame("data")
}

// Plan returns the current fold plan; a zero Count means not yet partitioned
func (r *Repository) Plan() FoldPlan {
	return r.plan
}

// M returns the input dimension
func (r *Repository) M() int {
	return len(r.Data().ColumnsWhere(GroupInput))
}

// L returns the output dimension
func (r *Repository) L() int {
	return len(r.Data().ColumnsWhere(GroupOutput))
}

// N returns the sample size
func (r *Repository) N() int {
	rows, _ := r.Data().Shape()
	return rows
}

// IntoKFolds partitions the sample rows into folds per the signed-K
// convention, writing one fold folder per fold. Each fold's normalization is
// computed from that fold's training rows only.
func (r *Repository) IntoKFolds(k int) error {
	plan, err := PlanFromSignedK(k)
	if err != nil {
		return err
	}
	sample := r.Data()
	rows, _ := sample.Shape()
	chunks := plan.Folds()
	if plan.Count == 1 && !plan.ReserveTest {
		chunks = 1
	}
	if rows < chunks {
		return errors.InvalidInput(fmt.Sprintf("cannot split %d rows into %d folds", rows, chunks))
	}

	perm := rand.New(rand.NewSource(r.seed)).Perm(rows)
	chunked := make([][]int, chunks)
	for i, row := range perm {
		chunked[i%chunks] = append(chunked[i%chunks], row)
	}
	cvRows := make([]int, 0, rows)
	for c := 0; c < plan.Count; c++ {
		cvRows = append(cvRows, chunked[c]...)
	}

	for fold := 0; fold < plan.Folds(); fold++ {
		var train, test []int
		switch {
		case plan.ReserveTest && fold == plan.Count:
			// The designated held-out fold: trained on every CV row,
			// tested on rows no training fold ever saw.
			train, test = cvRows, chunked[plan.Count]
		case plan.Count == 1:
			train, test = chunked[0], chunked[0]
		default:
			test = chunked[fold]
			for c := 0; c < plan.Count; c++ {
				if c != fold {
					train = append(train, chunked[c]...)
				}
			}
		}
		if _, err := createFold(r.folder, fold, sample, train, test); err != nil {
			return err
		}
	}
	r.plan = plan
	return r.meta.Update(map[string]any{"K": plan.Count, "reserve_test_fold": plan.ReserveTest})
}

// Fold opens fold k of this repository
func (r *Repository) Fold(k int) (*Fold, error) {
	return OpenFold(r.folder, k, r.M())
}

// Folds opens every fold of this repository in order
func (r *Repository) Folds() ([]*Fold, error) {
	folds := make([]*Fold, 0, r.plan.Folds())
	for k := 0; k < r.plan.Folds(); k++ {
		fold, err := r.Fold(k)
		if err != nil {
			return nil, err
		}
		folds = append(folds, fold)
	}
	return folds, nil
}

// RotateFolds applies one rotation matrix to the input columns of every fold
// consistently. A nil rotation is a no-op.
func (r *Repository) RotateFolds(rotation *mat.Dense) error {
	if rotation == nil {
		return nil
	}
	folds, err := r.Folds()
	if err != nil {
		return err
	}
	for _, fold := range folds {
		if err := fold.Rotate(rotation); err != nil {
			return err
		}
	}
	return nil
}

func metaInt(meta *store.Meta, key string) int {
	if v, ok := meta.Get(key); ok {
		switch n := v.(type) {
		case float64:
			return int(n)
		case int:
			return n
		case int64:
			return int(n)
		}
	}
	return 0
}

func metaBool(meta *store.Meta, key string) bool {
	if v, ok := meta.Get(key); ok {
		if b, isBool := v.(bool); isBool {
			return b
		}
	}
	return false
}
