package repo

import (
	"math"
	"path/filepath"
	"strconv"
	"testing"

	"gonum.org/v1/gonum/mat"

	"gpbench/internal/store"
)

func testSample(n, m, l int) store.Frame {
	keys := make([][2]string, 0, m+l)
	for j := 0; j < m; j++ {
		keys = append(keys, [2]string{GroupInput, "X." + strconv.Itoa(j)})
	}
	for j := 0; j < l; j++ {
		keys = append(keys, [2]string{GroupOutput, "Y." + strconv.Itoa(j)})
	}
	values := mat.NewDense(n, m+l, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < m+l; j++ {
			values.Set(i, j, float64(i*7+j)+0.5)
		}
	}
	return store.Frame{
		Index:   store.RangeIndex(n),
		Columns: store.TwoLevel([2]string{"", ""}, keys...),
		Values:  values,
	}
}

func TestPlanFromSignedK(t *testing.T) {
	cases := []struct {
		signed  int
		count   int
		reserve bool
		folds   int
	}{
		{1, 1, false, 1},
		{3, 3, false, 3},
		{-1, 1, true, 2},
		{-4, 4, true, 5},
	}
	for _, c := range cases {
		plan, err := PlanFromSignedK(c.signed)
		if err != nil {
			t.Fatalf("K=%d: %v", c.signed, err)
		}
		if plan.Count != c.count || plan.ReserveTest != c.reserve || plan.Folds() != c.folds {
			t.Errorf("K=%d: got %+v with %d folds", c.signed, plan, plan.Folds())
		}
		if plan.SignedK() != c.signed {
			t.Errorf("K=%d does not round-trip, got %d", c.signed, plan.SignedK())
		}
	}
	if _, err := PlanFromSignedK(0); err == nil {
		t.Fatal("K=0 must be rejected")
	}
}

func TestCreateRepository_RequiresColumnGroups(t *testing.T) {
	folder := filepath.Join(t.TempDir(), "repo")
	bad := store.FrameOf([]string{"a", "b"}, []float64{1, 2})
	if _, err := CreateRepository(folder, bad, 1); err == nil {
		t.Fatal("expected an error for a sample without Input/Output groups")
	}
}

func TestRepository_ReopenKeepsDimensions(t *testing.T) {
	folder := filepath.Join(t.TempDir(), "repo")
	if _, err := CreateRepository(folder, testSample(10, 3, 2), 1); err != nil {
		t.Fatal(err)
	}
	r, err := OpenRepository(folder)
	if err != nil {
		t.Fatal(err)
	}
	if r.M() != 3 || r.L() != 2 || r.N() != 10 {
		t.Fatalf("got M=%d L=%d N=%d", r.M(), r.L(), r.N())
	}
}

func TestIntoKFolds_CrossValidationPartition(t *testing.T) {
	folder := filepath.Join(t.TempDir(), "repo")
	r, err := CreateRepository(folder, testSample(12, 2, 1), 3)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.IntoKFolds(3); err != nil {
		t.Fatal(err)
	}

	seenTest := map[string]int{}
	for k := 0; k < 3; k++ {
		fold, err := r.Fold(k)
		if err != nil {
			t.Fatal(err)
		}
		trainRows, _ := fold.Data().Shape()
		testRows, _ := fold.TestData().Shape()
		if trainRows+testRows != 12 {
			t.Errorf("fold %d: train %d + test %d != 12", k, trainRows, testRows)
		}
		// Train and test rows are disjoint within each fold.
		train := map[string]bool{}
		for _, key := range fold.Data().Index.Keys {
			train[key[0]] = true
		}
		for _, key := range fold.TestData().Index.Keys {
			if train[key[0]] {
				t.Errorf("fold %d: row %s in both train and test", k, key[0])
			}
			seenTest[key[0]]++
		}
	}
	// Every sample row is tested exactly once across the CV folds.
	if len(seenTest) != 12 {
		t.Fatalf("expected every row tested, got %d distinct rows", len(seenTest))
	}
	for row, count := range seenTest {
		if count != 1 {
			t.Errorf("row %s tested %d times", row, count)
		}
	}
}

func TestIntoKFolds_ReservedTestFold(t *testing.T) {
	folder := filepath.Join(t.TempDir(), "repo")
	r, err := CreateRepository(folder, testSample(12, 2, 1), 3)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.IntoKFolds(-2); err != nil {
		t.Fatal(err)
	}
	if r.Plan().Folds() != 3 {
		t.Fatalf("K=-2 should produce 3 fold folders, got %d", r.Plan().Folds())
	}

	reserved, err := r.Fold(2)
	if err != nil {
		t.Fatal(err)
	}
	heldOut := map[string]bool{}
	for _, key := range reserved.TestData().Index.Keys {
		heldOut[key[0]] = true
	}
	// No CV fold ever trains on the held-out rows.
	for k := 0; k < 2; k++ {
		fold, err := r.Fold(k)
		if err != nil {
			t.Fatal(err)
		}
		for _, key := range fold.Data().Index.Keys {
			if heldOut[key[0]] {
				t.Errorf("fold %d trains on held-out row %s", k, key[0])
			}
		}
	}
	// The reserved fold trains on every CV row.
	trainRows, _ := reserved.Data().Shape()
	if trainRows != 12-len(heldOut) {
		t.Errorf("reserved fold trains on %d rows, want %d", trainRows, 12-len(heldOut))
	}
}

func TestIntoKFolds_SingleFoldTrainsAndTestsEverything(t *testing.T) {
	folder := filepath.Join(t.TempDir(), "repo")
	r, err := CreateRepository(folder, testSample(8, 2, 1), 3)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.IntoKFolds(1); err != nil {
		t.Fatal(err)
	}
	fold, err := r.Fold(0)
	if err != nil {
		t.Fatal(err)
	}
	trainRows, _ := fold.Data().Shape()
	testRows, _ := fold.TestData().Shape()
	if trainRows != 8 || testRows != 8 {
		t.Fatalf("K=1 fold should train and test on all rows, got %d/%d", trainRows, testRows)
	}
}

func TestFold_NormalizationIsFoldLocal(t *testing.T) {
	folder := filepath.Join(t.TempDir(), "repo")
	r, err := CreateRepository(folder, testSample(12, 2, 1), 3)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.IntoKFolds(2); err != nil {
		t.Fatal(err)
	}
	fold, err := r.Fold(0)
	if err != nil {
		t.Fatal(err)
	}

	// Training columns have zero mean and unit deviation under the fold's
	// own parameters.
	data := fold.Data()
	rows, cols := data.Shape()
	for j := 0; j < cols; j++ {
		sum, sumSq := 0.0, 0.0
		for i := 0; i < rows; i++ {
			sum += data.At(i, j)
			sumSq += data.At(i, j) * data.At(i, j)
		}
		mean := sum / float64(rows)
		sd := math.Sqrt(sumSq/float64(rows) - mean*mean)
		if math.Abs(mean) > 1e-9 {
			t.Errorf("column %d mean %g, want 0", j, mean)
		}
		if math.Abs(sd-1) > 0.01 {
			t.Errorf("column %d sd %g, want 1", j, sd)
		}
	}

	// The stored parameters equal mean and population deviation of the
	// fold's own training rows in the original sample, nothing wider.
	sample := r.Data()
	norm := fold.Normalization()
	for j := 0; j < cols; j++ {
		sum, sumSq := 0.0, 0.0
		for _, key := range data.Index.Keys {
			original, err := strconv.Atoi(key[0])
			if err != nil {
				t.Fatalf("unexpected index key %q", key[0])
			}
			v := sample.At(original, j)
			sum += v
			sumSq += v * v
		}
		mean := sum / float64(rows)
		sd := math.Sqrt(sumSq/float64(rows) - mean*mean)
		if math.Abs(norm.At(0, j)-mean) > 1e-9 {
			t.Errorf("column %d stored mean %g, want %g", j, norm.At(0, j), mean)
		}
		if math.Abs(norm.At(1, j)-sd) > 1e-9 {
			t.Errorf("column %d stored sd %g, want %g", j, norm.At(1, j), sd)
		}
	}
}

func TestFold_RotateThenUndoRecoversSample(t *testing.T) {
	folder := filepath.Join(t.TempDir(), "repo")
	sample := testSample(10, 2, 1)
	r, err := CreateRepository(folder, sample, 5)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.IntoKFolds(2); err != nil {
		t.Fatal(err)
	}

	theta := math.Pi / 3
	rotation := mat.NewDense(2, 2, []float64{
		math.Cos(theta), -math.Sin(theta),
		math.Sin(theta), math.Cos(theta),
	})
	if err := r.RotateFolds(rotation); err != nil {
		t.Fatal(err)
	}

	fold, err := r.Fold(0)
	if err != nil {
		t.Fatal(err)
	}
	undone, err := fold.UndoFrom(*fold.Data())
	if err != nil {
		t.Fatal(err)
	}
	for i, key := range undone.Index.Keys {
		original, err := strconv.Atoi(key[0])
		if err != nil {
			t.Fatalf("unexpected index key %q", key[0])
		}
		for j := 0; j < 3; j++ {
			want := sample.At(original, j)
			if got := undone.At(i, j); math.Abs(got-want) > 1e-8 {
				t.Errorf("row %d col %d: got %g, want %g", original, j, got, want)
			}
		}
	}
}

func TestFold_RotationAccumulates(t *testing.T) {
	folder := filepath.Join(t.TempDir(), "repo")
	r, err := CreateRepository(folder, testSample(10, 2, 1), 5)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.IntoKFolds(1); err != nil {
		t.Fatal(err)
	}
	fold, err := r.Fold(0)
	if err != nil {
		t.Fatal(err)
	}

	rotation := mat.NewDense(2, 2, []float64{0, -1, 1, 0})
	if err := fold.Rotate(rotation); err != nil {
		t.Fatal(err)
	}
	if err := fold.Rotate(rotation); err != nil {
		t.Fatal(err)
	}

	// Two quarter turns compose to a half turn.
	var product mat.Dense
	product.Mul(fold.Rotation().Values, fold.RotationInverse().Values)
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			want := 0.0
			if i == j {
				want = 1
			}
			if math.Abs(product.At(i, j)-want) > 1e-12 {
				t.Errorf("rotation times inverse is not identity at (%d,%d)", i, j)
			}
		}
	}
	if math.Abs(fold.Rotation().At(0, 0)-(-1)) > 1e-12 {
		t.Errorf("accumulated rotation (0,0) = %g, want -1", fold.Rotation().At(0, 0))
	}
}

func TestRotateFolds_NilIsNoOp(t *testing.T) {
	folder := filepath.Join(t.TempDir(), "repo")
	r, err := CreateRepository(folder, testSample(8, 2, 1), 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.IntoKFolds(1); err != nil {
		t.Fatal(err)
	}
	fold, err := r.Fold(0)
	if err != nil {
		t.Fatal(err)
	}
	before := fold.Data().Clone()

	if err := r.RotateFolds(nil); err != nil {
		t.Fatal(err)
	}
	reopened, err := r.Fold(0)
	if err != nil {
		t.Fatal(err)
	}
	rows, cols := before.Shape()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if before.At(i, j) != reopened.Data().At(i, j) {
				t.Fatalf("nil rotation changed data at (%d,%d)", i, j)
			}
		}
	}
}

func TestFold_RotateRejectsWrongShape(t *testing.T) {
	folder := filepath.Join(t.TempDir(), "repo")
	r, err := CreateRepository(folder, testSample(8, 2, 1), 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.IntoKFolds(1); err != nil {
		t.Fatal(err)
	}
	fold, err := r.Fold(0)
	if err != nil {
		t.Fatal(err)
	}
	if err := fold.Rotate(mat.NewDense(3, 3, nil)); err == nil {
		t.Fatal("expected a shape error for a 3x3 rotation of 2 inputs")
	}
}
