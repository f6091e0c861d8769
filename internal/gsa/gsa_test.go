package gsa

import (
	"context"
	"path/filepath"
	"testing"

	"gpbench/internal/gpr"
	"gpbench/internal/testkit"
)

// fittedModel calibrates a GPR on a fixture whose single output depends on
// X.0 only, giving the analyses a known sensitivity structure.
func fittedModel(t *testing.T) *gpr.GPR {
	t.Helper()
	kit := testkit.NewTestKit(9)
	r, err := kit.CreateFoldedRepository(filepath.Join(t.TempDir(), "repo"), 40, 3, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	fold, err := r.Fold(0)
	if err != nil {
		t.Fatal(err)
	}
	model, err := gpr.Run(context.Background(), fold, gpr.Options{})
	if err != nil {
		t.Fatal(err)
	}
	return model
}

func TestRun_FirstOrderFindsTheActiveInput(t *testing.T) {
	model := fittedModel(t)
	analysis, err := Run(context.Background(), model, KindFirstOrder,
		Options{Samples: 1024, Seed: 1})
	if err != nil {
		t.Fatal(err)
	}

	s := analysis.S()
	if r, c := s.Shape(); r != 1 || c != 3 {
		t.Fatalf("S is %dx%d, want 1x3", r, c)
	}
	if s.At(0, 0) < 0.4 {
		t.Errorf("S for the active input is %g, want dominant", s.At(0, 0))
	}
	for d := 1; d < 3; d++ {
		if s.At(0, d) > 0.25 {
			t.Errorf("S for inactive input %d is %g, want near zero", d, s.At(0, d))
		}
	}
	if analysis.V().At(0, 0) <= 0 {
		t.Error("total variance must be positive")
	}
}

func TestRun_TotalDominatesFirstOrderOnActiveInput(t *testing.T) {
	model := fittedModel(t)
	total, err := Run(context.Background(), model, KindTotal, Options{Samples: 1024, Seed: 1})
	if err != nil {
		t.Fatal(err)
	}
	if total.S().At(0, 0) < 0.4 {
		t.Errorf("total index for the active input is %g", total.S().At(0, 0))
	}
	if total.S().At(0, 1) > 0.3 {
		t.Errorf("total index for an inactive input is %g", total.S().At(0, 1))
	}
}

func TestRun_ClosedIndicesAreCumulative(t *testing.T) {
	model := fittedModel(t)
	closed, err := Run(context.Background(), model, KindClosed, Options{Samples: 1024, Seed: 1})
	if err != nil {
		t.Fatal(err)
	}
	s := closed.S()
	// Adding inputs to the closed set never removes explained variance,
	// up to Monte Carlo error.
	for d := 1; d < 3; d++ {
		if s.At(0, d) < s.At(0, d-1)-0.15 {
			t.Errorf("closed index dropped from %g to %g at input %d", s.At(0, d-1), s.At(0, d), d)
		}
	}
}

func TestRun_ErrorTablesOnlyWhenRequested(t *testing.T) {
	model := fittedModel(t)
	_, err := Run(context.Background(), model, KindFirstOrder,
		Options{Samples: 512, Seed: 1, ErrorCalculated: true})
	if err != nil {
		t.Fatal(err)
	}

	withErrors, err := Open(model.Folder(), KindFirstOrder, 3, 1, true)
	if err != nil {
		t.Fatal(err)
	}
	names := withErrors.model.Data().Schema().Names()
	if len(names) != 4 {
		t.Fatalf("expected S, V, T, W tables, got %v", names)
	}

	plain, err := Run(context.Background(), model, KindTotal, Options{Samples: 512, Seed: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(plain.model.Data().Schema().Names()) != 2 {
		t.Fatal("expected only S and V without error calculation")
	}
}

func TestRun_RefusesUncalibratedModel(t *testing.T) {
	kit := testkit.NewTestKit(9)
	r, err := kit.CreateFoldedRepository(filepath.Join(t.TempDir(), "repo"), 20, 2, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	fold, err := r.Fold(0)
	if err != nil {
		t.Fatal(err)
	}
	model, err := gpr.Create(fold, gpr.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Run(context.Background(), model, KindFirstOrder, Options{Samples: 64}); err == nil {
		t.Fatal("expected an error for an uncalibrated model")
	}
}
