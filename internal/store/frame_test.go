package store

import (
	"testing"

	"gonum.org/v1/gonum/mat"
)

func sampleFrame() Frame {
	return Frame{
		Index: RangeIndex(2),
		Columns: TwoLevel([2]string{"", ""},
			[2]string{"Input", "X.0"}, [2]string{"Input", "X.1"}, [2]string{"Output", "Y.0"}),
		Values: mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6}),
	}
}

func TestColumnsWhere_MatchesFirstLevel(t *testing.T) {
	f := sampleFrame()
	inputs := f.ColumnsWhere("Input")
	if len(inputs) != 2 || inputs[0] != 0 || inputs[1] != 1 {
		t.Fatalf("expected Input columns [0 1], got %v", inputs)
	}
	if outputs := f.ColumnsWhere("Output"); len(outputs) != 1 || outputs[0] != 2 {
		t.Fatalf("expected Output columns [2], got %v", outputs)
	}
}

func TestSelectRows_KeepsIndexKeys(t *testing.T) {
	f := sampleFrame()
	selected := f.SelectRows([]int{1})
	if r, c := selected.Shape(); r != 1 || c != 3 {
		t.Fatalf("expected 1x3, got %dx%d", r, c)
	}
	if selected.Index.Keys[0][0] != "1" {
		t.Errorf("expected original index key %q, got %q", "1", selected.Index.Keys[0][0])
	}
	if selected.At(0, 2) != 6 {
		t.Errorf("expected value 6, got %v", selected.At(0, 2))
	}
}

func TestWithIndexLevels_PrependsTags(t *testing.T) {
	f := sampleFrame()
	tagged := f.WithIndexLevels([]string{"model", "fold"}, []string{"gpr.0", "2"})
	if tagged.Index.Levels() != 3 {
		t.Fatalf("expected 3 index levels, got %d", tagged.Index.Levels())
	}
	if tagged.Index.Names[0] != "model" || tagged.Index.Names[1] != "fold" {
		t.Errorf("unexpected level names %v", tagged.Index.Names)
	}
	for i, key := range tagged.Index.Keys {
		if key[0] != "gpr.0" || key[1] != "2" {
			t.Errorf("row %d missing tags: %v", i, key)
		}
	}
	// The original frame is untouched.
	if f.Index.Levels() != 1 {
		t.Errorf("tagging must not mutate the source frame")
	}
}

func TestConcatRows_PreservesOrder(t *testing.T) {
	a := sampleFrame()
	b := sampleFrame()
	merged, err := ConcatRows(a, b)
	if err != nil {
		t.Fatalf("concat failed: %v", err)
	}
	if r, _ := merged.Shape(); r != 4 {
		t.Fatalf("expected 4 rows, got %d", r)
	}
	if merged.At(0, 0) != 1 || merged.At(2, 0) != 1 {
		t.Errorf("rows out of order after concat")
	}
}

func TestConcatRows_RejectsDifferingColumns(t *testing.T) {
	a := sampleFrame()
	b := FrameOf([]string{"other"}, []float64{1}, []float64{2})
	if _, err := ConcatRows(a, b); err == nil {
		t.Fatal("expected an error for differing columns")
	}
}
