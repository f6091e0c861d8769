package config

import (
	"testing"

	"gpbench/internal/errors"
)

func TestLoad_RequiresRoot(t *testing.T) {
	t.Setenv("GPBENCH_ROOT", "")
	_, err := Load()
	if err == nil {
		t.Fatal("expected an error without GPBENCH_ROOT")
	}
	if errors.GetCode(err) != errors.CodeConfigInvalid {
		t.Errorf("expected CONFIG_INVALID, got %s", errors.GetCode(err))
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("GPBENCH_ROOT", "/tmp/bench")
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Sweep.Folds != -2 {
		t.Errorf("default folds %d, want -2", cfg.Sweep.Folds)
	}
	if cfg.Calibration.Parallel != 1 {
		t.Errorf("default parallelism %d, want 1", cfg.Calibration.Parallel)
	}
	if !cfg.Aggregation.IgnoreMissing {
		t.Error("missing fragments should be ignored by default")
	}
}

func TestLoad_ParsesLists(t *testing.T) {
	t.Setenv("GPBENCH_ROOT", "/tmp/bench")
	t.Setenv("GPBENCH_SAMPLE_SIZES", "100, 200,400")
	t.Setenv("GPBENCH_NOISE_MAGNITUDES", "0.05,0.1")
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Sweep.SampleSizes) != 3 || cfg.Sweep.SampleSizes[1] != 200 {
		t.Errorf("sample sizes %v", cfg.Sweep.SampleSizes)
	}
	if len(cfg.Sweep.NoiseMagnitudes) != 2 || cfg.Sweep.NoiseMagnitudes[0] != 0.05 {
		t.Errorf("noise magnitudes %v", cfg.Sweep.NoiseMagnitudes)
	}
}

func TestLoad_RejectsMalformedLists(t *testing.T) {
	t.Setenv("GPBENCH_ROOT", "/tmp/bench")
	t.Setenv("GPBENCH_SAMPLE_SIZES", "100,many")
	if _, err := Load(); err == nil {
		t.Fatal("expected an error for a malformed list")
	}
}

func TestLoad_RejectsZeroFolds(t *testing.T) {
	t.Setenv("GPBENCH_ROOT", "/tmp/bench")
	t.Setenv("GPBENCH_FOLDS", "0")
	if _, err := Load(); err == nil {
		t.Fatal("expected an error for K=0")
	}
}
