package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"gpbench/internal"
	"gpbench/internal/config"
	"gpbench/internal/gpr"
	"gpbench/internal/sample"
	"gpbench/internal/sweep"
)

func main() {
	// Load environment variables from .env file if present
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	driver := sweep.New(sweep.Config{
		Root:            cfg.Paths.Root,
		Functions:       sample.Vector{sample.Ishigami},
		Folds:           cfg.Sweep.Folds,
		InputDims:       cfg.Sweep.InputDims,
		SampleSizes:     cfg.Sweep.SampleSizes,
		NoiseMagnitudes: cfg.Sweep.NoiseMagnitudes,
		Rotations:       cfg.Sweep.Rotations,
		GPR:             gpr.Options{MaxIterations: cfg.Calibration.MaxIterations},
		GSASamples:      cfg.Aggregation.GSASamples,
		ErrorCalculated: true,
		IgnoreMissing:   cfg.Aggregation.IgnoreMissing,
		Parallel:        cfg.Calibration.Parallel,
		ExcelFile:       cfg.Paths.ExcelFile,
		Seed:            cfg.Sweep.Seed,
	})
	if err := driver.Run(ctx); err != nil {
		log.Fatalf("Benchmark failed: %v", err)
	}
	internal.DefaultLogger.Info("benchmark complete, results under %s", cfg.Paths.Root)
}
